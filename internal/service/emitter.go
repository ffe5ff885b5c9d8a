package service

import (
	"context"
	"log/slog"
	"sync"
)

// ─────────────────────────────────────────────────────────────
// EventEmitter: decouples services from their observers
// ─────────────────────────────────────────────────────────────

// Events emitted by PipelineService.
const (
	EventTaskStarted   = "task:started"
	EventTaskCompleted = "task:completed"
	EventTaskFailed    = "task:failed"
)

// EventEmitter receives lifecycle events from services. The CLI logs them;
// tests record them with MockEmitter.
type EventEmitter interface {
	Emit(ctx context.Context, event string, data any)
}

// LogEmitter writes every event as a structured log line.
type LogEmitter struct {
	Logger *slog.Logger
}

func (e LogEmitter) Emit(ctx context.Context, event string, data any) {
	if e.Logger == nil {
		return
	}
	e.Logger.DebugContext(ctx, "event", "event", event, "data", data)
}

// MockEmitter is a test-friendly EventEmitter that records all calls.
type MockEmitter struct {
	mu     sync.Mutex
	Events []EmittedEvent
}

// EmittedEvent holds a single recorded emission for test assertions.
type EmittedEvent struct {
	Event string
	Data  any
}

func (m *MockEmitter) Emit(_ context.Context, event string, data any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Events = append(m.Events, EmittedEvent{Event: event, Data: data})
}

// Names returns the recorded event names in emission order.
func (m *MockEmitter) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, len(m.Events))
	for i, e := range m.Events {
		names[i] = e.Event
	}
	return names
}

// Recorded returns a copy of the recorded events.
func (m *MockEmitter) Recorded() []EmittedEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]EmittedEvent(nil), m.Events...)
}
