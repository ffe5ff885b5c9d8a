package service

import (
	"context"
	"sync"
)

// ExportedRunningGuard is an exported alias so _test packages can test the guard.
type ExportedRunningGuard = runningTasksGuard

// ─────────────────────────────────────────────────────────────
// runningTasksGuard: tracks in-flight task runs
// ─────────────────────────────────────────────────────────────

// runningTasksGuard counts the runs in flight per task ID. Exclusive
// acquisition fails while another run of the same task is active.
type runningTasksGuard struct {
	mu      sync.Mutex
	running map[string]int
	wg      sync.WaitGroup
}

// TryLock marks one run of taskID as started. With exclusive set it returns
// false, and records nothing, if taskID already has a run in flight.
func (g *runningTasksGuard) TryLock(taskID string, exclusive bool) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.running == nil {
		g.running = make(map[string]int)
	}
	if exclusive && g.running[taskID] > 0 {
		return false
	}
	g.running[taskID]++
	g.wg.Add(1)
	return true
}

// Unlock marks one run as finished. Must be called after TryLock returns true.
func (g *runningTasksGuard) Unlock(taskID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.running[taskID] <= 1 {
		delete(g.running, taskID)
	} else {
		g.running[taskID]--
	}
	g.wg.Done()
}

// Running reports how many runs of taskID are in flight.
func (g *runningTasksGuard) Running(taskID string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.running[taskID]
}

// WaitAll blocks until all in-flight runs complete or ctx is cancelled.
func (g *runningTasksGuard) WaitAll(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
