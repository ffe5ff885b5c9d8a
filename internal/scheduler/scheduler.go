// Package scheduler triggers enabled tasks when their recurrence is due.
//
// A single loop polls the task store at a fixed interval. A task seen for the
// first time only gets its next due time recorded; it runs on a later cycle
// once that time has passed. Due tasks run in their own goroutines so a slow
// run never delays the loop or other tasks.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"etlplanner/internal/domain"
	"etlplanner/internal/recurrence"
)

// DefaultInterval is the polling interval when none is configured.
const DefaultInterval = 30 * time.Second

// TaskRunner runs one task to completion.
type TaskRunner interface {
	RunTask(ctx context.Context, task *domain.Task) error
}

// RunnerFunc adapts a function to TaskRunner.
type RunnerFunc func(ctx context.Context, task *domain.Task) error

func (f RunnerFunc) RunTask(ctx context.Context, task *domain.Task) error { return f(ctx, task) }

type entry struct {
	expr string
	due  time.Time
}

// Scheduler polls for due tasks. Create it with New.
type Scheduler struct {
	tasks    domain.TaskStore
	runner   TaskRunner
	calc     recurrence.Calculator
	interval time.Duration
	log      *slog.Logger
	now      func() time.Time

	mu   sync.Mutex
	next map[string]entry

	runs     sync.WaitGroup
	stop     chan struct{}
	stopOnce sync.Once
}

// Option configures a Scheduler.
type Option func(*Scheduler)

func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

func WithCalculator(c recurrence.Calculator) Option {
	return func(s *Scheduler) {
		if c != nil {
			s.calc = c
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.log = l
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// New returns a scheduler that reads tasks from tasks and runs them with runner.
func New(tasks domain.TaskStore, runner TaskRunner, opts ...Option) *Scheduler {
	s := &Scheduler{
		tasks:    tasks,
		runner:   runner,
		calc:     recurrence.MinuteCalculator{},
		interval: DefaultInterval,
		log:      slog.New(slog.DiscardHandler),
		now:      time.Now,
		next:     map[string]entry{},
		stop:     make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Run polls until ctx is done or Stop is called. Triggered runs keep going
// after Run returns; use Wait to block on them.
func (s *Scheduler) Run(ctx context.Context) error {
	s.log.Info("scheduler started", "interval", s.interval)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		s.Tick(ctx)
		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopped", "reason", ctx.Err())
			return nil
		case <-s.stop:
			s.log.Info("scheduler stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Stop ends the polling loop. It is safe to call more than once.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// Wait blocks until every triggered run has returned or ctx is done.
func (s *Scheduler) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.runs.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Tick runs one polling cycle. Failures are logged; they never escape.
func (s *Scheduler) Tick(ctx context.Context) {
	defer func() {
		if p := recover(); p != nil {
			s.log.Error("scheduler cycle panicked", "panic", p)
		}
	}()

	tasks, err := s.tasks.ListEnabledTasks(ctx)
	if err != nil {
		s.log.Error("list enabled tasks", "error", err)
		return
	}
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]struct{}, len(tasks))
	for i := range tasks {
		task := tasks[i]
		seen[task.ID] = struct{}{}

		e, tracked := s.next[task.ID]
		if tracked && e.expr == task.Recurrence && now.Before(e.due) {
			continue
		}

		due, err := s.calc.Next(task.Recurrence, now)
		if err != nil {
			s.log.Warn("skip task with bad recurrence", "task_id", task.ID, "task", task.Name,
				"recurrence", task.Recurrence, "error", err)
			delete(s.next, task.ID)
			continue
		}
		s.next[task.ID] = entry{expr: task.Recurrence, due: due}

		if !tracked || e.expr != task.Recurrence {
			s.log.Debug("task scheduled", "task_id", task.ID, "next_run", due)
			continue
		}
		s.log.Info("task due", "task_id", task.ID, "task", task.Name, "next_run", due)
		s.trigger(ctx, &task)
	}

	for id := range s.next {
		if _, ok := seen[id]; !ok {
			delete(s.next, id)
		}
	}
}

func (s *Scheduler) trigger(ctx context.Context, task *domain.Task) {
	runCtx := context.WithoutCancel(ctx)
	s.runs.Add(1)
	go func() {
		defer s.runs.Done()
		defer func() {
			if p := recover(); p != nil {
				s.log.Error("scheduled run panicked", "task_id", task.ID, "panic", p)
			}
		}()
		if err := s.runner.RunTask(runCtx, task); err != nil {
			s.log.Error("scheduled run failed", "task_id", task.ID, "task", task.Name, "error", err)
		}
	}()
}

// NextRuns returns a snapshot of the tracked due times.
func (s *Scheduler) NextRuns() map[string]time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]time.Time, len(s.next))
	for id, e := range s.next {
		out[id] = e.due
	}
	return out
}
