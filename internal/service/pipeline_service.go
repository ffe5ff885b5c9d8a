package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"etlplanner/internal/dbclient"
	"etlplanner/internal/domain"
	"etlplanner/internal/etl"
	"etlplanner/internal/scheduler"
	"etlplanner/internal/secret"
)

// ─────────────────────────────────────────────────────────────
// Pipeline Service: runs, CRUD and file triggers
// ─────────────────────────────────────────────────────────────

// ErrAlreadyRunning is returned when overlap is disallowed and the task
// already has a run in flight.
var ErrAlreadyRunning = errors.New("task is already running")

// watchDebounce is how long a watched file must stay quiet before its task runs.
const watchDebounce = 500 * time.Millisecond

// TaskRepository is the task storage the service needs. *storage.TaskStore implements it.
type TaskRepository interface {
	domain.TaskStore
	ListTasks(ctx context.Context) ([]domain.Task, error)
	CreateTask(ctx context.Context, task *domain.Task) error
	UpdateTask(ctx context.Context, task *domain.Task) error
	SetTaskEnabled(ctx context.Context, id string, enabled bool) error
	DeleteTask(ctx context.Context, id string) error
}

// ConnectionRepository is the connection storage the service needs.
type ConnectionRepository interface {
	domain.ConnectionStore
	ListConnections(ctx context.Context) ([]domain.Connection, error)
	CreateConnection(ctx context.Context, c *domain.Connection) error
	UpdateConnection(ctx context.Context, c *domain.Connection) error
	DeleteConnection(ctx context.Context, id string) error
}

// HistoryReader lists past runs.
type HistoryReader interface {
	ListHistory(ctx context.Context, taskID string, limit int) ([]domain.ExecutionRecord, error)
}

// TaskExecutor runs one task to completion. *etl.Runner implements it.
type TaskExecutor interface {
	Run(ctx context.Context, task *domain.Task) error
}

// Deps are the collaborators of a PipelineService.
type Deps struct {
	Tasks       TaskRepository
	Connections ConnectionRepository
	History     HistoryReader
	Runner      TaskExecutor
	Registry    *etl.Registry
	Secrets     secret.SecretStore
	Emitter     EventEmitter
	Logger      *slog.Logger
	// AllowOverlap lets a task start while an earlier run of it is still going.
	AllowOverlap bool
	// RunTimeout bounds a single run. Zero means no limit.
	RunTimeout time.Duration
}

// TaskEvent is the payload of the task:* events.
type TaskEvent struct {
	TaskID   string        `json:"taskId"`
	Task     string        `json:"task"`
	Trigger  string        `json:"trigger,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// PipelineService is the application layer shared by the scheduler, the CLI
// and the MCP server.
type PipelineService struct {
	d       Deps
	log     *slog.Logger
	running runningTasksGuard

	// watcher lifecycle
	mu          sync.Mutex
	watchCancel context.CancelFunc
	watcher     *fsnotify.Watcher
	watchDone   chan struct{}
}

// NewPipelineService creates a PipelineService ready for use.
func NewPipelineService(d Deps) *PipelineService {
	log := d.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	if d.Emitter == nil {
		d.Emitter = LogEmitter{Logger: log}
	}
	return &PipelineService{d: d, log: log}
}

// ── Run ────────────────────────────────────────────────────

// RunTask executes task synchronously and emits task:started followed by
// task:completed or task:failed. It satisfies scheduler.TaskRunner.
func (s *PipelineService) RunTask(ctx context.Context, task *domain.Task) error {
	return s.run(ctx, task, "manual")
}

// RunTaskByID loads the task and runs it.
func (s *PipelineService) RunTaskByID(ctx context.Context, id string) error {
	task, err := s.d.Tasks.GetTask(ctx, id)
	if err != nil {
		return err
	}
	return s.run(ctx, task, "manual")
}

// ScheduledRunner adapts the service for the scheduler, tagging events
// with the schedule trigger.
func (s *PipelineService) ScheduledRunner() scheduler.TaskRunner {
	return scheduledRunner{s}
}

type scheduledRunner struct{ s *PipelineService }

func (r scheduledRunner) RunTask(ctx context.Context, task *domain.Task) error {
	return r.s.run(ctx, task, "schedule")
}

func (s *PipelineService) run(ctx context.Context, task *domain.Task, trigger string) error {
	if !s.running.TryLock(task.ID, !s.d.AllowOverlap) {
		s.log.Warn("task run skipped", "task_id", task.ID, "task", task.Name, "reason", "already running")
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, task.ID)
	}
	defer s.running.Unlock(task.ID)

	if s.d.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.d.RunTimeout)
		defer cancel()
	}

	ev := TaskEvent{TaskID: task.ID, Task: task.Name, Trigger: trigger}
	s.d.Emitter.Emit(ctx, EventTaskStarted, ev)

	start := time.Now()
	err := s.d.Runner.Run(ctx, task)
	ev.Duration = time.Since(start)
	if err != nil {
		ev.Error = err.Error()
		s.d.Emitter.Emit(ctx, EventTaskFailed, ev)
		return err
	}
	s.d.Emitter.Emit(ctx, EventTaskCompleted, ev)
	return nil
}

// IsRunning reports whether task id has a run in flight.
func (s *PipelineService) IsRunning(id string) bool {
	return s.running.Running(id) > 0
}

// WaitRunning blocks until all running tasks finish or ctx is cancelled.
// Used for graceful shutdown.
func (s *PipelineService) WaitRunning(ctx context.Context) error {
	return s.running.WaitAll(ctx)
}

// ── Task CRUD ──────────────────────────────────────────────

func (s *PipelineService) CreateTask(ctx context.Context, task *domain.Task) error {
	if err := s.d.Tasks.CreateTask(ctx, task); err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	s.RestartWatchers(ctx)
	return nil
}

func (s *PipelineService) UpdateTask(ctx context.Context, task *domain.Task) error {
	if err := s.d.Tasks.UpdateTask(ctx, task); err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	s.RestartWatchers(ctx)
	return nil
}

func (s *PipelineService) SetTaskEnabled(ctx context.Context, id string, enabled bool) error {
	if err := s.d.Tasks.SetTaskEnabled(ctx, id, enabled); err != nil {
		return err
	}
	s.RestartWatchers(ctx)
	return nil
}

func (s *PipelineService) DeleteTask(ctx context.Context, id string) error {
	if err := s.d.Tasks.DeleteTask(ctx, id); err != nil {
		return err
	}
	s.RestartWatchers(ctx)
	return nil
}

func (s *PipelineService) GetTask(ctx context.Context, id string) (*domain.Task, error) {
	return s.d.Tasks.GetTask(ctx, id)
}

func (s *PipelineService) ListTasks(ctx context.Context) ([]domain.Task, error) {
	return s.d.Tasks.ListTasks(ctx)
}

// ListHistory returns the newest runs first. An empty taskID lists all tasks.
func (s *PipelineService) ListHistory(ctx context.Context, taskID string, limit int) ([]domain.ExecutionRecord, error) {
	return s.d.History.ListHistory(ctx, taskID, limit)
}

// Capabilities lists the registered extract, transform and load kinds.
func (s *PipelineService) Capabilities() etl.Capabilities {
	if s.d.Registry == nil {
		return etl.Capabilities{}
	}
	return s.d.Registry.Capabilities()
}

// ── Connection CRUD ────────────────────────────────────────

func (s *PipelineService) CreateConnection(ctx context.Context, c *domain.Connection) error {
	if err := s.d.Connections.CreateConnection(ctx, c); err != nil {
		return fmt.Errorf("create connection: %w", err)
	}
	return nil
}

func (s *PipelineService) UpdateConnection(ctx context.Context, c *domain.Connection) error {
	return s.d.Connections.UpdateConnection(ctx, c)
}

func (s *PipelineService) DeleteConnection(ctx context.Context, id string) error {
	return s.d.Connections.DeleteConnection(ctx, id)
}

func (s *PipelineService) GetConnection(ctx context.Context, id string) (*domain.Connection, error) {
	return s.d.Connections.GetConnection(ctx, id)
}

func (s *PipelineService) ListConnections(ctx context.Context) ([]domain.Connection, error) {
	return s.d.Connections.ListConnections(ctx)
}

// TestConnection checks that the connection is reachable. A csv connection
// only needs its directory to exist.
func (s *PipelineService) TestConnection(ctx context.Context, id string) error {
	conn, err := s.d.Connections.GetConnection(ctx, id)
	if err != nil {
		return err
	}
	if conn.Kind == domain.ConnectionKindCSV {
		info, err := os.Stat(conn.Params.Path)
		if err != nil {
			return fmt.Errorf("csv directory: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("csv directory: %s is not a directory", conn.Params.Path)
		}
		return nil
	}
	return dbclient.TestConnection(ctx, *conn, s.d.Secrets)
}

// ── File watchers ──────────────────────────────────────────

// RestartWatchers tears down the current watcher and rebuilds it from the
// enabled tasks that have a watch path. A write to a watched file runs its
// task once the file has been quiet for watchDebounce.
func (s *PipelineService) RestartWatchers(ctx context.Context) {
	s.stopWatchers()

	tasks, err := s.d.Tasks.ListEnabledTasks(ctx)
	if err != nil {
		s.log.Error("watcher: list tasks", "error", err)
		return
	}

	pathToTask := make(map[string]string)
	for _, t := range tasks {
		if t.WatchPath == "" {
			continue
		}
		absPath, err := filepath.Abs(t.WatchPath)
		if err != nil {
			s.log.Warn("watcher: bad path", "task_id", t.ID, "path", t.WatchPath, "error", err)
			continue
		}
		pathToTask[absPath] = t.ID
	}
	if len(pathToTask) == 0 {
		return
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		s.log.Error("watcher: create", "error", err)
		return
	}
	watchedDirs := make(map[string]bool)
	for absPath := range pathToTask {
		dir := filepath.Dir(absPath)
		if watchedDirs[dir] {
			continue
		}
		if err := watcher.Add(dir); err != nil {
			s.log.Warn("watcher: watch dir", "dir", dir, "error", err)
			continue
		}
		watchedDirs[dir] = true
	}

	watchCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	s.mu.Lock()
	s.watcher, s.watchCancel, s.watchDone = watcher, cancel, done
	s.mu.Unlock()

	go s.watchLoop(watchCtx, watcher, pathToTask, done)
	s.log.Info("watcher: watching files", "count", len(pathToTask))
}

func (s *PipelineService) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, pathToTask map[string]string, done chan struct{}) {
	defer close(done)
	timers := make(map[string]*time.Timer)
	defer func() {
		for _, t := range timers {
			t.Stop()
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			absPath, _ := filepath.Abs(event.Name)
			taskID, ok := pathToTask[absPath]
			if !ok {
				continue
			}
			if t, exists := timers[taskID]; exists {
				t.Stop()
			}
			timers[taskID] = time.AfterFunc(watchDebounce, func() {
				if ctx.Err() != nil {
					return
				}
				s.runWatched(ctx, taskID, absPath)
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			s.log.Warn("watcher: error", "error", err)
		}
	}
}

func (s *PipelineService) runWatched(ctx context.Context, taskID, path string) {
	task, err := s.d.Tasks.GetTask(ctx, taskID)
	if err != nil {
		s.log.Error("watcher: load task", "task_id", taskID, "error", err)
		return
	}
	s.log.Info("watcher: file changed", "path", path, "task_id", taskID)
	if err := s.run(context.WithoutCancel(ctx), task, "watch"); err != nil {
		s.log.Error("watcher: run failed", "task_id", taskID, "error", err)
	}
}

// Stop tears down the file watcher. It is safe to call more than once.
func (s *PipelineService) Stop() {
	s.stopWatchers()
}

func (s *PipelineService) stopWatchers() {
	s.mu.Lock()
	cancel, watcher, done := s.watchCancel, s.watcher, s.watchDone
	s.watchCancel, s.watcher, s.watchDone = nil, nil, nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if watcher != nil {
		watcher.Close()
	}
	if done != nil {
		<-done
	}
}
