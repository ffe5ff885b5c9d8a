package service_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"etlplanner/internal/domain"
	"etlplanner/internal/etl"
	"etlplanner/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ─────────────────────────────────────────────────────────────
// Fakes
// ─────────────────────────────────────────────────────────────

type memTasks struct {
	mu    sync.Mutex
	tasks map[string]domain.Task
}

func newMemTasks(tasks ...domain.Task) *memTasks {
	m := &memTasks{tasks: map[string]domain.Task{}}
	for _, t := range tasks {
		m.tasks[t.ID] = t
	}
	return m
}

func (m *memTasks) GetTask(_ context.Context, id string) (*domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &t, nil
}

func (m *memTasks) ListTasks(context.Context) ([]domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Task
	for _, t := range m.tasks {
		out = append(out, t)
	}
	return out, nil
}

func (m *memTasks) ListEnabledTasks(ctx context.Context) ([]domain.Task, error) {
	all, _ := m.ListTasks(ctx)
	var out []domain.Task
	for _, t := range all {
		if t.Enabled {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *memTasks) CreateTask(_ context.Context, t *domain.Task) error {
	if err := t.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[t.ID] = *t
	return nil
}

func (m *memTasks) UpdateTask(ctx context.Context, t *domain.Task) error {
	if _, err := m.GetTask(ctx, t.ID); err != nil {
		return err
	}
	return m.CreateTask(ctx, t)
}

func (m *memTasks) SetTaskEnabled(_ context.Context, id string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return domain.ErrNotFound
	}
	t.Enabled = enabled
	m.tasks[id] = t
	return nil
}

func (m *memTasks) DeleteTask(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tasks, id)
	return nil
}

type memConns struct {
	conns map[string]domain.Connection
}

func (m *memConns) GetConnection(_ context.Context, id string) (*domain.Connection, error) {
	c, ok := m.conns[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &c, nil
}

func (m *memConns) ListConnections(context.Context) ([]domain.Connection, error) {
	var out []domain.Connection
	for _, c := range m.conns {
		out = append(out, c)
	}
	return out, nil
}

func (m *memConns) CreateConnection(_ context.Context, c *domain.Connection) error {
	m.conns[c.ID] = *c
	return nil
}

func (m *memConns) UpdateConnection(ctx context.Context, c *domain.Connection) error {
	return m.CreateConnection(ctx, c)
}

func (m *memConns) DeleteConnection(_ context.Context, id string) error {
	delete(m.conns, id)
	return nil
}

type runnerFunc func(ctx context.Context, task *domain.Task) error

func (f runnerFunc) Run(ctx context.Context, task *domain.Task) error { return f(ctx, task) }

func newService(t *testing.T, tasks *memTasks, run runnerFunc, allowOverlap bool) (*service.PipelineService, *service.MockEmitter) {
	t.Helper()
	em := &service.MockEmitter{}
	svc := service.NewPipelineService(service.Deps{
		Tasks:        tasks,
		Connections:  &memConns{conns: map[string]domain.Connection{}},
		Runner:       run,
		Registry:     etl.NewRegistry(),
		Emitter:      em,
		AllowOverlap: allowOverlap,
	})
	t.Cleanup(svc.Stop)
	return svc, em
}

func sampleTask(id string) domain.Task {
	return domain.Task{ID: id, Name: "Sync " + id, Recurrence: "*/15 * * * *", Enabled: true}
}

// ─────────────────────────────────────────────────────────────
// Runs
// ─────────────────────────────────────────────────────────────

func TestRunTaskEmitsLifecycleEvents(t *testing.T) {
	task := sampleTask("t1")
	svc, em := newService(t, newMemTasks(task), func(context.Context, *domain.Task) error { return nil }, true)

	require.NoError(t, svc.RunTask(context.Background(), &task))
	assert.Equal(t, []string{service.EventTaskStarted, service.EventTaskCompleted}, em.Names())

	ev, ok := em.Events[1].Data.(service.TaskEvent)
	require.True(t, ok)
	assert.Equal(t, "t1", ev.TaskID)
	assert.Equal(t, "manual", ev.Trigger)
	assert.Empty(t, ev.Error)
}

func TestRunTaskFailureEmitsFailed(t *testing.T) {
	task := sampleTask("t1")
	boom := errors.New("connection refused")
	svc, em := newService(t, newMemTasks(task), func(context.Context, *domain.Task) error { return boom }, true)

	err := svc.RunTask(context.Background(), &task)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{service.EventTaskStarted, service.EventTaskFailed}, em.Names())
	assert.Equal(t, "connection refused", em.Events[1].Data.(service.TaskEvent).Error)
}

func TestRunTaskByIDMissing(t *testing.T) {
	svc, _ := newService(t, newMemTasks(), func(context.Context, *domain.Task) error { return nil }, true)
	err := svc.RunTaskByID(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestOverlapGuardRejectsConcurrentRun(t *testing.T) {
	task := sampleTask("t1")
	release := make(chan struct{})
	started := make(chan struct{})
	svc, _ := newService(t, newMemTasks(task), func(context.Context, *domain.Task) error {
		close(started)
		<-release
		return nil
	}, false)

	errc := make(chan error, 1)
	go func() { errc <- svc.RunTask(context.Background(), &task) }()
	<-started
	assert.True(t, svc.IsRunning("t1"))

	err := svc.RunTask(context.Background(), &task)
	assert.ErrorIs(t, err, service.ErrAlreadyRunning)

	close(release)
	require.NoError(t, <-errc)
	assert.False(t, svc.IsRunning("t1"))
}

func TestOverlapAllowedByDefault(t *testing.T) {
	task := sampleTask("t1")
	release := make(chan struct{})
	var active atomic.Int32
	svc, _ := newService(t, newMemTasks(task), func(context.Context, *domain.Task) error {
		active.Add(1)
		<-release
		return nil
	}, true)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, svc.RunTask(context.Background(), &task))
		}()
	}
	require.Eventually(t, func() bool { return active.Load() == 2 }, time.Second, 5*time.Millisecond)
	close(release)
	wg.Wait()
}

func TestWaitRunningBlocksUntilRunsFinish(t *testing.T) {
	task := sampleTask("t1")
	release := make(chan struct{})
	started := make(chan struct{})
	svc, _ := newService(t, newMemTasks(task), func(context.Context, *domain.Task) error {
		close(started)
		<-release
		return nil
	}, true)

	go func() { _ = svc.RunTask(context.Background(), &task) }()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, svc.WaitRunning(ctx), context.DeadlineExceeded)

	close(release)
	ctx2, cancel2 := context.WithTimeout(context.Background(), time.Second)
	defer cancel2()
	assert.NoError(t, svc.WaitRunning(ctx2))
}

func TestWaitRunningImmediateWhenIdle(t *testing.T) {
	svc, _ := newService(t, newMemTasks(), nil, true)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	assert.NoError(t, svc.WaitRunning(ctx))
}

func TestScheduledRunnerTagsTrigger(t *testing.T) {
	task := sampleTask("t1")
	svc, em := newService(t, newMemTasks(task), func(context.Context, *domain.Task) error { return nil }, true)

	require.NoError(t, svc.ScheduledRunner().RunTask(context.Background(), &task))
	assert.Equal(t, "schedule", em.Events[0].Data.(service.TaskEvent).Trigger)
}

// ─────────────────────────────────────────────────────────────
// CRUD and connections
// ─────────────────────────────────────────────────────────────

func TestCreateTaskValidates(t *testing.T) {
	svc, _ := newService(t, newMemTasks(), nil, true)
	err := svc.CreateTask(context.Background(), &domain.Task{ID: "x"})
	assert.ErrorIs(t, err, domain.ErrInvalid)
}

func TestTestConnectionCSV(t *testing.T) {
	dir := t.TempDir()
	conns := &memConns{conns: map[string]domain.Connection{
		"ok":   {ID: "ok", Name: "out", Kind: domain.ConnectionKindCSV, Params: domain.ConnectionParams{Path: dir}},
		"gone": {ID: "gone", Name: "gone", Kind: domain.ConnectionKindCSV, Params: domain.ConnectionParams{Path: filepath.Join(dir, "missing")}},
	}}
	svc := service.NewPipelineService(service.Deps{Tasks: newMemTasks(), Connections: conns})

	assert.NoError(t, svc.TestConnection(context.Background(), "ok"))
	assert.Error(t, svc.TestConnection(context.Background(), "gone"))
	assert.ErrorIs(t, svc.TestConnection(context.Background(), "none"), domain.ErrNotFound)
}

func TestTestConnectionSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "src.db")
	conns := &memConns{conns: map[string]domain.Connection{
		"db": {ID: "db", Name: "src", Kind: domain.ConnectionKindSQLite, Params: domain.ConnectionParams{Path: path}},
	}}
	svc := service.NewPipelineService(service.Deps{Tasks: newMemTasks(), Connections: conns})
	assert.NoError(t, svc.TestConnection(context.Background(), "db"))
}

func TestCapabilitiesWithoutRegistry(t *testing.T) {
	svc := service.NewPipelineService(service.Deps{})
	assert.Empty(t, svc.Capabilities().Extract)
}

// ─────────────────────────────────────────────────────────────
// Watchers
// ─────────────────────────────────────────────────────────────

func TestWatchedFileTriggersRun(t *testing.T) {
	dir := t.TempDir()
	watched := filepath.Join(dir, "orders.csv")
	require.NoError(t, os.WriteFile(watched, []byte("id\n"), 0o644))

	task := sampleTask("t1")
	task.WatchPath = watched
	var runs atomic.Int32
	svc, em := newService(t, newMemTasks(task), func(context.Context, *domain.Task) error {
		runs.Add(1)
		return nil
	}, true)

	svc.RestartWatchers(context.Background())
	for i := 0; i < 3; i++ {
		require.NoError(t, os.WriteFile(watched, []byte("id\n1\n"), 0o644))
	}

	require.Eventually(t, func() bool { return runs.Load() == 1 }, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, "watch", em.Recorded()[0].Data.(service.TaskEvent).Trigger)
}

func TestStopIsIdempotent(t *testing.T) {
	task := sampleTask("t1")
	task.WatchPath = filepath.Join(t.TempDir(), "in.json")
	svc, _ := newService(t, newMemTasks(task), nil, true)

	svc.RestartWatchers(context.Background())
	svc.Stop()
	svc.Stop()
}
