// Package app wires storage, the ETL engine, the service layer and the
// scheduler into one process.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"etlplanner/internal/config"
	"etlplanner/internal/domain"
	"etlplanner/internal/etl"
	"etlplanner/internal/etl/sinks"
	"etlplanner/internal/etl/sources"
	"etlplanner/internal/metrics"
	"etlplanner/internal/metrics/prom"
	"etlplanner/internal/recurrence"
	"etlplanner/internal/scheduler"
	"etlplanner/internal/secret"
	"etlplanner/internal/service"
	"etlplanner/internal/storage"
)

// shutdownGrace is how long Serve waits for in-flight runs after a stop signal.
const shutdownGrace = 30 * time.Second

// App holds the long-lived components of etlplanner.
type App struct {
	cfg config.Config
	log *slog.Logger

	db      *storage.DB
	tasks   *storage.TaskStore
	conns   *storage.ConnectionStore
	history *storage.HistoryStore
	secrets secret.SecretStore

	registry *etl.Registry
	calc     recurrence.Calculator
	metrics  metrics.Recorder
	prom     *prom.Backend // nil when metrics are disabled

	svc *service.PipelineService
}

// New opens the store and builds every component from cfg.
func New(cfg config.Config, log *slog.Logger) (*App, error) {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	calc, err := recurrence.New(cfg.Scheduler.Recurrence)
	if err != nil {
		return nil, err
	}

	db, err := storage.New(cfg.DatabasePath())
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	a := &App{
		cfg:      cfg,
		log:      log,
		db:       db,
		tasks:    storage.NewTaskStore(db),
		conns:    storage.NewConnectionStore(db),
		history:  storage.NewHistoryStore(db),
		secrets:  secret.NewEnvStore(),
		registry: etl.NewRegistry(),
		calc:     calc,
		metrics:  metrics.Nop{},
	}

	if cfg.Metrics.Listen != "" || cfg.Metrics.Pushgateway != "" {
		b, err := prom.New("etlplanner", cfg.Metrics.Pushgateway)
		if err != nil {
			db.Close()
			return nil, err
		}
		a.prom, a.metrics = b, b
	}

	etl.RegisterBuiltinTransforms(a.registry)
	sources.Register(a.registry, a.secrets, log.With("component", "extract"))
	sinks.Register(a.registry, sinks.Options{
		Secrets:       a.secrets,
		Connections:   a.conns,
		AtomicReplace: cfg.Load.AtomicReplace,
		Metrics:       a.metrics,
		Logger:        log.With("component", "load"),
	})

	runner := &etl.Runner{
		Steps:   &etl.Executor{Registry: a.registry, Connections: a.conns},
		History: a.history,
		Metrics: a.metrics,
		Logger:  log.With("component", "runner"),
	}
	svcLog := log.With("component", "service")
	a.svc = service.NewPipelineService(service.Deps{
		Tasks:        a.tasks,
		Connections:  a.conns,
		History:      a.history,
		Runner:       runner,
		Registry:     a.registry,
		Secrets:      a.secrets,
		Emitter:      service.LogEmitter{Logger: svcLog},
		Logger:       svcLog,
		AllowOverlap: cfg.Scheduler.AllowOverlap,
		RunTimeout:   cfg.Scheduler.RunTimeout,
	})
	return a, nil
}

// Service returns the pipeline service.
func (a *App) Service() *service.PipelineService { return a.svc }

// Calculator returns the configured recurrence calculator.
func (a *App) Calculator() recurrence.Calculator { return a.calc }

// Registry returns the capability registry.
func (a *App) Registry() *etl.Registry { return a.registry }

// Serve runs the scheduler, the file watchers and the metrics endpoint until
// ctx is done, then waits up to shutdownGrace for in-flight runs.
func (a *App) Serve(ctx context.Context) error {
	sched := scheduler.New(a.tasks, a.svc.ScheduledRunner(),
		scheduler.WithInterval(a.cfg.Scheduler.PollInterval),
		scheduler.WithCalculator(a.calc),
		scheduler.WithLogger(a.log.With("component", "scheduler")),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sched.Run(gctx)
	})
	g.Go(func() error {
		a.svc.RestartWatchers(gctx)
		<-gctx.Done()
		a.svc.Stop()
		return nil
	})
	if a.prom != nil && a.cfg.Metrics.Listen != "" {
		srv := &http.Server{
			Addr:              a.cfg.Metrics.Listen,
			Handler:           a.metricsMux(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			a.log.Info("metrics listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutCtx)
		})
	}

	err := g.Wait()
	sched.Stop()

	waitCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if werr := sched.Wait(waitCtx); werr != nil {
		a.log.Warn("shutdown with runs still in flight", "error", werr)
	}
	if werr := a.svc.WaitRunning(waitCtx); werr != nil {
		a.log.Warn("shutdown with manual runs still in flight", "error", werr)
	}
	return err
}

func (a *App) metricsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.prom.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

// RunOnce runs one task by ID or name and pushes metrics when a Pushgateway is configured.
func (a *App) RunOnce(ctx context.Context, ref string) error {
	task, err := a.findTask(ctx, ref)
	if err != nil {
		return err
	}
	runErr := a.svc.RunTask(ctx, task)
	if err := a.metrics.Flush(); err != nil {
		a.log.Warn("flush metrics", "error", err)
	}
	return runErr
}

func (a *App) findTask(ctx context.Context, ref string) (*domain.Task, error) {
	task, err := a.tasks.GetTask(ctx, ref)
	if err == nil || !errors.Is(err, domain.ErrNotFound) {
		return task, err
	}
	tasks, lerr := a.tasks.ListTasks(ctx)
	if lerr != nil {
		return nil, lerr
	}
	for i := range tasks {
		if tasks[i].Name == ref {
			return &tasks[i], nil
		}
	}
	return nil, fmt.Errorf("task %q: %w", ref, domain.ErrNotFound)
}

// CheckResult is the outcome of checking one connection or task.
type CheckResult struct {
	Kind string
	Name string
	Err  error
}

// Check pings every connection and computes the next trigger of every task.
func (a *App) Check(ctx context.Context) ([]CheckResult, error) {
	conns, err := a.svc.ListConnections(ctx)
	if err != nil {
		return nil, err
	}
	var out []CheckResult
	for _, c := range conns {
		out = append(out, CheckResult{Kind: "connection", Name: c.Name, Err: a.svc.TestConnection(ctx, c.ID)})
	}
	tasks, err := a.svc.ListTasks(ctx)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	for _, t := range tasks {
		res := CheckResult{Kind: "task", Name: t.Name}
		if _, err := a.calc.Next(t.Recurrence, now); err != nil {
			res.Err = err
		} else {
			res.Err = a.checkSteps(ctx, t)
		}
		out = append(out, res)
	}
	return out, nil
}

// checkSteps verifies that every step's connection exists and its kind is registered.
func (a *App) checkSteps(ctx context.Context, t domain.Task) error {
	for _, step := range t.OrderedSteps() {
		if step.Kind == domain.StepKindTransform {
			if err := step.Validate(); err != nil {
				return err
			}
			if _, err := a.registry.Transformer(step.Transform.Kind); err != nil {
				return fmt.Errorf("step %q: %w", step.Name, err)
			}
			continue
		}
		conn, err := a.conns.GetConnection(ctx, step.ConnectionID)
		if err != nil {
			return fmt.Errorf("step %q: connection %s: %w", step.Name, step.ConnectionID, err)
		}
		switch step.Kind {
		case domain.StepKindExtract:
			_, err = a.registry.Extractor(conn.Kind)
		case domain.StepKindLoad:
			_, err = a.registry.Loader(conn.Kind)
		}
		if err != nil {
			return fmt.Errorf("step %q: %w", step.Name, err)
		}
	}
	return nil
}

// Shutdown stops watchers and closes the store.
func (a *App) Shutdown() {
	if a.svc != nil {
		a.svc.Stop()
	}
	if a.db != nil {
		a.db.Close()
	}
}
