package etl

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"etlplanner/internal/domain"
	"etlplanner/internal/metrics"
)

// ── Runner ─────────────────────────────────────────────────
// Runs a task's steps in order, feeding each step's output to the next,
// and brackets the run with exactly one history record.

// StepExecutor executes one step. *Executor implements it.
type StepExecutor interface {
	Execute(ctx context.Context, step domain.Step, input *Table) (*Table, error)
}

// Runner executes whole tasks.
type Runner struct {
	Steps   StepExecutor
	History domain.HistoryStore
	Metrics metrics.Recorder
	Logger  *slog.Logger
	Now     func() time.Time
}

// StepError is the failure of one step within a run.
type StepError struct {
	Order int
	Name  string
	Kind  domain.StepKind
	Err   error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %d %q (%s): %v", e.Order, e.Name, e.Kind, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Run executes task. The history record is closed with status success, or
// error and the failing step's message, and the step failure is returned.
func (r *Runner) Run(ctx context.Context, task *domain.Task) error {
	log := r.logger().With("task_id", task.ID, "task", task.Name)
	started := r.now()

	execID, err := r.History.LogExecutionStart(ctx, task.ID, started)
	if err != nil {
		return fmt.Errorf("open execution record: %w", err)
	}
	log.Info("task started", "execution_id", execID)

	runErr := r.runSteps(ctx, task, log)

	status, message := domain.ExecutionSuccess, ""
	if runErr != nil {
		status, message = domain.ExecutionError, runErr.Error()
	}
	// The record is closed even if the caller's context was cancelled mid-run.
	if err := r.History.LogExecutionEnd(context.WithoutCancel(ctx), execID, r.now(), status, message); err != nil {
		log.Error("close execution record", "execution_id", execID, "error", err)
		if runErr == nil {
			runErr = fmt.Errorf("close execution record: %w", err)
		}
	}

	elapsed := r.now().Sub(started)
	r.recorder().RecordRun(task.ID, runErr, elapsed)
	if runErr != nil {
		log.Error("task failed", "execution_id", execID, "duration", elapsed, "error", runErr)
		return runErr
	}
	log.Info("task completed", "execution_id", execID, "duration", elapsed)
	return nil
}

func (r *Runner) runSteps(ctx context.Context, task *domain.Task, log *slog.Logger) error {
	var data *Table
	for _, step := range task.OrderedSteps() {
		start := r.now()
		out, err := r.execute(ctx, step, data)
		r.recorder().RecordStep(task.ID, string(step.Kind), err, r.now().Sub(start))
		if err != nil {
			return &StepError{Order: step.Order, Name: step.Name, Kind: step.Kind, Err: err}
		}
		log.Debug("step finished", "step", step.Name, "kind", step.Kind, "rows", out.Len())
		if step.Kind == domain.StepKindExtract {
			r.recorder().RecordRows("extracted", out.Len())
		}
		data = out
	}
	return nil
}

func (r *Runner) execute(ctx context.Context, step domain.Step, input *Table) (out *Table, err error) {
	defer func() {
		if p := recover(); p != nil {
			out, err = nil, fmt.Errorf("panic: %v", p)
		}
	}()
	return r.Steps.Execute(ctx, step, input)
}

func (r *Runner) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r *Runner) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return r.Logger
}

func (r *Runner) recorder() metrics.Recorder {
	return metrics.OrNop(r.Metrics)
}
