package etl

import (
	"context"
	"fmt"
	"log/slog"

	"etlplanner/internal/domain"
)

// ── Sink writer ────────────────────────────────────────────
// Applies a load mode to a relational sink:
// sanitize → ensure destination → clear (replace) → insert.

// SinkWriter writes tables into a Sink.
type SinkWriter struct {
	Sink       Sink
	Reconciler *Reconciler

	// AtomicReplace runs the delete and insert of a replace load in one
	// transaction when the sink implements Transactor.
	AtomicReplace bool

	Logger *slog.Logger
}

// Write loads data into target and returns the number of rows inserted.
// data itself is left untouched.
func (w *SinkWriter) Write(ctx context.Context, data *Table, target TableID, mode domain.LoadMode, autoCreate bool) (int, error) {
	if data == nil {
		return 0, ErrNoInputData
	}
	if err := data.Validate(); err != nil {
		return 0, fmt.Errorf("load %s: %w", target, err)
	}
	if mode == "" {
		mode = domain.LoadModeAppend
	}
	if mode != domain.LoadModeAppend && mode != domain.LoadModeReplace {
		return 0, fmt.Errorf("load %s: unknown mode %q", target, mode)
	}

	clean := Sanitize(data)

	if autoCreate {
		rec := w.Reconciler
		if rec == nil {
			rec = &Reconciler{Sink: w.Sink, Logger: w.Logger}
		}
		if err := rec.EnsureDestination(ctx, clean, target); err != nil {
			return 0, err
		}
	} else {
		exists, err := w.Sink.TableExists(ctx, target)
		if err != nil {
			return 0, fmt.Errorf("check table %s: %w", target, err)
		}
		if !exists {
			return 0, fmt.Errorf("%w: %s", ErrDestinationMissing, target)
		}
	}

	cols := clean.ColumnNames()
	if mode == domain.LoadModeReplace {
		if tx, ok := w.Sink.(Transactor); ok && w.AtomicReplace {
			var written int
			err := tx.WithinTx(ctx, func(s Sink) error {
				var err error
				written, err = replaceRows(ctx, s, target, cols, clean.Rows)
				return err
			})
			if err != nil {
				return 0, err
			}
			w.logger().Debug("rows replaced", "table", target.String(), "rows", written, "atomic", true)
			return written, nil
		}
		return replaceRows(ctx, w.Sink, target, cols, clean.Rows)
	}

	written, err := w.Sink.InsertRows(ctx, target, cols, clean.Rows)
	if err != nil {
		return written, fmt.Errorf("insert into %s: %w", target, err)
	}
	w.logger().Debug("rows appended", "table", target.String(), "rows", written)
	return written, nil
}

func replaceRows(ctx context.Context, s Sink, target TableID, cols []string, rows [][]any) (int, error) {
	if err := s.DeleteRows(ctx, target); err != nil {
		return 0, fmt.Errorf("clear %s: %w", target, err)
	}
	written, err := s.InsertRows(ctx, target, cols, rows)
	if err != nil {
		return written, fmt.Errorf("insert into %s: %w", target, err)
	}
	return written, nil
}

func (w *SinkWriter) logger() *slog.Logger {
	if w.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return w.Logger
}
