package etl

import (
	"context"
	"fmt"

	"etlplanner/internal/domain"
)

// Executor runs a single step against the capability registry.
type Executor struct {
	Registry    *Registry
	Connections domain.ConnectionStore
}

// Execute runs step with the output of the previous step as input.
// Extract ignores input; load returns input unchanged.
func (e *Executor) Execute(ctx context.Context, step domain.Step, input *Table) (*Table, error) {
	switch step.Kind {
	case domain.StepKindExtract:
		conn, err := e.connection(ctx, step)
		if err != nil {
			return nil, err
		}
		ex, err := e.Registry.Extractor(conn.Kind)
		if err != nil {
			return nil, err
		}
		if step.Extract == nil || step.Extract.Query == "" {
			return nil, ErrMissingQuery
		}
		out, err := ex.Extract(ctx, *conn, *step.Extract)
		if err != nil {
			return nil, err
		}
		if out == nil {
			out = NewTable()
		}
		if err := out.Validate(); err != nil {
			return nil, fmt.Errorf("extracted data: %w", err)
		}
		return out, nil

	case domain.StepKindTransform:
		if input == nil {
			return nil, ErrNoInputData
		}
		if step.Transform == nil {
			return nil, fmt.Errorf("%w: transform step has no config", domain.ErrInvalid)
		}
		tr, err := e.Registry.Transformer(step.Transform.Kind)
		if err != nil {
			return nil, err
		}
		return tr.Transform(ctx, *step.Transform, input)

	case domain.StepKindLoad:
		conn, err := e.connection(ctx, step)
		if err != nil {
			return nil, err
		}
		ld, err := e.Registry.Loader(conn.Kind)
		if err != nil {
			return nil, err
		}
		if step.Load == nil {
			return nil, fmt.Errorf("%w: load step has no config", domain.ErrInvalid)
		}
		if input == nil {
			return nil, ErrNoInputData
		}
		if err := ld.Load(ctx, *conn, *step.Load, input); err != nil {
			return nil, err
		}
		return input, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStepKind, step.Kind)
	}
}

func (e *Executor) connection(ctx context.Context, step domain.Step) (*domain.Connection, error) {
	if step.ConnectionID == "" {
		return nil, fmt.Errorf("%w: %s step has no connection", domain.ErrInvalid, step.Kind)
	}
	conn, err := e.Connections.GetConnection(ctx, step.ConnectionID)
	if err != nil {
		return nil, fmt.Errorf("resolve connection %s: %w", step.ConnectionID, err)
	}
	return conn, nil
}
