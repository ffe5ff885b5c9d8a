package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"
)

var (
	// ErrNotFound is returned by stores when a record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalid marks a configuration that fails validation.
	ErrInvalid = errors.New("invalid configuration")
)

// StepKind is the role a step plays in its task.
type StepKind string

const (
	StepKindExtract   StepKind = "extract"
	StepKindTransform StepKind = "transform"
	StepKindLoad      StepKind = "load"
)

// LoadMode controls what happens to existing destination rows.
type LoadMode string

const (
	LoadModeAppend  LoadMode = "append"
	LoadModeReplace LoadMode = "replace"
)

// ExtractConfig configures an extract step. Query is SQL for relational
// connections, a JSON find/aggregate document for MongoDB and a file name
// for CSV directories.
type ExtractConfig struct {
	Query string `json:"query"`
}

// TransformConfig names a registered transformer and its options.
type TransformConfig struct {
	Kind    string         `json:"type"`
	Options map[string]any `json:"options,omitempty"`
}

// LoadConfig configures a load step.
type LoadConfig struct {
	Table       string   `json:"table"`
	Mode        LoadMode `json:"mode,omitempty"`
	CreateTable *bool    `json:"createTable,omitempty"`

	// SourceConnectionID and SourceTable point at the table whose column
	// metadata is copied when the destination has to be created.
	SourceConnectionID string `json:"sourceConnectionId,omitempty"`
	SourceTable        string `json:"sourceTable,omitempty"`
}

// LoadMode returns the configured mode, append when unset.
func (c LoadConfig) LoadMode() LoadMode {
	if c.Mode == "" {
		return LoadModeAppend
	}
	return c.Mode
}

// AutoCreate reports whether a missing destination should be created. Defaults to true.
func (c LoadConfig) AutoCreate() bool {
	return c.CreateTable == nil || *c.CreateTable
}

// SchemaSource returns the table to read column metadata from. The target
// table name is used when only a source connection is configured.
func (c LoadConfig) SchemaSource() string {
	if c.SourceTable != "" {
		return c.SourceTable
	}
	return c.Table
}

// Step is one unit of a task. Exactly one of Extract, Transform or Load is
// set and it must match Kind.
type Step struct {
	ID           string   `json:"id"`
	TaskID       string   `json:"taskId"`
	Name         string   `json:"name"`
	Kind         StepKind `json:"kind"`
	Order        int      `json:"order"`
	ConnectionID string   `json:"connectionId,omitempty"`

	Extract   *ExtractConfig   `json:"extract,omitempty"`
	Transform *TransformConfig `json:"transform,omitempty"`
	Load      *LoadConfig      `json:"load,omitempty"`
}

// Validate checks that the config variant matches the kind.
func (s *Step) Validate() error {
	switch s.Kind {
	case StepKindExtract:
		if s.Extract == nil {
			return fmt.Errorf("%w: extract step %q has no extract config", ErrInvalid, s.Name)
		}
		if s.ConnectionID == "" {
			return fmt.Errorf("%w: extract step %q requires a connection", ErrInvalid, s.Name)
		}
	case StepKindTransform:
		if s.Transform == nil || s.Transform.Kind == "" {
			return fmt.Errorf("%w: transform step %q has no transform type", ErrInvalid, s.Name)
		}
	case StepKindLoad:
		if s.Load == nil || s.Load.Table == "" {
			return fmt.Errorf("%w: load step %q requires a target table", ErrInvalid, s.Name)
		}
		if s.ConnectionID == "" {
			return fmt.Errorf("%w: load step %q requires a connection", ErrInvalid, s.Name)
		}
		switch s.Load.LoadMode() {
		case LoadModeAppend, LoadModeReplace:
		default:
			return fmt.Errorf("%w: load step %q has unknown mode %q", ErrInvalid, s.Name, s.Load.Mode)
		}
	default:
		return fmt.Errorf("%w: step %q has unknown kind %q", ErrInvalid, s.Name, s.Kind)
	}
	return nil
}

// MarshalConfig encodes the variant that matches Kind.
func (s *Step) MarshalConfig() (string, error) {
	var v any
	switch s.Kind {
	case StepKindExtract:
		v = s.Extract
	case StepKindTransform:
		v = s.Transform
	case StepKindLoad:
		v = s.Load
	}
	if v == nil {
		return "{}", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode %s config: %w", s.Kind, err)
	}
	return string(b), nil
}

// UnmarshalConfig decodes raw into the variant that matches Kind.
// Unknown kinds are left without a config.
func (s *Step) UnmarshalConfig(raw string) error {
	if raw == "" {
		raw = "{}"
	}
	var err error
	switch s.Kind {
	case StepKindExtract:
		s.Extract = &ExtractConfig{}
		err = json.Unmarshal([]byte(raw), s.Extract)
	case StepKindTransform:
		s.Transform = &TransformConfig{}
		err = json.Unmarshal([]byte(raw), s.Transform)
	case StepKindLoad:
		s.Load = &LoadConfig{}
		err = json.Unmarshal([]byte(raw), s.Load)
	}
	if err != nil {
		return fmt.Errorf("decode %s config of step %q: %w", s.Kind, s.Name, err)
	}
	return nil
}

// Task is a named, ordered pipeline of steps.
type Task struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Recurrence string    `json:"recurrence"`
	Enabled    bool      `json:"enabled"`
	WatchPath  string    `json:"watchPath,omitempty"`
	Steps      []Step    `json:"steps"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Validate checks the task and all of its steps. Step orders must be unique.
func (t *Task) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("%w: task name is required", ErrInvalid)
	}
	seen := make(map[int]string, len(t.Steps))
	for i := range t.Steps {
		s := &t.Steps[i]
		if prev, ok := seen[s.Order]; ok {
			return fmt.Errorf("%w: steps %q and %q share order %d", ErrInvalid, prev, s.Name, s.Order)
		}
		seen[s.Order] = s.Name
		if err := s.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// OrderedSteps returns a copy of the steps sorted by Order ascending.
func (t *Task) OrderedSteps() []Step {
	steps := make([]Step, len(t.Steps))
	copy(steps, t.Steps)
	sort.SliceStable(steps, func(i, j int) bool { return steps[i].Order < steps[j].Order })
	return steps
}
