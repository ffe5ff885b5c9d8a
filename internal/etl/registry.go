package etl

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"etlplanner/internal/domain"
)

// ── Capabilities ───────────────────────────────────────────
// Extractors and loaders are keyed by connection kind, transformers by
// transform type. Implementations live in etl/sources and etl/sinks.

// Extractor reads a fresh table from a connection.
type Extractor interface {
	Extract(ctx context.Context, conn domain.Connection, cfg domain.ExtractConfig) (*Table, error)
}

// Transformer derives a new table from its input.
type Transformer interface {
	Transform(ctx context.Context, cfg domain.TransformConfig, in *Table) (*Table, error)
}

// Loader writes a table to a connection.
type Loader interface {
	Load(ctx context.Context, conn domain.Connection, cfg domain.LoadConfig, data *Table) error
}

// ExtractorFunc adapts a plain function to the Extractor interface.
type ExtractorFunc func(ctx context.Context, conn domain.Connection, cfg domain.ExtractConfig) (*Table, error)

func (f ExtractorFunc) Extract(ctx context.Context, conn domain.Connection, cfg domain.ExtractConfig) (*Table, error) {
	return f(ctx, conn, cfg)
}

// TransformerFunc adapts a plain function to the Transformer interface.
type TransformerFunc func(ctx context.Context, cfg domain.TransformConfig, in *Table) (*Table, error)

func (f TransformerFunc) Transform(ctx context.Context, cfg domain.TransformConfig, in *Table) (*Table, error) {
	return f(ctx, cfg, in)
}

// LoaderFunc adapts a plain function to the Loader interface.
type LoaderFunc func(ctx context.Context, conn domain.Connection, cfg domain.LoadConfig, data *Table) error

func (f LoaderFunc) Load(ctx context.Context, conn domain.Connection, cfg domain.LoadConfig, data *Table) error {
	return f(ctx, conn, cfg, data)
}

// Registry maps kinds to their implementations. It is safe for concurrent use.
type Registry struct {
	mu           sync.RWMutex
	extractors   map[domain.ConnectionKind]Extractor
	loaders      map[domain.ConnectionKind]Loader
	transformers map[string]Transformer
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		extractors:   map[domain.ConnectionKind]Extractor{},
		loaders:      map[domain.ConnectionKind]Loader{},
		transformers: map[string]Transformer{},
	}
}

func (r *Registry) RegisterExtractor(kind domain.ConnectionKind, e Extractor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.extractors[kind] = e
}

func (r *Registry) RegisterLoader(kind domain.ConnectionKind, l Loader) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loaders[kind] = l
}

func (r *Registry) RegisterTransformer(kind string, t Transformer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transformers[kind] = t
}

// Extractor returns the extractor for kind.
func (r *Registry) Extractor(kind domain.ConnectionKind) (Extractor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.extractors[kind]
	if !ok {
		return nil, fmt.Errorf("%w: no extractor for %q", ErrUnsupportedConnectionKind, kind)
	}
	return e, nil
}

// Loader returns the loader for kind.
func (r *Registry) Loader(kind domain.ConnectionKind) (Loader, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.loaders[kind]
	if !ok {
		return nil, fmt.Errorf("%w: no loader for %q", ErrUnsupportedConnectionKind, kind)
	}
	return l, nil
}

// Transformer returns the transformer registered under kind.
func (r *Registry) Transformer(kind string) (Transformer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.transformers[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedTransformKind, kind)
	}
	return t, nil
}

// Capabilities lists what a registry can do.
type Capabilities struct {
	Extract   []string `json:"extract"`
	Transform []string `json:"transform"`
	Load      []string `json:"load"`
}

// Capabilities returns the registered kinds, sorted.
func (r *Registry) Capabilities() Capabilities {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var c Capabilities
	for k := range r.extractors {
		c.Extract = append(c.Extract, string(k))
	}
	for k := range r.transformers {
		c.Transform = append(c.Transform, k)
	}
	for k := range r.loaders {
		c.Load = append(c.Load, string(k))
	}
	sort.Strings(c.Extract)
	sort.Strings(c.Transform)
	sort.Strings(c.Load)
	return c
}
