// Package engine composes the store, the provider registry and the core
// services behind a single runtime handle.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"skylark/internal/core/collect"
	"skylark/internal/core/posts"
	"skylark/internal/core/status"
	"skylark/internal/providers"
)

var (
	// ErrNotConfigured is returned when an operation runs against an engine
	// built without a store.
	ErrNotConfigured = errors.New("engine not configured")

	// ErrNotImplemented is returned for query entities other than "posts".
	ErrNotImplemented = errors.New("not implemented")
)

// Engine is the runtime handle tying the canonical store, the provider
// registry and the core services together. All operations are safe for
// concurrent use.
type Engine struct {
	store     posts.Store
	registry  *providers.Registry
	logger    *slog.Logger
	collector *collect.Collector
	queries   *posts.Service
	statuses  *status.Service
}

type Option func(*Engine)

// WithRegistry swaps the process-wide provider registry for an isolated one.
func WithRegistry(registry *providers.Registry) Option {
	return func(e *Engine) {
		e.registry = registry
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// New builds the runtime handle. A nil store yields an engine whose
// operations fail with ErrNotConfigured, mirroring an unconfigured runtime.
func New(store posts.Store, opts ...Option) *Engine {
	e := &Engine{
		store:  store,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.registry == nil {
		e.registry = providers.Default()
	}
	if e.store != nil {
		e.collector = collect.New(e.store, e.registry, collect.WithLogger(e.logger))
		e.queries = posts.NewService(e.store)
		e.statuses = status.NewService(e.store)
	}
	return e
}

func (e *Engine) configured() error {
	if e == nil || e.store == nil {
		return ErrNotConfigured
	}
	return nil
}

// Collect runs one ingestion pass for a provider scope.
func (e *Engine) Collect(ctx context.Context, req collect.Request) (*collect.Report, error) {
	if err := e.configured(); err != nil {
		return nil, err
	}
	return e.collector.Collect(ctx, req)
}

// Query reads a page of a stored entity. Only "posts" is implemented.
func (e *Engine) Query(ctx context.Context, entity string, req posts.QueryRequest) (*posts.Page, error) {
	if err := e.configured(); err != nil {
		return nil, err
	}
	if entity != "posts" {
		return nil, fmt.Errorf("%w: entity %q", ErrNotImplemented, entity)
	}
	return e.queries.Query(ctx, req)
}

// Status reports stored cursors and recent jobs.
func (e *Engine) Status(ctx context.Context, req status.Request) (*status.Snapshot, error) {
	if err := e.configured(); err != nil {
		return nil, err
	}
	return e.statuses.Snapshot(ctx, req)
}

// Registry exposes the provider registry backing this engine.
func (e *Engine) Registry() *providers.Registry {
	return e.registry
}

// Close releases the underlying store. Closing an unconfigured engine is a
// no-op.
func (e *Engine) Close() error {
	if e == nil || e.store == nil {
		return nil
	}
	return e.store.Close()
}
