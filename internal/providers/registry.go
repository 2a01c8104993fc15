package providers

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Registry maps lower-cased provider names to factories. All methods are
// safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

var defaultRegistry = NewRegistry()

// Default returns the process-wide registry. Built-in providers register
// themselves into it at import time.
func Default() *Registry {
	return defaultRegistry
}

// Register adds factory under name. Names are case-insensitive. Registering
// an existing name fails with ErrAlreadyRegistered unless override is set.
func (r *Registry) Register(name string, factory Factory, override bool) error {
	if factory == nil {
		return fmt.Errorf("%w: nil factory for %q", ErrInvalidFactory, name)
	}
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidFactory)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[key]; exists && !override {
		return fmt.Errorf("%w: %q", ErrAlreadyRegistered, key)
	}
	r.factories[key] = factory
	return nil
}

// MustRegister registers without override and panics on error. Intended for
// built-in provider registration from package init.
func (r *Registry) MustRegister(name string, factory Factory) {
	if err := r.Register(name, factory, false); err != nil {
		panic(err)
	}
}

// Unregister removes name, failing with ErrNotRegistered when absent.
func (r *Registry) Unregister(name string) error {
	key := strings.ToLower(strings.TrimSpace(name))

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[key]; !exists {
		return fmt.Errorf("%w: %q", ErrNotRegistered, key)
	}
	delete(r.factories, key)
	return nil
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	key := strings.ToLower(strings.TrimSpace(name))

	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.factories[key]
	return exists
}

// Available returns the registered names in sorted order.
func (r *Registry) Available() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve returns a fresh instance of the named provider. Every call yields
// a new instance; configuration state is never shared between runs.
func (r *Registry) Resolve(name string) (Provider, error) {
	key := strings.ToLower(strings.TrimSpace(name))

	r.mu.RLock()
	factory, exists := r.factories[key]
	r.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("%w: %q", ErrNotRegistered, key)
	}
	provider := factory()
	if provider == nil {
		return nil, fmt.Errorf("%w: factory for %q returned nil", ErrInvalidFactory, key)
	}
	return provider, nil
}
