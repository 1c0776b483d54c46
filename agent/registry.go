package agent

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Factory constructs a provider on first use. Construction may be expensive
// (spawning a subprocess), so it is deferred until the provider is selected.
type Factory func(ctx context.Context) (Provider, error)

// Registry manages named provider factories with lazy instantiation.
// Factories are stored at registration time; providers are created on first
// Get call. Thread-safe for concurrent access.
type Registry struct {
	mu        sync.Mutex
	factories map[string]Factory
	providers map[string]Provider
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		providers: make(map[string]Provider),
	}
}

// Register adds a named provider factory to the registry.
// The provider is not instantiated until Get is called.
func (r *Registry) Register(name string, factory Factory) error {
	if name == "" {
		return ErrEmptyName
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("%w: %s", ErrProviderExists, name)
	}

	r.factories[name] = factory
	return nil
}

// Get retrieves a named provider, instantiating it lazily on first access.
func (r *Registry) Get(ctx context.Context, name string) (Provider, error) {
	r.mu.Lock()
	factory, registered := r.factories[name]
	if !registered {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrProviderNotFound, name)
	}
	if p, exists := r.providers[name]; exists {
		r.mu.Unlock()
		return p, nil
	}
	r.mu.Unlock()

	// Construction happens outside the lock; it may suspend on subprocess
	// startup.
	p, err := factory(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create provider %q: %w", name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, exists := r.providers[name]; exists {
		return existing, nil
	}
	r.providers[name] = p
	return p, nil
}

// Replace updates the factory for an existing named provider.
// Any cached instance is invalidated; the next Get re-instantiates.
func (r *Registry) Replace(name string, factory Factory) error {
	if name == "" {
		return ErrEmptyName
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[name]; !exists {
		return fmt.Errorf("%w: %s", ErrProviderNotFound, name)
	}

	r.factories[name] = factory
	delete(r.providers, name)
	return nil
}

// Unregister removes a named provider from the registry.
func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[name]; !exists {
		return fmt.Errorf("%w: %s", ErrProviderNotFound, name)
	}

	delete(r.factories, name)
	delete(r.providers, name)
	return nil
}

// List returns all registered provider names, sorted.
func (r *Registry) List() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
