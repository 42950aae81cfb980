package host

import (
	"fmt"
	"sort"
	"sync"
)

// Factory creates a client for one platform.
type Factory func(Options) Client

// Registry maps platform names to client factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

var globalRegistry = NewRegistry()

// Default returns the registry platform packages register into.
func Default() *Registry {
	return globalRegistry
}

// Register adds a platform factory to the global registry.
// This is typically called from platform package init() functions.
// Names are upper case (e.g., "GITHUB", "GITEE") and are persisted as
// GIT_PLATFORM.
func Register(name string, factory Factory) {
	globalRegistry.Register(name, factory)
}

// New creates a client for the named platform from the global registry.
func New(name string, opts Options) (Client, error) {
	return globalRegistry.New(name, opts)
}

// List returns the names of all registered platforms.
func List() []string {
	return globalRegistry.List()
}

// Register adds a platform factory to this registry.
func (r *Registry) Register(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// List returns the registered platform names, sorted alphabetically.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsRegistered checks if a platform with the given name is registered.
func (r *Registry) IsRegistered(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[name]
	return ok
}

// New creates a client for the named platform.
func (r *Registry) New(name string, opts Options) (Client, error) {
	r.mu.RLock()
	factory := r.factories[name]
	r.mu.RUnlock()
	if factory == nil {
		return nil, fmt.Errorf("unknown platform %q (available: %v)", name, r.List())
	}
	return factory(opts), nil
}
