package bootstrap

import (
	"fmt"
	"sort"
	"sync"
)

// BootFactory creates the component for a boot service. It runs after
// the runtime, logger and timer are up.
type BootFactory func(app *Application) (Component, error)

// Registry maps boot service names to their factories. The configured
// boot name picks one of them at startup.
type Registry struct {
	// factories holds registered service factories
	factories map[string]BootFactory

	// mutex protects concurrent access
	mutex sync.RWMutex
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]BootFactory),
	}
}

// Register registers a factory under name
func (r *Registry) Register(name string, factory BootFactory) error {
	if name == "" {
		return fmt.Errorf("service name cannot be empty")
	}
	if factory == nil {
		return fmt.Errorf("service factory cannot be nil")
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("service %s is already registered", name)
	}

	r.factories[name] = factory
	return nil
}

// Create builds the component registered under name
func (r *Registry) Create(app *Application, name string) (Component, error) {
	r.mutex.RLock()
	factory, exists := r.factories[name]
	r.mutex.RUnlock()

	if !exists {
		return nil, fmt.Errorf("service %s is not registered", name)
	}

	component, err := factory(app)
	if err != nil {
		return nil, fmt.Errorf("failed to create service %s: %w", name, err)
	}
	return component, nil
}

// Has checks if a factory is registered
func (r *Registry) Has(name string) bool {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	_, exists := r.factories[name]
	return exists
}

// Names returns all registered service names, sorted
func (r *Registry) Names() []string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
