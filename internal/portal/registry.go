package portal

import (
	"fmt"
	"sync"
)

// Registry holds all registered portal adapters. It must be created via
// NewRegistry and passed explicitly to components that need it.
type Registry struct {
	mu       sync.RWMutex
	adapters map[PortalType]Adapter
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		adapters: map[PortalType]Adapter{},
	}
}

// Register adds an adapter to the registry.
func (r *Registry) Register(adapter Adapter) error {
	if adapter == nil {
		return fmt.Errorf("adapter is nil")
	}
	pt := normalizeType(adapter.Type().String())
	if pt == "" {
		return fmt.Errorf("portal type is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.adapters[pt]; exists {
		return fmt.Errorf("portal type already registered: %s", pt)
	}
	r.adapters[pt] = adapter
	return nil
}

// MustRegister calls Register and panics on error.
func (r *Registry) MustRegister(adapter Adapter) {
	if err := r.Register(adapter); err != nil {
		panic(err)
	}
}

// Get returns the adapter for the given portal type.
func (r *Registry) Get(portalType PortalType) (Adapter, bool) {
	pt := normalizeType(portalType.String())
	r.mu.RLock()
	defer r.mu.RUnlock()
	adapter, ok := r.adapters[pt]
	return adapter, ok
}

// Prober returns the adapter for the given type if it supports health
// probing.
func (r *Registry) Prober(portalType PortalType) (HealthProber, bool) {
	adapter, ok := r.Get(portalType)
	if !ok {
		return nil, false
	}
	prober, ok := adapter.(HealthProber)
	return prober, ok
}

// List returns all registered adapters.
func (r *Registry) List() []Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	items := make([]Adapter, 0, len(r.adapters))
	for _, a := range r.adapters {
		items = append(items, a)
	}
	return items
}

// Descriptors returns metadata for every registered portal family.
func (r *Registry) Descriptors() []Descriptor {
	adapters := r.List()
	out := make([]Descriptor, 0, len(adapters))
	for _, a := range adapters {
		out = append(out, a.Descriptor())
	}
	return out
}
