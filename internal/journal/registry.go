package journal

import (
	"sync"

	"signalmesh/internal/domain"
)

// Registry maps bus names to implementations for the bus dispatch adapter.
type Registry struct {
	mu    sync.RWMutex
	buses map[string]domain.Bus
}

// NewBusRegistry creates an empty bus registry.
func NewBusRegistry() *Registry {
	return &Registry{buses: make(map[string]domain.Bus)}
}

// Add registers a bus under name, replacing any previous holder.
func (r *Registry) Add(name string, bus domain.Bus) {
	r.mu.Lock()
	r.buses[name] = bus
	r.mu.Unlock()
}

// Bus resolves name to its implementation, or ErrBusNotFound.
func (r *Registry) Bus(name string) (domain.Bus, error) {
	r.mu.RLock()
	bus, ok := r.buses[name]
	r.mu.RUnlock()
	if !ok {
		return nil, domain.ErrBusNotFound
	}
	return bus, nil
}
