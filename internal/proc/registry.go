package proc

import (
	"sync"

	"signalmesh/internal/domain"
)

// Registry is a named process table. Names resolve at delivery time, so a
// name can outlive any one process that held it.
type Registry struct {
	mu    sync.RWMutex
	named map[string]*Proc
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{named: make(map[string]*Proc)}
}

// Register binds name to p. Returns ErrDuplicate when the name is taken by a
// live process; a dead holder is silently replaced. The binding is removed
// automatically when p exits.
func (r *Registry) Register(name string, p *Proc) error {
	r.mu.Lock()
	if existing, ok := r.named[name]; ok && existing.Alive() {
		r.mu.Unlock()
		return domain.WrapOp("proc.Register", domain.ErrDuplicate)
	}
	r.named[name] = p
	r.mu.Unlock()

	// Drop the binding once the process exits, unless it was rebound.
	down := make(chan Down, 1)
	p.Monitor(down)
	go func() {
		<-down
		r.mu.Lock()
		if r.named[name] == p {
			delete(r.named, name)
		}
		r.mu.Unlock()
	}()
	return nil
}

// Whereis resolves a name to a live process, or ErrProcessNotFound.
func (r *Registry) Whereis(name string) (*Proc, error) {
	r.mu.RLock()
	p, ok := r.named[name]
	r.mu.RUnlock()
	if !ok {
		return nil, domain.ErrProcessNotFound
	}
	return p, nil
}

// Unregister removes a name binding. Unknown names are a no-op.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	delete(r.named, name)
	r.mu.Unlock()
}

// Names returns the currently bound names, for inspection tooling.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.named))
	for name := range r.named {
		names = append(names, name)
	}
	return names
}
