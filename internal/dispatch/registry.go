package dispatch

import (
	"fmt"
	"sync"

	"signalmesh/internal/domain"
)

// Built-in adapter symbols.
const (
	AdapterDirect    = "direct"
	AdapterNamed     = "named"
	AdapterBus       = "bus"
	AdapterBroadcast = "broadcast"
	AdapterLog       = "log"
	AdapterConsole   = "console"
	AdapterNoop      = "noop"
)

// Registry maps adapter symbols to implementations. Built-ins are installed
// at construction; custom adapters are validated once at registration rather
// than on every dispatch.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]domain.Adapter
}

// NewRegistry creates an empty registry. Most callers want Builtin instead.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]domain.Adapter)}
}

// Register installs an adapter under name. The implementation must be
// non-nil; duplicate names are rejected.
func (r *Registry) Register(name string, adapter domain.Adapter) error {
	if name == "" {
		return domain.NewDomainError("Registry.Register", domain.ErrMissingRequiredOption, "name")
	}
	if adapter == nil {
		return domain.NewDomainError("Registry.Register", domain.ErrInvalidDispatchConfig,
			fmt.Sprintf("adapter %q is nil", name))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.adapters[name]; exists {
		return domain.NewDomainError("Registry.Register", domain.ErrDuplicate, name)
	}
	r.adapters[name] = adapter
	return nil
}

// Resolve returns the adapter registered under name, or ErrUnknownAdapter.
func (r *Registry) Resolve(name string) (domain.Adapter, error) {
	r.mu.RLock()
	adapter, ok := r.adapters[name]
	r.mu.RUnlock()
	if !ok {
		return nil, domain.NewDomainError("Registry.Resolve", domain.ErrUnknownAdapter,
			fmt.Sprintf("%s is not a valid adapter", name))
	}
	return adapter, nil
}
