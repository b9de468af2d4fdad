package dispatch

import (
	"context"

	"signalmesh/internal/domain"
	"signalmesh/internal/proc"
)

// Named-process option keys.
const OptName = "name" // symbolic process name

// NamedAdapter resolves a symbolic process name at delivery time, so the
// name may be rebound between dispatches without reconfiguring callers.
type NamedAdapter struct {
	registry *proc.Registry
}

// NewNamedAdapter creates the named-process adapter over a process registry.
func NewNamedAdapter(registry *proc.Registry) *NamedAdapter {
	return &NamedAdapter{registry: registry}
}

func (a *NamedAdapter) ValidateOpts(opts domain.Options) (domain.Options, error) {
	out, err := normalizeDelivery(opts)
	if err != nil {
		return nil, err
	}
	if _, err := requireString(out, OptName); err != nil {
		return nil, err
	}
	return out, nil
}

func (a *NamedAdapter) Deliver(ctx context.Context, sig domain.Signal, opts domain.Options) error {
	name := opts[OptName].(string)
	pid, err := a.registry.Whereis(name)
	if err != nil {
		return domain.NewDomainError("named.Deliver", domain.ErrProcessNotFound, name)
	}
	return deliverToProc(ctx, pid, sig, opts)
}
