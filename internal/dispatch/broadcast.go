package dispatch

import (
	"context"

	"signalmesh/internal/broadcast"
	"signalmesh/internal/domain"
)

// Broadcast option keys.
const (
	OptDomain = "domain" // broadcast domain name
	OptTopic  = "topic"  // topic within the domain
)

// BroadcastAdapter publishes a signal to a topic in a named broadcast
// domain. Fire-and-forget; no acknowledgement.
type BroadcastAdapter struct {
	registry *broadcast.Registry
}

// NewBroadcastAdapter creates the broadcast adapter.
func NewBroadcastAdapter(registry *broadcast.Registry) *BroadcastAdapter {
	return &BroadcastAdapter{registry: registry}
}

func (a *BroadcastAdapter) ValidateOpts(opts domain.Options) (domain.Options, error) {
	out, err := normalizeDelivery(opts)
	if err != nil {
		return nil, err
	}
	if _, err := requireString(out, OptDomain); err != nil {
		return nil, err
	}
	if _, err := requireString(out, OptTopic); err != nil {
		return nil, err
	}
	return out, nil
}

func (a *BroadcastAdapter) Deliver(ctx context.Context, sig domain.Signal, opts domain.Options) error {
	name := opts[OptDomain].(string)
	d, err := a.registry.Get(name)
	if err != nil {
		return domain.NewDomainError("broadcast.Deliver", domain.ErrBroadcastDomainNotFound, name)
	}
	d.Publish(ctx, opts[OptTopic].(string), sig)
	return nil
}
