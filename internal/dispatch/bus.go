package dispatch

import (
	"context"
	"fmt"

	"signalmesh/internal/domain"
)

// External-bus option keys.
const (
	OptBus             = "bus"              // bus name
	OptStream          = "stream"           // stream identifier within the bus
	OptExpectedVersion = "expected_version" // "any" (default) or an exact version
)

// ExpectedAny is the expected_version wildcard.
const ExpectedAny = "any"

// BusResolver resolves a bus name to its implementation at delivery time.
type BusResolver interface {
	Bus(name string) (domain.Bus, error)
}

// BusAdapter publishes a signal to a named bus stream with an
// expected-version token for optimistic concurrency.
type BusAdapter struct {
	resolver BusResolver
}

// NewBusAdapter creates the external-bus adapter.
func NewBusAdapter(resolver BusResolver) *BusAdapter {
	return &BusAdapter{resolver: resolver}
}

func (a *BusAdapter) ValidateOpts(opts domain.Options) (domain.Options, error) {
	out, err := normalizeDelivery(opts)
	if err != nil {
		return nil, err
	}
	if _, err := requireString(out, OptBus); err != nil {
		return nil, err
	}
	if _, err := requireString(out, OptStream); err != nil {
		return nil, err
	}

	expected, ok := out[OptExpectedVersion]
	if !ok {
		out[OptExpectedVersion] = ExpectedAny
		return out, nil
	}
	switch v := expected.(type) {
	case string:
		if v != ExpectedAny {
			return nil, domain.NewDomainError("bus.ValidateOpts", domain.ErrInvalidDispatchConfig,
				fmt.Sprintf("expected_version %q", v))
		}
	default:
		n, err := coerceInt64(expected)
		if err != nil || n < 0 {
			return nil, domain.NewDomainError("bus.ValidateOpts", domain.ErrInvalidDispatchConfig,
				fmt.Sprintf("expected_version %v", expected))
		}
		out[OptExpectedVersion] = n
	}
	return out, nil
}

func (a *BusAdapter) Deliver(ctx context.Context, sig domain.Signal, opts domain.Options) error {
	name := opts[OptBus].(string)
	bus, err := a.resolver.Bus(name)
	if err != nil {
		return domain.NewDomainError("bus.Deliver", domain.ErrBusNotFound, name)
	}

	expected := domain.AnyVersion()
	if n, ok := opts[OptExpectedVersion].(int64); ok {
		expected = domain.ExactVersion(n)
	}
	return bus.Append(ctx, opts[OptStream].(string), expected, sig)
}
