package dispatch

import (
	"fmt"
	"time"

	"signalmesh/internal/domain"
)

// Shared option keys recognized across adapters.
const (
	OptMode      = "mode"       // "async" (default) or "sync"
	OptTimeoutMS = "timeout_ms" // sync call timeout, default 5000
	OptFormat    = "format"     // func(domain.Signal) any message shaping
)

// Delivery modes.
const (
	ModeAsync = "async"
	ModeSync  = "sync"
)

// DefaultTimeoutMS is the synchronous delivery timeout when none is given.
const DefaultTimeoutMS = int64(5000)

// SignalMessage is the default wire shape when no format function is
// supplied: the signal wrapped in a tagged envelope.
type SignalMessage struct {
	Signal domain.Signal
}

// FormatFunc transforms a signal into a destination-specific wire shape.
type FormatFunc func(domain.Signal) any

// normalizeDelivery applies the shared mode/timeout defaults. It clones the
// input so callers' option maps are never mutated, and is idempotent:
// already-normalized options come back unchanged in value.
func normalizeDelivery(opts domain.Options) (domain.Options, error) {
	out := opts.Clone()

	mode, ok := out[OptMode]
	if !ok {
		out[OptMode] = ModeAsync
	} else {
		m, isStr := mode.(string)
		if !isStr || (m != ModeAsync && m != ModeSync) {
			return nil, domain.NewDomainError("dispatch.ValidateOpts", domain.ErrInvalidDispatchConfig,
				fmt.Sprintf("mode %v", mode))
		}
	}

	timeout, ok := out[OptTimeoutMS]
	if !ok {
		out[OptTimeoutMS] = DefaultTimeoutMS
	} else {
		ms, err := coerceInt64(timeout)
		if err != nil || ms <= 0 {
			return nil, domain.NewDomainError("dispatch.ValidateOpts", domain.ErrInvalidDispatchConfig,
				fmt.Sprintf("timeout_ms %v", timeout))
		}
		out[OptTimeoutMS] = ms
	}

	if format, ok := out[OptFormat]; ok {
		switch format.(type) {
		case FormatFunc, func(domain.Signal) any:
		default:
			return nil, domain.NewDomainError("dispatch.ValidateOpts", domain.ErrInvalidDispatchConfig,
				"format must be func(Signal) any")
		}
	}

	return out, nil
}

// requireString extracts a mandatory string option.
func requireString(opts domain.Options, key string) (string, error) {
	v, ok := opts[key]
	if !ok {
		return "", domain.NewDomainError("dispatch.ValidateOpts", domain.ErrMissingRequiredOption, key)
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", domain.NewDomainError("dispatch.ValidateOpts", domain.ErrInvalidDispatchConfig,
			fmt.Sprintf("%s %v", key, v))
	}
	return s, nil
}

func coerceInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case float64:
		return int64(n), nil
	default:
		return 0, fmt.Errorf("not an integer: %v", v)
	}
}

func timeoutOf(opts domain.Options) time.Duration {
	if ms, ok := opts[OptTimeoutMS].(int64); ok && ms > 0 {
		return time.Duration(ms) * time.Millisecond
	}
	return time.Duration(DefaultTimeoutMS) * time.Millisecond
}

func isSync(opts domain.Options) bool {
	return opts[OptMode] == ModeSync
}

// formatMessage applies the caller-supplied format function, or the default
// tagged envelope when none is set.
func formatMessage(sig domain.Signal, opts domain.Options) any {
	switch f := opts[OptFormat].(type) {
	case FormatFunc:
		return f(sig)
	case func(domain.Signal) any:
		return f(sig)
	default:
		return SignalMessage{Signal: sig}
	}
}
