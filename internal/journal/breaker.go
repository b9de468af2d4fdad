package journal

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"signalmesh/internal/domain"
)

// Default circuit breaker settings.
const (
	defaultCBMaxFailures uint32        = 5
	defaultCBTimeout     time.Duration = 30 * time.Second
	defaultCBInterval    time.Duration = 60 * time.Second
)

// BreakerConfig configures the circuit breaker around a bus.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive failures before the circuit opens.
	MaxFailures uint32 `yaml:"max_failures"`
	// Timeout is how long the circuit stays open before transitioning to half-open.
	Timeout time.Duration `yaml:"timeout"`
	// Interval is the cyclic period of the closed state for clearing failure counts.
	Interval time.Duration `yaml:"interval"`
}

// BreakerBus wraps a domain.Bus with circuit breaker protection. When the
// underlying store fails repeatedly, the circuit opens and appends fail fast
// without reaching it, preventing retry storms against a broken backend.
type BreakerBus struct {
	inner   domain.Bus
	breaker *gobreaker.CircuitBreaker[struct{}]
	logger  *slog.Logger
}

// NewBreakerBus wraps inner. Zero-valued cfg fields use defaults.
func NewBreakerBus(name string, inner domain.Bus, cfg BreakerConfig, logger *slog.Logger) *BreakerBus {
	if logger == nil {
		logger = slog.Default()
	}
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultCBMaxFailures
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultCBTimeout
	}
	interval := cfg.Interval
	if interval == 0 {
		interval = defaultCBInterval
	}

	cb := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "bus:" + name,
		MaxRequests: 1, // allow 1 probe in half-open state
		Interval:    interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		IsSuccessful: func(err error) bool {
			// Version conflicts are caller errors, not backend health.
			return err == nil || errors.Is(err, domain.ErrBusVersionConflict)
		},
	})

	return &BreakerBus{inner: inner, breaker: cb, logger: logger}
}

// Append implements domain.Bus through the breaker.
func (b *BreakerBus) Append(ctx context.Context, stream string, expected domain.ExpectedVersion, sig domain.Signal) error {
	_, err := b.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, b.inner.Append(ctx, stream, expected, sig)
	})
	return err
}
