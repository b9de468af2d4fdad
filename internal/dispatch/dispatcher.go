package dispatch

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"signalmesh/internal/domain"
	"signalmesh/internal/infra/tracer"
)

// Result records one destination's delivery outcome within a fan-out.
type Result struct {
	Adapter string
	Err     error
}

// Dispatcher resolves, validates, and invokes configured dispatch targets.
type Dispatcher struct {
	registry *Registry
	logger   *slog.Logger
}

// NewDispatcher creates a dispatcher over the given registry.
func NewDispatcher(registry *Registry, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{registry: registry, logger: logger}
}

// Dispatch fans a signal out to every configured target. All targets are
// attempted regardless of earlier failures; the first error in configuration
// order is returned. A first-error result does not say anything about the
// other targets — callers needing per-destination outcomes use DispatchAll.
func (d *Dispatcher) Dispatch(ctx context.Context, sig domain.Signal, targets []domain.DispatchTarget) error {
	results := d.DispatchAll(ctx, sig, targets)
	for _, res := range results {
		if res.Err != nil {
			return res.Err
		}
	}
	return nil
}

// DispatchAll is Dispatch with per-target outcomes, in configuration order.
func (d *Dispatcher) DispatchAll(ctx context.Context, sig domain.Signal, targets []domain.DispatchTarget) []Result {
	ctx, span := tracer.StartSpan(ctx, "dispatch.fan_out")
	span.SetAttributes(
		attribute.String("signal.id", sig.ID),
		attribute.Int("targets", len(targets)),
	)
	defer span.End()

	results := make([]Result, 0, len(targets))
	failed := 0
	for _, target := range targets {
		err := d.deliverOne(ctx, sig, target)
		if err != nil {
			failed++
			d.logger.Warn("delivery failed",
				"signal", sig.ID,
				"adapter", target.Adapter,
				"error", err,
			)
		}
		results = append(results, Result{Adapter: target.Adapter, Err: err})
	}
	if failed > 0 {
		span.SetStatus(codes.Error, "partial delivery failure")
		span.SetAttributes(attribute.Int("failed", failed))
	}
	return results
}

func (d *Dispatcher) deliverOne(ctx context.Context, sig domain.Signal, target domain.DispatchTarget) error {
	// A zero target is a configured no-op.
	if target.Adapter == "" && target.Custom == nil {
		return nil
	}

	adapter := target.Custom
	if adapter == nil {
		resolved, err := d.registry.Resolve(target.Adapter)
		if err != nil {
			return err
		}
		adapter = resolved
	}

	opts, err := adapter.ValidateOpts(target.Opts)
	if err != nil {
		return err
	}
	return adapter.Deliver(ctx, sig, opts)
}
