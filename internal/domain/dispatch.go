package domain

import "context"

// Options is the destination-specific option map passed to an adapter.
// ValidateOpts normalizes it; Deliver consumes the normalized form.
type Options map[string]any

// Clone returns a shallow copy so normalization never mutates caller input.
func (o Options) Clone() Options {
	out := make(Options, len(o))
	for k, v := range o {
		out[k] = v
	}
	return out
}

// Adapter is the two-operation delivery protocol every destination type
// implements.
type Adapter interface {
	// ValidateOpts normalizes and defaults the option map. It is pure and
	// idempotent: validating already-normalized options returns them unchanged.
	ValidateOpts(opts Options) (Options, error)
	// Deliver transmits the signal. It never mutates the signal and may block
	// up to the configured timeout for synchronous modes.
	Deliver(ctx context.Context, sig Signal, opts Options) error
}

// DispatchTarget pairs an adapter with its options. Adapter names resolve
// through the dispatch registry; Custom takes precedence when set. The zero
// value is a configured no-op and always succeeds.
type DispatchTarget struct {
	Adapter string
	Custom  Adapter
	Opts    Options
}

// ExpectedVersion expresses optimistic-concurrency expectations for a bus
// stream append.
type ExpectedVersion struct {
	Any   bool
	Exact int64
}

// AnyVersion matches whatever the stream's current version is.
func AnyVersion() ExpectedVersion { return ExpectedVersion{Any: true} }

// ExactVersion requires the stream to be at version n before the append.
func ExactVersion(n int64) ExpectedVersion { return ExpectedVersion{Exact: n} }

// Bus is an external signal stream a bus adapter publishes to.
type Bus interface {
	Append(ctx context.Context, stream string, expected ExpectedVersion, sig Signal) error
}
