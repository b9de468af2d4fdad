package dispatch

import (
	"context"
	"fmt"

	"signalmesh/internal/domain"
	"signalmesh/internal/proc"
)

// Direct-process option keys.
const OptPID = "pid" // *proc.Proc target

// DirectAdapter hands a signal to a live process reference: async is a
// fire-and-forget mailbox send, sync is a blocking request/response bounded
// by the configured timeout.
type DirectAdapter struct{}

// NewDirectAdapter creates the direct-process adapter.
func NewDirectAdapter() *DirectAdapter { return &DirectAdapter{} }

func (a *DirectAdapter) ValidateOpts(opts domain.Options) (domain.Options, error) {
	out, err := normalizeDelivery(opts)
	if err != nil {
		return nil, err
	}
	pid, ok := out[OptPID]
	if !ok {
		return nil, domain.NewDomainError("direct.ValidateOpts", domain.ErrMissingRequiredOption, OptPID)
	}
	if _, ok := pid.(*proc.Proc); !ok {
		return nil, domain.NewDomainError("direct.ValidateOpts", domain.ErrInvalidDispatchConfig,
			fmt.Sprintf("pid %T", pid))
	}
	return out, nil
}

func (a *DirectAdapter) Deliver(ctx context.Context, sig domain.Signal, opts domain.Options) error {
	pid := opts[OptPID].(*proc.Proc)
	return deliverToProc(ctx, pid, sig, opts)
}

// deliverToProc is shared by the direct and named adapters once a live
// process reference is in hand.
func deliverToProc(ctx context.Context, pid *proc.Proc, sig domain.Signal, opts domain.Options) error {
	msg := formatMessage(sig, opts)
	if !isSync(opts) {
		return pid.Send(msg)
	}
	_, err := pid.Call(ctx, msg, timeoutOf(opts))
	return err
}
