package proc

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"signalmesh/internal/domain"
)

// DefaultMailboxSize is the buffer of a spawned process mailbox.
const DefaultMailboxSize = 64

var (
	nextPID uint64
	nextRef uint64
)

// Ref is an opaque liveness token identifying one monitor subscription.
// Refs are globally unique for the lifetime of the process.
type Ref uint64

// Down is the terminal notification delivered exactly once per monitor.
type Down struct {
	Ref    Ref
	PID    *Proc
	Reason error
}

// Envelope is one mailbox entry. ReplyTo is non-nil for synchronous calls;
// the receiver is expected to send exactly one reply.
type Envelope struct {
	Msg     any
	ReplyTo chan any
}

// Proc is a single logical actor: a mailbox owned by one goroutine, a done
// channel closed on exit, and a set of monitors notified of termination.
type Proc struct {
	id      uint64
	mailbox chan Envelope
	done    chan struct{}

	mu       sync.Mutex
	reason   error
	exited   bool
	monitors map[Ref]chan<- Down
}

// Spawn creates a process handle. The caller owns the receive loop and must
// call Exit when it terminates.
func Spawn(mailboxSize int) *Proc {
	if mailboxSize <= 0 {
		mailboxSize = DefaultMailboxSize
	}
	return &Proc{
		id:       atomic.AddUint64(&nextPID, 1),
		mailbox:  make(chan Envelope, mailboxSize),
		done:     make(chan struct{}),
		monitors: make(map[Ref]chan<- Down),
	}
}

// ID returns the numeric process identifier.
func (p *Proc) ID() uint64 { return p.id }

// Receive exposes the mailbox to the owning loop.
func (p *Proc) Receive() <-chan Envelope { return p.mailbox }

// Done is closed when the process exits.
func (p *Proc) Done() <-chan struct{} { return p.done }

// Alive reports whether the process has not yet exited.
func (p *Proc) Alive() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// Reason returns the recorded exit reason, or nil while alive.
func (p *Proc) Reason() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reason
}

// Exit terminates the process: records the reason, closes done, and delivers
// one Down per registered monitor. Idempotent; only the first reason sticks.
func (p *Proc) Exit(reason error) {
	p.mu.Lock()
	if p.exited {
		p.mu.Unlock()
		return
	}
	p.exited = true
	p.reason = reason
	monitors := p.monitors
	p.monitors = nil
	p.mu.Unlock()

	close(p.done)
	for ref, ch := range monitors {
		deliverDown(ch, Down{Ref: ref, PID: p, Reason: reason})
	}
}

// Monitor subscribes notify to this process's termination. If the process
// already exited, the Down is delivered immediately. Exactly one Down is
// delivered per returned Ref.
func (p *Proc) Monitor(notify chan<- Down) Ref {
	ref := Ref(atomic.AddUint64(&nextRef, 1))

	p.mu.Lock()
	if p.exited {
		reason := p.reason
		p.mu.Unlock()
		deliverDown(notify, Down{Ref: ref, PID: p, Reason: reason})
		return ref
	}
	p.monitors[ref] = notify
	p.mu.Unlock()
	return ref
}

// Demonitor cancels a monitor subscription. No Down will be delivered for
// ref afterwards. Unknown refs are a no-op.
func (p *Proc) Demonitor(ref Ref) {
	p.mu.Lock()
	delete(p.monitors, ref)
	p.mu.Unlock()
}

// deliverDown never blocks the exiting process on a slow subscriber: the
// notify channel is expected to be buffered, with a goroutine fallback.
func deliverDown(ch chan<- Down, d Down) {
	select {
	case ch <- d:
	default:
		go func() { ch <- d }()
	}
}

// Send delivers msg fire-and-forget. Fails fast with ErrProcessNotAlive when
// the target already exited; never blocks past process death.
func (p *Proc) Send(msg any) error {
	select {
	case <-p.done:
		return p.notAlive()
	default:
	}
	select {
	case p.mailbox <- Envelope{Msg: msg}:
		return nil
	case <-p.done:
		return p.notAlive()
	}
}

// Call delivers msg and blocks for a reply up to timeout. Returns
// ErrProcessNotAlive without waiting when the target is already dead, and
// ErrTimeout when the deadline elapses first.
func (p *Proc) Call(ctx context.Context, msg any, timeout time.Duration) (any, error) {
	select {
	case <-p.done:
		return nil, p.notAlive()
	default:
	}

	reply := make(chan any, 1)
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case p.mailbox <- Envelope{Msg: msg, ReplyTo: reply}:
	case <-p.done:
		return nil, p.notAlive()
	case <-timer.C:
		return nil, domain.ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case resp := <-reply:
		return resp, nil
	case <-p.done:
		return nil, p.notAlive()
	case <-timer.C:
		return nil, domain.ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *Proc) notAlive() error {
	if reason := p.Reason(); reason != nil {
		return fmt.Errorf("%w: %v", domain.ErrProcessNotAlive, reason)
	}
	return domain.ErrProcessNotAlive
}
