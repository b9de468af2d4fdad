// Package broadcast provides named broadcast domains: in-process,
// goroutine-safe topic fan-out with no delivery acknowledgement.
package broadcast

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"signalmesh/internal/domain"
)

// Handler is a callback invoked for every signal published to a topic.
type Handler func(ctx context.Context, sig domain.Signal)

type subscription struct {
	id      uint64
	handler Handler
}

// Domain is one broadcast domain: a set of topics, each with subscribers.
// Delivery is fire-and-forget; each handler runs in its own goroutine and
// panicking handlers are recovered.
type Domain struct {
	name    string
	mu      sync.RWMutex
	topics  map[string][]subscription
	allSubs []subscription
	nextID  atomic.Uint64
	logger  *slog.Logger
	wg      sync.WaitGroup
	closed  atomic.Bool
}

// NewDomain creates a broadcast domain.
func NewDomain(name string, logger *slog.Logger) *Domain {
	if logger == nil {
		logger = slog.Default()
	}
	return &Domain{
		name:   name,
		topics: make(map[string][]subscription),
		logger: logger,
	}
}

// Name returns the domain's name.
func (d *Domain) Name() string { return d.name }

// Publish fans sig out to the topic's subscribers and all-topic subscribers.
func (d *Domain) Publish(ctx context.Context, topic string, sig domain.Signal) {
	if d.closed.Load() {
		return
	}

	d.mu.RLock()
	subs := make([]subscription, 0, len(d.topics[topic])+len(d.allSubs))
	subs = append(subs, d.topics[topic]...)
	subs = append(subs, d.allSubs...)
	d.mu.RUnlock()

	for _, sub := range subs {
		d.deliver(ctx, sig, sub)
	}
}

func (d *Domain) deliver(ctx context.Context, sig domain.Signal, sub subscription) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error("broadcast handler panicked",
					"domain", d.name,
					"signal", sig.ID,
					"panic", r,
				)
			}
		}()
		sub.handler(ctx, sig)
	}()
}

// Subscribe registers a handler for one topic. Returns an unsubscribe func.
func (d *Domain) Subscribe(topic string, handler Handler) func() {
	id := d.nextID.Add(1)
	sub := subscription{id: id, handler: handler}

	d.mu.Lock()
	d.topics[topic] = append(d.topics[topic], sub)
	d.mu.Unlock()

	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		subs := d.topics[topic]
		for i, s := range subs {
			if s.id == id {
				d.topics[topic] = append(subs[:i], subs[i+1:]...)
				return
			}
		}
	}
}

// SubscribeAll registers a handler for every topic in the domain.
func (d *Domain) SubscribeAll(handler Handler) func() {
	id := d.nextID.Add(1)
	sub := subscription{id: id, handler: handler}

	d.mu.Lock()
	d.allSubs = append(d.allSubs, sub)
	d.mu.Unlock()

	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		for i, s := range d.allSubs {
			if s.id == id {
				d.allSubs = append(d.allSubs[:i], d.allSubs[i+1:]...)
				return
			}
		}
	}
}

// Close prevents new publishes and waits for in-flight handlers. Idempotent.
func (d *Domain) Close() {
	if d.closed.Swap(true) {
		return
	}
	d.wg.Wait()
}

// Registry resolves broadcast domains by name for the broadcast adapter.
type Registry struct {
	mu      sync.RWMutex
	domains map[string]*Domain
}

// NewRegistry creates an empty domain registry.
func NewRegistry() *Registry {
	return &Registry{domains: make(map[string]*Domain)}
}

// Add registers a domain under its name, replacing any previous holder.
func (r *Registry) Add(d *Domain) {
	r.mu.Lock()
	r.domains[d.Name()] = d
	r.mu.Unlock()
}

// Get resolves a domain by name, or ErrBroadcastDomainNotFound.
func (r *Registry) Get(name string) (*Domain, error) {
	r.mu.RLock()
	d, ok := r.domains[name]
	r.mu.RUnlock()
	if !ok {
		return nil, domain.ErrBroadcastDomainNotFound
	}
	return d, nil
}

// CloseAll closes every registered domain.
func (r *Registry) CloseAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, d := range r.domains {
		d.Close()
	}
}
