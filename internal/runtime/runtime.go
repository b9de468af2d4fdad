package runtime

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"signalmesh/internal/domain"
)

// Runtime owns the set of top-level agent instances and provides lookup and
// signal routing by instance id.
type Runtime struct {
	mu        sync.RWMutex
	instances map[string]*Instance
	deps      Deps
	ctx       context.Context
	logger    *slog.Logger
}

// New creates a runtime. The context bounds the lifetime of every instance
// spawned through it.
func New(ctx context.Context, deps Deps) *Runtime {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Runtime{
		instances: make(map[string]*Instance),
		deps:      deps,
		ctx:       ctx,
		logger:    deps.Logger,
	}
}

// Spawn validates opts, starts the instance loop, and registers it.
// Returns ErrDuplicate if the id is already registered.
func (r *Runtime) Spawn(opts Options) (*Instance, error) {
	if opts.SpawnFunc == nil {
		opts.SpawnFunc = r.spawnChild
	}
	inst, err := NewInstance(opts, r.deps)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if _, exists := r.instances[inst.ID()]; exists {
		r.mu.Unlock()
		return nil, domain.NewDomainError("Runtime.Spawn", domain.ErrDuplicate, inst.ID())
	}
	r.instances[inst.ID()] = inst
	r.mu.Unlock()

	inst.Start(r.ctx)

	// Drop the registration once the instance exits.
	go func() {
		<-inst.Done()
		r.mu.Lock()
		if r.instances[inst.ID()] == inst {
			delete(r.instances, inst.ID())
		}
		r.mu.Unlock()
	}()

	r.logger.Info("instance spawned", "instance", inst.ID())
	return inst, nil
}

// spawnChild is the default SpawnFunc for child instances: children start
// under the runtime's context but are not registered at top level; their
// lifecycle belongs to the parent's hierarchy.
func (r *Runtime) spawnChild(opts Options) (*Instance, error) {
	if opts.SpawnFunc == nil {
		opts.SpawnFunc = r.spawnChild
	}
	inst, err := NewInstance(opts, r.deps)
	if err != nil {
		return nil, err
	}
	inst.Start(r.ctx)
	return inst, nil
}

// Get returns the registered instance for id, or ErrNotFound.
func (r *Runtime) Get(id string) (*Instance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, ok := r.instances[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return inst, nil
}

// Send routes a signal to the instance registered under id.
func (r *Runtime) Send(id string, sig domain.Signal) error {
	inst, err := r.Get(id)
	if err != nil {
		return domain.WrapOp("Runtime.Send", err)
	}
	return inst.Send(sig)
}

// List returns a snapshot of every registered instance, sorted by id.
func (r *Runtime) List(ctx context.Context) []Snapshot {
	r.mu.RLock()
	instances := make([]*Instance, 0, len(r.instances))
	for _, inst := range r.instances {
		instances = append(instances, inst)
	}
	r.mu.RUnlock()

	snapshots := make([]Snapshot, 0, len(instances))
	for _, inst := range instances {
		snap, err := inst.SnapshotState(ctx)
		if err != nil {
			continue
		}
		snapshots = append(snapshots, snap)
	}
	sort.Slice(snapshots, func(i, j int) bool { return snapshots[i].ID < snapshots[j].ID })
	return snapshots
}

// Shutdown stops every registered instance and waits for each to finish.
func (r *Runtime) Shutdown(ctx context.Context) {
	r.mu.RLock()
	instances := make([]*Instance, 0, len(r.instances))
	for _, inst := range r.instances {
		instances = append(instances, inst)
	}
	r.mu.RUnlock()

	for _, inst := range instances {
		if err := inst.Stop(ctx); err != nil {
			r.logger.Warn("instance stop timed out", "instance", inst.ID(), "error", err)
		}
	}
}
