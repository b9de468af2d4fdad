package runtime

import (
	"fmt"
	"time"

	"signalmesh/internal/domain"
	"signalmesh/internal/proc"
)

const (
	// DefaultMaxQueueSize bounds the directive queue unless overridden.
	DefaultMaxQueueSize = 10000
	// debugRingCapacity is the size of the per-instance debug event buffer.
	debugRingCapacity = 50
)

// SpawnFunc creates a child instance from options. Instances use the
// runtime's spawner unless overridden at construction.
type SpawnFunc func(opts Options) (*Instance, error)

// Options configures one agent instance. Validated once at construction;
// an invalid set fails outright rather than partially initializing.
type Options struct {
	ID           string
	AgentType    string
	Agent        domain.Agent
	InitialValue any

	Parent        *proc.Proc
	OnParentDeath domain.ParentDeathPolicy

	DefaultDispatch []domain.DispatchTarget
	MaxQueueSize    int
	MailboxSize     int
	Debug           bool
	SpawnFunc       SpawnFunc
}

func (o *Options) validate() error {
	if o.ID == "" {
		return domain.NewDomainError("runtime.NewState", domain.ErrMissingRequiredOption, "id")
	}
	if o.AgentType == "" {
		return domain.NewDomainError("runtime.NewState", domain.ErrMissingRequiredOption, "agent_type")
	}
	if o.Agent == nil {
		return domain.NewDomainError("runtime.NewState", domain.ErrMissingRequiredOption, "agent")
	}
	if o.MaxQueueSize < 0 {
		return domain.NewDomainError("runtime.NewState", domain.ErrInvalidDispatchConfig,
			fmt.Sprintf("max_queue_size %d", o.MaxQueueSize))
	}
	if o.MaxQueueSize == 0 {
		o.MaxQueueSize = DefaultMaxQueueSize
	}
	if o.OnParentDeath == "" {
		o.OnParentDeath = domain.ParentDeathStop
	}
	if !o.OnParentDeath.Valid() {
		return domain.NewDomainError("runtime.NewState", domain.ErrInvalidStatus,
			fmt.Sprintf("on_parent_death %q", o.OnParentDeath))
	}
	return nil
}

// State is the authoritative runtime record for one agent instance. It is
// exclusively owned and mutated by the instance's run loop (single writer);
// external readers go through Instance control calls.
type State struct {
	id        string
	agentType string
	agent     domain.Agent
	value     any

	status     domain.Status
	processing bool
	queue      *directiveQueue

	hier          *hierarchy
	parent        *proc.Proc
	parentRef     proc.Ref
	onParentDeath domain.ParentDeathPolicy

	defaultDispatch []domain.DispatchTarget
	maxQueueSize    int
	spawnFunc       SpawnFunc

	errorCount        uint64
	metrics           map[string]any
	completionWaiters map[string]chan any
	timers            map[string]*time.Timer
	cronJobs          map[string]struct{}

	debug       bool
	debugEvents *debugRing
}

// NewState builds a validated instance state. Never partially constructed.
func NewState(opts Options) (*State, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	return &State{
		id:                opts.ID,
		agentType:         opts.AgentType,
		agent:             opts.Agent,
		value:             opts.InitialValue,
		status:            domain.StatusInitializing,
		queue:             newDirectiveQueue(opts.MaxQueueSize),
		hier:              newHierarchy(),
		parent:            opts.Parent,
		onParentDeath:     opts.OnParentDeath,
		defaultDispatch:   opts.DefaultDispatch,
		maxQueueSize:      opts.MaxQueueSize,
		spawnFunc:         opts.SpawnFunc,
		metrics:           make(map[string]any),
		completionWaiters: make(map[string]chan any),
		timers:            make(map[string]*time.Timer),
		cronJobs:          make(map[string]struct{}),
		debug:             opts.Debug,
		debugEvents:       newDebugRing(debugRingCapacity),
	}, nil
}

// ID returns the instance identifier.
func (s *State) ID() string { return s.id }

// AgentType returns the agent type identifier.
func (s *State) AgentType() string { return s.agentType }

// Status returns the current lifecycle status.
func (s *State) Status() domain.Status { return s.status }

// SetStatus transitions to target, rejecting unknown statuses.
func (s *State) SetStatus(target domain.Status) error {
	if !target.Valid() {
		return domain.NewDomainError("State.SetStatus", domain.ErrInvalidStatus, string(target))
	}
	s.status = target
	return nil
}

// ErrorCount returns the monotonic count of directive-execution failures.
func (s *State) ErrorCount() uint64 { return s.errorCount }

// QueueLen returns the number of pending directives.
func (s *State) QueueLen() int { return s.queue.Len() }

// QueueEmpty reports whether the directive queue is drained.
func (s *State) QueueEmpty() bool { return s.queue.Empty() }

// Enqueue appends one (signal, directive) pair, or ErrQueueOverflow.
func (s *State) Enqueue(sig domain.Signal, d domain.Directive) error {
	return s.queue.Enqueue(sig, d)
}

// EnqueueAll appends directives in order, aborting on first overflow.
func (s *State) EnqueueAll(sig domain.Signal, ds []domain.Directive) error {
	return s.queue.EnqueueAll(sig, ds)
}

// Dequeue removes the oldest pending entry, FIFO.
func (s *State) Dequeue() (domain.Signal, domain.Directive, bool) {
	e, ok := s.queue.Dequeue()
	return e.sig, e.directive, ok
}

// AddChild registers a child under tag, indexing its monitor ref and pid.
func (s *State) AddChild(tag string, info ChildInfo) {
	s.hier.add(tag, info)
}

// RemoveChild removes a child by tag. Absence is a normal outcome.
func (s *State) RemoveChild(tag string) (ChildInfo, bool) {
	return s.hier.remove(tag)
}

// RemoveChildByPID resolves and removes the child owning pid,
// returning its tag.
func (s *State) RemoveChildByPID(pid *proc.Proc) (string, bool) {
	tag, _, ok := s.hier.removeByPID(pid)
	return tag, ok
}

// RemoveChildByMonitorRef resolves and removes the child owning ref,
// returning its tag.
func (s *State) RemoveChildByMonitorRef(ref proc.Ref) (string, bool) {
	tag, _, ok := s.hier.removeByMonitorRef(ref)
	return tag, ok
}

// Child returns the child registered under tag.
func (s *State) Child(tag string) (ChildInfo, bool) { return s.hier.get(tag) }

// Children returns the tags of all live children.
func (s *State) Children() []string { return s.hier.tags() }

// RecordDebugEvent appends a diagnostic event to the ring buffer. No-op when
// debugging is disabled, keeping the hot path free.
func (s *State) RecordDebugEvent(eventType string, data any) {
	if !s.debug {
		return
	}
	s.debugEvents.record(DebugEvent{
		Timestamp: time.Now(),
		Type:      eventType,
		Data:      data,
	})
}

// DebugEvents returns up to limit recorded events, newest first.
// limit <= 0 returns all.
func (s *State) DebugEvents(limit int) []DebugEvent {
	return s.debugEvents.snapshot(limit)
}

// SetMetric records a free-form observability value.
func (s *State) SetMetric(key string, value any) { s.metrics[key] = value }

// Metric reads a previously recorded value.
func (s *State) Metric(key string) (any, bool) {
	v, ok := s.metrics[key]
	return v, ok
}
