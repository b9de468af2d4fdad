package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"signalmesh/internal/domain"
	"signalmesh/internal/infra/tracer"
	"signalmesh/internal/proc"
	"signalmesh/internal/runtime/sched"
)

// Dispatcher routes outbound signals to configured destinations.
// Satisfied by dispatch.Dispatcher.
type Dispatcher interface {
	Dispatch(ctx context.Context, sig domain.Signal, targets []domain.DispatchTarget) error
}

// Deps are the collaborators an instance needs beyond its own state.
type Deps struct {
	Dispatcher Dispatcher
	Scheduler  *sched.Scheduler
	Logger     *slog.Logger
}

// control messages handled by the run loop via proc calls.
type (
	ctrlStatus      struct{}
	ctrlSnapshot    struct{}
	ctrlDebugEvents struct{ limit int }
	ctrlAwait       struct{ token string }
	ctrlStop        struct{ reason error }
)

// Snapshot is a read-only view of an instance for inspection tooling.
type Snapshot struct {
	ID         string        `json:"id"`
	AgentType  string        `json:"agent_type"`
	Status     domain.Status `json:"status"`
	QueueLen   int           `json:"queue_len"`
	Children   []string      `json:"children"`
	ErrorCount uint64        `json:"error_count"`
}

// Instance is one agent instance: a state record owned by a single goroutine
// that drains a mailbox of signals, liveness notifications, and control
// calls. All cross-instance interaction is message passing; the state struct
// never escapes the loop.
type Instance struct {
	state  *State
	pid    *proc.Proc
	deps   Deps
	downCh chan proc.Down
	logger *slog.Logger
}

// NewInstance validates options and builds a stopped instance.
// Call Start to begin the run loop.
func NewInstance(opts Options, deps Deps) (*Instance, error) {
	state, err := NewState(opts)
	if err != nil {
		return nil, err
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Instance{
		state:  state,
		pid:    proc.Spawn(opts.MailboxSize),
		deps:   deps,
		downCh: make(chan proc.Down, 16),
		logger: deps.Logger.With("instance", state.id, "agent_type", state.agentType),
	}, nil
}

// PID returns the instance's process handle.
func (i *Instance) PID() *proc.Proc { return i.pid }

// ID returns the instance identifier.
func (i *Instance) ID() string { return i.state.id }

// Done is closed when the instance has fully stopped.
func (i *Instance) Done() <-chan struct{} { return i.pid.Done() }

// Start launches the run loop. The context bounds the instance's lifetime.
func (i *Instance) Start(ctx context.Context) {
	go i.run(ctx)
}

// Send delivers an inbound signal to the instance's mailbox.
func (i *Instance) Send(sig domain.Signal) error {
	return i.pid.Send(sig)
}

// Status queries the current lifecycle status.
func (i *Instance) Status(ctx context.Context) (domain.Status, error) {
	resp, err := i.pid.Call(ctx, ctrlStatus{}, time.Second)
	if err != nil {
		return "", err
	}
	return resp.(domain.Status), nil
}

// SnapshotState returns a read-only view of the instance.
func (i *Instance) SnapshotState(ctx context.Context) (Snapshot, error) {
	resp, err := i.pid.Call(ctx, ctrlSnapshot{}, time.Second)
	if err != nil {
		return Snapshot{}, err
	}
	return resp.(Snapshot), nil
}

// DebugEvents returns up to limit debug events, newest first.
func (i *Instance) DebugEvents(ctx context.Context, limit int) ([]DebugEvent, error) {
	resp, err := i.pid.Call(ctx, ctrlDebugEvents{limit: limit}, time.Second)
	if err != nil {
		return nil, err
	}
	return resp.([]DebugEvent), nil
}

// AwaitCompletion registers a waiter for token and returns the channel a
// NotifyCompletion directive will resolve. The channel is buffered; the
// result is delivered at most once.
func (i *Instance) AwaitCompletion(ctx context.Context, token string) (<-chan any, error) {
	resp, err := i.pid.Call(ctx, ctrlAwait{token: token}, time.Second)
	if err != nil {
		return nil, err
	}
	return resp.(chan any), nil
}

// Stop requests shutdown and waits for the loop to finish.
func (i *Instance) Stop(ctx context.Context) error {
	if err := i.pid.Send(ctrlStop{}); err != nil {
		// Already stopped.
		return nil
	}
	select {
	case <-i.pid.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (i *Instance) run(ctx context.Context) {
	var exitReason error
	defer func() {
		i.cleanup()
		i.pid.Exit(exitReason)
		i.logger.Info("instance stopped")
	}()

	if i.state.parent != nil {
		i.state.parentRef = i.state.parent.Monitor(i.downCh)
	}
	i.state.SetStatus(domain.StatusIdle)
	i.state.RecordDebugEvent("instance.started", nil)
	i.logger.Info("instance started")

	for {
		select {
		case env := <-i.pid.Receive():
			if stop, reason := i.handleEnvelope(ctx, env); stop {
				exitReason = reason
				return
			}
		case d := <-i.downCh:
			if stop, reason := i.handleDown(ctx, d); stop {
				exitReason = reason
				return
			}
		case <-ctx.Done():
			exitReason = ctx.Err()
			return
		}
	}
}

// handleEnvelope processes one mailbox entry. Returns stop=true when the
// loop should terminate.
func (i *Instance) handleEnvelope(ctx context.Context, env proc.Envelope) (bool, error) {
	switch msg := env.Msg.(type) {
	case domain.Signal:
		i.handleSignal(ctx, msg)
	case ctrlStatus:
		env.ReplyTo <- i.state.Status()
	case ctrlSnapshot:
		env.ReplyTo <- Snapshot{
			ID:         i.state.id,
			AgentType:  i.state.agentType,
			Status:     i.state.Status(),
			QueueLen:   i.state.QueueLen(),
			Children:   i.state.Children(),
			ErrorCount: i.state.ErrorCount(),
		}
	case ctrlDebugEvents:
		env.ReplyTo <- i.state.DebugEvents(msg.limit)
	case ctrlAwait:
		ch := make(chan any, 1)
		// A re-registered token displaces the earlier waiter; close it so
		// that caller unblocks instead of waiting until instance stop.
		if old, ok := i.state.completionWaiters[msg.token]; ok {
			close(old)
		}
		i.state.completionWaiters[msg.token] = ch
		env.ReplyTo <- ch
	case ctrlStop:
		return true, msg.reason
	default:
		i.logger.Warn("unexpected mailbox message", "type", fmt.Sprintf("%T", env.Msg))
	}
	return false, nil
}

// handleSignal runs the agent's reaction function, queues the resulting
// directives, and drains the queue.
func (i *Instance) handleSignal(ctx context.Context, sig domain.Signal) {
	ctx, span := tracer.StartSpan(ctx, "instance.handle_signal")
	span.SetAttributes(
		attribute.String("signal.id", sig.ID),
		attribute.String("signal.type", sig.Type),
	)
	defer span.End()

	i.state.RecordDebugEvent("signal.received", map[string]string{"id": sig.ID, "type": sig.Type})

	value, directives, err := i.state.agent.Handle(i.state.value, sig)
	if err != nil {
		i.state.errorCount++
		i.state.RecordDebugEvent("agent.error", err.Error())
		i.logger.Error("agent handler failed", "signal", sig.ID, "error", err)
		tracer.RecordError(span, err)
		return
	}
	i.state.value = value

	if err := i.state.EnqueueAll(sig, directives); err != nil {
		i.state.errorCount++
		i.state.RecordDebugEvent("queue.overflow", map[string]any{"signal": sig.ID, "dropped": true})
		i.logger.Error("directive queue overflow", "signal", sig.ID, "queue_len", i.state.QueueLen())
	}

	i.drain(ctx)
}

// drain executes queued directives one at a time, FIFO. The processing flag
// brackets exactly one directive's side effects; a re-entrant drain while it
// is set is deferred to the in-flight drain rather than run in parallel.
func (i *Instance) drain(ctx context.Context) {
	if i.state.processing {
		return
	}
	for {
		sig, d, ok := i.state.Dequeue()
		if !ok {
			return
		}
		i.state.processing = true
		i.state.SetStatus(domain.StatusProcessing)

		i.execute(ctx, sig, d)

		i.state.processing = false
		i.state.SetStatus(domain.StatusIdle)
	}
}

// execute interprets one directive variant against the state. Delivery
// failures are localized: they increment error accounting and never abort
// the drain.
func (i *Instance) execute(ctx context.Context, trigger domain.Signal, d domain.Directive) {
	switch d := d.(type) {
	case domain.Emit:
		i.executeEmit(ctx, trigger, d)

	case domain.CronSchedule:
		i.executeCronSchedule(ctx, d)

	case domain.CronCancel:
		if i.deps.Scheduler == nil {
			i.state.errorCount++
			i.logger.Error("cron directive without scheduler", "job", d.JobID)
			return
		}
		i.deps.Scheduler.Remove(i.cronKey(d.JobID))
		delete(i.state.cronJobs, d.JobID)
		i.state.RecordDebugEvent("cron.cancelled", d.JobID)

	case domain.ScheduleTimer:
		i.executeScheduleTimer(d)

	case domain.CancelTimer:
		if t, ok := i.state.timers[d.Token]; ok {
			t.Stop()
			delete(i.state.timers, d.Token)
			i.state.RecordDebugEvent("timer.cancelled", d.Token)
		}

	case domain.SpawnChild:
		i.executeSpawnChild(ctx, d)

	case domain.StopChild:
		i.executeStopChild(d)

	case domain.NotifyCompletion:
		if ch, ok := i.state.completionWaiters[d.Token]; ok {
			ch <- d.Result
			delete(i.state.completionWaiters, d.Token)
		}

	default:
		i.state.errorCount++
		i.logger.Error("unknown directive variant", "type", fmt.Sprintf("%T", d))
	}
}

func (i *Instance) executeEmit(ctx context.Context, trigger domain.Signal, d domain.Emit) {
	targets := d.Config
	if len(targets) == 0 {
		targets = i.state.defaultDispatch
	}
	sig := d.Signal.CausedBy(trigger)
	if sig.Source == "" {
		sig.Source = i.state.id
	}

	if err := i.deps.Dispatcher.Dispatch(ctx, sig, targets); err != nil {
		i.state.errorCount++
		i.state.RecordDebugEvent("dispatch.error", err.Error())
		i.logger.Warn("dispatch failed", "signal", sig.ID, "error", err)
		return
	}
	i.state.RecordDebugEvent("signal.emitted", map[string]string{"id": sig.ID, "type": sig.Type})
}

func (i *Instance) executeCronSchedule(ctx context.Context, d domain.CronSchedule) {
	if i.deps.Scheduler == nil {
		i.state.errorCount++
		i.logger.Error("cron directive without scheduler", "job", d.JobID)
		return
	}
	jobID := d.JobID
	if jobID == "" {
		jobID = domain.NewID()
	}
	sig := d.Signal
	pid := i.pid
	err := i.deps.Scheduler.AddJob(i.cronKey(jobID), d.Schedule, d.OneShot, func(context.Context) error {
		return pid.Send(sig)
	})
	if err != nil {
		i.state.errorCount++
		i.state.RecordDebugEvent("cron.error", err.Error())
		i.logger.Error("cron schedule failed", "job", jobID, "error", err)
		return
	}
	i.state.cronJobs[jobID] = struct{}{}
	i.state.RecordDebugEvent("cron.scheduled", jobID)
}

func (i *Instance) executeScheduleTimer(d domain.ScheduleTimer) {
	token := d.Token
	if token == "" {
		token = domain.NewID()
	}
	if old, ok := i.state.timers[token]; ok {
		old.Stop()
	}
	sig := d.Signal
	pid := i.pid
	i.state.timers[token] = time.AfterFunc(d.After, func() {
		pid.Send(sig)
	})
	i.state.RecordDebugEvent("timer.scheduled", token)
}

func (i *Instance) executeSpawnChild(ctx context.Context, d domain.SpawnChild) {
	spawn := i.state.spawnFunc
	if spawn == nil {
		i.state.errorCount++
		i.logger.Error("spawn directive without spawn func", "tag", d.Tag)
		return
	}
	opts, ok := d.Options.(Options)
	if !ok {
		i.state.errorCount++
		i.logger.Error("spawn directive with invalid options", "tag", d.Tag)
		return
	}
	opts.Parent = i.pid
	if opts.SpawnFunc == nil {
		opts.SpawnFunc = spawn
	}

	child, err := spawn(opts)
	if err != nil {
		i.state.errorCount++
		i.state.RecordDebugEvent("spawn.error", err.Error())
		i.logger.Error("child spawn failed", "tag", d.Tag, "error", err)
		return
	}

	ref := child.PID().Monitor(i.downCh)
	i.state.AddChild(d.Tag, ChildInfo{Tag: d.Tag, PID: child.PID(), MonitorRef: ref})
	i.state.RecordDebugEvent("child.spawned", d.Tag)
	i.logger.Info("child spawned", "tag", d.Tag, "child", child.ID())
}

func (i *Instance) executeStopChild(d domain.StopChild) {
	info, ok := i.state.RemoveChild(d.Tag)
	if !ok {
		// Absent tags are a normal outcome, not a failure.
		i.state.RecordDebugEvent("child.stop_missing", d.Tag)
		return
	}
	if info.MonitorRef != 0 && info.PID != nil {
		info.PID.Demonitor(info.MonitorRef)
	}
	if info.PID != nil {
		info.PID.Send(ctrlStop{})
	}
	i.state.RecordDebugEvent("child.stopped", d.Tag)
}

// handleDown reacts to one liveness notification: the parent's death applies
// the configured policy; a child's death converges on RemoveChild.
func (i *Instance) handleDown(ctx context.Context, d proc.Down) (bool, error) {
	if i.state.parentRef != 0 && d.Ref == i.state.parentRef {
		i.state.RecordDebugEvent("parent.down", nil)
		switch i.state.onParentDeath {
		case domain.ParentDeathStop:
			i.logger.Info("parent died, stopping", "policy", "stop")
			return true, fmt.Errorf("parent exited: %w", domain.ErrInstanceStopped)
		default:
			i.logger.Debug("parent died, ignoring", "policy", "ignore")
			return false, nil
		}
	}

	if tag, ok := i.state.RemoveChildByMonitorRef(d.Ref); ok {
		i.state.RecordDebugEvent("child.down", tag)
		i.logger.Info("child exited", "tag", tag, "reason", d.Reason)
	}
	return false, nil
}

// cleanup releases every scheduled timer, cron entry, and monitor before the
// instance's own exit is observable. No resource outlives the loop.
func (i *Instance) cleanup() {
	i.state.SetStatus(domain.StatusStopping)

	for token, t := range i.state.timers {
		t.Stop()
		delete(i.state.timers, token)
	}
	if i.deps.Scheduler != nil {
		for jobID := range i.state.cronJobs {
			i.deps.Scheduler.Remove(i.cronKey(jobID))
			delete(i.state.cronJobs, jobID)
		}
	}
	for _, tag := range i.state.Children() {
		info, _ := i.state.RemoveChild(tag)
		if info.PID != nil && info.MonitorRef != 0 {
			info.PID.Demonitor(info.MonitorRef)
		}
	}
	if i.state.parent != nil && i.state.parentRef != 0 {
		i.state.parent.Demonitor(i.state.parentRef)
	}
	for token, ch := range i.state.completionWaiters {
		close(ch)
		delete(i.state.completionWaiters, token)
	}
}

func (i *Instance) cronKey(jobID string) string {
	return i.state.id + "/" + jobID
}
