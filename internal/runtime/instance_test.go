package runtime

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signalmesh/internal/domain"
	"signalmesh/internal/proc"
)

type dispatchCall struct {
	sig     domain.Signal
	targets []domain.DispatchTarget
}

// recordingDispatcher captures every dispatch and signals arrival on a
// channel so tests can block on delivery instead of sleeping.
type recordingDispatcher struct {
	mu    sync.Mutex
	calls []dispatchCall
	ch    chan dispatchCall
	err   error
}

func newRecordingDispatcher() *recordingDispatcher {
	return &recordingDispatcher{ch: make(chan dispatchCall, 32)}
}

func (r *recordingDispatcher) Dispatch(_ context.Context, sig domain.Signal, targets []domain.DispatchTarget) error {
	call := dispatchCall{sig: sig, targets: targets}
	r.mu.Lock()
	r.calls = append(r.calls, call)
	r.mu.Unlock()
	r.ch <- call
	return r.err
}

func awaitCall(t *testing.T, r *recordingDispatcher) dispatchCall {
	t.Helper()
	select {
	case c := <-r.ch:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("no dispatch observed")
		return dispatchCall{}
	}
}

func assertNoCall(t *testing.T, r *recordingDispatcher, within time.Duration) {
	t.Helper()
	select {
	case c := <-r.ch:
		t.Fatalf("unexpected dispatch: %s", c.sig.Type)
	case <-time.After(within):
	}
}

func quietDeps(disp Dispatcher) Deps {
	return Deps{
		Dispatcher: disp,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func startInstance(t *testing.T, opts Options, disp Dispatcher) *Instance {
	t.Helper()
	if opts.MailboxSize == 0 {
		opts.MailboxSize = 16
	}
	inst, err := NewInstance(opts, quietDeps(disp))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
		inst.Stop(stopCtx)
		stopCancel()
		cancel()
	})
	inst.Start(ctx)
	return inst
}

func TestInstanceStartsIdle(t *testing.T) {
	inst := startInstance(t, testOptions(), newRecordingDispatcher())

	status, err := inst.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.StatusIdle, status)
}

func TestSignalEmitsThroughDispatcher(t *testing.T) {
	disp := newRecordingDispatcher()
	defaults := []domain.DispatchTarget{{Adapter: "noop"}}

	opts := testOptions()
	opts.DefaultDispatch = defaults
	opts.Agent = domain.AgentFunc(func(value any, sig domain.Signal) (any, []domain.Directive, error) {
		return value, []domain.Directive{
			domain.Emit{Signal: domain.Signal{ID: domain.NewID(), Type: "out.event"}},
		}, nil
	})
	inst := startInstance(t, opts, disp)

	trigger := domain.NewSignal("in.event", "test", nil)
	require.NoError(t, inst.Send(trigger))

	call := awaitCall(t, disp)
	assert.Equal(t, "out.event", call.sig.Type)
	// Causation metadata links back to the trigger.
	assert.Equal(t, trigger.ID, call.sig.CausationID)
	assert.Equal(t, trigger.ID, call.sig.CorrelationID)
	// Unset source defaults to the emitting instance.
	assert.Equal(t, "inst-1", call.sig.Source)
	// Empty emit config falls back to the instance default.
	assert.Equal(t, defaults, call.targets)
}

func TestEmitExplicitConfigOverridesDefault(t *testing.T) {
	disp := newRecordingDispatcher()
	explicit := []domain.DispatchTarget{{Adapter: "console"}}

	opts := testOptions()
	opts.DefaultDispatch = []domain.DispatchTarget{{Adapter: "noop"}}
	opts.Agent = domain.AgentFunc(func(value any, sig domain.Signal) (any, []domain.Directive, error) {
		return value, []domain.Directive{
			domain.Emit{
				Signal: domain.NewSignal("out.event", "explicit", nil),
				Config: explicit,
			},
		}, nil
	})
	inst := startInstance(t, opts, disp)

	require.NoError(t, inst.Send(domain.NewSignal("in.event", "test", nil)))
	call := awaitCall(t, disp)
	assert.Equal(t, explicit, call.targets)
	assert.Equal(t, "explicit", call.sig.Source)
}

func TestHandlerErrorCountsAndSkipsDirectives(t *testing.T) {
	disp := newRecordingDispatcher()
	opts := testOptions()
	opts.Agent = domain.AgentFunc(func(value any, sig domain.Signal) (any, []domain.Directive, error) {
		return value, nil, fmt.Errorf("handler broke")
	})
	inst := startInstance(t, opts, disp)

	require.NoError(t, inst.Send(domain.NewSignal("in.event", "test", nil)))

	snap := awaitSnapshot(t, inst, func(s Snapshot) bool { return s.ErrorCount == 1 })
	assert.Equal(t, uint64(1), snap.ErrorCount)
	assertNoCall(t, disp, 100*time.Millisecond)
}

func TestDispatchFailureIncrementsErrorCount(t *testing.T) {
	disp := newRecordingDispatcher()
	disp.err = fmt.Errorf("all targets down")

	opts := testOptions()
	opts.Agent = domain.AgentFunc(func(value any, sig domain.Signal) (any, []domain.Directive, error) {
		return value, []domain.Directive{
			domain.Emit{Signal: domain.NewSignal("out.event", "x", nil)},
		}, nil
	})
	inst := startInstance(t, opts, disp)

	require.NoError(t, inst.Send(domain.NewSignal("in.event", "test", nil)))
	awaitCall(t, disp)

	snap := awaitSnapshot(t, inst, func(s Snapshot) bool { return s.ErrorCount == 1 })
	assert.Equal(t, uint64(1), snap.ErrorCount)
}

func TestNotifyCompletionResolvesWaiter(t *testing.T) {
	opts := testOptions()
	opts.Agent = domain.AgentFunc(func(value any, sig domain.Signal) (any, []domain.Directive, error) {
		return value, []domain.Directive{
			domain.NotifyCompletion{Token: "job-1", Result: "done"},
		}, nil
	})
	inst := startInstance(t, opts, newRecordingDispatcher())

	waiter, err := inst.AwaitCompletion(context.Background(), "job-1")
	require.NoError(t, err)

	require.NoError(t, inst.Send(domain.NewSignal("in.event", "test", nil)))

	select {
	case result := <-waiter:
		assert.Equal(t, "done", result)
	case <-time.After(2 * time.Second):
		t.Fatal("completion never delivered")
	}
}

func TestStopClosesPendingWaiters(t *testing.T) {
	inst := startInstance(t, testOptions(), newRecordingDispatcher())

	waiter, err := inst.AwaitCompletion(context.Background(), "never")
	require.NoError(t, err)

	require.NoError(t, inst.Stop(context.Background()))

	select {
	case _, open := <-waiter:
		assert.False(t, open, "waiter should be closed, not resolved")
	case <-time.After(2 * time.Second):
		t.Fatal("waiter never closed on stop")
	}
}

func TestSpawnAndStopChild(t *testing.T) {
	disp := newRecordingDispatcher()
	deps := quietDeps(disp)
	ctx := context.Background()

	var spawned *Instance
	var spawnMu sync.Mutex
	spawn := func(o Options) (*Instance, error) {
		child, err := NewInstance(o, deps)
		if err != nil {
			return nil, err
		}
		child.Start(ctx)
		spawnMu.Lock()
		spawned = child
		spawnMu.Unlock()
		return child, nil
	}

	opts := testOptions()
	opts.SpawnFunc = spawn
	opts.Agent = domain.AgentFunc(func(value any, sig domain.Signal) (any, []domain.Directive, error) {
		switch sig.Type {
		case "spawn":
			return value, []domain.Directive{
				domain.SpawnChild{Tag: "worker", Options: Options{
					ID: "child-1", AgentType: "test", Agent: noopAgent(), MailboxSize: 8,
				}},
			}, nil
		case "stop":
			return value, []domain.Directive{domain.StopChild{Tag: "worker"}}, nil
		}
		return value, nil, nil
	})
	inst := startInstance(t, opts, disp)

	require.NoError(t, inst.Send(domain.NewSignal("spawn", "test", nil)))
	snap := awaitSnapshot(t, inst, func(s Snapshot) bool { return len(s.Children) == 1 })
	assert.Equal(t, []string{"worker"}, snap.Children)

	spawnMu.Lock()
	child := spawned
	spawnMu.Unlock()
	require.NotNil(t, child)

	require.NoError(t, inst.Send(domain.NewSignal("stop", "test", nil)))
	awaitSnapshot(t, inst, func(s Snapshot) bool { return len(s.Children) == 0 })

	select {
	case <-child.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("stopped child never exited")
	}
}

func TestChildDeathRemovedFromHierarchy(t *testing.T) {
	disp := newRecordingDispatcher()
	deps := quietDeps(disp)
	ctx := context.Background()

	var spawned *Instance
	var spawnMu sync.Mutex
	spawn := func(o Options) (*Instance, error) {
		child, err := NewInstance(o, deps)
		if err != nil {
			return nil, err
		}
		child.Start(ctx)
		spawnMu.Lock()
		spawned = child
		spawnMu.Unlock()
		return child, nil
	}

	opts := testOptions()
	opts.SpawnFunc = spawn
	opts.Agent = domain.AgentFunc(func(value any, sig domain.Signal) (any, []domain.Directive, error) {
		if sig.Type != "spawn" {
			return value, nil, nil
		}
		return value, []domain.Directive{
			domain.SpawnChild{Tag: "worker", Options: Options{
				ID: "child-2", AgentType: "test", Agent: noopAgent(), MailboxSize: 8,
			}},
		}, nil
	})
	inst := startInstance(t, opts, disp)

	require.NoError(t, inst.Send(domain.NewSignal("spawn", "test", nil)))
	awaitSnapshot(t, inst, func(s Snapshot) bool { return len(s.Children) == 1 })

	spawnMu.Lock()
	child := spawned
	spawnMu.Unlock()
	require.NotNil(t, child)

	// The child dies on its own; the parent observes the down and forgets it.
	require.NoError(t, child.Stop(context.Background()))
	snap := awaitSnapshot(t, inst, func(s Snapshot) bool { return len(s.Children) == 0 })
	assert.Empty(t, snap.Children)
}

func TestParentDeathStopPolicy(t *testing.T) {
	parent := proc.Spawn(1)

	opts := testOptions()
	opts.Parent = parent
	opts.OnParentDeath = domain.ParentDeathStop
	inst := startInstance(t, opts, newRecordingDispatcher())

	// Wait for the loop to be live before killing the parent.
	_, err := inst.Status(context.Background())
	require.NoError(t, err)

	parent.Exit(fmt.Errorf("parent crashed"))

	select {
	case <-inst.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("instance survived parent death under stop policy")
	}
}

func TestParentDeathIgnorePolicy(t *testing.T) {
	parent := proc.Spawn(1)

	opts := testOptions()
	opts.Parent = parent
	opts.OnParentDeath = domain.ParentDeathIgnore
	inst := startInstance(t, opts, newRecordingDispatcher())

	_, err := inst.Status(context.Background())
	require.NoError(t, err)

	parent.Exit(fmt.Errorf("parent crashed"))

	// The instance keeps serving after the parent is gone.
	time.Sleep(50 * time.Millisecond)
	status, err := inst.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.StatusIdle, status)
}

func TestScheduleTimerDelivers(t *testing.T) {
	disp := newRecordingDispatcher()
	opts := testOptions()
	opts.Agent = domain.AgentFunc(func(value any, sig domain.Signal) (any, []domain.Directive, error) {
		switch sig.Type {
		case "arm":
			return value, []domain.Directive{
				domain.ScheduleTimer{
					Token:  "t1",
					After:  20 * time.Millisecond,
					Signal: domain.NewSignal("tick", "timer", nil),
				},
			}, nil
		case "tick":
			return value, []domain.Directive{
				domain.Emit{Signal: domain.NewSignal("ticked", "timer", nil)},
			}, nil
		}
		return value, nil, nil
	})
	inst := startInstance(t, opts, disp)

	require.NoError(t, inst.Send(domain.NewSignal("arm", "test", nil)))
	call := awaitCall(t, disp)
	assert.Equal(t, "ticked", call.sig.Type)
}

func TestCancelTimerSuppressesDelivery(t *testing.T) {
	disp := newRecordingDispatcher()
	opts := testOptions()
	opts.Agent = domain.AgentFunc(func(value any, sig domain.Signal) (any, []domain.Directive, error) {
		switch sig.Type {
		case "arm":
			return value, []domain.Directive{
				domain.ScheduleTimer{
					Token:  "t1",
					After:  150 * time.Millisecond,
					Signal: domain.NewSignal("tick", "timer", nil),
				},
				domain.CancelTimer{Token: "t1"},
			}, nil
		case "tick":
			return value, []domain.Directive{
				domain.Emit{Signal: domain.NewSignal("ticked", "timer", nil)},
			}, nil
		}
		return value, nil, nil
	})
	inst := startInstance(t, opts, disp)

	require.NoError(t, inst.Send(domain.NewSignal("arm", "test", nil)))
	assertNoCall(t, disp, 300*time.Millisecond)
}

func TestCronDirectiveWithoutSchedulerCountsError(t *testing.T) {
	opts := testOptions()
	opts.Agent = domain.AgentFunc(func(value any, sig domain.Signal) (any, []domain.Directive, error) {
		return value, []domain.Directive{
			domain.CronSchedule{JobID: "j1", Schedule: "@every 1m", Signal: domain.NewSignal("tick", "cron", nil)},
		}, nil
	})
	inst := startInstance(t, opts, newRecordingDispatcher())

	require.NoError(t, inst.Send(domain.NewSignal("in.event", "test", nil)))
	snap := awaitSnapshot(t, inst, func(s Snapshot) bool { return s.ErrorCount == 1 })
	assert.Equal(t, uint64(1), snap.ErrorCount)
}

func TestCronCancelWithoutSchedulerCountsError(t *testing.T) {
	opts := testOptions()
	opts.Agent = domain.AgentFunc(func(value any, sig domain.Signal) (any, []domain.Directive, error) {
		return value, []domain.Directive{domain.CronCancel{JobID: "j1"}}, nil
	})
	inst := startInstance(t, opts, newRecordingDispatcher())

	require.NoError(t, inst.Send(domain.NewSignal("in.event", "test", nil)))

	// The run loop survives and accounts the failure.
	snap := awaitSnapshot(t, inst, func(s Snapshot) bool { return s.ErrorCount == 1 })
	assert.Equal(t, uint64(1), snap.ErrorCount)

	status, err := inst.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.StatusIdle, status)
}

func TestAwaitCompletionDisplacesEarlierWaiter(t *testing.T) {
	opts := testOptions()
	opts.Agent = domain.AgentFunc(func(value any, sig domain.Signal) (any, []domain.Directive, error) {
		return value, []domain.Directive{
			domain.NotifyCompletion{Token: "job-1", Result: "done"},
		}, nil
	})
	inst := startInstance(t, opts, newRecordingDispatcher())

	first, err := inst.AwaitCompletion(context.Background(), "job-1")
	require.NoError(t, err)
	second, err := inst.AwaitCompletion(context.Background(), "job-1")
	require.NoError(t, err)

	// The displaced waiter is closed immediately, not left hanging.
	select {
	case _, open := <-first:
		assert.False(t, open, "displaced waiter should be closed, not resolved")
	case <-time.After(2 * time.Second):
		t.Fatal("displaced waiter never closed")
	}

	require.NoError(t, inst.Send(domain.NewSignal("in.event", "test", nil)))
	select {
	case result := <-second:
		assert.Equal(t, "done", result)
	case <-time.After(2 * time.Second):
		t.Fatal("completion never delivered to the live waiter")
	}
}

func TestDirectiveOverflowCountsError(t *testing.T) {
	disp := newRecordingDispatcher()
	opts := testOptions()
	opts.MaxQueueSize = 1
	opts.Agent = domain.AgentFunc(func(value any, sig domain.Signal) (any, []domain.Directive, error) {
		if sig.Type != "burst" {
			return value, nil, nil
		}
		return value, []domain.Directive{
			domain.Emit{Signal: domain.NewSignal("out.1", "x", nil)},
			domain.Emit{Signal: domain.NewSignal("out.2", "x", nil)},
			domain.Emit{Signal: domain.NewSignal("out.3", "x", nil)},
		}, nil
	})
	inst := startInstance(t, opts, disp)

	require.NoError(t, inst.Send(domain.NewSignal("burst", "test", nil)))

	// The directive that fit still executes.
	call := awaitCall(t, disp)
	assert.Equal(t, "out.1", call.sig.Type)
	assertNoCall(t, disp, 100*time.Millisecond)

	snap := awaitSnapshot(t, inst, func(s Snapshot) bool { return s.ErrorCount == 1 })
	assert.Equal(t, uint64(1), snap.ErrorCount)
}

func TestDebugEventsControlCall(t *testing.T) {
	opts := testOptions()
	opts.Debug = true
	inst := startInstance(t, opts, newRecordingDispatcher())

	require.NoError(t, inst.Send(domain.NewSignal("in.event", "test", nil)))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		events, err := inst.DebugEvents(context.Background(), 0)
		require.NoError(t, err)
		types := make([]string, len(events))
		for i, e := range events {
			types[i] = e.Type
		}
		if contains(types, "signal.received") && contains(types, "instance.started") {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("expected debug events never recorded")
}

func TestSnapshotFields(t *testing.T) {
	inst := startInstance(t, testOptions(), newRecordingDispatcher())

	snap, err := inst.SnapshotState(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "inst-1", snap.ID)
	assert.Equal(t, "test", snap.AgentType)
	assert.Equal(t, domain.StatusIdle, snap.Status)
	assert.Zero(t, snap.QueueLen)
	assert.Empty(t, snap.Children)
}

// awaitSnapshot polls until the snapshot satisfies cond or the deadline hits.
func awaitSnapshot(t *testing.T, inst *Instance, cond func(Snapshot) bool) Snapshot {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	var last Snapshot
	for time.Now().Before(deadline) {
		snap, err := inst.SnapshotState(context.Background())
		require.NoError(t, err)
		if cond(snap) {
			return snap
		}
		last = snap
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("snapshot condition never met, last: %+v", last)
	return last
}

func contains(ss []string, want string) bool {
	for _, s := range ss {
		if s == want {
			return true
		}
	}
	return false
}
