package dispatch

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signalmesh/internal/broadcast"
	"signalmesh/internal/domain"
	"signalmesh/internal/journal"
	"signalmesh/internal/proc"
)

func TestNormalizeDeliveryDefaults(t *testing.T) {
	out, err := normalizeDelivery(domain.Options{})
	require.NoError(t, err)
	assert.Equal(t, ModeAsync, out[OptMode])
	assert.Equal(t, DefaultTimeoutMS, out[OptTimeoutMS])
}

func TestNormalizeDeliveryDoesNotMutateInput(t *testing.T) {
	in := domain.Options{}
	_, err := normalizeDelivery(in)
	require.NoError(t, err)
	assert.Empty(t, in)
}

func TestNormalizeDeliveryRejectsBadValues(t *testing.T) {
	tests := []struct {
		name string
		opts domain.Options
	}{
		{"bad mode", domain.Options{OptMode: "sideways"}},
		{"mode wrong type", domain.Options{OptMode: 7}},
		{"zero timeout", domain.Options{OptTimeoutMS: 0}},
		{"negative timeout", domain.Options{OptTimeoutMS: -100}},
		{"timeout wrong type", domain.Options{OptTimeoutMS: "fast"}},
		{"bad format", domain.Options{OptFormat: "json"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := normalizeDelivery(tt.opts)
			assert.ErrorIs(t, err, domain.ErrInvalidDispatchConfig)
		})
	}
}

// Validation is idempotent: validating already-validated options yields the
// same options.
func TestValidateOptsIdempotent(t *testing.T) {
	p := proc.Spawn(1)
	procs := proc.NewRegistry()
	require.NoError(t, procs.Register("w", p))

	adapters := map[string]struct {
		adapter domain.Adapter
		opts    domain.Options
	}{
		"direct":    {NewDirectAdapter(), domain.Options{OptPID: p}},
		"named":     {NewNamedAdapter(procs), domain.Options{OptName: "w"}},
		"bus":       {NewBusAdapter(journal.NewBusRegistry()), domain.Options{OptBus: "b", OptStream: "s"}},
		"broadcast": {NewBroadcastAdapter(broadcast.NewRegistry()), domain.Options{OptDomain: "d", OptTopic: "t"}},
		"log":       {NewLogAdapter(slog.Default()), domain.Options{OptLevel: "Warn"}},
		"console":   {NewConsoleAdapter(&bytes.Buffer{}), domain.Options{}},
		"noop":      {NewNoopAdapter(), domain.Options{OptMode: ModeSync, OptTimeoutMS: 250}},
	}
	for name, tc := range adapters {
		t.Run(name, func(t *testing.T) {
			once, err := tc.adapter.ValidateOpts(tc.opts)
			require.NoError(t, err)
			twice, err := tc.adapter.ValidateOpts(once)
			require.NoError(t, err)
			assert.Equal(t, once, twice)
		})
	}
}

func TestDirectAsyncDelivery(t *testing.T) {
	p := proc.Spawn(4)
	a := NewDirectAdapter()
	sig := testSignal()

	opts, err := a.ValidateOpts(domain.Options{OptPID: p})
	require.NoError(t, err)
	require.NoError(t, a.Deliver(context.Background(), sig, opts))

	env := <-p.Receive()
	msg, ok := env.Msg.(SignalMessage)
	require.True(t, ok, "expected SignalMessage, got %T", env.Msg)
	assert.Equal(t, sig.ID, msg.Signal.ID)
}

func TestDirectSyncDelivery(t *testing.T) {
	p := proc.Spawn(1)
	go func() {
		env := <-p.Receive()
		env.ReplyTo <- "ack"
	}()

	a := NewDirectAdapter()
	opts, err := a.ValidateOpts(domain.Options{OptPID: p, OptMode: ModeSync})
	require.NoError(t, err)
	assert.NoError(t, a.Deliver(context.Background(), testSignal(), opts))
}

// A synchronous delivery to a terminated process fails immediately rather
// than blocking for the configured timeout.
func TestDirectSyncDeadProcessFailsFast(t *testing.T) {
	p := proc.Spawn(1)
	p.Exit(fmt.Errorf("gone"))

	a := NewDirectAdapter()
	opts, err := a.ValidateOpts(domain.Options{OptPID: p, OptMode: ModeSync, OptTimeoutMS: 30_000})
	require.NoError(t, err)

	start := time.Now()
	err = a.Deliver(context.Background(), testSignal(), opts)
	require.ErrorIs(t, err, domain.ErrProcessNotAlive)
	assert.Less(t, time.Since(start), time.Second, "dead-process delivery blocked")
}

func TestDirectMissingPID(t *testing.T) {
	a := NewDirectAdapter()
	_, err := a.ValidateOpts(domain.Options{})
	assert.ErrorIs(t, err, domain.ErrMissingRequiredOption)

	_, err = a.ValidateOpts(domain.Options{OptPID: "not-a-proc"})
	assert.ErrorIs(t, err, domain.ErrInvalidDispatchConfig)
}

func TestDirectCustomFormat(t *testing.T) {
	p := proc.Spawn(1)
	a := NewDirectAdapter()

	opts, err := a.ValidateOpts(domain.Options{
		OptPID:    p,
		OptFormat: FormatFunc(func(sig domain.Signal) any { return sig.Type }),
	})
	require.NoError(t, err)
	require.NoError(t, a.Deliver(context.Background(), testSignal(), opts))

	env := <-p.Receive()
	assert.Equal(t, "test.event", env.Msg)
}

func TestNamedResolvesAtDeliveryTime(t *testing.T) {
	procs := proc.NewRegistry()
	a := NewNamedAdapter(procs)

	// Name is unbound at validation time; that is fine.
	opts, err := a.ValidateOpts(domain.Options{OptName: "late"})
	require.NoError(t, err)

	err = a.Deliver(context.Background(), testSignal(), opts)
	assert.ErrorIs(t, err, domain.ErrProcessNotFound)

	// Bind and redeliver without revalidating.
	p := proc.Spawn(1)
	require.NoError(t, procs.Register("late", p))
	require.NoError(t, a.Deliver(context.Background(), testSignal(), opts))
	env := <-p.Receive()
	_, ok := env.Msg.(SignalMessage)
	assert.True(t, ok)
}

func TestNamedMissingName(t *testing.T) {
	a := NewNamedAdapter(proc.NewRegistry())
	_, err := a.ValidateOpts(domain.Options{})
	assert.ErrorIs(t, err, domain.ErrMissingRequiredOption)
}

func TestBusValidateExpectedVersion(t *testing.T) {
	a := NewBusAdapter(journal.NewBusRegistry())
	base := domain.Options{OptBus: "b", OptStream: "s"}

	out, err := a.ValidateOpts(base)
	require.NoError(t, err)
	assert.Equal(t, ExpectedAny, out[OptExpectedVersion])

	withInt := base.Clone()
	withInt[OptExpectedVersion] = 3
	out, err = a.ValidateOpts(withInt)
	require.NoError(t, err)
	assert.Equal(t, int64(3), out[OptExpectedVersion])

	for _, bad := range []any{"latest", -1, true} {
		opts := base.Clone()
		opts[OptExpectedVersion] = bad
		_, err = a.ValidateOpts(opts)
		assert.ErrorIs(t, err, domain.ErrInvalidDispatchConfig, "expected_version %v", bad)
	}
}

func TestBusDelivery(t *testing.T) {
	buses := journal.NewBusRegistry()
	store := journal.NewMemoryStore()
	buses.Add("events", store)
	a := NewBusAdapter(buses)

	sig := testSignal()
	opts, err := a.ValidateOpts(domain.Options{OptBus: "events", OptStream: "orders"})
	require.NoError(t, err)
	require.NoError(t, a.Deliver(context.Background(), sig, opts))

	got := store.Read("orders", 0)
	require.Len(t, got, 1)
	assert.Equal(t, sig.ID, got[0].ID)
}

func TestBusVersionConflictSurfaces(t *testing.T) {
	buses := journal.NewBusRegistry()
	buses.Add("events", journal.NewMemoryStore())
	a := NewBusAdapter(buses)

	opts, err := a.ValidateOpts(domain.Options{
		OptBus: "events", OptStream: "orders", OptExpectedVersion: 5,
	})
	require.NoError(t, err)

	err = a.Deliver(context.Background(), testSignal(), opts)
	assert.ErrorIs(t, err, domain.ErrBusVersionConflict)
}

func TestBusNotFound(t *testing.T) {
	a := NewBusAdapter(journal.NewBusRegistry())
	opts, err := a.ValidateOpts(domain.Options{OptBus: "ghost", OptStream: "s"})
	require.NoError(t, err)

	err = a.Deliver(context.Background(), testSignal(), opts)
	assert.ErrorIs(t, err, domain.ErrBusNotFound)
}

func TestBroadcastDelivery(t *testing.T) {
	domains := broadcast.NewRegistry()
	d := broadcast.NewDomain("system", slog.Default())
	domains.Add(d)

	var mu sync.Mutex
	var got []domain.Signal
	done := make(chan struct{})
	d.Subscribe("alerts", func(_ context.Context, sig domain.Signal) {
		mu.Lock()
		got = append(got, sig)
		mu.Unlock()
		close(done)
	})

	a := NewBroadcastAdapter(domains)
	sig := testSignal()
	opts, err := a.ValidateOpts(domain.Options{OptDomain: "system", OptTopic: "alerts"})
	require.NoError(t, err)
	require.NoError(t, a.Deliver(context.Background(), sig, opts))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("broadcast handler never fired")
	}
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	assert.Equal(t, sig.ID, got[0].ID)
}

func TestBroadcastDomainNotFound(t *testing.T) {
	a := NewBroadcastAdapter(broadcast.NewRegistry())
	opts, err := a.ValidateOpts(domain.Options{OptDomain: "ghost", OptTopic: "t"})
	require.NoError(t, err)

	err = a.Deliver(context.Background(), testSignal(), opts)
	assert.ErrorIs(t, err, domain.ErrBroadcastDomainNotFound)
}

func TestLogAdapterLevels(t *testing.T) {
	a := NewLogAdapter(slog.Default())

	out, err := a.ValidateOpts(domain.Options{})
	require.NoError(t, err)
	assert.Equal(t, "info", out[OptLevel])

	out, err = a.ValidateOpts(domain.Options{OptLevel: "WARN"})
	require.NoError(t, err)
	assert.Equal(t, "warn", out[OptLevel])

	_, err = a.ValidateOpts(domain.Options{OptLevel: "shout"})
	assert.ErrorIs(t, err, domain.ErrInvalidLogLevel)

	_, err = a.ValidateOpts(domain.Options{OptLevel: 3})
	assert.ErrorIs(t, err, domain.ErrInvalidLogLevel)
}

func TestConsoleAdapterWritesLine(t *testing.T) {
	var out bytes.Buffer
	a := NewConsoleAdapter(&out)
	sig := testSignal()

	opts, err := a.ValidateOpts(domain.Options{})
	require.NoError(t, err)
	require.NoError(t, a.Deliver(context.Background(), sig, opts))

	line := out.String()
	assert.Contains(t, line, sig.ID)
	assert.Contains(t, line, sig.Type)
}

func TestNoopAdapter(t *testing.T) {
	a := NewNoopAdapter()
	opts, err := a.ValidateOpts(domain.Options{})
	require.NoError(t, err)
	assert.NoError(t, a.Deliver(context.Background(), testSignal(), opts))
}

func TestBuiltinRegistryContainsAllAdapters(t *testing.T) {
	r := testRegistry(&bytes.Buffer{})
	for _, name := range []string{
		AdapterDirect, AdapterNamed, AdapterBus, AdapterBroadcast,
		AdapterLog, AdapterConsole, AdapterNoop,
	} {
		_, err := r.Resolve(name)
		assert.NoError(t, err, "builtin %s missing", name)
	}
}
