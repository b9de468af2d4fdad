package dispatch

import (
	"io"
	"log/slog"

	"signalmesh/internal/broadcast"
	"signalmesh/internal/domain"
	"signalmesh/internal/proc"
)

// BuiltinDeps carries the shared resources the built-in adapters resolve
// destinations through.
type BuiltinDeps struct {
	Procs      *proc.Registry
	Buses      BusResolver
	Broadcasts *broadcast.Registry
	Logger     *slog.Logger
	Console    io.Writer // nil defaults to os.Stdout
}

// Builtin returns a registry pre-populated with the seven built-in adapters.
func Builtin(deps BuiltinDeps) *Registry {
	r := NewRegistry()
	mustRegister(r, AdapterDirect, NewDirectAdapter())
	mustRegister(r, AdapterNamed, NewNamedAdapter(deps.Procs))
	mustRegister(r, AdapterBus, NewBusAdapter(deps.Buses))
	mustRegister(r, AdapterBroadcast, NewBroadcastAdapter(deps.Broadcasts))
	mustRegister(r, AdapterLog, NewLogAdapter(deps.Logger))
	mustRegister(r, AdapterConsole, NewConsoleAdapter(deps.Console))
	mustRegister(r, AdapterNoop, NewNoopAdapter())
	return r
}

// mustRegister installs a built-in adapter. The fixed symbol table cannot
// collide, so a failure here is a programming error.
func mustRegister(r *Registry, name string, adapter domain.Adapter) {
	if err := r.Register(name, adapter); err != nil {
		panic(err)
	}
}
