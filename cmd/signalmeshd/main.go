// Command signalmeshd runs the agent instance runtime: it loads config,
// wires the dispatch registries, spawns the configured agent instances, and
// serves the debug inspection gateway.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"signalmesh/internal/broadcast"
	"signalmesh/internal/dispatch"
	"signalmesh/internal/domain"
	"signalmesh/internal/gateway"
	"signalmesh/internal/infra/config"
	"signalmesh/internal/infra/logger"
	"signalmesh/internal/infra/tracer"
	"signalmesh/internal/journal"
	"signalmesh/internal/proc"
	"signalmesh/internal/runtime"
	"signalmesh/internal/runtime/sched"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "signalmeshd:", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "signalmesh.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	log, closeLog, err := logger.New(cfg.Logger)
	if err != nil {
		return err
	}
	defer closeLog()
	slog.SetDefault(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracer, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return err
	}
	defer shutdownTracer(context.Background())

	// Shared destination registries.
	procs := proc.NewRegistry()

	buses := journal.NewBusRegistry()
	for _, bc := range cfg.Journal.Buses {
		var bus domain.Bus
		if bc.Path == "" {
			bus = journal.NewMemoryStore()
		} else {
			store, err := journal.OpenSQLite(bc.Path)
			if err != nil {
				return err
			}
			defer store.Close()
			bus = store
		}
		buses.Add(bc.Name, journal.NewBreakerBus(bc.Name, bus, journal.BreakerConfig{}, log))
	}

	broadcasts := broadcast.NewRegistry()
	for _, name := range cfg.Broadcast.Domains {
		broadcasts.Add(broadcast.NewDomain(name, log))
	}
	defer broadcasts.CloseAll()

	registry := dispatch.Builtin(dispatch.BuiltinDeps{
		Procs:      procs,
		Buses:      buses,
		Broadcasts: broadcasts,
		Logger:     log,
	})
	dispatcher := dispatch.NewDispatcher(registry, log)

	scheduler := sched.New(log)
	scheduler.Start(ctx)
	defer scheduler.Stop()

	rt := runtime.New(ctx, runtime.Deps{
		Dispatcher: dispatcher,
		Scheduler:  scheduler,
		Logger:     log,
	})

	for _, ac := range cfg.Agents {
		agent, err := agentForType(ac.Type)
		if err != nil {
			return err
		}
		inst, err := rt.Spawn(runtime.Options{
			ID:              ac.ID,
			AgentType:       ac.Type,
			Agent:           agent,
			OnParentDeath:   domain.ParentDeathPolicy(ac.OnParentDeath),
			DefaultDispatch: dispatchTargets(ac.Dispatch),
			MaxQueueSize:    pick(ac.MaxQueueSize, cfg.Runtime.MaxQueueSize),
			Debug:           ac.Debug || cfg.Runtime.Debug,
		})
		if err != nil {
			return err
		}
		// Instances are addressable by id for the named adapter.
		if err := procs.Register(ac.ID, inst.PID()); err != nil {
			return err
		}
	}

	if cfg.Gateway.Enabled {
		gw := gateway.NewServer(rt, cfg.Gateway, log)
		go func() {
			if err := gw.Start(ctx); err != nil {
				log.Error("gateway failed", "error", err)
			}
		}()
	}

	log.Info("signalmeshd running", "agents", len(cfg.Agents))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info("shutting down")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Runtime.ShutdownTimeout)
	defer cancelShutdown()
	rt.Shutdown(shutdownCtx)
	cancel()
	return nil
}

func dispatchTargets(configs []config.DispatchConfig) []domain.DispatchTarget {
	targets := make([]domain.DispatchTarget, 0, len(configs))
	for _, dc := range configs {
		targets = append(targets, domain.DispatchTarget{
			Adapter: dc.Adapter,
			Opts:    domain.Options(dc.Opts),
		})
	}
	return targets
}

func pick(value, fallback int) int {
	if value > 0 {
		return value
	}
	return fallback
}
