package main

import (
	"fmt"

	"signalmesh/internal/domain"
)

// agentForType resolves a config agent type to its reaction function.
// Business logic normally lives outside the runtime; the built-in types here
// are the ones the daemon ships with.
func agentForType(agentType string) (domain.Agent, error) {
	switch agentType {
	case "echo":
		return domain.AgentFunc(echoAgent), nil
	case "counter":
		return domain.AgentFunc(counterAgent), nil
	default:
		return nil, fmt.Errorf("unknown agent type %q", agentType)
	}
}

// echoAgent re-emits every inbound signal through the instance's default
// dispatch config.
func echoAgent(value any, sig domain.Signal) (any, []domain.Directive, error) {
	out := domain.Signal{
		ID:      domain.NewID(),
		Type:    sig.Type + ".echo",
		Subject: sig.Subject,
		Data:    sig.Data,
	}
	return value, []domain.Directive{domain.Emit{Signal: out}}, nil
}

// counterAgent counts inbound signals and emits the running total.
func counterAgent(value any, sig domain.Signal) (any, []domain.Directive, error) {
	count, _ := value.(int)
	count++
	out := domain.Signal{
		ID:   domain.NewID(),
		Type: "counter.tick",
		Data: count,
	}
	return count, []domain.Directive{domain.Emit{Signal: out}}, nil
}
