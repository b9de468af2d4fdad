package domain

import "time"

// Directive is a tagged, immutable instruction describing one side effect
// to execute against an instance's state. Directives carry only data; the
// runtime's executor interprets each variant.
type Directive interface {
	directive()
}

// Emit requests delivery of a signal through the dispatch layer.
// A nil Config falls back to the instance's default dispatch config.
type Emit struct {
	Signal Signal
	Config []DispatchTarget
}

// CronSchedule registers a recurring (or one-shot) job that injects Signal
// into the instance's own mailbox on every fire.
type CronSchedule struct {
	JobID    string
	Schedule string // cron expression or duration string
	OneShot  bool
	Signal   Signal
}

// CronCancel removes a previously scheduled cron job.
type CronCancel struct {
	JobID string
}

// ScheduleTimer arms a one-shot timer that delivers Signal to the instance
// after the given delay. The token allows later cancellation.
type ScheduleTimer struct {
	Token  string
	After  time.Duration
	Signal Signal
}

// CancelTimer disarms a pending timer. Unknown tokens are a no-op.
type CancelTimer struct {
	Token string
}

// SpawnChild creates a child instance under the issuing instance,
// identified by Tag within the parent's hierarchy.
type SpawnChild struct {
	Tag     string
	Options any // runtime.Options for the child; opaque at this layer
}

// StopChild stops a child instance and removes it from the hierarchy.
type StopChild struct {
	Tag string
}

// NotifyCompletion resolves a registered completion waiter.
type NotifyCompletion struct {
	Token  string
	Result any
}

func (Emit) directive()             {}
func (CronSchedule) directive()     {}
func (CronCancel) directive()       {}
func (ScheduleTimer) directive()    {}
func (CancelTimer) directive()      {}
func (SpawnChild) directive()       {}
func (StopChild) directive()        {}
func (NotifyCompletion) directive() {}

// Agent is the business-logic contract consumed by the runtime: given the
// current domain value and an incoming signal, produce an updated value plus
// zero or more directives. The runtime queues and drains the directives.
type Agent interface {
	Handle(value any, sig Signal) (any, []Directive, error)
}

// AgentFunc adapts a plain function to the Agent interface.
type AgentFunc func(value any, sig Signal) (any, []Directive, error)

func (f AgentFunc) Handle(value any, sig Signal) (any, []Directive, error) {
	return f(value, sig)
}
