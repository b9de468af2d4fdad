// Package sched runs cron-expression and interval jobs on behalf of agent
// instances. Jobs are keyed by id so CronCancel directives can remove them.
package sched

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"signalmesh/internal/domain"
)

// fireTimeout bounds a single job execution.
const fireTimeout = 5 * time.Minute

// Scheduler wraps a cron runner with id-addressable entries.
type Scheduler struct {
	cron    *cron.Cron
	entries map[string]cron.EntryID
	logger  *slog.Logger
	mu      sync.Mutex
	started bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// New creates a stopped scheduler.
func New(logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cron:    cron.New(),
		entries: make(map[string]cron.EntryID),
		logger:  logger,
	}
}

// AddJob schedules fn under id. The schedule string is a cron expression or
// a duration; oneShot jobs remove themselves after the first fire.
// Re-adding an existing id replaces the previous schedule.
func (s *Scheduler) AddJob(id, schedule string, oneShot bool, fn func(ctx context.Context) error) error {
	sched, err := ParseSchedule(schedule)
	if err != nil {
		return fmt.Errorf("sched: job %q: %w", id, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.entries[id]; ok {
		s.cron.Remove(old)
	}

	logger := s.logger
	var entryID cron.EntryID
	entryID = s.cron.Schedule(sched, cron.FuncJob(func() {
		s.mu.Lock()
		ctx := s.ctx
		s.mu.Unlock()
		if ctx == nil {
			logger.Debug("scheduler stopped, skipping job", "job", id)
			return
		}

		fireCtx, cancel := context.WithTimeout(ctx, fireTimeout)
		defer cancel()

		start := time.Now()
		if err := fn(fireCtx); err != nil {
			logger.Warn("scheduled job failed", "job", id, "error", err, "duration", time.Since(start))
		}

		if oneShot {
			s.Remove(id)
		}
	}))
	s.entries[id] = entryID

	logger.Debug("job scheduled", "job", id, "schedule", schedule, "one_shot", oneShot)
	return nil
}

// Remove cancels the job registered under id. Unknown ids are a no-op.
func (s *Scheduler) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entryID, ok := s.entries[id]; ok {
		s.cron.Remove(entryID)
		delete(s.entries, id)
	}
}

// Has reports whether a job is currently scheduled under id.
func (s *Scheduler) Has(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[id]
	return ok
}

// NextRun returns the next fire time for id, or nil when unknown.
func (s *Scheduler) NextRun(id string) *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	entryID, ok := s.entries[id]
	if !ok {
		return nil
	}
	entry := s.cron.Entry(entryID)
	if entry.ID == 0 || entry.Next.IsZero() {
		return nil
	}
	next := entry.Next
	return &next
}

// Start begins firing jobs. Idempotent.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.cron.Start()
	s.started = true
}

// Stop halts the scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	if s.cancel != nil {
		s.cancel()
	}
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	s.ctx = nil
	s.started = false
}

// ParseSchedule accepts a standard cron expression (with descriptors like
// "@hourly") or a positive duration string such as "30s".
func ParseSchedule(schedule string) (cron.Schedule, error) {
	if schedule == "" {
		return nil, fmt.Errorf("empty schedule: %w", domain.ErrMissingRequiredOption)
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if sched, err := parser.Parse(schedule); err == nil {
		return sched, nil
	}

	dur, err := time.ParseDuration(schedule)
	if err != nil {
		return nil, fmt.Errorf("not a valid cron expression or duration: %q", schedule)
	}
	if dur <= 0 {
		return nil, fmt.Errorf("duration must be positive: %q", schedule)
	}
	return constantDelay{delay: dur}, nil
}

// constantDelay fires at a fixed interval, rounded to a second minimum the
// same way cron.ConstantDelaySchedule does, but allowing sub-second delays
// for tests.
type constantDelay struct {
	delay time.Duration
}

func (c constantDelay) Next(t time.Time) time.Time {
	return t.Add(c.delay)
}
