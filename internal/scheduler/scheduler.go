// Package scheduler drives the wall-clock slot model and single-leader
// lease of spec.md §4.8. Grounded on the eser-aya.is pack's
// pkg/ajan/workerfx.Runner — a ticker-driven execution loop with panic
// recovery and run-status tracking — generalized from that worker's fixed
// time.Duration interval to the spec's configured HH:MM wall-clock slots
// and wrapped with the Store-backed lease the teacher never needed (it ran
// once per process invocation, under CI cron, with no replica concurrency
// to coordinate).
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/maine/newsdigest/internal/applog"
)

const component = "scheduler"
const tickInterval = 1 * time.Minute

// Store is the subset of store.Store the Scheduler depends on.
type Store interface {
	AcquireLease(ctx context.Context, slotKey string, ttl time.Duration) (bool, error)
	ReleaseLease(ctx context.Context, slotKey string) error
}

// Pipeline is the full harvest→summarize→persist→deliver run, invoked
// once per acquired slot.
type Pipeline interface {
	Run(ctx context.Context) error
}

// Status mirrors the teacher's WorkerStatus shape, tracking the most
// recent run for diagnostics.
type Status struct {
	LastSlotKey  string
	LastRun      time.Time
	LastDuration time.Duration
	LastError    error
	RunCount     int
	ErrorCount   int
}

// Scheduler implements spec.md §4.8.
type Scheduler struct {
	store    Store
	pipeline Pipeline
	slots    []string
	location *time.Location
	deadline time.Duration
	leaseTTL time.Duration
	clock    func() time.Time

	mu          sync.RWMutex
	status      Status
	lastFiredAt string
}

// New builds a Scheduler. slots are "HH:MM" strings already validated by
// config.Config.Slots(); location is the operator's configured timezone.
func New(store Store, pipeline Pipeline, slots []string, location *time.Location, deadline, leaseTTL time.Duration) *Scheduler {
	return &Scheduler{
		store:    store,
		pipeline: pipeline,
		slots:    slots,
		location: location,
		deadline: deadline,
		leaseTTL: leaseTTL,
		clock:    time.Now,
	}
}

// Run blocks, ticking once a minute and firing the pipeline under lease
// discipline whenever the wall clock matches a configured slot. Returns
// when ctx is canceled.
func (s *Scheduler) Run(ctx context.Context) {
	applog.Section("Scheduler starting")
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	s.checkAndFire(ctx)
	for {
		select {
		case <-ctx.Done():
			applog.Line(component, "scheduler stopped", nil)
			return
		case <-ticker.C:
			s.checkAndFire(ctx)
		}
	}
}

func (s *Scheduler) checkAndFire(ctx context.Context) {
	now := s.clock().In(s.location)
	hhmm := now.Format("15:04")

	matched := false
	for _, slot := range s.slots {
		if slot == hhmm {
			matched = true
			break
		}
	}
	if !matched {
		return
	}

	dedupeKey := hhmm + ":" + now.Format("2006-01-02")
	if s.lastFiredAt == dedupeKey {
		return // already fired this minute (tick jitter guard)
	}
	s.lastFiredAt = dedupeKey

	slotKey := fmt.Sprintf("schedule:%s:%s", hhmm, now.Format("2006-01-02"))
	s.fireWithRecovery(ctx, slotKey)
}

// Trigger runs the pipeline immediately under the same lease discipline,
// using the current instant as slot key (spec.md §4.8's /trigger).
func (s *Scheduler) Trigger(ctx context.Context) error {
	slotKey := fmt.Sprintf("trigger:%s", s.clock().Format(time.RFC3339))
	return s.fire(ctx, slotKey)
}

func (s *Scheduler) fireWithRecovery(ctx context.Context, slotKey string) {
	defer func() {
		if r := recover(); r != nil {
			applog.Error(component, "panic", "scheduled run panicked", fmt.Errorf("%v", r))
		}
	}()
	if err := s.fire(ctx, slotKey); err != nil {
		applog.Error(component, "run-failed", "scheduled run failed", err)
	}
}

func (s *Scheduler) fire(ctx context.Context, slotKey string) error {
	acquired, err := s.store.AcquireLease(ctx, slotKey, s.leaseTTL)
	if err != nil {
		return fmt.Errorf("acquire lease %s: %w", slotKey, err)
	}
	if !acquired {
		applog.Line(component, "lease not acquired, skipping", applog.Fields{"slot": slotKey})
		return nil
	}
	defer func() {
		if err := s.store.ReleaseLease(ctx, slotKey); err != nil {
			applog.Error(component, "release-failed", "lease release failed", err)
		}
	}()

	deadlineCtx, cancel := context.WithTimeout(ctx, s.deadline)
	defer cancel()

	start := s.clock()
	runErr := s.pipeline.Run(deadlineCtx)
	duration := s.clock().Sub(start)

	s.mu.Lock()
	s.status.LastSlotKey = slotKey
	s.status.LastRun = start
	s.status.LastDuration = duration
	s.status.LastError = runErr
	s.status.RunCount++
	if runErr != nil {
		s.status.ErrorCount++
	}
	s.mu.Unlock()

	applog.Line(component, "slot run complete", applog.Fields{
		"slot": slotKey, "duration_ms": duration.Milliseconds(), "error": runErr,
	})
	return runErr
}

// Status returns the most recent run's outcome.
func (s *Scheduler) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}
