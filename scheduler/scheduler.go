// Package scheduler runs the sync cycle on a self re-arming timer.
//
// The scheduler owns cadence only. It runs one cycle immediately on Start,
// then re-arms a single timer with a fixed delay after every cycle, whatever
// the cycle did. Cycles never overlap: a Restart that arrives while a cycle is
// in flight is folded into a zero-delay re-arm once that cycle returns.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pithecene-io/bundlesync/log"
)

// DefaultDelay is the default delay between cycles.
const DefaultDelay = 5 * time.Second

// CycleFunc is one unit of scheduled work. Its result is not inspected.
type CycleFunc func(ctx context.Context)

// Scheduler invokes a CycleFunc on a fixed cadence.
type Scheduler struct {
	cycle  CycleFunc
	delay  time.Duration
	logger *log.Logger

	mu      sync.Mutex
	ctx     context.Context
	timer   *time.Timer
	gen     uint64 // bumped on every arm/cancel; stale timer fires are ignored
	started bool
	stopped bool
	running bool
	pending bool // Restart arrived while running

	inflight sync.WaitGroup
	cycles   int64
}

// New creates a scheduler. A non-positive delay uses DefaultDelay.
// A nil logger discards output.
func New(cycle CycleFunc, delay time.Duration, logger *log.Logger) *Scheduler {
	if delay <= 0 {
		delay = DefaultDelay
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Scheduler{cycle: cycle, delay: delay, logger: logger}
}

// Delay returns the inter-cycle delay.
func (s *Scheduler) Delay() time.Duration {
	return s.delay
}

// Start runs a cycle immediately and keeps the loop going until Stop is
// called or ctx is done. Cycles receive a context that carries ctx's values
// but not its cancellation, so an in-flight cycle always runs to completion.
// Calling Start twice is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.ctx = context.WithoutCancel(ctx)
	context.AfterFunc(ctx, s.Stop)
	s.launchLocked()
}

// Restart cancels the pending timer and begins a cycle now. If a cycle is
// already running, no second cycle starts; the running one re-arms with zero
// delay instead. Restart before Start or after Stop is a no-op.
func (s *Scheduler) Restart() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started || s.stopped {
		return
	}
	s.cancelTimerLocked()
	if s.running {
		s.pending = true
		return
	}
	s.launchLocked()
}

// Stop cancels the pending timer. It does not interrupt a running cycle;
// use Wait to block until it returns.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	s.pending = false
	s.cancelTimerLocked()
}

// Wait blocks until the in-flight cycle, if any, has returned.
func (s *Scheduler) Wait() {
	s.inflight.Wait()
}

// Cycles returns the number of cycles started so far.
func (s *Scheduler) Cycles() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cycles
}

func (s *Scheduler) launchLocked() {
	s.running = true
	s.cycles++
	s.inflight.Add(1)
	go s.run(s.ctx)
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.inflight.Done()

	s.invoke(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	if s.stopped {
		return
	}
	delay := s.delay
	if s.pending {
		s.pending = false
		delay = 0
	}
	s.armLocked(delay)
}

// invoke runs the cycle, converting a panic into a log entry so the loop re-arms.
func (s *Scheduler) invoke(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("sync cycle panicked", map[string]any{
				"panic": fmt.Sprint(r),
			})
		}
	}()
	s.cycle(ctx)
}

func (s *Scheduler) armLocked(delay time.Duration) {
	s.cancelTimerLocked()
	gen := s.gen
	s.timer = time.AfterFunc(delay, func() { s.fire(gen) })
}

func (s *Scheduler) cancelTimerLocked() {
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Scheduler) fire(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped || gen != s.gen || s.running {
		return
	}
	s.timer = nil
	s.launchLocked()
}
