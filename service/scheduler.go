package service

import (
	"context"
	"sync"
	"time"
)

// SchedulerState is the lifecycle state of a Scheduler.
type SchedulerState string

const (
	SchedulerIdle    SchedulerState = "idle"
	SchedulerRunning SchedulerState = "running"
)

// SchedulerStatus is the externally visible scheduler state.
type SchedulerStatus struct {
	State   SchedulerState `json:"state"`
	Control ControlStatus  `json:"control"`
	Ticks   uint64         `json:"ticks"`
}

// Scheduler invokes a tick function once on Start and then at a fixed delay
// until Stop. Ticks never wait for the work they trigger to finish.
type Scheduler struct {
	controller *cycleController
	tick       func()

	mu     sync.Mutex
	state  SchedulerState
	cancel context.CancelFunc
	done   chan struct{}
	ticks  uint64
}

// NewScheduler creates an idle scheduler.
func NewScheduler(interval time.Duration, tick func()) *Scheduler {
	return &Scheduler{
		controller: newCycleController(interval),
		tick:       tick,
		state:      SchedulerIdle,
	}
}

// Start runs the first tick immediately and schedules the following ones.
// Starting a running scheduler is a no-op and returns false.
func (s *Scheduler) Start() bool {
	s.mu.Lock()
	if s.state == SchedulerRunning {
		s.mu.Unlock()
		return false
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.state = SchedulerRunning
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()

	s.fire()
	go s.loop(ctx, done)
	return true
}

// Stop cancels future ticks and waits for the loop to exit. It is idempotent.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.state != SchedulerRunning {
		s.mu.Unlock()
		return
	}
	cancel, done := s.cancel, s.done
	s.state = SchedulerIdle
	s.cancel = nil
	s.done = nil
	s.mu.Unlock()

	cancel()
	<-done
}

// State reports whether the scheduler is running.
func (s *Scheduler) State() SchedulerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Status returns the state, pacing and tick count.
func (s *Scheduler) Status() SchedulerStatus {
	s.mu.Lock()
	state, ticks := s.state, s.ticks
	s.mu.Unlock()
	return SchedulerStatus{State: state, Control: s.controller.Status(), Ticks: ticks}
}

// SetMode switches between free running and paused ticking.
func (s *Scheduler) SetMode(mode ControlMode) { s.controller.SetMode(mode) }

// Step pauses the scheduler and releases exactly one tick.
func (s *Scheduler) Step() { s.controller.Step() }

// SetInterval changes the delay between ticks.
func (s *Scheduler) SetInterval(d time.Duration) { s.controller.SetInterval(d) }

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		if _, err := s.controller.Wait(ctx); err != nil {
			return
		}
		if ctx.Err() != nil {
			return
		}
		s.fire()
	}
}

func (s *Scheduler) fire() {
	s.mu.Lock()
	s.ticks++
	s.mu.Unlock()
	if s.tick != nil {
		s.tick()
	}
}
