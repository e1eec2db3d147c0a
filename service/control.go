package service

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ControlMode selects whether the poll scheduler ticks on its own.
type ControlMode string

const (
	ControlModeRun   ControlMode = "run"
	ControlModePause ControlMode = "pause"
)

// ControlStatus describes the scheduler pacing.
type ControlStatus struct {
	Mode        ControlMode   `json:"mode"`
	Interval    time.Duration `json:"interval"`
	IntervalMS  int64         `json:"interval_ms"`
	IntervalStr string        `json:"interval_text"`
}

type cycleController struct {
	mu       sync.RWMutex
	mode     ControlMode
	interval time.Duration
	notify   chan struct{}
	step     chan struct{}
}

func newCycleController(interval time.Duration) *cycleController {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &cycleController{
		mode:     ControlModeRun,
		interval: interval,
		notify:   make(chan struct{}, 1),
		step:     make(chan struct{}, 1),
	}
}

// Wait blocks until the next tick is due. In pause mode only Step releases it.
func (c *cycleController) Wait(ctx context.Context) (time.Time, error) {
	for {
		c.mu.RLock()
		mode := c.mode
		interval := c.interval
		c.mu.RUnlock()

		switch mode {
		case ControlModeRun:
			timer := time.NewTimer(interval)
			select {
			case <-ctx.Done():
				timer.Stop()
				return time.Time{}, ctx.Err()
			case <-timer.C:
				return time.Now(), nil
			case <-c.notify:
				timer.Stop()
				continue
			case <-c.step:
				timer.Stop()
				return time.Now(), nil
			}
		case ControlModePause:
			select {
			case <-ctx.Done():
				return time.Time{}, ctx.Err()
			case <-c.step:
				return time.Now(), nil
			case <-c.notify:
				continue
			}
		default:
			return time.Time{}, errors.New("unknown control mode")
		}
	}
}

// SetMode switches between free-running and paused polling and wakes a
// pending Wait so the change takes effect immediately.
func (c *cycleController) SetMode(mode ControlMode) {
	c.mu.Lock()
	if c.mode == mode {
		c.mu.Unlock()
		return
	}
	c.mode = mode
	c.mu.Unlock()
	c.signal()
}

// Step pauses the controller and releases exactly one tick.
func (c *cycleController) Step() {
	c.mu.Lock()
	c.mode = ControlModePause
	c.mu.Unlock()
	select {
	case c.step <- struct{}{}:
	default:
	}
}

// SetInterval changes the delay between ticks. Non-positive values are raised
// to one millisecond.
func (c *cycleController) SetInterval(d time.Duration) {
	if d <= 0 {
		d = time.Millisecond
	}
	c.mu.Lock()
	if c.interval == d {
		c.mu.Unlock()
		return
	}
	c.interval = d
	c.mu.Unlock()
	c.signal()
}

// Status reports the current mode and interval.
func (c *cycleController) Status() ControlStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ControlStatus{
		Mode:        c.mode,
		Interval:    c.interval,
		IntervalMS:  int64(c.interval / time.Millisecond),
		IntervalStr: c.interval.String(),
	}
}

func (c *cycleController) signal() {
	select {
	case c.notify <- struct{}{}:
	default:
	}
}
