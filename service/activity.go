package service

import (
	"sort"
	"sync"
	"time"

	"github.com/timzifer/hemlarm/runtime/activity"
)

var _ activity.Tracker = (*activityTracker)(nil)

// ResourceActivity summarizes the requests issued for one resource.
type ResourceActivity struct {
	Resource    string     `json:"resource"`
	Issued      uint64     `json:"issued"`
	Applied     uint64     `json:"applied"`
	Stale       uint64     `json:"stale"`
	Failed      uint64     `json:"failed"`
	Closed      uint64     `json:"closed"`
	InFlight    uint64     `json:"in_flight"`
	LastIssued  *time.Time `json:"last_issued,omitempty"`
	LastOutcome string     `json:"last_outcome,omitempty"`
	LastResult  *time.Time `json:"last_result,omitempty"`
}

type resourceActivity struct {
	issued      uint64
	applied     uint64
	stale       uint64
	failed      uint64
	closed      uint64
	lastIssued  time.Time
	lastOutcome string
	lastResult  time.Time
}

type activityTracker struct {
	mu        sync.Mutex
	resources map[string]*resourceActivity
}

func newActivityTracker() *activityTracker {
	return &activityTracker{resources: make(map[string]*resourceActivity)}
}

func (t *activityTracker) entry(resource string) *resourceActivity {
	entry, ok := t.resources[resource]
	if !ok {
		entry = &resourceActivity{}
		t.resources[resource] = entry
	}
	return entry
}

func (t *activityTracker) RecordIssued(resource string, ts time.Time) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	entry := t.entry(resource)
	entry.issued++
	entry.lastIssued = ts
}

func (t *activityTracker) RecordOutcome(resource, outcome string, ts time.Time) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	entry := t.entry(resource)
	switch outcome {
	case activity.OutcomeApplied:
		entry.applied++
	case activity.OutcomeStale:
		entry.stale++
	case activity.OutcomeFailed:
		entry.failed++
	case activity.OutcomeClosed:
		entry.closed++
	default:
		return
	}
	entry.lastOutcome = outcome
	entry.lastResult = ts
}

func (t *activityTracker) snapshot() []ResourceActivity {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	result := make([]ResourceActivity, 0, len(t.resources))
	for name, entry := range t.resources {
		done := entry.applied + entry.stale + entry.failed + entry.closed
		var inFlight uint64
		if entry.issued > done {
			inFlight = entry.issued - done
		}
		result = append(result, ResourceActivity{
			Resource:    name,
			Issued:      entry.issued,
			Applied:     entry.applied,
			Stale:       entry.stale,
			Failed:      entry.failed,
			Closed:      entry.closed,
			InFlight:    inFlight,
			LastIssued:  timePtr(entry.lastIssued),
			LastOutcome: entry.lastOutcome,
			LastResult:  timePtr(entry.lastResult),
		})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Resource < result[j].Resource })
	return result
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	ts := t
	return &ts
}
