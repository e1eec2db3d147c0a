package activity

import "time"

// Request outcomes recorded by a Tracker.
const (
	OutcomeApplied = "applied"
	OutcomeStale   = "stale"
	OutcomeFailed  = "failed"
	OutcomeClosed  = "closed"
)

// Tracker captures the request lifecycle of each polled or mutated resource.
//
// Callers must guard against a nil tracker.
type Tracker interface {
	RecordIssued(resource string, ts time.Time)
	RecordOutcome(resource, outcome string, ts time.Time)
}
