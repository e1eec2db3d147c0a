package service

import (
	"sync"
	"time"

	"github.com/timzifer/hemlarm/remote"
)

// Diagnostic records one reported failure.
type Diagnostic struct {
	Time      time.Time `json:"time"`
	Operation string    `json:"operation"`
	Kind      string    `json:"kind"`
	Message   string    `json:"message"`
	RequestID string    `json:"request_id,omitempty"`
}

// diagnosticLog keeps the most recent failures, newest first.
type diagnosticLog struct {
	mu      sync.Mutex
	limit   int
	entries []Diagnostic
}

func newDiagnosticLog(limit int) *diagnosticLog {
	if limit <= 0 {
		limit = 1
	}
	return &diagnosticLog{limit: limit}
}

func (d *diagnosticLog) add(ts time.Time, op, requestID string, err error) Diagnostic {
	entry := Diagnostic{
		Time:      ts,
		Operation: op,
		Kind:      remote.KindOf(err),
		Message:   err.Error(),
		RequestID: requestID,
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries = append([]Diagnostic{entry}, d.entries...)
	if len(d.entries) > d.limit {
		d.entries = d.entries[:d.limit]
	}
	return entry
}

func (d *diagnosticLog) list() []Diagnostic {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Diagnostic(nil), d.entries...)
}
