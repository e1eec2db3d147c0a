package sequence

import "sync"

// Resource names a class of requests whose responses supersede each other.
type Resource string

// Ticket identifies a single issued request for a resource.
type Ticket struct {
	Resource Resource
	Seq      uint64
}

// Tracker hands out monotonically increasing tickets per resource and answers
// whether a ticket is still the most recently issued one.
//
// A response may only be applied while its ticket is current. Invalidate
// advances the counter without issuing a request so that every outstanding
// ticket for the resource becomes stale.
type Tracker struct {
	mu     sync.Mutex
	latest map[Resource]uint64
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{latest: make(map[Resource]uint64)}
}

// Issue reserves the next sequence number for the resource.
func (t *Tracker) Issue(r Resource) Ticket {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.latest[r]++
	return Ticket{Resource: r, Seq: t.latest[r]}
}

// Invalidate supersedes every ticket issued so far for the resource and
// returns the new watermark.
func (t *Tracker) Invalidate(r Resource) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.latest[r]++
	return t.latest[r]
}

// Current reports whether the ticket is still the latest issued for its resource.
func (t *Tracker) Current(ticket Ticket) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return ticket.Seq != 0 && t.latest[ticket.Resource] == ticket.Seq
}

// Latest returns the highest sequence number handed out for the resource.
func (t *Tracker) Latest(r Resource) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.latest[r]
}
