package pipeline

import "sync"

// NotifyFunc receives a progress snapshot. The Tracker serializes calls,
// so implementations never see counts out of order.
type NotifyFunc func(done, total int, detail string)

// Tracker funnels progress from concurrent document workers into
// monotonic counts for a single consumer, typically a ui.Renderer.
type Tracker struct {
	mu     sync.Mutex
	done   int
	total  int
	notify NotifyFunc
}

// NewTracker creates a Tracker for a known amount of work. A nil notify
// turns the tracker into a plain counter.
func NewTracker(total int, notify NotifyFunc) *Tracker {
	if total < 0 {
		total = 0
	}
	return &Tracker{total: total, notify: notify}
}

// Advance marks one unit of work done. The notify callback runs under
// the tracker lock and must not call back into the tracker.
func (t *Tracker) Advance(detail string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.done++
	if t.notify != nil {
		t.notify(t.done, t.total, detail)
	}
}

// Done returns the current counts.
func (t *Tracker) Done() (done, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.done, t.total
}
