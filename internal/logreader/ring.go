package logreader

import (
	"log/slog"
	"sync"
)

// Ring is a fixed-capacity, in-process log buffer plus a fan-out of live
// subscribers. It replaces the teacher's journald/Docker-backed sourcing:
// OpenGoat has no host log service to shell out to, so its own structured
// log output (via the slog Handler in this package) is the only source.
type Ring struct {
	mu   sync.Mutex
	buf  []LogEntry
	cap  int
	subs []chan LogEntry
}

// NewRing creates a Ring holding at most capacity entries.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = 1000
	}
	return &Ring{cap: capacity}
}

// Append adds an entry, evicting the oldest once capacity is exceeded, and
// fans it out to every live subscriber (non-blocking: a slow subscriber
// drops entries rather than stalling the logger).
func (r *Ring) Append(e LogEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.buf = append(r.buf, e)
	if len(r.buf) > r.cap {
		r.buf = r.buf[len(r.buf)-r.cap:]
	}
	for _, sub := range r.subs {
		select {
		case sub <- e:
		default:
		}
	}
}

// Snapshot returns the most recent entries, newest first, capped at limit
// (0 means "all buffered entries").
func (r *Ring) Snapshot(limit int) []LogEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(r.buf)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]LogEntry, n)
	for i := 0; i < n; i++ {
		out[i] = r.buf[len(r.buf)-1-i]
	}
	return out
}

// Wrap returns a slog.Handler that mirrors every record next receives into
// r, satisfying logging.RingMirror so cmd/opengoatd can pass a *Ring
// straight to logging.SetupWithRing without this package importing logging.
func (r *Ring) Wrap(next slog.Handler) slog.Handler {
	return NewHandler(next, r)
}

// Subscribe registers a live feed of newly appended entries. The caller
// must call the returned unsubscribe function when done.
func (r *Ring) Subscribe() (<-chan LogEntry, func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch := make(chan LogEntry, 256)
	r.subs = append(r.subs, ch)
	unsubscribe := func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		for i, sub := range r.subs {
			if sub == ch {
				r.subs = append(r.subs[:i], r.subs[i+1:]...)
				close(ch)
				return
			}
		}
	}
	return ch, unsubscribe
}
