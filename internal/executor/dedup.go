package executor

import (
	"time"
)

// Dedup drops events that were already processed, such as bars re-sent by
// a feed after a reconnect. Keys expire ttl after they were first seen,
// measured on the event timeline rather than the wall clock.
type Dedup struct {
	seen map[string]time.Time
	ttl  time.Duration
}

// NewDedup creates a Dedup with the given ttl.
func NewDedup(ttl time.Duration) *Dedup {
	return &Dedup{
		seen: make(map[string]time.Time),
		ttl:  ttl,
	}
}

// IsDuplicate reports whether key was seen within ttl before now. Unseen
// or expired keys are recorded and reported as new.
func (d *Dedup) IsDuplicate(key string, now time.Time) bool {
	if first, ok := d.seen[key]; ok && now.Sub(first) < d.ttl {
		return true
	}
	d.seen[key] = now
	return false
}

// Cleanup removes entries older than ttl relative to now.
func (d *Dedup) Cleanup(now time.Time) {
	for k, ts := range d.seen {
		if now.Sub(ts) >= d.ttl {
			delete(d.seen, k)
		}
	}
}

// Len returns the number of tracked keys.
func (d *Dedup) Len() int { return len(d.seen) }
