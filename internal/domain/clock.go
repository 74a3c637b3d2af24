package domain

import (
	"sync"
	"time"
)

// Clock supplies the current time to time-dependent components.
type Clock interface {
	Now() time.Time
}

// SystemClock reads wall-clock time in UTC.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// EventClock reports the timestamp of the most recently processed event.
// Replay uses it so day boundaries follow recorded time.
type EventClock struct {
	mu  sync.RWMutex
	now time.Time
}

// NewEventClock returns an EventClock starting at start.
func NewEventClock(start time.Time) *EventClock {
	return &EventClock{now: start.UTC()}
}

// Advance moves the clock to t. Earlier times are ignored.
func (c *EventClock) Advance(t time.Time) {
	c.mu.Lock()
	if t.After(c.now) {
		c.now = t.UTC()
	}
	c.mu.Unlock()
}

func (c *EventClock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now
}
