package domain

import (
	"context"
	"time"
)

// LockManager grants exclusive ownership of a key, such as one instrument,
// across processes. The lock is held until unlock is called.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage is one stream entry.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus carries the audit mirror stream and live signal fan-out.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
