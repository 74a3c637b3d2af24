package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/alanyoungcy/imbalancebot/internal/domain"
)

// SignalsChannel carries signal_generated and order_placed records for live
// consumers.
const SignalsChannel = "imbot:signals"

// AuditStream mirrors audit records into a Redis stream and fans decision
// records out on SignalsChannel.
type AuditStream struct {
	bus    domain.SignalBus
	stream string
}

var _ domain.AuditSink = (*AuditStream)(nil)

// NewAuditStream appends to stream, e.g. "imbot:audit:<run-id>".
func NewAuditStream(bus domain.SignalBus, stream string) *AuditStream {
	return &AuditStream{bus: bus, stream: stream}
}

func (a *AuditStream) Record(ctx context.Context, rec domain.AuditRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("redis: marshal audit record: %w", err)
	}
	if err := a.bus.StreamAppend(ctx, a.stream, payload); err != nil {
		return err
	}
	switch rec.Type {
	case domain.AuditSignalGenerated, domain.AuditOrderPlaced:
		return a.bus.Publish(ctx, SignalsChannel, payload)
	}
	return nil
}

func (a *AuditStream) Close() error { return nil }
