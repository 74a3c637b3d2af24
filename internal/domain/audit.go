package domain

import (
	"context"
	"time"
)

// AuditType names a kind of audit record.
type AuditType string

const (
	AuditBarReceived       AuditType = "bar_received"
	AuditBarSkipped        AuditType = "bar_skipped"
	AuditBarWarning        AuditType = "bar_warning"
	AuditBookReceived      AuditType = "book_received"
	AuditBookRejected      AuditType = "book_rejected"
	AuditSignalGenerated   AuditType = "signal_generated"
	AuditRiskBlock         AuditType = "risk_block"
	AuditOrderPlaced       AuditType = "order_placed"
	AuditStrategyError     AuditType = "strategy_error"
	AuditExecutionError    AuditType = "execution_error"
	AuditBrokerError       AuditType = "broker_error"
	AuditShutdown          AuditType = "shutdown"
	AuditEmergencyShutdown AuditType = "emergency_shutdown"
)

// AuditRecord is one entry in the append-only decision log. Seq increases
// monotonically in processing order within a run.
type AuditRecord struct {
	Seq    int64          `json:"seq"`
	Type   AuditType      `json:"type"`
	Time   time.Time      `json:"time"`
	Symbol string         `json:"symbol,omitempty"`
	Detail map[string]any `json:"detail,omitempty"`
}

// AuditSink receives audit records in order.
type AuditSink interface {
	Record(ctx context.Context, rec AuditRecord) error
	Close() error
}
