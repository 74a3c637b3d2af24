package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// AuditStore persists the audit log in a queryable store.
type AuditStore interface {
	Append(ctx context.Context, rec AuditRecord) error
	List(ctx context.Context, opts ListOpts) ([]AuditRecord, error)
}

// ReplayRun is the persisted summary of one replay.
type ReplayRun struct {
	ID         string         `json:"id"`
	Symbols    []string       `json:"symbols"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Halted     bool           `json:"halted"`
	Report     map[string]any `json:"report"`
}

// ReplayRunStore persists replay summaries.
type ReplayRunStore interface {
	Save(ctx context.Context, run ReplayRun) error
	Get(ctx context.Context, id string) (ReplayRun, error)
	ListRecent(ctx context.Context, limit int) ([]ReplayRun, error)
}
