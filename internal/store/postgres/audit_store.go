package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/imbalancebot/internal/domain"
)

// AuditStore writes audit records for one run into audit_log. It is both a
// domain.AuditStore and a domain.AuditSink.
type AuditStore struct {
	pool  *pgxpool.Pool
	runID string
}

var (
	_ domain.AuditStore = (*AuditStore)(nil)
	_ domain.AuditSink  = (*AuditStore)(nil)
)

func NewAuditStore(pool *pgxpool.Pool, runID string) *AuditStore {
	return &AuditStore{pool: pool, runID: runID}
}

// Append inserts rec. Re-appending the same seq for a run is ignored.
func (s *AuditStore) Append(ctx context.Context, rec domain.AuditRecord) error {
	var detail []byte
	if len(rec.Detail) > 0 {
		var err error
		if detail, err = json.Marshal(rec.Detail); err != nil {
			return fmt.Errorf("postgres: marshal audit detail: %w", err)
		}
	}
	const q = `INSERT INTO audit_log (run_id, seq, type, symbol, event_time, detail)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (run_id, seq) DO NOTHING`
	if _, err := s.pool.Exec(ctx, q, s.runID, rec.Seq, string(rec.Type), rec.Symbol, rec.Time, detail); err != nil {
		return fmt.Errorf("postgres: append audit %s #%d: %w", rec.Type, rec.Seq, err)
	}
	return nil
}

func (s *AuditStore) Record(ctx context.Context, rec domain.AuditRecord) error {
	return s.Append(ctx, rec)
}

// Close is a no-op; the pool belongs to Client.
func (s *AuditStore) Close() error { return nil }

// List returns this run's records in seq order.
func (s *AuditStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditRecord, error) {
	query, args := auditListQuery(s.runID, opts)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list audit: %w", err)
	}
	defer rows.Close()

	var out []domain.AuditRecord
	for rows.Next() {
		var (
			rec    domain.AuditRecord
			typ    string
			detail []byte
		)
		if err := rows.Scan(&rec.Seq, &typ, &rec.Symbol, &rec.Time, &detail); err != nil {
			return nil, fmt.Errorf("postgres: scan audit: %w", err)
		}
		rec.Type = domain.AuditType(typ)
		rec.Time = rec.Time.UTC()
		if len(detail) > 0 {
			if err := json.Unmarshal(detail, &rec.Detail); err != nil {
				return nil, fmt.Errorf("postgres: unmarshal audit detail: %w", err)
			}
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list audit rows: %w", err)
	}
	return out, nil
}

func auditListQuery(runID string, opts domain.ListOpts) (string, []any) {
	var b strings.Builder
	b.WriteString(`SELECT seq, type, symbol, event_time, detail FROM audit_log WHERE run_id = $1`)
	args := []any{runID}
	add := func(clause string, v any) {
		args = append(args, v)
		fmt.Fprintf(&b, clause, len(args))
	}
	if opts.Since != nil {
		add(" AND event_time >= $%d", *opts.Since)
	}
	if opts.Until != nil {
		add(" AND event_time <= $%d", *opts.Until)
	}
	b.WriteString(" ORDER BY seq ASC")
	if opts.Limit > 0 {
		add(" LIMIT $%d", opts.Limit)
	}
	if opts.Offset > 0 {
		add(" OFFSET $%d", opts.Offset)
	}
	return b.String(), args
}
