package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/imbalancebot/internal/domain"
)

// ReplayRunStore implements domain.ReplayRunStore over replay_runs.
type ReplayRunStore struct {
	pool *pgxpool.Pool
}

var _ domain.ReplayRunStore = (*ReplayRunStore)(nil)

func NewReplayRunStore(pool *pgxpool.Pool) *ReplayRunStore {
	return &ReplayRunStore{pool: pool}
}

// Save upserts run by ID.
func (s *ReplayRunStore) Save(ctx context.Context, run domain.ReplayRun) error {
	report, err := json.Marshal(run.Report)
	if err != nil {
		return fmt.Errorf("postgres: marshal replay report: %w", err)
	}
	symbols := run.Symbols
	if symbols == nil {
		symbols = []string{}
	}
	const q = `INSERT INTO replay_runs (id, symbols, started_at, finished_at, halted, report)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			symbols = EXCLUDED.symbols,
			started_at = EXCLUDED.started_at,
			finished_at = EXCLUDED.finished_at,
			halted = EXCLUDED.halted,
			report = EXCLUDED.report`
	if _, err := s.pool.Exec(ctx, q, run.ID, symbols, run.StartedAt, run.FinishedAt, run.Halted, report); err != nil {
		return fmt.Errorf("postgres: save replay run %s: %w", run.ID, err)
	}
	return nil
}

func (s *ReplayRunStore) Get(ctx context.Context, id string) (domain.ReplayRun, error) {
	const q = `SELECT id, symbols, started_at, finished_at, halted, report FROM replay_runs WHERE id = $1`
	run, err := scanRun(s.pool.QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ReplayRun{}, fmt.Errorf("postgres: replay run %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.ReplayRun{}, fmt.Errorf("postgres: get replay run %s: %w", id, err)
	}
	return run, nil
}

// ListRecent returns up to limit runs, newest first.
func (s *ReplayRunStore) ListRecent(ctx context.Context, limit int) ([]domain.ReplayRun, error) {
	if limit <= 0 {
		limit = 20
	}
	const q = `SELECT id, symbols, started_at, finished_at, halted, report
		FROM replay_runs ORDER BY started_at DESC LIMIT $1`
	rows, err := s.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list replay runs: %w", err)
	}
	defer rows.Close()

	var runs []domain.ReplayRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan replay run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list replay runs rows: %w", err)
	}
	return runs, nil
}

func scanRun(row pgx.Row) (domain.ReplayRun, error) {
	var (
		run    domain.ReplayRun
		report []byte
	)
	if err := row.Scan(&run.ID, &run.Symbols, &run.StartedAt, &run.FinishedAt, &run.Halted, &report); err != nil {
		return domain.ReplayRun{}, err
	}
	run.StartedAt = run.StartedAt.UTC()
	run.FinishedAt = run.FinishedAt.UTC()
	if len(report) > 0 {
		if err := json.Unmarshal(report, &run.Report); err != nil {
			return domain.ReplayRun{}, err
		}
	}
	return run, nil
}
