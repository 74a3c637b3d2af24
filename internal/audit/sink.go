package audit

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/alanyoungcy/imbalancebot/internal/domain"
)

// MemorySink keeps records in memory. Tests and replay use it.
type MemorySink struct {
	mu   sync.Mutex
	recs []domain.AuditRecord
}

var _ domain.AuditSink = (*MemorySink)(nil)

func NewMemorySink() *MemorySink { return &MemorySink{} }

func (s *MemorySink) Record(_ context.Context, rec domain.AuditRecord) error {
	s.mu.Lock()
	s.recs = append(s.recs, rec)
	s.mu.Unlock()
	return nil
}

func (s *MemorySink) Close() error { return nil }

// Records returns a copy of everything recorded so far.
func (s *MemorySink) Records() []domain.AuditRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.AuditRecord, len(s.recs))
	copy(out, s.recs)
	return out
}

// Multi fans records out to a primary sink, whose failures are returned,
// and any number of mirrors, whose failures are only logged.
type Multi struct {
	primary domain.AuditSink
	mirrors []domain.AuditSink
	logger  *slog.Logger
}

var _ domain.AuditSink = (*Multi)(nil)

// NewMulti creates a fan-out sink.
func NewMulti(primary domain.AuditSink, logger *slog.Logger, mirrors ...domain.AuditSink) *Multi {
	return &Multi{
		primary: primary,
		mirrors: mirrors,
		logger:  logger.With(slog.String("component", "audit")),
	}
}

func (m *Multi) Record(ctx context.Context, rec domain.AuditRecord) error {
	if err := m.primary.Record(ctx, rec); err != nil {
		return err
	}
	for _, s := range m.mirrors {
		if err := s.Record(ctx, rec); err != nil {
			m.logger.Warn("audit mirror failed",
				slog.Int64("seq", rec.Seq),
				slog.String("type", string(rec.Type)),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

// Close closes every sink and joins their errors.
func (m *Multi) Close() error {
	errs := []error{m.primary.Close()}
	for _, s := range m.mirrors {
		errs = append(errs, s.Close())
	}
	return errors.Join(errs...)
}
