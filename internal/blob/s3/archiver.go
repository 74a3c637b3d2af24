package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/alanyoungcy/imbalancebot/internal/domain"
)

// Archiver copies audit files and replay reports into object storage.
//
//	audit/<run-id>/audit-2024-03-01.jsonl
//	replay/reports/<run-id>.json
type Archiver struct {
	writer domain.BlobWriter
	// reader, when set, lets ArchiveAuditFile skip files already stored.
	reader  domain.BlobReader
	prefix  string
	timeout time.Duration
	// Files of at least multipartThreshold bytes go through PutMultipart.
	multipartThreshold int64
	logger             *slog.Logger
}

const (
	defaultMultipartThreshold int64 = 64 << 20
	multipartPartSize         int64 = 16 << 20
)

// NewArchiver creates an Archiver. prefix is prepended to every key; reader
// may be nil.
func NewArchiver(writer domain.BlobWriter, reader domain.BlobReader, prefix string, logger *slog.Logger) *Archiver {
	return &Archiver{
		writer:  writer,
		reader:  reader,
		prefix:  prefix,
		timeout: 2 * time.Minute,

		multipartThreshold: defaultMultipartThreshold,
		logger:             logger.With(slog.String("component", "archiver")),
	}
}

// AuditKey returns the object key for a local audit file. Audit files live
// in a per-run directory whose name is kept in the key.
func (a *Archiver) AuditKey(localPath string) string {
	run := filepath.Base(filepath.Dir(localPath))
	return path.Join(a.prefix, "audit", run, filepath.Base(localPath))
}

// ReportKey returns the object key for a replay report.
func (a *Archiver) ReportKey(runID string) string {
	return path.Join(a.prefix, "replay", "reports", runID+".json")
}

// ArchiveAuditFile uploads a completed local audit file. Rotated files
// never change, so a key that already exists is left alone.
func (a *Archiver) ArchiveAuditFile(ctx context.Context, localPath string) error {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("s3blob: archive audit: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("s3blob: archive audit: %w", err)
	}

	key := a.AuditKey(localPath)
	if a.reader != nil {
		exists, err := a.reader.Exists(ctx, key)
		if err != nil {
			return fmt.Errorf("s3blob: archive audit: %w", err)
		}
		if exists {
			a.logger.Info("audit file already archived", slog.String("path", localPath), slog.String("key", key))
			return nil
		}
	}
	if info.Size() >= a.multipartThreshold {
		err = a.writer.PutMultipart(ctx, key, f, multipartPartSize)
	} else {
		err = a.writer.Put(ctx, key, f, "application/x-ndjson")
	}
	if err != nil {
		return fmt.Errorf("s3blob: archive audit: %w", err)
	}
	a.logger.Info("audit file archived", slog.String("path", localPath), slog.String("key", key))
	return nil
}

// OnRotate is an audit.RotateFunc that archives the rotated file and logs
// failures.
func (a *Archiver) OnRotate(ctx context.Context, localPath string) {
	if err := a.ArchiveAuditFile(ctx, localPath); err != nil {
		a.logger.Error("audit archive failed", slog.String("path", localPath), slog.String("error", err.Error()))
	}
}

// PutReport uploads report as indented JSON and returns its key.
func (a *Archiver) PutReport(ctx context.Context, runID string, report any) (string, error) {
	buf, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("s3blob: marshal report: %w", err)
	}
	key := a.ReportKey(runID)
	if err := a.writer.Put(ctx, key, bytes.NewReader(buf), "application/json"); err != nil {
		return "", fmt.Errorf("s3blob: put report: %w", err)
	}
	return key, nil
}
