// Package audit provides the append-only decision log sinks.
package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/alanyoungcy/imbalancebot/internal/domain"
)

// RotateFunc receives the path of a completed daily file.
type RotateFunc func(ctx context.Context, path string)

// FileSink writes one JSON record per line to audit-YYYY-MM-DD.jsonl in
// dir. The day is taken from the record time in UTC, so replays rotate on
// recorded days. Every record is flushed before Record returns.
type FileSink struct {
	dir      string
	onRotate RotateFunc
	logger   *slog.Logger

	mu     sync.Mutex
	day    string
	path   string
	file   *os.File
	w      *bufio.Writer
	closed bool
	hooks  sync.WaitGroup
}

var _ domain.AuditSink = (*FileSink)(nil)

// NewFileSink creates dir if needed. onRotate may be nil; it is called in
// its own goroutine for each file that was rotated away or closed.
func NewFileSink(dir string, onRotate RotateFunc, logger *slog.Logger) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("audit: create dir: %w", err)
	}
	return &FileSink{
		dir:      dir,
		onRotate: onRotate,
		logger:   logger.With(slog.String("component", "audit_file")),
	}, nil
}

// FileName returns the file name used for records on day t.
func FileName(t time.Time) string {
	return "audit-" + t.UTC().Format(time.DateOnly) + ".jsonl"
}

func (s *FileSink) Record(_ context.Context, rec domain.AuditRecord) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("audit: marshal %s: %w", rec.Type, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("audit: record %s: sink closed", rec.Type)
	}
	if day := rec.Time.UTC().Format(time.DateOnly); day != s.day || s.file == nil {
		if err := s.rotateLocked(rec.Time); err != nil {
			return err
		}
	}
	if _, err := s.w.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("audit: write: %w", err)
	}
	if err := s.w.Flush(); err != nil {
		return fmt.Errorf("audit: flush: %w", err)
	}
	return nil
}

func (s *FileSink) rotateLocked(t time.Time) error {
	if err := s.closeFileLocked(); err != nil {
		return err
	}
	path := filepath.Join(s.dir, FileName(t))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("audit: open %s: %w", path, err)
	}
	s.file, s.w, s.path = f, bufio.NewWriter(f), path
	s.day = t.UTC().Format(time.DateOnly)
	s.logger.Info("audit file opened", slog.String("path", path))
	return nil
}

func (s *FileSink) closeFileLocked() error {
	if s.file == nil {
		return nil
	}
	path := s.path
	if err := s.w.Flush(); err != nil {
		return fmt.Errorf("audit: flush %s: %w", path, err)
	}
	if err := s.file.Close(); err != nil {
		return fmt.Errorf("audit: close %s: %w", path, err)
	}
	s.file, s.w, s.path = nil, nil, ""
	if s.onRotate != nil {
		s.hooks.Add(1)
		go func() {
			defer s.hooks.Done()
			s.onRotate(context.Background(), path)
		}()
	}
	return nil
}

// Close closes the current file and waits for pending rotate hooks.
func (s *FileSink) Close() error {
	s.mu.Lock()
	s.closed = true
	err := s.closeFileLocked()
	s.mu.Unlock()
	s.hooks.Wait()
	return err
}
