package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/imbalancebot/internal/domain"
)

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func readLines(t *testing.T, path string) []domain.AuditRecord {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	var out []domain.AuditRecord
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var rec domain.AuditRecord
		require.NoError(t, json.Unmarshal(sc.Bytes(), &rec))
		out = append(out, rec)
	}
	require.NoError(t, sc.Err())
	return out
}

func TestFileSinkRotatesDaily(t *testing.T) {
	dir := t.TempDir()
	var mu sync.Mutex
	var rotated []string
	sink, err := NewFileSink(dir, func(_ context.Context, path string) {
		mu.Lock()
		rotated = append(rotated, filepath.Base(path))
		mu.Unlock()
	}, testLogger())
	require.NoError(t, err)

	day1 := time.Date(2024, 3, 1, 23, 59, 59, 0, time.UTC)
	day2 := day1.Add(2 * time.Second)
	ctx := context.Background()
	require.NoError(t, sink.Record(ctx, domain.AuditRecord{Seq: 1, Type: domain.AuditBarReceived, Time: day1, Symbol: "BTC"}))
	require.NoError(t, sink.Record(ctx, domain.AuditRecord{Seq: 2, Type: domain.AuditSignalGenerated, Time: day1, Detail: map[string]any{"side": "buy"}}))
	require.NoError(t, sink.Record(ctx, domain.AuditRecord{Seq: 3, Type: domain.AuditShutdown, Time: day2}))

	// Records are flushed before Record returns.
	first := readLines(t, filepath.Join(dir, "audit-2024-03-01.jsonl"))
	require.Len(t, first, 2)
	assert.EqualValues(t, 1, first[0].Seq)
	assert.Equal(t, "BTC", first[0].Symbol)
	assert.Equal(t, "buy", first[1].Detail["side"])

	require.NoError(t, sink.Close())
	second := readLines(t, filepath.Join(dir, "audit-2024-03-02.jsonl"))
	require.Len(t, second, 1)
	assert.Equal(t, domain.AuditShutdown, second[0].Type)

	sort.Strings(rotated)
	assert.Equal(t, []string{"audit-2024-03-01.jsonl", "audit-2024-03-02.jsonl"}, rotated)

	err = sink.Record(ctx, domain.AuditRecord{Seq: 4, Time: day2})
	assert.Error(t, err)
}

func TestFileSinkConvertsToUTC(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewFileSink(dir, nil, testLogger())
	require.NoError(t, err)
	zone := time.FixedZone("UTC+9", 9*3600)
	require.NoError(t, sink.Record(context.Background(), domain.AuditRecord{Seq: 1, Time: time.Date(2024, 3, 2, 8, 0, 0, 0, zone)}))
	require.NoError(t, sink.Close())
	_, err = os.Stat(filepath.Join(dir, "audit-2024-03-01.jsonl"))
	assert.NoError(t, err)
}

type failingSink struct{ closed bool }

func (s *failingSink) Record(context.Context, domain.AuditRecord) error { return errors.New("down") }
func (s *failingSink) Close() error                                     { s.closed = true; return nil }

func TestMultiMirrorsAreBestEffort(t *testing.T) {
	primary := NewMemorySink()
	mirror := NewMemorySink()
	broken := &failingSink{}
	m := NewMulti(primary, testLogger(), broken, mirror)

	require.NoError(t, m.Record(context.Background(), domain.AuditRecord{Seq: 1}))
	assert.Len(t, primary.Records(), 1)
	assert.Len(t, mirror.Records(), 1)

	require.NoError(t, m.Close())
	assert.True(t, broken.closed)
}

func TestMultiPrimaryFailureIsReturned(t *testing.T) {
	mirror := NewMemorySink()
	m := NewMulti(&failingSink{}, testLogger(), mirror)
	assert.Error(t, m.Record(context.Background(), domain.AuditRecord{Seq: 1}))
	assert.Empty(t, mirror.Records())
}
