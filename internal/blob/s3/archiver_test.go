package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/imbalancebot/internal/domain"
)

type memWriter struct {
	objects   map[string][]byte
	types     map[string]string
	multipart []string
	err       error
	headErr   error
	puts      int
}

func newMemWriter() *memWriter {
	return &memWriter{objects: map[string][]byte{}, types: map[string]string{}}
}

func (w *memWriter) Put(_ context.Context, key string, data io.Reader, contentType string) error {
	if w.err != nil {
		return w.err
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, data); err != nil {
		return err
	}
	w.puts++
	w.objects[key] = buf.Bytes()
	w.types[key] = contentType
	return nil
}

func (w *memWriter) PutMultipart(ctx context.Context, key string, data io.Reader, _ int64) error {
	w.multipart = append(w.multipart, key)
	return w.Put(ctx, key, data, "")
}

// Get and List are unused by the archiver.
func (w *memWriter) Get(context.Context, string) (io.ReadCloser, error) { return nil, domain.ErrNotFound }

func (w *memWriter) List(context.Context, string) ([]domain.BlobInfo, error) { return nil, nil }

func (w *memWriter) Exists(_ context.Context, key string) (bool, error) {
	if w.headErr != nil {
		return false, w.headErr
	}
	_, ok := w.objects[key]
	return ok, nil
}

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestArchiveAuditFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "run-1")
	require.NoError(t, os.Mkdir(dir, 0o755))
	local := filepath.Join(dir, "audit-2024-03-01.jsonl")
	require.NoError(t, os.WriteFile(local, []byte(`{"seq":1}`+"\n"), 0o644))

	w := newMemWriter()
	a := NewArchiver(w, nil, "bot", testLogger())
	require.NoError(t, a.ArchiveAuditFile(context.Background(), local))

	key := "bot/audit/run-1/audit-2024-03-01.jsonl"
	assert.Equal(t, `{"seq":1}`+"\n", string(w.objects[key]))
	assert.Equal(t, "application/x-ndjson", w.types[key])
}

func TestArchiveAuditFileErrors(t *testing.T) {
	a := NewArchiver(newMemWriter(), nil, "", testLogger())
	assert.Error(t, a.ArchiveAuditFile(context.Background(), filepath.Join(t.TempDir(), "missing.jsonl")))

	dir := t.TempDir()
	local := filepath.Join(dir, "audit-2024-03-01.jsonl")
	require.NoError(t, os.WriteFile(local, []byte("x"), 0o644))
	w := newMemWriter()
	w.err = errors.New("denied")
	a = NewArchiver(w, nil, "", testLogger())
	assert.ErrorContains(t, a.ArchiveAuditFile(context.Background(), local), "denied")
	// OnRotate only logs.
	a.OnRotate(context.Background(), local)
}

func TestPutReport(t *testing.T) {
	w := newMemWriter()
	a := NewArchiver(w, nil, "", testLogger())
	key, err := a.PutReport(context.Background(), "run-7", map[string]any{"halted": true})
	require.NoError(t, err)
	assert.Equal(t, "replay/reports/run-7.json", key)

	var got map[string]any
	require.NoError(t, json.Unmarshal(w.objects[key], &got))
	assert.Equal(t, true, got["halted"])
}

func TestNormaliseEndpoint(t *testing.T) {
	assert.Equal(t, "https://minio.local:9000", normaliseEndpoint("minio.local:9000", true))
	assert.Equal(t, "http://minio.local:9000", normaliseEndpoint("minio.local:9000", false))
	assert.Equal(t, "https://e2.example.com", normaliseEndpoint("https://e2.example.com", false))
}

func TestArchiveLargeAuditFileUsesMultipart(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "run-2")
	require.NoError(t, os.Mkdir(dir, 0o755))
	local := filepath.Join(dir, "audit-2024-03-02.jsonl")
	require.NoError(t, os.WriteFile(local, []byte("{\"seq\":1}\n"), 0o644))

	w := newMemWriter()
	a := NewArchiver(w, nil, "bot", testLogger())
	a.multipartThreshold = 1
	require.NoError(t, a.ArchiveAuditFile(context.Background(), local))
	assert.Equal(t, []string{"bot/audit/run-2/audit-2024-03-02.jsonl"}, w.multipart)
	assert.Equal(t, "{\"seq\":1}\n", string(w.objects["bot/audit/run-2/audit-2024-03-02.jsonl"]))
}

func TestArchiveAuditFileSkipsStoredKeys(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "run-3")
	require.NoError(t, os.Mkdir(dir, 0o755))
	local := filepath.Join(dir, "audit-2024-03-03.jsonl")
	require.NoError(t, os.WriteFile(local, []byte("{\"seq\":1}\n"), 0o644))

	w := newMemWriter()
	a := NewArchiver(w, w, "bot", testLogger())
	require.NoError(t, a.ArchiveAuditFile(context.Background(), local))
	require.NoError(t, os.WriteFile(local, []byte("{\"seq\":2}\n"), 0o644))
	require.NoError(t, a.ArchiveAuditFile(context.Background(), local))

	assert.Equal(t, 1, w.puts)
	assert.Equal(t, "{\"seq\":1}\n", string(w.objects["bot/audit/run-3/audit-2024-03-03.jsonl"]))

	w.headErr = errors.New("throttled")
	assert.ErrorContains(t, a.ArchiveAuditFile(context.Background(), local), "throttled")
	assert.Equal(t, 1, w.puts)
}
