package replay

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/imbalancebot/internal/domain"
)

type recordingClock struct {
	sleeps []time.Duration
}

func (c *recordingClock) Sleep(_ context.Context, d time.Duration) error {
	c.sleeps = append(c.sleeps, d)
	return nil
}

type markCall struct {
	symbol   string
	bid, ask string
}

type recordingMarker struct {
	calls []markCall
}

func (m *recordingMarker) Mark(symbol string, bid, ask decimal.Decimal, _ time.Time) {
	m.calls = append(m.calls, markCall{symbol, bid.String(), ask.String()})
}

func writeFiles(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}
	return dir
}

func drain(t *testing.T, f *Feed) []domain.MarketEvent {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.Connect(ctx))
	var out []domain.MarketEvent
	for {
		ev, err := f.Next(ctx)
		if errors.Is(err, io.EOF) {
			return out
		}
		require.NoError(t, err)
		out = append(out, ev)
	}
}

func TestFeedSkipsMalformedAndOutOfOrder(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"a.jsonl": strings.Join([]string{
			snapshotLine("BTC", t0, d("100"), 1, 1),
			`{"symbol":"BTC","timestamp":"nope"}`,
			"",
			snapshotLine("BTC", t0.Add(2*time.Second), d("101"), 1, 1),
			snapshotLine("BTC", t0.Add(time.Second), d("102"), 1, 1),
		}, "\n"),
		"b.ndjson": snapshotLine("BTC", t0.Add(3*time.Second), d("103"), 1, 1),
		"notes.txt": "ignored",
	})
	marker := &recordingMarker{}
	f := NewFeed(FeedConfig{}, DirSource{Dir: dir}, marker, testLogger())

	evs := drain(t, f)
	require.Len(t, evs, 3)
	assert.Equal(t, t0.Add(3*time.Second), evs[2].Time)

	st := f.Stats()
	assert.Equal(t, 2, st.Files)
	assert.EqualValues(t, 5, st.Lines)
	assert.EqualValues(t, 1, st.Malformed)
	assert.EqualValues(t, 1, st.OutOfOrder)
	assert.EqualValues(t, 3, st.Delivered)

	require.Len(t, marker.calls, 3)
	assert.Equal(t, markCall{"BTC", "99.95", "100.05"}, marker.calls[0])
}

func TestFeedWindowAndSymbols(t *testing.T) {
	var lines []string
	for i := 0; i < 6; i++ {
		sym := "BTC"
		if i%2 == 1 {
			sym = "ETH"
		}
		lines = append(lines, snapshotLine(sym, t0.Add(time.Duration(i)*time.Minute), d("100"), 1, 1))
	}
	dir := writeFiles(t, map[string]string{"data.jsonl": strings.Join(lines, "\n")})

	f := NewFeed(FeedConfig{
		Start:   t0.Add(time.Minute),
		End:     t0.Add(4 * time.Minute),
		Symbols: []string{"BTC"},
	}, DirSource{Dir: dir}, nil, testLogger())

	evs := drain(t, f)
	require.Len(t, evs, 1)
	assert.Equal(t, t0.Add(2*time.Minute), evs[0].Time)

	st := f.Stats()
	assert.EqualValues(t, 2, st.OutOfWindow)
	assert.EqualValues(t, 2, st.Filtered)
}

func TestFeedPacing(t *testing.T) {
	dir := writeFiles(t, map[string]string{"data.jsonl": strings.Join([]string{
		snapshotLine("BTC", t0, d("100"), 1, 1),
		snapshotLine("BTC", t0.Add(10*time.Second), d("100"), 1, 1),
		snapshotLine("BTC", t0.Add(10*time.Second), d("100"), 1, 1),
		snapshotLine("BTC", t0.Add(30*time.Second), d("100"), 1, 1),
	}, "\n")})

	clock := &recordingClock{}
	f := NewFeed(FeedConfig{Speed: 2}, DirSource{Dir: dir}, nil, testLogger()).WithClock(clock)
	drain(t, f)
	assert.Equal(t, []time.Duration{5 * time.Second, 10 * time.Second}, clock.sleeps)

	clock = &recordingClock{}
	f = NewFeed(FeedConfig{Speed: 0}, DirSource{Dir: dir}, nil, testLogger()).WithClock(clock)
	drain(t, f)
	assert.Empty(t, clock.sleeps)
}

func TestFeedComparesRecordedImbalance(t *testing.T) {
	dir := writeFiles(t, map[string]string{"data.jsonl": strings.Join([]string{
		`{"symbol":"X","timestamp":"2024-03-01T09:00:00Z","bids":[["100","3"]],"asks":[["100.5","1"]],"imbalance":{"ratio":"2.98507462686567164"}}`,
		`{"symbol":"X","timestamp":"2024-03-01T09:00:01Z","bids":[["100","3"]],"asks":[["100.5","1"]],"imbalance":{"ratio":"3.5"}}`,
		`{"symbol":"X","timestamp":"2024-03-01T09:00:02Z","bids":[["101","3"]],"asks":[["100.5","1"]]}`,
	}, "\n")})

	f := NewFeed(FeedConfig{ImbalanceDepth: 10}, DirSource{Dir: dir}, nil, testLogger())
	evs := drain(t, f)
	assert.Len(t, evs, 3)
	assert.EqualValues(t, 1, f.Stats().ImbalanceMismatch)
	// The crossed snapshot is delivered; the orchestrator rejects it.
	assert.EqualValues(t, 1, f.Stats().DataQuality)
}

func TestFeedBarRecordsMarkAtClose(t *testing.T) {
	dir := writeFiles(t, map[string]string{"bars.jsonl": `{"type":"bar","symbol":"ETH","timestamp":"2024-03-01T09:01:00Z","start":"2024-03-01T09:00:00Z","open":"10","high":"12","low":"9","close":"11","volume":"4"}`})
	marker := &recordingMarker{}
	f := NewFeed(FeedConfig{}, DirSource{Dir: dir}, marker, testLogger())
	evs := drain(t, f)
	require.Len(t, evs, 1)
	assert.Equal(t, domain.EventBar, evs[0].Kind)
	assert.Equal(t, []markCall{{"ETH", "11", "11"}}, marker.calls)
}

type fakeBlobReader struct {
	objects map[string]string
}

func (r fakeBlobReader) Get(_ context.Context, path string) (io.ReadCloser, error) {
	body, ok := r.objects[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewBufferString(body)), nil
}

func (r fakeBlobReader) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	var out []domain.BlobInfo
	for k := range r.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, domain.BlobInfo{Path: k})
		}
	}
	return out, nil
}

func (r fakeBlobReader) Exists(_ context.Context, path string) (bool, error) {
	_, ok := r.objects[path]
	return ok, nil
}

func TestBlobSourceOrdersKeys(t *testing.T) {
	src := BlobSource{Prefix: "recorded/", Reader: fakeBlobReader{objects: map[string]string{
		"recorded/2024-03-02.jsonl": snapshotLine("BTC", t0.Add(24*time.Hour), d("100"), 1, 1),
		"recorded/2024-03-01.jsonl": snapshotLine("BTC", t0, d("100"), 1, 1),
		"recorded/README.md":        "x",
		"other/2024-03-01.jsonl":    snapshotLine("BTC", t0, d("100"), 1, 1),
	}}}

	keys, err := src.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"recorded/2024-03-01.jsonl", "recorded/2024-03-02.jsonl"}, keys)

	evs := drain(t, NewFeed(FeedConfig{}, src, nil, testLogger()))
	require.Len(t, evs, 2)
	assert.True(t, evs[0].Time.Before(evs[1].Time))
}
