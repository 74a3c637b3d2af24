package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/imbalancebot/internal/audit"
	"github.com/alanyoungcy/imbalancebot/internal/config"
	"github.com/alanyoungcy/imbalancebot/internal/replay"
)

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func writeDataset(t *testing.T) string {
	t.Helper()
	t0 := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	var b strings.Builder
	for i := 0; i < 40; i++ {
		mid := decimal.New(1000+int64(i), -1)
		fmt.Fprintf(&b, `{"symbol":"BTC-USD","timestamp":%q,"bids":[[%q,"4"]],"asks":[[%q,"1"]]}`+"\n",
			t0.Add(time.Duration(i)*30*time.Second).Format(time.RFC3339Nano),
			mid.Sub(decimal.New(5, -2)).String(), mid.Add(decimal.New(5, -2)).String())
	}
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "btc-2024-03-01.jsonl"), []byte(b.String()), 0o644))
	return dir
}

func TestBacktestModePublishesReport(t *testing.T) {
	cfg := config.Defaults()
	cfg.Replay.Dir = writeDataset(t)
	cfg.Replay.ReportDir = t.TempDir()
	cfg.Audit.Dir = t.TempDir()
	require.NoError(t, cfg.Validate())

	a := New(&cfg, testLogger())
	defer a.Close()
	deps, cleanup, err := Wire(context.Background(), &cfg, testLogger())
	require.NoError(t, err)
	defer cleanup()

	rep, err := a.BacktestMode(context.Background(), deps)
	require.NoError(t, err)
	require.NotEmpty(t, rep.ID)
	assert.False(t, rep.Halted)
	assert.Equal(t, int64(40), rep.Stats.Delivered)

	buf, err := os.ReadFile(filepath.Join(cfg.Replay.ReportDir, rep.ID+".json"))
	require.NoError(t, err)
	var got replay.Report
	require.NoError(t, json.Unmarshal(buf, &got))
	assert.Equal(t, rep.ID, got.ID)

	_, err = os.Stat(filepath.Join(cfg.Audit.Dir, rep.ID, audit.FileName(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))))
	assert.NoError(t, err)
}

func TestLiveModeNeedsBroker(t *testing.T) {
	cfg := config.Defaults()
	a := New(&cfg, testLogger())
	err := a.LiveMode(context.Background(), &Dependencies{})
	assert.ErrorIs(t, err, ErrNoBroker)
}

func TestRunRejectsUnknownMode(t *testing.T) {
	cfg := config.Defaults()
	cfg.Mode = "scrape"
	a := New(&cfg, testLogger())
	defer a.Close()
	assert.ErrorContains(t, a.Run(context.Background()), `unsupported mode "scrape"`)
}

func TestConfigMapping(t *testing.T) {
	cfg := config.Defaults()
	cfg.Risk.Leverage = decimal.NewFromInt(2)
	cfg.Audit.BookEvents = false
	a := New(&cfg, testLogger())

	sc := a.strategyConfig()
	assert.Equal(t, 10, sc.Depth)
	assert.Equal(t, 30, sc.SlowPeriod)
	assert.True(t, sc.UpperThreshold.Equal(decimal.NewFromInt(3)))

	rl := a.riskLimits()
	assert.True(t, rl.Leverage.Equal(decimal.NewFromInt(2)))
	assert.Equal(t, cfg.Risk.MaxTradesPerDay, rl.MaxTradesPerDay)

	ec := a.executorConfig()
	assert.False(t, ec.AuditBookEvents)
	assert.Equal(t, 3, ec.CloseRetries)
	assert.Equal(t, 24*time.Hour, ec.DedupTTL)
}

func TestLockInstrumentsWithoutRedis(t *testing.T) {
	cfg := config.Defaults()
	a := New(&cfg, testLogger())
	unlock, err := a.lockInstruments(context.Background(), &Dependencies{})
	require.NoError(t, err)
	unlock()
}

func TestReplayRunConversion(t *testing.T) {
	rep := replay.Report{ID: "r1", Symbols: []string{"BTC-USD"}, Halted: true}
	run, err := replayRun(rep)
	require.NoError(t, err)
	assert.Equal(t, "r1", run.ID)
	assert.True(t, run.Halted)
	assert.Equal(t, "r1", run.Report["id"])
}
