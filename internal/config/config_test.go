package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTOML(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
	assert.True(t, cfg.Audit.BookEvents)
}

func TestLoadDecodesOverDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	path := writeTOML(t, `
mode = "paper"

[instrument]
symbols = ["ETH-USD", "BTC-USD"]
timeframe = "5m"

[strategy]
upper_threshold = "3.5"
lower_threshold = 0.25
max_hold = "2h"

[risk]
max_daily_loss_usd = "250.50"
leverage = "2"

[feed]
url = "wss://depth.example.com/ws"

[replay]
start = "2024-03-01"
end = "2024-03-02T12:00:00Z"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "paper", cfg.Mode)
	assert.Equal(t, []string{"ETH-USD", "BTC-USD"}, cfg.Instrument.Symbols)
	assert.Equal(t, 5*time.Minute, cfg.Instrument.Timeframe.Duration)
	assert.True(t, cfg.Strategy.UpperThreshold.Equal(decimal.RequireFromString("3.5")))
	assert.True(t, cfg.Strategy.LowerThreshold.Equal(decimal.RequireFromString("0.25")))
	assert.Equal(t, 2*time.Hour, cfg.Strategy.MaxHold.Duration)
	assert.Equal(t, "250.5", cfg.Risk.MaxDailyLossUSD.String())
	assert.Equal(t, 10, cfg.Strategy.Depth, "default kept")
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), cfg.Replay.Start.Time)
	assert.Equal(t, time.Date(2024, 3, 2, 12, 0, 0, 0, time.UTC), cfg.Replay.End.Time)
	assert.Equal(t, 5*time.Minute, cfg.LiveBarInterval())
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	t.Chdir(t.TempDir())
	_, err := Load(writeTOML(t, "[strategy]\nupper = \"3\"\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "strategy.upper")
}

func TestEnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("IMBOT_MODE", "live")
	t.Setenv("IMBOT_FEED_URL", "wss://x")
	t.Setenv("IMBOT_INSTRUMENT_SYMBOLS", "SOL-USD, ,ETH-USD")
	t.Setenv("IMBOT_RISK_MAX_TRADES_PER_DAY", "5")
	t.Setenv("IMBOT_RISK_MAX_POSITION_USD", "1234.5")
	t.Setenv("IMBOT_REPLAY_SPEED", "10")
	t.Setenv("IMBOT_FEED_NATIVE_BARS", "true")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "live", cfg.Mode)
	assert.Equal(t, []string{"SOL-USD", "ETH-USD"}, cfg.Instrument.Symbols)
	assert.Equal(t, 5, cfg.Risk.MaxTradesPerDay)
	assert.Equal(t, "1234.5", cfg.Risk.MaxPositionUSD.String())
	assert.Equal(t, 10.0, cfg.Replay.Speed)
	assert.Zero(t, cfg.LiveBarInterval())
}

func TestEnvOverrideErrors(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("IMBOT_RISK_MAX_TRADES_PER_DAY", "five")
	t.Setenv("IMBOT_RISK_MAX_LEVERAGE", "3x")
	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "IMBOT_RISK_MAX_TRADES_PER_DAY")
	assert.Contains(t, err.Error(), "IMBOT_RISK_MAX_LEVERAGE")
}

func TestValidateCollectsAllProblems(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "arbitrage"
	cfg.Strategy.FastPeriod = 30
	cfg.Strategy.SlowPeriod = 10
	cfg.Risk.LiquidationBufferFraction = decimal.NewFromInt(1)
	cfg.Audit.Postgres = true

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{
		`unknown mode "arbitrage"`,
		"fast_period < slow_period",
		"liquidation_buffer_fraction",
		"postgres mirror needs postgres.enabled",
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestValidateModeRequirements(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "paper"
	assert.ErrorContains(t, cfg.Validate(), "feed: url is required")

	cfg = Defaults()
	cfg.Replay.Dir = ""
	cfg.Replay.S3Prefix = "recorded/"
	assert.ErrorContains(t, cfg.Validate(), "s3_prefix needs s3.enabled")

	cfg = Defaults()
	cfg.Replay.Start = timestamp{time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)}
	cfg.Replay.End = timestamp{time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)}
	assert.ErrorContains(t, cfg.Validate(), "end must be after start")
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Postgres.Password = "pw"
	cfg.S3.SecretKey = "sk"
	cfg.Server.APIKey = "key"
	cfg.Notify.TelegramToken = ""

	out := RedactedConfig(&cfg)
	assert.Equal(t, "***", out.Postgres.Password)
	assert.Equal(t, "***", out.S3.SecretKey)
	assert.Equal(t, "***", out.Server.APIKey)
	assert.Empty(t, out.Notify.TelegramToken)
	assert.Equal(t, "pw", cfg.Postgres.Password)

	out.Instrument.Symbols[0] = "changed"
	assert.Equal(t, "BTC-USD", cfg.Instrument.Symbols[0])
}
