// Package config defines the engine configuration and its validation.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config is populated from a TOML file over Defaults and then overridden by
// IMBOT_* environment variables.
type Config struct {
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
	Instrument InstrumentConfig `toml:"instrument"`
	Strategy   StrategyConfig   `toml:"strategy"`
	Risk       RiskConfig       `toml:"risk"`
	Executor   ExecutorConfig   `toml:"executor"`
	Feed       FeedConfig       `toml:"feed"`
	Replay     ReplayConfig     `toml:"replay"`
	Paper      PaperConfig      `toml:"paper"`
	Audit      AuditConfig      `toml:"audit"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Notify     NotifyConfig     `toml:"notify"`
	Server     ServerConfig     `toml:"server"`
}

// InstrumentConfig names the traded symbols. Timeframe is the bar length
// used when neither feed nor replay sets its own bar interval.
type InstrumentConfig struct {
	Symbols   []string `toml:"symbols"`
	Timeframe duration `toml:"timeframe"`
}

// StrategyConfig is the imbalance + trend parameter set. Decimal fields are
// TOML strings.
type StrategyConfig struct {
	Depth              int             `toml:"depth"`
	UpperThreshold     decimal.Decimal `toml:"upper_threshold"`
	LowerThreshold     decimal.Decimal `toml:"lower_threshold"`
	FastPeriod         int             `toml:"fast_period"`
	SlowPeriod         int             `toml:"slow_period"`
	OrderQuantity      decimal.Decimal `toml:"order_quantity"`
	StopLossFraction   decimal.Decimal `toml:"stop_loss_fraction"`
	TakeProfitFraction decimal.Decimal `toml:"take_profit_fraction"`
	MaxHold            duration        `toml:"max_hold"`
}

type RiskConfig struct {
	MaxPositionUSD            decimal.Decimal `toml:"max_position_usd"`
	MaxTotalExposureUSD       decimal.Decimal `toml:"max_total_exposure_usd"`
	MaxDailyLossUSD           decimal.Decimal `toml:"max_daily_loss_usd"`
	MaxTradesPerDay           int             `toml:"max_trades_per_day"`
	MaxLeverage               decimal.Decimal `toml:"max_leverage"`
	LiquidationBufferFraction decimal.Decimal `toml:"liquidation_buffer_fraction"`
	// Leverage is what orders are placed with; "0" means spot.
	Leverage              decimal.Decimal `toml:"leverage"`
	MaintenanceMarginRate decimal.Decimal `toml:"maintenance_margin_rate"`
}

type ExecutorConfig struct {
	CloseRetries    int      `toml:"close_retries"`
	CloseRetryDelay duration `toml:"close_retry_delay"`
	ShutdownTimeout duration `toml:"shutdown_timeout"`
}

// FeedConfig is the live websocket depth feed.
type FeedConfig struct {
	URL              string   `toml:"url"`
	ReconnectBackoff duration `toml:"reconnect_backoff"`
	// BarInterval aggregates depth into bars; zero falls back to
	// instrument.timeframe. NativeBars disables aggregation.
	BarInterval duration `toml:"bar_interval"`
	NativeBars  bool     `toml:"native_bars"`
}

// ReplayConfig drives backtest mode. Dir wins over S3Prefix.
type ReplayConfig struct {
	Dir             string          `toml:"dir"`
	S3Prefix        string          `toml:"s3_prefix"`
	Start           timestamp       `toml:"start"`
	End             timestamp       `toml:"end"`
	Speed           float64         `toml:"speed"`
	BarInterval     duration        `toml:"bar_interval"`
	NativeBars      bool            `toml:"native_bars"`
	FillEmpty       bool            `toml:"fill_empty"`
	StartingBalance decimal.Decimal `toml:"starting_balance"`
	FeeBps          decimal.Decimal `toml:"fee_bps"`
	// ReportDir receives <run-id>.json locally; empty skips the file.
	ReportDir string `toml:"report_dir"`
}

type PaperConfig struct {
	StartingBalance decimal.Decimal `toml:"starting_balance"`
	FeeBps          decimal.Decimal `toml:"fee_bps"`
}

// AuditConfig selects the sinks. The JSONL file in Dir is the primary sink;
// Postgres and the Redis stream are mirrors.
type AuditConfig struct {
	Dir         string `toml:"dir"`
	BookEvents  bool   `toml:"book_events"`
	Postgres    bool   `toml:"postgres"`
	RedisStream string `toml:"redis_stream"`
	// ArchiveS3 uploads each rotated file.
	ArchiveS3 bool `toml:"archive_s3"`
}

type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

type RedisConfig struct {
	Enabled    bool     `toml:"enabled"`
	Addr       string   `toml:"addr"`
	Password   string   `toml:"password"`
	DB         int      `toml:"db"`
	PoolSize   int      `toml:"pool_size"`
	MaxRetries int      `toml:"max_retries"`
	TLSEnabled bool     `toml:"tls_enabled"`
	LockTTL    duration `toml:"lock_ttl"`
}

type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	Prefix         string `toml:"prefix"`
}

type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
}

// duration decodes TOML strings such as "5s" or "1m".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// timestamp decodes RFC 3339 strings or bare "2006-01-02" dates as UTC.
type timestamp struct {
	time.Time
}

func (t *timestamp) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	if s == "" {
		t.Time = time.Time{}
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"} {
		if v, err := time.Parse(layout, s); err == nil {
			t.Time = v.UTC()
			return nil
		}
	}
	return fmt.Errorf("invalid timestamp %q", s)
}

func (t timestamp) MarshalText() ([]byte, error) {
	if t.IsZero() {
		return []byte{}, nil
	}
	return []byte(t.Format(time.RFC3339Nano)), nil
}

// Defaults returns the values used when the file leaves a key unset.
func Defaults() Config {
	d := decimal.RequireFromString
	return Config{
		Mode:     "backtest",
		LogLevel: "info",
		Instrument: InstrumentConfig{
			Symbols:   []string{"BTC-USD"},
			Timeframe: duration{time.Minute},
		},
		Strategy: StrategyConfig{
			Depth:          10,
			UpperThreshold: d("3"),
			LowerThreshold: d("0.3333333333333333"),
			FastPeriod:     10,
			SlowPeriod:     30,
			OrderQuantity:  d("0.01"),
		},
		Risk: RiskConfig{
			MaxPositionUSD:            d("10000"),
			MaxTotalExposureUSD:       d("25000"),
			MaxDailyLossUSD:           d("500"),
			MaxTradesPerDay:           20,
			MaxLeverage:               d("3"),
			LiquidationBufferFraction: d("0.2"),
			MaintenanceMarginRate:     d("0.005"),
		},
		Executor: ExecutorConfig{
			CloseRetries:    3,
			CloseRetryDelay: duration{500 * time.Millisecond},
			ShutdownTimeout: duration{30 * time.Second},
		},
		Feed: FeedConfig{
			ReconnectBackoff: duration{5 * time.Second},
		},
		Replay: ReplayConfig{
			Dir:             "data",
			StartingBalance: d("10000"),
			FeeBps:          d("0"),
		},
		Paper: PaperConfig{
			StartingBalance: d("10000"),
			FeeBps:          d("5"),
		},
		Audit: AuditConfig{
			Dir:        "audit",
			BookEvents: true,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "imbalancebot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  1,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   10,
			MaxRetries: 3,
			LockTTL:    duration{30 * time.Second},
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "imbalancebot",
			ForcePathStyle: true,
		},
		Notify: NotifyConfig{
			Events: []string{"shutdown", "emergency_shutdown"},
		},
		Server: ServerConfig{
			Port: 8080,
		},
	}
}

var validModes = map[string]bool{"live": true, "paper": true, "backtest": true}

var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

// LiveBarInterval is the aggregation interval for the live feed; zero means
// the feed delivers bars itself.
func (c *Config) LiveBarInterval() time.Duration {
	if c.Feed.NativeBars {
		return 0
	}
	if c.Feed.BarInterval.Duration > 0 {
		return c.Feed.BarInterval.Duration
	}
	return c.Instrument.Timeframe.Duration
}

// ReplayBarInterval is LiveBarInterval for recorded data.
func (c *Config) ReplayBarInterval() time.Duration {
	if c.Replay.NativeBars {
		return 0
	}
	if c.Replay.BarInterval.Duration > 0 {
		return c.Replay.BarInterval.Duration
	}
	return c.Instrument.Timeframe.Duration
}

// Validate reports every problem found in one error.
func (c *Config) Validate() error {
	var errs []string
	add := func(format string, args ...any) { errs = append(errs, fmt.Sprintf(format, args...)) }
	neg := func(name string, v decimal.Decimal) {
		if v.IsNegative() {
			add("%s must be >= 0, got %s", name, v)
		}
	}

	if !validModes[strings.ToLower(c.Mode)] {
		add("unknown mode %q (valid: live, paper, backtest)", c.Mode)
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		add("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel)
	}

	if len(c.Instrument.Symbols) == 0 && c.Mode != "backtest" {
		add("instrument: symbols must not be empty")
	}
	if c.Instrument.Timeframe.Duration < 0 {
		add("instrument: timeframe must be >= 0")
	}

	s := c.Strategy
	if s.Depth < 1 {
		add("strategy: depth must be >= 1")
	}
	if s.FastPeriod < 1 || s.SlowPeriod <= s.FastPeriod {
		add("strategy: need 1 <= fast_period < slow_period, got %d/%d", s.FastPeriod, s.SlowPeriod)
	}
	if !s.LowerThreshold.IsPositive() || s.UpperThreshold.LessThanOrEqual(s.LowerThreshold) {
		add("strategy: need 0 < lower_threshold < upper_threshold, got %s/%s", s.LowerThreshold, s.UpperThreshold)
	}
	if !s.OrderQuantity.IsPositive() {
		add("strategy: order_quantity must be > 0")
	}
	neg("strategy: stop_loss_fraction", s.StopLossFraction)
	neg("strategy: take_profit_fraction", s.TakeProfitFraction)
	if s.MaxHold.Duration < 0 {
		add("strategy: max_hold must be >= 0")
	}

	r := c.Risk
	neg("risk: max_position_usd", r.MaxPositionUSD)
	neg("risk: max_total_exposure_usd", r.MaxTotalExposureUSD)
	neg("risk: max_daily_loss_usd", r.MaxDailyLossUSD)
	neg("risk: max_leverage", r.MaxLeverage)
	neg("risk: leverage", r.Leverage)
	neg("risk: maintenance_margin_rate", r.MaintenanceMarginRate)
	if r.MaxTradesPerDay < 0 {
		add("risk: max_trades_per_day must be >= 0")
	}
	if r.LiquidationBufferFraction.IsNegative() || r.LiquidationBufferFraction.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		add("risk: liquidation_buffer_fraction must be in [0, 1), got %s", r.LiquidationBufferFraction)
	}

	if c.Executor.CloseRetries < 1 {
		add("executor: close_retries must be >= 1")
	}

	switch c.Mode {
	case "live", "paper":
		if c.Feed.URL == "" {
			add("feed: url is required for mode %s", c.Mode)
		}
		if c.Feed.ReconnectBackoff.Duration <= 0 {
			add("feed: reconnect_backoff must be > 0")
		}
		if c.Mode == "paper" && !c.Paper.StartingBalance.IsPositive() {
			add("paper: starting_balance must be > 0")
		}
	case "backtest":
		if c.Replay.Dir == "" && c.Replay.S3Prefix == "" {
			add("replay: dir or s3_prefix is required")
		}
		if c.Replay.Dir == "" && c.Replay.S3Prefix != "" && !c.S3.Enabled {
			add("replay: s3_prefix needs s3.enabled")
		}
		if !c.Replay.Start.IsZero() && !c.Replay.End.IsZero() && !c.Replay.End.After(c.Replay.Start.Time) {
			add("replay: end must be after start")
		}
		if !c.Replay.StartingBalance.IsPositive() {
			add("replay: starting_balance must be > 0")
		}
		neg("replay: fee_bps", c.Replay.FeeBps)
	}

	if c.Audit.Dir == "" {
		add("audit: dir must not be empty")
	}
	if c.Audit.Postgres && !c.Postgres.Enabled {
		add("audit: postgres mirror needs postgres.enabled")
	}
	if c.Audit.RedisStream != "" && !c.Redis.Enabled {
		add("audit: redis_stream needs redis.enabled")
	}
	if c.Audit.ArchiveS3 && !c.S3.Enabled {
		add("audit: archive_s3 needs s3.enabled")
	}

	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				add("postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				add("postgres: port must be 1-65535, got %d", c.Postgres.Port)
			}
			if c.Postgres.Database == "" {
				add("postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			add("postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			add("redis: addr must not be empty")
		}
		if c.Redis.LockTTL.Duration < time.Second {
			add("redis: lock_ttl must be >= 1s")
		}
	}
	if c.S3.Enabled && (c.S3.Bucket == "" || c.S3.Region == "") {
		add("s3: bucket and region must not be empty")
	}
	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		add("server: port must be 1-65535, got %d", c.Server.Port)
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
