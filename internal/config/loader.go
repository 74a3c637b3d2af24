package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "IMBOT_"

// Load decodes path over Defaults, loads .env when present and applies
// IMBOT_* overrides. A missing file is not an error when path is empty. The
// result is not validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	if path != "" {
		md, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
		if undec := md.Undecoded(); len(undec) > 0 {
			keys := make([]string, len(undec))
			for i, k := range undec {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("config: unknown keys in %s: %s", path, strings.Join(keys, ", "))
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}
	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnvOverrides copies set IMBOT_* variables onto cfg. Malformed values
// are reported rather than ignored.
func applyEnvOverrides(cfg *Config) error {
	e := &envReader{}

	e.setStr(&cfg.Mode, "MODE")
	e.setStr(&cfg.LogLevel, "LOG_LEVEL")

	e.setStringSlice(&cfg.Instrument.Symbols, "INSTRUMENT_SYMBOLS")
	e.setDuration(&cfg.Instrument.Timeframe, "INSTRUMENT_TIMEFRAME")

	e.setInt(&cfg.Strategy.Depth, "STRATEGY_DEPTH")
	e.setDecimal(&cfg.Strategy.UpperThreshold, "STRATEGY_UPPER_THRESHOLD")
	e.setDecimal(&cfg.Strategy.LowerThreshold, "STRATEGY_LOWER_THRESHOLD")
	e.setInt(&cfg.Strategy.FastPeriod, "STRATEGY_FAST_PERIOD")
	e.setInt(&cfg.Strategy.SlowPeriod, "STRATEGY_SLOW_PERIOD")
	e.setDecimal(&cfg.Strategy.OrderQuantity, "STRATEGY_ORDER_QUANTITY")
	e.setDecimal(&cfg.Strategy.StopLossFraction, "STRATEGY_STOP_LOSS_FRACTION")
	e.setDecimal(&cfg.Strategy.TakeProfitFraction, "STRATEGY_TAKE_PROFIT_FRACTION")
	e.setDuration(&cfg.Strategy.MaxHold, "STRATEGY_MAX_HOLD")

	e.setDecimal(&cfg.Risk.MaxPositionUSD, "RISK_MAX_POSITION_USD")
	e.setDecimal(&cfg.Risk.MaxTotalExposureUSD, "RISK_MAX_TOTAL_EXPOSURE_USD")
	e.setDecimal(&cfg.Risk.MaxDailyLossUSD, "RISK_MAX_DAILY_LOSS_USD")
	e.setInt(&cfg.Risk.MaxTradesPerDay, "RISK_MAX_TRADES_PER_DAY")
	e.setDecimal(&cfg.Risk.MaxLeverage, "RISK_MAX_LEVERAGE")
	e.setDecimal(&cfg.Risk.LiquidationBufferFraction, "RISK_LIQUIDATION_BUFFER_FRACTION")
	e.setDecimal(&cfg.Risk.Leverage, "RISK_LEVERAGE")
	e.setDecimal(&cfg.Risk.MaintenanceMarginRate, "RISK_MAINTENANCE_MARGIN_RATE")

	e.setInt(&cfg.Executor.CloseRetries, "EXECUTOR_CLOSE_RETRIES")
	e.setDuration(&cfg.Executor.CloseRetryDelay, "EXECUTOR_CLOSE_RETRY_DELAY")
	e.setDuration(&cfg.Executor.ShutdownTimeout, "EXECUTOR_SHUTDOWN_TIMEOUT")

	e.setStr(&cfg.Feed.URL, "FEED_URL")
	e.setDuration(&cfg.Feed.ReconnectBackoff, "FEED_RECONNECT_BACKOFF")
	e.setDuration(&cfg.Feed.BarInterval, "FEED_BAR_INTERVAL")
	e.setBool(&cfg.Feed.NativeBars, "FEED_NATIVE_BARS")

	e.setStr(&cfg.Replay.Dir, "REPLAY_DIR")
	e.setStr(&cfg.Replay.S3Prefix, "REPLAY_S3_PREFIX")
	e.setTime(&cfg.Replay.Start, "REPLAY_START")
	e.setTime(&cfg.Replay.End, "REPLAY_END")
	e.setFloat64(&cfg.Replay.Speed, "REPLAY_SPEED")
	e.setDuration(&cfg.Replay.BarInterval, "REPLAY_BAR_INTERVAL")
	e.setBool(&cfg.Replay.NativeBars, "REPLAY_NATIVE_BARS")
	e.setBool(&cfg.Replay.FillEmpty, "REPLAY_FILL_EMPTY")
	e.setDecimal(&cfg.Replay.StartingBalance, "REPLAY_STARTING_BALANCE")
	e.setDecimal(&cfg.Replay.FeeBps, "REPLAY_FEE_BPS")
	e.setStr(&cfg.Replay.ReportDir, "REPLAY_REPORT_DIR")

	e.setDecimal(&cfg.Paper.StartingBalance, "PAPER_STARTING_BALANCE")
	e.setDecimal(&cfg.Paper.FeeBps, "PAPER_FEE_BPS")

	e.setStr(&cfg.Audit.Dir, "AUDIT_DIR")
	e.setBool(&cfg.Audit.BookEvents, "AUDIT_BOOK_EVENTS")
	e.setBool(&cfg.Audit.Postgres, "AUDIT_POSTGRES")
	e.setStr(&cfg.Audit.RedisStream, "AUDIT_REDIS_STREAM")
	e.setBool(&cfg.Audit.ArchiveS3, "AUDIT_ARCHIVE_S3")

	e.setBool(&cfg.Postgres.Enabled, "POSTGRES_ENABLED")
	e.setStr(&cfg.Postgres.DSN, "POSTGRES_DSN")
	e.setStr(&cfg.Postgres.Host, "POSTGRES_HOST")
	e.setInt(&cfg.Postgres.Port, "POSTGRES_PORT")
	e.setStr(&cfg.Postgres.Database, "POSTGRES_DATABASE")
	e.setStr(&cfg.Postgres.User, "POSTGRES_USER")
	e.setStr(&cfg.Postgres.Password, "POSTGRES_PASSWORD")
	e.setStr(&cfg.Postgres.SSLMode, "POSTGRES_SSL_MODE")
	e.setInt(&cfg.Postgres.PoolMaxConns, "POSTGRES_POOL_MAX_CONNS")
	e.setInt(&cfg.Postgres.PoolMinConns, "POSTGRES_POOL_MIN_CONNS")
	e.setBool(&cfg.Postgres.RunMigrations, "POSTGRES_RUN_MIGRATIONS")

	e.setBool(&cfg.Redis.Enabled, "REDIS_ENABLED")
	e.setStr(&cfg.Redis.Addr, "REDIS_ADDR")
	e.setStr(&cfg.Redis.Password, "REDIS_PASSWORD")
	e.setInt(&cfg.Redis.DB, "REDIS_DB")
	e.setInt(&cfg.Redis.PoolSize, "REDIS_POOL_SIZE")
	e.setInt(&cfg.Redis.MaxRetries, "REDIS_MAX_RETRIES")
	e.setBool(&cfg.Redis.TLSEnabled, "REDIS_TLS_ENABLED")
	e.setDuration(&cfg.Redis.LockTTL, "REDIS_LOCK_TTL")

	e.setBool(&cfg.S3.Enabled, "S3_ENABLED")
	e.setStr(&cfg.S3.Endpoint, "S3_ENDPOINT")
	e.setStr(&cfg.S3.Region, "S3_REGION")
	e.setStr(&cfg.S3.Bucket, "S3_BUCKET")
	e.setStr(&cfg.S3.AccessKey, "S3_ACCESS_KEY")
	e.setStr(&cfg.S3.SecretKey, "S3_SECRET_KEY")
	e.setBool(&cfg.S3.UseSSL, "S3_USE_SSL")
	e.setBool(&cfg.S3.ForcePathStyle, "S3_FORCE_PATH_STYLE")
	e.setStr(&cfg.S3.Prefix, "S3_PREFIX")

	e.setStr(&cfg.Notify.TelegramToken, "NOTIFY_TELEGRAM_TOKEN")
	e.setStr(&cfg.Notify.TelegramChatID, "NOTIFY_TELEGRAM_CHAT_ID")
	e.setStr(&cfg.Notify.DiscordWebhookURL, "NOTIFY_DISCORD_WEBHOOK_URL")
	e.setStringSlice(&cfg.Notify.Events, "NOTIFY_EVENTS")

	e.setBool(&cfg.Server.Enabled, "SERVER_ENABLED")
	e.setInt(&cfg.Server.Port, "SERVER_PORT")
	e.setStringSlice(&cfg.Server.CORSOrigins, "SERVER_CORS_ORIGINS")
	e.setStr(&cfg.Server.APIKey, "SERVER_API_KEY")

	if len(e.errs) > 0 {
		return fmt.Errorf("config: env overrides: %w", errors.Join(e.errs...))
	}
	return nil
}

// envReader applies set, non-empty variables and collects parse errors.
type envReader struct {
	errs []error
}

func (e *envReader) lookup(key string) (string, bool) {
	v := strings.TrimSpace(os.Getenv(EnvPrefix + key))
	return v, v != ""
}

func (e *envReader) fail(key string, err error) {
	e.errs = append(e.errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
}

func (e *envReader) setStr(dst *string, key string) {
	if v, ok := e.lookup(key); ok {
		*dst = v
	}
}

func (e *envReader) setInt(dst *int, key string) {
	if v, ok := e.lookup(key); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.fail(key, err)
			return
		}
		*dst = n
	}
}

func (e *envReader) setFloat64(dst *float64, key string) {
	if v, ok := e.lookup(key); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			e.fail(key, err)
			return
		}
		*dst = f
	}
}

func (e *envReader) setBool(dst *bool, key string) {
	if v, ok := e.lookup(key); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			e.fail(key, err)
			return
		}
		*dst = b
	}
}

func (e *envReader) setDuration(dst *duration, key string) {
	if v, ok := e.lookup(key); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			e.fail(key, err)
			return
		}
		dst.Duration = d
	}
}

func (e *envReader) setDecimal(dst *decimal.Decimal, key string) {
	if v, ok := e.lookup(key); ok {
		d, err := decimal.NewFromString(v)
		if err != nil {
			e.fail(key, err)
			return
		}
		*dst = d
	}
}

func (e *envReader) setTime(dst *timestamp, key string) {
	if v, ok := e.lookup(key); ok {
		if err := dst.UnmarshalText([]byte(v)); err != nil {
			e.fail(key, err)
		}
	}
}

func (e *envReader) setStringSlice(dst *[]string, key string) {
	v, ok := e.lookup(key)
	if !ok {
		return
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) > 0 {
		*dst = out
	}
}
