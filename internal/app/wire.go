package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/imbalancebot/internal/blob/s3"
	"github.com/alanyoungcy/imbalancebot/internal/cache/redis"
	"github.com/alanyoungcy/imbalancebot/internal/config"
	"github.com/alanyoungcy/imbalancebot/internal/domain"
	"github.com/alanyoungcy/imbalancebot/internal/notify"
	"github.com/alanyoungcy/imbalancebot/internal/obs"
	"github.com/alanyoungcy/imbalancebot/internal/server/handler"
	"github.com/alanyoungcy/imbalancebot/internal/store/postgres"
)

// Dependencies are the infrastructure clients shared by every mode. Optional
// backends are nil when disabled.
type Dependencies struct {
	Postgres   *postgres.Client
	ReplayRuns domain.ReplayRunStore

	Redis     *redis.Client
	Locks     domain.LockManager
	SignalBus domain.SignalBus

	BlobReader domain.BlobReader
	BlobWriter domain.BlobWriter
	Archiver   *s3blob.Archiver

	Notifier *notify.Notifier
	Metrics  *obs.Metrics

	// Probes feed /api/health.
	Probes map[string]handler.Probe
}

// Wire connects the enabled backends and returns a cleanup that closes them
// in reverse order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(what string, err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, fmt.Errorf("wire: %s: %w", what, err)
	}

	deps := &Dependencies{
		Metrics: obs.New(),
		Probes:  map[string]handler.Probe{},
	}

	if cfg.Postgres.Enabled {
		pg, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			return fail("postgres", err)
		}
		closers = append(closers, pg.Close)
		if cfg.Postgres.RunMigrations {
			if err := pg.RunMigrations(ctx); err != nil {
				return fail("postgres migrations", err)
			}
		}
		deps.Postgres = pg
		deps.ReplayRuns = postgres.NewReplayRunStore(pg.Pool())
		deps.Probes["postgres"] = pg.Health
	}

	if cfg.Redis.Enabled {
		rc, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			return fail("redis", err)
		}
		closers = append(closers, func() { _ = rc.Close() })
		deps.Redis = rc
		deps.Locks = redis.NewLockManager(rc)
		deps.SignalBus = redis.NewSignalBus(rc)
		deps.Probes["redis"] = rc.Health
	}

	if cfg.S3.Enabled {
		sc, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail("s3", err)
		}
		writer := s3blob.NewWriter(sc)
		reader := s3blob.NewReader(sc)
		deps.BlobReader = reader
		deps.BlobWriter = writer
		deps.Archiver = s3blob.NewArchiver(writer, reader, cfg.S3.Prefix, logger)
		deps.Probes["s3"] = sc.Health
	}

	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
