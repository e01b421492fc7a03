package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/miradorstack/mirador-sentinel/internal/capture"
	"github.com/miradorstack/mirador-sentinel/internal/config"
	"github.com/miradorstack/mirador-sentinel/internal/engine"
	"github.com/miradorstack/mirador-sentinel/internal/repo"
	"github.com/miradorstack/mirador-sentinel/internal/storage/sqlite"
)

// logSource builds the configured log source. The returned closer releases
// any connection it opened.
func logSource(ctx context.Context, cfg *config.Config, platform *repo.PlatformClient, logger *slog.Logger) (capture.LogSource, func(), error) {
	noop := func() {}
	switch cfg.Logs.Source {
	case "", config.SourcePlatform:
		return platform, noop, nil
	case config.SourceFile:
		return repo.NewFileLogSource(cfg.Logs.File), noop, nil
	case config.SourceRedis:
		rc := cfg.Logs.Redis
		client := redis.NewClient(&redis.Options{
			Addr:        rc.Addr,
			Username:    rc.Username,
			Password:    rc.Password,
			DB:          rc.DB,
			DialTimeout: rc.DialTimeout,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, noop, fmt.Errorf("connect to redis at %s: %w", rc.Addr, err)
		}
		logger.Debug("redis log source connected", slog.String("addr", rc.Addr))
		return repo.NewRedisLogSource(client, rc.ChannelPrefix), func() { _ = client.Close() }, nil
	default:
		return nil, noop, fmt.Errorf("unknown log source %q", cfg.Logs.Source)
	}
}

// openAudit opens the audit store when enabled. A nil store means auditing is off.
func openAudit(cfg *config.Config) (*sqlite.Store, error) {
	if !cfg.Audit.Enabled {
		return nil, nil
	}
	store, err := sqlite.NewStore(cfg.Audit.Path)
	if err != nil {
		return nil, fmt.Errorf("open audit store %s: %w", cfg.Audit.Path, err)
	}
	return store, nil
}

// newRunner assembles a runner from cfg. audit may be nil.
func newRunner(ctx context.Context, cfg *config.Config, logger *slog.Logger, audit *sqlite.Store) (*engine.Runner, func(), error) {
	platform := repo.NewPlatformClient(cfg.Platform.BaseURL, cfg.Platform.App, cfg.Platform.APIKey, cfg.Platform.Timeout)

	logs, closeLogs, err := logSource(ctx, cfg, platform, logger)
	if err != nil {
		return nil, closeLogs, err
	}

	var recorder engine.Recorder
	if audit != nil {
		recorder = audit
	}

	runner := engine.NewRunner(logger, engine.Options{
		Settings:   cfg.Settings,
		Fleet:      cfg.Fleet,
		Grace:      cfg.Logs.Grace,
		BufferSize: cfg.Logs.BufferSize,
	}, platform, logs, platform, recorder)
	return runner, closeLogs, nil
}
