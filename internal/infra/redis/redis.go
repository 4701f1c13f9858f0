// Package redis builds the shared go-redis client used by the session store.
package redis

import (
	"context"
	"log/slog"
	"time"

	"orpheus/config"
	"orpheus/internal/domain/lifecycle"
	"orpheus/internal/errors"

	goredis "github.com/redis/go-redis/v9"
	"github.com/sethvargo/go-retry"
	"go.uber.org/fx"
)

const (
	pingAttempts     = 5
	pingInitialDelay = 200 * time.Millisecond
)

// Params defines the required parameters
type Params struct {
	fx.In
	fx.Lifecycle

	Config *config.Config
	Logger *slog.Logger
}

// New creates the Redis client and registers ping/close lifecycle hooks.
func New(params Params) (*goredis.Client, error) {
	cfg := params.Config.Redis
	if cfg == nil || cfg.Addr == "" {
		return nil, errors.New("redis.addr is required")
	}

	client := goredis.NewClient(&goredis.Options{
		Addr:        cfg.Addr,
		Username:    cfg.Username,
		Password:    cfg.Password,
		DB:          cfg.DB,
		PoolSize:    cfg.PoolSize,
		DialTimeout: cfg.DialTimeout,
	})

	params.Append(fx.Hook{
		OnStart: func(startCtx context.Context) error {
			ctx, cancel := context.WithTimeout(startCtx, lifecycle.DefaultTimeout)
			defer cancel()

			return Ping(ctx, client, params.Logger)
		},
		OnStop: func(_ context.Context) error {
			return client.Close()
		},
	})

	return client, nil
}

// Ping checks connectivity with bounded exponential backoff.
func Ping(ctx context.Context, client goredis.UniversalClient, logger *slog.Logger) error {
	backoff := retry.WithMaxRetries(pingAttempts-1, retry.NewExponential(pingInitialDelay))

	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Warn("Redis ping failed",
				slog.Int("attempt", attempt),
				slog.Any("error", err),
			)

			return retry.RetryableError(err)
		}

		return nil
	})
	if err != nil {
		return errors.Wrap(err, "failed to ping Redis")
	}

	logger.Info("Redis connected", slog.Int("attempts", attempt))

	return nil
}
