package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/iwadha/solana-dashboard/internal/config"
	"github.com/iwadha/solana-dashboard/internal/database"
	"github.com/iwadha/solana-dashboard/internal/lock"
	"github.com/iwadha/solana-dashboard/internal/provider"
	"github.com/iwadha/solana-dashboard/internal/shyft"
	"github.com/iwadha/solana-dashboard/internal/store"
)

type deps struct {
	store    store.Store
	locker   lock.Locker
	provider provider.Client
	cleanup  []func()
}

func (d *deps) Close() {
	for i := len(d.cleanup) - 1; i >= 0; i-- {
		d.cleanup[i]()
	}
}

// buildDeps selects the store and lock backends from cfg: Postgres when
// DATABASE_URL is set (optionally fronted by Redis), memory otherwise.
func buildDeps(ctx context.Context, cfg config.Config) (*deps, error) {
	d := &deps{
		provider: shyft.NewClient(shyft.Config{
			APIKey:     cfg.Shyft.APIKey,
			BaseURL:    cfg.Shyft.BaseURL,
			GraphQLURL: cfg.Shyft.GraphQLURL,
			Network:    cfg.Shyft.Network,
			RateLimit:  cfg.Shyft.RateLimit,
			MaxRetries: cfg.Shyft.RetryMax,
			BaseDelay:  cfg.Shyft.RetryBaseDelay,
		}),
	}

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		rdb = redis.NewClient(opt)
		d.cleanup = append(d.cleanup, func() { rdb.Close() })
	}

	if cfg.DatabaseURL != "" {
		pool, err := database.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			d.Close()
			return nil, err
		}
		d.cleanup = append(d.cleanup, pool.Close)
		if err := database.RunMigrations(ctx, pool, migrations()); err != nil {
			d.Close()
			return nil, err
		}
		d.store = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if rdb != nil {
			d.store = store.NewCachedStore(d.store, rdb, cfg.RedisCacheTTL)
			slog.Info("Redis cache enabled", "ttl", cfg.RedisCacheTTL)
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		d.store = store.NewMemoryStore()
	}

	if rdb != nil {
		d.locker = lock.NewRedisLocker(rdb, cfg.Sync.LockTTL, func(key string, err error) {
			slog.Warn("wallet lock lost before release", "key", key, "err", err)
		})
	} else {
		d.locker = lock.NewKeyedMutex()
	}
	return d, nil
}
