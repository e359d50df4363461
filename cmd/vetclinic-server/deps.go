package main

import (
	"context"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"
	"github.com/uptrace/bun"

	"vetclinic/backend/internal/config"
	"vetclinic/backend/internal/service/availability"
	"vetclinic/backend/internal/store/cache"
	"vetclinic/backend/internal/store/postgres"
)

// deps are the long-lived resources both commands need.
type deps struct {
	db    *bun.DB
	redis *goredis.Client
	svc   *availability.Service
}

func openDeps(ctx context.Context, cfg config.Config, log *slog.Logger) (*deps, error) {
	log.Info("connecting to database", databaseLogArgs(cfg.DatabaseURL)...)
	db, err := postgres.Open(ctx, cfg.DatabaseURL, postgres.PoolConfig{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
		ConnMaxIdleTime: cfg.DBConnMaxIdleTime,
	})
	if err != nil {
		args := append([]any{slog.Any("err", err)}, databaseLogArgs(cfg.DatabaseURL)...)
		log.Error("database connection failed", args...)
		return nil, err
	}

	d := &deps{db: db}
	opts := []availability.Option{
		availability.WithLogger(log),
		availability.WithRoomsConcurrency(cfg.RoomsConcurrency),
	}

	if cfg.RedisURL != "" {
		client, err := cache.Open(ctx, cfg.RedisURL)
		if err != nil {
			log.Warn("redis unavailable; result cache disabled", slog.Any("err", err))
		} else {
			d.redis = client
			opts = append(opts, availability.WithCache(cache.NewRedisCache(client, cfg.CacheKeyPrefix), cfg.CacheTTL))
			log.Info("result cache enabled", slog.Duration("ttl", cfg.CacheTTL))
		}
	}

	d.svc = availability.NewService(postgres.NewAvailabilityRepo(db), cfg.Availability, opts...)
	return d, nil
}

func (d *deps) close(log *slog.Logger) {
	if d.redis != nil {
		if err := d.redis.Close(); err != nil {
			log.Warn("redis close failed", slog.Any("err", err))
		}
	}
	if err := postgres.Close(d.db); err != nil {
		log.Warn("database close failed", slog.Any("err", err))
	}
}
