package main

import (
	"context"
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"

	"github.com/fjod/pharmacy-cart/internal/config"
	"github.com/fjod/pharmacy-cart/internal/storage"
	"github.com/fjod/pharmacy-cart/pkg/logger"
)

// openStore builds the configured backend. The returned cleanup releases its connections.
func openStore(ctx context.Context, cfg *config.Config, logg *logger.Logger) (storage.Store, func(), error) {
	var (
		store   storage.Store
		cleanup = func() {}
	)

	switch cfg.StorageDriver {
	case config.DriverMemory:
		store = storage.NewMemoryBackend().Open()

	case config.DriverFile:
		if err := os.MkdirAll(cfg.FileDir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("create cart dir: %w", err)
		}
		fs, err := storage.NewFileStore(cfg.FileDir)
		if err != nil {
			return nil, nil, err
		}
		store = fs

	case config.DriverRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("redis connection failed: %w", err)
		}
		store = storage.NewRedisStore(client, storage.RedisOptions{TTL: cfg.RedisTTL, Jitter: cfg.RedisTTL / 10})
		cleanup = func() { _ = client.Close() }

	case config.DriverMongo:
		db, err := storage.ConnectMongoDB(ctx, cfg.MongoURI, cfg.MongoDB)
		if err != nil {
			return nil, nil, err
		}
		ms := storage.NewMongoStore(db)
		if err := ms.CreateIndexes(ctx, cfg.MongoRetention); err != nil {
			logg.Warn(ctx, "failed to create cart indexes", err)
		}
		store = ms
		cleanup = func() { _ = db.Client().Disconnect(context.Background()) }

	case config.DriverSQLite:
		ss, err := storage.NewSQLiteStore(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		if err := ss.RunMigrations(); err != nil {
			ss.Close()
			return nil, nil, err
		}
		store = ss
		cleanup = func() { _ = ss.Close() }

	default:
		return nil, nil, fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
	}

	if cfg.BreakerEnabled && cfg.StorageDriver != config.DriverMemory {
		store = storage.NewBreakerStore(cfg.StorageDriver, store, logg)
	}
	return store, cleanup, nil
}
