package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/axellelanca/trailtrack/internal/config"
	"github.com/axellelanca/trailtrack/internal/repository"
)

// OpenStore opens the visitor storage selected by storage.driver. The
// returned close function releases the underlying connection.
func OpenStore(ctx context.Context, cfg *config.Config) (repository.Store, func() error, error) {
	switch cfg.Storage.Driver {
	case "memory":
		return repository.NewMemoryStore(), func() error { return nil }, nil
	case "redis":
		ttl := time.Duration(cfg.Storage.RedisTTLHours) * time.Hour
		store, err := repository.OpenRedisStore(ctx, cfg.Storage.RedisAddr, cfg.Storage.RedisPassword, ttl)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	case "sqlite", "":
		db, err := OpenDatabase(cfg)
		if err != nil {
			return nil, nil, err
		}
		store := repository.NewGormStore(db)
		if err := store.Migrate(); err != nil {
			return nil, nil, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to get underlying SQL database: %w", err)
		}
		return store, sqlDB.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}

// OpenDatabase connects GORM to the configured SQLite file.
func OpenDatabase(cfg *config.Config) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(cfg.Storage.SQLitePath), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}
