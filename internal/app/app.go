// Package app assembles the TagSoup components from configuration. The server
// and the admin CLI share it so both see the same index, stores and caches.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/prn-tf/tagsoup/internal/cache/memory"
	rediscache "github.com/prn-tf/tagsoup/internal/cache/redis"
	"github.com/prn-tf/tagsoup/internal/config"
	"github.com/prn-tf/tagsoup/internal/lock"
	"github.com/prn-tf/tagsoup/internal/metrics"
	"github.com/prn-tf/tagsoup/internal/repository"
	"github.com/prn-tf/tagsoup/internal/repository/factory"
	"github.com/prn-tf/tagsoup/internal/service"
	"github.com/prn-tf/tagsoup/internal/storage"
)

// App holds the wired components.
type App struct {
	Config  *config.Config
	Logger  zerolog.Logger
	Metrics *metrics.Metrics

	Database repository.DatabaseHealth
	Migrator repository.Migrator
	Objects  repository.ObjectRepository

	Originals *storage.FSBackend
	Thumbs    *storage.FSBackend

	Thumbnails *service.ThumbnailService
	Ingest     *service.IngestService
	Images     *service.ImageService
	GC         *service.GarbageCollector

	closers []func() error
}

// Options adjusts how New wires the components.
type Options struct {
	// Registry receives the Prometheus collectors. Nil disables metrics.
	Registry *prometheus.Registry

	// SkipMigrations opens the index without applying pending migrations.
	SkipMigrations bool
}

// New opens the index and stores described by cfg and wires the services.
// Close releases everything New opened, also when New fails halfway.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger, opts Options) (a *App, err error) {
	a = &App{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			a.Close()
			a = nil
		}
	}()

	if opts.Registry != nil {
		a.Metrics = metrics.New(opts.Registry)
	}

	// Metadata index
	db, err := factory.NewFactory(cfg.Database, logger).Create(ctx)
	if err != nil {
		return a, fmt.Errorf("failed to open database: %w", err)
	}
	a.closers = append(a.closers, db.Database.Close)
	a.Database, a.Migrator = db.Database, db.Migrator

	if !opts.SkipMigrations {
		if err := db.Migrator.Migrate(ctx); err != nil {
			return a, fmt.Errorf("failed to apply migrations: %w", err)
		}
	}

	// Blob stores
	algo := cfg.Storage.DigestAlgorithm()
	if a.Originals, err = storage.NewFSBackend(storage.FSConfig{Root: cfg.Storage.DataDir, Algorithm: algo}, logger); err != nil {
		return a, err
	}
	if a.Thumbs, err = storage.NewFSBackend(storage.FSConfig{Root: cfg.Storage.ThumbnailDir, Algorithm: algo}, logger); err != nil {
		return a, err
	}

	// Cache and lock
	var redisClient *goredis.Client
	if cfg.Cache.Backend == "redis" {
		if redisClient, err = rediscache.NewClient(ctx, cfg.Redis); err != nil {
			return a, err
		}
		a.closers = append(a.closers, redisClient.Close)
	}

	a.Objects = db.Objects
	switch cfg.Cache.Backend {
	case "memory":
		c := memory.NewCache(time.Minute)
		a.closers = append(a.closers, func() error { c.Stop(); return nil })
		a.Objects = repository.NewCachedObjectRepository(db.Objects, c, cfg.Cache.TTL, a.Metrics, logger)
	case "redis":
		c := rediscache.NewCache(redisClient, cfg.Redis.KeyPrefix+"cache:")
		a.Objects = repository.NewCachedObjectRepository(db.Objects, c, cfg.Cache.TTL, a.Metrics, logger)
	}

	// A dry run deletes nothing, so it never needs to exclude other sweeps.
	var locker lock.Locker = lock.NewMemoryLocker()
	switch {
	case cfg.GC.DryRun:
		locker = lock.NewNoOpLocker()
	case redisClient != nil:
		locker = lock.NewRedisLocker(redisClient, cfg.Redis.KeyPrefix)
	}

	// Services
	a.Thumbnails = service.NewThumbnailService(a.Originals, a.Thumbs, a.Metrics, logger, service.ThumbnailConfig{
		Enabled:         cfg.Thumbnail.Enabled,
		Size:            cfg.Thumbnail.Size,
		Quality:         cfg.Thumbnail.Quality,
		MaxSourcePixels: cfg.Thumbnail.MaxSourcePixels,
	})
	a.Ingest = service.NewIngestService(a.Objects, a.Originals, a.Thumbnails, a.Metrics, logger, service.IngestConfigFrom(cfg))
	a.Images = service.NewImageService(a.Objects, a.Originals, a.Thumbnails, a.Metrics, logger, service.PaginationConfig{
		DefaultPageSize: cfg.Pagination.DefaultPageSize,
		MaxPageSize:     cfg.Pagination.MaxPageSize,
	})
	a.GC = service.NewGarbageCollector(a.Objects, a.Originals, a.Thumbs, locker, a.Metrics, logger, service.GCConfig{
		Enabled:     cfg.GC.Enabled,
		Interval:    cfg.GC.Interval,
		GracePeriod: cfg.GC.GracePeriod,
		BatchSize:   cfg.GC.BatchSize,
		DryRun:      cfg.GC.DryRun,
	})

	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
