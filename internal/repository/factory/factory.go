// Package factory opens the metadata index selected by configuration.
// It lives outside package repository because it imports the drivers,
// which themselves import repository.
package factory

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/prn-tf/tagsoup/internal/config"
	"github.com/prn-tf/tagsoup/internal/repository"
	"github.com/prn-tf/tagsoup/internal/repository/postgres"
	"github.com/prn-tf/tagsoup/internal/repository/sqlite"
)

// Factory creates repositories based on configuration.
type Factory struct {
	cfg    config.DatabaseConfig
	logger zerolog.Logger
}

// NewFactory creates a new repository factory.
func NewFactory(cfg config.DatabaseConfig, logger zerolog.Logger) *Factory {
	return &Factory{
		cfg:    cfg,
		logger: logger,
	}
}

// Driver returns the configured database driver.
func (f *Factory) Driver() string {
	return f.cfg.Driver
}

// IsEmbedded returns true if using embedded database.
func (f *Factory) IsEmbedded() bool {
	return f.cfg.IsEmbedded()
}

// Result contains the opened repository and its database handle.
type Result struct {
	Objects  repository.ObjectRepository
	Database repository.DatabaseHealth
	Migrator repository.Migrator
}

// Create opens the configured database. Migrations are not applied.
func (f *Factory) Create(ctx context.Context) (*Result, error) {
	switch f.cfg.Driver {
	case "sqlite":
		db, err := sqlite.NewDB(ctx, sqlite.ConfigFrom(f.cfg), f.logger)
		if err != nil {
			return nil, err
		}
		return &Result{
			Objects:  sqlite.NewObjectRepository(db),
			Database: db,
			Migrator: db,
		}, nil

	case "postgres":
		db, err := postgres.NewDB(ctx, f.cfg, f.logger)
		if err != nil {
			return nil, err
		}
		return &Result{
			Objects:  postgres.NewObjectRepository(db),
			Database: db,
			Migrator: db,
		}, nil

	default:
		return nil, fmt.Errorf("unsupported database driver %q", f.cfg.Driver)
	}
}
