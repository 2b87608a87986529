// Package main is the entry point for the TagSoup database migration tool.
// This tool manages the metadata index schema for SQLite and PostgreSQL.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/prn-tf/tagsoup/internal/config"
	"github.com/prn-tf/tagsoup/internal/pkg/logging"
	"github.com/prn-tf/tagsoup/internal/repository/factory"
)

// Version information (set at build time)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]

	switch command {
	case "version":
		fmt.Printf("TagSoup Migration Tool\n")
		fmt.Printf("Version: %s\n", Version)
		fmt.Printf("Build Time: %s\n", BuildTime)
		fmt.Printf("Git Commit: %s\n", GitCommit)

	case "up":
		if err := migrateUp(); err != nil {
			fmt.Fprintf(os.Stderr, "Migration failed: %v\n", err)
			os.Exit(1)
		}

	case "status":
		if err := showStatus(); err != nil {
			fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
			os.Exit(1)
		}

	case "help", "-h", "--help":
		printUsage()

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

// open connects to the configured index without migrating it.
func open(ctx context.Context) (*factory.Result, error) {
	cfg, err := config.Load(os.Getenv("TAGSOUP_CONFIG"))
	if err != nil {
		return nil, err
	}
	logger, _, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, err
	}
	return factory.NewFactory(cfg.Database, logger).Create(ctx)
}

func migrateUp() error {
	ctx := context.Background()
	db, err := open(ctx)
	if err != nil {
		return err
	}
	defer db.Database.Close()

	if err := db.Migrator.Migrate(ctx); err != nil {
		return err
	}
	status, err := db.Migrator.MigrationStatus(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Schema is at version %d\n", status.Current)
	return nil
}

func showStatus() error {
	ctx := context.Background()
	db, err := open(ctx)
	if err != nil {
		return err
	}
	defer db.Database.Close()

	status, err := db.Migrator.MigrationStatus(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Current version: %d\n", status.Current)
	fmt.Printf("Latest version:  %d\n", status.Latest)
	if len(status.Pending) == 0 {
		fmt.Println("No pending migrations")
		return nil
	}
	fmt.Println("Pending:")
	for _, m := range status.Pending {
		fmt.Printf("  %04d_%s\n", m.Version, m.Name)
	}
	return nil
}

func printUsage() {
	fmt.Println(`TagSoup Migration Tool

Usage:
  tagsoup-migrate <command>

Commands:
  up          Apply all pending migrations
  status      Show current migration status
  version     Print version information
  help        Show this help message

Environment Variables:
  TAGSOUP_CONFIG            Path to the configuration file
  TAGSOUP_DATABASE_DRIVER   sqlite or postgres

Examples:
  tagsoup-migrate up
  TAGSOUP_DATABASE_DRIVER=postgres tagsoup-migrate status`)
}
