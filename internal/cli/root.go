// Package cli implements the tagsoup-admin command-line interface.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/prn-tf/tagsoup/internal/app"
	"github.com/prn-tf/tagsoup/internal/config"
	"github.com/prn-tf/tagsoup/internal/pkg/logging"
)

// Version information, set by main.
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var (
	configPath string
	verbose    bool
	offline    bool
)

var rootCmd = &cobra.Command{
	Use:   "tagsoup-admin",
	Short: "TagSoup administration",
	Long: `tagsoup-admin inspects and maintains a TagSoup installation directly,
without going through the HTTP API. It reads the same configuration as
the server.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("TAGSOUP_CONFIG"), "path to the configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log to stderr")

	rootCmd.AddCommand(gcCmd)
	rootCmd.AddCommand(objectCmd)
	rootCmd.AddCommand(tagsCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(versionCmd)
}

// initApp loads configuration and wires the components. tweak, when set,
// adjusts the loaded configuration. Commands never start background workers.
func initApp(ctx context.Context, tweak func(*config.Config)) *app.App {
	cfg, err := config.Load(configPath)
	if err != nil {
		exitError("%v", err)
	}
	if tweak != nil {
		tweak(cfg)
	}
	// A private cache in a short-lived command only adds staleness.
	if cfg.Cache.Backend == "memory" {
		cfg.Cache.Backend = "none"
	}

	logger := zerolog.Nop()
	if verbose {
		if logger, _, err = logging.New(cfg.Logging); err != nil {
			exitError("%v", err)
		}
	}

	a, err := app.New(ctx, cfg, logger, app.Options{})
	if err != nil {
		exitError("failed to open TagSoup: %v", err)
	}
	return a
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("TagSoup Admin CLI\n")
		fmt.Printf("Version: %s\n", Version)
		fmt.Printf("Build Time: %s\n", BuildTime)
		fmt.Printf("Git Commit: %s\n", GitCommit)
	},
}

// mutationAllowed refuses index writes that a running server would not see:
// with the memory backend the server keeps its own cache, which this process
// cannot invalidate.
func mutationAllowed(cache config.CacheConfig, offline bool) error {
	if cache.Shared() || offline {
		return nil
	}
	return fmt.Errorf("cache.backend=memory keeps a private cache in the server, which would keep serving the old object for up to %s; stop the server and pass --offline, or use the redis backend", cache.TTL)
}

// guardMutation is an initApp tweak for commands that write to the index.
func guardMutation(cfg *config.Config) {
	if err := mutationAllowed(cfg.Cache, offline); err != nil {
		exitError("%v", err)
	}
}

// exitError prints an error and exits
func exitError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}

// shortID returns the first 12 characters of a digest.
func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
