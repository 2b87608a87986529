package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/prn-tf/tagsoup/internal/config"
)

var gcDryRun bool

var gcCmd = &cobra.Command{
	Use:   "gc",
	Short: "Garbage-collect unreferenced blobs",
}

var gcRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one sweep now",
	Long: `Delete originals and thumbnails that no index row references and that
are older than the configured grace period. Abandoned staging files are
purged as well.`,
	Args: cobra.NoArgs,
	Run:  runGC,
}

var gcStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show orphaned blobs without deleting anything",
	Args:  cobra.NoArgs,
	Run:   runGCStatus,
}

func init() {
	gcRunCmd.Flags().BoolVar(&gcDryRun, "dry-run", false, "report what would be deleted")
	gcCmd.AddCommand(gcRunCmd)
	gcCmd.AddCommand(gcStatusCmd)
}

func runGC(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	a := initApp(ctx, func(cfg *config.Config) {
		if gcDryRun {
			cfg.GC.DryRun = true
		}
	})
	defer a.Close()

	result := a.GC.RunOnce(ctx)
	if result.Skipped {
		color.New(color.FgYellow).Println("Another sweep holds the lock, nothing done")
		return
	}

	verb := "Deleted"
	if a.Config.GC.DryRun {
		verb = "Would delete"
	}
	color.New(color.FgGreen).Printf("%s %d blob(s), %s in %s\n",
		verb, result.BlobsDeleted, humanize.IBytes(uint64(result.BytesFreed)), result.Duration.Round(time.Millisecond))
	if result.StagingPurged > 0 {
		fmt.Printf("Purged %d abandoned staging file(s)\n", result.StagingPurged)
	}
	if result.OrphanBlobsRemaining > 0 {
		fmt.Printf("%d orphan(s) left for the next run\n", result.OrphanBlobsRemaining)
	}
	if result.Errors > 0 {
		color.New(color.FgRed).Printf("%d error(s), rerun with --verbose for details\n", result.Errors)
	}
}

func runGCStatus(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	a := initApp(ctx, nil)
	defer a.Close()

	stats, err := a.GC.GetStats(ctx)
	if err != nil {
		exitError("failed to inspect blobs: %v", err)
	}

	more := ""
	if stats.HasMoreOrphans {
		more = "+"
	}
	fmt.Printf("Orphaned blobs: %d%s (%s)\n", stats.OrphanBlobCount, more, humanize.IBytes(uint64(stats.OrphanBlobSize)))
	fmt.Printf("Grace period:   %s\n", stats.GracePeriod)
}
