package cli

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var tagsCmd = &cobra.Command{
	Use:   "tags",
	Short: "List every tag in use",
	Args:  cobra.NoArgs,
	Run:   runTags,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show index totals",
	Args:  cobra.NoArgs,
	Run:   runStats,
}

func runTags(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	a := initApp(ctx, nil)
	defer a.Close()

	labels, err := a.Images.ListTags(ctx)
	if err != nil {
		exitError("%v", err)
	}
	if len(labels) == 0 {
		fmt.Println("No tags")
		return
	}
	for _, l := range labels {
		fmt.Println(l)
	}
}

func runStats(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	a := initApp(ctx, nil)
	defer a.Close()

	stats, err := a.Images.Stats(ctx)
	if err != nil {
		exitError("%v", err)
	}

	cyan := color.New(color.FgCyan)
	cyan.Printf("Database: %s\n", a.Config.Database.Driver)
	fmt.Printf("Images:   %s\n", humanize.Comma(stats.Objects))
	fmt.Printf("Bytes:    %s\n", humanize.IBytes(uint64(stats.Bytes)))
	fmt.Printf("Tags:     %s (%s distinct)\n", humanize.Comma(stats.Tags), humanize.Comma(stats.Labels))
}
