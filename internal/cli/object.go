package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/prn-tf/tagsoup/internal/domain"
	"github.com/prn-tf/tagsoup/internal/service"
)

var (
	listTags     []string
	listPageSize int
	listAll      bool
)

var objectCmd = &cobra.Command{
	Use:     "object",
	Aliases: []string{"obj"},
	Short:   "Inspect and remove stored images",
}

var objectInfoCmd = &cobra.Command{
	Use:   "info <id>",
	Short: "Show an image's metadata",
	Args:  cobra.ExactArgs(1),
	Run:   runObjectInfo,
}

var objectListCmd = &cobra.Command{
	Use:   "list",
	Short: "List images, optionally filtered by tag",
	Long: `List images ordered by original name. Every --tag must be present on an
image for it to be listed.`,
	Args: cobra.NoArgs,
	Run:  runObjectList,
}

var objectDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete an image with its tags and thumbnail",
	Args:  cobra.ExactArgs(1),
	Run:   runObjectDelete,
}

var objectTagCmd = &cobra.Command{
	Use:   "tag <id> <label>",
	Short: "Attach a tag to an image",
	Args:  cobra.ExactArgs(2),
	Run:   runObjectTag,
}

var objectUntagCmd = &cobra.Command{
	Use:   "untag <id> <label>",
	Short: "Detach a tag from an image",
	Args:  cobra.ExactArgs(2),
	Run:   runObjectUntag,
}

func init() {
	objectListCmd.Flags().StringArrayVarP(&listTags, "tag", "t", nil, "require this tag (repeatable)")
	objectListCmd.Flags().IntVarP(&listPageSize, "page-size", "n", 0, "page size (default from configuration)")
	objectListCmd.Flags().BoolVarP(&listAll, "all", "a", false, "follow cursors until the last page")

	for _, c := range []*cobra.Command{objectDeleteCmd, objectTagCmd, objectUntagCmd} {
		c.Flags().BoolVar(&offline, "offline", false, "confirm no server is running (needed with cache.backend=memory)")
	}

	objectCmd.AddCommand(objectInfoCmd)
	objectCmd.AddCommand(objectListCmd)
	objectCmd.AddCommand(objectDeleteCmd)
	objectCmd.AddCommand(objectTagCmd)
	objectCmd.AddCommand(objectUntagCmd)
}

func runObjectInfo(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	a := initApp(ctx, nil)
	defer a.Close()

	obj, err := a.Images.Get(ctx, args[0])
	if err != nil {
		exitError("%v", err)
	}

	yellow := color.New(color.FgYellow)
	yellow.Printf("object %s\n", obj.ID)
	fmt.Printf("Name:    %s\n", obj.OriginalName)
	fmt.Printf("Type:    %s\n", obj.MimeType)
	fmt.Printf("Size:    %s (%d bytes)\n", humanize.IBytes(uint64(obj.Size)), obj.Size)
	fmt.Printf("Created: %s (%s)\n", obj.CreatedAt.Local().Format("2006-01-02 15:04:05"), humanize.Time(obj.CreatedAt))
	fmt.Printf("Tags:    %s\n", strings.Join(obj.Tags, ", "))
}

func runObjectList(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	a := initApp(ctx, nil)
	defer a.Close()

	pageSize := listPageSize
	if pageSize == 0 {
		pageSize = a.Images.DefaultPageSize()
	}

	cursor := ""
	for {
		page, err := a.Images.ListImages(ctx, service.ListImagesInput{
			Tags:     listTags,
			Cursor:   cursor,
			PageSize: pageSize,
		})
		if err != nil {
			exitError("%v", err)
		}
		for _, obj := range page.Items {
			printObjectLine(obj)
		}

		if page.NextCursor == nil {
			return
		}
		if !listAll {
			color.New(color.FgCyan).Println("(more results, rerun with --all)")
			return
		}
		cursor = *page.NextCursor
	}
}

func printObjectLine(obj *domain.Object) {
	yellow := color.New(color.FgYellow)
	yellow.Printf("%s ", shortID(obj.ID))
	fmt.Printf("%-32s %8s  [%s]\n", obj.OriginalName, humanize.IBytes(uint64(obj.Size)), strings.Join(obj.Tags, " "))
}

func runObjectDelete(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	a := initApp(ctx, guardMutation)
	defer a.Close()

	if err := a.Images.Delete(ctx, args[0]); err != nil {
		exitError("%v", err)
	}
	color.New(color.FgRed).Printf("deleted %s\n", args[0])
}

func runObjectTag(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	a := initApp(ctx, guardMutation)
	defer a.Close()

	if err := a.Images.AddTag(ctx, args[0], args[1]); err != nil {
		exitError("%v", err)
	}
	color.New(color.FgGreen).Printf("tagged %s with %q\n", shortID(args[0]), args[1])
}

func runObjectUntag(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	a := initApp(ctx, guardMutation)
	defer a.Close()

	if err := a.Images.RemoveTag(ctx, args[0], args[1]); err != nil {
		exitError("%v", err)
	}
	fmt.Printf("removed %q from %s\n", args[1], shortID(args[0]))
}
