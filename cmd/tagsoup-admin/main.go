// Package main is the entry point for the TagSoup admin CLI.
// This tool inspects images, tags and orphaned blobs directly on disk.
package main

import (
	"os"

	"github.com/prn-tf/tagsoup/internal/cli"
)

// Version information (set at build time)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	cli.Version, cli.BuildTime, cli.GitCommit = Version, BuildTime, GitCommit
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
