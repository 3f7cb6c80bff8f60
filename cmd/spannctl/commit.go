package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var commitCmd = &cobra.Command{
	Use:   "commit",
	Short: "Reconcile and flush the segment's current staged state",
	Long: `commit opens the segment, fully reconciles every head against the
backing store, and flushes the posting lists, version map, and centroid
graph as a fresh generation. Useful after an out-of-process mutation or
as a standalone flush without ingesting or garbage-collecting.`,
	RunE: runCommit,
}

func runCommit(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	dataDir, _ := cmd.Flags().GetString("data-dir")
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	w, provider, err := openSegment(ctx, dataDir, cfg, 1)
	if err != nil {
		return err
	}
	defer provider.Close()

	result, err := w.Commit(ctx)
	if err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	fmt.Println("Commit complete")
	printFlushed(result.Flushed)
	return nil
}
