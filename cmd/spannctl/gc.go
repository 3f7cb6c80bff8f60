package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var gcCmd = &cobra.Command{
	Use:   "gc",
	Short: "Run one garbage-collection cycle and commit the result",
	RunE:  runGC,
}

func runGC(cmd *cobra.Command, args []string) error {
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

	if err := w.GarbageCollect(ctx); err != nil {
		return fmt.Errorf("garbage collect: %w", err)
	}

	result, err := w.Commit(ctx)
	if err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	fmt.Println("Garbage collection cycle complete")
	printFlushed(result.Flushed)
	return nil
}
