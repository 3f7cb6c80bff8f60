package main

import (
	"fmt"
	"os"

	"github.com/chroma-core/spannsegment/pkg/log"
	"github.com/spf13/cobra"
)

// Version information, set via ldflags during build.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// Execute runs the root command, recovering any panic into a returned
// error — the CLI is the only place a SPANN invariant-violation panic
// (an unknown-point update, a corrupt posting-list entry) is allowed to
// surface to an operator rather than crash the process, grounded on the
// teacher's read-only gRPC interceptor's wrap-the-handler shape,
// generalized here from an RPC call to a whole command invocation.
func Execute() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return rootCmd.Execute()
}

var rootCmd = &cobra.Command{
	Use:   "spannctl",
	Short: "Inspect and drive a SPANN vector index segment",
	Long: `spannctl exercises a SPANN segment end to end: ingest vectors from a
CSV or NDJSON file, run a garbage-collection cycle, commit staged state,
and inspect what is currently persisted.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"spannctl version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("data-dir", "./spann-data", "Directory holding the segment's bbolt database")
	rootCmd.PersistentFlags().String("config", "", "Path to a YAML config file (defaults built in if unset)")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(gcCmd)
	rootCmd.AddCommand(commitCmd)
	rootCmd.AddCommand(inspectCmd)
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	jsonOut, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{
		Level:      log.Level(level),
		JSONOutput: jsonOut,
	})
}
