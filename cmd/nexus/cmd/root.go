// Package cmd provides the CLI commands for Nexus.
package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/nexuscore/nexus/internal/config"
	"github.com/nexuscore/nexus/internal/logging"
	"github.com/nexuscore/nexus/pkg/version"
)

var (
	dataDir  string
	debugLog bool
)

// NewRootCmd creates the root command for the nexus CLI.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "nexus",
		Short:   "Local-first hybrid retrieval over a personal knowledge base",
		Version: version.Version,
		Long: `Nexus indexes markdown notes, PDFs, and saved articles into a local
hybrid retrieval index (dense vectors + BM25 keyword scoring, fused by
Reciprocal Rank Fusion) and serves fast, filterable search over them —
entirely on-disk, with no network access required.`,
		SilenceUsage: true,
	}
	root.SetVersionTemplate("nexus version {{.Version}}\n")

	root.PersistentFlags().StringVar(&dataDir, "data-dir", "", "override the data directory (default ~/.nexus)")
	root.PersistentFlags().BoolVar(&debugLog, "debug", false, "enable debug logging")
	root.PersistentPreRunE = setupLogging

	root.AddCommand(newIngestCmd())
	root.AddCommand(newDeleteCmd())
	root.AddCommand(newSourcesCmd())
	root.AddCommand(newSearchCmd())
	root.AddCommand(newStatsCmd())
	root.AddCommand(newDoctorCmd())
	root.AddCommand(newWatchCmd())

	return root
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

func setupLogging(_ *cobra.Command, _ []string) error {
	cfg := logging.DefaultConfig()
	cfg.WriteToStderr = true
	if debugLog {
		cfg = logging.DebugConfig()
	}
	logger, _, err := logging.Setup(cfg)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)
	return nil
}

// resolveConfig builds the core configuration, applying the --data-dir
// override over config.Default() when set.
func resolveConfig() *config.Config {
	cfg := config.Default()
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	return cfg
}
