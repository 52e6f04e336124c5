package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/hybridcore/core/internal/logging"
	"github.com/hybridcore/core/pkg/version"
)

var (
	configDir string
	dataDir   string
	debugMode bool

	loggingCleanup func()
)

// NewRootCmd creates the root command for the hybridcore CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "hybridcore",
		Short:   "Hybrid search and personalization core for media discovery",
		Long:    `hybridcore fuses vector and keyword retrieval over a media catalog, reranks with per-user LoRA adapters, and serves the result over a local process boundary.`,
		Version: version.Version,
	}

	cmd.SetVersionTemplate("hybridcore version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&configDir, "config", "", "Directory containing .hybridcore.yaml (default: current directory)")
	cmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Directory holding the vector/keyword/adapter stores (default: ./.hybridcore)")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging")

	cmd.PersistentPreRunE = startLogging
	cmd.PersistentPostRunE = stopLogging

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newAdapterCmd())
	cmd.AddCommand(newReindexCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func startLogging(_ *cobra.Command, _ []string) error {
	cfg := logging.DefaultConfig()
	if debugMode {
		cfg = logging.DebugConfig()
	}
	logger, cleanup, err := logging.Setup(cfg)
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}
	loggingCleanup = cleanup
	slog.SetDefault(logger)
	return nil
}

func stopLogging(_ *cobra.Command, _ []string) error {
	if loggingCleanup != nil {
		loggingCleanup()
		loggingCleanup = nil
	}
	return nil
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
