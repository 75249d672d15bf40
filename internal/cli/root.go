// Package cli wires the cobra command tree. Exit codes form the scripting
// contract: 0 means the operation succeeded (and, for verification commands,
// parity held), 2 means verification completed and found a mismatch, 1 means
// a usage or runtime failure.
package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"replaycore/internal/app"
	"replaycore/internal/config"
	"replaycore/internal/logging"
)

var (
	cfgFile   string
	logLevel  string
	appHandle *app.App
)

var rootCmd = &cobra.Command{
	Use:           "replaycore",
	Short:         "Deterministic hourly execution and replay verification",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if appHandle != nil {
			return nil
		}

		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}

		if logLevel != "" {
			cfg.Logging.Level = logLevel
		}

		logger := logging.NewLogger(cfg.Logging)
		appHandle = app.NewApp(cfg, logger)
		return nil
	},
}

// Execute runs the root command and maps the outcome onto the exit-code
// contract.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		if errors.Is(err, app.ErrMismatch) {
			os.Exit(2)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override log level defined in config")

	rootCmd.AddCommand(executeCmd)
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(parityCmd)
	rootCmd.AddCommand(windowCmd)
	rootCmd.AddCommand(toolCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(runCreateCmd)
	rootCmd.AddCommand(initDBCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(simulateCmd)
	rootCmd.AddCommand(versionCmd)
}

func getApp() *app.App {
	if appHandle == nil {
		panic("application not initialized; PersistentPreRunE not executed")
	}
	return appHandle
}
