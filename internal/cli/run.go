package cli

import (
	"github.com/spf13/cobra"

	"replaycore/internal/app"
)

var (
	runRunID   string
	runAccount int64
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the hourly daemon for one run",
	RunE: func(cmd *cobra.Command, args []string) error {
		runID, err := parseRunID("--run", runRunID)
		if err != nil {
			return err
		}
		return getApp().Run(cmd.Context(), app.RunOptions{
			RunID:     runID,
			AccountID: runAccount,
		})
	},
}

var (
	runCreateAccount  int64
	runCreateMode     string
	runCreateCurrency string
	runCreateCash     string
)

var runCreateCmd = &cobra.Command{
	Use:   "run-create",
	Short: "Register a new run",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().RunCreate(cmd.Context(), app.RunCreateOptions{
			AccountID:    runCreateAccount,
			Mode:         runCreateMode,
			BaseCurrency: runCreateCurrency,
			InitialCash:  runCreateCash,
		})
	},
}

func init() {
	runCmd.Flags().StringVar(&runRunID, "run", "", "Run identifier (UUID)")
	runCmd.Flags().Int64Var(&runAccount, "account", 0, "Account identifier")
	runCmd.MarkFlagRequired("run")
	runCmd.MarkFlagRequired("account")

	runCreateCmd.Flags().Int64Var(&runCreateAccount, "account", 0, "Account identifier")
	runCreateCmd.Flags().StringVar(&runCreateMode, "mode", "PAPER", "Run mode (LIVE or PAPER)")
	runCreateCmd.Flags().StringVar(&runCreateCurrency, "base-currency", "USD", "Base currency of the run")
	runCreateCmd.Flags().StringVar(&runCreateCash, "initial-cash", "", "Initial cash balance (decimal)")
	runCreateCmd.MarkFlagRequired("account")
	runCreateCmd.MarkFlagRequired("initial-cash")
}
