package cli

import (
	"github.com/spf13/cobra"

	"replaycore/internal/app"
)

var (
	replayRunID   string
	replayAccount int64
	replayHour    string
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Re-derive one executed hour and report field-level mismatches",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := verifyOptions(replayRunID, replayAccount, replayHour)
		if err != nil {
			return err
		}
		return getApp().ReplayHour(cmd.Context(), opts)
	},
}

var (
	parityRunID   string
	parityAccount int64
	parityHour    string
)

var parityCmd = &cobra.Command{
	Use:   "parity",
	Short: "Recompute one hour's manifest and compare against the persisted one",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := verifyOptions(parityRunID, parityAccount, parityHour)
		if err != nil {
			return err
		}
		return getApp().Parity(cmd.Context(), opts)
	},
}

func verifyOptions(runIDValue string, account int64, hourValue string) (app.VerifyOptions, error) {
	runID, err := parseRunID("--run", runIDValue)
	if err != nil {
		return app.VerifyOptions{}, err
	}
	hour, err := parseHour("--hour", hourValue)
	if err != nil {
		return app.VerifyOptions{}, err
	}
	return app.VerifyOptions{RunID: runID, AccountID: account, HourTS: hour}, nil
}

func init() {
	replayCmd.Flags().StringVar(&replayRunID, "run", "", "Run identifier (UUID)")
	replayCmd.Flags().Int64Var(&replayAccount, "account", 0, "Account identifier")
	replayCmd.Flags().StringVar(&replayHour, "hour", "", "Hour boundary (RFC3339 with explicit offset)")
	replayCmd.MarkFlagRequired("run")
	replayCmd.MarkFlagRequired("account")
	replayCmd.MarkFlagRequired("hour")

	parityCmd.Flags().StringVar(&parityRunID, "run", "", "Run identifier (UUID)")
	parityCmd.Flags().Int64Var(&parityAccount, "account", 0, "Account identifier")
	parityCmd.Flags().StringVar(&parityHour, "hour", "", "Hour boundary (RFC3339 with explicit offset)")
	parityCmd.MarkFlagRequired("run")
	parityCmd.MarkFlagRequired("account")
	parityCmd.MarkFlagRequired("hour")
}
