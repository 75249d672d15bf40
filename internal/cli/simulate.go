package cli

import (
	"time"

	"github.com/spf13/cobra"

	"replaycore/internal/app"
)

var (
	simulateRunID   string
	simulateAccount int64
	simulateHour    string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "Send a synthetic parity-failure alert to verify delivery",
	RunE: func(cmd *cobra.Command, args []string) error {
		runID, err := parseRunID("--run", simulateRunID)
		if err != nil {
			return err
		}

		hour := time.Now().UTC().Truncate(time.Hour)
		if simulateHour != "" {
			hour, err = parseHour("--hour", simulateHour)
			if err != nil {
				return err
			}
		}

		return getApp().SimulateAlert(cmd.Context(), app.SimulateAlertOptions{
			RunID:     runID,
			AccountID: simulateAccount,
			HourTS:    hour,
		})
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateRunID, "run", "", "Run identifier (UUID)")
	simulateCmd.Flags().Int64Var(&simulateAccount, "account", 0, "Account identifier")
	simulateCmd.Flags().StringVar(&simulateHour, "hour", "", "Hour boundary (defaults to the current hour)")
	simulateCmd.MarkFlagRequired("run")
	simulateCmd.MarkFlagRequired("account")
}
