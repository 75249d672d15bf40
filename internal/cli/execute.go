package cli

import (
	"github.com/spf13/cobra"

	"replaycore/internal/app"
)

var (
	executeRunID   string
	executeAccount int64
	executeHour    string
)

var executeCmd = &cobra.Command{
	Use:   "execute",
	Short: "Execute one closed hour for a run",
	RunE: func(cmd *cobra.Command, args []string) error {
		runID, err := parseRunID("--run", executeRunID)
		if err != nil {
			return err
		}
		hour, err := parseHour("--hour", executeHour)
		if err != nil {
			return err
		}

		return getApp().ExecuteHour(cmd.Context(), app.ExecuteHourOptions{
			RunID:     runID,
			AccountID: executeAccount,
			HourTS:    hour,
		})
	},
}

func init() {
	executeCmd.Flags().StringVar(&executeRunID, "run", "", "Run identifier (UUID)")
	executeCmd.Flags().Int64Var(&executeAccount, "account", 0, "Account identifier")
	executeCmd.Flags().StringVar(&executeHour, "hour", "", "Hour boundary (RFC3339 with explicit offset)")
	executeCmd.MarkFlagRequired("run")
	executeCmd.MarkFlagRequired("account")
	executeCmd.MarkFlagRequired("hour")
}
