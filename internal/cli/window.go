package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"replaycore/internal/app"
)

var (
	windowAccount    int64
	windowMode       string
	windowStart      string
	windowEnd        string
	windowMaxTargets int
)

var windowCmd = &cobra.Command{
	Use:   "window",
	Short: "Verify manifest parity for every executed hour in a window",
	RunE: func(cmd *cobra.Command, args []string) error {
		start, err := parseHour("--start", windowStart)
		if err != nil {
			return err
		}
		end, err := parseHour("--end", windowEnd)
		if err != nil {
			return err
		}
		if end.Before(start) {
			return fmt.Errorf("--start must not be after --end")
		}

		return getApp().Window(cmd.Context(), app.WindowOptions{
			AccountID:  windowAccount,
			Mode:       windowMode,
			StartHour:  start,
			EndHour:    end,
			MaxTargets: windowMaxTargets,
		})
	},
}

func init() {
	windowCmd.Flags().Int64Var(&windowAccount, "account", 0, "Account identifier")
	windowCmd.Flags().StringVar(&windowMode, "mode", "PAPER", "Run mode filter (LIVE or PAPER)")
	windowCmd.Flags().StringVar(&windowStart, "start", "", "First hour boundary, inclusive (RFC3339 with explicit offset)")
	windowCmd.Flags().StringVar(&windowEnd, "end", "", "Last hour boundary, inclusive (RFC3339 with explicit offset)")
	windowCmd.Flags().IntVar(&windowMaxTargets, "max-targets", 0, "Maximum targets to verify (defaults to config)")
	windowCmd.MarkFlagRequired("account")
	windowCmd.MarkFlagRequired("start")
	windowCmd.MarkFlagRequired("end")
}
