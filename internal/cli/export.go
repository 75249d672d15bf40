package cli

import (
	"github.com/spf13/cobra"

	"replaycore/internal/app"
)

var (
	exportRunID     string
	exportAccount   int64
	exportFrom      string
	exportTo        string
	exportPNGPath   string
	exportCSVPath   string
	exportMaxPoints int
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export a run's hourly equity curve as CSV and/or PNG chart",
	RunE: func(cmd *cobra.Command, args []string) error {
		runID, err := parseRunID("--run", exportRunID)
		if err != nil {
			return err
		}

		opts := app.ExportOptions{
			RunID:     runID,
			AccountID: exportAccount,
			PNGPath:   exportPNGPath,
			CSVPath:   exportCSVPath,
			MaxPoints: exportMaxPoints,
		}

		if exportFrom != "" {
			from, err := parseHour("--from", exportFrom)
			if err != nil {
				return err
			}
			opts.From = &from
		}

		if exportTo != "" {
			to, err := parseHour("--to", exportTo)
			if err != nil {
				return err
			}
			opts.To = &to
		}

		return getApp().Export(cmd.Context(), opts)
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportRunID, "run", "", "Run identifier (UUID)")
	exportCmd.Flags().Int64Var(&exportAccount, "account", 0, "Account identifier")
	exportCmd.Flags().StringVar(&exportFrom, "from", "", "Start hour, inclusive (RFC3339 with explicit offset)")
	exportCmd.Flags().StringVar(&exportTo, "to", "", "End hour, inclusive (RFC3339 with explicit offset)")
	exportCmd.Flags().StringVar(&exportPNGPath, "png", "", "Path to write PNG chart")
	exportCmd.Flags().StringVar(&exportCSVPath, "csv", "", "Path to write CSV data")
	exportCmd.Flags().IntVar(&exportMaxPoints, "max-points", 0, "Maximum data points to export (defaults to config)")
	exportCmd.MarkFlagRequired("run")
	exportCmd.MarkFlagRequired("account")
}
