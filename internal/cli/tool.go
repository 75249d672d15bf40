package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"replaycore/internal/app"
	"replaycore/internal/replay"
)

var (
	toolTargets    []string
	toolMaxTargets int
)

var toolCmd = &cobra.Command{
	Use:   "tool",
	Short: "Verify manifest parity for explicit targets, or every manifest when none given",
	RunE: func(cmd *cobra.Command, args []string) error {
		targets := make([]replay.Target, 0, len(toolTargets))
		for _, raw := range toolTargets {
			target, err := parseTarget(raw)
			if err != nil {
				return err
			}
			targets = append(targets, target)
		}

		return getApp().Tool(cmd.Context(), app.ToolOptions{
			Targets:    targets,
			MaxTargets: toolMaxTargets,
		})
	},
}

// parseTarget splits run_id/account_id/hour_ts, the same three coordinates
// every other verification command takes as separate flags.
func parseTarget(raw string) (replay.Target, error) {
	parts := strings.SplitN(raw, "/", 3)
	if len(parts) != 3 {
		return replay.Target{}, fmt.Errorf("invalid --target value %q: expected run_id/account_id/hour_ts", raw)
	}

	runID, err := parseRunID("--target run_id", parts[0])
	if err != nil {
		return replay.Target{}, err
	}
	accountID, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return replay.Target{}, fmt.Errorf("invalid --target account_id %q: expected an integer", parts[1])
	}
	hour, err := parseHour("--target hour_ts", parts[2])
	if err != nil {
		return replay.Target{}, err
	}

	return replay.Target{RunID: runID, AccountID: accountID, HourTS: hour}, nil
}

func init() {
	toolCmd.Flags().StringArrayVar(&toolTargets, "target", nil, "Target as run_id/account_id/hour_ts (repeatable; empty verifies everything)")
	toolCmd.Flags().IntVar(&toolMaxTargets, "max-targets", 0, "Maximum targets to verify (defaults to config)")
}
