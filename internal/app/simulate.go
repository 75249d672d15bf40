package app

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"replaycore/internal/alerting"
)

// SimulateAlertOptions identify the hour the synthetic failure pretends to be for.
type SimulateAlertOptions struct {
	RunID     uuid.UUID
	AccountID int64
	HourTS    time.Time
}

// SimulateAlert pushes a synthetic parity failure through the configured
// alert channel so delivery can be verified without corrupting real data.
func (a *App) SimulateAlert(ctx context.Context, opts SimulateAlertOptions) error {
	if !a.Config.Alerting.Enabled {
		return errors.New("alerting is not enabled")
	}

	notifier := a.newNotifier()
	if notifier == nil {
		return errors.New("no alert channel configured")
	}

	note := alerting.Notification{
		RunID:              opts.RunID,
		AccountID:          opts.AccountID,
		HourTS:             opts.HourTS,
		ManifestRootHash:   "0000000000000000000000000000000000000000000000000000000000000000",
		RecomputedRootHash: "ffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff",
		FailureCodes:       []string{"ROOT_HASH_MISMATCH"},
		AdditionalMsg:      "simulated alert, no real mismatch",
	}

	if err := notifier.Notify(ctx, note); err != nil {
		return err
	}

	a.Logger.Info().
		Str("run_id", opts.RunID.String()).
		Time("hour_ts", opts.HourTS).
		Msg("simulated parity alert delivered")
	return nil
}
