package app

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"replaycore/internal/artifact"
	"replaycore/internal/replay"
)

func parseMode(s string) (artifact.RunMode, error) {
	mode, ok := artifact.ParseRunMode(s)
	if !ok {
		return "", fmt.Errorf("invalid run mode %q (expected LIVE or PAPER)", s)
	}
	return mode, nil
}

// VerifyOptions identify one hour to verify.
type VerifyOptions struct {
	RunID     uuid.UUID
	AccountID int64
	HourTS    time.Time
}

// WindowOptions bound an account-wide verification sweep.
type WindowOptions struct {
	AccountID  int64
	Mode       string
	StartHour  time.Time
	EndHour    time.Time
	MaxTargets int
}

// ToolOptions carry an explicit target list; empty means discover all.
type ToolOptions struct {
	Targets    []replay.Target
	MaxTargets int
}

// ReplayHour re-derives one hour and prints the field-level report.
func (a *App) ReplayHour(ctx context.Context, opts VerifyOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	report, err := a.newVerifier(store).ReplayHour(ctx, opts.RunID, opts.AccountID, opts.HourTS)
	if err != nil {
		return err
	}
	if err := printJSON(report); err != nil {
		return err
	}
	if !report.OK() {
		return ErrMismatch
	}
	return nil
}

// Parity recomputes one hour's manifest and prints the parity report.
func (a *App) Parity(ctx context.Context, opts VerifyOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	report, err := a.newVerifier(store).ManifestParity(ctx, opts.RunID, opts.AccountID, opts.HourTS)
	if err != nil {
		return err
	}
	if err := printJSON(report); err != nil {
		return err
	}
	if !report.ReplayParity {
		return ErrMismatch
	}
	return nil
}

// Window sweeps every manifest an account produced inside an hour window and
// prints the aggregate report.
func (a *App) Window(ctx context.Context, opts WindowOptions) error {
	mode, err := parseMode(opts.Mode)
	if err != nil {
		return err
	}
	maxTargets := opts.MaxTargets
	if maxTargets <= 0 {
		maxTargets = a.Config.Replay.MaxWindowTargets
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	report, err := a.newVerifier(store).WindowParity(ctx, opts.AccountID, mode, opts.StartHour, opts.EndHour, maxTargets)
	if err != nil {
		return err
	}
	if err := printJSON(report); err != nil {
		return err
	}
	if !report.ReplayParity {
		return ErrMismatch
	}
	return nil
}

// Tool verifies an explicit target list, discovering every persisted manifest
// when the list is empty, and prints the aggregate report.
func (a *App) Tool(ctx context.Context, opts ToolOptions) error {
	maxTargets := opts.MaxTargets
	if maxTargets <= 0 {
		maxTargets = a.Config.Replay.MaxWindowTargets
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	report, err := a.newVerifier(store).ToolParity(ctx, opts.Targets, maxTargets)
	if err != nil {
		return err
	}
	if err := printJSON(report); err != nil {
		return err
	}
	if !report.ReplayParity {
		return ErrMismatch
	}
	return nil
}
