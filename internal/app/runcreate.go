package app

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"replaycore/internal/artifact"
	"replaycore/internal/storage"
)

// RunCreate registers a new run row and prints its identity.
func (a *App) RunCreate(ctx context.Context, opts RunCreateOptions) error {
	mode, err := parseMode(opts.Mode)
	if err != nil {
		return err
	}
	initialCash, err := decimal.NewFromString(opts.InitialCash)
	if err != nil {
		return errors.New("invalid --initial-cash value: expected a decimal number")
	}
	if initialCash.IsNegative() {
		return errors.New("--initial-cash cannot be negative")
	}
	if opts.BaseCurrency == "" {
		return errors.New("--base-currency must be provided")
	}

	run := artifact.Run{
		RunID:        uuid.New(),
		AccountID:    opts.AccountID,
		Mode:         mode,
		BaseCurrency: opts.BaseCurrency,
		InitialCash:  initialCash,
		CreatedAt:    time.Now().UTC(),
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	err = store.WithWriteTx(ctx, func(repo storage.Repository) error {
		return repo.InsertRun(ctx, run)
	})
	if err != nil {
		return err
	}

	a.Logger.Info().
		Str("run_id", run.RunID.String()).
		Int64("account_id", run.AccountID).
		Str("mode", string(run.Mode)).
		Msg("run created")

	return printJSON(map[string]any{
		"run_id":        run.RunID,
		"account_id":    run.AccountID,
		"mode":          run.Mode,
		"base_currency": run.BaseCurrency,
		"initial_cash":  run.InitialCash.StringFixed(artifact.DecimalPlaces),
		"created_at":    run.CreatedAt.Format(time.RFC3339),
	})
}
