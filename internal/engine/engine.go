// Package engine is the deterministic state-transition core: given a run and
// a UTC hour it derives the full artifact set from persisted inputs and
// writes it, together with its content-hash manifest, in one transaction.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"replaycore/internal/canonical"
	"replaycore/internal/storage"
)

var (
	// ErrHourAlreadyExecuted signals a usage error: an executed hour is
	// immutable and may only be replayed, never re-executed.
	ErrHourAlreadyExecuted = storage.ErrHourAlreadyExecuted
	// ErrHourNotAligned rejects hour boundaries that are not exact UTC hours.
	ErrHourNotAligned = errors.New("engine: hour must be aligned to a UTC hour boundary")
	// ErrAccountMismatch rejects a run/account pair that does not match the run row.
	ErrAccountMismatch = errors.New("engine: account does not own this run")
)

// Engine executes hours against a transactional store.
type Engine struct {
	runner storage.TxRunner
	params Params
	logger zerolog.Logger
}

// New constructs an Engine. The engine holds no mutable state of its own and
// is safe for concurrent use across distinct hours.
func New(runner storage.TxRunner, params Params, logger zerolog.Logger) *Engine {
	return &Engine{
		runner: runner,
		params: params,
		logger: logger.With().Str("component", "engine").Logger(),
	}
}

// Result reports what one executed hour produced.
type Result struct {
	RunID     uuid.UUID        `json:"run_id"`
	AccountID int64            `json:"account_id"`
	HourTS    time.Time        `json:"hour_ts"`
	RootHash  string           `json:"root_hash"`
	TotalRows int64            `json:"total_rows"`
	Counts    map[string]int64 `json:"counts"`
}

// ValidateHour rejects non-hour-aligned instants. Callers have already
// rejected timezone-naive input at the boundary.
func ValidateHour(hourTS time.Time) error {
	if !hourTS.UTC().Truncate(time.Hour).Equal(hourTS.UTC()) {
		return ErrHourNotAligned
	}
	return nil
}

// ExecuteHour derives and persists the complete artifact set plus manifest
// for (runID, accountID, hourTS) in a single serializable transaction. A
// second invocation for an already-executed hour fails on the manifest
// precondition without touching the first execution's artifacts.
func (e *Engine) ExecuteHour(ctx context.Context, runID uuid.UUID, accountID int64, hourTS time.Time) (Result, error) {
	if err := ValidateHour(hourTS); err != nil {
		return Result{}, err
	}
	hourTS = hourTS.UTC()

	var result Result
	err := e.runner.WithWriteTx(ctx, func(repo storage.Repository) error {
		run, err := repo.GetRun(ctx, runID)
		if err != nil {
			return err
		}
		if run.AccountID != accountID {
			return ErrAccountMismatch
		}

		if _, exists, err := repo.GetManifest(ctx, runID, accountID, hourTS); err != nil {
			return err
		} else if exists {
			return ErrHourAlreadyExecuted
		}

		set, err := DeriveHour(ctx, repo, run, hourTS, e.params)
		if err != nil {
			return err
		}

		if err := repo.InsertArtifacts(ctx, set); err != nil {
			return err
		}

		manifest := canonical.BuildManifest(runID, accountID, hourTS, set)
		if err := repo.InsertManifest(ctx, manifest); err != nil {
			return err
		}

		result = Result{
			RunID:     runID,
			AccountID: accountID,
			HourTS:    hourTS,
			RootHash:  manifest.RootHash,
			TotalRows: manifest.AuthoritativeRowCount,
			Counts:    set.Counts(),
		}
		return nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("execute hour %s: %w", hourTS.Format(time.RFC3339), err)
	}

	e.logger.Info().
		Str("run_id", runID.String()).
		Int64("account_id", accountID).
		Time("hour_ts", hourTS).
		Str("root_hash", result.RootHash).
		Int64("total_rows", result.TotalRows).
		Msg("hour executed")
	return result, nil
}
