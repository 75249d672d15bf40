// Package daemon runs the autonomous hourly cycle for one run: sync upstream
// candles, execute every closed hour not yet executed, then re-verify the
// hours executed in previous cycles and alert on any parity failure.
package daemon

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"replaycore/internal/alerting"
	"replaycore/internal/artifact"
	"replaycore/internal/config"
	"replaycore/internal/engine"
	"replaycore/internal/marketdata"
	"replaycore/internal/replay"
	"replaycore/internal/storage"
)

// Locker is the advisory-lock capability the daemon needs from the store.
type Locker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error)
}

// Stats accumulates cycle bookkeeping across the daemon lifetime.
type Stats struct {
	Cycles         int64
	SkippedCycles  int64
	SyncedCandles  int64
	ExecutedHours  int64
	VerifiedHours  int64
	ParityFailures int64
}

// Daemon drives one run through closed hours as they arrive.
type Daemon struct {
	runID     uuid.UUID
	accountID int64

	runner   storage.TxRunner
	locker   Locker
	engine   *engine.Engine
	verifier *replay.Verifier
	source   marketdata.CandleSource
	notifier alerting.Notifier
	cfg      config.DaemonConfig
	logger   zerolog.Logger

	stats Stats
}

// New wires a Daemon. The notifier and candle source may be nil, in which
// case alerting and candle sync are skipped.
func New(
	runID uuid.UUID,
	accountID int64,
	runner storage.TxRunner,
	locker Locker,
	eng *engine.Engine,
	verifier *replay.Verifier,
	source marketdata.CandleSource,
	notifier alerting.Notifier,
	cfg config.DaemonConfig,
	logger zerolog.Logger,
) *Daemon {
	return &Daemon{
		runID:     runID,
		accountID: accountID,
		runner:    runner,
		locker:    locker,
		engine:    eng,
		verifier:  verifier,
		source:    source,
		notifier:  notifier,
		cfg:       cfg,
		logger:    logger.With().Str("component", "daemon").Logger(),
	}
}

// Stats returns a copy of the accumulated counters.
func (d *Daemon) Stats() Stats {
	return d.stats
}

// Cycle performs one full daemon pass for the given closed hour. Another
// replica holding the advisory lock makes the cycle a no-op.
func (d *Daemon) Cycle(ctx context.Context, closedHour time.Time) error {
	closedHour = closedHour.UTC().Truncate(time.Hour)

	unlock, acquired, err := d.locker.TryAdvisoryLock(ctx, d.cfg.AdvisoryLockKey)
	if err != nil {
		return fmt.Errorf("advisory lock: %w", err)
	}
	if !acquired {
		d.stats.SkippedCycles++
		d.logger.Info().Time("closed_hour", closedHour).Msg("another replica holds the lock, skipping cycle")
		return nil
	}
	defer unlock()

	d.stats.Cycles++

	if d.source != nil {
		if err := d.syncCandles(ctx, closedHour); err != nil {
			return fmt.Errorf("candle sync: %w", err)
		}
	}

	executed, err := d.catchUp(ctx, closedHour)
	if err != nil {
		return fmt.Errorf("catch-up execution: %w", err)
	}

	if err := d.verifyRecent(ctx, closedHour, executed); err != nil {
		return fmt.Errorf("parity verification: %w", err)
	}

	d.logger.Info().
		Time("closed_hour", closedHour).
		Int("executed_hours", len(executed)).
		Int64("cycles", d.stats.Cycles).
		Msg("cycle complete")
	return nil
}

// syncCandles fetches hourly candles for every known asset from the latest
// persisted candle hour through the closed hour, then upserts them. Fetching
// happens outside the write transaction so a slow upstream never holds locks.
func (d *Daemon) syncCandles(ctx context.Context, closedHour time.Time) error {
	var assets []artifact.Asset
	var from time.Time
	err := d.runner.WithReadTx(ctx, func(repo storage.Repository) error {
		var err error
		assets, err = repo.ListAssets(ctx)
		if err != nil {
			return err
		}
		latest, found, err := repo.LatestCandleHour(ctx)
		if err != nil {
			return err
		}
		if found {
			from = latest.Add(time.Hour)
		} else {
			from = closedHour.Add(-time.Duration(d.cfg.CatchupHours) * time.Hour)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if len(assets) == 0 || from.After(closedHour) {
		return nil
	}

	var fetched []artifact.Candle
	for _, asset := range assets {
		candles, err := d.source.FetchCandles(ctx, asset.Symbol, from, closedHour)
		if err != nil {
			return fmt.Errorf("fetch %s: %w", asset.Symbol, err)
		}
		fetched = append(fetched, candles...)
	}
	if len(fetched) == 0 {
		return nil
	}

	err = d.runner.WithWriteTx(ctx, func(repo storage.Repository) error {
		for _, candle := range fetched {
			if err := repo.UpsertCandle(ctx, candle); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	d.stats.SyncedCandles += int64(len(fetched))
	d.logger.Debug().
		Int("candles", len(fetched)).
		Time("from", from).
		Time("to", closedHour).
		Msg("candles synced")
	return nil
}

// catchUp executes every unexecuted closed hour up to closedHour, bounded by
// CatchupHours so a long outage never turns one cycle into an unbounded
// backfill. Returns the hours executed this cycle, oldest first.
func (d *Daemon) catchUp(ctx context.Context, closedHour time.Time) ([]time.Time, error) {
	var start time.Time
	err := d.runner.WithReadTx(ctx, func(repo storage.Repository) error {
		latest, found, err := repo.LatestExecutedHour(ctx, d.runID, d.accountID)
		if err != nil {
			return err
		}
		if found {
			start = latest.Add(time.Hour)
		} else {
			start = closedHour
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	floor := closedHour.Add(-time.Duration(d.cfg.CatchupHours-1) * time.Hour)
	if start.Before(floor) {
		d.logger.Warn().
			Time("unexecuted_from", start).
			Time("floor", floor).
			Msg("backlog exceeds catch-up bound, older hours left unexecuted")
		start = floor
	}

	var executed []time.Time
	for hour := start; !hour.After(closedHour); hour = hour.Add(time.Hour) {
		result, err := d.engine.ExecuteHour(ctx, d.runID, d.accountID, hour)
		if err != nil {
			return executed, err
		}
		executed = append(executed, hour)
		d.stats.ExecutedHours++
		d.logger.Info().
			Time("hour_ts", hour).
			Str("root_hash", result.RootHash).
			Int64("total_rows", result.TotalRows).
			Msg("hour executed by daemon")
	}
	return executed, nil
}

// verifyRecent re-checks manifest parity for the VerifyDepth hours preceding
// the oldest hour executed this cycle and alerts on every failed target.
func (d *Daemon) verifyRecent(ctx context.Context, closedHour time.Time, executed []time.Time) error {
	if d.cfg.VerifyDepth <= 0 {
		return nil
	}

	newest := closedHour
	if len(executed) > 0 {
		newest = executed[0]
	}

	for i := 1; i <= d.cfg.VerifyDepth; i++ {
		hour := newest.Add(-time.Duration(i) * time.Hour)
		report, err := d.verifier.ManifestParity(ctx, d.runID, d.accountID, hour)
		if err != nil {
			return err
		}
		if len(report.Failures) == 1 && report.Failures[0].Code == replay.CodeMissingTarget {
			// Nothing executed at this depth yet; not a parity failure.
			continue
		}
		d.stats.VerifiedHours++
		if report.ReplayParity {
			continue
		}

		d.stats.ParityFailures++
		d.logger.Error().
			Time("hour_ts", hour).
			Int("mismatch_count", report.MismatchCount).
			Msg("parity failure detected by daemon")
		d.alert(ctx, hour, report)
	}
	return nil
}

func (d *Daemon) alert(ctx context.Context, hour time.Time, report replay.ParityReport) {
	if d.notifier == nil {
		return
	}
	codes := make([]string, 0, len(report.Failures))
	for _, f := range report.Failures {
		codes = append(codes, f.Code)
	}
	note := alerting.Notification{
		RunID:              d.runID,
		AccountID:          d.accountID,
		HourTS:             hour,
		ManifestRootHash:   report.ManifestRootHash,
		RecomputedRootHash: report.RecomputedRootHash,
		FailureCodes:       codes,
		AdditionalMsg:      fmt.Sprintf("%d mismatches", report.MismatchCount),
	}
	if err := d.notifier.Notify(ctx, note); err != nil {
		d.logger.Error().Err(err).Time("hour_ts", hour).Msg("failed to deliver parity alert")
	}
}
