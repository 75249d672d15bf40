package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"replaycore/internal/daemon"
	"replaycore/internal/marketdata"
	"replaycore/internal/scheduler"
)

// Run executes the long-running daemon that advances one run hour by hour.
func (a *App) Run(ctx context.Context, opts RunOptions) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	var source marketdata.CandleSource
	if a.Config.MarketData.BaseURL != "" {
		source = marketdata.NewClient(marketdata.ClientOptions{
			BaseURL:   a.Config.MarketData.BaseURL,
			Timeout:   a.Config.MarketData.RequestTimeout,
			UserAgent: a.Config.MarketData.UserAgent,
		}, a.Logger)
	} else {
		a.Logger.Warn().Msg("marketdata.base_url not configured; candle sync disabled")
	}

	d := daemon.New(
		opts.RunID,
		opts.AccountID,
		store,
		store,
		a.newEngine(store),
		a.newVerifier(store),
		source,
		a.newNotifier(),
		a.Config.Daemon,
		a.Logger,
	)

	sched := scheduler.New(scheduler.Options{
		Interval:     time.Hour,
		StartupDelay: a.Config.Daemon.StartupDelay,
	}, a.Logger)

	a.Logger.Info().
		Str("run_id", opts.RunID.String()).
		Int64("account_id", opts.AccountID).
		Msg("starting hourly daemon")

	// Catch up immediately on start, then follow the hour boundary.
	lastClosed := time.Now().UTC().Truncate(time.Hour).Add(-time.Hour)
	if err := d.Cycle(ctx, lastClosed); err != nil {
		a.Logger.Error().Err(err).Msg("initial cycle failed")
	}

	err = sched.Run(ctx, d.Cycle)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("daemon terminated with error")
		return err
	}

	stats := d.Stats()
	a.Logger.Info().
		Int64("cycles", stats.Cycles).
		Int64("executed_hours", stats.ExecutedHours).
		Int64("parity_failures", stats.ParityFailures).
		Msg("daemon stopped")
	return nil
}
