// Package app aggregates configuration and shared dependencies behind the CLI
// commands. Each command opens its own store, runs one operation, and prints
// its report as JSON on stdout.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"replaycore/internal/alerting"
	"replaycore/internal/config"
	"replaycore/internal/engine"
	"replaycore/internal/replay"
	"replaycore/internal/storage"
)

// ErrMismatch marks an operation that completed but found a parity mismatch.
// The CLI maps it to its own exit code so scripts can distinguish a detected
// divergence from a usage or runtime failure.
var ErrMismatch = errors.New("replay parity mismatch")

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, errors.New("database.dsn not configured")
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

func (a *App) newEngine(runner storage.TxRunner) *engine.Engine {
	return engine.New(runner, engine.ParamsFromConfig(a.Config.Engine), a.Logger)
}

func (a *App) newVerifier(runner storage.TxRunner) *replay.Verifier {
	return replay.NewVerifier(runner, engine.ParamsFromConfig(a.Config.Engine), a.Logger)
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Enabled && a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// InitDB creates the schema in the configured database.
func (a *App) InitDB(ctx context.Context) error {
	if a.Config.Database.DSN == "" {
		return errors.New("database.dsn not configured")
	}
	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := storage.InitSchema(ctx, pool); err != nil {
		return err
	}
	a.Logger.Info().Msg("database schema initialised")
	return nil
}

// ExecuteHourOptions identify one hour to execute.
type ExecuteHourOptions struct {
	RunID     uuid.UUID
	AccountID int64
	HourTS    time.Time
}

// ExecuteHour derives and persists one hour and prints the execution result.
func (a *App) ExecuteHour(ctx context.Context, opts ExecuteHourOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	result, err := a.newEngine(store).ExecuteHour(ctx, opts.RunID, opts.AccountID, opts.HourTS)
	if err != nil {
		return err
	}
	return printJSON(result)
}

// RunCreateOptions configure a new run row.
type RunCreateOptions struct {
	AccountID    int64
	Mode         string
	BaseCurrency string
	InitialCash  string
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}

// ExportOptions hold parameters for exporting the equity curve.
type ExportOptions struct {
	RunID     uuid.UUID
	AccountID int64
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// RunOptions configure the long-running daemon.
type RunOptions struct {
	RunID     uuid.UUID
	AccountID int64
}
