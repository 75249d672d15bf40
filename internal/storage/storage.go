// Package storage is the persistence boundary: a relational store exposing
// transactional execution and row-returning reads. The core depends only on
// the Repository/TxRunner capability set, never on Postgres directly, which
// is what allows the deterministic in-memory double used by the engine and
// replay tests.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"replaycore/internal/artifact"
	"replaycore/internal/canonical"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
	// ErrRunNotFound indicates a run_id with no persisted run row.
	ErrRunNotFound = errors.New("storage: run not found")
	// ErrHourAlreadyExecuted guards against re-executing an hour in place.
	ErrHourAlreadyExecuted = errors.New("storage: hour already executed for this run")
)

// ManifestKey identifies one replay target discovered from persisted manifests.
type ManifestKey struct {
	RunID     uuid.UUID
	AccountID int64
	HourTS    time.Time
}

// Repository is the capability set a single transaction exposes to the core.
type Repository interface {
	// Runs and upstream inputs.
	GetRun(ctx context.Context, runID uuid.UUID) (artifact.Run, error)
	InsertRun(ctx context.Context, run artifact.Run) error
	ListAssets(ctx context.Context) ([]artifact.Asset, error)
	UpsertAsset(ctx context.Context, asset artifact.Asset) error
	ListCandles(ctx context.Context, from, to time.Time) ([]artifact.Candle, error)
	UpsertCandle(ctx context.Context, candle artifact.Candle) error
	LatestCandleHour(ctx context.Context) (time.Time, bool, error)

	// Hour artifacts.
	InsertArtifacts(ctx context.Context, set *artifact.Set) error
	LoadArtifacts(ctx context.Context, runID uuid.UUID, accountID int64, hourTS time.Time) (*artifact.Set, error)

	// Manifests.
	InsertManifest(ctx context.Context, m canonical.Manifest) error
	GetManifest(ctx context.Context, runID uuid.UUID, accountID int64, hourTS time.Time) (canonical.Manifest, bool, error)
	ListManifestTargets(ctx context.Context, accountID int64, mode artifact.RunMode, from, to time.Time) ([]ManifestKey, error)
	ListAllManifestTargets(ctx context.Context) ([]ManifestKey, error)
	ListRecentManifests(ctx context.Context, limit int) ([]canonical.Manifest, error)
	LatestExecutedHour(ctx context.Context, runID uuid.UUID, accountID int64) (time.Time, bool, error)

	// Reporting reads.
	ListPortfolioStates(ctx context.Context, runID uuid.UUID, accountID int64, from, to time.Time) ([]artifact.PortfolioHourlyState, error)
}

// TxRunner owns transaction demarcation. Every top-level core operation runs
// inside exactly one call: write transactions are serializable so two
// concurrent executions of the same hour cannot both commit, read
// transactions never block unrelated hours.
type TxRunner interface {
	WithWriteTx(ctx context.Context, fn func(Repository) error) error
	WithReadTx(ctx context.Context, fn func(Repository) error) error
}
