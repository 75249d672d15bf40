package replay

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"replaycore/internal/artifact"
	"replaycore/internal/engine"
	"replaycore/internal/storage"
)

var testHour = time.Date(2024, 6, 1, 14, 0, 0, 0, time.UTC)

func testParams() engine.Params {
	return engine.Params{
		LookbackHours:  3,
		EntryThreshold: decimal.NewFromFloat(0.005),
		ExitThreshold:  decimal.NewFromFloat(0.005),
		TargetNotional: decimal.NewFromInt(1000),
		SlippageBps:    decimal.NewFromInt(5),
		FeeBps:         decimal.NewFromInt(10),
		MaxExposurePct: decimal.NewFromInt(50),
	}
}

func flatCandle(symbol string, hour time.Time, close int64) artifact.Candle {
	px := decimal.NewFromInt(close)
	return artifact.Candle{
		Symbol: symbol, HourTS: hour,
		Open: px, High: px, Low: px, Close: px,
		Volume: decimal.NewFromInt(100),
	}
}

// seedExecutedHour builds a store with one run whose target hour has been
// executed: three flat closes at 100, then a 110 close triggering an entry.
func seedExecutedHour(t *testing.T) (*storage.MemoryStore, artifact.Run) {
	t.Helper()
	store := storage.NewMemoryStore()
	run := artifact.Run{
		RunID:        uuid.MustParse("6d1f5c7e-2b44-4d2a-8a6e-9f0b3c2d1e00"),
		AccountID:    42,
		Mode:         artifact.ModePaper,
		BaseCurrency: "USD",
		InitialCash:  decimal.NewFromInt(10000),
		CreatedAt:    testHour.Add(-48 * time.Hour),
	}

	err := store.WithWriteTx(context.Background(), func(repo storage.Repository) error {
		if err := repo.InsertRun(context.Background(), run); err != nil {
			return err
		}
		if err := repo.UpsertAsset(context.Background(), artifact.Asset{Symbol: "BTC-USD", Cluster: "L1"}); err != nil {
			return err
		}
		for i := 3; i >= 1; i-- {
			if err := repo.UpsertCandle(context.Background(), flatCandle("BTC-USD", testHour.Add(-time.Duration(i)*time.Hour), 100)); err != nil {
				return err
			}
		}
		return repo.UpsertCandle(context.Background(), flatCandle("BTC-USD", testHour, 110))
	})
	require.NoError(t, err)

	_, err = engine.New(store, testParams(), zerolog.Nop()).ExecuteHour(context.Background(), run.RunID, run.AccountID, testHour)
	require.NoError(t, err)
	return store, run
}

func newTestVerifier(store *storage.MemoryStore) *Verifier {
	return NewVerifier(store, testParams(), zerolog.Nop())
}

func TestManifestParityCleanHour(t *testing.T) {
	store, run := seedExecutedHour(t)

	report, err := newTestVerifier(store).ManifestParity(context.Background(), run.RunID, run.AccountID, testHour)
	require.NoError(t, err)

	assert.True(t, report.ReplayParity)
	assert.Zero(t, report.MismatchCount)
	assert.Empty(t, report.Failures)
	assert.Equal(t, report.ManifestRootHash, report.RecomputedRootHash)
	assert.Equal(t, report.ManifestRootHash, report.ArtifactRootHash)
	assert.Equal(t, report.ManifestAuthoritativeRowCount, report.RecomputedAuthoritativeRowCount)
}

func TestManifestParityDetectsTamperedRow(t *testing.T) {
	store, run := seedExecutedHour(t)

	// Flip one persisted fill price behind the engine's back. Inputs and the
	// stored manifest are untouched, so the only finding is the persisted
	// rows no longer hashing to the manifest root.
	store.Tamper(run.RunID, run.AccountID, testHour, func(set *artifact.Set) {
		set.Fills[0].Price = set.Fills[0].Price.Add(decimal.NewFromFloat(0.5))
	})

	report, err := newTestVerifier(store).ManifestParity(context.Background(), run.RunID, run.AccountID, testHour)
	require.NoError(t, err)

	assert.False(t, report.ReplayParity)
	assert.Equal(t, 1, report.MismatchCount)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, CodeRootHashMismatch, report.Failures[0].Code)
	assert.Equal(t, SeverityCritical, report.Failures[0].Severity)
	assert.NotEqual(t, report.ManifestRootHash, report.ArtifactRootHash)
	assert.Equal(t, report.ManifestRootHash, report.RecomputedRootHash,
		"the derivation still reproduces the manifest; only the stored rows drifted")
}

func TestManifestParityDetectsDeletedRow(t *testing.T) {
	store, run := seedExecutedHour(t)

	store.Tamper(run.RunID, run.AccountID, testHour, func(set *artifact.Set) {
		set.Ledger = set.Ledger[:1]
	})

	report, err := newTestVerifier(store).ManifestParity(context.Background(), run.RunID, run.AccountID, testHour)
	require.NoError(t, err)

	assert.False(t, report.ReplayParity)

	codes := make(map[string]int)
	for _, f := range report.Failures {
		codes[f.Code]++
	}
	assert.Equal(t, 1, codes[CodeRowCountMismatch])
	assert.Equal(t, 1, codes[CodeRootHashMismatch])
}

func TestManifestParityDetectsInputDrift(t *testing.T) {
	store, run := seedExecutedHour(t)

	// Rewrite the executed hour's candle after the fact. Row shape is
	// unchanged, so the only finding is the root hash.
	err := store.WithWriteTx(context.Background(), func(repo storage.Repository) error {
		return repo.UpsertCandle(context.Background(), flatCandle("BTC-USD", testHour, 111))
	})
	require.NoError(t, err)

	report, err := newTestVerifier(store).ManifestParity(context.Background(), run.RunID, run.AccountID, testHour)
	require.NoError(t, err)

	assert.False(t, report.ReplayParity)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, CodeRootHashMismatch, report.Failures[0].Code)
	assert.Equal(t, SeverityCritical, report.Failures[0].Severity)
	assert.NotEqual(t, report.ManifestRootHash, report.RecomputedRootHash)
	assert.Equal(t, 1, report.MismatchCount)
}

func TestManifestParityDetectsRowCountDrift(t *testing.T) {
	store, run := seedExecutedHour(t)

	// Flatten the close so the recomputation produces no signal at all: row
	// counts diverge in several tables in addition to the root hash.
	err := store.WithWriteTx(context.Background(), func(repo storage.Repository) error {
		return repo.UpsertCandle(context.Background(), flatCandle("BTC-USD", testHour, 100))
	})
	require.NoError(t, err)

	report, err := newTestVerifier(store).ManifestParity(context.Background(), run.RunID, run.AccountID, testHour)
	require.NoError(t, err)

	assert.False(t, report.ReplayParity)

	codes := make(map[string]int)
	for _, f := range report.Failures {
		codes[f.Code]++
	}
	assert.Equal(t, 1, codes[CodeRowCountMismatch])
	assert.Equal(t, 1, codes[CodeRootHashMismatch])
	assert.Greater(t, codes[CodeTableCountMismatch], 0)
}

func TestManifestParityMissingTarget(t *testing.T) {
	store, run := seedExecutedHour(t)

	report, err := newTestVerifier(store).ManifestParity(context.Background(), run.RunID, run.AccountID, testHour.Add(time.Hour))
	require.NoError(t, err)

	assert.False(t, report.ReplayParity)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, CodeMissingTarget, report.Failures[0].Code)
	assert.Equal(t, SeverityCritical, report.Failures[0].Severity)
}

func TestReplayHourCleanHour(t *testing.T) {
	store, run := seedExecutedHour(t)

	report, err := newTestVerifier(store).ReplayHour(context.Background(), run.RunID, run.AccountID, testHour)
	require.NoError(t, err)

	assert.True(t, report.OK())
	assert.Zero(t, report.MismatchCount)
	assert.Empty(t, report.Mismatches)
	assert.Empty(t, report.Failures)
}

func TestReplayHourLocalizesTamperedField(t *testing.T) {
	store, run := seedExecutedHour(t)

	store.Tamper(run.RunID, run.AccountID, testHour, func(set *artifact.Set) {
		set.Fills[0].Price = set.Fills[0].Price.Add(decimal.NewFromFloat(0.5))
	})

	report, err := newTestVerifier(store).ReplayHour(context.Background(), run.RunID, run.AccountID, testHour)
	require.NoError(t, err)

	assert.False(t, report.OK())
	assert.Equal(t, 1, report.MismatchCount)
	require.Len(t, report.Mismatches, 1)

	m := report.Mismatches[0]
	assert.Equal(t, artifact.TableOrderFill, m.Table)
	assert.Equal(t, "price", m.Field)
	assert.NotEqual(t, m.Expected, m.Actual)
	assert.Empty(t, report.Failures, "a value tamper is a field mismatch, not a structural failure")
}

func TestReplayHourDetectsDeletedRow(t *testing.T) {
	store, run := seedExecutedHour(t)

	store.Tamper(run.RunID, run.AccountID, testHour, func(set *artifact.Set) {
		set.Ledger = set.Ledger[:1]
	})

	report, err := newTestVerifier(store).ReplayHour(context.Background(), run.RunID, run.AccountID, testHour)
	require.NoError(t, err)

	assert.False(t, report.OK())
	require.Len(t, report.Failures, 1)
	assert.Equal(t, CodeRowUnexpected, report.Failures[0].Code,
		"the recomputation reproduces the deleted ledger row, which the persisted set no longer carries")
}

func TestReplayHourMissingTarget(t *testing.T) {
	store, run := seedExecutedHour(t)

	report, err := newTestVerifier(store).ReplayHour(context.Background(), run.RunID, run.AccountID, testHour.Add(time.Hour))
	require.NoError(t, err)

	assert.False(t, report.OK())
	require.Len(t, report.Failures, 1)
	assert.Equal(t, CodeMissingTarget, report.Failures[0].Code)
}

func TestReplayHourRejectsMisalignedHour(t *testing.T) {
	store, run := seedExecutedHour(t)

	_, err := newTestVerifier(store).ReplayHour(context.Background(), run.RunID, run.AccountID, testHour.Add(15*time.Minute))
	assert.ErrorIs(t, err, engine.ErrHourNotAligned)
}
