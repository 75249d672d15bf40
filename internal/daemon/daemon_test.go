package daemon

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"replaycore/internal/alerting"
	"replaycore/internal/artifact"
	"replaycore/internal/config"
	"replaycore/internal/engine"
	"replaycore/internal/replay"
	"replaycore/internal/storage"
)

var testHour = time.Date(2024, 6, 1, 14, 0, 0, 0, time.UTC)

type fakeLocker struct {
	acquired bool
	unlocked int
}

func (f *fakeLocker) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	if !f.acquired {
		return nil, false, nil
	}
	return func() { f.unlocked++ }, true, nil
}

type fakeNotifier struct {
	mu    sync.Mutex
	notes []alerting.Notification
}

func (f *fakeNotifier) Notify(ctx context.Context, note alerting.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notes = append(f.notes, note)
	return nil
}

type fakeSource struct {
	candles []artifact.Candle
	calls   int
}

func (f *fakeSource) FetchCandles(ctx context.Context, symbol string, from, to time.Time) ([]artifact.Candle, error) {
	f.calls++
	return f.candles, nil
}

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

func testDaemonConfig() config.DaemonConfig {
	return config.DaemonConfig{
		AdvisoryLockKey: 1,
		CatchupHours:    6,
		VerifyDepth:     1,
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

func seedStore(t *testing.T) (*storage.MemoryStore, artifact.Run) {
	t.Helper()
	store := storage.NewMemoryStore()
	run := artifact.Run{
		RunID:        uuid.MustParse("6d1f5c7e-2b44-4d2a-8a6e-9f0b3c2d1e00"),
		AccountID:    42,
		Mode:         artifact.ModePaper,
		BaseCurrency: "USD",
		InitialCash:  decimal.NewFromInt(10000),
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
	return store, run
}

func newTestDaemon(store *storage.MemoryStore, run artifact.Run, locker Locker, notifier alerting.Notifier) *Daemon {
	return New(
		run.RunID,
		run.AccountID,
		store,
		locker,
		engine.New(store, testParams(), zerolog.Nop()),
		replay.NewVerifier(store, testParams(), zerolog.Nop()),
		nil,
		notifier,
		testDaemonConfig(),
		zerolog.Nop(),
	)
}

func TestCycleExecutesClosedHour(t *testing.T) {
	store, run := seedStore(t)
	locker := &fakeLocker{acquired: true}
	d := newTestDaemon(store, run, locker, nil)

	require.NoError(t, d.Cycle(context.Background(), testHour))

	stats := d.Stats()
	assert.Equal(t, int64(1), stats.Cycles)
	assert.Equal(t, int64(1), stats.ExecutedHours)
	assert.Equal(t, 1, locker.unlocked, "the advisory lock is released after the cycle")

	err := store.WithReadTx(context.Background(), func(repo storage.Repository) error {
		_, found, err := repo.GetManifest(context.Background(), run.RunID, run.AccountID, testHour)
		require.NoError(t, err)
		assert.True(t, found)
		return nil
	})
	require.NoError(t, err)
}

func TestCycleSkipsWhenLockHeld(t *testing.T) {
	store, run := seedStore(t)
	d := newTestDaemon(store, run, &fakeLocker{acquired: false}, nil)

	require.NoError(t, d.Cycle(context.Background(), testHour))

	stats := d.Stats()
	assert.Equal(t, int64(1), stats.SkippedCycles)
	assert.Zero(t, stats.Cycles)
	assert.Zero(t, stats.ExecutedHours)
}

func TestCycleCatchesUpMissedHours(t *testing.T) {
	store, run := seedStore(t)
	d := newTestDaemon(store, run, &fakeLocker{acquired: true}, nil)

	// First cycle executes the seeded hour.
	require.NoError(t, d.Cycle(context.Background(), testHour))

	// Two hours pass without cycles; the next cycle must execute both.
	err := store.WithWriteTx(context.Background(), func(repo storage.Repository) error {
		if err := repo.UpsertCandle(context.Background(), flatCandle("BTC-USD", testHour.Add(time.Hour), 110)); err != nil {
			return err
		}
		return repo.UpsertCandle(context.Background(), flatCandle("BTC-USD", testHour.Add(2*time.Hour), 111))
	})
	require.NoError(t, err)

	require.NoError(t, d.Cycle(context.Background(), testHour.Add(2*time.Hour)))

	assert.Equal(t, int64(3), d.Stats().ExecutedHours)
	err = store.WithReadTx(context.Background(), func(repo storage.Repository) error {
		for i := 0; i <= 2; i++ {
			_, found, err := repo.GetManifest(context.Background(), run.RunID, run.AccountID, testHour.Add(time.Duration(i)*time.Hour))
			require.NoError(t, err)
			assert.True(t, found, "hour +%d should be executed", i)
		}
		return nil
	})
	require.NoError(t, err)
}

func TestCycleAlertsOnParityFailure(t *testing.T) {
	store, run := seedStore(t)
	notifier := &fakeNotifier{}
	d := newTestDaemon(store, run, &fakeLocker{acquired: true}, notifier)

	require.NoError(t, d.Cycle(context.Background(), testHour))

	// The executed hour's input drifts underneath the persisted manifest.
	err := store.WithWriteTx(context.Background(), func(repo storage.Repository) error {
		return repo.UpsertCandle(context.Background(), flatCandle("BTC-USD", testHour, 111))
	})
	require.NoError(t, err)

	require.NoError(t, d.Cycle(context.Background(), testHour.Add(time.Hour)))

	stats := d.Stats()
	assert.Equal(t, int64(1), stats.ParityFailures)
	require.Len(t, notifier.notes, 1)
	note := notifier.notes[0]
	assert.Equal(t, run.RunID, note.RunID)
	assert.True(t, note.HourTS.Equal(testHour))
	assert.Contains(t, note.FailureCodes, replay.CodeRootHashMismatch)
	assert.NotEqual(t, note.ManifestRootHash, note.RecomputedRootHash)
}

func TestCycleSyncsCandles(t *testing.T) {
	store, run := seedStore(t)
	source := &fakeSource{candles: []artifact.Candle{flatCandle("BTC-USD", testHour.Add(time.Hour), 112)}}

	d := New(
		run.RunID,
		run.AccountID,
		store,
		&fakeLocker{acquired: true},
		engine.New(store, testParams(), zerolog.Nop()),
		replay.NewVerifier(store, testParams(), zerolog.Nop()),
		source,
		nil,
		testDaemonConfig(),
		zerolog.Nop(),
	)

	require.NoError(t, d.Cycle(context.Background(), testHour.Add(time.Hour)))

	assert.Equal(t, 1, source.calls)
	assert.Equal(t, int64(1), d.Stats().SyncedCandles)
	err := store.WithReadTx(context.Background(), func(repo storage.Repository) error {
		latest, found, err := repo.LatestCandleHour(context.Background())
		require.NoError(t, err)
		require.True(t, found)
		assert.True(t, latest.Equal(testHour.Add(time.Hour)))
		return nil
	})
	require.NoError(t, err)
}
