package engine

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
	"replaycore/internal/storage"
)

var testHour = time.Date(2024, 6, 1, 14, 0, 0, 0, time.UTC)

func testParams() Params {
	return Params{
		LookbackHours:  3,
		EntryThreshold: decimal.NewFromFloat(0.005),
		ExitThreshold:  decimal.NewFromFloat(0.005),
		TargetNotional: decimal.NewFromInt(1000),
		SlippageBps:    decimal.NewFromInt(5),
		FeeBps:         decimal.NewFromInt(10),
		MaxExposurePct: decimal.NewFromInt(50),
	}
}

func testRun() artifact.Run {
	return artifact.Run{
		RunID:        uuid.MustParse("6d1f5c7e-2b44-4d2a-8a6e-9f0b3c2d1e00"),
		AccountID:    42,
		Mode:         artifact.ModePaper,
		BaseCurrency: "USD",
		InitialCash:  decimal.NewFromInt(10000),
		CreatedAt:    testHour.Add(-48 * time.Hour),
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

// seedEntryScenario prepares a store where BTC-USD prints three flat closes
// at 100 and then closes the target hour at 110, an unambiguous entry.
func seedEntryScenario(t *testing.T) (*storage.MemoryStore, artifact.Run) {
	t.Helper()
	store := storage.NewMemoryStore()
	run := testRun()

	err := store.WithWriteTx(context.Background(), func(repo storage.Repository) error {
		if err := repo.InsertRun(context.Background(), run); err != nil {
			return err
		}
		if err := repo.UpsertAsset(context.Background(), artifact.Asset{Symbol: "BTC-USD", Cluster: "L1"}); err != nil {
			return err
		}
		for i := 3; i >= 1; i-- {
			c := flatCandle("BTC-USD", testHour.Add(-time.Duration(i)*time.Hour), 100)
			if err := repo.UpsertCandle(context.Background(), c); err != nil {
				return err
			}
		}
		return repo.UpsertCandle(context.Background(), flatCandle("BTC-USD", testHour, 110))
	})
	require.NoError(t, err)
	return store, run
}

func newTestEngine(store *storage.MemoryStore) *Engine {
	return New(store, testParams(), zerolog.Nop())
}

func TestExecuteHourEntry(t *testing.T) {
	store, run := seedEntryScenario(t)
	eng := newTestEngine(store)

	result, err := eng.ExecuteHour(context.Background(), run.RunID, run.AccountID, testHour)
	require.NoError(t, err)

	assert.Equal(t, run.RunID, result.RunID)
	assert.Len(t, result.RootHash, 64)
	assert.Equal(t, int64(1), result.Counts[artifact.TableTradeSignal])
	assert.Equal(t, int64(1), result.Counts[artifact.TableOrderRequest])
	assert.Equal(t, int64(1), result.Counts[artifact.TableOrderFill])
	assert.Equal(t, int64(1), result.Counts[artifact.TablePositionLot])
	assert.Equal(t, int64(2), result.Counts[artifact.TableCashLedgerRow], "buy posts notional and fee")
	assert.Equal(t, int64(0), result.Counts[artifact.TableExecutedTrade])
	assert.Equal(t, int64(1), result.Counts[artifact.TablePortfolioState])
	assert.Equal(t, int64(1), result.Counts[artifact.TableClusterExposure])
	assert.Equal(t, int64(1), result.Counts[artifact.TableRiskState])

	var total int64
	for _, n := range result.Counts {
		total += n
	}
	assert.Equal(t, total, result.TotalRows)

	err = store.WithReadTx(context.Background(), func(repo storage.Repository) error {
		set, err := repo.LoadArtifacts(context.Background(), run.RunID, run.AccountID, testHour)
		require.NoError(t, err)

		require.Len(t, set.Signals, 1)
		assert.Equal(t, artifact.SignalEntryLong, set.Signals[0].Kind)
		assert.Equal(t, "0.10000000", set.Signals[0].Momentum.StringFixed(8))

		require.Len(t, set.Fills, 1)
		assert.Equal(t, artifact.SideBuy, set.Fills[0].Side)
		assert.Equal(t, "110.05500000", set.Fills[0].Price.StringFixed(8), "fill price carries slippage")

		require.Len(t, set.Portfolio, 1)
		p := set.Portfolio[0]
		assert.True(t, p.Cash.LessThan(run.InitialCash), "cash must drop by notional plus fee")
		assert.True(t, p.PositionValue.IsPositive())
		return nil
	})
	require.NoError(t, err)
}

func TestExecuteHourIsDeterministic(t *testing.T) {
	storeA, run := seedEntryScenario(t)
	storeB, _ := seedEntryScenario(t)

	resultA, err := newTestEngine(storeA).ExecuteHour(context.Background(), run.RunID, run.AccountID, testHour)
	require.NoError(t, err)
	resultB, err := newTestEngine(storeB).ExecuteHour(context.Background(), run.RunID, run.AccountID, testHour)
	require.NoError(t, err)

	assert.Equal(t, resultA.RootHash, resultB.RootHash)
	assert.Equal(t, resultA.TotalRows, resultB.TotalRows)
}

func TestExecuteHourRejectsDoubleExecution(t *testing.T) {
	store, run := seedEntryScenario(t)
	eng := newTestEngine(store)

	first, err := eng.ExecuteHour(context.Background(), run.RunID, run.AccountID, testHour)
	require.NoError(t, err)

	_, err = eng.ExecuteHour(context.Background(), run.RunID, run.AccountID, testHour)
	require.ErrorIs(t, err, ErrHourAlreadyExecuted)

	// The first execution's artifacts stay untouched.
	err = store.WithReadTx(context.Background(), func(repo storage.Repository) error {
		m, found, err := repo.GetManifest(context.Background(), run.RunID, run.AccountID, testHour)
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, first.RootHash, m.RootHash)
		return nil
	})
	require.NoError(t, err)
}

func TestExecuteHourRejectsMisalignedHour(t *testing.T) {
	store, run := seedEntryScenario(t)
	_, err := newTestEngine(store).ExecuteHour(context.Background(), run.RunID, run.AccountID, testHour.Add(30*time.Minute))
	assert.ErrorIs(t, err, ErrHourNotAligned)
}

func TestExecuteHourRejectsForeignAccount(t *testing.T) {
	store, run := seedEntryScenario(t)
	_, err := newTestEngine(store).ExecuteHour(context.Background(), run.RunID, 999, testHour)
	assert.ErrorIs(t, err, ErrAccountMismatch)
}

func TestExecuteHourUnknownRun(t *testing.T) {
	store, _ := seedEntryScenario(t)
	_, err := newTestEngine(store).ExecuteHour(context.Background(), uuid.New(), 42, testHour)
	assert.ErrorIs(t, err, storage.ErrRunNotFound)
}

func TestExitConsumesLotsFIFO(t *testing.T) {
	store, run := seedEntryScenario(t)
	eng := newTestEngine(store)

	_, err := eng.ExecuteHour(context.Background(), run.RunID, run.AccountID, testHour)
	require.NoError(t, err)

	// Next hour collapses: SMA over (100, 100, 110) is well above a 90 close.
	nextHour := testHour.Add(time.Hour)
	err = store.WithWriteTx(context.Background(), func(repo storage.Repository) error {
		return repo.UpsertCandle(context.Background(), flatCandle("BTC-USD", nextHour, 90))
	})
	require.NoError(t, err)

	_, err = eng.ExecuteHour(context.Background(), run.RunID, run.AccountID, nextHour)
	require.NoError(t, err)

	err = store.WithReadTx(context.Background(), func(repo storage.Repository) error {
		set, err := repo.LoadArtifacts(context.Background(), run.RunID, run.AccountID, nextHour)
		require.NoError(t, err)

		require.Len(t, set.Signals, 1)
		assert.Equal(t, artifact.SignalExitLong, set.Signals[0].Kind)

		require.Len(t, set.Trades, 1)
		trade := set.Trades[0]
		assert.True(t, trade.RealizedPnl.IsNegative(), "selling at 90 what was bought near 110 loses money")
		assert.True(t, trade.RealizedPnl.Equal(trade.Proceeds.Sub(trade.CostBasis).Sub(trade.Fee)))

		assert.Empty(t, set.Lots, "a full exit leaves no open lots in the snapshot")

		require.Len(t, set.Portfolio, 1)
		assert.Equal(t, "0.00000000", set.Portfolio[0].PositionValue.StringFixed(8))
		return nil
	})
	require.NoError(t, err)
}

func TestLotSnapshotCarriesForward(t *testing.T) {
	store, run := seedEntryScenario(t)
	eng := newTestEngine(store)

	_, err := eng.ExecuteHour(context.Background(), run.RunID, run.AccountID, testHour)
	require.NoError(t, err)

	// A quiet next hour: price holds near the entry, no signal either way.
	nextHour := testHour.Add(time.Hour)
	err = store.WithWriteTx(context.Background(), func(repo storage.Repository) error {
		return repo.UpsertCandle(context.Background(), flatCandle("BTC-USD", nextHour, 103))
	})
	require.NoError(t, err)

	_, err = eng.ExecuteHour(context.Background(), run.RunID, run.AccountID, nextHour)
	require.NoError(t, err)

	err = store.WithReadTx(context.Background(), func(repo storage.Repository) error {
		prev, err := repo.LoadArtifacts(context.Background(), run.RunID, run.AccountID, testHour)
		require.NoError(t, err)
		cur, err := repo.LoadArtifacts(context.Background(), run.RunID, run.AccountID, nextHour)
		require.NoError(t, err)

		require.Len(t, prev.Lots, 1)
		require.Len(t, cur.Lots, 1)
		assert.Equal(t, prev.Lots[0].Remaining, cur.Lots[0].Remaining)
		assert.Equal(t, prev.Lots[0].CostBasis, cur.Lots[0].CostBasis)
		assert.Equal(t, prev.Lots[0].OpenedHour, cur.Lots[0].OpenedHour)
		assert.Empty(t, cur.Signals)
		return nil
	})
	require.NoError(t, err)
}

func TestInsufficientCashRaisesRiskEvent(t *testing.T) {
	store := storage.NewMemoryStore()
	run := testRun()
	run.InitialCash = decimal.NewFromInt(10) // cannot afford a 1000-notional entry

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

	result, err := newTestEngine(store).ExecuteHour(context.Background(), run.RunID, run.AccountID, testHour)
	require.NoError(t, err)

	assert.Equal(t, int64(1), result.Counts[artifact.TableTradeSignal])
	assert.Equal(t, int64(0), result.Counts[artifact.TableOrderRequest], "throttled entry places no order")
	assert.Equal(t, int64(1), result.Counts[artifact.TableRiskEvent])

	err = store.WithReadTx(context.Background(), func(repo storage.Repository) error {
		set, err := repo.LoadArtifacts(context.Background(), run.RunID, run.AccountID, testHour)
		require.NoError(t, err)

		require.Len(t, set.RiskEvents, 1)
		assert.Equal(t, artifact.RiskInsufficientCash, set.RiskEvents[0].Code)
		assert.Equal(t, artifact.RiskSeverityWarning, set.RiskEvents[0].Severity)

		require.Len(t, set.RiskStates, 1)
		assert.True(t, set.RiskStates[0].Throttled)
		assert.Equal(t, int64(1), set.RiskStates[0].RiskEventCount)
		return nil
	})
	require.NoError(t, err)
}

func TestExposureBreachBlocksRemainingEntries(t *testing.T) {
	store := storage.NewMemoryStore()
	run := testRun()
	run.InitialCash = decimal.NewFromInt(2400)

	nextHour := testHour.Add(time.Hour)
	err := store.WithWriteTx(context.Background(), func(repo storage.Repository) error {
		if err := repo.InsertRun(context.Background(), run); err != nil {
			return err
		}
		for _, symbol := range []string{"AAA-USD", "BBB-USD", "CCC-USD"} {
			if err := repo.UpsertAsset(context.Background(), artifact.Asset{Symbol: symbol, Cluster: "L1"}); err != nil {
				return err
			}
		}
		// BBB enters at the first hour, then collapses to an exit signal.
		for i := 3; i >= 1; i-- {
			if err := repo.UpsertCandle(context.Background(), flatCandle("BBB-USD", testHour.Add(-time.Duration(i)*time.Hour), 100)); err != nil {
				return err
			}
		}
		if err := repo.UpsertCandle(context.Background(), flatCandle("BBB-USD", testHour, 110)); err != nil {
			return err
		}
		if err := repo.UpsertCandle(context.Background(), flatCandle("BBB-USD", nextHour, 100)); err != nil {
			return err
		}
		// AAA and CCC only reach full lookback at the second hour, where both
		// print entry signals.
		for _, symbol := range []string{"AAA-USD", "CCC-USD"} {
			for i := 2; i >= 0; i-- {
				if err := repo.UpsertCandle(context.Background(), flatCandle(symbol, testHour.Add(-time.Duration(i)*time.Hour), 100)); err != nil {
					return err
				}
			}
			if err := repo.UpsertCandle(context.Background(), flatCandle(symbol, nextHour, 110)); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	eng := newTestEngine(store)
	_, err = eng.ExecuteHour(context.Background(), run.RunID, run.AccountID, testHour)
	require.NoError(t, err)
	_, err = eng.ExecuteHour(context.Background(), run.RunID, run.AccountID, nextHour)
	require.NoError(t, err)

	err = store.WithReadTx(context.Background(), func(repo storage.Repository) error {
		set, err := repo.LoadArtifacts(context.Background(), run.RunID, run.AccountID, nextHour)
		require.NoError(t, err)

		require.Len(t, set.Signals, 3, "AAA entry, BBB exit, CCC entry")

		// AAA breaches the exposure limit. The BBB exit then frees enough
		// room for CCC, but the breach has closed the entry window, so only
		// the sell is placed.
		require.Len(t, set.RiskEvents, 1)
		assert.Equal(t, artifact.RiskExposureBreach, set.RiskEvents[0].Code)
		assert.Equal(t, artifact.RiskSeverityCritical, set.RiskEvents[0].Severity)
		assert.Equal(t, "AAA-USD", set.RiskEvents[0].Symbol)

		require.Len(t, set.Orders, 1)
		assert.Equal(t, artifact.SideSell, set.Orders[0].Side)
		assert.Equal(t, "BBB-USD", set.Orders[0].Symbol)
		require.Len(t, set.Trades, 1)

		assert.Empty(t, set.Lots, "no entries survived the hour")
		require.Len(t, set.RiskStates, 1)
		assert.True(t, set.RiskStates[0].Throttled)
		return nil
	})
	require.NoError(t, err)
}

func TestValidateHour(t *testing.T) {
	assert.NoError(t, ValidateHour(testHour))
	assert.ErrorIs(t, ValidateHour(testHour.Add(time.Minute)), ErrHourNotAligned)
	assert.ErrorIs(t, ValidateHour(testHour.Add(time.Second)), ErrHourNotAligned)

	// An offset timestamp naming an exact UTC hour boundary is acceptable.
	cet := time.FixedZone("CET", 3600)
	assert.NoError(t, ValidateHour(time.Date(2024, 6, 1, 15, 0, 0, 0, cet)))
}
