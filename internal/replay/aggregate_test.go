package replay

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"replaycore/internal/artifact"
	"replaycore/internal/engine"
	"replaycore/internal/storage"
)

// executeHours runs consecutive hours after the seeded one, feeding each a
// mild drifting close so every hour stays executable.
func executeHours(t *testing.T, store *storage.MemoryStore, run artifact.Run, hours []time.Time) {
	t.Helper()
	eng := engine.New(store, testParams(), zerolog.Nop())
	for i, hour := range hours {
		err := store.WithWriteTx(context.Background(), func(repo storage.Repository) error {
			return repo.UpsertCandle(context.Background(), flatCandle("BTC-USD", hour, 110+int64(i)))
		})
		require.NoError(t, err)
		_, err = eng.ExecuteHour(context.Background(), run.RunID, run.AccountID, hour)
		require.NoError(t, err)
	}
}

func TestWindowParitySingleHourMatchesDirectParity(t *testing.T) {
	store, run := seedExecutedHour(t)
	v := newTestVerifier(store)

	direct, err := v.ManifestParity(context.Background(), run.RunID, run.AccountID, testHour)
	require.NoError(t, err)

	window, err := v.WindowParity(context.Background(), run.AccountID, run.Mode, testHour, testHour, 10)
	require.NoError(t, err)

	assert.True(t, window.ReplayParity)
	assert.Equal(t, 1, window.TotalTargets)
	assert.Equal(t, 1, window.PassedTargets)
	assert.Zero(t, window.FailedTargets)
	assert.False(t, window.Truncated)
	require.Len(t, window.Items, 1)
	assert.Equal(t, direct.RecomputedRootHash, window.Items[0].Report.RecomputedRootHash)
}

func TestWindowParityFlagsUnexecutedHours(t *testing.T) {
	store, run := seedExecutedHour(t)

	window, err := newTestVerifier(store).WindowParity(
		context.Background(), run.AccountID, run.Mode, testHour, testHour.Add(2*time.Hour), 10)
	require.NoError(t, err)

	assert.False(t, window.ReplayParity)
	assert.Equal(t, 3, window.TotalTargets)
	assert.Equal(t, 1, window.PassedTargets)
	assert.Equal(t, 2, window.FailedTargets)

	// Unexecuted hours appear as zero-run targets with a missing-target failure.
	for _, item := range window.Items[1:] {
		assert.Equal(t, uuid.Nil, item.Target.RunID)
		require.Len(t, item.Report.Failures, 1)
		assert.Equal(t, CodeMissingTarget, item.Report.Failures[0].Code)
		assert.Equal(t, 1, item.Report.MismatchCount)
	}
}

func TestWindowParityTruncatesDeterministically(t *testing.T) {
	store, run := seedExecutedHour(t)
	executeHours(t, store, run, []time.Time{
		testHour.Add(time.Hour),
		testHour.Add(2 * time.Hour),
		testHour.Add(3 * time.Hour),
	})

	window, err := newTestVerifier(store).WindowParity(
		context.Background(), run.AccountID, run.Mode, testHour, testHour.Add(3*time.Hour), 2)
	require.NoError(t, err)

	assert.True(t, window.Truncated)
	assert.Equal(t, 2, window.TotalTargets)
	require.Len(t, window.Items, 2)
	assert.Equal(t, testHour, window.Items[0].Target.HourTS)
	assert.Equal(t, testHour.Add(time.Hour), window.Items[1].Target.HourTS)

	var truncFailures int
	for _, f := range window.Failures {
		if f.Code == CodeWindowTruncated {
			truncFailures++
			assert.Equal(t, SeverityWarning, f.Severity)
		}
	}
	assert.Equal(t, 1, truncFailures)
}

func TestWindowParityRejectsInvertedWindow(t *testing.T) {
	store, run := seedExecutedHour(t)

	_, err := newTestVerifier(store).WindowParity(
		context.Background(), run.AccountID, run.Mode, testHour.Add(time.Hour), testHour, 10)
	assert.ErrorIs(t, err, ErrWindowInverted)
}

func TestWindowParityFiltersByMode(t *testing.T) {
	store, run := seedExecutedHour(t)

	window, err := newTestVerifier(store).WindowParity(
		context.Background(), run.AccountID, artifact.ModeLive, testHour, testHour, 10)
	require.NoError(t, err)

	// Run is PAPER; a LIVE window over the same hour sees it as unexecuted.
	assert.False(t, window.ReplayParity)
	assert.Equal(t, 1, window.TotalTargets)
	require.Len(t, window.Items, 1)
	assert.Equal(t, uuid.Nil, window.Items[0].Target.RunID)
}

func TestToolParityExplicitTargets(t *testing.T) {
	store, run := seedExecutedHour(t)
	executeHours(t, store, run, []time.Time{testHour.Add(time.Hour)})

	targets := []Target{
		{RunID: run.RunID, AccountID: run.AccountID, HourTS: testHour.Add(time.Hour)},
		{RunID: run.RunID, AccountID: run.AccountID, HourTS: testHour},
	}
	report, err := newTestVerifier(store).ToolParity(context.Background(), targets, 10)
	require.NoError(t, err)

	assert.True(t, report.ReplayParity)
	assert.Equal(t, 2, report.TotalTargets)
	assert.Equal(t, 2, report.PassedTargets)
	require.Len(t, report.Items, 2)
	assert.Equal(t, testHour, report.Items[0].Target.HourTS, "targets are reordered hour ascending")
}

func TestToolParityDiscoversAllTargets(t *testing.T) {
	store, run := seedExecutedHour(t)
	executeHours(t, store, run, []time.Time{testHour.Add(time.Hour)})

	report, err := newTestVerifier(store).ToolParity(context.Background(), nil, 10)
	require.NoError(t, err)

	assert.True(t, report.ReplayParity)
	assert.Equal(t, 2, report.TotalTargets)
	assert.Equal(t, 2, report.PassedTargets)
}
