package canonical

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"replaycore/internal/artifact"
)

func sampleSet(t *testing.T) *artifact.Set {
	t.Helper()
	set := &artifact.Set{}
	set.Signals = append(set.Signals, sampleSignal(t))
	set.Portfolio = append(set.Portfolio, artifact.PortfolioHourlyState{
		Currency: "USD",
		Cash:     mustDec(t, "10000"),
		Equity:   mustDec(t, "10000"),
	})
	set.RiskStates = append(set.RiskStates, artifact.RiskHourlyState{
		GrossExposurePct: mustDec(t, "0"),
	})
	return set
}

func TestBuildManifestDeterministic(t *testing.T) {
	runID := uuid.MustParse("3f1a9f9e-8f3c-4af0-9c1a-70c7b5a0d001")
	hour := time.Date(2024, 6, 1, 14, 0, 0, 0, time.UTC)

	a := BuildManifest(runID, 42, hour, sampleSet(t))
	b := BuildManifest(runID, 42, hour, sampleSet(t))

	assert.Equal(t, a.RootHash, b.RootHash)
	assert.Equal(t, a.AuthoritativeRowCount, b.AuthoritativeRowCount)
	assert.Len(t, a.RootHash, 64)
}

func TestBuildManifestCoversEveryTable(t *testing.T) {
	m := BuildManifest(uuid.New(), 42, time.Date(2024, 6, 1, 14, 0, 0, 0, time.UTC), sampleSet(t))

	require.Len(t, m.Tables, len(artifact.TableOrder))
	for i, table := range artifact.TableOrder {
		assert.Equal(t, table, m.Tables[i].Table, "table order inside the manifest is fixed")
	}

	assert.Equal(t, int64(3), m.AuthoritativeRowCount)
	assert.Equal(t, int64(1), m.TableCount(artifact.TableTradeSignal))
	assert.Equal(t, int64(0), m.TableCount(artifact.TableOrderFill))
	assert.Equal(t, int64(-1), m.TableCount("no_such_table"))
}

func TestBuildManifestSensitiveToRowContent(t *testing.T) {
	runID := uuid.MustParse("3f1a9f9e-8f3c-4af0-9c1a-70c7b5a0d001")
	hour := time.Date(2024, 6, 1, 14, 0, 0, 0, time.UTC)

	base := BuildManifest(runID, 42, hour, sampleSet(t))

	tampered := sampleSet(t)
	tampered.Signals[0].Close = mustDec(t, "42000.51")
	changed := BuildManifest(runID, 42, hour, tampered)

	assert.NotEqual(t, base.RootHash, changed.RootHash)
	assert.Equal(t, base.AuthoritativeRowCount, changed.AuthoritativeRowCount,
		"a value change alone must not move row counts")
}

func TestBuildManifestNormalisesHourToUTC(t *testing.T) {
	runID := uuid.New()
	loc := time.FixedZone("CET", 3600)
	m := BuildManifest(runID, 42, time.Date(2024, 6, 1, 15, 0, 0, 0, loc), sampleSet(t))
	assert.Equal(t, time.Date(2024, 6, 1, 14, 0, 0, 0, time.UTC), m.HourTS)
}
