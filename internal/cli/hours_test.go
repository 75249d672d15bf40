package cli

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseHourAccepted(t *testing.T) {
	cases := map[string]time.Time{
		"2024-06-01T14:00:00Z":      time.Date(2024, 6, 1, 14, 0, 0, 0, time.UTC),
		"2024-06-01T16:00:00+02:00": time.Date(2024, 6, 1, 14, 0, 0, 0, time.UTC),
		"2024-06-01T09:00:00-05:00": time.Date(2024, 6, 1, 14, 0, 0, 0, time.UTC),
	}
	for input, want := range cases {
		got, err := parseHour("--hour", input)
		require.NoError(t, err, input)
		assert.True(t, got.Equal(want), "%s should normalise to %s, got %s", input, want, got)
		assert.Equal(t, time.UTC, got.Location())
	}
}

func TestParseHourRejectsNaiveTimestamp(t *testing.T) {
	for _, input := range []string{
		"2024-06-01T14:00:00",
		"2024-06-01 14:00:00",
		"2024-06-01T14:00",
	} {
		_, err := parseHour("--hour", input)
		require.Error(t, err, input)
		assert.Contains(t, err.Error(), "no UTC offset", input)
	}
}

func TestParseHourRejectsMisaligned(t *testing.T) {
	for _, input := range []string{
		"2024-06-01T14:30:00Z",
		"2024-06-01T14:00:01Z",
		"2024-06-01T16:30:00+02:00",
	} {
		_, err := parseHour("--hour", input)
		require.Error(t, err, input)
		assert.Contains(t, err.Error(), "hour boundary", input)
	}
}

func TestParseHourRejectsGarbage(t *testing.T) {
	_, err := parseHour("--hour", "not-a-time")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RFC3339")
}

func TestParseTarget(t *testing.T) {
	target, err := parseTarget("6d1f5c7e-2b44-4d2a-8a6e-9f0b3c2d1e00/42/2024-06-01T14:00:00Z")
	require.NoError(t, err)
	assert.Equal(t, int64(42), target.AccountID)
	assert.Equal(t, "6d1f5c7e-2b44-4d2a-8a6e-9f0b3c2d1e00", target.RunID.String())
	assert.True(t, target.HourTS.Equal(time.Date(2024, 6, 1, 14, 0, 0, 0, time.UTC)))

	for _, input := range []string{
		"",
		"only/two",
		"not-a-uuid/42/2024-06-01T14:00:00Z",
		"6d1f5c7e-2b44-4d2a-8a6e-9f0b3c2d1e00/x/2024-06-01T14:00:00Z",
		"6d1f5c7e-2b44-4d2a-8a6e-9f0b3c2d1e00/42/2024-06-01T14:00:00",
	} {
		_, err := parseTarget(input)
		assert.Error(t, err, input)
	}
}

func TestParseRunID(t *testing.T) {
	_, err := parseRunID("--run", "")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "--run"))

	_, err = parseRunID("--run", "nope")
	require.Error(t, err)
}
