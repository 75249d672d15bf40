package cli

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// naiveLayouts are timestamp shapes with no offset information. They are
// detected only so their rejection can name the actual problem instead of a
// generic parse failure.
var naiveLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
}

func parseHour(flag, value string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		for _, layout := range naiveLayouts {
			if _, naiveErr := time.Parse(layout, value); naiveErr == nil {
				return time.Time{}, fmt.Errorf("invalid %s value %q: timestamp has no UTC offset; use RFC3339 with an explicit offset such as 2024-06-01T14:00:00Z", flag, value)
			}
		}
		return time.Time{}, fmt.Errorf("invalid %s value %q: expected RFC3339 with explicit offset", flag, value)
	}

	t = t.UTC()
	if !t.Truncate(time.Hour).Equal(t) {
		return time.Time{}, fmt.Errorf("invalid %s value %q: must be aligned to an exact hour boundary", flag, value)
	}
	return t, nil
}

func parseRunID(flag, value string) (uuid.UUID, error) {
	if value == "" {
		return uuid.Nil, fmt.Errorf("%s must be provided", flag)
	}
	id, err := uuid.Parse(value)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid %s value %q: expected a UUID", flag, value)
	}
	return id, nil
}
