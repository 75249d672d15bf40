package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestNextBoundary(t *testing.T) {
	s := New(Options{Interval: time.Hour}, zerolog.Nop())

	now := time.Date(2024, 6, 1, 14, 25, 13, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 6, 1, 15, 0, 0, 0, time.UTC), s.nextBoundary(now))

	// Exactly on a boundary the next tick is a full interval away.
	onBoundary := time.Date(2024, 6, 1, 15, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 6, 1, 16, 0, 0, 0, time.UTC), s.nextBoundary(onBoundary))
}

func TestDefaultInterval(t *testing.T) {
	s := New(Options{}, zerolog.Nop())
	assert.Equal(t, time.Hour, s.opts.Interval)
}

func TestRunStopsOnCancel(t *testing.T) {
	s := New(Options{Interval: time.Hour}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.Run(ctx, func(ctx context.Context, hourTS time.Time) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}
