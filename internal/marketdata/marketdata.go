package marketdata

import (
	"context"
	"time"

	"replaycore/internal/artifact"
)

// CandleSource retrieves hourly candles for one symbol over a closed range.
// The daemon persists them into market_candles; the engine never touches the
// network and reads only the persisted rows.
type CandleSource interface {
	FetchCandles(ctx context.Context, symbol string, from, to time.Time) ([]artifact.Candle, error)
}
