package ports

import (
	"context"
	"time"

	"marginBacktester/internal/domain"
)

// BarProvider supplies historical bars for one symbol and timeframe.
// Implementations must return bars ordered by OpenTime ascending; the
// returned slice is owned by the caller and never mutated by the provider.
type BarProvider interface {
	Bars(ctx context.Context, symbol string, tf domain.Timeframe, start, end time.Time) ([]*domain.Kline, error)
}

// BarSink persists bars fetched from an upstream provider.
type BarSink interface {
	SaveBars(ctx context.Context, symbol string, tf domain.Timeframe, bars []*domain.Kline) error
}
