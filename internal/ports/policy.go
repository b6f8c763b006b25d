package ports

import (
	"context"
	"time"

	"marginBacktester/internal/domain"
)

// AuxView exposes read-only bars of auxiliary timeframes.
type AuxView interface {
	// Closed returns the bars of tf for symbol whose close time is at or
	// before at, oldest first.
	Closed(tf domain.Timeframe, symbol string, at time.Time) []*domain.Kline
}

// BarEvent is what the simulation loop hands to every policy call.
// Slices are snapshots; policies must not append to them.
type BarEvent struct {
	Symbol           string
	Timeframe        domain.Timeframe
	Time             time.Time
	Bar              *domain.Kline
	History          []*domain.Kline // main timeframe bars of Symbol up to and including Bar
	OpenTrades       []*domain.Trade
	ClosedTrades     []*domain.Trade
	AvailableCapital float64
	Aux              AuxView
}

// AuxBars returns the closed bars of an auxiliary timeframe for the event's symbol.
func (e *BarEvent) AuxBars(tf domain.Timeframe) []*domain.Kline {
	if e.Aux == nil || e.Bar == nil {
		return nil
	}
	at := e.Bar.CloseTime
	if at.IsZero() {
		at = e.Bar.OpenTime
	}
	return e.Aux.Closed(tf, e.Symbol, at)
}

// EntryPolicy decides whether to open a trade on the current bar.
// A nil spec with a nil error means no entry.
type EntryPolicy interface {
	Entry(ctx context.Context, ev *BarEvent) (*domain.EntrySpec, error)
}

// ExitPolicy is the strategy-specific exit condition for an open trade.
type ExitPolicy interface {
	ShouldExit(ctx context.Context, trade *domain.Trade, ev *BarEvent) bool
}

// TrailingStopPolicy may move a trade's stop loss or take profit in place.
type TrailingStopPolicy interface {
	Adjust(ctx context.Context, trade *domain.Trade, ev *BarEvent)
}

// EntryFunc adapts a function to EntryPolicy.
type EntryFunc func(ctx context.Context, ev *BarEvent) (*domain.EntrySpec, error)

func (f EntryFunc) Entry(ctx context.Context, ev *BarEvent) (*domain.EntrySpec, error) {
	return f(ctx, ev)
}

// ExitFunc adapts a function to ExitPolicy.
type ExitFunc func(ctx context.Context, trade *domain.Trade, ev *BarEvent) bool

func (f ExitFunc) ShouldExit(ctx context.Context, trade *domain.Trade, ev *BarEvent) bool {
	return f(ctx, trade, ev)
}

// TrailingStopFunc adapts a function to TrailingStopPolicy.
type TrailingStopFunc func(ctx context.Context, trade *domain.Trade, ev *BarEvent)

func (f TrailingStopFunc) Adjust(ctx context.Context, trade *domain.Trade, ev *BarEvent) {
	f(ctx, trade, ev)
}
