package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func newTestTrade(t *testing.T, dir Direction, leverage float64) *Trade {
	t.Helper()
	spec := EntrySpec{Direction: dir, EntryPrice: 100, TakeProfit: 110, StopLoss: 95, CapitalToRisk: 1000}
	if dir == Short {
		spec.TakeProfit, spec.StopLoss = 90, 105
	}
	trade, err := NewTrade(TradeParams{
		Symbol:    "BTCUSDT",
		EntryTime: t0,
		Spec:      spec,
		Leverage:  leverage,
		SpreadBP:  1,
		FeeBP:     5,
	})
	require.NoError(t, err)
	return trade
}

func TestNewTrade_DerivedEconomics(t *testing.T) {
	trade := newTestTrade(t, Long, 10)

	assert.NotEqual(t, "00000000-0000-0000-0000-000000000000", trade.ID.String())
	assert.InDelta(t, 10_000, trade.Notional, 1e-9)
	assert.InDelta(t, 1000, trade.Margin, 1e-9)
	assert.InDelta(t, 5, trade.OrderFee, 1e-9)
	assert.InDelta(t, 1005, trade.CapitalCommitted, 1e-9)

	assert.InDelta(t, 100.01, trade.EntryPrice, 1e-9)
	assert.InDelta(t, 110*0.9999, trade.TakeProfit, 1e-9)
	assert.InDelta(t, 95*1.0001, trade.StopLoss, 1e-9)
	assert.InDelta(t, 100.01*0.9, trade.LiquidationPrice, 1e-9)

	assert.Greater(t, trade.BreakEvenPrice, trade.EntryPrice)
	assert.Greater(t, trade.PotentialProfitUSD, 0.0)
	assert.Greater(t, trade.PotentialLossUSD, 0.0)
	assert.InDelta(t, trade.PotentialProfitUSD/10, trade.PotentialProfitPercent, 1e-9)
	assert.True(t, trade.IsOpen())
}

func TestNewTrade_ShortLevels(t *testing.T) {
	trade := newTestTrade(t, Short, 10)

	assert.InDelta(t, 99.99, trade.EntryPrice, 1e-9)
	assert.InDelta(t, 90*1.0001, trade.TakeProfit, 1e-9)
	assert.InDelta(t, 105*0.9999, trade.StopLoss, 1e-9)
	assert.Greater(t, trade.LiquidationPrice, trade.EntryPrice)
	assert.Less(t, trade.BreakEvenPrice, trade.EntryPrice)
}

func TestNewTrade_Rejects(t *testing.T) {
	base := TradeParams{
		Symbol:    "ETHUSDT",
		EntryTime: t0,
		Spec:      EntrySpec{Direction: Long, EntryPrice: 100, TakeProfit: 110, StopLoss: 95, CapitalToRisk: 100},
		Leverage:  10,
	}

	tests := []struct {
		name   string
		mutate func(p *TradeParams)
		is     error
	}{
		{name: "unknown direction", mutate: func(p *TradeParams) { p.Spec.Direction = "flat" }, is: ErrInvalidDirection},
		{name: "missing stop", mutate: func(p *TradeParams) { p.Spec.StopLoss = 0 }, is: ErrMissingField},
		{name: "missing target", mutate: func(p *TradeParams) { p.Spec.TakeProfit = 0 }, is: ErrMissingField},
		{name: "missing capital", mutate: func(p *TradeParams) { p.Spec.CapitalToRisk = 0 }, is: ErrMissingField},
		{name: "missing symbol", mutate: func(p *TradeParams) { p.Symbol = "" }, is: ErrMissingField},
		{name: "zero leverage", mutate: func(p *TradeParams) { p.Leverage = 0 }, is: ErrInvalidLeverage},
		{name: "stop above entry", mutate: func(p *TradeParams) { p.Spec.StopLoss = 101 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := base
			tt.mutate(&p)
			_, err := NewTrade(p)
			require.Error(t, err)
			if tt.is != nil {
				assert.ErrorIs(t, err, tt.is)
			}
		})
	}
}

func TestTrade_MarkIsIdempotent(t *testing.T) {
	once := newTestTrade(t, Long, 10)
	twice := newTestTrade(t, Long, 10)

	for _, p := range []float64{101, 98, 103.5} {
		require.NoError(t, once.Mark(p))
		require.NoError(t, twice.Mark(p))
		require.NoError(t, twice.Mark(p))
	}

	assert.Equal(t, once.UnrealizedPnL, twice.UnrealizedPnL)
	assert.Equal(t, once.MaxProfit, twice.MaxProfit)
	assert.Equal(t, once.MaxDrawdown, twice.MaxDrawdown)
}

func TestTrade_MarkTracksExtrema(t *testing.T) {
	trade := newTestTrade(t, Long, 10)

	require.NoError(t, trade.Mark(102))
	peak := trade.UnrealizedPnL
	require.NoError(t, trade.Mark(97))
	trough := trade.UnrealizedPnL
	require.NoError(t, trade.Mark(100))

	assert.Equal(t, peak, trade.MaxProfit)
	assert.Equal(t, trough, trade.MaxDrawdown)
	assert.Less(t, trough, 0.0)
	assert.Equal(t, 100.0, trade.LastPrice)
}

func TestTrade_SettleAtBreakEvenNetsZero(t *testing.T) {
	for _, dir := range []Direction{Long, Short} {
		trade := newTestTrade(t, dir, 20)
		_, err := trade.Settle(t0.Add(time.Hour), trade.BreakEvenPrice, CloseReasonExitCondition)
		require.NoError(t, err)
		assert.InDelta(t, 0, trade.PnL, 1e-6, "direction %s", dir)
	}
}

func TestTrade_SettleOnce(t *testing.T) {
	trade := newTestTrade(t, Long, 10)
	require.NoError(t, trade.Mark(105))

	capped, err := trade.Settle(t0.Add(2*time.Hour), 105, CloseReasonExitCondition)
	require.NoError(t, err)
	assert.False(t, capped)
	assert.False(t, trade.IsOpen())
	assert.Equal(t, 0.0, trade.UnrealizedPnL)
	assert.InDelta(t, 105*0.9999, trade.ClosePrice, 1e-9)
	assert.Equal(t, 2*time.Hour, trade.Duration())

	pnl := trade.PnL
	_, err = trade.Settle(t0.Add(3*time.Hour), 120, CloseReasonTakeProfit)
	assert.ErrorIs(t, err, ErrTradeClosed)
	assert.Equal(t, pnl, trade.PnL)
	assert.Equal(t, CloseReasonExitCondition, trade.CloseReason)

	assert.ErrorIs(t, trade.Mark(101), ErrTradeClosed)
}

func TestTrade_SettleCapsLossAtCommittedCapital(t *testing.T) {
	trade := newTestTrade(t, Long, 100)

	capped, err := trade.Settle(t0.Add(time.Hour), 50, CloseReasonLiquidation)
	require.NoError(t, err)
	assert.True(t, capped)
	assert.Equal(t, -trade.CapitalCommitted, trade.PnL)
}

func TestTrade_TightenStop(t *testing.T) {
	long := newTestTrade(t, Long, 10)
	sl := long.StopLoss
	assert.False(t, long.TightenStop(sl-1))
	assert.Equal(t, sl, long.StopLoss)
	assert.True(t, long.TightenStop(sl+1))
	assert.Equal(t, sl+1, long.StopLoss)

	short := newTestTrade(t, Short, 10)
	sl = short.StopLoss
	assert.False(t, short.TightenStop(sl+1))
	assert.True(t, short.TightenStop(sl-1))
	assert.Equal(t, sl-1, short.StopLoss)
}

func TestParseDirection(t *testing.T) {
	d, err := ParseDirection("short")
	require.NoError(t, err)
	assert.Equal(t, Short, d)

	_, err = ParseDirection("LONG")
	assert.ErrorIs(t, err, ErrInvalidDirection)
}
