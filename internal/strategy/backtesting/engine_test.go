package backtesting

import (
	"context"
	"testing"
	"time"

	"marginBacktester/internal/domain"
	"marginBacktester/internal/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hourlyBars(symbol string, start time.Time, closes ...float64) []*domain.Kline {
	bars := make([]*domain.Kline, len(closes))
	for i, c := range closes {
		open := start.Add(time.Duration(i) * time.Hour)
		bars[i] = &domain.Kline{
			Symbol:    symbol,
			Interval:  "1h",
			OpenTime:  open,
			CloseTime: open.Add(time.Hour - time.Millisecond),
			Open:      c, High: c, Low: c, Close: c,
		}
	}
	return bars
}

// enterOnFirstBar opens one trade per symbol on its first bar at the bar close.
func enterOnFirstBar(tp, sl, capital float64, dir domain.Direction) ports.EntryPolicy {
	return ports.EntryFunc(func(ctx context.Context, ev *ports.BarEvent) (*domain.EntrySpec, error) {
		if len(ev.History) != 1 {
			return nil, nil
		}
		return &domain.EntrySpec{
			Direction:     dir,
			EntryPrice:    ev.Bar.Close,
			TakeProfit:    tp,
			StopLoss:      sl,
			CapitalToRisk: capital,
		}, nil
	})
}

func newTestEngine(t *testing.T, leverage float64, p Policies) *Engine {
	t.Helper()
	e, err := NewEngine(Config{
		InitialCapital: 10_000,
		MainTimeframe:  "1h",
		Model:          testModel(leverage),
		Policies:       p,
		Logger:         &mockLogger{},
	})
	require.NoError(t, err)
	return e
}

func singleSeries(symbol string, closes ...float64) domain.MarketData {
	data := make(domain.MarketData)
	data.Add("1h", symbol, hourlyBars(symbol, baseTime, closes...))
	return data
}

func TestEngine_Scenarios(t *testing.T) {
	tests := []struct {
		name       string
		leverage   float64
		sl         float64
		capital    float64
		closes     []float64
		wantReason domain.CloseReason
		wantProfit bool
	}{
		{name: "take profit", leverage: 10, sl: 95, capital: 1000, closes: []float64{100, 111}, wantReason: domain.CloseReasonTakeProfit, wantProfit: true},
		{name: "stop loss", leverage: 10, sl: 95, capital: 1000, closes: []float64{100, 94}, wantReason: domain.CloseReasonStopLoss},
		{name: "liquidation before stop loss", leverage: 100, sl: 99.5, capital: 100, closes: []float64{100, 99}, wantReason: domain.CloseReasonLiquidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEngine(t, tt.leverage, Policies{Entry: enterOnFirstBar(110, tt.sl, tt.capital, domain.Long)})

			result, err := e.Run(context.Background(), singleSeries("BTCUSDT", tt.closes...))
			require.NoError(t, err)
			require.Len(t, result.Trades, 1)

			trade := result.Trades[0]
			assert.Equal(t, tt.wantReason, trade.CloseReason)
			assert.Equal(t, baseTime.Add(time.Hour), trade.CloseTime)
			if tt.wantProfit {
				assert.Greater(t, trade.PnL, 0.0)
			} else {
				assert.Less(t, trade.PnL, 0.0)
			}
			assert.InDelta(t, 10_000+trade.PnL, result.FinalCapital, 1e-9)
			assert.Equal(t, 2, result.Bars)
		})
	}
}

func TestEngine_ForcedCloseAtEnd(t *testing.T) {
	e := newTestEngine(t, 10, Policies{Entry: enterOnFirstBar(110, 95, 1000, domain.Long)})

	result, err := e.Run(context.Background(), singleSeries("BTCUSDT", 100, 101, 102, 103))
	require.NoError(t, err)
	require.Len(t, result.Trades, 1)

	trade := result.Trades[0]
	assert.Equal(t, domain.CloseReasonEndOfBacktest, trade.CloseReason)
	assert.InDelta(t, 103*0.9999, trade.ClosePrice, 1e-9)
	assert.Equal(t, baseTime.Add(3*time.Hour), trade.CloseTime)
	assert.Equal(t, baseTime, result.StartTime)
	assert.Equal(t, baseTime.Add(3*time.Hour), result.EndTime)
	assert.Greater(t, result.Duration, time.Duration(0))
}

func TestEngine_ExitBeforeEntryOnSameBar(t *testing.T) {
	// Each bar requests a trade using all free capital, so a new entry only
	// fits once the previous trade has been closed on that same bar.
	entry := ports.EntryFunc(func(ctx context.Context, ev *ports.BarEvent) (*domain.EntrySpec, error) {
		capital := (ev.AvailableCapital - 10) / 1.01
		if capital <= 0 {
			return nil, nil
		}
		c := ev.Bar.Close
		return &domain.EntrySpec{Direction: domain.Long, EntryPrice: c, TakeProfit: c * 1.5, StopLoss: c * 0.5, CapitalToRisk: capital}, nil
	})
	exit := ports.ExitFunc(func(ctx context.Context, tr *domain.Trade, ev *ports.BarEvent) bool {
		return ev.Time.After(tr.EntryTime)
	})
	e := newTestEngine(t, 1, Policies{Entry: entry, Exit: exit})

	result, err := e.Run(context.Background(), singleSeries("BTCUSDT", 100, 101, 102, 103))
	require.NoError(t, err)
	require.Len(t, result.Trades, 4)
	for i, tr := range result.Trades[:3] {
		assert.Equal(t, domain.CloseReasonExitCondition, tr.CloseReason)
		assert.Equal(t, baseTime.Add(time.Duration(i)*time.Hour), tr.EntryTime)
		assert.Equal(t, baseTime.Add(time.Duration(i+1)*time.Hour), tr.CloseTime)
	}
	assert.Equal(t, domain.CloseReasonEndOfBacktest, result.Trades[3].CloseReason)
	assert.Zero(t, result.RejectedEntries)
}

func TestEngine_InsufficientCapitalContinues(t *testing.T) {
	entry := ports.EntryFunc(func(ctx context.Context, ev *ports.BarEvent) (*domain.EntrySpec, error) {
		c := ev.Bar.Close
		return &domain.EntrySpec{Direction: domain.Long, EntryPrice: c, TakeProfit: c * 2, StopLoss: c / 2, CapitalToRisk: 6000}, nil
	})
	e := newTestEngine(t, 1, Policies{Entry: entry})

	result, err := e.Run(context.Background(), singleSeries("BTCUSDT", 100, 100, 100))
	require.NoError(t, err)
	assert.Len(t, result.Trades, 1)
	assert.Equal(t, 2, result.RejectedEntries)
}

func TestEngine_MergesSymbolsChronologically(t *testing.T) {
	var seen []string
	entry := ports.EntryFunc(func(ctx context.Context, ev *ports.BarEvent) (*domain.EntrySpec, error) {
		seen = append(seen, ev.Time.Format("15:04")+" "+ev.Symbol)
		return nil, nil
	})
	e := newTestEngine(t, 10, Policies{Entry: entry})

	data := make(domain.MarketData)
	data.Add("1h", "ETHUSDT", hourlyBars("ETHUSDT", baseTime, 10, 11))
	data.Add("1h", "BTCUSDT", hourlyBars("BTCUSDT", baseTime.Add(time.Hour), 100, 101))

	result, err := e.Run(context.Background(), data)
	require.NoError(t, err)
	assert.Equal(t, []string{"00:00 ETHUSDT", "01:00 BTCUSDT", "01:00 ETHUSDT", "02:00 BTCUSDT"}, seen)
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, result.Symbols)
	assert.Equal(t, 4, result.Bars)
}

func TestEngine_AuxBarsOnlyIncludeClosedBars(t *testing.T) {
	var counts []int
	entry := ports.EntryFunc(func(ctx context.Context, ev *ports.BarEvent) (*domain.EntrySpec, error) {
		counts = append(counts, len(ev.AuxBars("4h")))
		return nil, nil
	})
	e := newTestEngine(t, 10, Policies{Entry: entry})

	data := singleSeries("BTCUSDT", 1, 2, 3, 4, 5, 6, 7, 8, 9)
	aux := make([]*domain.Kline, 2)
	for i := range aux {
		open := baseTime.Add(time.Duration(4*i) * time.Hour)
		aux[i] = &domain.Kline{Symbol: "BTCUSDT", Interval: "4h", OpenTime: open, CloseTime: open.Add(4*time.Hour - time.Millisecond), Close: 1}
	}
	data.Add("4h", "BTCUSDT", aux)

	_, err := e.Run(context.Background(), data)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 0, 0, 1, 1, 1, 1, 2, 2}, counts)
}

func TestEngine_DataErrors(t *testing.T) {
	e := newTestEngine(t, 10, Policies{Entry: enterOnFirstBar(110, 95, 100, domain.Long)})
	ctx := context.Background()

	_, err := e.Run(ctx, domain.MarketData{})
	assert.ErrorIs(t, err, ports.ErrNoBars)

	other := make(domain.MarketData)
	other.Add("4h", "BTCUSDT", hourlyBars("BTCUSDT", baseTime, 100))
	_, err = e.Run(ctx, other)
	assert.ErrorIs(t, err, ports.ErrNoBars)

	empty := make(domain.MarketData)
	empty.Add("1h", "BTCUSDT", nil)
	_, err = e.Run(ctx, empty)
	assert.ErrorIs(t, err, ports.ErrNoBars)

	bars := hourlyBars("BTCUSDT", baseTime, 100, 101, 102)
	bars[2].OpenTime = bars[1].OpenTime
	dup := make(domain.MarketData)
	dup.Add("1h", "BTCUSDT", bars)
	_, err = e.Run(ctx, dup)
	assert.ErrorIs(t, err, ports.ErrNonMonotonicBars)

	badAux := singleSeries("BTCUSDT", 100, 101)
	auxBars := hourlyBars("BTCUSDT", baseTime, 100, 101)
	auxBars[0], auxBars[1] = auxBars[1], auxBars[0]
	badAux.Add("15m", "BTCUSDT", auxBars)
	_, err = e.Run(ctx, badAux)
	assert.ErrorIs(t, err, ports.ErrNonMonotonicBars)
}

func TestEngine_InvalidEntryAbortsRun(t *testing.T) {
	entry := ports.EntryFunc(func(ctx context.Context, ev *ports.BarEvent) (*domain.EntrySpec, error) {
		return &domain.EntrySpec{Direction: domain.Long, EntryPrice: ev.Bar.Close, CapitalToRisk: 10}, nil
	})
	e := newTestEngine(t, 10, Policies{Entry: entry})

	_, err := e.Run(context.Background(), singleSeries("BTCUSDT", 100, 101))
	assert.ErrorIs(t, err, ports.ErrInvalidEntry)
}

func TestEngine_Canceled(t *testing.T) {
	e := newTestEngine(t, 10, Policies{Entry: enterOnFirstBar(110, 95, 100, domain.Long)})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Run(ctx, singleSeries("BTCUSDT", 100, 101))
	assert.ErrorIs(t, err, ports.ErrContextCanceled)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEngine_IsDeterministic(t *testing.T) {
	run := func() []float64 {
		entry := ports.EntryFunc(func(ctx context.Context, ev *ports.BarEvent) (*domain.EntrySpec, error) {
			c := ev.Bar.Close
			if len(ev.History)%2 == 0 {
				return &domain.EntrySpec{Direction: domain.Short, EntryPrice: c, TakeProfit: c * 0.97, StopLoss: c * 1.02, CapitalToRisk: 200}, nil
			}
			return &domain.EntrySpec{Direction: domain.Long, EntryPrice: c, TakeProfit: c * 1.03, StopLoss: c * 0.98, CapitalToRisk: 200}, nil
		})
		e := newTestEngine(t, 5, Policies{Entry: entry})
		data := make(domain.MarketData)
		data.Add("1h", "BTCUSDT", hourlyBars("BTCUSDT", baseTime, 100, 103, 99, 104, 101, 97, 102))
		data.Add("1h", "ETHUSDT", hourlyBars("ETHUSDT", baseTime, 10, 9.7, 10.4, 10.1, 9.8, 10.3, 10))
		result, err := e.Run(context.Background(), data)
		require.NoError(t, err)
		pnls := make([]float64, len(result.Trades))
		for i, tr := range result.Trades {
			pnls[i] = tr.PnL
		}
		return pnls
	}

	assert.Equal(t, run(), run())
}

func TestNewEngine_Validation(t *testing.T) {
	_, err := NewEngine(Config{InitialCapital: 1000, MainTimeframe: "1h", Model: testModel(10), Logger: &mockLogger{}})
	assert.ErrorIs(t, err, ports.ErrConfigurationError)

	_, err = NewEngine(Config{
		InitialCapital: 1000,
		Model:          testModel(10),
		Logger:         &mockLogger{},
		Policies:       Policies{Entry: enterOnFirstBar(110, 95, 100, domain.Long)},
	})
	assert.ErrorIs(t, err, ports.ErrConfigurationError)
}
