package analytics

import (
	"testing"
	"time"

	"marginBacktester/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func summaryMap(rows []Metric) map[string]string {
	out := make(map[string]string, len(rows))
	for _, r := range rows {
		out[r.Name] = r.Value
	}
	return out
}

func TestSummary_Formatting(t *testing.T) {
	trades := []*domain.Trade{
		closedTrade("BTCUSDT", domain.Long, 150.456, 0, 1, domain.CloseReasonTakeProfit),
		closedTrade("BTCUSDT", domain.Short, -50.5, 1, 2, domain.CloseReasonLiquidation),
	}
	m := AnalyzePerformance(trades, 1000, Options{MainTimeframe: "1h", BacktestDuration: 1500 * time.Millisecond})

	rows := m.Summary()
	require.NotEmpty(t, rows)
	assert.Equal(t, "Initial Capital", rows[0].Name)

	got := summaryMap(rows)
	assert.Equal(t, "$1000.00", got["Initial Capital"])
	assert.Equal(t, "$1099.96", got["Final Capital"])
	assert.Equal(t, "10.00%", got["Return (%)"])
	assert.Equal(t, "50.00%", got["Win Rate"])
	assert.Equal(t, "-$50.50", got["Worst Trade ($)"])
	assert.Equal(t, "2", got["# Trades"])
	assert.Equal(t, "1", got["Trades Closed by Liquidation"])
	assert.Equal(t, "1h", got["Main Timeframe"])
	assert.Equal(t, "1.5s", got["Backtest Duration"])
	assert.Equal(t, "50.00%", got["Percentage of Long Trades"])
	assert.Equal(t, "2024-01-01 00:00:00", got["First Trade Time"])
}

func TestSummary_OrderIsStable(t *testing.T) {
	m := AnalyzePerformance(nil, 500, Options{})
	a, b := m.Summary(), m.Summary()
	assert.Equal(t, a, b)
	assert.Equal(t, "-", summaryMap(a)["First Trade Time"])
}
