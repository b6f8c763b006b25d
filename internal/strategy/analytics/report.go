package analytics

import (
	"math"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"marginBacktester/internal/domain"
)

// Metric is one formatted row of a performance summary.
type Metric struct {
	Name  string
	Value string
}

const reportTimeLayout = "2006-01-02 15:04:05"

// Summary returns the metrics as ordered (name, value) rows. Currency values
// carry a "$" prefix and percentages a "%" suffix.
func (m *PerformanceMetrics) Summary() []Metric {
	rows := []Metric{
		{"Initial Capital", FormatMoney(m.InitialCapital)},
		{"Final Capital", FormatMoney(m.FinalCapital)},
		{"Total Profit", FormatMoney(m.TotalProfit)},
		{"Return (%)", FormatPercent(m.Return)},
		{"Annualized Return (%)", FormatPercent(m.AnnualizedReturn)},
		{"Volatility (Ann.)", FormatPercent(m.Volatility)},
		{"Sharpe Ratio", number(m.SharpeRatio)},
		{"Sortino Ratio", number(m.SortinoRatio)},
		{"Calmar Ratio", number(m.CalmarRatio)},
		{"Max. Drawdown ($)", FormatMoney(m.MaxDrawdownUSD)},
		{"Max. Drawdown (%)", FormatPercent(m.MaxDrawdown)},
		{"Avg. Drawdown ($)", FormatMoney(m.AvgDrawdownUSD)},
		{"Avg. Drawdown (%)", FormatPercent(m.AvgDrawdown)},
		{"# Trades", strconv.Itoa(m.TotalTrades)},
		{"Win Rate", FormatPercent(m.WinRate)},
		{"Best Trade ($)", FormatMoney(m.BestTrade)},
		{"Worst Trade ($)", FormatMoney(m.WorstTrade)},
		{"Avg. Trade ($)", FormatMoney(m.AverageTrade)},
		{"Avg. Risk/Reward Ratio", number(m.RiskRewardRatio)},
		{"Profit Factor", number(m.ProfitFactor)},
		{"Expectancy ($)", FormatMoney(m.Expectancy)},
		{"Max. Consecutive Wins", strconv.Itoa(m.MaxConsecutiveWins)},
		{"Max. Consecutive Losses", strconv.Itoa(m.MaxConsecutiveLosses)},
		{"Max. Trade Duration", m.MaxTradeDuration.String()},
		{"Avg. Trade Duration", m.AverageTradeDuration.String()},
		{"Total Fees ($)", FormatMoney(m.TotalFees)},
		{"Total Slippage ($)", FormatMoney(m.TotalSlippage)},
		{"First Trade Time", timestamp(m.FirstTradeTime)},
		{"Last Trade Time", timestamp(m.LastTradeTime)},
		{"Avg. Time Between Trades", m.AvgTimeBetweenTrades.String()},
		{"Trades per Day", number(m.TradesPerDay)},
		{"Trades per Week", number(m.TradesPerDay * 7)},
		{"Trades per Month", number(m.TradesPerDay * 30)},
		{"Trades per Year", number(m.TradesPerDay * 365)},
		{"Trades Left Open", strconv.Itoa(m.CloseReasons[domain.CloseReasonEndOfBacktest])},
		{"Trades Closed by TP", strconv.Itoa(m.CloseReasons[domain.CloseReasonTakeProfit])},
		{"Trades Closed by SL", strconv.Itoa(m.CloseReasons[domain.CloseReasonStopLoss])},
		{"Trades Closed by Liquidation", strconv.Itoa(m.CloseReasons[domain.CloseReasonLiquidation])},
		{"Trades Closed by Exit Condition", strconv.Itoa(m.CloseReasons[domain.CloseReasonExitCondition])},
		{"Main Timeframe", string(m.MainTimeframe)},
		{"Backtest Duration", m.BacktestDuration.String()},
		{"Number of Long Trades", strconv.Itoa(m.LongTrades)},
		{"Number of Short Trades", strconv.Itoa(m.ShortTrades)},
		{"Percentage of Long Trades", FormatPercent(ratio(float64(m.LongTrades), float64(m.TotalTrades)))},
		{"Percentage of Short Trades", FormatPercent(ratio(float64(m.ShortTrades), float64(m.TotalTrades)))},
		{"Win Rate of Long Trades", FormatPercent(m.LongWinRate)},
		{"Win Rate of Short Trades", FormatPercent(m.ShortWinRate)},
		{"PnL of Long Trades", FormatMoney(m.LongPnL)},
		{"PnL of Short Trades", FormatMoney(m.ShortPnL)},
	}
	return rows
}

// FormatMoney renders a dollar amount with two decimals.
func FormatMoney(v float64) string {
	d := twoPlaces(v)
	if d.IsNegative() {
		return "-$" + d.Neg().StringFixed(2)
	}
	return "$" + d.StringFixed(2)
}

// FormatPercent renders a fraction as a percentage with two decimals.
func FormatPercent(fraction float64) string {
	return twoPlaces(fraction*100).StringFixed(2) + "%"
}

func number(v float64) string {
	return twoPlaces(v).StringFixed(2)
}

// twoPlaces converts to a rounded decimal; non-finite values become zero.
func twoPlaces(v float64) decimal.Decimal {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return decimal.Zero
	}
	return decimal.NewFromFloat(v).Round(2)
}

func timestamp(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(reportTimeLayout)
}
