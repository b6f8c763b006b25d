package analytics

import (
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"marginBacktester/internal/domain"
)

const (
	tradingDaysPerYear = 252
	// DefaultRiskFreeRate is the annual rate used by Sharpe and Sortino.
	DefaultRiskFreeRate = 0.02
)

// Options carries run context that is not derivable from the trades.
type Options struct {
	RiskFreeRate     float64
	MainTimeframe    domain.Timeframe
	BacktestDuration time.Duration
}

// PerformanceMetrics holds comprehensive performance metrics for a run.
// Ratios and percentages are fractions (0.05 means 5%).
type PerformanceMetrics struct {
	// Capital
	InitialCapital   float64
	FinalCapital     float64
	TotalProfit      float64
	Return           float64
	AnnualizedReturn float64

	// Risk
	Volatility     float64
	SharpeRatio    float64
	SortinoRatio   float64
	CalmarRatio    float64
	MaxDrawdown    float64 // fraction of peak capital
	MaxDrawdownUSD float64
	AvgDrawdown    float64
	AvgDrawdownUSD float64
	RecoveryFactor float64

	// Trades
	TotalTrades          int
	WinningTrades        int
	LosingTrades         int
	WinRate              float64
	BestTrade            float64
	WorstTrade           float64
	AverageTrade         float64
	AverageWin           float64
	AverageLoss          float64
	RiskRewardRatio      float64
	ProfitFactor         float64
	Expectancy           float64
	MaxConsecutiveWins   int
	MaxConsecutiveLosses int
	TotalFees            float64
	TotalSlippage        float64

	// Timing
	MaxTradeDuration     time.Duration
	AverageTradeDuration time.Duration
	FirstTradeTime       time.Time
	LastTradeTime        time.Time
	AvgTimeBetweenTrades time.Duration
	TradesPerDay         float64

	// Breakdowns
	CloseReasons map[domain.CloseReason]int
	LongTrades   int
	ShortTrades  int
	LongWinRate  float64
	ShortWinRate float64
	LongPnL      float64
	ShortPnL     float64

	MainTimeframe    domain.Timeframe
	BacktestDuration time.Duration

	MonthlyReturns map[string]float64
	Drawdowns      []Drawdown
	EquityCurve    []EquityPoint
}

// Drawdown represents a drawdown period
type Drawdown struct {
	StartTime  time.Time
	EndTime    time.Time
	StartValue float64
	EndValue   float64
	Depth      float64
	Duration   time.Duration
}

// EquityPoint represents a point on the capital curve
type EquityPoint struct {
	Time     time.Time
	Value    float64
	Drawdown float64
}

// AnalyzePerformance reduces closed trades into performance metrics. The
// capital curve is the initial capital plus the cumulative realized PnL in
// close order. Undefined ratios are reported as 0.
func AnalyzePerformance(trades []*domain.Trade, initialCapital float64, opts Options) *PerformanceMetrics {
	metrics := &PerformanceMetrics{
		InitialCapital:   initialCapital,
		FinalCapital:     initialCapital,
		CloseReasons:     make(map[domain.CloseReason]int),
		MainTimeframe:    opts.MainTimeframe,
		BacktestDuration: opts.BacktestDuration,
		MonthlyReturns:   make(map[string]float64),
		Drawdowns:        make([]Drawdown, 0),
		EquityCurve:      make([]EquityPoint, 0),
	}
	if len(trades) == 0 || initialCapital <= 0 {
		return metrics
	}

	sorted := make([]*domain.Trade, len(trades))
	copy(sorted, trades)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CloseTime.Before(sorted[j].CloseTime)
	})

	analyzeTrades(metrics, sorted)
	analyzeCurve(metrics, sorted)
	analyzeTiming(metrics, sorted)
	analyzeRatios(metrics, sorted, opts.RiskFreeRate)
	return metrics
}

// AnalyzeBySymbol runs AnalyzePerformance per symbol, each against the full initial capital.
func AnalyzeBySymbol(trades []*domain.Trade, initialCapital float64, opts Options) map[string]*PerformanceMetrics {
	bySymbol := make(map[string][]*domain.Trade)
	for _, t := range trades {
		bySymbol[t.Symbol] = append(bySymbol[t.Symbol], t)
	}
	out := make(map[string]*PerformanceMetrics, len(bySymbol))
	for symbol, ts := range bySymbol {
		out[symbol] = AnalyzePerformance(ts, initialCapital, opts)
	}
	return out
}

func analyzeTrades(m *PerformanceMetrics, trades []*domain.Trade) {
	var grossProfit, grossLoss float64
	var consecutiveWins, consecutiveLosses int
	var longWins, shortWins int

	m.BestTrade = math.Inf(-1)
	m.WorstTrade = math.Inf(1)
	for _, t := range trades {
		m.TotalTrades++
		m.TotalProfit += t.PnL
		m.TotalFees += 2 * t.OrderFee
		m.TotalSlippage += t.SlippageReserve
		m.BestTrade = math.Max(m.BestTrade, t.PnL)
		m.WorstTrade = math.Min(m.WorstTrade, t.PnL)
		m.CloseReasons[t.CloseReason]++
		m.MonthlyReturns[t.CloseTime.Format("2006-01")] += t.PnL

		// Break-even trades count as neither and end both streaks.
		switch {
		case t.PnL > 0:
			m.WinningTrades++
			grossProfit += t.PnL
			consecutiveWins++
			consecutiveLosses = 0
		case t.PnL < 0:
			m.LosingTrades++
			grossLoss += t.PnL
			consecutiveLosses++
			consecutiveWins = 0
		default:
			consecutiveWins, consecutiveLosses = 0, 0
		}
		m.MaxConsecutiveWins = max(m.MaxConsecutiveWins, consecutiveWins)
		m.MaxConsecutiveLosses = max(m.MaxConsecutiveLosses, consecutiveLosses)

		switch t.Direction {
		case domain.Long:
			m.LongTrades++
			m.LongPnL += t.PnL
			if t.PnL > 0 {
				longWins++
			}
		case domain.Short:
			m.ShortTrades++
			m.ShortPnL += t.PnL
			if t.PnL > 0 {
				shortWins++
			}
		}
	}

	n := float64(m.TotalTrades)
	m.FinalCapital = m.InitialCapital + m.TotalProfit
	m.Return = m.TotalProfit / m.InitialCapital
	m.WinRate = float64(m.WinningTrades) / n
	m.AverageTrade = m.TotalProfit / n
	m.LongWinRate = ratio(float64(longWins), float64(m.LongTrades))
	m.ShortWinRate = ratio(float64(shortWins), float64(m.ShortTrades))

	if m.WinningTrades > 0 {
		m.AverageWin = grossProfit / float64(m.WinningTrades)
	}
	if m.LosingTrades > 0 {
		m.AverageLoss = grossLoss / float64(m.LosingTrades)
	}
	m.RiskRewardRatio = math.Abs(ratio(m.AverageWin, m.AverageLoss))
	m.ProfitFactor = math.Abs(ratio(grossProfit, grossLoss))
	lossRate := float64(m.LosingTrades) / n
	m.Expectancy = m.WinRate*m.AverageWin + lossRate*m.AverageLoss
}

// analyzeCurve builds the capital curve, drawdown periods and drawdown stats.
func analyzeCurve(m *PerformanceMetrics, trades []*domain.Trade) {
	capital := m.InitialCapital
	peak := m.InitialCapital
	var current *Drawdown
	fractions := make([]float64, 0, len(trades))
	amounts := make([]float64, 0, len(trades))

	for _, t := range trades {
		capital += t.PnL
		if capital >= peak {
			peak = capital
			if current != nil {
				current.EndTime = t.CloseTime
				current.EndValue = capital
				current.Duration = current.EndTime.Sub(current.StartTime)
				m.Drawdowns = append(m.Drawdowns, *current)
				current = nil
			}
		} else {
			depth := (peak - capital) / peak
			if current == nil {
				current = &Drawdown{StartTime: t.CloseTime, StartValue: peak, Depth: depth}
			} else {
				current.Depth = math.Max(current.Depth, depth)
			}
		}

		dd := 0.0
		if peak > 0 {
			dd = (peak - capital) / peak
		}
		fractions = append(fractions, dd)
		amounts = append(amounts, peak-capital)
		if dd > m.MaxDrawdown {
			m.MaxDrawdown = dd
		}
		m.MaxDrawdownUSD = math.Max(m.MaxDrawdownUSD, peak-capital)

		m.EquityCurve = append(m.EquityCurve, EquityPoint{Time: t.CloseTime, Value: capital, Drawdown: dd})
	}

	if current != nil {
		current.EndTime = trades[len(trades)-1].CloseTime
		current.EndValue = capital
		current.Duration = current.EndTime.Sub(current.StartTime)
		m.Drawdowns = append(m.Drawdowns, *current)
	}

	m.AvgDrawdown = stat.Mean(fractions, nil)
	m.AvgDrawdownUSD = stat.Mean(amounts, nil)
	m.RecoveryFactor = ratio(m.TotalProfit, m.MaxDrawdownUSD)
}

func analyzeTiming(m *PerformanceMetrics, trades []*domain.Trade) {
	var total time.Duration
	m.FirstTradeTime = trades[0].EntryTime
	m.LastTradeTime = trades[0].CloseTime
	for _, t := range trades {
		d := t.Duration()
		total += d
		if d > m.MaxTradeDuration {
			m.MaxTradeDuration = d
		}
		if t.EntryTime.Before(m.FirstTradeTime) {
			m.FirstTradeTime = t.EntryTime
		}
		if t.CloseTime.After(m.LastTradeTime) {
			m.LastTradeTime = t.CloseTime
		}
	}
	m.AverageTradeDuration = total / time.Duration(len(trades))

	span := m.LastTradeTime.Sub(m.FirstTradeTime)
	if len(trades) > 1 {
		m.AvgTimeBetweenTrades = span / time.Duration(len(trades))
	}
	if days := wholeDays(span); days > 0 {
		m.TradesPerDay = float64(len(trades)) / float64(days)
	}
}

// analyzeRatios computes annualized return, volatility of daily returns and
// the Sharpe, Sortino and Calmar ratios.
func analyzeRatios(m *PerformanceMetrics, trades []*domain.Trade, riskFree float64) {
	if years := float64(wholeDays(m.LastTradeTime.Sub(m.FirstTradeTime))) / 365; years > 0 {
		if growth := 1 + m.Return; growth > 0 {
			m.AnnualizedReturn = finite(math.Pow(growth, 1/years) - 1)
		} else {
			m.AnnualizedReturn = -1
		}
	}

	daily := dailyReturns(trades, m.InitialCapital)
	if len(daily) > 1 {
		m.Volatility = finite(stat.StdDev(daily, nil) * math.Sqrt(tradingDaysPerYear))
	}
	excess := m.AnnualizedReturn - riskFree
	m.SharpeRatio = ratio(excess, m.Volatility)

	var downside []float64
	for _, r := range daily {
		if r < 0 {
			downside = append(downside, r)
		}
	}
	if len(downside) > 1 {
		downsideVol := finite(stat.StdDev(downside, nil) * math.Sqrt(tradingDaysPerYear))
		m.SortinoRatio = ratio(excess, downsideVol)
	}

	m.CalmarRatio = ratio(m.AnnualizedReturn, m.MaxDrawdown)
}

// dailyReturns sums PnL / initial capital per UTC close date, in date order.
func dailyReturns(trades []*domain.Trade, initialCapital float64) []float64 {
	byDay := make(map[string]float64)
	for _, t := range trades {
		byDay[t.CloseTime.UTC().Format(time.DateOnly)] += t.PnL / initialCapital
	}
	days := make([]string, 0, len(byDay))
	for d := range byDay {
		days = append(days, d)
	}
	sort.Strings(days)
	out := make([]float64, len(days))
	for i, d := range days {
		out[i] = byDay[d]
	}
	return out
}

func wholeDays(d time.Duration) int {
	return int(d / (24 * time.Hour))
}

// ratio divides, returning 0 for a zero or non-finite result.
func ratio(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	return finite(num / den)
}

func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// GetMonthlyReturns returns the monthly returns as a sorted slice
func (m *PerformanceMetrics) GetMonthlyReturns() []MonthlyReturn {
	returns := make([]MonthlyReturn, 0, len(m.MonthlyReturns))
	for month, profit := range m.MonthlyReturns {
		date, _ := time.Parse("2006-01", month)
		returns = append(returns, MonthlyReturn{
			Month:  date,
			Return: profit,
		})
	}
	sort.Slice(returns, func(i, j int) bool {
		return returns[i].Month.Before(returns[j].Month)
	})
	return returns
}

// MonthlyReturn represents a monthly return value
type MonthlyReturn struct {
	Month  time.Time
	Return float64
}
