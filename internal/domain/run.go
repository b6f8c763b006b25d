package domain

import "time"

// RunRecord summarizes one backtest run for the journal.
type RunRecord struct {
	ID               int64
	Label            string
	StartedAt        time.Time
	Symbols          []string
	MainTimeframe    Timeframe
	InitialCapital   float64
	FinalCapital     float64
	Leverage         float64
	SpreadBP         float64
	TotalTrades      int
	TotalPnL         float64
	WinRate          float64
	MaxDrawdownPct   float64
	SharpeRatio      float64
	BacktestDuration time.Duration
}
