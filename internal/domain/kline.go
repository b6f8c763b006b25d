package domain

import "time"

// Kline represents a single OHLCV bar.
type Kline struct {
	OpenTime  time.Time // Start of the interval; bars are keyed by this
	CloseTime time.Time // End of the interval
	Symbol    string
	Interval  Timeframe
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// MarketData holds immutable bar sequences keyed by timeframe then symbol.
type MarketData map[Timeframe]map[string][]*Kline

// Series returns the bars for a symbol on a timeframe, or nil.
func (m MarketData) Series(tf Timeframe, symbol string) []*Kline {
	bySymbol, ok := m[tf]
	if !ok {
		return nil
	}
	return bySymbol[symbol]
}

// Add stores a bar sequence, creating the timeframe bucket when needed.
func (m MarketData) Add(tf Timeframe, symbol string, bars []*Kline) {
	if m[tf] == nil {
		m[tf] = make(map[string][]*Kline)
	}
	m[tf][symbol] = bars
}
