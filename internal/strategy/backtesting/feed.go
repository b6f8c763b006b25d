package backtesting

import (
	"fmt"
	"sort"
	"time"

	"marginBacktester/internal/domain"
	"marginBacktester/internal/ports"
)

// step is one bar of the merged main-timeframe stream.
type step struct {
	symbol string
	index  int
	bar    *domain.Kline
}

// buildFeed validates the main timeframe and merges every symbol into one
// stream ordered by (open time, symbol).
func buildFeed(data domain.MarketData, tf domain.Timeframe) ([]step, error) {
	series := data[tf]
	if len(series) == 0 {
		return nil, fmt.Errorf("main timeframe %s: %w", tf, ports.ErrNoBars)
	}

	symbols := sortedSymbols(series)
	total := 0
	for _, symbol := range symbols {
		bars := series[symbol]
		if len(bars) == 0 {
			return nil, fmt.Errorf("%s %s: %w", symbol, tf, ports.ErrNoBars)
		}
		if err := validateSeries(symbol, tf, bars); err != nil {
			return nil, err
		}
		total += len(bars)
	}

	steps := make([]step, 0, total)
	for _, symbol := range symbols {
		for i, bar := range series[symbol] {
			steps = append(steps, step{symbol: symbol, index: i, bar: bar})
		}
	}
	sort.SliceStable(steps, func(i, j int) bool {
		ti, tj := steps[i].bar.OpenTime, steps[j].bar.OpenTime
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return steps[i].symbol < steps[j].symbol
	})
	return steps, nil
}

// validateSeries rejects nil bars, non-positive closes and timestamps that
// are not strictly increasing.
func validateSeries(symbol string, tf domain.Timeframe, bars []*domain.Kline) error {
	var prev time.Time
	for i, bar := range bars {
		if bar == nil {
			return fmt.Errorf("%s %s: nil bar at index %d: %w", symbol, tf, i, ports.ErrInvalidRequest)
		}
		if bar.Close <= 0 {
			return fmt.Errorf("%s %s: non-positive close %v at %s: %w",
				symbol, tf, bar.Close, bar.OpenTime.Format(time.RFC3339), ports.ErrInvalidRequest)
		}
		if i > 0 && !bar.OpenTime.After(prev) {
			return fmt.Errorf("%s %s: bar at %s follows %s: %w",
				symbol, tf, bar.OpenTime.Format(time.RFC3339), prev.Format(time.RFC3339), ports.ErrNonMonotonicBars)
		}
		prev = bar.OpenTime
	}
	return nil
}

func sortedSymbols(series map[string][]*domain.Kline) []string {
	symbols := make([]string, 0, len(series))
	for s := range series {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)
	return symbols
}

// auxIndex serves auxiliary timeframe bars to policies.
type auxIndex struct {
	data domain.MarketData
}

func newAuxIndex(data domain.MarketData, main domain.Timeframe) (*auxIndex, error) {
	aux := make(domain.MarketData)
	for tf, series := range data {
		if tf == main {
			continue
		}
		for symbol, bars := range series {
			if err := validateSeries(symbol, tf, bars); err != nil {
				return nil, err
			}
			aux.Add(tf, symbol, bars)
		}
	}
	return &auxIndex{data: aux}, nil
}

// Closed implements ports.AuxView.
func (a *auxIndex) Closed(tf domain.Timeframe, symbol string, at time.Time) []*domain.Kline {
	bars := a.data.Series(tf, symbol)
	n := sort.Search(len(bars), func(i int) bool {
		return barCloseTime(bars[i]).After(at)
	})
	return bars[:n:n]
}

func barCloseTime(k *domain.Kline) time.Time {
	if k.CloseTime.IsZero() {
		return k.OpenTime
	}
	return k.CloseTime
}
