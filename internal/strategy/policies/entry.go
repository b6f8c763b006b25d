package policies

import (
	"context"
	"errors"
	"fmt"

	"marginBacktester/internal/domain"
	"marginBacktester/internal/ports"
	"marginBacktester/internal/risk"
	"marginBacktester/internal/strategy/indicators"
)

// MACrossConfig configures MACrossEntry.
type MACrossConfig struct {
	FastPeriod int
	SlowPeriod int
	AllowShort bool

	// CapitalFraction of the available capital is risked per trade.
	CapitalFraction float64

	// Exits as PnL multiples of the margin, used unless ATRPeriod is set.
	TakeProfitMultiple float64
	StopLossMultiple   float64

	// ATR exits: stop at ATRMultiplier*ATR, target at RewardRisk times that.
	ATRPeriod     int
	ATRMultiplier float64
	RewardRisk    float64

	// Optional RSI filter: no longs when overbought, no shorts when oversold.
	RSIPeriod     int
	RSIOverbought float64
	RSIOversold   float64

	// Optional higher timeframe filter: trade only in the direction of the
	// last closed TrendTimeframe bar relative to its SMA(TrendPeriod).
	TrendTimeframe domain.Timeframe
	TrendPeriod    int

	// OnePerSymbol skips entries while the symbol already has an open trade.
	OnePerSymbol bool
}

// DefaultMACrossConfig returns a conservative crossover setup.
func DefaultMACrossConfig() MACrossConfig {
	return MACrossConfig{
		FastPeriod:         9,
		SlowPeriod:         21,
		AllowShort:         true,
		CapitalFraction:    0.1,
		TakeProfitMultiple: 1.0,
		StopLossMultiple:   0.5,
		OnePerSymbol:       true,
	}
}

// MACrossEntry opens a trade when the fast SMA crosses the slow SMA.
type MACrossEntry struct {
	cfg   MACrossConfig
	model risk.Model
	fast  *indicators.MovingAverage
	slow  *indicators.MovingAverage
	atr   *indicators.ATR
	rsi   *indicators.RSI
	trend *indicators.MovingAverage
}

// NewMACrossEntry validates cfg. model must be the one the ledger uses so
// the PnL multiples account for the real costs.
func NewMACrossEntry(cfg MACrossConfig, model risk.Model) (*MACrossEntry, error) {
	if cfg.FastPeriod <= 0 || cfg.SlowPeriod <= cfg.FastPeriod {
		return nil, fmt.Errorf("fast period must be positive and below slow period: %d/%d", cfg.FastPeriod, cfg.SlowPeriod)
	}
	if cfg.CapitalFraction <= 0 || cfg.CapitalFraction > 1 {
		return nil, fmt.Errorf("capital fraction must be in (0, 1]: %v", cfg.CapitalFraction)
	}
	if err := model.Validate(); err != nil {
		return nil, err
	}

	p := &MACrossEntry{cfg: cfg, model: model}
	var err error
	if p.fast, err = indicators.NewMovingAverage(indicators.SimpleMovingAverage, cfg.FastPeriod); err != nil {
		return nil, err
	}
	if p.slow, err = indicators.NewMovingAverage(indicators.SimpleMovingAverage, cfg.SlowPeriod); err != nil {
		return nil, err
	}

	if cfg.ATRPeriod > 0 {
		if cfg.ATRMultiplier <= 0 || cfg.RewardRisk <= 0 {
			return nil, errors.New("ATR exits need a positive multiplier and reward/risk")
		}
		if p.atr, err = indicators.NewATR(cfg.ATRPeriod); err != nil {
			return nil, err
		}
	} else if cfg.TakeProfitMultiple <= 0 || cfg.StopLossMultiple <= 0 {
		return nil, errors.New("take profit and stop loss multiples must be positive")
	}

	if cfg.RSIPeriod > 0 {
		if p.rsi, err = indicators.NewRSI(cfg.RSIPeriod, cfg.RSIOverbought, cfg.RSIOversold); err != nil {
			return nil, err
		}
	}
	if cfg.TrendTimeframe != "" {
		if p.trend, err = indicators.NewMovingAverage(indicators.SimpleMovingAverage, cfg.TrendPeriod); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Entry implements ports.EntryPolicy.
func (p *MACrossEntry) Entry(_ context.Context, ev *ports.BarEvent) (*domain.EntrySpec, error) {
	if p.cfg.OnePerSymbol && hasOpenTrade(ev) {
		return nil, nil
	}
	history := ev.History
	if len(history) < p.cfg.SlowPeriod+1 {
		return nil, nil
	}

	dir, crossed, err := p.cross(history)
	if err != nil || !crossed {
		return nil, err
	}
	if dir == domain.Short && !p.cfg.AllowShort {
		return nil, nil
	}
	if ok, err := p.filtersAllow(ev, dir); err != nil || !ok {
		return nil, err
	}

	capital := ev.AvailableCapital * p.cfg.CapitalFraction
	if capital <= 0 {
		return nil, nil
	}
	spec := &domain.EntrySpec{
		Direction:     dir,
		EntryPrice:    ev.Bar.Close,
		CapitalToRisk: capital,
	}
	if err := p.exits(ev, spec); err != nil {
		return nil, err
	}
	// Costs can swallow a tight stop; skip rather than abort the run.
	if spec.Validate() != nil {
		return nil, nil
	}
	return spec, nil
}

func (p *MACrossEntry) cross(history []*domain.Kline) (domain.Direction, bool, error) {
	prev := history[:len(history)-1]
	fastPrev, err := p.fast.Calculate(prev)
	if err != nil {
		return "", false, err
	}
	slowPrev, err := p.slow.Calculate(prev)
	if err != nil {
		return "", false, err
	}
	fastNow, err := p.fast.Calculate(history)
	if err != nil {
		return "", false, err
	}
	slowNow, err := p.slow.Calculate(history)
	if err != nil {
		return "", false, err
	}

	switch {
	case fastPrev <= slowPrev && fastNow > slowNow:
		return domain.Long, true, nil
	case fastPrev >= slowPrev && fastNow < slowNow:
		return domain.Short, true, nil
	}
	return "", false, nil
}

func (p *MACrossEntry) filtersAllow(ev *ports.BarEvent, dir domain.Direction) (bool, error) {
	if p.rsi != nil {
		if len(ev.History) < p.rsi.RequiredDataPoints() {
			return false, nil
		}
		value, err := p.rsi.Calculate(ev.History)
		if err != nil {
			return false, err
		}
		if (dir == domain.Long && p.rsi.IsOverbought(value)) || (dir == domain.Short && p.rsi.IsOversold(value)) {
			return false, nil
		}
	}

	if p.trend != nil {
		bars := ev.AuxBars(p.cfg.TrendTimeframe)
		if len(bars) < p.trend.RequiredDataPoints() {
			return false, nil
		}
		ma, err := p.trend.Calculate(bars)
		if err != nil {
			return false, err
		}
		last := bars[len(bars)-1].Close
		if (dir == domain.Long && last <= ma) || (dir == domain.Short && last >= ma) {
			return false, nil
		}
	}
	return true, nil
}

func (p *MACrossEntry) exits(ev *ports.BarEvent, spec *domain.EntrySpec) error {
	entry := spec.EntryPrice
	sign := 1.0
	if spec.Direction == domain.Short {
		sign = -1
	}

	if p.atr != nil {
		if len(ev.History) < p.atr.RequiredDataPoints() {
			return nil
		}
		atr, err := p.atr.Calculate(ev.History)
		if err != nil {
			return err
		}
		distance := atr * p.cfg.ATRMultiplier
		spec.StopLoss = entry - sign*distance
		spec.TakeProfit = entry + sign*distance*p.cfg.RewardRisk
		return nil
	}

	quote, err := p.model.Quote(ev.Symbol, spec.CapitalToRisk)
	if err != nil {
		return err
	}
	cost := 2*quote.OrderFee + quote.SlippageReserve
	if spec.TakeProfit, err = domain.PriceAtPnLMultiple(p.cfg.TakeProfitMultiple, cost, quote.Notional, p.model.Leverage, entry, spec.Direction); err != nil {
		return err
	}
	spec.StopLoss, err = domain.PriceAtPnLMultiple(-p.cfg.StopLossMultiple, cost, quote.Notional, p.model.Leverage, entry, spec.Direction)
	return err
}

func hasOpenTrade(ev *ports.BarEvent) bool {
	for _, t := range ev.OpenTrades {
		if t.Symbol == ev.Symbol {
			return true
		}
	}
	return false
}
