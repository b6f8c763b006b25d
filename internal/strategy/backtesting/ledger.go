package backtesting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"marginBacktester/internal/domain"
	"marginBacktester/internal/ports"
	"marginBacktester/internal/risk"
)

// capitalEpsilon absorbs float rounding when checking the non-negative balance.
const capitalEpsilon = 1e-9

// InsufficientCapitalError is returned by Ledger.Open when the required
// capital exceeds what is available. It matches ports.ErrInsufficientCapital.
type InsufficientCapitalError struct {
	Symbol    string
	Time      time.Time
	Required  float64
	Available float64
}

func (e *InsufficientCapitalError) Error() string {
	return fmt.Sprintf("insufficient capital to open %s at %s: required %.4f, available %.4f",
		e.Symbol, e.Time.Format(time.RFC3339), e.Required, e.Available)
}

func (e *InsufficientCapitalError) Unwrap() error {
	return ports.ErrInsufficientCapital
}

type tradeKey struct {
	symbol string
	at     int64
}

// Ledger owns open and closed trades and the available capital balance.
// It is not safe for concurrent use; one simulation loop drives one ledger.
type Ledger struct {
	model          risk.Model
	logger         ports.Logger
	initialCapital float64
	available      float64
	open           []*domain.Trade
	openKeys       map[tradeKey]struct{}
	closed         []*domain.Trade
	rejected       int
}

// LedgerConfig holds the parameters of a new ledger.
type LedgerConfig struct {
	InitialCapital float64
	Model          risk.Model
	Logger         ports.Logger
}

// NewLedger creates a ledger funded with the initial capital.
func NewLedger(cfg LedgerConfig) (*Ledger, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("%w: logger is required for ledger", ports.ErrConfigurationError)
	}
	if cfg.InitialCapital <= 0 {
		return nil, fmt.Errorf("%w: initial capital must be positive", ports.ErrConfigurationError)
	}
	if err := cfg.Model.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ports.ErrConfigurationError, err)
	}
	return &Ledger{
		model:          cfg.Model,
		logger:         cfg.Logger,
		initialCapital: cfg.InitialCapital,
		available:      cfg.InitialCapital,
		openKeys:       make(map[tradeKey]struct{}),
	}, nil
}

// Open reserves capital for a new trade. A rejection leaves the ledger unchanged.
func (l *Ledger) Open(ctx context.Context, symbol string, at time.Time, spec domain.EntrySpec) (*domain.Trade, error) {
	key := tradeKey{symbol: symbol, at: at.UnixNano()}
	if _, exists := l.openKeys[key]; exists {
		return nil, fmt.Errorf("open %s at %s: %w", symbol, at.Format(time.RFC3339), ports.ErrDuplicateEntry)
	}

	params, err := l.model.TradeParams(symbol, at, spec)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", symbol, err)
	}
	trade, err := domain.NewTrade(params)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ports.ErrInvalidEntry, err)
	}

	if trade.CapitalCommitted > l.available {
		l.rejected++
		rejection := &InsufficientCapitalError{
			Symbol:    symbol,
			Time:      at,
			Required:  trade.CapitalCommitted,
			Available: l.available,
		}
		l.logger.Warn(ctx, "Entry rejected", map[string]interface{}{
			"symbol":    symbol,
			"time":      at,
			"required":  rejection.Required,
			"available": rejection.Available,
		})
		return nil, rejection
	}

	l.available -= trade.CapitalCommitted
	l.open = append(l.open, trade)
	l.openKeys[key] = struct{}{}

	l.logger.Debug(ctx, "Trade opened", map[string]interface{}{
		"symbol":    symbol,
		"direction": trade.Direction,
		"entry":     trade.EntryPrice,
		"tp":        trade.TakeProfit,
		"sl":        trade.StopLoss,
		"liq":       trade.LiquidationPrice,
		"be":        trade.BreakEvenPrice,
		"committed": trade.CapitalCommitted,
		"available": l.available,
	})
	return trade, nil
}

// MarkAll marks every open trade of the event's symbol at the bar close and
// applies the first matching rule: exit condition, take profit, liquidation,
// stop loss, then trailing stop adjustment.
func (l *Ledger) MarkAll(ctx context.Context, ev *ports.BarEvent, p Policies) error {
	if ev == nil || ev.Bar == nil {
		return fmt.Errorf("%w: mark without a bar", ports.ErrInvalidRequest)
	}
	price := ev.Bar.Close

	for _, trade := range l.OpenTrades() {
		if trade.Symbol != ev.Symbol {
			continue
		}
		if err := trade.Mark(price); err != nil {
			return fmt.Errorf("%w: %w", ports.ErrInvariantViolation, err)
		}
		l.fill(ev)

		var err error
		switch {
		case p.Exit != nil && p.Exit.ShouldExit(ctx, trade, ev):
			err = l.Close(ctx, trade, ev.Time, price, domain.CloseReasonExitCondition)
		case takeProfitHit(trade, price):
			err = l.Close(ctx, trade, ev.Time, trade.TakeProfit, domain.CloseReasonTakeProfit)
		case l.model.ShouldLiquidate(trade, price):
			err = l.Close(ctx, trade, ev.Time, liquidationFill(trade, price), domain.CloseReasonLiquidation)
		case stopLossHit(trade, price):
			err = l.Close(ctx, trade, ev.Time, trade.StopLoss, domain.CloseReasonStopLoss)
		case p.Trailing != nil:
			l.adjustTrailing(ctx, trade, ev, p.Trailing)
		}
		if err != nil {
			return err
		}
	}
	l.fill(ev)
	return nil
}

// adjustTrailing runs the trailing policy and reverts any loosened stop.
func (l *Ledger) adjustTrailing(ctx context.Context, trade *domain.Trade, ev *ports.BarEvent, policy ports.TrailingStopPolicy) {
	before := trade.StopLoss
	policy.Adjust(ctx, trade, ev)

	loosened := (trade.Direction == domain.Long && trade.StopLoss < before) ||
		(trade.Direction == domain.Short && trade.StopLoss > before)
	if loosened {
		l.logger.Warn(ctx, "Trailing stop tried to loosen stop loss, reverted", map[string]interface{}{
			"tradeID":  trade.ID,
			"symbol":   trade.Symbol,
			"current":  before,
			"proposed": trade.StopLoss,
		})
		trade.StopLoss = before
		return
	}
	if trade.StopLoss != before {
		l.logger.Debug(ctx, "Stop loss trailed", map[string]interface{}{
			"tradeID": trade.ID,
			"symbol":  trade.Symbol,
			"from":    before,
			"to":      trade.StopLoss,
		})
	}
}

// Close realizes a trade at a quoted price and credits committed capital plus
// PnL back to the balance. Closing a trade twice is a defect.
func (l *Ledger) Close(ctx context.Context, trade *domain.Trade, at time.Time, price float64, reason domain.CloseReason) error {
	if !trade.IsOpen() {
		return fmt.Errorf("close trade %s: %w", trade.ID, ports.ErrTradeAlreadyClosed)
	}
	idx := l.indexOf(trade)
	if idx < 0 {
		return fmt.Errorf("%w: trade %s is not held by this ledger", ports.ErrInvariantViolation, trade.ID)
	}

	capped, err := trade.Settle(at, price, reason)
	if err != nil {
		if errors.Is(err, domain.ErrTradeClosed) {
			return fmt.Errorf("close trade %s: %w", trade.ID, ports.ErrTradeAlreadyClosed)
		}
		return fmt.Errorf("close trade %s: %w", trade.ID, err)
	}
	if capped {
		l.logger.Warn(ctx, "Loss capped at committed capital", map[string]interface{}{
			"tradeID":   trade.ID,
			"symbol":    trade.Symbol,
			"committed": trade.CapitalCommitted,
			"reason":    reason,
		})
	}

	l.open = append(l.open[:idx], l.open[idx+1:]...)
	delete(l.openKeys, tradeKey{symbol: trade.Symbol, at: trade.EntryTime.UnixNano()})
	l.closed = append(l.closed, trade)
	l.available += trade.CapitalCommitted + trade.PnL

	l.logger.Debug(ctx, "Trade closed", map[string]interface{}{
		"symbol":    trade.Symbol,
		"direction": trade.Direction,
		"entry":     trade.EntryPrice,
		"close":     trade.ClosePrice,
		"pnl":       trade.PnL,
		"reason":    reason,
		"available": l.available,
	})

	if l.available < -capitalEpsilon {
		return fmt.Errorf("%w: available capital %.8f after closing %s", ports.ErrInvariantViolation, l.available, trade.ID)
	}
	return nil
}

// CloseAll force-closes every open trade at the last known price of its symbol.
func (l *Ledger) CloseAll(ctx context.Context, at time.Time, lastPrices map[string]float64) error {
	for _, trade := range l.OpenTrades() {
		price, ok := lastPrices[trade.Symbol]
		if !ok || price <= 0 {
			price = trade.LastPrice
		}
		if price <= 0 {
			return fmt.Errorf("%w: no price to close %s on %s", ports.ErrInvariantViolation, trade.ID, trade.Symbol)
		}
		if err := l.Close(ctx, trade, at, price, domain.CloseReasonEndOfBacktest); err != nil {
			return err
		}
	}
	return nil
}

// AvailableCapital returns the uncommitted balance.
func (l *Ledger) AvailableCapital() float64 { return l.available }

// InitialCapital returns the starting balance.
func (l *Ledger) InitialCapital() float64 { return l.initialCapital }

// RejectedEntries counts entries refused for lack of capital.
func (l *Ledger) RejectedEntries() int { return l.rejected }

// OpenTrades returns a snapshot of the open trades in open order.
func (l *Ledger) OpenTrades() []*domain.Trade {
	out := make([]*domain.Trade, len(l.open))
	copy(out, l.open)
	return out
}

// ClosedTrades returns a snapshot of the closed trades in close order.
func (l *Ledger) ClosedTrades() []*domain.Trade {
	out := make([]*domain.Trade, len(l.closed))
	copy(out, l.closed)
	return out
}

// Equity is available capital plus committed capital and unrealized PnL of open trades.
func (l *Ledger) Equity() float64 {
	equity := l.available
	for _, t := range l.open {
		equity += t.CapitalCommitted + t.UnrealizedPnL
	}
	return equity
}

// fill refreshes the ledger views carried by a bar event.
func (l *Ledger) fill(ev *ports.BarEvent) {
	ev.OpenTrades = l.OpenTrades()
	ev.ClosedTrades = l.closed[:len(l.closed):len(l.closed)]
	ev.AvailableCapital = l.available
}

func (l *Ledger) indexOf(trade *domain.Trade) int {
	for i, t := range l.open {
		if t == trade {
			return i
		}
	}
	return -1
}

func takeProfitHit(t *domain.Trade, price float64) bool {
	if t.Direction == domain.Long {
		return price >= t.TakeProfit
	}
	return price <= t.TakeProfit
}

func stopLossHit(t *domain.Trade, price float64) bool {
	if t.Direction == domain.Long {
		return price <= t.StopLoss
	}
	return price >= t.StopLoss
}

// liquidationFill is the liquidation level when price crossed it, otherwise
// the bar close that breached the loss threshold.
func liquidationFill(t *domain.Trade, price float64) float64 {
	crossed := (t.Direction == domain.Long && price <= t.LiquidationPrice) ||
		(t.Direction == domain.Short && price >= t.LiquidationPrice)
	if crossed && t.LiquidationPrice > 0 {
		return t.LiquidationPrice
	}
	return price
}
