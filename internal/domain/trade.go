package domain

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// Trade is a single leveraged position. Every derived quantity is computed
// once by NewTrade; afterwards only the mark fields, the stop/target levels
// and the close fields change.
type Trade struct {
	ID        uuid.UUID
	Symbol    string
	Direction Direction
	EntryTime time.Time
	CloseTime time.Time // zero while open

	// Spread-adjusted levels.
	EntryPrice float64
	TakeProfit float64
	StopLoss   float64

	Leverage         float64
	SpreadBP         float64
	Notional         float64
	Margin           float64
	OrderFee         float64 // charged at open and again at close
	SlippageReserve  float64
	CapitalCommitted float64 // margin + order fee + slippage reserve

	LiquidationPrice float64
	BreakEvenPrice   float64

	PotentialProfitUSD     float64
	PotentialProfitPercent float64
	PotentialLossUSD       float64
	PotentialLossPercent   float64

	UnrealizedPnL float64
	MaxProfit     float64
	MaxDrawdown   float64
	LastPrice     float64

	ClosePrice  float64
	PnL         float64
	CloseReason CloseReason
}

// TradeParams carries everything NewTrade needs.
type TradeParams struct {
	Symbol     string
	EntryTime  time.Time
	Spec       EntrySpec
	Leverage   float64
	SpreadBP   float64
	FeeBP      float64
	SlippageBP float64
}

// NewTrade validates the entry and computes the trade economics.
func NewTrade(p TradeParams) (*Trade, error) {
	if p.Symbol == "" {
		return nil, fmt.Errorf("%w: symbol", ErrMissingField)
	}
	if p.EntryTime.IsZero() {
		return nil, fmt.Errorf("%w: entry time", ErrMissingField)
	}
	if err := p.Spec.Validate(); err != nil {
		return nil, fmt.Errorf("invalid entry for %s: %w", p.Symbol, err)
	}
	if p.SlippageBP < 0 {
		return nil, fmt.Errorf("slippage cannot be negative: %v", p.SlippageBP)
	}

	dir := p.Spec.Direction
	notional, err := PositionSize(p.Spec.CapitalToRisk, p.Leverage)
	if err != nil {
		return nil, err
	}
	fee, err := Fee(notional, p.FeeBP)
	if err != nil {
		return nil, err
	}

	t := &Trade{
		ID:              uuid.New(),
		Symbol:          p.Symbol,
		Direction:       dir,
		EntryTime:       p.EntryTime,
		Leverage:        p.Leverage,
		SpreadBP:        p.SpreadBP,
		Notional:        notional,
		Margin:          p.Spec.CapitalToRisk,
		OrderFee:        fee,
		SlippageReserve: notional * BP(p.SlippageBP),
	}
	t.CapitalCommitted = t.Margin + t.OrderFee + t.SlippageReserve

	if t.EntryPrice, err = PriceWithSpread(p.Spec.EntryPrice, p.SpreadBP, true, dir); err != nil {
		return nil, err
	}
	// Both exit levels are pulled toward entry so triggers stay conservative.
	if t.TakeProfit, err = PriceWithSpread(p.Spec.TakeProfit, p.SpreadBP, false, dir); err != nil {
		return nil, err
	}
	if t.StopLoss, err = PriceWithSpread(p.Spec.StopLoss, p.SpreadBP, true, dir); err != nil {
		return nil, err
	}
	if t.LiquidationPrice, err = LiquidationPrice(t.EntryPrice, t.Leverage, dir); err != nil {
		return nil, err
	}
	if err := t.computeBreakEven(); err != nil {
		return nil, err
	}
	if err := t.computePotentialOutcomes(); err != nil {
		return nil, err
	}
	return t, nil
}

// RoundTripCost is the total cost realized on close: both order fees plus slippage.
func (t *Trade) RoundTripCost() float64 {
	return 2*t.OrderFee + t.SlippageReserve
}

// computeBreakEven finds the quoted price whose spread-adjusted fill nets zero.
func (t *Trade) computeBreakEven() error {
	fillBE, err := BreakEvenPrice(t.EntryPrice, t.RoundTripCost(), t.Notional, t.Direction)
	if err != nil {
		return err
	}
	unit, err := PriceWithSpread(1, t.SpreadBP, false, t.Direction)
	if err != nil {
		return err
	}
	if unit <= 0 {
		return fmt.Errorf("spread %vbp leaves no closing price", t.SpreadBP)
	}
	t.BreakEvenPrice = fillBE / unit
	return nil
}

func (t *Trade) computePotentialOutcomes() error {
	profit, err := t.netPnLAt(t.TakeProfit)
	if err != nil {
		return err
	}
	loss, err := t.netPnLAt(t.StopLoss)
	if err != nil {
		return err
	}
	t.PotentialProfitUSD = profit
	t.PotentialLossUSD = -loss
	t.PotentialProfitPercent = t.PotentialProfitUSD / t.Margin * 100
	t.PotentialLossPercent = t.PotentialLossUSD / t.Margin * 100
	return nil
}

// netPnLAt is the realized PnL if the trade were closed at a quoted price.
func (t *Trade) netPnLAt(quote float64) (float64, error) {
	fill, err := PriceWithSpread(quote, t.SpreadBP, false, t.Direction)
	if err != nil {
		return 0, err
	}
	return NetPnLAtPrice(fill, t.EntryPrice, t.Notional, t.RoundTripCost(), t.Direction)
}

// IsOpen reports whether the trade has not been closed yet.
func (t *Trade) IsOpen() bool {
	return t.CloseReason == ""
}

// Mark recomputes the unrealized PnL at price and updates the running extrema.
// Calling it repeatedly with the same price leaves the trade unchanged.
func (t *Trade) Mark(price float64) error {
	if !t.IsOpen() {
		return fmt.Errorf("mark %s: %w", t.ID, ErrTradeClosed)
	}
	gross, err := PnLAtPrice(price, t.EntryPrice, t.Notional, t.Direction)
	if err != nil {
		return err
	}
	t.LastPrice = price
	t.UnrealizedPnL = gross - t.OrderFee
	t.MaxProfit = math.Max(t.MaxProfit, t.UnrealizedPnL)
	t.MaxDrawdown = math.Min(t.MaxDrawdown, t.UnrealizedPnL)
	return nil
}

// Settle closes the trade at a quoted price. The loss is capped at the
// committed capital; capped reports whether that happened.
func (t *Trade) Settle(closeTime time.Time, quote float64, reason CloseReason) (capped bool, err error) {
	if !t.IsOpen() {
		return false, fmt.Errorf("settle %s: %w", t.ID, ErrTradeClosed)
	}
	fill, err := PriceWithSpread(quote, t.SpreadBP, false, t.Direction)
	if err != nil {
		return false, err
	}
	pnl, err := NetPnLAtPrice(fill, t.EntryPrice, t.Notional, t.RoundTripCost(), t.Direction)
	if err != nil {
		return false, err
	}
	if pnl < -t.CapitalCommitted {
		pnl = -t.CapitalCommitted
		capped = true
	}

	t.CloseTime = closeTime
	t.ClosePrice = fill
	t.PnL = pnl
	t.CloseReason = reason
	t.UnrealizedPnL = 0
	return capped, nil
}

// TightenStop moves the stop loss toward profit. Looser levels are ignored.
func (t *Trade) TightenStop(price float64) bool {
	if price <= 0 {
		return false
	}
	if (t.Direction == Long && price > t.StopLoss) || (t.Direction == Short && price < t.StopLoss) {
		t.StopLoss = price
		return true
	}
	return false
}

// Duration is the holding time of a closed trade.
func (t *Trade) Duration() time.Duration {
	if t.CloseTime.IsZero() {
		return 0
	}
	return t.CloseTime.Sub(t.EntryTime)
}

// IsWin reports whether the realized PnL is positive.
func (t *Trade) IsWin() bool {
	return t.PnL > 0
}

// RiskReward is potential profit over potential loss, 0 when there is no loss.
func (t *Trade) RiskReward() float64 {
	if t.PotentialLossUSD <= 0 {
		return 0
	}
	return t.PotentialProfitUSD / t.PotentialLossUSD
}
