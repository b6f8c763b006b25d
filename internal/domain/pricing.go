package domain

import (
	"fmt"
	"math"
)

// Pricing helpers for leveraged positions. All rates are expressed in basis
// points (1bp = 0.0001) and every function rejects inputs that would divide
// by zero instead of returning NaN or Inf.

const bpDivisor = 10_000.0

// BP converts basis points to a fraction.
func BP(bp float64) float64 {
	return bp / bpDivisor
}

// PositionSize returns the leveraged notional for the given capital.
func PositionSize(capital, leverage float64) (float64, error) {
	if capital <= 0 {
		return 0, fmt.Errorf("%w: %v", ErrInvalidCapital, capital)
	}
	if leverage <= 0 {
		return 0, fmt.Errorf("%w: %v", ErrInvalidLeverage, leverage)
	}
	return capital * leverage, nil
}

// Fee returns the one-sided transaction cost for a notional at rateBP.
func Fee(notional, rateBP float64) (float64, error) {
	if notional < 0 {
		return 0, fmt.Errorf("%w: %v", ErrInvalidNotional, notional)
	}
	if rateBP < 0 {
		return 0, fmt.Errorf("fee rate cannot be negative: %v", rateBP)
	}
	return notional * BP(rateBP), nil
}

// PriceWithSpread applies the bid/ask spread to a quoted price. Opening a long
// or closing a short pays the ask premium; opening a short or closing a long
// receives the bid discount.
func PriceWithSpread(price, spreadBP float64, opening bool, dir Direction) (float64, error) {
	if err := dir.Validate(); err != nil {
		return 0, err
	}
	if price <= 0 {
		return 0, fmt.Errorf("%w: %v", ErrInvalidPrice, price)
	}
	if spreadBP < 0 {
		return 0, fmt.Errorf("spread cannot be negative: %v", spreadBP)
	}
	payAsk := (opening && dir == Long) || (!opening && dir == Short)
	if payAsk {
		return price * (1 + BP(spreadBP)), nil
	}
	return price * (1 - BP(spreadBP)), nil
}

// LiquidationPrice approximates the isolated-margin liquidation level,
// ignoring maintenance margin. A long with leverage <= 1 cannot be liquidated
// above zero, so the result is clamped at 0.
func LiquidationPrice(entry, leverage float64, dir Direction) (float64, error) {
	if err := dir.Validate(); err != nil {
		return 0, err
	}
	if entry <= 0 {
		return 0, fmt.Errorf("%w: %v", ErrInvalidPrice, entry)
	}
	if leverage <= 0 {
		return 0, fmt.Errorf("%w: %v", ErrInvalidLeverage, leverage)
	}
	liq := entry * (1 - dir.sign()/leverage)
	return math.Max(liq, 0), nil
}

// BreakEvenPrice shifts entry by cost/notional in the profit direction.
func BreakEvenPrice(entry, cost, notional float64, dir Direction) (float64, error) {
	if err := dir.Validate(); err != nil {
		return 0, err
	}
	if entry <= 0 {
		return 0, fmt.Errorf("%w: %v", ErrInvalidPrice, entry)
	}
	if notional <= 0 {
		return 0, fmt.Errorf("%w: %v", ErrInvalidNotional, notional)
	}
	return entry * (1 + dir.sign()*cost/notional), nil
}

// PnLAtPrice returns the gross signed PnL of a position marked at current.
func PnLAtPrice(current, entry, notional float64, dir Direction) (float64, error) {
	if err := dir.Validate(); err != nil {
		return 0, err
	}
	if entry <= 0 {
		return 0, fmt.Errorf("%w: %v", ErrInvalidPrice, entry)
	}
	return dir.sign() * notional * (current - entry) / entry, nil
}

// NetPnLAtPrice is PnLAtPrice minus the given costs (fees and slippage).
func NetPnLAtPrice(current, entry, notional, costs float64, dir Direction) (float64, error) {
	gross, err := PnLAtPrice(current, entry, notional, dir)
	if err != nil {
		return 0, err
	}
	return gross - costs, nil
}

// PriceAtPnLMultiple is the inverse of NetPnLAtPrice: it returns the price at
// which the position nets multiple * committed capital after paying cost.
// Committed capital is notional / leverage.
func PriceAtPnLMultiple(multiple, cost, notional, leverage, entry float64, dir Direction) (float64, error) {
	if err := dir.Validate(); err != nil {
		return 0, err
	}
	if entry <= 0 {
		return 0, fmt.Errorf("%w: %v", ErrInvalidPrice, entry)
	}
	if notional <= 0 {
		return 0, fmt.Errorf("%w: %v", ErrInvalidNotional, notional)
	}
	if leverage <= 0 {
		return 0, fmt.Errorf("%w: %v", ErrInvalidLeverage, leverage)
	}
	desired := multiple * notional / leverage
	return entry * (1 + dir.sign()*(desired+cost)/notional), nil
}
