package domain

import (
	"fmt"
	"time"
)

// Direction represents the side of a leveraged position.
type Direction string

const (
	Long  Direction = "long"
	Short Direction = "short"
)

// ParseDirection converts a string to a Direction, rejecting anything but long/short.
func ParseDirection(s string) (Direction, error) {
	d := Direction(s)
	if err := d.Validate(); err != nil {
		return "", err
	}
	return d, nil
}

// Validate reports ErrInvalidDirection for unknown values.
func (d Direction) Validate() error {
	switch d {
	case Long, Short:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrInvalidDirection, string(d))
	}
}

// sign is +1 for long and -1 for short.
func (d Direction) sign() float64 {
	if d == Short {
		return -1
	}
	return 1
}

// CloseReason indicates why a trade was closed.
type CloseReason string

const (
	CloseReasonTakeProfit    CloseReason = "TP"
	CloseReasonStopLoss      CloseReason = "SL"
	CloseReasonLiquidation   CloseReason = "LIQ"
	CloseReasonExitCondition CloseReason = "exit_condition"
	CloseReasonEndOfBacktest CloseReason = "end_of_backtest"
	CloseReasonUnknown       CloseReason = "unknown"
)

// CloseReasons lists every reason in report order.
var CloseReasons = []CloseReason{
	CloseReasonTakeProfit,
	CloseReasonStopLoss,
	CloseReasonLiquidation,
	CloseReasonExitCondition,
	CloseReasonEndOfBacktest,
}

// InstrumentClass groups symbols that share a fee schedule.
type InstrumentClass string

const (
	ClassCrypto      InstrumentClass = "crypto"
	ClassForex       InstrumentClass = "forex"
	ClassMetals      InstrumentClass = "metals"
	ClassCommodities InstrumentClass = "commodities"
)

// Timeframe is a bar interval label such as "1m", "1h" or "1d".
type Timeframe string

var timeframeDurations = map[Timeframe]time.Duration{
	"1m":  time.Minute,
	"3m":  3 * time.Minute,
	"5m":  5 * time.Minute,
	"15m": 15 * time.Minute,
	"30m": 30 * time.Minute,
	"1h":  time.Hour,
	"2h":  2 * time.Hour,
	"4h":  4 * time.Hour,
	"6h":  6 * time.Hour,
	"8h":  8 * time.Hour,
	"12h": 12 * time.Hour,
	"1d":  24 * time.Hour,
	"3d":  72 * time.Hour,
	"1w":  7 * 24 * time.Hour,
}

// Duration returns the bar length of a known timeframe.
func (tf Timeframe) Duration() (time.Duration, error) {
	d, ok := timeframeDurations[tf]
	if !ok {
		return 0, fmt.Errorf("unknown timeframe %q", string(tf))
	}
	return d, nil
}
