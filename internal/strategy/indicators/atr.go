package indicators

import (
	"fmt"
	"math"

	"marginBacktester/internal/domain"
)

// ATR is the Average True Range with Wilder smoothing.
type ATR struct {
	period int
}

// NewATR creates an ATR over period bars.
func NewATR(period int) (*ATR, error) {
	if period <= 0 {
		return nil, fmt.Errorf("ATR period must be positive, got %d", period)
	}
	return &ATR{period: period}, nil
}

func (a *ATR) Name() string             { return fmt.Sprintf("ATR(%d)", a.period) }
func (a *ATR) RequiredDataPoints() int { return a.period + 1 }

// Calculate returns the smoothed true range at the last bar.
func (a *ATR) Calculate(klines []*domain.Kline) (float64, error) {
	if err := need(a.Name(), len(klines), a.RequiredDataPoints()); err != nil {
		return 0, err
	}

	atr := 0.0
	for i := 0; i < len(klines); i++ {
		tr := klines[i].High - klines[i].Low
		if i > 0 {
			prev := klines[i-1].Close
			tr = math.Max(tr, math.Max(math.Abs(klines[i].High-prev), math.Abs(klines[i].Low-prev)))
		}
		switch {
		case i < a.period:
			atr += tr / float64(a.period)
		default:
			atr = (atr*float64(a.period-1) + tr) / float64(a.period)
		}
	}
	return atr, nil
}
