package indicators

import (
	"fmt"

	"gonum.org/v1/gonum/stat"

	"marginBacktester/internal/domain"
)

// MovingAverageType defines the type of moving average
type MovingAverageType string

const (
	SimpleMovingAverage      MovingAverageType = "SMA"
	ExponentialMovingAverage MovingAverageType = "EMA"
)

// MovingAverage is an SMA or EMA of closing prices.
type MovingAverage struct {
	kind   MovingAverageType
	period int
}

// NewMovingAverage validates the parameters and creates a moving average.
func NewMovingAverage(kind MovingAverageType, period int) (*MovingAverage, error) {
	if period <= 0 {
		return nil, fmt.Errorf("moving average period must be positive, got %d", period)
	}
	switch kind {
	case SimpleMovingAverage, ExponentialMovingAverage:
	default:
		return nil, fmt.Errorf("unsupported moving average type: %s", kind)
	}
	return &MovingAverage{kind: kind, period: period}, nil
}

func (m *MovingAverage) Name() string             { return fmt.Sprintf("%s(%d)", m.kind, m.period) }
func (m *MovingAverage) RequiredDataPoints() int { return m.period }

// Calculate returns the moving average at the last bar.
func (m *MovingAverage) Calculate(klines []*domain.Kline) (float64, error) {
	if err := need(m.Name(), len(klines), m.period); err != nil {
		return 0, err
	}
	values := closes(klines)
	if m.kind == SimpleMovingAverage {
		return SMA(values, m.period), nil
	}
	return EMA(values, m.period), nil
}

// SMA is the mean of the last period values. The caller guarantees enough values.
func SMA(values []float64, period int) float64 {
	return stat.Mean(values[len(values)-period:], nil)
}

// EMA seeds with the SMA of the first period values and smooths the rest.
func EMA(values []float64, period int) float64 {
	k := 2.0 / float64(period+1)
	ema := stat.Mean(values[:period], nil)
	for _, v := range values[period:] {
		ema += (v - ema) * k
	}
	return ema
}
