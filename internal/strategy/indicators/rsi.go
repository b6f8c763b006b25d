package indicators

import (
	"fmt"

	"marginBacktester/internal/domain"
)

// RSI is the Relative Strength Index with Wilder smoothing.
type RSI struct {
	period     int
	overbought float64
	oversold   float64
}

// NewRSI creates an RSI with overbought/oversold thresholds on the 0-100 scale.
func NewRSI(period int, overbought, oversold float64) (*RSI, error) {
	if period <= 0 {
		return nil, fmt.Errorf("RSI period must be positive, got %d", period)
	}
	if oversold < 0 || overbought > 100 || oversold >= overbought {
		return nil, fmt.Errorf("invalid RSI thresholds: oversold %v, overbought %v", oversold, overbought)
	}
	return &RSI{period: period, overbought: overbought, oversold: oversold}, nil
}

func (r *RSI) Name() string             { return fmt.Sprintf("RSI(%d)", r.period) }
func (r *RSI) RequiredDataPoints() int { return r.period + 1 }

// Calculate returns the RSI at the last bar.
func (r *RSI) Calculate(klines []*domain.Kline) (float64, error) {
	if err := need(r.Name(), len(klines), r.RequiredDataPoints()); err != nil {
		return 0, err
	}

	n := float64(r.period)
	var avgGain, avgLoss float64
	for i := 1; i < len(klines); i++ {
		change := klines[i].Close - klines[i-1].Close
		gain, loss := max(change, 0), max(-change, 0)
		if i <= r.period {
			avgGain += gain / n
			avgLoss += loss / n
			continue
		}
		avgGain = (avgGain*(n-1) + gain) / n
		avgLoss = (avgLoss*(n-1) + loss) / n
	}

	if avgLoss == 0 {
		if avgGain == 0 {
			return 50, nil
		}
		return 100, nil
	}
	return 100 - 100/(1+avgGain/avgLoss), nil
}

// IsOverbought reports whether value is at or above the overbought threshold.
func (r *RSI) IsOverbought(value float64) bool { return value >= r.overbought }

// IsOversold reports whether value is at or below the oversold threshold.
func (r *RSI) IsOversold(value float64) bool { return value <= r.oversold }
