package indicators

import (
	"errors"
	"fmt"

	"marginBacktester/internal/domain"
)

// ErrInsufficientData is returned when fewer bars than the indicator needs are supplied.
var ErrInsufficientData = errors.New("not enough data points")

// Indicator computes a single value from the most recent bars.
type Indicator interface {
	// Calculate returns the value as of the last bar in klines.
	Calculate(klines []*domain.Kline) (float64, error)
	// RequiredDataPoints returns the minimum number of bars Calculate needs.
	RequiredDataPoints() int
	Name() string
}

func need(name string, have, want int) error {
	if have < want {
		return fmt.Errorf("%s: need %d, got %d: %w", name, want, have, ErrInsufficientData)
	}
	return nil
}

func closes(klines []*domain.Kline) []float64 {
	out := make([]float64, len(klines))
	for i, k := range klines {
		out[i] = k.Close
	}
	return out
}
