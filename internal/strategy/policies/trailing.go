package policies

import (
	"context"
	"fmt"
	"sort"

	"marginBacktester/internal/domain"
	"marginBacktester/internal/ports"
)

// TrailingStep moves the stop loss to NewStopMultiple once the unrealized
// PnL reaches TriggerMultiple. Both are multiples of the trade margin.
type TrailingStep struct {
	TriggerMultiple float64
	NewStopMultiple float64
}

// DefaultTrailingSteps is the stepped ladder used by the live trailing job.
func DefaultTrailingSteps() []TrailingStep {
	return []TrailingStep{
		{4.00, 3.50},
		{3.50, 3.00},
		{3.00, 2.75},
		{2.75, 2.50},
		{2.50, 2.25},
		{2.25, 2.00},
		{2.00, 1.75},
		{1.75, 1.50},
		{1.50, 1.25},
		{1.25, 1.00},
		{1.00, 0.75},
		{0.75, 0.45},
		{0.50, 0.22},
		{0.25, 0.12},
		{0.12, 0.05},
		{0.06, 0.025},
	}
}

// StepTrailingStop implements ports.TrailingStopPolicy with a PnL ladder.
type StepTrailingStop struct {
	steps []TrailingStep
	// takeProfitMultiple, when positive, pushes the take profit out to this
	// PnL multiple once any step has triggered.
	takeProfitMultiple float64
}

// NewStepTrailingStop validates the ladder and sorts it by trigger, highest first.
func NewStepTrailingStop(steps []TrailingStep, takeProfitMultiple float64) (*StepTrailingStop, error) {
	if len(steps) == 0 {
		steps = DefaultTrailingSteps()
	}
	sorted := make([]TrailingStep, len(steps))
	copy(sorted, steps)
	for _, s := range sorted {
		if s.TriggerMultiple <= 0 || s.NewStopMultiple >= s.TriggerMultiple {
			return nil, fmt.Errorf("invalid trailing step %+v: stop multiple must be below a positive trigger", s)
		}
	}
	if takeProfitMultiple < 0 {
		return nil, fmt.Errorf("take profit multiple cannot be negative: %v", takeProfitMultiple)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].TriggerMultiple > sorted[j].TriggerMultiple })
	return &StepTrailingStop{steps: sorted, takeProfitMultiple: takeProfitMultiple}, nil
}

// Adjust tightens the stop to the highest step the trade has reached.
func (p *StepTrailingStop) Adjust(_ context.Context, trade *domain.Trade, _ *ports.BarEvent) {
	step, ok := p.reached(trade)
	if !ok {
		return
	}

	stop, err := p.priceAt(trade, step.NewStopMultiple)
	if err != nil {
		return
	}
	trade.TightenStop(stop)

	if p.takeProfitMultiple <= 0 {
		return
	}
	tp, err := p.priceAt(trade, p.takeProfitMultiple)
	if err != nil {
		return
	}
	if (trade.Direction == domain.Long && tp > trade.TakeProfit) || (trade.Direction == domain.Short && tp < trade.TakeProfit) {
		trade.TakeProfit = tp
	}
}

func (p *StepTrailingStop) reached(trade *domain.Trade) (TrailingStep, bool) {
	for _, s := range p.steps {
		if trade.UnrealizedPnL >= s.TriggerMultiple*trade.Margin {
			return s, true
		}
	}
	return TrailingStep{}, false
}

func (p *StepTrailingStop) priceAt(trade *domain.Trade, multiple float64) (float64, error) {
	return domain.PriceAtPnLMultiple(multiple, trade.RoundTripCost(), trade.Notional, trade.Leverage, trade.EntryPrice, trade.Direction)
}
