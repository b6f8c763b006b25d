package domain

import "fmt"

// EntrySpec is what an entry policy hands to the ledger to open a trade.
// Prices are raw quotes; spread is applied when the trade is built.
type EntrySpec struct {
	Direction     Direction
	EntryPrice    float64
	TakeProfit    float64
	StopLoss      float64
	CapitalToRisk float64 // margin to commit, before costs
}

// Validate rejects specs with absent or inconsistent fields.
func (s *EntrySpec) Validate() error {
	if s == nil {
		return fmt.Errorf("%w: entry spec is nil", ErrMissingField)
	}
	if err := s.Direction.Validate(); err != nil {
		return err
	}
	if s.EntryPrice <= 0 {
		return fmt.Errorf("%w: entry price", ErrMissingField)
	}
	if s.TakeProfit <= 0 {
		return fmt.Errorf("%w: take profit", ErrMissingField)
	}
	if s.StopLoss <= 0 {
		return fmt.Errorf("%w: stop loss", ErrMissingField)
	}
	if s.CapitalToRisk <= 0 {
		return fmt.Errorf("%w: capital to risk", ErrMissingField)
	}

	switch s.Direction {
	case Long:
		if s.StopLoss >= s.EntryPrice || s.TakeProfit <= s.EntryPrice {
			return fmt.Errorf("long entry requires stop < entry < take profit (sl=%v entry=%v tp=%v)",
				s.StopLoss, s.EntryPrice, s.TakeProfit)
		}
	case Short:
		if s.StopLoss <= s.EntryPrice || s.TakeProfit >= s.EntryPrice {
			return fmt.Errorf("short entry requires take profit < entry < stop (tp=%v entry=%v sl=%v)",
				s.TakeProfit, s.EntryPrice, s.StopLoss)
		}
	}
	return nil
}
