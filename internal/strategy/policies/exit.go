package policies

import (
	"context"
	"time"

	"marginBacktester/internal/domain"
	"marginBacktester/internal/ports"
)

// MaxHoldingExit closes trades held for at least MaxHolding.
type MaxHoldingExit struct {
	MaxHolding time.Duration
}

// ShouldExit implements ports.ExitPolicy. A non-positive MaxHolding never exits.
func (p MaxHoldingExit) ShouldExit(_ context.Context, trade *domain.Trade, ev *ports.BarEvent) bool {
	if p.MaxHolding <= 0 {
		return false
	}
	return ev.Time.Sub(trade.EntryTime) >= p.MaxHolding
}
