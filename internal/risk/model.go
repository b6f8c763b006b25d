package risk

import (
	"fmt"
	"strings"
	"time"

	"marginBacktester/internal/domain"
)

// DefaultLiquidationThreshold is the fraction of committed capital an
// unrealized loss may reach before the position counts as liquidated.
const DefaultLiquidationThreshold = 0.99

// Model holds the cost and margin parameters a ledger applies to every trade.
type Model struct {
	Leverage             float64
	SpreadBP             float64
	SlippageBP           float64
	LiquidationThreshold float64
	Fees                 FeeSchedule
}

// Quote is the capital breakdown of a prospective trade.
type Quote struct {
	Notional        float64
	Margin          float64
	FeeBP           float64
	OrderFee        float64
	SlippageReserve float64
	Required        float64 // margin + order fee + slippage reserve
}

// Validate checks the model parameters.
func (m Model) Validate() error {
	var errs []string
	if m.Leverage <= 0 {
		errs = append(errs, "leverage must be positive")
	}
	if m.SpreadBP < 0 || m.SpreadBP >= 10_000 {
		errs = append(errs, "spread must be in [0, 10000) bp")
	}
	if m.SlippageBP < 0 {
		errs = append(errs, "slippage cannot be negative")
	}
	if m.LiquidationThreshold <= 0 || m.LiquidationThreshold > 1 {
		errs = append(errs, "liquidation threshold must be in (0, 1]")
	}
	if err := m.Fees.Validate(); err != nil {
		errs = append(errs, err.Error())
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid risk model: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Quote computes the capital required to risk capitalToRisk on symbol.
func (m Model) Quote(symbol string, capitalToRisk float64) (Quote, error) {
	notional, err := domain.PositionSize(capitalToRisk, m.Leverage)
	if err != nil {
		return Quote{}, err
	}
	rate, err := m.Fees.RateBP(symbol)
	if err != nil {
		return Quote{}, err
	}
	fee, err := domain.Fee(notional, rate)
	if err != nil {
		return Quote{}, err
	}
	q := Quote{
		Notional:        notional,
		Margin:          capitalToRisk,
		FeeBP:           rate,
		OrderFee:        fee,
		SlippageReserve: notional * domain.BP(m.SlippageBP),
	}
	q.Required = q.Margin + q.OrderFee + q.SlippageReserve
	return q, nil
}

// TradeParams builds the parameters for a trade opened under this model.
func (m Model) TradeParams(symbol string, at time.Time, spec domain.EntrySpec) (domain.TradeParams, error) {
	rate, err := m.Fees.RateBP(symbol)
	if err != nil {
		return domain.TradeParams{}, err
	}
	return domain.TradeParams{
		Symbol:     symbol,
		EntryTime:  at,
		Spec:       spec,
		Leverage:   m.Leverage,
		SpreadBP:   m.SpreadBP,
		FeeBP:      rate,
		SlippageBP: m.SlippageBP,
	}, nil
}

// ShouldLiquidate reports whether price crosses the trade's liquidation level
// or its unrealized loss exceeds the threshold share of committed capital.
// The trade must already be marked at price.
func (m Model) ShouldLiquidate(t *domain.Trade, price float64) bool {
	crossed := (t.Direction == domain.Long && price <= t.LiquidationPrice) ||
		(t.Direction == domain.Short && price >= t.LiquidationPrice)
	return crossed || t.UnrealizedPnL < -m.LiquidationThreshold*t.CapitalCommitted
}
