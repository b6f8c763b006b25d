package app

import (
	"marginBacktester/config"
	"marginBacktester/internal/strategy/backtesting"
	"marginBacktester/internal/strategy/policies"
)

// BuildPolicies assembles the entry, exit and trailing policies from config.
// Each call returns fresh instances.
func BuildPolicies(cfg *config.Config) (backtesting.Policies, error) {
	entry, err := policies.NewMACrossEntry(cfg.EntryConfig(), cfg.RiskModel())
	if err != nil {
		return backtesting.Policies{}, err
	}
	p := backtesting.Policies{Entry: entry}

	if cfg.MaxHolding > 0 {
		p.Exit = policies.MaxHoldingExit{MaxHolding: cfg.MaxHolding}
	}
	if cfg.TrailingStop {
		trailing, err := policies.NewStepTrailingStop(nil, cfg.TrailingTakeProfitMultiple)
		if err != nil {
			return backtesting.Policies{}, err
		}
		p.Trailing = trailing
	}
	return p, nil
}
