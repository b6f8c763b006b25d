package app

import (
	"fmt"
	"sort"

	"marginBacktester/config"
	"marginBacktester/internal/ports"
	"marginBacktester/internal/strategy/backtesting"
	"marginBacktester/internal/strategy/optimization"
)

// Parameter names understood by SweepFactory.
const (
	ParamLeverage        = "leverage"
	ParamSpreadBP        = "spread_bp"
	ParamCapitalFraction = "capital_fraction"
	ParamTakeProfit      = "tp_multiple"
	ParamStopLoss        = "sl_multiple"
	ParamFastMA          = "fast_ma"
	ParamSlowMA          = "slow_ma"
)

var sweepSetters = map[string]func(c *config.Config, v float64){
	ParamLeverage:        func(c *config.Config, v float64) { c.Leverage = v },
	ParamSpreadBP:        func(c *config.Config, v float64) { c.SpreadBP = v },
	ParamCapitalFraction: func(c *config.Config, v float64) { c.StrategyCapitalFraction = v },
	ParamTakeProfit:      func(c *config.Config, v float64) { c.StrategyTakeProfitMultiple = v },
	ParamStopLoss:        func(c *config.Config, v float64) { c.StrategyStopLossMultiple = v },
	ParamFastMA:          func(c *config.Config, v float64) { c.StrategyFastMAPeriod = int(v) },
	ParamSlowMA:          func(c *config.Config, v float64) { c.StrategySlowMAPeriod = int(v) },
}

// SweepParameters lists the names SweepFactory accepts, sorted.
func SweepParameters() []string {
	names := make([]string, 0, len(sweepSetters))
	for name := range sweepSetters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SweepFactory returns an optimizer run factory that overrides base with
// each parameter combination. base itself is never modified.
func SweepFactory(base *config.Config, logger ports.Logger) optimization.RunFactory {
	return func(params map[string]float64) (backtesting.Config, error) {
		cfg := *base
		for name, v := range params {
			set, ok := sweepSetters[name]
			if !ok {
				return backtesting.Config{}, fmt.Errorf("%w: unknown sweep parameter %q", ports.ErrConfigurationError, name)
			}
			set(&cfg, v)
		}
		p, err := BuildPolicies(&cfg)
		if err != nil {
			return backtesting.Config{}, err
		}
		return backtesting.Config{
			InitialCapital: cfg.InitialCapital,
			MainTimeframe:  cfg.MainTimeframe,
			Model:          cfg.RiskModel(),
			Policies:       p,
			Logger:         logger,
		}, nil
	}
}
