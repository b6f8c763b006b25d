package optimization

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"

	"marginBacktester/internal/domain"
	"marginBacktester/internal/ports"
	"marginBacktester/internal/strategy/analytics"
	"marginBacktester/internal/strategy/backtesting"
)

// ParameterRange defines a range for a parameter to optimize
type ParameterRange struct {
	Name  string
	Min   float64
	Max   float64
	Step  float64
	IsInt bool
}

// RunFactory builds the engine configuration for one parameter combination.
// Every call must return fresh policies; runs execute concurrently.
type RunFactory func(params map[string]float64) (backtesting.Config, error)

// OptimizationResult holds the results of a parameter optimization
type OptimizationResult struct {
	Parameters map[string]float64
	Result     *backtesting.Result
	Metrics    *analytics.PerformanceMetrics
	Score      float64
}

// OptimizerConfig holds configuration for the optimizer
type OptimizerConfig struct {
	ParameterRanges []ParameterRange
	Factory         RunFactory
	ScoreFunction   func(*analytics.PerformanceMetrics) float64
	RiskFreeRate    float64
	Concurrency     int // defaults to GOMAXPROCS
	Logger          ports.Logger
}

// Optimizer runs a grid of independent backtests and ranks them.
type Optimizer struct {
	config OptimizerConfig
}

// NewOptimizer creates a new optimizer instance
func NewOptimizer(config OptimizerConfig) (*Optimizer, error) {
	if config.Factory == nil {
		return nil, fmt.Errorf("%w: run factory is required", ports.ErrConfigurationError)
	}
	if config.Logger == nil {
		return nil, fmt.Errorf("%w: logger is required", ports.ErrConfigurationError)
	}
	for _, r := range config.ParameterRanges {
		if r.Name == "" || r.Max < r.Min || (r.Max > r.Min && r.Step <= 0) {
			return nil, fmt.Errorf("%w: invalid parameter range %+v", ports.ErrConfigurationError, r)
		}
	}
	if config.ScoreFunction == nil {
		config.ScoreFunction = DefaultScoreFunction
	}
	if config.Concurrency <= 0 {
		config.Concurrency = runtime.GOMAXPROCS(0)
	}
	return &Optimizer{config: config}, nil
}

// Optimize runs every parameter combination over data and returns the
// successful runs sorted by score, best first. Combinations the factory or
// the engine reject are logged and skipped.
func (o *Optimizer) Optimize(ctx context.Context, data domain.MarketData) ([]OptimizationResult, error) {
	combinations := o.generateParameterCombinations()
	slots := make([]*OptimizationResult, len(combinations))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.config.Concurrency)
	for i, params := range combinations {
		g.Go(func() error {
			res, err := o.run(gctx, params, data)
			if err != nil {
				if errors.Is(err, ports.ErrContextCanceled) {
					return err
				}
				o.config.Logger.Warn(gctx, "Skipping parameter combination", map[string]interface{}{
					"parameters": params,
					"error":      err.Error(),
				})
				return nil
			}
			slots[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	results := make([]OptimizationResult, 0, len(slots))
	for _, r := range slots {
		if r != nil {
			results = append(results, *r)
		}
	}
	sortResultsByScore(results)

	o.config.Logger.Info(ctx, "Optimization finished", map[string]interface{}{
		"combinations": len(combinations),
		"completed":    len(results),
	})
	return results, nil
}

func (o *Optimizer) run(ctx context.Context, params map[string]float64, data domain.MarketData) (*OptimizationResult, error) {
	cfg, err := o.config.Factory(params)
	if err != nil {
		return nil, err
	}
	engine, err := backtesting.NewEngine(cfg)
	if err != nil {
		return nil, err
	}
	result, err := engine.Run(ctx, data)
	if err != nil {
		return nil, err
	}

	metrics := analytics.AnalyzePerformance(result.Trades, result.InitialCapital, analytics.Options{
		RiskFreeRate:     o.config.RiskFreeRate,
		MainTimeframe:    result.MainTimeframe,
		BacktestDuration: result.Duration,
	})
	return &OptimizationResult{
		Parameters: params,
		Result:     result,
		Metrics:    metrics,
		Score:      o.config.ScoreFunction(metrics),
	}, nil
}

// generateParameterCombinations generates all possible parameter combinations
// in range order, the last range varying fastest.
func (o *Optimizer) generateParameterCombinations() []map[string]float64 {
	var combinations []map[string]float64
	current := make(map[string]float64)

	var generate func(int)
	generate = func(paramIndex int) {
		if paramIndex == len(o.config.ParameterRanges) {
			combination := make(map[string]float64, len(current))
			for k, v := range current {
				combination[k] = v
			}
			combinations = append(combinations, combination)
			return
		}

		param := o.config.ParameterRanges[paramIndex]
		for _, value := range param.values() {
			current[param.Name] = value
			generate(paramIndex + 1)
		}
	}

	generate(0)
	return combinations
}

// values steps by index so float drift cannot add or drop a point.
func (r ParameterRange) values() []float64 {
	n := 1
	if r.Step > 0 {
		n = int(math.Floor((r.Max-r.Min)/r.Step+1e-9)) + 1
	}
	out := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		v := r.Min + float64(i)*r.Step
		if r.IsInt {
			v = math.Round(v)
		} else {
			v = math.Round(v*1e10) / 1e10
		}
		out = append(out, v)
	}
	return out
}

// sortResultsByScore sorts optimization results by score in descending order
func sortResultsByScore(results []OptimizationResult) {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
}

// DefaultScoreFunction blends win rate, profit factor, drawdown, return and
// reward/risk into a single score.
func DefaultScoreFunction(metrics *analytics.PerformanceMetrics) float64 {
	score := 0.0
	score += metrics.WinRate * 0.3
	score += metrics.ProfitFactor * 0.2
	score += (1 - metrics.MaxDrawdown) * 0.2
	score += metrics.Return * 0.2
	score += metrics.RiskRewardRatio * 0.1
	return score
}
