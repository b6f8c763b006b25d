package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"

	"marginBacktester/config"
	"marginBacktester/internal/adapters/logger"
	"marginBacktester/internal/adapters/marketdata"
	"marginBacktester/internal/app"
	"marginBacktester/internal/domain"
	"marginBacktester/internal/strategy/analytics"
	"marginBacktester/internal/strategy/optimization"
)

// rangeFlags collects repeated -range name=min:max:step flags.
type rangeFlags []optimization.ParameterRange

func (r *rangeFlags) String() string {
	parts := make([]string, len(*r))
	for i, pr := range *r {
		parts[i] = fmt.Sprintf("%s=%v:%v:%v", pr.Name, pr.Min, pr.Max, pr.Step)
	}
	return strings.Join(parts, ",")
}

func (r *rangeFlags) Set(s string) error {
	pr, err := parseRange(s)
	if err != nil {
		return err
	}
	*r = append(*r, pr)
	return nil
}

// parseRange parses "name=min:max:step" or "name=value".
func parseRange(s string) (optimization.ParameterRange, error) {
	name, spec, ok := strings.Cut(s, "=")
	if !ok || name == "" {
		return optimization.ParameterRange{}, fmt.Errorf("range %q: expected name=min:max:step", s)
	}
	fields := strings.Split(spec, ":")
	if len(fields) != 1 && len(fields) != 3 {
		return optimization.ParameterRange{}, fmt.Errorf("range %q: expected 1 or 3 values", s)
	}
	values := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return optimization.ParameterRange{}, fmt.Errorf("range %q: %w", s, err)
		}
		values[i] = v
	}
	pr := optimization.ParameterRange{Name: strings.TrimSpace(name), Min: values[0], Max: values[0]}
	if len(values) == 3 {
		pr.Max, pr.Step = values[1], values[2]
	}
	pr.IsInt = pr.Name == app.ParamFastMA || pr.Name == app.ParamSlowMA
	return pr, nil
}

func main() {
	var ranges rangeFlags
	flag.Var(&ranges, "range", "parameter range name=min:max:step, repeatable; names: "+strings.Join(app.SweepParameters(), ", "))
	top := flag.Int("top", 10, "number of results to print")
	concurrency := flag.Int("concurrency", 0, "parallel runs, 0 uses all CPUs")
	flag.Parse()

	if len(ranges) == 0 {
		ranges = rangeFlags{
			{Name: app.ParamLeverage, Min: 5, Max: 20, Step: 5},
			{Name: app.ParamSpreadBP, Min: 0, Max: 4, Step: 2},
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}

	// 2. Initialize Loggers; individual runs log at Warn and above
	appLogger := logger.NewStdLogger(cfg.LogLevel)
	runLogger := logger.NewStdLogger(max(cfg.LogLevel, logger.LevelWarn))

	// 3. Load Market Data once for every run
	provider, closeProvider, err := marketdata.Open(ctx, cfg, appLogger)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize %s bar provider: %v", cfg.DataSource, err)
	}
	data, err := app.LoadMarketData(ctx, cfg, provider, appLogger)
	closeProvider()
	if err != nil {
		log.Fatalf("FATAL: Failed to load market data: %v", err)
	}

	// 4. Optimize
	optimizer, err := optimization.NewOptimizer(optimization.OptimizerConfig{
		ParameterRanges: ranges,
		Factory:         app.SweepFactory(cfg, runLogger),
		RiskFreeRate:    cfg.RiskFreeRate,
		Concurrency:     *concurrency,
		Logger:          appLogger,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to create optimizer: %v", err)
	}
	results, err := optimizer.Optimize(ctx, data)
	if err != nil {
		appLogger.Error(ctx, err, "Optimization failed")
		os.Exit(1)
	}

	printResults(results, ranges, *top)
}

func printResults(results []optimization.OptimizationResult, ranges rangeFlags, top int) {
	names := make([]string, len(ranges))
	for i, r := range ranges {
		names[i] = r.Name
	}
	sort.Strings(names)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "#\t%s\tScore\tTrades\tWin Rate\tProfit\tMax DD\tSharpe\tLiquidations\n", strings.Join(names, "\t"))
	for i, r := range results {
		if i >= top {
			break
		}
		params := make([]string, len(names))
		for j, n := range names {
			params[j] = strconv.FormatFloat(r.Parameters[n], 'f', -1, 64)
		}
		m := r.Metrics
		fmt.Fprintf(w, "%d\t%s\t%.3f\t%d\t%s\t%s\t%s\t%.2f\t%d\n",
			i+1, strings.Join(params, "\t"), r.Score, m.TotalTrades,
			analytics.FormatPercent(m.WinRate), analytics.FormatMoney(m.TotalProfit),
			analytics.FormatPercent(m.MaxDrawdown), m.SharpeRatio,
			m.CloseReasons[domain.CloseReasonLiquidation])
	}
	w.Flush()
}
