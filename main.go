package main

import (
	"context"
	"fmt"
	"log" // Use standard log only for initial fatal errors before logger is set up
	"os"
	"os/signal"
	"sort"
	"syscall"
	"text/tabwriter"

	"marginBacktester/config"
	"marginBacktester/internal/adapters/csvstore"
	"marginBacktester/internal/adapters/logger"
	"marginBacktester/internal/adapters/marketdata"
	"marginBacktester/internal/adapters/sqlite"
	"marginBacktester/internal/app"
	"marginBacktester/internal/ports"
	"marginBacktester/internal/strategy/analytics"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}

	// 2. Initialize Logger
	appLogger := logger.NewStdLogger(cfg.LogLevel)
	ctx = logger.WithFields(ctx, map[string]interface{}{"run": cfg.RunLabel})
	appLogger.Info(ctx, "Logger initialized", map[string]interface{}{"level": cfg.LogLevel.String()})

	// 3. Initialize Bar Provider
	provider, closeProvider, err := marketdata.Open(ctx, cfg, appLogger)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize %s bar provider: %v", cfg.DataSource, err)
	}
	defer func() {
		if err := closeProvider(); err != nil {
			appLogger.Error(ctx, err, "Error closing bar provider")
		}
	}()

	// 4. Initialize Run Journal (optional)
	var journal ports.RunJournal
	if cfg.DBPath != "" {
		repo, err := sqlite.NewRepository(sqlite.Config{DBPath: cfg.DBPath, Logger: appLogger})
		if err != nil {
			log.Fatalf("FATAL: Failed to initialize database repository: %v", err)
		}
		defer func() {
			if err := repo.Close(); err != nil {
				appLogger.Error(ctx, err, "Error closing database repository")
			}
		}()
		journal = repo
	}

	// 5. Initialize Strategy Policies and Service
	policies, err := app.BuildPolicies(cfg)
	if err != nil {
		log.Fatalf("FATAL: Failed to build strategy policies: %v", err)
	}
	service, err := app.NewBacktestService(cfg, appLogger, provider, journal, policies)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize backtest service: %v", err)
	}

	// 6. Run
	out, err := service.Run(ctx)
	if err != nil && out == nil {
		appLogger.Error(ctx, err, "Backtest failed")
		os.Exit(1)
	}
	if err != nil {
		appLogger.Error(ctx, err, "Backtest finished but could not be recorded")
	}

	printReport(os.Stdout, out)

	if path := cfg.TradesCSV; path != "" {
		if err := writeTrades(path, out); err != nil {
			appLogger.Error(ctx, err, "Failed to export trades", map[string]interface{}{"path": path})
		} else {
			appLogger.Info(ctx, "Trades exported", map[string]interface{}{"path": path})
		}
	}
}

func printReport(f *os.File, out *app.Output) {
	w := tabwriter.NewWriter(f, 0, 0, 2, ' ', 0)
	if out.RunID != 0 {
		fmt.Fprintf(w, "Run ID\t%d\n", out.RunID)
	}
	for _, row := range out.Metrics.Summary() {
		fmt.Fprintf(w, "%s\t%s\n", row.Name, row.Value)
	}
	w.Flush()

	if len(out.BySymbol) < 2 {
		return
	}
	symbols := make([]string, 0, len(out.BySymbol))
	for s := range out.BySymbol {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)

	fmt.Fprintln(f)
	w = tabwriter.NewWriter(f, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "Symbol\tTrades\tWin Rate\tProfit\tMax DD")
	for _, s := range symbols {
		m := out.BySymbol[s]
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\n", s, m.TotalTrades,
			analytics.FormatPercent(m.WinRate), analytics.FormatMoney(m.TotalProfit), analytics.FormatPercent(m.MaxDrawdown))
	}
	w.Flush()
}

func writeTrades(path string, out *app.Output) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := csvstore.WriteTrades(f, out.Result.Trades); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
