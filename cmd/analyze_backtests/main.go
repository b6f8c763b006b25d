package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"marginBacktester/internal/adapters/csvstore"
	"marginBacktester/internal/adapters/logger"
	"marginBacktester/internal/adapters/sqlite"
	"marginBacktester/internal/domain"
	"marginBacktester/internal/strategy/analytics"
)

func main() {
	defaultDB := os.Getenv("DB_PATH")
	if defaultDB == "" {
		defaultDB = "./data/backtests.db"
	}
	dbPath := flag.String("db", defaultDB, "run journal database")
	runID := flag.Int64("run", 0, "show the full report of one run")
	limit := flag.Int("limit", 20, "number of runs to list")
	export := flag.String("export", "", "write the trades of -run to this CSV file")
	riskFree := flag.Float64("risk-free", analytics.DefaultRiskFreeRate, "annual risk free rate for ratios")
	flag.Parse()

	ctx := context.Background()
	appLogger := logger.NewStdLogger(logger.ParseLevel(os.Getenv("LOG_LEVEL")))

	repo, err := sqlite.NewRepository(sqlite.Config{DBPath: *dbPath, Logger: appLogger})
	if err != nil {
		log.Fatalf("FATAL: Failed to open run journal: %v", err)
	}
	defer repo.Close()

	if *runID == 0 {
		runs, err := repo.ListRuns(ctx, *limit)
		if err != nil {
			log.Fatalf("Error listing runs: %v", err)
		}
		if len(runs) == 0 {
			log.Println("No backtest runs recorded. Run the backtester with DB_PATH set first.")
			return
		}
		printRuns(os.Stdout, runs)
		return
	}

	run, err := repo.FindRun(ctx, *runID)
	if err != nil {
		log.Fatalf("Error loading run %d: %v", *runID, err)
	}
	trades, err := repo.FindTradesByRun(ctx, run.ID)
	if err != nil {
		log.Fatalf("Error loading trades of run %d: %v", run.ID, err)
	}

	opts := analytics.Options{
		RiskFreeRate:     *riskFree,
		MainTimeframe:    run.MainTimeframe,
		BacktestDuration: run.BacktestDuration,
	}
	printRunReport(os.Stdout, run, trades, opts)

	if *export != "" {
		f, err := os.Create(*export)
		if err != nil {
			log.Fatalf("Error creating %s: %v", *export, err)
		}
		if err := csvstore.WriteTrades(f, trades); err != nil {
			f.Close()
			log.Fatalf("Error writing %s: %v", *export, err)
		}
		if err := f.Close(); err != nil {
			log.Fatalf("Error closing %s: %v", *export, err)
		}
		appLogger.Info(ctx, "Trades exported", map[string]interface{}{"path": *export, "trades": len(trades)})
	}
}

func printRuns(out io.Writer, runs []*domain.RunRecord) {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', tabwriter.AlignRight|tabwriter.Debug)
	fmt.Fprintln(w, "ID\tLabel\tStarted\tSymbols\tTF\tLev\tSpread\tTrades\tPnL\tWinRate\tMaxDD\tSharpe\t")
	for _, r := range runs {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%.0f\t%.1f\t%d\t%s\t%s\t%s\t%.2f\t\n",
			r.ID,
			r.Label,
			r.StartedAt.Local().Format("2006-01-02 15:04"),
			strings.Join(r.Symbols, ","),
			r.MainTimeframe,
			r.Leverage,
			r.SpreadBP,
			r.TotalTrades,
			analytics.FormatMoney(r.TotalPnL),
			analytics.FormatPercent(r.WinRate),
			analytics.FormatPercent(r.MaxDrawdownPct),
			r.SharpeRatio,
		)
	}
	w.Flush()
}

func printRunReport(out io.Writer, run *domain.RunRecord, trades []*domain.Trade, opts analytics.Options) {
	metrics := analytics.AnalyzePerformance(trades, run.InitialCapital, opts)

	fmt.Fprintf(out, "## Run %d %s\n\n", run.ID, run.Label)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	for _, row := range metrics.Summary() {
		fmt.Fprintf(w, "%s\t%s\n", row.Name, row.Value)
	}
	w.Flush()

	bySymbol := analytics.AnalyzeBySymbol(trades, run.InitialCapital, opts)
	symbols := make([]string, 0, len(bySymbol))
	for s := range bySymbol {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)

	fmt.Fprintln(out, "\n## By Symbol")
	w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "Symbol\tTrades\tWin Rate\tProfit\tProfit Factor\tLiquidations")
	for _, s := range symbols {
		m := bySymbol[s]
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%.2f\t%d\n", s, m.TotalTrades,
			analytics.FormatPercent(m.WinRate), analytics.FormatMoney(m.TotalProfit),
			m.ProfitFactor, m.CloseReasons[domain.CloseReasonLiquidation])
	}
	w.Flush()

	monthly := metrics.GetMonthlyReturns()
	if len(monthly) == 0 {
		return
	}
	fmt.Fprintln(out, "\n## Monthly PnL")
	w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	for _, mr := range monthly {
		fmt.Fprintf(w, "%s\t%s\n", mr.Month.Format("2006-01"), analytics.FormatMoney(mr.Return))
	}
	w.Flush()
}
