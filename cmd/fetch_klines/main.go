package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"marginBacktester/config"
	"marginBacktester/internal/adapters/binanceclient"
	"marginBacktester/internal/adapters/csvstore"
	"marginBacktester/internal/adapters/logger"
	"marginBacktester/internal/adapters/timescale"
	"marginBacktester/internal/domain"
	"marginBacktester/internal/ports"
)

// fetch_klines downloads the configured symbols and timeframes from Binance
// futures and stores them in DATA_DIR and, when TIMESCALE_DSN is set, in
// TimescaleDB.
func main() {
	if err := run(); err != nil {
		log.Printf("FATAL: %v", err)
		os.Exit(1)
	}
}

func run() error {
	parallel := flag.Int("parallel", 2, "symbol/timeframe series fetched concurrently")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// 2. Initialize Logger
	appLogger := logger.NewStdLogger(cfg.LogLevel)

	// 3. Initialize Exchange Client
	client, err := binanceclient.New(binanceclient.Config{
		APIKey:     cfg.APIKey,
		SecretKey:  cfg.SecretKey,
		UseTestnet: cfg.IsTestnet,
		Logger:     appLogger,
		MaxRetries: 5,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize Binance client: %w", err)
	}

	// 4. Initialize Sinks
	var sinks []ports.BarSink
	store, err := csvstore.New(cfg.DataDir, appLogger)
	if err != nil {
		return fmt.Errorf("failed to initialize CSV store: %w", err)
	}
	sinks = append(sinks, store)
	if cfg.TimescaleDSN != "" {
		ts, err := timescale.New(ctx, timescale.Config{DSN: cfg.TimescaleDSN, Logger: appLogger})
		if err != nil {
			return fmt.Errorf("failed to connect to TimescaleDB: %w", err)
		}
		defer ts.Close()
		sinks = append(sinks, ts)
	}

	timeframes := append([]domain.Timeframe{cfg.MainTimeframe}, cfg.AuxTimeframes...)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(*parallel, 1))
	for _, symbol := range cfg.Symbols {
		for _, tf := range timeframes {
			g.Go(func() error {
				return fetch(gctx, appLogger, client, sinks, symbol, tf, cfg)
			})
		}
	}
	if err := g.Wait(); err != nil {
		appLogger.Error(ctx, err, "Fetching klines failed")
		return fmt.Errorf("fetching klines: %w", err)
	}
	appLogger.Info(ctx, "All klines fetched", map[string]interface{}{
		"symbols":    len(cfg.Symbols),
		"timeframes": len(timeframes),
	})
	return nil
}

func fetch(ctx context.Context, appLogger ports.Logger, provider ports.BarProvider, sinks []ports.BarSink, symbol string, tf domain.Timeframe, cfg *config.Config) error {
	fields := map[string]interface{}{"symbol": symbol, "timeframe": string(tf)}
	appLogger.Info(ctx, "Fetching klines", fields, map[string]interface{}{
		"start": cfg.Start.Format("2006-01-02"),
		"end":   cfg.End.Format("2006-01-02"),
	})

	bars, err := provider.Bars(ctx, symbol, tf, cfg.Start, cfg.End)
	if err != nil {
		return err
	}
	if len(bars) == 0 {
		appLogger.Warn(ctx, "No klines returned", fields)
		return nil
	}
	for _, sink := range sinks {
		if err := sink.SaveBars(ctx, symbol, tf, bars); err != nil {
			return err
		}
	}
	appLogger.Info(ctx, "Fetched klines", fields, map[string]interface{}{"count": len(bars)})
	return nil
}
