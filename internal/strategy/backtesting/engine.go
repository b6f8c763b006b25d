package backtesting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"marginBacktester/internal/domain"
	"marginBacktester/internal/ports"
	"marginBacktester/internal/risk"
)

// Policies are the strategy hooks the engine calls on every bar.
// Entry is required; Exit and Trailing are optional.
type Policies struct {
	Entry    ports.EntryPolicy
	Exit     ports.ExitPolicy
	Trailing ports.TrailingStopPolicy
}

// Config holds configuration for a backtest engine.
type Config struct {
	InitialCapital float64
	MainTimeframe  domain.Timeframe
	Model          risk.Model
	Policies       Policies
	Logger         ports.Logger
}

// Result holds the outcome of a single run.
type Result struct {
	InitialCapital  float64
	FinalCapital    float64
	MainTimeframe   domain.Timeframe
	Symbols         []string
	Bars            int
	RejectedEntries int
	StartTime       time.Time
	EndTime         time.Time
	Trades          []*domain.Trade // closed trades in close order
	Duration        time.Duration   // wall clock time of the run
}

// Engine replays bars against a fresh ledger on every Run.
type Engine struct {
	cfg Config
}

// NewEngine validates the configuration and creates an engine.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("%w: logger is required for backtest engine", ports.ErrConfigurationError)
	}
	if cfg.Policies.Entry == nil {
		return nil, fmt.Errorf("%w: entry policy is required", ports.ErrConfigurationError)
	}
	if cfg.MainTimeframe == "" {
		return nil, fmt.Errorf("%w: main timeframe is required", ports.ErrConfigurationError)
	}
	if cfg.InitialCapital <= 0 {
		return nil, fmt.Errorf("%w: initial capital must be positive", ports.ErrConfigurationError)
	}
	if err := cfg.Model.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ports.ErrConfigurationError, err)
	}
	return &Engine{cfg: cfg}, nil
}

// Run replays the main timeframe of data in time order. For every bar it
// first marks and exits open trades of that symbol, then asks the entry policy
// for a new trade. Remaining trades are closed at the end of the stream.
func (e *Engine) Run(ctx context.Context, data domain.MarketData) (*Result, error) {
	started := time.Now()
	tf := e.cfg.MainTimeframe

	steps, err := buildFeed(data, tf)
	if err != nil {
		return nil, err
	}
	aux, err := newAuxIndex(data, tf)
	if err != nil {
		return nil, err
	}
	ledger, err := NewLedger(LedgerConfig{
		InitialCapital: e.cfg.InitialCapital,
		Model:          e.cfg.Model,
		Logger:         e.cfg.Logger,
	})
	if err != nil {
		return nil, err
	}

	series := data[tf]
	symbols := sortedSymbols(series)
	e.cfg.Logger.Info(ctx, "Backtest started", map[string]interface{}{
		"symbols":   symbols,
		"timeframe": tf,
		"bars":      len(steps),
		"capital":   e.cfg.InitialCapital,
		"leverage":  e.cfg.Model.Leverage,
	})

	lastPrices := make(map[string]float64, len(symbols))
	for _, s := range steps {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("backtest interrupted at %s: %w", s.bar.OpenTime.Format(time.RFC3339), errors.Join(ports.ErrContextCanceled, err))
		}

		ev := &ports.BarEvent{
			Symbol:    s.symbol,
			Timeframe: tf,
			Time:      s.bar.OpenTime,
			Bar:       s.bar,
			History:   series[s.symbol][: s.index+1 : s.index+1],
			Aux:       aux,
		}
		if err := ledger.MarkAll(ctx, ev, e.cfg.Policies); err != nil {
			return nil, fmt.Errorf("mark %s at %s: %w", s.symbol, s.bar.OpenTime.Format(time.RFC3339), err)
		}
		if err := e.enter(ctx, ledger, ev); err != nil {
			return nil, err
		}
		lastPrices[s.symbol] = s.bar.Close
	}

	startTime, endTime := steps[0].bar.OpenTime, steps[len(steps)-1].bar.OpenTime
	if err := ledger.CloseAll(ctx, endTime, lastPrices); err != nil {
		return nil, fmt.Errorf("close remaining trades: %w", err)
	}

	result := &Result{
		InitialCapital:  e.cfg.InitialCapital,
		FinalCapital:    ledger.AvailableCapital(),
		MainTimeframe:   tf,
		Symbols:         symbols,
		Bars:            len(steps),
		RejectedEntries: ledger.RejectedEntries(),
		StartTime:       startTime,
		EndTime:         endTime,
		Trades:          ledger.ClosedTrades(),
		Duration:        time.Since(started),
	}
	e.cfg.Logger.Info(ctx, "Backtest finished", map[string]interface{}{
		"trades":       len(result.Trades),
		"rejected":     result.RejectedEntries,
		"finalCapital": result.FinalCapital,
		"duration":     result.Duration,
	})
	return result, nil
}

// enter asks the entry policy for a trade and opens it when capital allows.
func (e *Engine) enter(ctx context.Context, ledger *Ledger, ev *ports.BarEvent) error {
	spec, err := e.cfg.Policies.Entry.Entry(ctx, ev)
	if err != nil {
		return fmt.Errorf("entry policy for %s at %s: %w", ev.Symbol, ev.Time.Format(time.RFC3339), err)
	}
	if spec == nil {
		return nil
	}
	if _, err := ledger.Open(ctx, ev.Symbol, ev.Time, *spec); err != nil {
		if errors.Is(err, ports.ErrInsufficientCapital) {
			return nil
		}
		return fmt.Errorf("open %s at %s: %w", ev.Symbol, ev.Time.Format(time.RFC3339), err)
	}
	return nil
}
