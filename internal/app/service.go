package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"marginBacktester/config"
	"marginBacktester/internal/domain"
	"marginBacktester/internal/ports"
	"marginBacktester/internal/strategy/analytics"
	"marginBacktester/internal/strategy/backtesting"
)

// BacktestService loads market data, runs the simulation and reports on it.
type BacktestService struct {
	cfg      *config.Config
	logger   ports.Logger
	provider ports.BarProvider
	journal  ports.RunJournal // optional
	policies backtesting.Policies
}

// Output is everything a run produces.
type Output struct {
	RunID    int64 // zero when no journal is configured
	Result   *backtesting.Result
	Metrics  *analytics.PerformanceMetrics
	BySymbol map[string]*analytics.PerformanceMetrics
}

// NewBacktestService creates a new application service instance. journal may be nil.
func NewBacktestService(
	cfg *config.Config,
	logger ports.Logger,
	provider ports.BarProvider,
	journal ports.RunJournal,
	policies backtesting.Policies,
) (*BacktestService, error) {
	if cfg == nil || logger == nil || provider == nil || policies.Entry == nil {
		return nil, fmt.Errorf("%w: missing required dependencies for BacktestService", ports.ErrConfigurationError)
	}
	if len(cfg.Symbols) == 0 {
		return nil, fmt.Errorf("%w: no symbols configured", ports.ErrConfigurationError)
	}
	return &BacktestService{
		cfg:      cfg,
		logger:   logger,
		provider: provider,
		journal:  journal,
		policies: policies,
	}, nil
}

// Run executes one backtest over the configured window.
func (s *BacktestService) Run(ctx context.Context) (*Output, error) {
	startedAt := time.Now()

	data, err := s.loadBars(ctx)
	if err != nil {
		return nil, err
	}

	engine, err := backtesting.NewEngine(backtesting.Config{
		InitialCapital: s.cfg.InitialCapital,
		MainTimeframe:  s.cfg.MainTimeframe,
		Model:          s.cfg.RiskModel(),
		Policies:       s.policies,
		Logger:         s.logger,
	})
	if err != nil {
		return nil, err
	}
	result, err := engine.Run(ctx, data)
	if err != nil {
		s.logger.Error(ctx, err, "Backtest failed")
		return nil, err
	}

	opts := analytics.Options{
		RiskFreeRate:     s.cfg.RiskFreeRate,
		MainTimeframe:    result.MainTimeframe,
		BacktestDuration: result.Duration,
	}
	out := &Output{
		Result:   result,
		Metrics:  analytics.AnalyzePerformance(result.Trades, result.InitialCapital, opts),
		BySymbol: analytics.AnalyzeBySymbol(result.Trades, result.InitialCapital, opts),
	}

	if s.journal != nil {
		if out.RunID, err = s.record(ctx, startedAt, out); err != nil {
			return out, err
		}
	}

	s.logger.Info(ctx, "Backtest finished", map[string]interface{}{
		"runID":        out.RunID,
		"trades":       out.Metrics.TotalTrades,
		"finalCapital": out.Metrics.FinalCapital,
		"return":       out.Metrics.Return,
		"maxDrawdown":  out.Metrics.MaxDrawdown,
		"rejected":     result.RejectedEntries,
		"duration":     result.Duration.String(),
	})
	return out, nil
}

func (s *BacktestService) loadBars(ctx context.Context) (domain.MarketData, error) {
	return LoadMarketData(ctx, s.cfg, s.provider, s.logger)
}

// LoadMarketData fetches every configured symbol on the main and auxiliary
// timeframes. Missing auxiliary series are tolerated; missing main series are not.
func LoadMarketData(ctx context.Context, cfg *config.Config, provider ports.BarProvider, logger ports.Logger) (domain.MarketData, error) {
	data := make(domain.MarketData)
	timeframes := append([]domain.Timeframe{cfg.MainTimeframe}, cfg.AuxTimeframes...)

	for _, tf := range timeframes {
		for _, symbol := range cfg.Symbols {
			bars, err := provider.Bars(ctx, symbol, tf, cfg.Start, cfg.End)
			if err != nil && (tf == cfg.MainTimeframe || !errors.Is(err, ports.ErrNotFound)) {
				return nil, fmt.Errorf("load %s %s bars: %w", symbol, tf, err)
			}
			if len(bars) == 0 {
				if tf == cfg.MainTimeframe {
					return nil, fmt.Errorf("%w: %s %s between %s and %s", ports.ErrNoBars, symbol, tf,
						cfg.Start.Format(time.RFC3339), cfg.End.Format(time.RFC3339))
				}
				logger.Warn(ctx, "No auxiliary bars loaded", map[string]interface{}{"symbol": symbol, "timeframe": tf})
				continue
			}
			data.Add(tf, symbol, bars)
			logger.Debug(ctx, "Bars loaded", map[string]interface{}{
				"symbol":    symbol,
				"timeframe": tf,
				"count":     len(bars),
			})
		}
	}
	return data, nil
}

func (s *BacktestService) record(ctx context.Context, startedAt time.Time, out *Output) (int64, error) {
	run := &domain.RunRecord{
		Label:            s.cfg.RunLabel,
		StartedAt:        startedAt,
		Symbols:          out.Result.Symbols,
		MainTimeframe:    out.Result.MainTimeframe,
		InitialCapital:   out.Result.InitialCapital,
		FinalCapital:     out.Result.FinalCapital,
		Leverage:         s.cfg.Leverage,
		SpreadBP:         s.cfg.SpreadBP,
		TotalTrades:      out.Metrics.TotalTrades,
		TotalPnL:         out.Metrics.TotalProfit,
		WinRate:          out.Metrics.WinRate,
		MaxDrawdownPct:   out.Metrics.MaxDrawdown,
		SharpeRatio:      out.Metrics.SharpeRatio,
		BacktestDuration: out.Result.Duration,
	}
	id, err := s.journal.CreateRun(ctx, run)
	if err != nil {
		s.logger.Error(ctx, err, "Failed to save backtest run")
		return 0, fmt.Errorf("save run: %w", err)
	}
	if err := s.journal.SaveTrades(ctx, id, out.Result.Trades); err != nil {
		s.logger.Error(ctx, err, "Failed to save trades", map[string]interface{}{"runID": id})
		return id, fmt.Errorf("save trades of run %d: %w", id, err)
	}
	return id, nil
}
