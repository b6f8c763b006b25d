package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marginBacktester/config"
	"marginBacktester/internal/adapters/csvstore"
	"marginBacktester/internal/domain"
	"marginBacktester/internal/ports"
	"marginBacktester/internal/risk"
	"marginBacktester/internal/strategy/backtesting"
)

// Mock implementations
type mockLogger struct {
	infoMsgs  []string
	warnMsgs  []string
	errorMsgs []string
}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}

func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.infoMsgs = append(m.infoMsgs, msg)
}

func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.warnMsgs = append(m.warnMsgs, msg)
}

func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
	m.errorMsgs = append(m.errorMsgs, msg)
}

type mockProvider struct {
	bars  map[string][]*domain.Kline // keyed by symbol/timeframe
	err   error
	calls []string
}

func (m *mockProvider) Bars(ctx context.Context, symbol string, tf domain.Timeframe, start, end time.Time) ([]*domain.Kline, error) {
	key := symbol + "/" + string(tf)
	m.calls = append(m.calls, key)
	if m.err != nil {
		return nil, m.err
	}
	return m.bars[key], nil
}

type mockJournal struct {
	runs      []*domain.RunRecord
	trades    map[int64][]*domain.Trade
	createErr error
	saveErr   error
}

func (m *mockJournal) CreateRun(ctx context.Context, run *domain.RunRecord) (int64, error) {
	if m.createErr != nil {
		return 0, m.createErr
	}
	m.runs = append(m.runs, run)
	return int64(len(m.runs)), nil
}

func (m *mockJournal) SaveTrades(ctx context.Context, runID int64, trades []*domain.Trade) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	if m.trades == nil {
		m.trades = make(map[int64][]*domain.Trade)
	}
	m.trades[runID] = trades
	return nil
}

func (m *mockJournal) FindTradesByRun(ctx context.Context, runID int64) ([]*domain.Trade, error) {
	return m.trades[runID], nil
}

func (m *mockJournal) ListRuns(ctx context.Context, limit int) ([]*domain.RunRecord, error) {
	return m.runs, nil
}

var start = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func testConfig() *config.Config {
	return &config.Config{
		Symbols:                    []string{"BTCUSDT"},
		MainTimeframe:              "1h",
		Start:                      start,
		End:                        start.Add(24 * time.Hour),
		InitialCapital:             10_000,
		Leverage:                   10,
		SpreadBP:                   1,
		LiquidationThreshold:       risk.DefaultLiquidationThreshold,
		FeeRates:                   risk.DefaultFeeRates(),
		DefaultInstrumentClass:     domain.ClassCrypto,
		RiskFreeRate:               0.02,
		RunLabel:                   "unit",
		StrategyFastMAPeriod:       2,
		StrategySlowMAPeriod:       3,
		StrategyCapitalFraction:    0.1,
		StrategyTakeProfitMultiple: 1,
		StrategyStopLossMultiple:   0.5,
	}
}

func hourly(symbol string, tf domain.Timeframe, step time.Duration, closes ...float64) []*domain.Kline {
	out := make([]*domain.Kline, len(closes))
	for i, c := range closes {
		open := start.Add(time.Duration(i) * step)
		out[i] = &domain.Kline{
			Symbol: symbol, Interval: tf,
			OpenTime: open, CloseTime: open.Add(step - time.Millisecond),
			Open: c, High: c, Low: c, Close: c,
		}
	}
	return out
}

func firstBarLong() backtesting.Policies {
	return backtesting.Policies{Entry: ports.EntryFunc(func(ctx context.Context, ev *ports.BarEvent) (*domain.EntrySpec, error) {
		if len(ev.History) != 1 {
			return nil, nil
		}
		c := ev.Bar.Close
		return &domain.EntrySpec{Direction: domain.Long, EntryPrice: c, TakeProfit: c * 1.1, StopLoss: c * 0.95, CapitalToRisk: 1000}, nil
	})}
}

func TestBacktestService_Run(t *testing.T) {
	provider := &mockProvider{bars: map[string][]*domain.Kline{
		"BTCUSDT/1h": hourly("BTCUSDT", "1h", time.Hour, 100, 105, 111),
	}}
	journal := &mockJournal{}
	log := &mockLogger{}

	svc, err := NewBacktestService(testConfig(), log, provider, journal, firstBarLong())
	require.NoError(t, err)

	out, err := svc.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(1), out.RunID)
	assert.Equal(t, 1, out.Metrics.TotalTrades)
	assert.Greater(t, out.Metrics.FinalCapital, 10_000.0)
	require.Contains(t, out.BySymbol, "BTCUSDT")
	assert.Equal(t, 1, out.BySymbol["BTCUSDT"].TotalTrades)

	require.Len(t, journal.runs, 1)
	run := journal.runs[0]
	assert.Equal(t, "unit", run.Label)
	assert.Equal(t, []string{"BTCUSDT"}, run.Symbols)
	assert.Equal(t, 10.0, run.Leverage)
	assert.InDelta(t, out.Result.FinalCapital, run.FinalCapital, 1e-9)
	require.Len(t, journal.trades[1], 1)
	assert.Equal(t, domain.CloseReasonTakeProfit, journal.trades[1][0].CloseReason)
	assert.Contains(t, log.infoMsgs, "Backtest finished")
}

func TestBacktestService_LoadsAuxTimeframes(t *testing.T) {
	cfg := testConfig()
	cfg.Symbols = []string{"BTCUSDT", "ETHUSDT"}
	cfg.AuxTimeframes = []domain.Timeframe{"4h"}

	provider := &mockProvider{bars: map[string][]*domain.Kline{
		"BTCUSDT/1h": hourly("BTCUSDT", "1h", time.Hour, 100, 101),
		"ETHUSDT/1h": hourly("ETHUSDT", "1h", time.Hour, 50, 51),
		"BTCUSDT/4h": hourly("BTCUSDT", "4h", 4*time.Hour, 100),
	}}
	log := &mockLogger{}

	svc, err := NewBacktestService(cfg, log, provider, nil, firstBarLong())
	require.NoError(t, err)
	out, err := svc.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"BTCUSDT/1h", "ETHUSDT/1h", "BTCUSDT/4h", "ETHUSDT/4h"}, provider.calls)
	assert.Equal(t, []string{"No auxiliary bars loaded"}, log.warnMsgs)
	assert.Zero(t, out.RunID)
	assert.Equal(t, 2, out.Metrics.TotalTrades)
}

func TestLoadMarketData_CSVStore(t *testing.T) {
	tests := []struct {
		name      string
		saved     []domain.Timeframe
		wantErr   error
		wantAux   int
		wantWarns []string
	}{
		{
			name:      "missing auxiliary file is skipped",
			saved:     []domain.Timeframe{"1h"},
			wantWarns: []string{"No auxiliary bars loaded"},
		},
		{
			name:    "missing main file fails",
			saved:   []domain.Timeframe{"4h"},
			wantErr: ports.ErrNotFound,
		},
		{
			name:    "both files present",
			saved:   []domain.Timeframe{"1h", "4h"},
			wantAux: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			log := &mockLogger{}
			store, err := csvstore.New(t.TempDir(), log)
			require.NoError(t, err)

			series := map[domain.Timeframe][]*domain.Kline{
				"1h": hourly("BTCUSDT", "1h", time.Hour, 100, 101, 102),
				"4h": hourly("BTCUSDT", "4h", 4*time.Hour, 100, 102),
			}
			for _, tf := range tt.saved {
				require.NoError(t, store.SaveBars(ctx, "BTCUSDT", tf, series[tf]))
			}

			cfg := testConfig()
			cfg.AuxTimeframes = []domain.Timeframe{"4h"}

			data, err := LoadMarketData(ctx, cfg, store, log)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, data)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantWarns, log.warnMsgs)
			assert.Len(t, data.Series("1h", "BTCUSDT"), 3)
			assert.Len(t, data.Series("4h", "BTCUSDT"), tt.wantAux)
		})
	}
}

func TestBacktestService_Errors(t *testing.T) {
	bars := map[string][]*domain.Kline{"BTCUSDT/1h": hourly("BTCUSDT", "1h", time.Hour, 100, 111)}

	tests := []struct {
		name     string
		provider *mockProvider
		journal  *mockJournal
		wantErr  error
		wantOut  bool
	}{
		{name: "no main bars", provider: &mockProvider{}, wantErr: ports.ErrNoBars},
		{name: "provider failure", provider: &mockProvider{err: ports.ErrExchangeUnavailable}, wantErr: ports.ErrExchangeUnavailable},
		{name: "journal create failure", provider: &mockProvider{bars: bars}, journal: &mockJournal{createErr: ports.ErrDBConnection}, wantErr: ports.ErrDBConnection, wantOut: true},
		{name: "journal save failure", provider: &mockProvider{bars: bars}, journal: &mockJournal{saveErr: ports.ErrQueryFailed}, wantErr: ports.ErrQueryFailed, wantOut: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var journal ports.RunJournal
			if tt.journal != nil {
				journal = tt.journal
			}
			svc, err := NewBacktestService(testConfig(), &mockLogger{}, tt.provider, journal, firstBarLong())
			require.NoError(t, err)

			out, err := svc.Run(context.Background())
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
			assert.Equal(t, tt.wantOut, out != nil)
		})
	}
}

func TestNewBacktestService_Validation(t *testing.T) {
	_, err := NewBacktestService(nil, &mockLogger{}, &mockProvider{}, nil, firstBarLong())
	assert.ErrorIs(t, err, ports.ErrConfigurationError)

	_, err = NewBacktestService(testConfig(), &mockLogger{}, &mockProvider{}, nil, backtesting.Policies{})
	assert.ErrorIs(t, err, ports.ErrConfigurationError)

	cfg := testConfig()
	cfg.Symbols = nil
	_, err = NewBacktestService(cfg, &mockLogger{}, &mockProvider{}, nil, firstBarLong())
	assert.ErrorIs(t, err, ports.ErrConfigurationError)
}

func TestBuildPolicies(t *testing.T) {
	cfg := testConfig()
	cfg.TrailingStop = true
	cfg.MaxHolding = 12 * time.Hour

	p, err := BuildPolicies(cfg)
	require.NoError(t, err)
	assert.NotNil(t, p.Entry)
	assert.NotNil(t, p.Exit)
	assert.NotNil(t, p.Trailing)

	cfg.TrailingStop = false
	cfg.MaxHolding = 0
	p, err = BuildPolicies(cfg)
	require.NoError(t, err)
	assert.Nil(t, p.Exit)
	assert.Nil(t, p.Trailing)

	cfg.StrategyFastMAPeriod = 5
	_, err = BuildPolicies(cfg)
	assert.Error(t, err)
}
