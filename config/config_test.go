package config

import (
	"testing"
	"time"

	"marginBacktester/internal/adapters/logger"
	"marginBacktester/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setEnv(t *testing.T, env map[string]string) {
	t.Helper()
	for k, v := range env {
		t.Setenv(k, v)
	}
}

func TestLoadConfig_Values(t *testing.T) {
	setEnv(t, map[string]string{
		"DATA_SOURCE":              "CSV",
		"DATA_DIR":                 "/tmp/bars",
		"SYMBOLS":                  "btcusdt, EURUSD,",
		"MAIN_TIMEFRAME":           "1h",
		"AUX_TIMEFRAMES":           "4h,1d",
		"START":                    "2024-01-01",
		"END":                      "2024-02-01T00:00:00Z",
		"LEVERAGE":                 "20",
		"SPREAD_BP":                "2",
		"FEE_BP_FOREX":             "1.5",
		"INSTRUMENT_CLASSES":       "eurusd=Forex",
		"STRATEGY_TREND_TIMEFRAME": "4h",
		"MAX_HOLDING_HOURS":        "48",
		"LOG_LEVEL":                "debug",
		"DB_PATH":                  "none",
		"TRADES_CSV":               "/tmp/trades.csv",
	})

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, SourceCSV, cfg.DataSource)
	assert.Equal(t, []string{"BTCUSDT", "EURUSD"}, cfg.Symbols)
	assert.Equal(t, []domain.Timeframe{"4h", "1d"}, cfg.AuxTimeframes)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), cfg.Start)
	assert.Equal(t, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), cfg.End)
	assert.Equal(t, 48*time.Hour, cfg.MaxHolding)
	assert.Equal(t, logger.LevelDebug, cfg.LogLevel)
	assert.Empty(t, cfg.DBPath)
	assert.Equal(t, "/tmp/trades.csv", cfg.TradesCSV)

	model := cfg.RiskModel()
	assert.Equal(t, 20.0, model.Leverage)
	rate, err := model.Fees.RateBP("EURUSD")
	require.NoError(t, err)
	assert.Equal(t, 1.5, rate)
	rate, err = model.Fees.RateBP("BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 5.0, rate)

	entry := cfg.EntryConfig()
	assert.Equal(t, domain.Timeframe("4h"), entry.TrendTimeframe)
	assert.True(t, entry.OnePerSymbol)
}

func TestLoadConfig_Errors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{name: "unknown source", env: map[string]string{"DATA_SOURCE": "ftp"}, want: "DATA_SOURCE"},
		{name: "timescale without dsn", env: map[string]string{"DATA_SOURCE": "timescale"}, want: "TIMESCALE_DSN"},
		{name: "bad timeframe", env: map[string]string{"MAIN_TIMEFRAME": "7m"}, want: "MAIN_TIMEFRAME"},
		{name: "aux repeats main", env: map[string]string{"AUX_TIMEFRAMES": "1h"}, want: "AUX_TIMEFRAMES"},
		{name: "window reversed", env: map[string]string{"START": "2024-03-01", "END": "2024-02-01"}, want: "START must be before END"},
		{name: "bad leverage", env: map[string]string{"LEVERAGE": "ten"}, want: "invalid LEVERAGE"},
		{name: "zero leverage", env: map[string]string{"LEVERAGE": "0"}, want: "leverage must be positive"},
		{name: "unknown class", env: map[string]string{"INSTRUMENT_CLASSES": "XAUUSD=gems"}, want: "gems"},
		{name: "periods inverted", env: map[string]string{"STRATEGY_FAST_MA_PERIOD": "30"}, want: "STRATEGY_FAST_MA_PERIOD"},
		{name: "trend outside aux", env: map[string]string{"STRATEGY_TREND_TIMEFRAME": "1d"}, want: "STRATEGY_TREND_TIMEFRAME"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setEnv(t, map[string]string{"DATA_SOURCE": "csv", "START": "2024-01-01", "END": "2024-02-01", "AUX_TIMEFRAMES": ""})
			setEnv(t, tt.env)

			_, err := LoadConfig()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
