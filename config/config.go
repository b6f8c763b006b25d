package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"marginBacktester/internal/adapters/logger"
	"marginBacktester/internal/domain"
	"marginBacktester/internal/risk"
	"marginBacktester/internal/strategy/analytics"
	"marginBacktester/internal/strategy/policies"
)

// Data sources for historical bars.
const (
	SourceCSV       = "csv"
	SourceBinance   = "binance"
	SourceTimescale = "timescale"
)

// Config holds all application configuration.
type Config struct {
	// Market data
	DataSource   string
	DataDir      string
	TimescaleDSN string
	APIKey       string
	SecretKey    string
	IsTestnet    bool

	// Backtest window
	Symbols        []string
	MainTimeframe  domain.Timeframe
	AuxTimeframes  []domain.Timeframe
	Start          time.Time
	End            time.Time
	InitialCapital float64

	// Risk model
	Leverage               float64
	SpreadBP               float64
	SlippageBP             float64
	LiquidationThreshold   float64
	FeeRates               map[domain.InstrumentClass]float64 // basis points
	InstrumentClasses      map[string]domain.InstrumentClass
	DefaultInstrumentClass domain.InstrumentClass
	RiskFreeRate           float64

	// Strategy Parameters
	StrategyFastMAPeriod       int
	StrategySlowMAPeriod       int
	StrategyAllowShort         bool
	StrategyCapitalFraction    float64
	StrategyTakeProfitMultiple float64
	StrategyStopLossMultiple   float64
	StrategyATRPeriod          int // 0 uses PnL multiple exits
	StrategyATRMultiplier      float64
	StrategyRewardRisk         float64
	StrategyRSIPeriod          int // 0 disables the RSI filter
	StrategyRSIOverbought      float64
	StrategyRSIOversold        float64
	StrategyTrendTimeframe     domain.Timeframe
	StrategyTrendPeriod        int
	TrailingStop               bool
	TrailingTakeProfitMultiple float64
	MaxHolding                 time.Duration // 0 disables the time exit

	// Database
	DBPath    string // DB_PATH=none disables the run journal
	RunLabel  string
	TradesCSV string // TRADES_CSV exports the closed trades when set

	// Logging
	LogLevel logger.LogLevel
}

// LoadConfig loads configuration from environment variables (.env file).
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{}
	var err error
	var errs []string

	// Market data
	cfg.DataSource = strings.ToLower(getEnv("DATA_SOURCE", SourceCSV))
	cfg.DataDir = getEnv("DATA_DIR", "./data/klines")
	cfg.TimescaleDSN = getEnv("TIMESCALE_DSN", "")
	cfg.APIKey = getEnv("BINANCE_API_KEY", "")
	cfg.SecretKey = getEnv("BINANCE_API_SECRET", "")
	cfg.IsTestnet = getEnvAsBool("IS_TESTNET", false)
	switch cfg.DataSource {
	case SourceCSV:
		if cfg.DataDir == "" {
			errs = append(errs, "DATA_DIR must be set for the csv data source")
		}
	case SourceTimescale:
		if cfg.TimescaleDSN == "" {
			errs = append(errs, "TIMESCALE_DSN must be set for the timescale data source")
		}
	case SourceBinance:
	default:
		errs = append(errs, fmt.Sprintf("DATA_SOURCE must be one of csv, binance, timescale, got %q", cfg.DataSource))
	}

	// Backtest window
	cfg.Symbols = getEnvAsList("SYMBOLS", "BTCUSDT", strings.ToUpper)
	if len(cfg.Symbols) == 0 {
		errs = append(errs, "SYMBOLS must list at least one symbol")
	}

	cfg.MainTimeframe = domain.Timeframe(getEnv("MAIN_TIMEFRAME", "1h"))
	if _, err := cfg.MainTimeframe.Duration(); err != nil {
		errs = append(errs, fmt.Sprintf("invalid MAIN_TIMEFRAME: %v", err))
	}
	for _, s := range getEnvAsList("AUX_TIMEFRAMES", "", strings.TrimSpace) {
		tf := domain.Timeframe(s)
		if _, err := tf.Duration(); err != nil {
			errs = append(errs, fmt.Sprintf("invalid AUX_TIMEFRAMES: %v", err))
			continue
		}
		if tf == cfg.MainTimeframe {
			errs = append(errs, "AUX_TIMEFRAMES must not repeat MAIN_TIMEFRAME")
			continue
		}
		cfg.AuxTimeframes = append(cfg.AuxTimeframes, tf)
	}

	today := time.Now().UTC().Truncate(24 * time.Hour)
	cfg.End, err = getEnvAsTime("END", today)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid END: %v", err))
	}
	cfg.Start, err = getEnvAsTime("START", cfg.End.AddDate(0, 0, -30))
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid START: %v", err))
	}
	if !cfg.Start.Before(cfg.End) {
		errs = append(errs, "START must be before END")
	}

	cfg.InitialCapital, err = getEnvAsFloatRequired("INITIAL_CAPITAL", 10_000)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid INITIAL_CAPITAL: %v", err))
	} else if cfg.InitialCapital <= 0 {
		errs = append(errs, "INITIAL_CAPITAL must be positive")
	}

	// Risk model
	cfg.Leverage, err = getEnvAsFloatRequired("LEVERAGE", 10)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid LEVERAGE: %v", err))
	}
	cfg.SpreadBP, err = getEnvAsFloatRequired("SPREAD_BP", 1)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid SPREAD_BP: %v", err))
	}
	cfg.SlippageBP, err = getEnvAsFloatRequired("SLIPPAGE_BP", 0)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid SLIPPAGE_BP: %v", err))
	}
	cfg.LiquidationThreshold, err = getEnvAsFloatRequired("LIQUIDATION_THRESHOLD", risk.DefaultLiquidationThreshold)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid LIQUIDATION_THRESHOLD: %v", err))
	}

	defaults := risk.DefaultFeeRates()
	cfg.FeeRates = make(map[domain.InstrumentClass]float64, len(defaults))
	for class, rate := range defaults {
		key := "FEE_BP_" + strings.ToUpper(string(class))
		cfg.FeeRates[class], err = getEnvAsFloatRequired(key, rate)
		if err != nil {
			errs = append(errs, fmt.Sprintf("invalid %s: %v", key, err))
		}
	}

	cfg.InstrumentClasses, err = risk.ParseClassMap(getEnv("INSTRUMENT_CLASSES", ""))
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid INSTRUMENT_CLASSES: %v", err))
	}
	cfg.DefaultInstrumentClass = domain.InstrumentClass(strings.ToLower(getEnv("DEFAULT_INSTRUMENT_CLASS", string(domain.ClassCrypto))))

	if err := cfg.RiskModel().Validate(); err != nil {
		errs = append(errs, err.Error())
	}

	cfg.RiskFreeRate, err = getEnvAsFloatRequired("RISK_FREE_RATE", analytics.DefaultRiskFreeRate)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid RISK_FREE_RATE: %v", err))
	}

	// Strategy Parameters (using defaults if not set)
	def := policies.DefaultMACrossConfig()
	cfg.StrategyFastMAPeriod = getEnvAsInt("STRATEGY_FAST_MA_PERIOD", def.FastPeriod)
	cfg.StrategySlowMAPeriod = getEnvAsInt("STRATEGY_SLOW_MA_PERIOD", def.SlowPeriod)
	cfg.StrategyAllowShort = getEnvAsBool("STRATEGY_ALLOW_SHORT", def.AllowShort)
	cfg.StrategyCapitalFraction = getEnvAsFloat("STRATEGY_CAPITAL_FRACTION", def.CapitalFraction)
	cfg.StrategyTakeProfitMultiple = getEnvAsFloat("STRATEGY_TP_MULTIPLE", def.TakeProfitMultiple)
	cfg.StrategyStopLossMultiple = getEnvAsFloat("STRATEGY_SL_MULTIPLE", def.StopLossMultiple)
	cfg.StrategyATRPeriod = getEnvAsInt("STRATEGY_ATR_PERIOD", 0)
	cfg.StrategyATRMultiplier = getEnvAsFloat("STRATEGY_ATR_MULTIPLIER", 1.5)
	cfg.StrategyRewardRisk = getEnvAsFloat("STRATEGY_REWARD_RISK", 2)
	cfg.StrategyRSIPeriod = getEnvAsInt("STRATEGY_RSI_PERIOD", 0)
	cfg.StrategyRSIOverbought = getEnvAsFloat("STRATEGY_RSI_OVERBOUGHT", 70.0)
	cfg.StrategyRSIOversold = getEnvAsFloat("STRATEGY_RSI_OVERSOLD", 30.0)
	cfg.StrategyTrendTimeframe = domain.Timeframe(getEnv("STRATEGY_TREND_TIMEFRAME", ""))
	cfg.StrategyTrendPeriod = getEnvAsInt("STRATEGY_TREND_PERIOD", 50)
	cfg.TrailingStop = getEnvAsBool("TRAILING_STOP", true)
	cfg.TrailingTakeProfitMultiple = getEnvAsFloat("TRAILING_TP_MULTIPLE", 0)
	cfg.MaxHolding = time.Duration(getEnvAsInt("MAX_HOLDING_HOURS", 0)) * time.Hour

	if cfg.StrategyFastMAPeriod <= 0 || cfg.StrategyFastMAPeriod >= cfg.StrategySlowMAPeriod {
		errs = append(errs, "STRATEGY_FAST_MA_PERIOD must be positive and less than STRATEGY_SLOW_MA_PERIOD")
	}
	if cfg.StrategyCapitalFraction <= 0 || cfg.StrategyCapitalFraction > 1 {
		errs = append(errs, "STRATEGY_CAPITAL_FRACTION must be in (0, 1]")
	}
	if cfg.StrategyRSIPeriod > 0 && (cfg.StrategyRSIOverbought <= cfg.StrategyRSIOversold || cfg.StrategyRSIOverbought > 100 || cfg.StrategyRSIOversold < 0) {
		errs = append(errs, "invalid RSI thresholds (Overbought must be > Oversold, between 0-100)")
	}
	if cfg.StrategyTrendTimeframe != "" && !cfg.hasAux(cfg.StrategyTrendTimeframe) {
		errs = append(errs, "STRATEGY_TREND_TIMEFRAME must be listed in AUX_TIMEFRAMES")
	}
	if cfg.MaxHolding < 0 {
		errs = append(errs, "MAX_HOLDING_HOURS cannot be negative")
	}

	// Database
	cfg.DBPath = getEnv("DB_PATH", "./data/backtests.db")
	if strings.EqualFold(cfg.DBPath, "none") {
		cfg.DBPath = ""
	}
	cfg.RunLabel = getEnv("RUN_LABEL", "ma-cross")
	cfg.TradesCSV = getEnv("TRADES_CSV", "")

	// Logging
	cfg.LogLevel = logger.ParseLevel(getEnv("LOG_LEVEL", "INFO"))

	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return cfg, nil
}

// RiskModel builds the cost and margin model the ledger applies.
func (c *Config) RiskModel() risk.Model {
	return risk.Model{
		Leverage:             c.Leverage,
		SpreadBP:             c.SpreadBP,
		SlippageBP:           c.SlippageBP,
		LiquidationThreshold: c.LiquidationThreshold,
		Fees: risk.FeeSchedule{
			Rates:        c.FeeRates,
			Classes:      c.InstrumentClasses,
			DefaultClass: c.DefaultInstrumentClass,
		},
	}
}

// EntryConfig maps the strategy settings onto the crossover entry policy.
func (c *Config) EntryConfig() policies.MACrossConfig {
	return policies.MACrossConfig{
		FastPeriod:         c.StrategyFastMAPeriod,
		SlowPeriod:         c.StrategySlowMAPeriod,
		AllowShort:         c.StrategyAllowShort,
		CapitalFraction:    c.StrategyCapitalFraction,
		TakeProfitMultiple: c.StrategyTakeProfitMultiple,
		StopLossMultiple:   c.StrategyStopLossMultiple,
		ATRPeriod:          c.StrategyATRPeriod,
		ATRMultiplier:      c.StrategyATRMultiplier,
		RewardRisk:         c.StrategyRewardRisk,
		RSIPeriod:          c.StrategyRSIPeriod,
		RSIOverbought:      c.StrategyRSIOverbought,
		RSIOversold:        c.StrategyRSIOversold,
		TrendTimeframe:     c.StrategyTrendTimeframe,
		TrendPeriod:        c.StrategyTrendPeriod,
		OnePerSymbol:       true,
	}
}

func (c *Config) hasAux(tf domain.Timeframe) bool {
	for _, a := range c.AuxTimeframes {
		if a == tf {
			return true
		}
	}
	return false
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloatRequired(key string, defaultValue float64) (float64, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid float value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsList splits a comma separated value, dropping empty items.
func getEnvAsList(key, defaultValue string, normalize func(string) string) []string {
	var out []string
	for _, item := range strings.Split(getEnv(key, defaultValue), ",") {
		if item = normalize(strings.TrimSpace(item)); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// getEnvAsTime accepts RFC3339 timestamps or plain UTC dates.
func getEnvAsTime(key string, defaultValue time.Time) (time.Time, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, valueStr); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid time value '%s' for key %s: want RFC3339 or YYYY-MM-DD", valueStr, key)
}
