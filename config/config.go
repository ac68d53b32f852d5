package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"perpbot/internal/adapters/logger"
	"perpbot/internal/domain"
	"perpbot/internal/risk"
)

// Config holds all live-bot configuration.
type Config struct {
	// Binance API
	APIKey    string
	SecretKey string
	IsTestnet bool

	// Trading Parameters
	Symbol       string
	Asset        string // Quote asset the balance is tracked in
	Leverage     int
	TakerFeeRate float64
	Lock         domain.PositionLock
	// AllowReversal controls whether a REVERT_POSITION signal reopens the
	// opposite side after the close. Explicit opposite-side signals
	// always reverse regardless of this flag.
	AllowReversal bool

	// Price-level triggers
	Modifiers risk.Modifiers

	// Position sizing constraints
	Sizing risk.SizingConfig

	// Contract rounding
	QuantityStep float64
	PriceStep    float64

	// Market data
	KlineInterval string
	WarmupBars    int
	ShortMAPeriod int
	LongMAPeriod  int

	// Database
	DBPath string

	// Logging
	LogLevel logger.LogLevel

	// Connection Settings
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int
	OutageSettleDelay    time.Duration
}

// LoadConfig loads configuration from environment variables (.env file).
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{}
	var err error
	var errs []string // Collect validation errors

	// Binance API
	cfg.APIKey = getEnv("BINANCE_API_KEY", "")
	cfg.SecretKey = getEnv("BINANCE_API_SECRET", "")
	cfg.IsTestnet = getEnvAsBool("IS_TESTNET", true) // Default to testnet for safety

	if cfg.APIKey == "" {
		errs = append(errs, "BINANCE_API_KEY must be set")
	}
	if cfg.SecretKey == "" {
		errs = append(errs, "BINANCE_API_SECRET must be set")
	}

	// Trading Parameters
	cfg.Symbol = getEnv("SYMBOL", "ETHUSDT")
	if cfg.Symbol == "" {
		errs = append(errs, "SYMBOL must be set")
	}
	cfg.Asset = getEnv("ASSET", "USDT")
	if cfg.Asset == "" {
		errs = append(errs, "ASSET must be set")
	}

	cfg.Leverage, err = getEnvAsIntRequired("LEVERAGE", 4)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid LEVERAGE: %v", err))
	} else if cfg.Leverage <= 0 {
		errs = append(errs, "LEVERAGE must be positive")
	}

	cfg.TakerFeeRate, err = getEnvAsFloatRequired("TAKER_FEE_RATE", 0.0004)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid TAKER_FEE_RATE: %v", err))
	} else if cfg.TakerFeeRate < 0 || cfg.TakerFeeRate >= 1.0 {
		errs = append(errs, "TAKER_FEE_RATE must be in [0.0, 1.0)")
	}

	lockStr := strings.ToUpper(getEnv("POSITION_LOCK", "FEE"))
	switch domain.PositionLock(lockStr) {
	case domain.LockNone, domain.LockFee, domain.LockLoss:
		cfg.Lock = domain.PositionLock(lockStr)
	default:
		errs = append(errs, fmt.Sprintf("invalid POSITION_LOCK '%s' (want NONE, FEE or LOSS)", lockStr))
	}

	cfg.AllowReversal = getEnvAsBool("ALLOW_REVERSAL", false)

	// Price-level triggers. A zero percentage disables the trigger.
	cfg.Modifiers.StopLossPct, err = getEnvAsFloatRequired("STOP_LOSS_PCT", 0.1)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid STOP_LOSS_PCT: %v", err))
	} else if cfg.Modifiers.StopLossPct < 0 || cfg.Modifiers.StopLossPct >= 1.0 {
		errs = append(errs, "STOP_LOSS_PCT must be in [0.0, 1.0)")
	}
	cfg.Modifiers.TakeProfitPct, err = getEnvAsFloatRequired("TAKE_PROFIT_PCT", 0.3)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid TAKE_PROFIT_PCT: %v", err))
	} else if cfg.Modifiers.TakeProfitPct < 0 {
		errs = append(errs, "TAKE_PROFIT_PCT cannot be negative")
	}
	if trailing, trailingErrs := loadTrailingStop(); len(trailingErrs) > 0 {
		errs = append(errs, trailingErrs...)
	} else {
		cfg.Modifiers.Trailing = trailing
	}

	// Sizing constraints
	cfg.Sizing.MinUnits = getEnvAsFloat("SIZING_MIN_UNITS", 0.001)
	cfg.Sizing.MaxUnits = getEnvAsFloat("SIZING_MAX_UNITS", 0)
	cfg.Sizing.UnitStep = getEnvAsFloat("SIZING_UNIT_STEP", 0.001)
	cfg.Sizing.MinNotional = getEnvAsFloat("SIZING_MIN_NOTIONAL", 20.0)
	cfg.Sizing.MaxLeverage = getEnvAsInt("SIZING_MAX_LEVERAGE", 125)
	if cfg.Sizing.MinUnits < 0 || cfg.Sizing.MaxUnits < 0 || cfg.Sizing.UnitStep < 0 || cfg.Sizing.MinNotional < 0 {
		errs = append(errs, "sizing constraints cannot be negative")
	}
	if cfg.Sizing.MaxLeverage > 0 && cfg.Leverage > cfg.Sizing.MaxLeverage {
		errs = append(errs, "LEVERAGE must not exceed SIZING_MAX_LEVERAGE")
	}

	// Contract rounding
	cfg.QuantityStep = getEnvAsFloat("QUANTITY_STEP", 0.001)
	cfg.PriceStep = getEnvAsFloat("PRICE_STEP", 0.01)

	// Market data / strategy periods
	cfg.KlineInterval = getEnv("KLINE_INTERVAL", "1m")
	cfg.ShortMAPeriod = getEnvAsInt("SHORT_MA_PERIOD", 20)
	cfg.LongMAPeriod = getEnvAsInt("LONG_MA_PERIOD", 50)
	if cfg.ShortMAPeriod <= 0 || cfg.LongMAPeriod <= 0 {
		errs = append(errs, "MA periods must be positive")
	}
	if cfg.ShortMAPeriod >= cfg.LongMAPeriod {
		errs = append(errs, "SHORT_MA_PERIOD must be less than LONG_MA_PERIOD")
	}
	cfg.WarmupBars = getEnvAsInt("WARMUP_BARS", cfg.LongMAPeriod+1)

	// Database
	cfg.DBPath = getEnv("DB_PATH", "./data/perpbot.db")
	if cfg.DBPath == "" {
		errs = append(errs, "DB_PATH must be set")
	}

	// Logging
	logLevelStr := getEnv("LOG_LEVEL", "INFO")
	cfg.LogLevel = logger.ParseLevel(logLevelStr)

	// Connection Settings
	reconnectDelaySeconds := getEnvAsInt("RECONNECT_DELAY_SECONDS", 1)
	if reconnectDelaySeconds <= 0 {
		errs = append(errs, "RECONNECT_DELAY_SECONDS must be positive")
	}
	cfg.ReconnectDelay = time.Duration(reconnectDelaySeconds) * time.Second

	cfg.MaxReconnectAttempts = getEnvAsInt("MAX_RECONNECT_ATTEMPTS", 10)
	if cfg.MaxReconnectAttempts < 0 {
		errs = append(errs, "MAX_RECONNECT_ATTEMPTS cannot be negative")
	}

	settleSeconds := getEnvAsInt("OUTAGE_SETTLE_SECONDS", 5)
	if settleSeconds <= 0 {
		errs = append(errs, "OUTAGE_SETTLE_SECONDS must be positive")
	}
	cfg.OutageSettleDelay = time.Duration(settleSeconds) * time.Second

	// Combine validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return cfg, nil
}

// loadTrailingStop reads the optional trailing-stop block. Returns nil
// when TRAILING_STOP_KIND is unset, which disables the trigger.
func loadTrailingStop() (*risk.TrailingStop, []string) {
	kindStr := strings.ToUpper(getEnv("TRAILING_STOP_KIND", ""))
	if kindStr == "" {
		return nil, nil
	}

	var errs []string
	ts := &risk.TrailingStop{
		Activation: getEnvAsFloat("TRAILING_STOP_ACTIVATION", 0.1),
	}
	if ts.Activation < 0 {
		errs = append(errs, "TRAILING_STOP_ACTIVATION cannot be negative")
	}

	switch risk.TrailingStopKind(kindStr) {
	case risk.TrailingPercent:
		ts.Kind = risk.TrailingPercent
		ts.Percentage = getEnvAsFloat("TRAILING_STOP_PERCENTAGE", 0.5)
		if ts.Percentage <= 0 || ts.Percentage >= 1.0 {
			errs = append(errs, "TRAILING_STOP_PERCENTAGE must be in (0.0, 1.0)")
		}
	case risk.TrailingStepped:
		ts.Kind = risk.TrailingStepped
		stepsStr := getEnv("TRAILING_STOP_STEPS", "")
		if stepsStr == "" {
			errs = append(errs, "TRAILING_STOP_STEPS must be set for STEPPED trailing stop")
		}
		var prev float64
		for _, part := range strings.Split(stepsStr, ",") {
			step, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
			if err != nil {
				errs = append(errs, fmt.Sprintf("invalid trailing step '%s': %v", part, err))
				continue
			}
			if step <= prev {
				errs = append(errs, "TRAILING_STOP_STEPS must be ascending and positive")
			}
			prev = step
			ts.Steps = append(ts.Steps, step)
		}
	default:
		errs = append(errs, fmt.Sprintf("invalid TRAILING_STOP_KIND '%s' (want PERCENT or STEPPED)", kindStr))
	}
	if len(errs) > 0 {
		return nil, errs
	}
	return ts, nil
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

func getEnvAsIntRequired(key string, defaultValue int) (int, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		// Use default if env var is not set at all
		return defaultValue, nil
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		// Return error if env var is set but invalid
		return 0, fmt.Errorf("invalid integer value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
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
