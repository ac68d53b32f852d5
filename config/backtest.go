package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"perpbot/internal/risk"
)

// BacktestConfig is the YAML-backed configuration of one simulation run.
type BacktestConfig struct {
	Symbol         string  `yaml:"symbol"`
	Leverage       int     `yaml:"leverage"`
	TakerFeeRate   float64 `yaml:"taker_fee_rate"`
	InitialBalance float64 `yaml:"initial_balance"`
	AllowReversal  bool    `yaml:"allow_reversal"`

	StopLossPct   float64 `yaml:"stop_loss_pct"`
	TakeProfitPct float64 `yaml:"take_profit_pct"`
	Trailing      *struct {
		Kind       string    `yaml:"kind"`
		Percentage float64   `yaml:"percentage"`
		Steps      []float64 `yaml:"steps"`
		Activation float64   `yaml:"activation"`
	} `yaml:"trailing_stop"`

	Sizing struct {
		MinUnits    float64 `yaml:"min_units"`
		MaxUnits    float64 `yaml:"max_units"`
		UnitStep    float64 `yaml:"unit_step"`
		MinNotional float64 `yaml:"min_notional"`
		MaxLeverage int     `yaml:"max_leverage"`
	} `yaml:"sizing"`

	InputCSV  string `yaml:"input_csv"`
	OutputCSV string `yaml:"output_csv"`
}

// LoadBacktestConfig reads and validates a backtest YAML file.
func LoadBacktestConfig(path string) (*BacktestConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read backtest config '%s': %w", path, err)
	}
	cfg := &BacktestConfig{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse backtest config '%s': %w", path, err)
	}

	var errs []string
	if cfg.Symbol == "" {
		errs = append(errs, "symbol must be set")
	}
	if cfg.Leverage <= 0 {
		errs = append(errs, "leverage must be positive")
	}
	if cfg.InitialBalance <= 0 {
		errs = append(errs, "initial_balance must be positive")
	}
	if cfg.TakerFeeRate < 0 || cfg.TakerFeeRate >= 1.0 {
		errs = append(errs, "taker_fee_rate must be in [0.0, 1.0)")
	}
	if cfg.StopLossPct < 0 || cfg.TakeProfitPct < 0 {
		errs = append(errs, "trigger percentages cannot be negative")
	}
	if cfg.InputCSV == "" {
		errs = append(errs, "input_csv must be set")
	}
	if cfg.Trailing != nil {
		switch risk.TrailingStopKind(strings.ToUpper(cfg.Trailing.Kind)) {
		case risk.TrailingPercent:
			if cfg.Trailing.Percentage <= 0 || cfg.Trailing.Percentage >= 1.0 {
				errs = append(errs, "trailing_stop.percentage must be in (0.0, 1.0)")
			}
		case risk.TrailingStepped:
			if len(cfg.Trailing.Steps) == 0 {
				errs = append(errs, "trailing_stop.steps must be set for STEPPED kind")
			}
		default:
			errs = append(errs, fmt.Sprintf("invalid trailing_stop.kind '%s' (want PERCENT or STEPPED)", cfg.Trailing.Kind))
		}
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("backtest config validation failed: %s", strings.Join(errs, "; "))
	}
	return cfg, nil
}

// Modifiers assembles the price-level trigger configuration.
func (c *BacktestConfig) Modifiers() risk.Modifiers {
	mods := risk.Modifiers{
		StopLossPct:   c.StopLossPct,
		TakeProfitPct: c.TakeProfitPct,
	}
	if c.Trailing != nil {
		mods.Trailing = &risk.TrailingStop{
			Kind:       risk.TrailingStopKind(strings.ToUpper(c.Trailing.Kind)),
			Percentage: c.Trailing.Percentage,
			Steps:      c.Trailing.Steps,
			Activation: c.Trailing.Activation,
		}
	}
	return mods
}

// SizingConfig assembles the position sizing constraints.
func (c *BacktestConfig) SizingConfig() risk.SizingConfig {
	return risk.SizingConfig{
		MinUnits:    c.Sizing.MinUnits,
		MaxUnits:    c.Sizing.MaxUnits,
		UnitStep:    c.Sizing.UnitStep,
		MinNotional: c.Sizing.MinNotional,
		MaxLeverage: c.Sizing.MaxLeverage,
	}
}
