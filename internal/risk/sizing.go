package risk

import (
	"fmt"

	"github.com/shopspring/decimal"

	"perpbot/internal/ports"
)

// SizingConfig carries the contract constraints an order's quantity must
// satisfy. Violations are recoverable: the caller degrades the amount or
// abandons this bar's open attempt.
type SizingConfig struct {
	MinUnits    float64 // Exchange minimum order quantity
	MaxUnits    float64 // Exchange maximum order quantity (0 = unlimited)
	UnitStep    float64 // Quantity step size (0 = no rounding)
	MinNotional float64 // Minimum order notional in quote currency
	MaxLeverage int     // Contract maximum leverage
}

// PositionUnits sizes a new position from the available balance: the
// full balance is committed as margin at the given leverage, with the
// entry fee reserved so the order cannot be rejected for insufficient
// funds. The result is rounded down to the contract's quantity step.
func PositionUnits(balance, price float64, leverage int, takerFeeRate float64, cfg SizingConfig) (float64, error) {
	if cfg.MaxLeverage > 0 && leverage > cfg.MaxLeverage {
		return 0, fmt.Errorf("leverage %d above contract max %d: %w", leverage, cfg.MaxLeverage, ports.ErrLeverageExceeded)
	}
	if balance <= 0 || price <= 0 {
		return 0, fmt.Errorf("balance %.8f at price %.8f: %w", balance, price, ports.ErrNotionalBelowMin)
	}

	// units = balance·L / (price·(1 + fee·L)), so that margin plus the
	// taker fee on the full notional never exceeds the balance.
	l := decimal.NewFromInt(int64(leverage))
	denom := decimal.NewFromFloat(price).Mul(decimal.NewFromInt(1).Add(decimal.NewFromFloat(takerFeeRate).Mul(l)))
	units := decimal.NewFromFloat(balance).Mul(l).Div(denom)

	if cfg.UnitStep > 0 {
		step := decimal.NewFromFloat(cfg.UnitStep)
		units = units.Div(step).Floor().Mul(step)
	}
	if cfg.MaxUnits > 0 && units.GreaterThan(decimal.NewFromFloat(cfg.MaxUnits)) {
		units = decimal.NewFromFloat(cfg.MaxUnits)
	}

	result, _ := units.Float64()
	if cfg.MinUnits > 0 && result < cfg.MinUnits {
		return 0, fmt.Errorf("sized %.8f units below contract min %.8f: %w", result, cfg.MinUnits, ports.ErrUnitsBelowMin)
	}
	if cfg.MinNotional > 0 && result*price < cfg.MinNotional {
		return 0, fmt.Errorf("notional %.8f below contract floor %.8f: %w", result*price, cfg.MinNotional, ports.ErrNotionalBelowMin)
	}
	return result, nil
}
