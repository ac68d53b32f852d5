// Package risk implements the price-level triggers that force-close a
// position (bankruptcy, stop-loss, take-profit, trailing stop) and the
// balance-based position sizing rules.
package risk

import (
	"perpbot/internal/domain"
	"perpbot/internal/pnl"
)

// TrailingStopKind selects how the trailing floor is computed.
type TrailingStopKind string

const (
	// TrailingPercent floors at a fixed fraction of the peak returns.
	TrailingPercent TrailingStopKind = "PERCENT"
	// TrailingStepped floors at the nearest configured step below the peak.
	TrailingStepped TrailingStopKind = "STEPPED"
)

// TrailingStop configures the ratcheting stop. It only arms once peak
// returns have exceeded Activation.
type TrailingStop struct {
	Kind       TrailingStopKind
	Percentage float64   // Fraction of peak kept as floor (PERCENT kind)
	Steps      []float64 // Ascending floor candidates (STEPPED kind)
	Activation float64   // Peak returns required before the stop arms
}

// Modifiers is the read-only risk configuration attached to a trade.
// A zero percentage disables the corresponding trigger.
type Modifiers struct {
	StopLossPct   float64
	TakeProfitPct float64
	Trailing      *TrailingStop
}

// Evaluator decides whether a trade must be force-closed at the current
// reference price. The peak-returns high-water mark is the evaluator's
// only mutable state; it must be reset whenever a trade closes.
type Evaluator struct {
	mods Modifiers
	peak float64
}

// NewEvaluator creates an evaluator with the given modifiers.
func NewEvaluator(mods Modifiers) *Evaluator {
	return &Evaluator{mods: mods}
}

// PeakReturns returns the tracked high-water mark.
func (ev *Evaluator) PeakReturns() float64 { return ev.peak }

// ObserveReturns updates the peak on every bar where the current returns
// are positive and exceed the previous peak.
func (ev *Evaluator) ObserveReturns(returns float64) {
	if returns > 0 && returns > ev.peak {
		ev.peak = returns
	}
}

// Reset clears the peak. Call whenever the trade closes, for any reason.
func (ev *Evaluator) Reset() { ev.peak = 0 }

// Evaluate checks the triggers in strict precedence order and returns
// the first matching reason. First match wins: when both the bankruptcy
// and the stop-loss condition hold on the same bar, the reason is
// bankruptcy. A false second return value means "no trigger", which is
// not an error.
func (ev *Evaluator) Evaluate(t *domain.Trade, price float64) (domain.StopReason, bool) {
	returns := pnl.UnrealizedReturns(t, price)

	// 1. Leverage bankruptcy.
	if lev := t.OpenOrder.Leverage; lev > 1 {
		bankruptcy := pnl.BankruptcyPrice(t.Side(), t.EntryPrice(), lev)
		crossed := (t.Side() == domain.Buy && price <= bankruptcy) ||
			(t.Side() == domain.Sell && price >= bankruptcy)
		if crossed {
			return domain.StopReasonBankruptcy, true
		}
	}

	// 2. Stop-loss.
	if ev.mods.StopLossPct > 0 && returns < 0 && -returns >= ev.mods.StopLossPct {
		return domain.StopReasonStopLoss, true
	}

	// 3. Take-profit.
	if ev.mods.TakeProfitPct > 0 && returns > 0 && returns >= ev.mods.TakeProfitPct {
		return domain.StopReasonTakeProfit, true
	}

	// 4. Trailing stop, only once the peak has cleared the activation.
	if ts := ev.mods.Trailing; ts != nil && ev.peak > ts.Activation {
		if returns <= ev.trailingFloor(ts) {
			return domain.StopReasonTrailingStopLoss, true
		}
	}

	return domain.StopReasonNone, false
}

// trailingFloor computes the acceptable returns floor under the peak.
func (ev *Evaluator) trailingFloor(ts *TrailingStop) float64 {
	switch ts.Kind {
	case TrailingStepped:
		// Nearest configured step below the peak, clamped to activation.
		floor := ts.Activation
		for _, step := range ts.Steps {
			if step <= ev.peak && step > floor {
				floor = step
			}
		}
		return floor
	default:
		floor := ts.Percentage * ev.peak
		if floor < ts.Activation {
			floor = ts.Activation
		}
		return floor
	}
}
