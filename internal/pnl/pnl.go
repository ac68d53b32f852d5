// Package pnl provides pure profit/loss and margin arithmetic over
// orders and trades. The live engine and the backtest simulator share
// these functions; any divergence between the two is a correctness bug.
package pnl

import (
	"time"

	"perpbot/internal/domain"
)

// InitialMargin returns the capital committed to the open order,
// excluding fees: executed notional divided by the leverage factor.
func InitialMargin(open *domain.Order) float64 {
	if open.Leverage <= 0 {
		return open.ExecutedValue()
	}
	return open.ExecutedValue() / float64(open.Leverage)
}

// BankruptcyPrice returns the price at which a leveraged position's
// losses consume the entire margin: P·(L−1)/L for long, P·(L+1)/L for
// short.
func BankruptcyPrice(side domain.Side, entryPrice float64, leverage int) float64 {
	l := float64(leverage)
	if side == domain.Buy {
		return entryPrice * (l - 1) / l
	}
	return entryPrice * (l + 1) / l
}

// UnrealizedPnL returns the mark-to-market profit of the still-open part
// of the trade, net of the provisional taker fee a close at the mark
// price would incur.
func UnrealizedPnL(t *domain.Trade, markPrice float64) float64 {
	openSize := t.OpenSize()
	if openSize == 0 {
		return 0
	}
	entry := t.EntryPrice()
	provisionalCloseFee := markPrice * openSize * t.OpenOrder.TakerFeeRate
	if t.Side() == domain.Sell {
		return (entry-markPrice)*openSize - provisionalCloseFee
	}
	return (markPrice-entry)*openSize - provisionalCloseFee
}

// RealizedPnL returns the profit locked in by close executions, minus
// all fees paid on both legs.
func RealizedPnL(t *domain.Trade) float64 {
	return RealizedPnLBetween(t, time.Time{}, time.Time{})
}

// RealizedPnLBetween is the interval-scoped variant used for periodic
// equity-curve updates: only executions with timestamps inside
// [start, end] contribute. Zero bounds disable the corresponding cut.
func RealizedPnLBetween(t *domain.Trade, start, end time.Time) float64 {
	entry := t.EntryPrice()
	short := t.Side() == domain.Sell

	var realized float64
	if t.CloseOrder != nil {
		for _, e := range t.CloseOrder.Executions {
			if !inWindow(e.Timestamp, start, end) {
				continue
			}
			if short {
				realized += (entry - e.Price) * e.ClosedQty
			} else {
				realized += (e.Price - entry) * e.ClosedQty
			}
		}
	}
	return realized - FeesBetween(t, start, end)
}

// TotalFees returns the fees paid across both legs of the trade.
func TotalFees(t *domain.Trade) float64 {
	return FeesBetween(t, time.Time{}, time.Time{})
}

// FeesBetween sums fees for executions inside [start, end].
func FeesBetween(t *domain.Trade, start, end time.Time) float64 {
	var fees float64
	for _, e := range t.OpenOrder.Executions {
		if inWindow(e.Timestamp, start, end) {
			fees += e.Fee
		}
	}
	if t.CloseOrder != nil {
		for _, e := range t.CloseOrder.Executions {
			if inWindow(e.Timestamp, start, end) {
				fees += e.Fee
			}
		}
	}
	return fees
}

// Returns converts a PnL into the leveraged percentage return on the
// committed margin. Returns 0 when the margin is 0 to avoid division by
// zero on not-yet-filled orders.
func Returns(profit, initialMargin float64) float64 {
	if initialMargin == 0 {
		return 0
	}
	return profit / initialMargin
}

// UnrealizedReturns is the unrealized PnL over initial margin.
func UnrealizedReturns(t *domain.Trade, markPrice float64) float64 {
	return Returns(UnrealizedPnL(t, markPrice), InitialMargin(t.OpenOrder))
}

// RealizedReturns is the realized PnL over initial margin.
func RealizedReturns(t *domain.Trade) float64 {
	return Returns(RealizedPnL(t), InitialMargin(t.OpenOrder))
}

func inWindow(ts time.Time, start, end time.Time) bool {
	if !start.IsZero() && ts.Before(start) {
		return false
	}
	if !end.IsZero() && ts.After(end) {
		return false
	}
	return true
}
