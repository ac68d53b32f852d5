// Package backtest replays the live engine's lifecycle and PnL rules
// over a historical series, index by index, to produce a simulated
// equity curve. It shares the order/trade state machine, the PnL
// calculator and the price-level evaluator with the live engine.
package backtest

import (
	"fmt"
	"time"

	"perpbot/internal/domain"
	"perpbot/internal/ports"
)

// Table is the time-ordered trading table: per-bar signal and OHLC
// input columns plus the parallel output sequences written by the
// simulator.
type Table struct {
	// Input columns.
	Times   []time.Time
	Open    []float64
	High    []float64
	Low     []float64
	Close   []float64
	Signals []domain.Signal

	// Output columns, one parallel sequence per field.
	TradeFees []float64
	Units     []float64
	PnL       []float64
	Returns   []float64
	Balance   []float64
	Position  []int // −1 short, 0 flat, 1 long
	Action    []domain.Signal
}

// Len returns the number of bars.
func (t *Table) Len() int { return len(t.Times) }

// Validate checks the input columns. An empty series is a hard error:
// no partial result is meaningful.
func (t *Table) Validate() error {
	n := t.Len()
	if n == 0 {
		return fmt.Errorf("trading table has no bars: %w", ports.ErrEmptySeries)
	}
	for name, col := range map[string]int{
		"open":    len(t.Open),
		"high":    len(t.High),
		"low":     len(t.Low),
		"close":   len(t.Close),
		"signals": len(t.Signals),
	} {
		if col != n {
			return fmt.Errorf("column %s has %d rows, expected %d: %w", name, col, n, ports.ErrInvalidRequest)
		}
	}
	for i := 1; i < n; i++ {
		if t.Times[i].Before(t.Times[i-1]) {
			return fmt.Errorf("bars not time-ordered at index %d: %w", i, ports.ErrInvalidRequest)
		}
	}
	return nil
}

// seedOutputs allocates the output columns and writes the index-0
// defaults: zero fees/units/PnL/returns, the initial balance, flat
// position and a keep action.
func (t *Table) seedOutputs(initialBalance float64) {
	n := t.Len()
	t.TradeFees = make([]float64, n)
	t.Units = make([]float64, n)
	t.PnL = make([]float64, n)
	t.Returns = make([]float64, n)
	t.Balance = make([]float64, n)
	t.Position = make([]int, n)
	t.Action = make([]domain.Signal, n)
	t.Balance[0] = initialBalance
	t.Action[0] = domain.KeepPosition
}
