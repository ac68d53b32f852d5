package engine

import (
	"perpbot/internal/domain"
	"perpbot/internal/ports"
	"perpbot/internal/reactive"
)

// Cells is the fixed set of reactive state containers shared by the
// engine's tasks. Each cell has exactly one writer task; every other
// task only reads via Load or Subscribe.
type Cells struct {
	// Trade holds the currently held trade, nil when flat. Written by the
	// order/cancel handling path and, when no live update has superseded
	// it, by the faulty-channel recovery path.
	Trade *reactive.Cell[*domain.Trade]
	// Balance holds the latest republished account balance.
	Balance *reactive.Cell[ports.Balance]
	// MarketData holds the latest completed bar snapshot.
	MarketData *reactive.Cell[*domain.Kline]
	// Signal holds the last trading signal.
	Signal *reactive.Cell[domain.Signal]

	// Inbound event streams, written by the push-channel adapter.
	OrderUpdates   *reactive.Cell[ports.OrderEvent]
	Executions     *reactive.Cell[[]domain.Execution]
	BalanceUpdates *reactive.Cell[ports.Balance]
}

// NewCells creates the engine's containers. The signal cell starts at
// KeepPosition so reactor reads before the first strategy output are
// no-ops.
func NewCells() *Cells {
	return &Cells{
		Trade:          reactive.NewCell[*domain.Trade](),
		Balance:        reactive.NewCell[ports.Balance](),
		MarketData:     reactive.NewCell[*domain.Kline](),
		Signal:         reactive.NewCellOf(domain.KeepPosition),
		OrderUpdates:   reactive.NewCell[ports.OrderEvent](),
		Executions:     reactive.NewCell[[]domain.Execution](),
		BalanceUpdates: reactive.NewCell[ports.Balance](),
	}
}
