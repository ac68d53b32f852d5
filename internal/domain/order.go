package domain

import (
	"fmt"
	"time"
)

// OrderStatus represents the lifecycle state of a single exchange order.
// It is always derived from the order's units and fill quantities, never
// set directly by callers.
type OrderStatus string

const (
	StandBy             OrderStatus = "STAND_BY"
	PartiallyFilled     OrderStatus = "PARTIALLY_FILLED"
	Filled              OrderStatus = "FILLED"
	PartiallyClosed     OrderStatus = "PARTIALLY_CLOSED"
	Closed              OrderStatus = "CLOSED"
	StoppedBankruptcy   OrderStatus = "STOPPED_BANKRUPTCY"
	StoppedStopLoss     OrderStatus = "STOPPED_STOP_LOSS"
	StoppedTakeProfit   OrderStatus = "STOPPED_TAKE_PROFIT"
	StoppedTrailingStop OrderStatus = "STOPPED_TRAILING_STOP"
	Cancelled           OrderStatus = "CANCELLED"
)

// IsFullyClosed reports whether the status is a terminal close-side state.
func (s OrderStatus) IsFullyClosed() bool {
	switch s {
	case Closed, StoppedBankruptcy, StoppedStopLoss, StoppedTakeProfit, StoppedTrailingStop:
		return true
	}
	return false
}

// Order represents one exchange order and its fills.
//
// Mutations go through MergeExecution, SetUnits and Cancel only; the
// status is re-derived after every mutation. Single-writer-per-trade
// discipline applies: an Order is never mutated by more than one task
// at a time.
type Order struct {
	LocalID         string      // Deterministic client id (symbol + timestamp + stage)
	UUID            string      // Exchange-assigned order id
	Symbol          string      // Trading symbol (e.g., "BTCUSDT")
	Status          OrderStatus // Derived lifecycle state
	Side            Side        // BUY or SELL
	IsClose         bool        // Whether the order reduces an existing position
	IsStop          bool        // Whether the order was placed by a price-level trigger
	StopReason      StopReason  // Which trigger placed it (stop orders only)
	Units           float64     // Requested quantity
	Leverage        int         // Leverage factor applied to the position
	StopLossPrice   float64     // Stop-loss trigger price (0 if unset)
	TakeProfitPrice float64     // Take-profit trigger price (0 if unset)
	AvgFillPrice    float64     // Average fill price (0 until first fill)
	Executions      []Execution // Append-only, deduplicated by execution id
	TakerFeeRate    float64     // Taker fee rate used for provisional fee estimates
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// OrderStage distinguishes the open and close legs when deriving local ids.
type OrderStage string

const (
	StageOpen  OrderStage = "open"
	StageClose OrderStage = "close"
)

// LocalOrderID derives the deterministic client order id for a leg of a
// trade. The same inputs always produce the same id, which lets the
// reconciliation path match replayed order snapshots to local state.
func LocalOrderID(symbol string, ts time.Time, stage OrderStage) string {
	return fmt.Sprintf("%s-%d-%s", symbol, ts.UnixMilli(), stage)
}

// NewOrder creates an order in StandBy with no fills.
// Panics if units is negative (programmer error, not recoverable).
func NewOrder(symbol string, side Side, units float64, leverage int, isClose bool, takerFeeRate float64, createdAt time.Time) *Order {
	if units < 0 {
		panic(fmt.Sprintf("domain: negative order units %f for %s", units, symbol))
	}
	stage := StageOpen
	if isClose {
		stage = StageClose
	}
	o := &Order{
		LocalID:      LocalOrderID(symbol, createdAt, stage),
		Symbol:       symbol,
		Side:         side,
		IsClose:      isClose,
		Units:        units,
		Leverage:     leverage,
		TakerFeeRate: takerFeeRate,
		CreatedAt:    createdAt,
		UpdatedAt:    createdAt,
	}
	o.Status = o.deriveStatus()
	return o
}

// ExecutedQty returns the total filled quantity.
func (o *Order) ExecutedQty() float64 {
	var qty float64
	for _, e := range o.Executions {
		qty += e.Qty
	}
	return qty
}

// ClosedQty returns the total position quantity reduced by this order's
// fills. Always zero for open-side orders.
func (o *Order) ClosedQty() float64 {
	var qty float64
	for _, e := range o.Executions {
		qty += e.ClosedQty
	}
	return qty
}

// ExecutedValue returns the notional value of all fills.
func (o *Order) ExecutedValue() float64 {
	var value float64
	for _, e := range o.Executions {
		value += e.Price * e.Qty
	}
	return value
}

// Fees returns the total fees paid across all fills.
func (o *Order) Fees() float64 {
	var fees float64
	for _, e := range o.Executions {
		fees += e.Fee
	}
	return fees
}

// HasExecution reports whether a fill with the given execution id has
// already been merged.
func (o *Order) HasExecution(id string) bool {
	for _, e := range o.Executions {
		if e.ID == id {
			return true
		}
	}
	return false
}

// MergeExecution appends a fill and re-derives the order status.
// Merging an already-seen execution id is a no-op, which makes replaying
// pulled executions over pushed ones safe. Returns whether the fill was new.
func (o *Order) MergeExecution(exec Execution) bool {
	if o.HasExecution(exec.ID) {
		return false
	}
	o.Executions = append(o.Executions, exec)
	if qty := o.ExecutedQty(); qty > 0 {
		o.AvgFillPrice = o.ExecutedValue() / qty
	}
	if exec.Timestamp.After(o.UpdatedAt) {
		o.UpdatedAt = exec.Timestamp
	}
	o.Status = o.deriveStatus()
	return true
}

// SetUnits changes the requested quantity (amend-down path) and
// re-derives the status. Panics if units is negative.
func (o *Order) SetUnits(units float64, at time.Time) {
	if units < 0 {
		panic(fmt.Sprintf("domain: negative order units %f for %s", units, o.Symbol))
	}
	o.Units = units
	o.UpdatedAt = at
	o.Status = o.deriveStatus()
}

// Cancel marks the order cancelled by zeroing its units.
func (o *Order) Cancel(at time.Time) {
	o.SetUnits(0, at)
}

// deriveStatus computes the lifecycle state from the order's quantities.
// Pure: the same (units, executed, closed, is_close) always yields the
// same status.
func (o *Order) deriveStatus() OrderStatus {
	if o.Units == 0 {
		return Cancelled
	}
	executed := o.ExecutedQty()
	if executed == 0 {
		return StandBy
	}
	if o.IsClose {
		if o.ClosedQty() >= o.Units {
			if o.IsStop {
				return stopStatus(o.StopReason)
			}
			return Closed
		}
		return PartiallyClosed
	}
	if executed >= o.Units {
		return Filled
	}
	return PartiallyFilled
}

func stopStatus(reason StopReason) OrderStatus {
	switch reason {
	case StopReasonBankruptcy:
		return StoppedBankruptcy
	case StopReasonStopLoss:
		return StoppedStopLoss
	case StopReasonTakeProfit:
		return StoppedTakeProfit
	case StopReasonTrailingStopLoss:
		return StoppedTrailingStop
	default:
		return Closed
	}
}
