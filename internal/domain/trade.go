package domain

import (
	"fmt"
	"time"
)

// TradeStatus is the derived state of a trade, computed on read from the
// open order's status and, when present, the close order's status.
type TradeStatus string

const (
	TradeNew               TradeStatus = "NEW"
	TradePartiallyOpen     TradeStatus = "PARTIALLY_OPEN"
	TradePendingCloseOrder TradeStatus = "PENDING_CLOSE_ORDER"
	TradeCloseOrderStandBy TradeStatus = "CLOSE_ORDER_STAND_BY"
	TradePartiallyClosed   TradeStatus = "PARTIALLY_CLOSED"
	TradeClosed            TradeStatus = "CLOSED"
	TradeCancelled         TradeStatus = "CANCELLED"
)

// IsTerminal reports whether the trade is retired: no further order
// updates may target it.
func (s TradeStatus) IsTerminal() bool {
	return s == TradeClosed || s == TradeCancelled
}

// Trade aggregates one open order and at most one close order,
// identified by its symbol and open timestamp.
type Trade struct {
	Symbol     string
	OpenedAt   time.Time
	OpenOrder  *Order
	CloseOrder *Order // nil until a close leg exists
}

// NewTrade creates a trade around a freshly placed open order.
func NewTrade(open *Order) *Trade {
	return &Trade{
		Symbol:    open.Symbol,
		OpenedAt:  open.CreatedAt,
		OpenOrder: open,
	}
}

// Key identifies the trade by symbol and open timestamp.
func (t *Trade) Key() string {
	return fmt.Sprintf("%s@%d", t.Symbol, t.OpenedAt.UnixMilli())
}

// Side returns the direction of the position (the open order's side).
func (t *Trade) Side() Side {
	return t.OpenOrder.Side
}

// EntryPrice returns the average fill price of the open order.
func (t *Trade) EntryPrice() float64 {
	return t.OpenOrder.AvgFillPrice
}

// OpenSize returns the executed quantity not yet closed.
func (t *Trade) OpenSize() float64 {
	size := t.OpenOrder.ExecutedQty()
	if t.CloseOrder != nil {
		size -= t.CloseOrder.ClosedQty()
	}
	if size < 0 {
		return 0
	}
	return size
}

// ActiveOrder returns the order currently in flight: the close order if
// one exists, otherwise the open order.
func (t *Trade) ActiveOrder() *Order {
	if t.CloseOrder != nil {
		return t.CloseOrder
	}
	return t.OpenOrder
}

// Status derives the trade status. It is the single authority other
// components query to decide which actions are legal.
//
// With a close order the trade mirrors it; without one the trade mirrors
// the open order. Any other combination is an invariant violation and is
// surfaced as an error (fatal for this trade, not the process).
func (t *Trade) Status() (TradeStatus, error) {
	if t.CloseOrder != nil {
		switch st := t.CloseOrder.Status; {
		case st.IsFullyClosed():
			return TradeClosed, nil
		case st == PartiallyClosed:
			return TradePartiallyClosed, nil
		case st == StandBy:
			return TradeCloseOrderStandBy, nil
		default:
			return "", fmt.Errorf("close order %s in status %s: %w", t.CloseOrder.UUID, st, ErrUnexpectedOrderStatus)
		}
	}
	switch st := t.OpenOrder.Status; st {
	case Filled:
		return TradePendingCloseOrder, nil
	case PartiallyFilled:
		return TradePartiallyOpen, nil
	case StandBy:
		return TradeNew, nil
	case Cancelled:
		return TradeCancelled, nil
	default:
		return "", fmt.Errorf("open order %s in status %s without close order: %w", t.OpenOrder.UUID, st, ErrUnexpectedOrderStatus)
	}
}

// AttachCloseOrder sets the close leg. A close order may only exist once
// the open order has begun filling, and only one may ever exist.
func (t *Trade) AttachCloseOrder(o *Order) error {
	if status, err := t.Status(); err != nil {
		return err
	} else if status.IsTerminal() {
		return fmt.Errorf("trade %s: %w", t.Key(), ErrTradeRetired)
	}
	if t.CloseOrder != nil {
		return fmt.Errorf("trade %s already has close order %s: %w", t.Key(), t.CloseOrder.UUID, ErrOrderMismatch)
	}
	if t.OpenOrder.ExecutedQty() == 0 {
		return fmt.Errorf("trade %s: %w", t.Key(), ErrCloseBeforeFill)
	}
	t.CloseOrder = o
	return nil
}

// UpdateOrder replaces the open or close order with a fresher snapshot,
// matched by exchange id. A mismatch is a fatal inconsistency for this
// trade and must not be silently dropped by callers.
func (t *Trade) UpdateOrder(o *Order) error {
	status, err := t.Status()
	if err != nil {
		return err
	}
	if status.IsTerminal() {
		return fmt.Errorf("trade %s: %w", t.Key(), ErrTradeRetired)
	}
	switch {
	case t.CloseOrder != nil && t.CloseOrder.UUID == o.UUID:
		t.CloseOrder = o
	case t.OpenOrder.UUID == o.UUID:
		t.OpenOrder = o
	default:
		return fmt.Errorf("trade %s: update for order %s: %w", t.Key(), o.UUID, ErrOrderMismatch)
	}
	return nil
}

// MergeExecutions merges fills into whichever order they belong to,
// matched by order uuid. Unknown order uuids are reported via the
// returned error; already-seen execution ids are skipped.
func (t *Trade) MergeExecutions(execs []Execution) error {
	for _, e := range execs {
		switch {
		case t.CloseOrder != nil && t.CloseOrder.UUID == e.OrderUUID:
			t.CloseOrder.MergeExecution(e)
		case t.OpenOrder.UUID == e.OrderUUID:
			t.OpenOrder.MergeExecution(e)
		default:
			return fmt.Errorf("trade %s: execution %s for order %s: %w", t.Key(), e.ID, e.OrderUUID, ErrOrderMismatch)
		}
	}
	return nil
}
