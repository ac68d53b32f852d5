package domain

import "errors"

// Invariant violations raised by the Order/Trade state machine.
// These are fatal for the affected Trade: callers log them with full
// context and drop the trade rather than keep inconsistent state.
var (
	// ErrOrderMismatch is returned when an order update does not match
	// the trade's open or close order by exchange id.
	ErrOrderMismatch = errors.New("order update does not match trade's open or close order")
	// ErrTradeRetired is returned when an update targets a trade whose
	// derived status is already terminal (Closed or Cancelled).
	ErrTradeRetired = errors.New("trade is retired and accepts no further updates")
	// ErrCloseBeforeFill is returned when a close order is attached to a
	// trade whose open order has not begun filling.
	ErrCloseBeforeFill = errors.New("close order attached before open order began filling")
	// ErrUnexpectedOrderStatus is returned when status derivation meets an
	// order status that has no legal mapping for the trade's shape.
	ErrUnexpectedOrderStatus = errors.New("unexpected order status for trade shape")
)
