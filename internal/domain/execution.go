package domain

import "time"

// Execution represents a single fill event against an order.
// Immutable once created.
type Execution struct {
	ID        string    // Exchange execution/trade id, unique per fill
	OrderUUID string    // Exchange id of the order this fill belongs to
	Price     float64   // Fill price
	Qty       float64   // Filled quantity
	Fee       float64   // Fee charged for this fill, in quote currency
	FeeRate   float64   // Fee rate applied (maker or taker)
	IsMaker   bool      // Whether the fill was passive
	ClosedQty float64   // Quantity of the open position reduced by this fill (close-side fills only)
	Timestamp time.Time // Exchange time of the fill
}
