package domain

// Side represents the side of an order (BUY or SELL).
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// OrderType represents the execution style of an order.
type OrderType string

const (
	Market OrderType = "MARKET"
	Limit  OrderType = "LIMIT"
)

// Signal is the categorical trading signal produced by the strategy
// collaborator, one per completed time bar.
type Signal string

const (
	GoLong         Signal = "GO_LONG"
	GoShort        Signal = "GO_SHORT"
	CloseLong      Signal = "CLOSE_LONG"
	CloseShort     Signal = "CLOSE_SHORT"
	ClosePosition  Signal = "CLOSE_POSITION"
	KeepPosition   Signal = "KEEP_POSITION"
	RevertPosition Signal = "REVERT_POSITION"
)

// OpensSide reports whether the signal requests opening a fresh position,
// and which side.
func (sig Signal) OpensSide() (Side, bool) {
	switch sig {
	case GoLong:
		return Buy, true
	case GoShort:
		return Sell, true
	default:
		return "", false
	}
}

// RequestsClose reports whether the signal asks to close a position
// currently held on the given side.
func (sig Signal) RequestsClose(held Side) bool {
	switch sig {
	case ClosePosition, RevertPosition:
		return true
	case CloseLong:
		return held == Buy
	case CloseShort:
		return held == Sell
	case GoLong:
		return held == Sell
	case GoShort:
		return held == Buy
	default:
		return false
	}
}

// RequestsReversal reports whether the signal asks to flip the position
// currently held on the given side.
func (sig Signal) RequestsReversal(held Side) bool {
	switch sig {
	case RevertPosition:
		return true
	case GoLong:
		return held == Sell
	case GoShort:
		return held == Buy
	default:
		return false
	}
}

// PositionLock is the policy guarding voluntary position closes.
type PositionLock string

const (
	// LockNone always allows closing.
	LockNone PositionLock = "NONE"
	// LockFee refuses to close while total fees are >= |unrealized PnL|.
	LockFee PositionLock = "FEE"
	// LockLoss refuses to close while unrealized PnL is <= 0.
	LockLoss PositionLock = "LOSS"
)

// StopReason indicates which price-level trigger force-closed a position.
type StopReason string

const (
	StopReasonNone             StopReason = ""
	StopReasonBankruptcy       StopReason = "LEVERAGE_BANKRUPTCY"
	StopReasonStopLoss         StopReason = "STOP_LOSS"
	StopReasonTakeProfit       StopReason = "TAKE_PROFIT"
	StopReasonTrailingStopLoss StopReason = "TRAILING_STOP_LOSS"
)
