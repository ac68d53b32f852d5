package ports

import (
	"context"
	"time"

	"perpbot/internal/domain"
)

// Balance is the account balance snapshot for one asset.
type Balance struct {
	Asset     string
	Available float64 // Free margin available for new positions
	Total     float64 // Wallet balance including locked margin
	UpdatedAt time.Time
}

// OrderEventKind classifies a pushed or pulled order state change.
type OrderEventKind string

const (
	// OrderEventUpdate carries a fresher snapshot of a known or new order.
	OrderEventUpdate OrderEventKind = "UPDATE"
	// OrderEventStop is an update for a price-level stop order; its
	// application additionally triggers PnL logging.
	OrderEventStop OrderEventKind = "STOP"
	// OrderEventCancel reports that the order was cancelled on the exchange.
	OrderEventCancel OrderEventKind = "CANCEL"
)

// OrderEvent is one order state change delivered by the push channel or
// synthesized by the faulty-channel recovery path.
type OrderEvent struct {
	Kind  OrderEventKind
	Order *domain.Order
}

// StreamHandlers receives push-channel events. Handlers are invoked from
// the stream's read loop and must not block.
type StreamHandlers struct {
	OnOrder      func(OrderEvent)
	OnExecutions func([]domain.Execution)
	OnBalance    func(Balance)
	// OnError is called for read failures. The adapter owns reconnection;
	// this callback lets the engine mark the outage for later gap-filling.
	OnError func(error)
}

// OpenOrderRequest describes a new position-opening order.
type OpenOrderRequest struct {
	Symbol        string
	Side          domain.Side
	Type          domain.OrderType
	Units         float64
	ExpectedPrice float64 // Reference price for limit orders and sizing audit
	Leverage      int
	StopLossPct   *float64 // Optional exchange-side stop-loss, as a fraction of entry
	TakeProfitPct *float64 // Optional exchange-side take-profit, as a fraction of entry
}

// AmendOrderRequest carries the mutable fields of a resting order.
// Nil fields are left unchanged.
type AmendOrderRequest struct {
	Units           *float64
	Price           *float64
	StopLossPrice   *float64
	TakeProfitPrice *float64
}

// ExchangeClient is the capability interface the trading core consumes.
// Implementations translate to a concrete exchange's REST and websocket
// protocol. All methods return a recoverable error on transport or
// protocol failure.
type ExchangeClient interface {
	// OpenOrder places a position-opening order and returns the local view of it.
	OpenOrder(ctx context.Context, req OpenOrderRequest) (*domain.Order, error)

	// AmendOrder modifies a resting order in place. Returns false when the
	// exchange rejected the amendment without a transport failure.
	AmendOrder(ctx context.Context, orderUUID string, req AmendOrderRequest) (bool, error)

	// TryClosePosition places the close order for the trade's open size,
	// subject to the position lock policy. A lock refusal is reported as
	// ErrPositionLocked, an expected non-error outcome.
	TryClosePosition(ctx context.Context, trade *domain.Trade, orderType domain.OrderType, price float64, lock domain.PositionLock) (*domain.Order, error)

	// CancelOrder cancels a resting order by exchange id.
	CancelOrder(ctx context.Context, orderUUID string) (bool, error)

	// FetchCurrentPositionTrade pulls the exchange's authoritative open
	// position and rebuilds a Trade from it. Returns nil, nil when flat.
	FetchCurrentPositionTrade(ctx context.Context) (*domain.Trade, error)

	// FetchOrderExecutions pulls the fills for one order inside [start, end].
	FetchOrderExecutions(ctx context.Context, orderUUID string, start, end time.Time) ([]domain.Execution, error)

	// FetchOrderState pulls one authoritative order snapshot, classified as
	// the order event the live handlers would have received.
	FetchOrderState(ctx context.Context, orderUUID string) (*OrderEvent, error)

	// FetchBalance pulls the current balance for one asset.
	FetchBalance(ctx context.Context, asset string) (*Balance, error)

	// LastPrice returns the most recent traded price for the symbol.
	LastPrice(ctx context.Context, symbol string) (float64, error)

	// StreamUserData starts the push channel (order, execution and balance
	// events). The adapter reconnects with backoff on read errors; doneCh
	// closes when the stream gives up for good, stopCh stops it.
	StreamUserData(ctx context.Context, handlers StreamHandlers) (doneCh chan struct{}, stopCh chan struct{}, err error)
}
