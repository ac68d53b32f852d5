package ports

import (
	"context"
	"time"

	"perpbot/internal/domain"
)

// TradeRecord is the flattened audit row persisted for a finished trade.
type TradeRecord struct {
	ID          int64
	Symbol      string
	Side        domain.Side
	EntryPrice  float64
	ExitPrice   float64
	Units       float64
	Leverage    int
	PnL         float64
	Fees        float64
	Returns     float64
	OpenedAt    time.Time
	ClosedAt    time.Time
	CloseReason domain.StopReason // StopReasonNone for signal-driven closes
}

// TradeRepository persists the journal of finished trades.
type TradeRepository interface {
	// CreateTrade saves a new trade record and returns its assigned ID.
	CreateTrade(ctx context.Context, rec *TradeRecord) (int64, error)
	// FindBySymbol retrieves the most recent trades for a symbol, up to a limit.
	FindBySymbol(ctx context.Context, symbol string, limit int) ([]*TradeRecord, error)
	// TotalPnL sums the PnL of all recorded trades for a symbol.
	TotalPnL(ctx context.Context, symbol string) (float64, error)
}
