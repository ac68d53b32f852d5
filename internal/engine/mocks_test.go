package engine

import (
	"context"
	"sync"
	"time"

	"perpbot/internal/domain"
	"perpbot/internal/ports"
)

// nopLogger satisfies ports.Logger without output.
type nopLogger struct{}

func (nopLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (nopLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (nopLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (nopLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

// mockExchange implements ports.ExchangeClient through overridable
// function fields; unset methods return zero values.
type mockExchange struct {
	openOrderFunc       func(ctx context.Context, req ports.OpenOrderRequest) (*domain.Order, error)
	amendOrderFunc      func(ctx context.Context, orderUUID string, req ports.AmendOrderRequest) (bool, error)
	tryCloseFunc        func(ctx context.Context, trade *domain.Trade, orderType domain.OrderType, price float64, lock domain.PositionLock) (*domain.Order, error)
	cancelOrderFunc     func(ctx context.Context, orderUUID string) (bool, error)
	fetchPositionFunc   func(ctx context.Context) (*domain.Trade, error)
	fetchExecutionsFunc func(ctx context.Context, orderUUID string, start, end time.Time) ([]domain.Execution, error)
	fetchOrderStateFunc func(ctx context.Context, orderUUID string) (*ports.OrderEvent, error)
	fetchBalanceFunc    func(ctx context.Context, asset string) (*ports.Balance, error)
	lastPriceFunc       func(ctx context.Context, symbol string) (float64, error)
	streamUserDataFunc  func(ctx context.Context, handlers ports.StreamHandlers) (chan struct{}, chan struct{}, error)
}

func (m *mockExchange) OpenOrder(ctx context.Context, req ports.OpenOrderRequest) (*domain.Order, error) {
	if m.openOrderFunc != nil {
		return m.openOrderFunc(ctx, req)
	}
	return nil, nil
}

func (m *mockExchange) AmendOrder(ctx context.Context, orderUUID string, req ports.AmendOrderRequest) (bool, error) {
	if m.amendOrderFunc != nil {
		return m.amendOrderFunc(ctx, orderUUID, req)
	}
	return true, nil
}

func (m *mockExchange) TryClosePosition(ctx context.Context, trade *domain.Trade, orderType domain.OrderType, price float64, lock domain.PositionLock) (*domain.Order, error) {
	if m.tryCloseFunc != nil {
		return m.tryCloseFunc(ctx, trade, orderType, price, lock)
	}
	return nil, nil
}

func (m *mockExchange) CancelOrder(ctx context.Context, orderUUID string) (bool, error) {
	if m.cancelOrderFunc != nil {
		return m.cancelOrderFunc(ctx, orderUUID)
	}
	return true, nil
}

func (m *mockExchange) FetchCurrentPositionTrade(ctx context.Context) (*domain.Trade, error) {
	if m.fetchPositionFunc != nil {
		return m.fetchPositionFunc(ctx)
	}
	return nil, nil
}

func (m *mockExchange) FetchOrderExecutions(ctx context.Context, orderUUID string, start, end time.Time) ([]domain.Execution, error) {
	if m.fetchExecutionsFunc != nil {
		return m.fetchExecutionsFunc(ctx, orderUUID, start, end)
	}
	return nil, nil
}

func (m *mockExchange) FetchOrderState(ctx context.Context, orderUUID string) (*ports.OrderEvent, error) {
	if m.fetchOrderStateFunc != nil {
		return m.fetchOrderStateFunc(ctx, orderUUID)
	}
	return nil, nil
}

func (m *mockExchange) FetchBalance(ctx context.Context, asset string) (*ports.Balance, error) {
	if m.fetchBalanceFunc != nil {
		return m.fetchBalanceFunc(ctx, asset)
	}
	return &ports.Balance{Asset: asset}, nil
}

func (m *mockExchange) LastPrice(ctx context.Context, symbol string) (float64, error) {
	if m.lastPriceFunc != nil {
		return m.lastPriceFunc(ctx, symbol)
	}
	return 0, nil
}

func (m *mockExchange) StreamUserData(ctx context.Context, handlers ports.StreamHandlers) (chan struct{}, chan struct{}, error) {
	if m.streamUserDataFunc != nil {
		return m.streamUserDataFunc(ctx, handlers)
	}
	return make(chan struct{}), make(chan struct{}, 1), nil
}

// mockJournal records journaled trades.
type mockJournal struct {
	mu      sync.Mutex
	records []*ports.TradeRecord
	err     error
}

func (m *mockJournal) CreateTrade(ctx context.Context, rec *ports.TradeRecord) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	m.records = append(m.records, rec)
	return int64(len(m.records)), nil
}

func (m *mockJournal) FindBySymbol(ctx context.Context, symbol string, limit int) ([]*ports.TradeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*ports.TradeRecord(nil), m.records...), nil
}

func (m *mockJournal) TotalPnL(ctx context.Context, symbol string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var total float64
	for _, r := range m.records {
		total += r.PnL
	}
	return total, nil
}

func (m *mockJournal) recorded() []*ports.TradeRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*ports.TradeRecord(nil), m.records...)
}
