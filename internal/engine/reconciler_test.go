package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perpbot/internal/domain"
	"perpbot/internal/ports"
	"perpbot/internal/risk"
)

var testTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestEngine(t *testing.T, journal ports.TradeRepository) (*Engine, *mockExchange) {
	t.Helper()
	exchange := &mockExchange{}
	eng, err := New(Config{
		Symbol:       "ETHUSDT",
		Asset:        "USDT",
		Leverage:     5,
		TakerFeeRate: 0,
		Lock:         domain.LockNone,
		Modifiers:    risk.Modifiers{StopLossPct: 0.1},
	}, nopLogger{}, exchange, journal)
	require.NoError(t, err)
	return eng, exchange
}

func openOrderEvent(uuid string, units float64) ports.OrderEvent {
	o := domain.NewOrder("ETHUSDT", domain.Buy, units, 5, false, 0, testTime)
	o.UUID = uuid
	return ports.OrderEvent{Kind: ports.OrderEventUpdate, Order: o}
}

func exec(id, orderUUID string, price, qty, closedQty float64) domain.Execution {
	return domain.Execution{
		ID: id, OrderUUID: orderUUID, Price: price, Qty: qty,
		ClosedQty: closedQty, Timestamp: testTime,
	}
}

func TestApplyOrderEventCreatesTrade(t *testing.T) {
	eng, _ := newTestEngine(t, nil)
	ctx := context.Background()

	eng.applyOrderEvent(ctx, openOrderEvent("open-1", 2))

	trade, ok := eng.cells.Trade.Load()
	require.True(t, ok)
	require.NotNil(t, trade)
	status, err := trade.Status()
	require.NoError(t, err)
	assert.Equal(t, domain.TradeNew, status)
}

func TestApplyOrderEventDropsStopAndCloseWithNoTrade(t *testing.T) {
	eng, _ := newTestEngine(t, nil)
	ctx := context.Background()

	closeEv := openOrderEvent("close-1", 2)
	closeEv.Order.IsClose = true
	eng.applyOrderEvent(ctx, closeEv)

	stopEv := openOrderEvent("stop-1", 2)
	stopEv.Order.IsStop = true
	stopEv.Kind = ports.OrderEventStop
	eng.applyOrderEvent(ctx, stopEv)

	_, ok := eng.cells.Trade.Load()
	assert.False(t, ok, "no trade may be created from stop/close updates")
}

func TestExecutionBeforeOrderAckIsMergedOnApply(t *testing.T) {
	// The fill arrives before the order ack. It is buffered, then merged
	// when the ack creates the trade.
	eng, _ := newTestEngine(t, nil)
	ctx := context.Background()

	eng.pending.Add(exec("e1", "open-1", 2000, 2, 0))
	eng.applyOrderEvent(ctx, openOrderEvent("open-1", 2))

	trade, _ := eng.cells.Trade.Load()
	require.NotNil(t, trade)
	assert.Equal(t, 2.0, trade.OpenOrder.ExecutedQty())
	status, err := trade.Status()
	require.NoError(t, err)
	assert.Equal(t, domain.TradePendingCloseOrder, status)
}

func TestReplayedExecutionDoesNotDoubleCount(t *testing.T) {
	// The same fill delivered by push and again by pull recovery merges
	// exactly once.
	eng, _ := newTestEngine(t, nil)
	ctx := context.Background()

	eng.pending.Add(exec("e1", "open-1", 2000, 1, 0))
	eng.applyOrderEvent(ctx, openOrderEvent("open-1", 2))

	eng.pending.Add(exec("e1", "open-1", 2000, 1, 0))
	eng.applyOrderEvent(ctx, openOrderEvent("open-1", 2))

	trade, _ := eng.cells.Trade.Load()
	require.NotNil(t, trade)
	assert.Equal(t, 1.0, trade.OpenOrder.ExecutedQty())
}

func TestFresherSnapshotCarriesEarlierFills(t *testing.T) {
	eng, _ := newTestEngine(t, nil)
	ctx := context.Background()

	eng.pending.Add(exec("e1", "open-1", 2000, 1, 0))
	eng.applyOrderEvent(ctx, openOrderEvent("open-1", 2))

	// A fresher snapshot of the same order arrives without fills; the
	// previously merged execution must survive the replacement.
	eng.applyOrderEvent(ctx, openOrderEvent("open-1", 2))

	trade, _ := eng.cells.Trade.Load()
	require.NotNil(t, trade)
	assert.Equal(t, 1.0, trade.OpenOrder.ExecutedQty())
	assert.True(t, trade.OpenOrder.HasExecution("e1"))
}

func TestUnrelatedCancelIsIgnored(t *testing.T) {
	eng, _ := newTestEngine(t, nil)
	ctx := context.Background()

	eng.applyOrderEvent(ctx, openOrderEvent("open-1", 2))

	stale := openOrderEvent("old-stop-9", 1)
	stale.Kind = ports.OrderEventCancel
	eng.applyOrderEvent(ctx, stale)

	trade, _ := eng.cells.Trade.Load()
	require.NotNil(t, trade, "unrelated cancel must not touch the current trade")
	status, err := trade.Status()
	require.NoError(t, err)
	assert.Equal(t, domain.TradeNew, status)
}

func TestCancelOfOpenOrderRetiresTrade(t *testing.T) {
	eng, _ := newTestEngine(t, nil)
	ctx := context.Background()

	eng.applyOrderEvent(ctx, openOrderEvent("open-1", 2))

	cancel := openOrderEvent("open-1", 2)
	cancel.Kind = ports.OrderEventCancel
	eng.applyOrderEvent(ctx, cancel)

	trade, ok := eng.cells.Trade.Load()
	require.True(t, ok)
	assert.Nil(t, trade, "cancelled trade must be retired from the cell")
}

func TestFullCloseRetiresAndJournalsTrade(t *testing.T) {
	journal := &mockJournal{}
	eng, _ := newTestEngine(t, journal)
	ctx := context.Background()

	eng.pending.Add(exec("open-e1", "open-1", 2000, 2, 0))
	eng.applyOrderEvent(ctx, openOrderEvent("open-1", 2))

	closeEv := openOrderEvent("close-1", 2)
	closeEv.Order.IsClose = true
	closeEv.Order.Side = domain.Sell
	eng.pending.Add(exec("close-e1", "close-1", 2100, 2, 2))
	eng.applyOrderEvent(ctx, closeEv)

	trade, ok := eng.cells.Trade.Load()
	require.True(t, ok)
	assert.Nil(t, trade, "closed trade must be retired from the cell")

	records := journal.recorded()
	require.Len(t, records, 1)
	assert.Equal(t, "ETHUSDT", records[0].Symbol)
	assert.Equal(t, domain.Buy, records[0].Side)
	assert.InDelta(t, 2000.0, records[0].EntryPrice, 1e-9)
	assert.InDelta(t, 2100.0, records[0].ExitPrice, 1e-9)
	assert.InDelta(t, 200.0, records[0].PnL, 1e-9)
}

func TestDuplicateJournalEntryIsTolerated(t *testing.T) {
	journal := &mockJournal{err: ports.ErrDuplicateEntry}
	eng, _ := newTestEngine(t, journal)
	ctx := context.Background()

	eng.pending.Add(exec("open-e1", "open-1", 2000, 2, 0))
	eng.applyOrderEvent(ctx, openOrderEvent("open-1", 2))

	closeEv := openOrderEvent("close-1", 2)
	closeEv.Order.IsClose = true
	eng.pending.Add(exec("close-e1", "close-1", 2100, 2, 2))
	eng.applyOrderEvent(ctx, closeEv)

	trade, ok := eng.cells.Trade.Load()
	require.True(t, ok)
	assert.Nil(t, trade, "duplicate journal entries must not block retirement")
}

func TestStopEventRetiresWithStopStatus(t *testing.T) {
	journal := &mockJournal{}
	eng, _ := newTestEngine(t, journal)
	ctx := context.Background()

	eng.pending.Add(exec("open-e1", "open-1", 2000, 2, 0))
	eng.applyOrderEvent(ctx, openOrderEvent("open-1", 2))

	stopEv := openOrderEvent("stop-1", 2)
	stopEv.Kind = ports.OrderEventStop
	stopEv.Order.IsClose = true
	stopEv.Order.IsStop = true
	stopEv.Order.StopReason = domain.StopReasonStopLoss
	eng.pending.Add(exec("stop-e1", "stop-1", 1950, 2, 2))
	eng.applyOrderEvent(ctx, stopEv)

	trade, ok := eng.cells.Trade.Load()
	require.True(t, ok)
	assert.Nil(t, trade)

	records := journal.recorded()
	require.Len(t, records, 1)
	assert.Equal(t, domain.StopReasonStopLoss, records[0].CloseReason)
	assert.InDelta(t, -100.0, records[0].PnL, 1e-9)
}

func TestPublishedTradeSnapshotsAreImmutable(t *testing.T) {
	// The reactor reads trade snapshots concurrently with the order loop,
	// so a snapshot must never change after it was published.
	eng, _ := newTestEngine(t, nil)
	ctx := context.Background()

	eng.applyOrderEvent(ctx, openOrderEvent("open-1", 2))
	held, ok := eng.cells.Trade.Load()
	require.True(t, ok)
	require.NotNil(t, held)

	eng.pending.Add(exec("e1", "open-1", 2000, 2, 0))
	eng.applyOrderEvent(ctx, openOrderEvent("open-1", 2))

	assert.Zero(t, held.OpenOrder.ExecutedQty(), "held snapshot must not observe later fills")
	current, _ := eng.cells.Trade.Load()
	require.NotNil(t, current)
	assert.NotSame(t, held, current)
	assert.InDelta(t, 2.0, current.OpenOrder.ExecutedQty(), 1e-9)

	// Cancels go through a private copy as well.
	cancel := openOrderEvent("open-1", 2)
	cancel.Kind = ports.OrderEventCancel
	eng.applyOrderEvent(ctx, cancel)
	assert.InDelta(t, 2.0, current.OpenOrder.Units, 1e-9, "held snapshot must not observe the cancel")
}

func TestInconsistentUpdateDropsTrade(t *testing.T) {
	eng, _ := newTestEngine(t, nil)
	ctx := context.Background()

	eng.pending.Add(exec("open-e1", "open-1", 2000, 2, 0))
	eng.applyOrderEvent(ctx, openOrderEvent("open-1", 2))

	// A close leg already exists; an update for a different unknown
	// order id is an order mismatch and fatal for the trade.
	closeEv := openOrderEvent("close-1", 2)
	closeEv.Order.IsClose = true
	eng.applyOrderEvent(ctx, closeEv)

	ghost := openOrderEvent("ghost-7", 2)
	eng.applyOrderEvent(ctx, ghost)

	trade, ok := eng.cells.Trade.Load()
	require.True(t, ok)
	assert.Nil(t, trade, "invariant violation must drop the trade, not keep it silently")
}
