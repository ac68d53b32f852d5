package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openOrderWithFill(t *testing.T, units, executed float64) *Order {
	t.Helper()
	o := NewOrder("ETHUSDT", Buy, units, 5, false, 0.0004, testTime)
	o.UUID = "open-1"
	if executed > 0 {
		o.MergeExecution(fill("open-e1", "open-1", 2000, executed, 0))
	}
	return o
}

func closeOrderWithFill(units, closed float64) *Order {
	o := NewOrder("ETHUSDT", Sell, units, 5, true, 0.0004, testTime.Add(time.Hour))
	o.UUID = "close-1"
	if closed > 0 {
		o.MergeExecution(fill("close-e1", "close-1", 2200, closed, closed))
	}
	return o
}

func TestTradeStatusMirrorsOrders(t *testing.T) {
	t.Run("no close order", func(t *testing.T) {
		tests := []struct {
			name     string
			units    float64
			executed float64
			want     TradeStatus
		}{
			{name: "stand-by open is new", units: 2, executed: 0, want: TradeNew},
			{name: "partial fill is partially open", units: 2, executed: 1, want: TradePartiallyOpen},
			{name: "full fill awaits close order", units: 2, executed: 2, want: TradePendingCloseOrder},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				trade := NewTrade(openOrderWithFill(t, tt.units, tt.executed))
				status, err := trade.Status()
				require.NoError(t, err)
				assert.Equal(t, tt.want, status)
			})
		}
	})

	t.Run("cancelled open order", func(t *testing.T) {
		open := openOrderWithFill(t, 2, 0)
		open.Cancel(testTime)
		trade := NewTrade(open)
		status, err := trade.Status()
		require.NoError(t, err)
		assert.Equal(t, TradeCancelled, status)
		assert.True(t, status.IsTerminal())
	})

	t.Run("with close order", func(t *testing.T) {
		tests := []struct {
			name   string
			closed float64
			want   TradeStatus
		}{
			{name: "resting close is stand-by", closed: 0, want: TradeCloseOrderStandBy},
			{name: "partial close", closed: 1, want: TradePartiallyClosed},
			{name: "full close is terminal", closed: 2, want: TradeClosed},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				trade := NewTrade(openOrderWithFill(t, 2, 2))
				require.NoError(t, trade.AttachCloseOrder(closeOrderWithFill(2, tt.closed)))
				status, err := trade.Status()
				require.NoError(t, err)
				assert.Equal(t, tt.want, status)
			})
		}
	})
}

func TestTradeStatusSurfacesInvariantViolation(t *testing.T) {
	trade := NewTrade(openOrderWithFill(t, 2, 2))
	// A close order in an open-side status is impossible through the
	// public mutators; force it to simulate a corrupted snapshot.
	bad := closeOrderWithFill(2, 0)
	bad.IsClose = false
	bad.MergeExecution(fill("bad-e1", "close-1", 2200, 2, 0))
	trade.CloseOrder = bad

	_, err := trade.Status()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnexpectedOrderStatus)
}

func TestAttachCloseOrderRequiresFill(t *testing.T) {
	trade := NewTrade(openOrderWithFill(t, 2, 0))
	err := trade.AttachCloseOrder(closeOrderWithFill(2, 0))
	assert.ErrorIs(t, err, ErrCloseBeforeFill)
}

func TestAttachCloseOrderOnlyOnce(t *testing.T) {
	trade := NewTrade(openOrderWithFill(t, 2, 2))
	require.NoError(t, trade.AttachCloseOrder(closeOrderWithFill(2, 1)))
	err := trade.AttachCloseOrder(closeOrderWithFill(2, 0))
	assert.ErrorIs(t, err, ErrOrderMismatch)
}

func TestAttachCloseOrderRefusedOnRetiredTrade(t *testing.T) {
	trade := NewTrade(openOrderWithFill(t, 2, 2))
	require.NoError(t, trade.AttachCloseOrder(closeOrderWithFill(2, 2)))
	status, err := trade.Status()
	require.NoError(t, err)
	require.True(t, status.IsTerminal())

	trade.CloseOrder = nil
	trade.OpenOrder.Cancel(testTime)
	assert.ErrorIs(t, trade.AttachCloseOrder(closeOrderWithFill(2, 0)), ErrTradeRetired)
}

func TestUpdateOrderMatchesByUUID(t *testing.T) {
	trade := NewTrade(openOrderWithFill(t, 2, 1))

	fresher := openOrderWithFill(t, 2, 2)
	require.NoError(t, trade.UpdateOrder(fresher))
	assert.Same(t, fresher, trade.OpenOrder)

	unrelated := openOrderWithFill(t, 2, 1)
	unrelated.UUID = "other-order"
	assert.ErrorIs(t, trade.UpdateOrder(unrelated), ErrOrderMismatch)
}

func TestUpdateOrderRefusedOnTerminalTrade(t *testing.T) {
	trade := NewTrade(openOrderWithFill(t, 2, 2))
	require.NoError(t, trade.AttachCloseOrder(closeOrderWithFill(2, 2)))

	err := trade.UpdateOrder(openOrderWithFill(t, 2, 2))
	assert.ErrorIs(t, err, ErrTradeRetired)
}

func TestMergeExecutionsRoutesByOrder(t *testing.T) {
	trade := NewTrade(openOrderWithFill(t, 2, 1))
	require.NoError(t, trade.AttachCloseOrder(closeOrderWithFill(2, 0)))

	err := trade.MergeExecutions([]Execution{
		fill("open-e2", "open-1", 2010, 1, 0),
		fill("close-e2", "close-1", 2200, 1, 1),
	})
	require.NoError(t, err)
	assert.Equal(t, 2.0, trade.OpenOrder.ExecutedQty())
	assert.Equal(t, 1.0, trade.CloseOrder.ClosedQty())

	err = trade.MergeExecutions([]Execution{fill("x", "ghost-order", 1, 1, 0)})
	assert.ErrorIs(t, err, ErrOrderMismatch)
}

func TestOpenSizeClampsAtZero(t *testing.T) {
	trade := NewTrade(openOrderWithFill(t, 2, 1))
	require.NoError(t, trade.AttachCloseOrder(closeOrderWithFill(2, 0)))
	trade.CloseOrder.MergeExecution(fill("close-e3", "close-1", 2200, 2, 2))
	assert.Zero(t, trade.OpenSize())
}
