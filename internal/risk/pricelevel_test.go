package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perpbot/internal/domain"
	"perpbot/internal/pnl"
)

var testTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// openTrade builds a fee-free filled trade so the evaluator's returns
// arithmetic stays exact.
func openTrade(t *testing.T, side domain.Side, entry float64, leverage int) *domain.Trade {
	t.Helper()
	open := domain.NewOrder("ETHUSDT", side, 1, leverage, false, 0, testTime)
	open.UUID = "open-1"
	open.MergeExecution(domain.Execution{
		ID: "open-e1", OrderUUID: "open-1", Price: entry, Qty: 1, Timestamp: testTime,
	})
	return domain.NewTrade(open)
}

func TestEvaluateBankruptcy(t *testing.T) {
	ev := NewEvaluator(Modifiers{})

	t.Run("long crosses below", func(t *testing.T) {
		trade := openTrade(t, domain.Buy, 100, 10)
		reason, triggered := ev.Evaluate(trade, 89)
		require.True(t, triggered)
		assert.Equal(t, domain.StopReasonBankruptcy, reason)
	})
	t.Run("short crosses above", func(t *testing.T) {
		trade := openTrade(t, domain.Sell, 100, 10)
		reason, triggered := ev.Evaluate(trade, 111)
		require.True(t, triggered)
		assert.Equal(t, domain.StopReasonBankruptcy, reason)
	})
	t.Run("leverage 1 never bankrupts", func(t *testing.T) {
		trade := openTrade(t, domain.Buy, 100, 1)
		_, triggered := ev.Evaluate(trade, 1)
		assert.False(t, triggered)
	})
}

func TestBankruptcyBeatsStopLoss(t *testing.T) {
	// At price 89 a 10x long has both crossed bankruptcy (90) and lost
	// more than the 10% stop; bankruptcy must win.
	ev := NewEvaluator(Modifiers{StopLossPct: 0.1})
	trade := openTrade(t, domain.Buy, 100, 10)

	reason, triggered := ev.Evaluate(trade, 89)
	require.True(t, triggered)
	assert.Equal(t, domain.StopReasonBankruptcy, reason)
}

func TestEvaluateStopLoss(t *testing.T) {
	// Short at 100 with 10x: at 111 the position is past bankruptcy; at
	// 101 the leveraged loss is 10%, exactly the stop.
	ev := NewEvaluator(Modifiers{StopLossPct: 0.1})
	trade := openTrade(t, domain.Sell, 100, 10)

	reason, triggered := ev.Evaluate(trade, 101)
	require.True(t, triggered)
	assert.Equal(t, domain.StopReasonStopLoss, reason)

	_, triggered = ev.Evaluate(trade, 100.5)
	assert.False(t, triggered)
}

func TestEvaluateTakeProfit(t *testing.T) {
	ev := NewEvaluator(Modifiers{TakeProfitPct: 0.3})
	trade := openTrade(t, domain.Buy, 100, 10)

	// +3 on margin 10 is +30% returns.
	reason, triggered := ev.Evaluate(trade, 103)
	require.True(t, triggered)
	assert.Equal(t, domain.StopReasonTakeProfit, reason)

	_, triggered = ev.Evaluate(trade, 102)
	assert.False(t, triggered)
}

func TestDisabledTriggersNeverFire(t *testing.T) {
	ev := NewEvaluator(Modifiers{})
	trade := openTrade(t, domain.Buy, 100, 1)

	_, triggered := ev.Evaluate(trade, 50)
	assert.False(t, triggered)
	_, triggered = ev.Evaluate(trade, 500)
	assert.False(t, triggered)
}

func TestObserveReturnsTracksPositivePeakOnly(t *testing.T) {
	ev := NewEvaluator(Modifiers{})
	ev.ObserveReturns(-0.1)
	assert.Zero(t, ev.PeakReturns())
	ev.ObserveReturns(0.2)
	ev.ObserveReturns(0.15)
	assert.Equal(t, 0.2, ev.PeakReturns())
	ev.Reset()
	assert.Zero(t, ev.PeakReturns())
}

func TestTrailingPercent(t *testing.T) {
	ev := NewEvaluator(Modifiers{Trailing: &TrailingStop{
		Kind:       TrailingPercent,
		Percentage: 0.5,
		Activation: 0.1,
	}})
	trade := openTrade(t, domain.Buy, 100, 10)

	// Not armed until the peak clears the activation.
	ev.ObserveReturns(pnl.UnrealizedReturns(trade, 101)) // +10%
	_, triggered := ev.Evaluate(trade, 100)
	assert.False(t, triggered)

	// Peak +40%: floor is max(0.5*0.4, 0.1) = 0.2.
	ev.ObserveReturns(pnl.UnrealizedReturns(trade, 104))
	_, triggered = ev.Evaluate(trade, 102.5) // +25%, above floor
	assert.False(t, triggered)

	reason, triggered := ev.Evaluate(trade, 102) // +20%, at floor
	require.True(t, triggered)
	assert.Equal(t, domain.StopReasonTrailingStopLoss, reason)
}

func TestTrailingPercentFloorClampedToActivation(t *testing.T) {
	ev := NewEvaluator(Modifiers{Trailing: &TrailingStop{
		Kind:       TrailingPercent,
		Percentage: 0.5,
		Activation: 0.1,
	}})
	trade := openTrade(t, domain.Buy, 100, 10)

	// Peak +15%: half of that is below the activation, so the floor
	// clamps to the activation itself.
	ev.ObserveReturns(pnl.UnrealizedReturns(trade, 101.5))
	reason, triggered := ev.Evaluate(trade, 101) // +10%, at clamped floor
	require.True(t, triggered)
	assert.Equal(t, domain.StopReasonTrailingStopLoss, reason)
}

func TestTrailingStepped(t *testing.T) {
	ev := NewEvaluator(Modifiers{Trailing: &TrailingStop{
		Kind:       TrailingStepped,
		Steps:      []float64{0.2, 0.4, 0.6},
		Activation: 0.1,
	}})
	trade := openTrade(t, domain.Buy, 100, 10)

	// Peak +50%: the largest step at or below the peak is 0.4.
	ev.ObserveReturns(pnl.UnrealizedReturns(trade, 105))
	_, triggered := ev.Evaluate(trade, 104.5) // +45%
	assert.False(t, triggered)

	reason, triggered := ev.Evaluate(trade, 104) // +40%, at floor
	require.True(t, triggered)
	assert.Equal(t, domain.StopReasonTrailingStopLoss, reason)
}

func TestTrailingSteppedFloorBelowFirstStep(t *testing.T) {
	ev := NewEvaluator(Modifiers{Trailing: &TrailingStop{
		Kind:       TrailingStepped,
		Steps:      []float64{0.2, 0.4},
		Activation: 0.05,
	}})
	trade := openTrade(t, domain.Buy, 100, 10)

	// Peak +15% is between activation and the first step: the floor is
	// the activation.
	ev.ObserveReturns(pnl.UnrealizedReturns(trade, 101.5))
	_, triggered := ev.Evaluate(trade, 101) // +10%
	assert.False(t, triggered)

	reason, triggered := ev.Evaluate(trade, 100.5) // +5%, at activation
	require.True(t, triggered)
	assert.Equal(t, domain.StopReasonTrailingStopLoss, reason)
}
