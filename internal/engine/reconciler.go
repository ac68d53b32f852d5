package engine

import (
	"context"
	"errors"
	"time"

	"perpbot/internal/domain"
	"perpbot/internal/pnl"
	"perpbot/internal/ports"
)

// runExecutionLoop buffers incoming fills by order id. Executions often
// arrive before the order ack that creates the Order, so this handler
// never touches the Order directly.
func (e *Engine) runExecutionLoop(ctx context.Context) {
	sub := e.cells.Executions.Subscribe()
	defer sub.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case execs := <-sub.Updates():
			e.pending.Add(execs...)
			e.logger.Debug(ctx, "Buffered executions", map[string]interface{}{"count": len(execs)})
		}
	}
}

// runBalanceLoop republishes the latest balance verbatim.
func (e *Engine) runBalanceLoop(ctx context.Context) {
	sub := e.cells.BalanceUpdates.Subscribe()
	defer sub.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case bal := <-sub.Updates():
			e.cells.Balance.Publish(bal)
		}
	}
}

// runOrderLoop applies order update/stop/cancel events to the current
// trade through the state machine.
func (e *Engine) runOrderLoop(ctx context.Context) {
	sub := e.cells.OrderUpdates.Subscribe()
	defer sub.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-sub.Updates():
			e.applyOrderEvent(ctx, ev)
		}
	}
}

// applyOrderEvent is the single write path for the current-trade cell
// (the recovery path funnels through it as well, which is what makes
// replaying pulled state idempotent).
func (e *Engine) applyOrderEvent(ctx context.Context, ev ports.OrderEvent) {
	order := ev.Order

	// Cross-container ordering is not guaranteed, so always re-fetch
	// pending executions rather than assume they already arrived.
	e.mergePending(order)

	// Work on a private copy: published aggregates are read concurrently
	// by the signal reactor, so they must never be mutated again.
	trade, _ := e.cells.Trade.Load()
	trade = cloneTrade(trade)
	if trade != nil {
		if status, err := trade.Status(); err != nil {
			e.dropTrade(ctx, trade, err)
			trade = nil
		} else if status.IsTerminal() {
			trade = nil
		}
	}

	if ev.Kind == ports.OrderEventCancel {
		// A cancel is only applied when it targets the trade's current
		// open order; anything else is unrelated (e.g. an old stop order).
		if trade == nil || trade.OpenOrder.UUID != order.UUID {
			e.logger.Debug(ctx, "Ignoring unrelated cancel", map[string]interface{}{"orderUUID": order.UUID})
			return
		}
		trade.OpenOrder.Cancel(time.Now().UTC())
		e.finishOrRepublish(ctx, trade)
		return
	}

	if trade == nil {
		// Only a brand-new open order may create a trade.
		if order.IsStop || order.IsClose {
			e.logger.Warn(ctx, "Dropping stop/close update with no current trade", map[string]interface{}{
				"orderUUID": order.UUID, "isStop": order.IsStop, "isClose": order.IsClose,
			})
			return
		}
		trade = domain.NewTrade(order)
		e.cells.Trade.Publish(trade)
		e.logger.Info(ctx, "New trade created", map[string]interface{}{
			"trade": trade.Key(), "side": order.Side, "units": order.Units,
		})
		return
	}

	// Carry previously merged fills into the fresher snapshot before it
	// replaces the stored order.
	if existing := matchOrder(trade, order.UUID); existing != nil {
		for _, fill := range existing.Executions {
			order.MergeExecution(fill)
		}
		e.mergePending(order)
	}

	var err error
	if order.IsClose && trade.CloseOrder == nil {
		err = trade.AttachCloseOrder(order)
	} else {
		err = trade.UpdateOrder(order)
	}
	if err != nil {
		e.dropTrade(ctx, trade, err)
		return
	}

	if ev.Kind == ports.OrderEventStop {
		e.logger.Info(ctx, "Stop order update applied", map[string]interface{}{
			"trade":    trade.Key(),
			"reason":   order.StopReason,
			"pnl":      pnl.RealizedPnL(trade),
			"returns":  pnl.RealizedReturns(trade),
			"openSize": trade.OpenSize(),
		})
	}

	e.finishOrRepublish(ctx, trade)
}

// mergePending drains buffered fills for the order and merges them.
// Re-merging an already-seen execution id is a no-op.
func (e *Engine) mergePending(order *domain.Order) {
	for _, fill := range e.pending.Drain(order.UUID) {
		order.MergeExecution(fill)
	}
}

// matchOrder returns the trade's order with the given uuid, or nil.
func matchOrder(t *domain.Trade, uuid string) *domain.Order {
	if t.CloseOrder != nil && t.CloseOrder.UUID == uuid {
		return t.CloseOrder
	}
	if t.OpenOrder.UUID == uuid {
		return t.OpenOrder
	}
	return nil
}

// finishOrRepublish retires the trade when its derived status turned
// terminal, otherwise republishes the updated aggregate.
func (e *Engine) finishOrRepublish(ctx context.Context, trade *domain.Trade) {
	status, err := trade.Status()
	if err != nil {
		e.dropTrade(ctx, trade, err)
		return
	}
	if !status.IsTerminal() {
		e.cells.Trade.Publish(trade)
		return
	}

	e.evaluator.Reset()
	if status == domain.TradeClosed {
		e.journalTrade(ctx, trade)
	}
	e.cells.Trade.Publish(nil)
	e.logger.Info(ctx, "Trade retired", map[string]interface{}{"trade": trade.Key(), "status": status})
}

// dropTrade handles an invariant violation: fatal for the affected trade
// only, logged with full context, never silently kept.
func (e *Engine) dropTrade(ctx context.Context, trade *domain.Trade, err error) {
	e.evaluator.Reset()
	fields := map[string]interface{}{
		"trade":        trade.Key(),
		"openOrder":    trade.OpenOrder.UUID,
		"openStatus":   trade.OpenOrder.Status,
		"openExecuted": trade.OpenOrder.ExecutedQty(),
	}
	if trade.CloseOrder != nil {
		fields["closeOrder"] = trade.CloseOrder.UUID
		fields["closeStatus"] = trade.CloseOrder.Status
	}
	e.logger.Error(ctx, err, "Invariant violation, dropping trade", fields)
	e.cells.Trade.Publish(nil)
}

// journalTrade persists the finished trade's audit record.
func (e *Engine) journalTrade(ctx context.Context, trade *domain.Trade) {
	if e.journal == nil {
		return
	}
	rec := &ports.TradeRecord{
		Symbol:     trade.Symbol,
		Side:       trade.Side(),
		EntryPrice: trade.EntryPrice(),
		Units:      trade.OpenOrder.ExecutedQty(),
		Leverage:   trade.OpenOrder.Leverage,
		PnL:        pnl.RealizedPnL(trade),
		Fees:       pnl.TotalFees(trade),
		Returns:    pnl.RealizedReturns(trade),
		OpenedAt:   trade.OpenedAt,
		ClosedAt:   time.Now().UTC(),
	}
	if closeOrd := trade.CloseOrder; closeOrd != nil {
		rec.ExitPrice = closeOrd.AvgFillPrice
		rec.ClosedAt = closeOrd.UpdatedAt
		rec.CloseReason = closeOrd.StopReason
	}
	if _, err := e.journal.CreateTrade(ctx, rec); err != nil && !errors.Is(err, ports.ErrDuplicateEntry) {
		e.logger.Error(ctx, err, "Failed to journal finished trade", map[string]interface{}{"trade": trade.Key()})
	}
}
