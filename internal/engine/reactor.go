package engine

import (
	"context"
	"errors"
	"time"

	"perpbot/internal/domain"
	"perpbot/internal/pnl"
	"perpbot/internal/ports"
	"perpbot/internal/risk"
)

// runSignalLoop is the signal reactor: it reads the latest non-keep
// signal and the current trade status, and issues open/cancel/amend/
// close intents against the exchange. Exchange responses are fed back
// through the order-update cell so that the order loop stays the single
// writer of the current-trade container.
func (e *Engine) runSignalLoop(ctx context.Context) {
	sigSub := e.cells.Signal.Subscribe()
	defer sigSub.Close()
	barSub := e.cells.MarketData.Subscribe()
	defer barSub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-sigSub.Updates():
			if sig == domain.KeepPosition {
				continue
			}
			e.react(ctx, sig)
		case bar := <-barSub.Updates():
			if bar.IsFinal {
				e.checkPriceLevels(ctx, bar)
			}
		}
	}
}

// react maps (signal, trade status) to the one legal intent.
func (e *Engine) react(ctx context.Context, sig domain.Signal) {
	trade := e.currentTrade()

	if trade == nil {
		if side, ok := sig.OpensSide(); ok {
			e.openPosition(ctx, side)
		}
		return
	}

	status, err := trade.Status()
	if err != nil {
		e.logger.Error(ctx, err, "Signal reactor read inconsistent trade status", map[string]interface{}{"trade": trade.Key()})
		return
	}
	held := trade.Side()
	requestsClose := sig.RequestsClose(held)
	// RevertPosition only flips when reversal is enabled; an explicit
	// opposite-side open signal always does.
	requestsReverse := sig.RequestsReversal(held) && (sig != domain.RevertPosition || e.cfg.AllowReversal)

	switch status {
	case domain.TradeNew:
		if !requestsClose && !requestsReverse {
			return
		}
		ok, cancelErr := e.exchange.CancelOrder(ctx, trade.OpenOrder.UUID)
		if cancelErr != nil || !ok {
			e.logger.Error(ctx, cancelErr, "Failed to cancel idle order", map[string]interface{}{"orderUUID": trade.OpenOrder.UUID})
			return
		}
		cancelled := cloneOrder(trade.OpenOrder)
		e.cells.OrderUpdates.Publish(ports.OrderEvent{Kind: ports.OrderEventCancel, Order: cancelled})
		if requestsReverse {
			e.openPosition(ctx, held.Opposite())
		}

	case domain.TradePartiallyOpen:
		if !requestsClose && !requestsReverse {
			return
		}
		// Amend the open order down to what actually filled before
		// closing, so a never-to-fill remainder cannot slip later.
		e.amendDownToExecuted(ctx, trade)
		e.closeAtLastPrice(ctx, trade)

	case domain.TradePendingCloseOrder:
		if !requestsClose && !requestsReverse {
			return
		}
		e.closeAtLastPrice(ctx, trade)

	default:
		// CloseOrderStandBy / PartiallyClosed: a close is already in
		// flight, nothing legal to do until it resolves.
	}
}

// checkPriceLevels runs the price-level evaluator against the bar's
// worst-case reference price and force-closes on a trigger.
func (e *Engine) checkPriceLevels(ctx context.Context, bar *domain.Kline) {
	trade := e.currentTrade()
	if trade == nil || trade.OpenSize() == 0 {
		return
	}

	// Evaluate against the worst price before observing this bar's close
	// into the trailing peak; the backtest applies the same ordering, so
	// a bar whose close would arm the trail cannot trigger on its own low.
	worst := bar.Low
	if trade.Side() == domain.Sell {
		worst = bar.High
	}
	reason, triggered := e.evaluator.Evaluate(trade, worst)
	if !triggered {
		e.evaluator.ObserveReturns(pnl.UnrealizedReturns(trade, bar.Close))
		return
	}

	e.logger.Info(ctx, "Price-level trigger fired", map[string]interface{}{
		"trade":  trade.Key(),
		"reason": reason,
		"worst":  worst,
		"peak":   e.evaluator.PeakReturns(),
	})
	closeOrd, err := e.exchange.TryClosePosition(ctx, trade, domain.Market, bar.Close, domain.LockNone)
	if err != nil {
		e.logger.Error(ctx, err, "Failed to place forced close", map[string]interface{}{"trade": trade.Key(), "reason": reason})
		return
	}
	closeOrd.IsStop = true
	closeOrd.StopReason = reason
	e.cells.OrderUpdates.Publish(ports.OrderEvent{Kind: ports.OrderEventStop, Order: closeOrd})
}

// openPosition sizes a new position from the available balance and
// places the opening order.
func (e *Engine) openPosition(ctx context.Context, side domain.Side) {
	bal, ok := e.cells.Balance.Load()
	if !ok {
		e.logger.Warn(ctx, "No balance snapshot yet, skipping open")
		return
	}
	price, err := e.exchange.LastPrice(ctx, e.cfg.Symbol)
	if err != nil {
		e.logger.Error(ctx, err, "Failed to fetch last price for open")
		return
	}
	units, err := risk.PositionUnits(bal.Available, price, e.cfg.Leverage, e.cfg.TakerFeeRate, e.cfg.Sizing)
	if err != nil {
		// Sizing violations are recoverable: abandon this bar's attempt.
		e.logger.Warn(ctx, "Position sizing refused open attempt", map[string]interface{}{
			"balance": bal.Available, "price": price, "error": err.Error(),
		})
		return
	}

	req := ports.OpenOrderRequest{
		Symbol:        e.cfg.Symbol,
		Side:          side,
		Type:          domain.Market,
		Units:         units,
		ExpectedPrice: price,
		Leverage:      e.cfg.Leverage,
	}
	if pct := e.cfg.Modifiers.StopLossPct; pct > 0 {
		req.StopLossPct = &pct
	}
	if pct := e.cfg.Modifiers.TakeProfitPct; pct > 0 {
		req.TakeProfitPct = &pct
	}

	order, err := e.exchange.OpenOrder(ctx, req)
	if err != nil {
		e.logger.Error(ctx, err, "Failed to place opening order", map[string]interface{}{
			"side": side, "units": units, "price": price,
		})
		return
	}
	e.logger.Info(ctx, "Opening order placed", map[string]interface{}{
		"orderUUID": order.UUID, "side": side, "units": units, "price": price,
	})
	e.cells.OrderUpdates.Publish(ports.OrderEvent{Kind: ports.OrderEventUpdate, Order: order})
}

// amendDownToExecuted shrinks a partially filled open order to its
// executed quantity.
func (e *Engine) amendDownToExecuted(ctx context.Context, trade *domain.Trade) {
	executed := trade.OpenOrder.ExecutedQty()
	if executed <= 0 || executed >= trade.OpenOrder.Units {
		return
	}
	ok, err := e.exchange.AmendOrder(ctx, trade.OpenOrder.UUID, ports.AmendOrderRequest{Units: &executed})
	if err != nil || !ok {
		e.logger.Warn(ctx, "Failed to amend open order down to executed quantity", map[string]interface{}{
			"orderUUID": trade.OpenOrder.UUID, "executed": executed,
		})
		return
	}
	amended := cloneOrder(trade.OpenOrder)
	amended.SetUnits(executed, time.Now().UTC())
	e.cells.OrderUpdates.Publish(ports.OrderEvent{Kind: ports.OrderEventUpdate, Order: amended})
}

// closeAtLastPrice attempts a market close at the latest price, subject
// to the configured position lock. A lock refusal is expected: the
// reactor simply waits for the next bar.
func (e *Engine) closeAtLastPrice(ctx context.Context, trade *domain.Trade) {
	price, err := e.exchange.LastPrice(ctx, e.cfg.Symbol)
	if err != nil {
		e.logger.Error(ctx, err, "Failed to fetch last price for close")
		return
	}
	closeOrd, err := e.exchange.TryClosePosition(ctx, trade, domain.Market, price, e.cfg.Lock)
	if err != nil {
		if errors.Is(err, ports.ErrPositionLocked) {
			e.logger.Debug(ctx, "Position lock refused close", map[string]interface{}{
				"trade": trade.Key(), "lock": e.cfg.Lock, "uPnL": pnl.UnrealizedPnL(trade, price),
			})
			return
		}
		e.logger.Error(ctx, err, "Failed to place closing order", map[string]interface{}{"trade": trade.Key()})
		return
	}
	e.cells.OrderUpdates.Publish(ports.OrderEvent{Kind: ports.OrderEventUpdate, Order: closeOrd})
}

// currentTrade loads the trade cell, treating terminal trades as absent.
func (e *Engine) currentTrade() *domain.Trade {
	trade, _ := e.cells.Trade.Load()
	if trade == nil {
		return nil
	}
	status, err := trade.Status()
	if err != nil || status.IsTerminal() {
		return nil
	}
	return trade
}

// cloneOrder copies an order snapshot for publication, so reactor-side
// mutations never alias the aggregate owned by the order loop.
func cloneOrder(o *domain.Order) *domain.Order {
	clone := *o
	clone.Executions = append([]domain.Execution(nil), o.Executions...)
	return &clone
}

// cloneTrade deep-copies a trade aggregate. The trade cell only ever
// holds such copies: the order loop mutates a private clone and
// publishes it, so a snapshot loaded by the reactor or the price-level
// checker is immutable from the moment it is published.
func cloneTrade(t *domain.Trade) *domain.Trade {
	if t == nil {
		return nil
	}
	clone := *t
	clone.OpenOrder = cloneOrder(t.OpenOrder)
	if t.CloseOrder != nil {
		clone.CloseOrder = cloneOrder(t.CloseOrder)
	}
	return &clone
}
