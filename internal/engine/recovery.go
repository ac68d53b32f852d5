package engine

import (
	"context"
	"fmt"
	"time"

	"perpbot/internal/domain"
	"perpbot/internal/ports"
)

// recoverAfterOutage pulls authoritative state once per push-channel
// outage and replays it through the live handlers. The replay is
// idempotent: execution merges deduplicate by id and order snapshots
// funnel through the same single-writer order loop, so pulled state can
// never double-count against pushed state that already arrived.
func (e *Engine) recoverAfterOutage(ctx context.Context) error {
	e.outageMu.Lock()
	since := e.lastErrorAt
	e.outageMu.Unlock()

	e.logger.Info(ctx, "Running faulty-channel recovery", map[string]interface{}{"since": since})

	bal, err := e.exchange.FetchBalance(ctx, e.cfg.Asset)
	if err != nil {
		return fmt.Errorf("recovery balance fetch failed: %w", err)
	}
	e.cells.BalanceUpdates.Publish(*bal)

	trade := e.currentTrade()
	if trade == nil {
		// No local trade: adopt the exchange's authoritative position, if
		// any, as the current trade. Only written when no live update has
		// superseded it, preserving the single-writer discipline.
		remote, err := e.exchange.FetchCurrentPositionTrade(ctx)
		if err != nil {
			return fmt.Errorf("recovery position fetch failed: %w", err)
		}
		if remote == nil {
			e.logger.Info(ctx, "Recovery found no position on exchange")
			return nil
		}
		if current := e.currentTrade(); current == nil {
			e.cells.Trade.Publish(remote)
			e.logger.Info(ctx, "Recovery adopted exchange position as current trade", map[string]interface{}{
				"trade": remote.Key(), "side": remote.Side(), "openSize": remote.OpenSize(),
			})
		}
		return nil
	}

	// A live, non-terminal trade: gap-fill executions for the active
	// order across the outage window, then refresh the order state once
	// in case it changed (or was cancelled) while push was down.
	active := trade.ActiveOrder()
	execs, err := e.exchange.FetchOrderExecutions(ctx, active.UUID, since, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("recovery execution fetch for order %s failed: %w", active.UUID, err)
	}
	if len(execs) > 0 {
		// Buffer directly instead of publishing: the executions cell is
		// drained by a different task, and the order snapshot below must
		// not be applied before these fills are in the pending buffer.
		e.pending.Add(execs...)
		e.logger.Info(ctx, "Recovery buffered pulled executions", map[string]interface{}{
			"orderUUID": active.UUID, "count": len(execs),
		})
	}

	ev, err := e.exchange.FetchOrderState(ctx, active.UUID)
	if err != nil {
		return fmt.Errorf("recovery order state fetch for order %s failed: %w", active.UUID, err)
	}
	if ev != nil {
		if active.IsStop && ev.Kind == ports.OrderEventUpdate {
			ev.Kind = ports.OrderEventStop
			ev.Order.IsStop = true
			if ev.Order.StopReason == domain.StopReasonNone {
				ev.Order.StopReason = active.StopReason
			}
		}
		e.cells.OrderUpdates.Publish(*ev)
		e.logger.Info(ctx, "Recovery republished order state", map[string]interface{}{
			"orderUUID": active.UUID, "kind": ev.Kind, "status": ev.Order.Status,
		})
	}
	return nil
}
