// Package engine contains the live trading core: the reconciliation
// engine that keeps the locally held trade consistent with the exchange
// across an unreliable push channel, and the signal reactor that turns
// strategy signals into order intents.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"perpbot/internal/domain"
	"perpbot/internal/ports"
	"perpbot/internal/risk"
)

// Config holds the engine's trading parameters.
type Config struct {
	Symbol       string
	Asset        string // Quote asset the balance is tracked in (e.g., "USDT")
	Leverage     int
	TakerFeeRate float64
	Lock         domain.PositionLock
	// AllowReversal controls the precedence between close and reversal
	// when both could fire on the same bar: when set, a reversal signal
	// reopens the opposite side after the close; otherwise it is a plain
	// close. The same rule applies in the backtest simulator.
	AllowReversal bool
	Sizing        risk.SizingConfig
	Modifiers     risk.Modifiers
	// OutageSettleDelay is how long recovery waits after a push-channel
	// error before pulling authoritative state.
	OutageSettleDelay time.Duration
}

// Engine runs the reconciliation handlers and the signal reactor as a
// fixed set of long-lived tasks over shared reactive cells.
type Engine struct {
	cfg       Config
	logger    ports.Logger
	exchange  ports.ExchangeClient
	journal   ports.TradeRepository
	cells     *Cells
	pending   *pendingExecutions
	evaluator *risk.Evaluator

	// Outage bookkeeping for faulty-channel recovery.
	outageMu    sync.Mutex
	lastErrorAt time.Time
	recovering  bool
}

// New creates the engine. The journal may be nil to disable persistence.
func New(cfg Config, logger ports.Logger, exchange ports.ExchangeClient, journal ports.TradeRepository) (*Engine, error) {
	if logger == nil || exchange == nil {
		return nil, fmt.Errorf("missing required dependencies for Engine")
	}
	if cfg.Symbol == "" {
		return nil, fmt.Errorf("engine Config.Symbol must be set: %w", ports.ErrConfigurationError)
	}
	if cfg.Leverage <= 0 {
		return nil, fmt.Errorf("engine Config.Leverage must be positive: %w", ports.ErrConfigurationError)
	}
	if cfg.OutageSettleDelay <= 0 {
		cfg.OutageSettleDelay = 5 * time.Second
	}
	return &Engine{
		cfg:       cfg,
		logger:    logger,
		exchange:  exchange,
		journal:   journal,
		cells:     NewCells(),
		pending:   newPendingExecutions(),
		evaluator: risk.NewEvaluator(cfg.Modifiers),
	}, nil
}

// Cells exposes the engine's state containers so external collaborators
// (market-data ingestion, the strategy pipeline) can publish into them.
func (e *Engine) Cells() *Cells { return e.cells }

// Run starts the push channel and the handler tasks, then blocks until
// the context is cancelled or the stream gives up for good. None of the
// long-lived tasks are cancelled during normal operation.
func (e *Engine) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Initial sync: authoritative balance and position before any event
	// is processed.
	if bal, err := e.exchange.FetchBalance(ctx, e.cfg.Asset); err != nil {
		return fmt.Errorf("initial balance fetch failed: %w", err)
	} else {
		e.cells.Balance.Publish(*bal)
	}
	trade, err := e.exchange.FetchCurrentPositionTrade(ctx)
	if err != nil {
		return fmt.Errorf("initial position fetch failed: %w", err)
	}
	if trade != nil {
		e.cells.Trade.Publish(trade)
		e.logger.Info(ctx, "Recovered open position from exchange", map[string]interface{}{
			"trade": trade.Key(), "side": trade.Side(), "entryPrice": trade.EntryPrice(),
		})
	}

	handlers := ports.StreamHandlers{
		OnOrder:      func(ev ports.OrderEvent) { e.cells.OrderUpdates.Publish(ev) },
		OnExecutions: func(execs []domain.Execution) { e.cells.Executions.Publish(execs) },
		OnBalance:    func(bal ports.Balance) { e.cells.BalanceUpdates.Publish(bal) },
		OnError:      func(err error) { e.markOutage(ctx, err) },
	}
	wsDoneCh, wsStopCh, err := e.exchange.StreamUserData(ctx, handlers)
	if err != nil {
		return fmt.Errorf("failed to start user data stream: %w", err)
	}
	e.logger.Info(ctx, "User data stream started", map[string]interface{}{"symbol": e.cfg.Symbol})

	var wg sync.WaitGroup
	for name, loop := range map[string]func(context.Context){
		"executions": e.runExecutionLoop,
		"orders":     e.runOrderLoop,
		"balances":   e.runBalanceLoop,
		"signals":    e.runSignalLoop,
	} {
		wg.Add(1)
		go func(name string, loop func(context.Context)) {
			defer wg.Done()
			loop(ctx)
			e.logger.Debug(ctx, "Engine task stopped", map[string]interface{}{"task": name})
		}(name, loop)
	}

	select {
	case <-ctx.Done():
		e.logger.Info(ctx, "Engine context cancelled, shutting down")
		select {
		case wsStopCh <- struct{}{}:
		default:
		}
		select {
		case <-wsDoneCh:
		case <-time.After(5 * time.Second):
			e.logger.Warn(ctx, "Timeout waiting for user data stream to shut down")
		}
	case <-wsDoneCh:
		cancel()
		wg.Wait()
		return fmt.Errorf("user data stream stopped unexpectedly")
	}

	cancel()
	wg.Wait()
	e.logger.Info(ctx, "Engine stopped")
	return nil
}

// RunSignalPump bridges completed bars to the signal cell through the
// injected signal source. It is the integration point for the external
// strategy collaborator.
func (e *Engine) RunSignalPump(ctx context.Context, src ports.SignalSource) {
	sub := e.cells.MarketData.Subscribe()
	defer sub.Close()

	var bars []*domain.Kline
	for {
		select {
		case <-ctx.Done():
			return
		case bar := <-sub.Updates():
			if !bar.IsFinal {
				continue
			}
			bars = append(bars, bar)
			if max := src.RequiredDataPoints(); max > 0 && len(bars) > max {
				bars = bars[len(bars)-max:]
			}
			if len(bars) < src.RequiredDataPoints() {
				continue
			}
			e.cells.Signal.Publish(src.Evaluate(ctx, bars))
		}
	}
}

// markOutage records a push-channel error and schedules one recovery
// pass per outage after the settle delay.
func (e *Engine) markOutage(ctx context.Context, err error) {
	e.outageMu.Lock()
	e.lastErrorAt = time.Now().UTC()
	alreadyScheduled := e.recovering
	if !alreadyScheduled {
		e.recovering = true
	}
	e.outageMu.Unlock()

	e.logger.Warn(ctx, "Push channel error reported", map[string]interface{}{"error": err.Error()})
	if alreadyScheduled {
		return
	}
	go func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(e.cfg.OutageSettleDelay):
		}
		if recErr := e.recoverAfterOutage(ctx); recErr != nil {
			e.logger.Error(ctx, recErr, "Faulty-channel recovery failed")
		}
		e.outageMu.Lock()
		e.recovering = false
		e.outageMu.Unlock()
	}()
}
