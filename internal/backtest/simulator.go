package backtest

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"perpbot/internal/domain"
	"perpbot/internal/pnl"
	"perpbot/internal/ports"
	"perpbot/internal/risk"
)

// Config holds the simulation parameters. The lifecycle knobs mirror
// the live engine's so a strategy benchmarked here behaves identically
// when wired to the exchange.
type Config struct {
	Symbol         string
	Leverage       int
	TakerFeeRate   float64
	InitialBalance float64
	Sizing         risk.SizingConfig
	Modifiers      risk.Modifiers
	// AllowReversal mirrors the live reactor's close-vs-reverse rule:
	// when set, a reversal closes and immediately reopens the opposite
	// side in the same index using the post-close balance.
	AllowReversal bool
}

// Result is the outcome of one simulation pass.
type Result struct {
	Table              *Table
	FinalBalance       float64
	TotalTrades        int
	WinningTrades      int
	LosingTrades       int
	WinRate            float64
	TotalProfit        float64
	MaxDrawdown        float64
	ReturnOnInvestment float64
}

// Simulator runs the batch position simulation: a single pass over the
// trading table, carrying order/trade state across iterations.
type Simulator struct {
	cfg    Config
	logger ports.Logger
}

// New creates a simulator.
func New(cfg Config, logger ports.Logger) (*Simulator, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for Simulator")
	}
	if cfg.Leverage <= 0 {
		return nil, fmt.Errorf("simulator Config.Leverage must be positive: %w", ports.ErrConfigurationError)
	}
	if cfg.InitialBalance <= 0 {
		return nil, fmt.Errorf("simulator Config.InitialBalance must be positive: %w", ports.ErrConfigurationError)
	}
	return &Simulator{cfg: cfg, logger: logger}, nil
}

// Run fills the table's output columns index by index and returns the
// aggregate result. The input table is mutated in place.
func (s *Simulator) Run(ctx context.Context, table *Table) (*Result, error) {
	if err := table.Validate(); err != nil {
		return nil, err
	}
	table.seedOutputs(s.cfg.InitialBalance)

	evaluator := risk.NewEvaluator(s.cfg.Modifiers)
	result := &Result{Table: table}

	var trade *domain.Trade
	for i := 1; i < table.Len(); i++ {
		if trade == nil {
			s.stepFlat(ctx, table, i, &trade)
			continue
		}
		s.stepInPosition(ctx, table, i, &trade, evaluator, result)
	}

	s.patchUnclosedTail(ctx, table, trade)
	s.summarize(table, result)
	return result, nil
}

// stepFlat opens a position when the previous bar's signal asked for
// one; otherwise the row keeps its neutral defaults.
func (s *Simulator) stepFlat(ctx context.Context, t *Table, i int, trade **domain.Trade) {
	t.Balance[i] = t.Balance[i-1]
	t.Action[i] = domain.KeepPosition

	side, ok := t.Signals[i-1].OpensSide()
	if !ok {
		return
	}
	opened, err := s.openTrade(side, t.Balance[i-1], t.Open[i], t, i)
	if err != nil {
		// Sizing failure: leave the sequence at its kept-neutral values
		// for this index.
		s.logger.Debug(ctx, "Sizing refused open at bar", map[string]interface{}{
			"index": i, "balance": t.Balance[i-1], "price": t.Open[i], "error": err.Error(),
		})
		return
	}
	*trade = opened
	s.writePositionRow(t, i, opened, t.Signals[i-1])
}

// stepInPosition applies the price-level triggers first, then the
// close/reversal signal, else carries the position forward.
func (s *Simulator) stepInPosition(ctx context.Context, t *Table, i int, trade **domain.Trade, evaluator *risk.Evaluator, result *Result) {
	held := (*trade).Side()

	// Worst-case reference price inside the bar.
	worst := t.Low[i]
	if held == domain.Sell {
		worst = t.High[i]
	}
	if reason, triggered := evaluator.Evaluate(*trade, worst); triggered {
		s.closeTrade(*trade, worst, t, i, reason)
		s.writeCloseRow(t, i, *trade, closeAction(held))
		s.recordClosed(result, *trade)
		evaluator.Reset()
		*trade = nil
		return
	}
	evaluator.ObserveReturns(pnl.UnrealizedReturns(*trade, t.Close[i]))

	sig := t.Signals[i-1]
	requestsClose := sig.RequestsClose(held)
	requestsReverse := sig.RequestsReversal(held) && (sig != domain.RevertPosition || s.cfg.AllowReversal)
	if requestsClose || requestsReverse {
		s.closeTrade(*trade, t.Open[i], t, i, domain.StopReasonNone)
		s.writeCloseRow(t, i, *trade, sig)
		s.recordClosed(result, *trade)
		evaluator.Reset()
		*trade = nil

		if requestsReverse {
			// Reopen the opposite side in the same index on the
			// post-close balance.
			reopened, err := s.openTrade(held.Opposite(), t.Balance[i], t.Open[i], t, i)
			if err != nil {
				s.logger.Debug(ctx, "Sizing refused reversal reopen", map[string]interface{}{
					"index": i, "balance": t.Balance[i], "error": err.Error(),
				})
				return
			}
			*trade = reopened
			s.writePositionRow(t, i, reopened, sig)
		}
		return
	}

	// Carry forward with this bar's unrealized economics.
	t.Balance[i] = t.Balance[i-1]
	t.Units[i] = (*trade).OpenSize()
	t.Position[i] = positionOf(held)
	t.TradeFees[i] = pnl.TotalFees(*trade)
	t.PnL[i] = pnl.UnrealizedPnL(*trade, t.Close[i])
	t.Returns[i] = pnl.UnrealizedReturns(*trade, t.Close[i])
	t.Action[i] = domain.KeepPosition
}

// openTrade sizes and fills a new open order at the given price.
func (s *Simulator) openTrade(side domain.Side, balance, price float64, t *Table, i int) (*domain.Trade, error) {
	units, err := risk.PositionUnits(balance, price, s.cfg.Leverage, s.cfg.TakerFeeRate, s.cfg.Sizing)
	if err != nil {
		return nil, err
	}
	order := domain.NewOrder(s.cfg.Symbol, side, units, s.cfg.Leverage, false, s.cfg.TakerFeeRate, t.Times[i])
	order.UUID = uuid.NewString()
	order.MergeExecution(domain.Execution{
		ID:        uuid.NewString(),
		OrderUUID: order.UUID,
		Price:     price,
		Qty:       units,
		Fee:       price * units * s.cfg.TakerFeeRate,
		FeeRate:   s.cfg.TakerFeeRate,
		Timestamp: t.Times[i],
	})
	return domain.NewTrade(order), nil
}

// closeTrade fills a full-size close order at the given price.
func (s *Simulator) closeTrade(trade *domain.Trade, price float64, t *Table, i int, reason domain.StopReason) {
	size := trade.OpenSize()
	order := domain.NewOrder(s.cfg.Symbol, trade.Side().Opposite(), size, s.cfg.Leverage, true, s.cfg.TakerFeeRate, t.Times[i])
	order.UUID = uuid.NewString()
	if reason != domain.StopReasonNone {
		order.IsStop = true
		order.StopReason = reason
	}
	// Attach cannot fail here: the open order is filled and no close
	// order exists yet.
	if err := trade.AttachCloseOrder(order); err != nil {
		panic(fmt.Sprintf("backtest: close order attach failed: %v", err))
	}
	order.MergeExecution(domain.Execution{
		ID:        uuid.NewString(),
		OrderUUID: order.UUID,
		Price:     price,
		Qty:       size,
		Fee:       price * size * s.cfg.TakerFeeRate,
		FeeRate:   s.cfg.TakerFeeRate,
		ClosedQty: size,
		Timestamp: t.Times[i],
	})
}

// writePositionRow records a freshly opened position's row.
func (s *Simulator) writePositionRow(t *Table, i int, trade *domain.Trade, action domain.Signal) {
	t.Units[i] = trade.OpenSize()
	t.Position[i] = positionOf(trade.Side())
	t.TradeFees[i] = pnl.TotalFees(trade)
	t.PnL[i] = pnl.UnrealizedPnL(trade, t.Close[i])
	t.Returns[i] = pnl.UnrealizedReturns(trade, t.Close[i])
	t.Action[i] = action
}

// writeCloseRow records a realized close: the balance absorbs the PnL
// and the position returns to flat.
func (s *Simulator) writeCloseRow(t *Table, i int, trade *domain.Trade, action domain.Signal) {
	realized := pnl.RealizedPnL(trade)
	t.Balance[i] = t.Balance[i-1] + realized
	t.Units[i] = 0
	t.Position[i] = 0
	t.TradeFees[i] = pnl.TotalFees(trade)
	t.PnL[i] = realized
	t.Returns[i] = pnl.RealizedReturns(trade)
	t.Action[i] = action
}

// patchUnclosedTail rewinds an open-at-end position: every row after the
// last flat index is overwritten back to the neutral defaults, so an
// unclosed position is never reported as realized.
func (s *Simulator) patchUnclosedTail(ctx context.Context, t *Table, trade *domain.Trade) {
	n := t.Len()
	if trade == nil || t.Position[n-1] == 0 {
		return
	}
	lastFlat := 0
	for i := n - 1; i >= 0; i-- {
		if t.Position[i] == 0 {
			lastFlat = i
			break
		}
	}
	s.logger.Debug(ctx, "Patching unclosed tail position", map[string]interface{}{
		"lastFlat": lastFlat, "bars": n - 1 - lastFlat,
	})
	for i := lastFlat + 1; i < n; i++ {
		t.TradeFees[i] = 0
		t.Units[i] = 0
		t.PnL[i] = 0
		t.Returns[i] = 0
		t.Balance[i] = t.Balance[lastFlat]
		t.Position[i] = 0
		t.Action[i] = domain.KeepPosition
	}
}

// recordClosed updates the aggregate trade statistics.
func (s *Simulator) recordClosed(result *Result, trade *domain.Trade) {
	realized := pnl.RealizedPnL(trade)
	result.TotalTrades++
	result.TotalProfit += realized
	if realized > 0 {
		result.WinningTrades++
	} else {
		result.LosingTrades++
	}
}

// summarize computes the equity-curve statistics over the balance column.
func (s *Simulator) summarize(t *Table, result *Result) {
	peak := t.Balance[0]
	for _, balance := range t.Balance {
		if balance > peak {
			peak = balance
		}
		if peak > 0 {
			if drawdown := (peak - balance) / peak; drawdown > result.MaxDrawdown {
				result.MaxDrawdown = drawdown
			}
		}
	}
	result.FinalBalance = t.Balance[t.Len()-1]
	result.ReturnOnInvestment = (result.FinalBalance - s.cfg.InitialBalance) / s.cfg.InitialBalance
	if result.TotalTrades > 0 {
		result.WinRate = float64(result.WinningTrades) / float64(result.TotalTrades)
	}
}

// closeAction maps a forced close to its signal-equivalent action.
func closeAction(held domain.Side) domain.Signal {
	if held == domain.Buy {
		return domain.CloseLong
	}
	return domain.CloseShort
}

func positionOf(side domain.Side) int {
	if side == domain.Buy {
		return 1
	}
	return -1
}
