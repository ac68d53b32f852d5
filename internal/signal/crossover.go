package signal

import (
	"context"
	"fmt"

	"perpbot/internal/domain"
	"perpbot/internal/ports"
)

// CrossoverConfig holds the moving-average crossover parameters.
type CrossoverConfig struct {
	ShortPeriod int // Fast MA period (e.g., 20)
	LongPeriod  int // Slow MA period (e.g., 50)
}

// Crossover is a ports.SignalSource that emits GO_LONG when the fast MA
// crosses above the slow MA and GO_SHORT on the opposite cross. Between
// crosses it emits KEEP_POSITION, leaving exits to the price-level
// triggers.
type Crossover struct {
	cfg    CrossoverConfig
	logger ports.Logger

	// fastAbove tracks the relation seen on the previous evaluation so a
	// cross is emitted exactly once.
	fastAbove    bool
	hasPrevState bool
}

// NewCrossover creates the crossover source.
func NewCrossover(cfg CrossoverConfig, logger ports.Logger) (*Crossover, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for Crossover")
	}
	if cfg.ShortPeriod <= 0 || cfg.LongPeriod <= 0 {
		return nil, fmt.Errorf("crossover periods must be positive: %w", ports.ErrConfigurationError)
	}
	if cfg.ShortPeriod >= cfg.LongPeriod {
		return nil, fmt.Errorf("crossover short period must be less than long period: %w", ports.ErrConfigurationError)
	}
	return &Crossover{cfg: cfg, logger: logger}, nil
}

// RequiredDataPoints returns the minimum number of bars needed before
// the source can evaluate.
func (c *Crossover) RequiredDataPoints() int {
	return c.cfg.LongPeriod + 1
}

// Evaluate emits one signal for the latest completed bar.
func (c *Crossover) Evaluate(ctx context.Context, bars []*domain.Kline) domain.Signal {
	fast, err := SMA(bars, c.cfg.ShortPeriod)
	if err != nil {
		c.logger.Debug(ctx, "Crossover fast MA unavailable", map[string]interface{}{"error": err.Error()})
		return domain.KeepPosition
	}
	slow, err := SMA(bars, c.cfg.LongPeriod)
	if err != nil {
		c.logger.Debug(ctx, "Crossover slow MA unavailable", map[string]interface{}{"error": err.Error()})
		return domain.KeepPosition
	}

	fastAbove := fast > slow
	if !c.hasPrevState {
		c.hasPrevState = true
		c.fastAbove = fastAbove
		return domain.KeepPosition
	}
	if fastAbove == c.fastAbove {
		return domain.KeepPosition
	}
	c.fastAbove = fastAbove

	sig := domain.GoShort
	if fastAbove {
		sig = domain.GoLong
	}
	c.logger.Info(ctx, "MA crossover detected", map[string]interface{}{
		"signal": sig, "fastMA": fast, "slowMA": slow, "bar": bars[len(bars)-1].CloseTime,
	})
	return sig
}
