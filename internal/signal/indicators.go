// Package signal provides the built-in strategy collaborator: technical
// indicators over completed bars and a moving-average crossover source
// that feeds the engine's signal cell. Any other source can be plugged
// in through ports.SignalSource.
package signal

import (
	"fmt"

	"perpbot/internal/domain"
)

// SMA computes the simple moving average of the last period closes.
func SMA(bars []*domain.Kline, period int) (float64, error) {
	if period <= 0 {
		return 0, fmt.Errorf("SMA period must be positive, got %d", period)
	}
	if len(bars) < period {
		return 0, fmt.Errorf("not enough data (%d) to calculate SMA for period %d", len(bars), period)
	}
	total := 0.0
	for i := len(bars) - period; i < len(bars); i++ {
		total += bars[i].Close
	}
	return total / float64(period), nil
}

// EMA computes the exponential moving average, seeded with the SMA of
// the first period closes.
func EMA(bars []*domain.Kline, period int) (float64, error) {
	if period <= 0 {
		return 0, fmt.Errorf("EMA period must be positive, got %d", period)
	}
	if len(bars) < period {
		return 0, fmt.Errorf("not enough data (%d) to calculate EMA for period %d", len(bars), period)
	}
	ema, err := SMA(bars[:period], period)
	if err != nil {
		return 0, err
	}
	multiplier := 2.0 / float64(period+1)
	for i := period; i < len(bars); i++ {
		ema = (bars[i].Close-ema)*multiplier + ema
	}
	return ema, nil
}

// RSI computes the relative strength index over the last period bars
// using Wilder's smoothing.
func RSI(bars []*domain.Kline, period int) (float64, error) {
	if period <= 0 {
		return 0, fmt.Errorf("RSI period must be positive, got %d", period)
	}
	if len(bars) < period+1 {
		return 0, fmt.Errorf("not enough data (%d) to calculate RSI for period %d", len(bars), period)
	}

	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		change := bars[i].Close - bars[i-1].Close
		if change > 0 {
			avgGain += change
		} else {
			avgLoss -= change
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	for i := period + 1; i < len(bars); i++ {
		change := bars[i].Close - bars[i-1].Close
		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
	}

	if avgLoss == 0 {
		return 100, nil
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs), nil
}
