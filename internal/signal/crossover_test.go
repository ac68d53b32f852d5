package signal

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perpbot/internal/domain"
)

type nopLogger struct{}

func (nopLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (nopLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (nopLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (nopLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

func klines(closes ...float64) []*domain.Kline {
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]*domain.Kline, len(closes))
	for i, c := range closes {
		bars[i] = &domain.Kline{
			OpenTime:  base.Add(time.Duration(i) * time.Minute),
			CloseTime: base.Add(time.Duration(i+1) * time.Minute),
			Close:     c,
			IsFinal:   true,
		}
	}
	return bars
}

func TestSMA(t *testing.T) {
	v, err := SMA(klines(1, 2, 3, 4), 2)
	require.NoError(t, err)
	assert.InDelta(t, 3.5, v, 1e-9)

	_, err = SMA(klines(1), 2)
	assert.Error(t, err)
	_, err = SMA(klines(1, 2), 0)
	assert.Error(t, err)
}

func TestEMA(t *testing.T) {
	// Seeded with SMA(1,2)=1.5, then (3-1.5)*2/3+1.5.
	v, err := EMA(klines(1, 2, 3), 2)
	require.NoError(t, err)
	assert.InDelta(t, 2.5, v, 1e-9)

	v, err = EMA(klines(5, 5, 5, 5), 3)
	require.NoError(t, err)
	assert.InDelta(t, 5.0, v, 1e-9)

	_, err = EMA(klines(1, 2), 3)
	assert.Error(t, err)
}

func TestRSI(t *testing.T) {
	v, err := RSI(klines(1, 2, 3), 2)
	require.NoError(t, err)
	assert.InDelta(t, 100.0, v, 1e-9, "gains only")

	v, err = RSI(klines(2, 1, 2), 2)
	require.NoError(t, err)
	assert.InDelta(t, 50.0, v, 1e-9, "balanced gain and loss")

	_, err = RSI(klines(1, 2), 2)
	assert.Error(t, err)
}

func TestNewCrossoverValidatesConfig(t *testing.T) {
	_, err := NewCrossover(CrossoverConfig{ShortPeriod: 20, LongPeriod: 50}, nil)
	assert.Error(t, err)
	_, err = NewCrossover(CrossoverConfig{ShortPeriod: 0, LongPeriod: 50}, nopLogger{})
	assert.Error(t, err)
	_, err = NewCrossover(CrossoverConfig{ShortPeriod: 50, LongPeriod: 20}, nopLogger{})
	assert.Error(t, err)

	src, err := NewCrossover(CrossoverConfig{ShortPeriod: 20, LongPeriod: 50}, nopLogger{})
	require.NoError(t, err)
	assert.Equal(t, 51, src.RequiredDataPoints())
}

func TestCrossoverEmitsEachCrossOnce(t *testing.T) {
	src, err := NewCrossover(CrossoverConfig{ShortPeriod: 2, LongPeriod: 3}, nopLogger{})
	require.NoError(t, err)
	ctx := context.Background()

	// First evaluation only establishes the relation.
	got := src.Evaluate(ctx, klines(10, 9, 8))
	assert.Equal(t, domain.KeepPosition, got)

	// Fast MA 10 crosses above slow MA 9.67.
	got = src.Evaluate(ctx, klines(10, 9, 8, 12))
	assert.Equal(t, domain.GoLong, got)

	// Still above: the cross was already reported.
	got = src.Evaluate(ctx, klines(10, 9, 8, 12, 13))
	assert.Equal(t, domain.KeepPosition, got)

	// Fast MA 7 drops below slow MA 8.67.
	got = src.Evaluate(ctx, klines(10, 9, 8, 12, 13, 1))
	assert.Equal(t, domain.GoShort, got)
}

func TestCrossoverKeepsOnInsufficientData(t *testing.T) {
	src, err := NewCrossover(CrossoverConfig{ShortPeriod: 2, LongPeriod: 5}, nopLogger{})
	require.NoError(t, err)

	got := src.Evaluate(context.Background(), klines(10, 11))
	assert.Equal(t, domain.KeepPosition, got)
}
