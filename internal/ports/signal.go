package ports

import (
	"context"

	"perpbot/internal/domain"
)

// SignalSource produces one trading signal per completed time bar.
// The feature/indicator pipeline behind it is an external collaborator;
// the core consumes the signal as an opaque categorical value.
type SignalSource interface {
	// RequiredDataPoints returns the minimum number of bars the source
	// needs before it can emit a meaningful signal.
	RequiredDataPoints() int

	// Evaluate computes the signal for the latest completed bar.
	Evaluate(ctx context.Context, bars []*domain.Kline) domain.Signal
}
