package domain

import "time"

// Kline represents a single completed or in-progress price bar. The
// market-data collaborator publishes these into the engine's
// trading-data cell; price-level triggers only act on final bars.
type Kline struct {
	OpenTime  time.Time // Start time of the interval
	CloseTime time.Time // End time of the interval
	Symbol    string    // Trading symbol
	Interval  string    // Bar interval (e.g., "1m", "1h")
	Open      float64   // Opening price
	High      float64   // Highest price
	Low       float64   // Lowest price
	Close     float64   // Closing price
	Volume    float64   // Traded volume
	IsFinal   bool      // Whether this bar is complete
}
