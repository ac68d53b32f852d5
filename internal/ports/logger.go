package ports

import "context"

// Logger is the logging seam shared by the trading core and its
// adapters. Fields are free-form key/value maps so call sites can tag
// entries with the trade key, order id or symbol they concern.
type Logger interface {
	// Debug logs chatty per-event detail (buffered fills, cell traffic).
	Debug(ctx context.Context, msg string, fields ...map[string]interface{})
	// Info logs lifecycle milestones (trade created, retired, recovery runs).
	Info(ctx context.Context, msg string, fields ...map[string]interface{})
	// Warn logs degraded but recoverable situations (outages, refused opens).
	Warn(ctx context.Context, msg string, fields ...map[string]interface{})
	// Error logs failures together with their cause.
	Error(ctx context.Context, err error, msg string, fields ...map[string]interface{})
}
