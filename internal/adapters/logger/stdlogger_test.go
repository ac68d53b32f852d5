package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want LogLevel
	}{
		{"debug", LevelDebug},
		{"INFO", LevelInfo},
		{"warn", LevelWarn},
		{"WARNING", LevelWarn},
		{"Error", LevelError},
		{"verbose", LevelInfo},
		{"", LevelInfo},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseLevel(tt.in), "input %q", tt.in)
	}
}

func TestLogLevelString(t *testing.T) {
	assert.Equal(t, "DEBUG", LevelDebug.String())
	assert.Equal(t, "ERROR", LevelError.String())
	assert.Equal(t, "UNKNOWN", LogLevel(42).String())
}

func TestFlattenSortsAndMergesFieldMaps(t *testing.T) {
	pairs := flatten([]map[string]interface{}{
		{"trade": "ETHUSDT@1", "units": 2.5},
		{"orderUUID": "123"},
	})
	assert.Equal(t, []string{"orderUUID=123", "trade=ETHUSDT@1", "units=2.5"}, pairs)

	assert.Empty(t, flatten(nil))
	assert.Empty(t, flatten([]map[string]interface{}{nil}))
}
