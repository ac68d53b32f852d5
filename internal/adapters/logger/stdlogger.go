// Package logger provides the default ports.Logger backed by the
// standard library: leveled, line-oriented output on stderr with the
// call site's fields rendered as sorted key=value pairs.
package logger

import (
	"context"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
)

// LogLevel is the minimum severity a StdLogger emits.
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel maps a config string to a LogLevel; unknown values fall
// back to Info.
func ParseLevel(levelStr string) LogLevel {
	switch strings.ToUpper(levelStr) {
	case "DEBUG":
		return LevelDebug
	case "INFO":
		return LevelInfo
	case "WARN", "WARNING":
		return LevelWarn
	case "ERROR":
		return LevelError
	default:
		return LevelInfo
	}
}

// StdLogger implements ports.Logger on the standard log package.
type StdLogger struct {
	out   *log.Logger
	level LogLevel
}

// NewStdLogger creates a logger writing to stderr. Timestamps carry
// microseconds so order-event interleavings stay readable.
func NewStdLogger(level LogLevel) *StdLogger {
	return &StdLogger{
		out:   log.New(os.Stderr, "", log.LstdFlags|log.Lmicroseconds),
		level: level,
	}
}

func (l *StdLogger) write(level LogLevel, msg string, err error, fields []map[string]interface{}) {
	if level < l.level {
		return
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] %s", level, msg)
	if err != nil {
		fmt.Fprintf(&sb, " | error: %v", err)
	}
	if pairs := flatten(fields); len(pairs) > 0 {
		sb.WriteString(" |")
		for _, p := range pairs {
			sb.WriteString(" " + p)
		}
	}
	l.out.Println(sb.String())
}

// flatten merges the field maps into one sorted key=value list, so the
// same entry always renders the same way.
func flatten(fields []map[string]interface{}) []string {
	var pairs []string
	for _, m := range fields {
		for k, v := range m {
			pairs = append(pairs, fmt.Sprintf("%s=%v", k, v))
		}
	}
	sort.Strings(pairs)
	return pairs
}

func (l *StdLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {
	l.write(LevelDebug, msg, nil, fields)
}

func (l *StdLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{}) {
	l.write(LevelInfo, msg, nil, fields)
}

func (l *StdLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {
	l.write(LevelWarn, msg, nil, fields)
}

func (l *StdLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
	l.write(LevelError, msg, err, fields)
}
