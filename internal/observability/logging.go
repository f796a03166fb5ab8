package observability

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// LogLevelEnv selects the production log level.
const LogLevelEnv = "OPTSETTLE_LOG_LEVEL"

// Log formats. JSON is the production default; console is for local runs.
const (
	LogFormatJSON    = "json"
	LogFormatConsole = "console"
)

var consoleOutput atomic.Bool

// SetLogFormat switches every logger created afterwards. Call once at
// start-up, before building component loggers.
func SetLogFormat(format string) error {
	switch strings.ToLower(format) {
	case LogFormatJSON, "":
		consoleOutput.Store(false)
	case LogFormatConsole:
		consoleOutput.Store(true)
	default:
		return fmt.Errorf("unknown log format %q (json, console)", format)
	}
	return nil
}

// NewLogger creates a structured logger on stdout at the level from
// OPTSETTLE_LOG_LEVEL (info when unset).
func NewLogger(component string) zerolog.Logger {
	return NewLoggerWithLevel(component, ParseLogLevel(os.Getenv(LogLevelEnv)))
}

func NewLoggerWithLevel(component string, level zerolog.Level) zerolog.Logger {
	var w io.Writer = os.Stdout
	if consoleOutput.Load() {
		w = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}
	return NewLoggerTo(w, component, level)
}

// NewLoggerTo writes to w; tests capture output through a buffer.
func NewLoggerTo(w io.Writer, component string, level zerolog.Level) zerolog.Logger {
	return zerolog.New(w).
		Level(level).
		With().
		Timestamp().
		Str("component", component).
		Logger()
}

// ParseLogLevel maps trace/debug/info/warn/error; anything else is info.
func ParseLogLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// ValidLogLevel reports whether s names a level ParseLogLevel understands.
func ValidLogLevel(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "trace", "debug", "info", "warn", "warning", "error":
		return true
	}
	return false
}

func init() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
}
