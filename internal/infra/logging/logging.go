// Package logging configures the zerolog loggers used across SCEMS.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// EnvLogLevel overrides the configured level when set.
const EnvLogLevel = "SCEMS_LOG_LEVEL"

// Options selects the level and encoding of a logger.
type Options struct {
	Level  string // trace, debug, info, warn, error, disabled
	Format string // "console" or "json"
	Out    io.Writer
}

// New builds a logger tagged with app. Console output is the default.
func New(app string, opts Options) zerolog.Logger {
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	if !strings.EqualFold(strings.TrimSpace(opts.Format), "json") {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	level, ok := ParseLevel(os.Getenv(EnvLogLevel))
	if !ok {
		level, _ = ParseLevel(opts.Level)
	}
	return zerolog.New(out).Level(level).With().Timestamp().Str("app", app).Logger()
}

// Init builds a logger and installs it as the package-global zerolog logger.
func Init(app string, opts Options) zerolog.Logger {
	logger := New(app, opts)
	log.Logger = logger
	return logger
}

// ParseLevel maps a level name to a zerolog level. ok is false for empty or
// unknown input, in which case info is returned.
func ParseLevel(raw string) (zerolog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return zerolog.InfoLevel, false
	case "trace":
		return zerolog.TraceLevel, true
	case "debug":
		return zerolog.DebugLevel, true
	case "info":
		return zerolog.InfoLevel, true
	case "warn", "warning":
		return zerolog.WarnLevel, true
	case "error":
		return zerolog.ErrorLevel, true
	case "disabled", "off", "none":
		return zerolog.Disabled, true
	default:
		return zerolog.InfoLevel, false
	}
}
