package observability

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

func init() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
}

// NewLogger returns the keeper's logger for one component. LEVFARM_LOG_LEVEL
// sets the level (info by default) and LEVFARM_LOG_FORMAT=console switches
// from JSON to human-readable output.
func NewLogger(component string) zerolog.Logger {
	return newLogger(os.Stdout, component, os.Getenv("LEVFARM_LOG_LEVEL"), os.Getenv("LEVFARM_LOG_FORMAT"))
}

func newLogger(out io.Writer, component, level, format string) zerolog.Logger {
	if strings.EqualFold(format, "console") {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(out).
		Level(lvl).
		With().
		Timestamp().
		Str("service", "levfarm").
		Str("component", component).
		Logger()
}
