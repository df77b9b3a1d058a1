// Package logger wraps zerolog with the small amount of setup the engine
// needs: a global level, optional console output for local runs, and
// per-component child loggers.
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

var root = zerolog.New(os.Stderr).With().Timestamp().Logger()

// Init configures the global logger. format is "json" or "console".
func Init(level, format string) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	var out io.Writer = os.Stderr
	if strings.ToLower(format) == "console" {
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}
	root = zerolog.New(out).With().Timestamp().Logger()
}

// New returns a child logger tagged with the component name.
func New(component string) zerolog.Logger {
	return root.With().Str("component", component).Logger()
}
