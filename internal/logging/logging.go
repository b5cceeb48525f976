// Package logging builds the process logger: zerolog underneath, exposed
// as a logr.Logger so packages stay backend-agnostic.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/zerologr"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
)

// ParseLevel maps a level name to zerolog. "debug" enables V(1) logs and
// "trace" enables V(2).
func ParseLevel(s string) (zerolog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return zerolog.InfoLevel, nil
	case "trace":
		return zerolog.TraceLevel, nil
	case "debug":
		return zerolog.DebugLevel, nil
	case "warn", "warning":
		return zerolog.WarnLevel, nil
	case "error":
		return zerolog.ErrorLevel, nil
	}
	return zerolog.NoLevel, fmt.Errorf("unknown log level %q", s)
}

// New returns a logger writing to w at the given level. console selects
// the human-readable writer instead of JSON lines.
func New(w io.Writer, level string, console bool) (logr.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return logr.Discard(), err
	}

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	zerologr.NameFieldName = "logger"
	zerologr.NameSeparator = "/"

	zl := zerolog.New(w)
	if console {
		zl = zl.Output(zerolog.ConsoleWriter{
			Out:        w,
			NoColor:    !colorTerminal(),
			TimeFormat: time.RFC3339,
		})
	}
	zl = zl.Level(lvl).With().Timestamp().Logger()
	return zerologr.New(&zl), nil
}

// Init returns the daemon logger on stderr. Output is human-readable on a
// terminal and JSON lines otherwise (journald, log shippers).
func Init(level string) (logr.Logger, error) {
	return New(os.Stderr, level, IsTerminal())
}

// IsTerminal reports whether stderr is a terminal.
func IsTerminal() bool {
	fd := os.Stderr.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func colorTerminal() bool {
	if os.Getenv("TERM") == "dumb" {
		return false
	}
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return false
	}
	return IsTerminal()
}
