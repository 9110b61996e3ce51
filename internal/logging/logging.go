// Package logging builds the process logger: slog on top of zerolog.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	slogzerolog "github.com/samber/slog-zerolog/v2"
)

const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

type Options struct {
	Level  string // debug, info, warn, error
	Format string // console or json
	Out    io.Writer
}

// New returns a logger writing through zerolog.
func New(opts Options) (*slog.Logger, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}
	out := opts.Out
	if out == nil {
		out = os.Stderr
	}

	var zl zerolog.Logger
	switch strings.ToLower(opts.Format) {
	case "", FormatConsole:
		zl = zerolog.New(zerolog.ConsoleWriter{Out: out, TimeFormat: time.TimeOnly})
	case FormatJSON:
		zl = zerolog.New(out)
	default:
		return nil, fmt.Errorf("unknown log format %q (want console or json)", opts.Format)
	}
	zl = zl.With().Timestamp().Logger()

	handler := slogzerolog.Option{Level: level, Logger: &zl}.NewZerologHandler()
	return slog.New(handler), nil
}

// ParseLevel maps a level name to a slog level. Empty means info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
}
