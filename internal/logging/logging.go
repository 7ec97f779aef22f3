// Package logging builds the process slog.Logger on top of zerolog.
package logging

import (
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/rs/zerolog"
	slogzerolog "github.com/samber/slog-zerolog/v2"
)

// Supported output formats.
const (
	FormatJSON = "json"
	FormatText = "text"
)

// ParseLevel maps a --log-level value to a slog level. Unknown values map to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New returns a slog.Logger writing to out through zerolog. The handler
// stamps each record with its own time.
func New(out io.Writer, level, format string) *slog.Logger {
	writer := out
	if format == FormatText {
		writer = zerolog.ConsoleWriter{Out: out, TimeFormat: time.DateTime}
	}

	base := zerolog.New(writer)

	return slog.New(slogzerolog.Option{
		Level:  ParseLevel(level),
		Logger: &base,
	}.NewZerologHandler())
}
