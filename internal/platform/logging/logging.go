package logging

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.elastic.co/ecszerolog"
)

// Output formats accepted by New.
const (
	FormatJSON    = "json"
	FormatConsole = "console"
	FormatECS     = "ecs"
)

// New builds the process logger. The ecs format emits Elastic Common Schema
// fields for shipping straight into Elasticsearch.
func New(w io.Writer, format, level, service string) (zerolog.Logger, error) {
	lvl := zerolog.InfoLevel
	if level != "" {
		parsed, err := zerolog.ParseLevel(strings.ToLower(level))
		if err != nil {
			return zerolog.Nop(), fmt.Errorf("log level %q: %w", level, err)
		}
		lvl = parsed
	}

	var logger zerolog.Logger
	switch strings.ToLower(format) {
	case "", FormatJSON:
		logger = zerolog.New(w).With().Timestamp().Logger()
	case FormatConsole:
		logger = zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}).With().Timestamp().Logger()
	case FormatECS:
		logger = ecszerolog.New(w)
	default:
		return zerolog.Nop(), fmt.Errorf("unknown log format %q", format)
	}

	if service != "" {
		logger = logger.With().Str("service", service).Logger()
	}
	return logger.Level(lvl), nil
}
