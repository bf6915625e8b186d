// Package logging configures the global zerolog logger.
package logging

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config holds logger configuration.
type Config struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Pretty bool   `json:"pretty"` // console writer instead of JSON
	Output string `json:"output"` // stdout, stderr, or a file path
}

// Setup applies the configuration to the global logger. Returns the
// configured logger so callers can derive component loggers from it.
func Setup(cfg Config) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.SetGlobalLevel(ParseLevel(cfg.Level))

	out := resolveOutput(cfg.Output)
	if cfg.Pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"})
	} else {
		log.Logger = zerolog.New(out).With().Timestamp().Logger()
	}
	return log.Logger
}

// ParseLevel maps a config string to a zerolog level, defaulting to
// info for unknown values.
func ParseLevel(s string) zerolog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return zerolog.DebugLevel
	case "info", "":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func resolveOutput(output string) *os.File {
	switch output {
	case "", "stdout":
		return os.Stdout
	case "stderr":
		return os.Stderr
	default:
		file, err := os.OpenFile(output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return os.Stdout
		}
		return file
	}
}

// Stream returns a logger tagged with the stream name, the standard
// shape for per-stream engine logs.
func Stream(name string) zerolog.Logger {
	return log.With().Str("stream", name).Logger()
}
