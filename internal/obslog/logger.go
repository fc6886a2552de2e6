// Package obslog builds the process-wide structured logger and carries the
// goroutine-panic containment helper used throughout the kernel, mirroring
// ws/internal/shared/monitoring/logger.go from the teacher daemon.
package obslog

import (
	"io"
	"os"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
)

// Level mirrors the teacher's LogLevel enum.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Format mirrors the teacher's LogFormat enum.
type Format string

const (
	FormatJSON   Format = "json"
	FormatPretty Format = "pretty"
)

// Config controls logger construction.
type Config struct {
	Service string
	Level   Level
	Format  Format
}

// New builds a zerolog.Logger with a timestamp, caller, and service label.
func New(cfg Config) zerolog.Logger {
	var out io.Writer = os.Stdout
	if cfg.Format == FormatPretty {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}

	level := zerolog.InfoLevel
	switch cfg.Level {
	case LevelDebug:
		level = zerolog.DebugLevel
	case LevelWarn:
		level = zerolog.WarnLevel
	case LevelError:
		level = zerolog.ErrorLevel
	}
	zerolog.SetGlobalLevel(level)

	service := cfg.Service
	if service == "" {
		service = "ron-core"
	}

	return zerolog.New(out).With().Timestamp().Caller().Str("service", service).Logger()
}

// RecoverPanic is installed via defer in the supervisor's per-service
// goroutines and the OAP per-connection goroutines so a panic there is
// logged with a stack trace instead of taking the process down.
func RecoverPanic(logger zerolog.Logger, goroutine string, fields map[string]any) {
	if r := recover(); r != nil {
		event := logger.Error().
			Str("goroutine", goroutine).
			Interface("panic_value", r).
			Str("stack", string(debug.Stack()))
		for k, v := range fields {
			event = event.Interface(k, v)
		}
		event.Msg("goroutine panic recovered")
	}
}
