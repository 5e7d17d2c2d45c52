// Package log configures the process-wide zerolog logger and hands out
// field-scoped child loggers for hive components.
package log

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the root logger. Packages derive scoped children from it
// via the With* helpers instead of logging through it directly.
var Logger zerolog.Logger

// Level names accepted by Init. Unknown names fall back to info.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config controls the root logger's verbosity and output shape.
type Config struct {
	Level      Level
	JSONOutput bool      // newline-delimited JSON instead of the console writer
	Output     io.Writer // defaults to stdout
}

// Init rebuilds the root logger. Safe to call more than once, e.g.
// again after the persisted config has been loaded.
func Init(cfg Config) {
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	if !cfg.JSONOutput {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	Logger = zerolog.New(out).With().Timestamp().Logger()
}

func parseLevel(l Level) zerolog.Level {
	switch Level(strings.ToLower(string(l))) {
	case DebugLevel:
		return zerolog.DebugLevel
	case WarnLevel:
		return zerolog.WarnLevel
	case ErrorLevel:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// WithComponent scopes the root logger to one hive component.
func WithComponent(name string) zerolog.Logger {
	return Logger.With().Str("component", name).Logger()
}

// WithSwarmID tags entries with the owning swarm.
func WithSwarmID(id string) zerolog.Logger {
	return Logger.With().Str("swarm_id", id).Logger()
}

// WithAgentID tags entries with the acting agent.
func WithAgentID(id string) zerolog.Logger {
	return Logger.With().Str("agent_id", id).Logger()
}

// WithTaskID tags entries with the task being worked.
func WithTaskID(id string) zerolog.Logger {
	return Logger.With().Str("task_id", id).Logger()
}

func init() {
	// Sane default so packages can log before Init runs
	Init(Config{Level: InfoLevel})
}
