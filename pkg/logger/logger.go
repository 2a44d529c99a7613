package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/wonny/fluscore/pkg/config"
)

// Logger carries a zerolog logger plus the fields attached so far.
// Derived loggers share the writer and level of their parent.
// ⭐ SSOT: every package logs through a *Logger handed down from main
type Logger struct {
	zlog zerolog.Logger
}

// New builds the process logger on stdout
func New(cfg *config.Config) *Logger {
	return NewWithWriter(cfg, os.Stdout)
}

// NewWithWriter builds a logger on out. LOG_FORMAT console (or pretty)
// switches from JSON lines to the human-readable writer.
func NewWithWriter(cfg *config.Config, out io.Writer) *Logger {
	var w io.Writer = out
	switch strings.ToLower(cfg.LogFormat) {
	case "console", "pretty":
		w = zerolog.ConsoleWriter{Out: out, TimeFormat: time.DateTime}
	}

	zlog := zerolog.New(w).
		Level(levelOf(cfg.LogLevel)).
		With().
		Timestamp().
		Str("service", "fluscore").
		Str("env", cfg.Env).
		Logger()
	return &Logger{zlog: zlog}
}

// NewNop discards everything; tests use it
func NewNop() *Logger {
	return &Logger{zlog: zerolog.Nop()}
}

// levelOf maps LOG_LEVEL onto zerolog. Unknown or empty means info.
func levelOf(s string) zerolog.Level {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "warning" {
		s = "warn"
	}
	lvl, err := zerolog.ParseLevel(s)
	if err != nil || s == "" || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// Level is the minimum level this logger writes
func (l *Logger) Level() zerolog.Level {
	return l.zlog.GetLevel()
}

func (l *Logger) Debug(msg string) { l.zlog.Debug().Msg(msg) }
func (l *Logger) Info(msg string)  { l.zlog.Info().Msg(msg) }
func (l *Logger) Warn(msg string)  { l.zlog.Warn().Msg(msg) }
func (l *Logger) Error(msg string) { l.zlog.Error().Msg(msg) }

// Infof and Warnf format with fmt verbs
func (l *Logger) Infof(format string, args ...interface{}) { l.zlog.Info().Msgf(format, args...) }
func (l *Logger) Warnf(format string, args ...interface{}) { l.zlog.Warn().Msgf(format, args...) }

// WithField derives a logger that adds key to every entry
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{zlog: l.zlog.With().Interface(key, value).Logger()}
}

// WithFields is WithField for several keys at once
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	return &Logger{zlog: l.zlog.With().Fields(fields).Logger()}
}

// WithError attaches err under "error"
func (l *Logger) WithError(err error) *Logger {
	return &Logger{zlog: l.zlog.With().Err(err).Logger()}
}
