package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	gormlogger "gorm.io/gorm/logger"
)

// New builds the process logger. Output goes to stderr in console form
// unless w is given.
func New(level string, w io.Writer) zerolog.Logger {
	if w == nil {
		w = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).
		Level(ParseLevel(level)).
		With().
		Timestamp().
		Logger()
}

// ParseLevel maps the configured level name onto zerolog levels
func ParseLevel(level string) zerolog.Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return zerolog.DebugLevel
	case "WARN", "WARNING":
		return zerolog.WarnLevel
	case "ERROR":
		return zerolog.ErrorLevel
	case "SILENT", "OFF":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

// GormLevel maps the configured level name onto gorm's SQL logger.
// SQL statements are only echoed at DEBUG.
func GormLevel(level string) gormlogger.LogLevel {
	switch ParseLevel(level) {
	case zerolog.DebugLevel:
		return gormlogger.Info
	case zerolog.InfoLevel, zerolog.WarnLevel:
		return gormlogger.Warn
	case zerolog.Disabled:
		return gormlogger.Silent
	default:
		return gormlogger.Error
	}
}

// Component returns a child logger tagged with the component name
func Component(logger zerolog.Logger, name string) zerolog.Logger {
	return logger.With().Str("component", name).Logger()
}
