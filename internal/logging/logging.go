// Package logging wires slog for the tactus commands: structured JSON
// for machine consumers, text for humans, rotated files through
// lumberjack.
package logging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/tactus-audio/tactus-go/internal/conf"
)

var structuredLogger *slog.Logger
var humanReadableLogger *slog.Logger

// Levels beyond slog's built-ins.
const (
	LevelTrace = slog.Level(-8)
	LevelFatal = slog.Level(12)
)

var levelNames = map[slog.Leveler]string{
	LevelTrace: "TRACE",
	LevelFatal: "FATAL",
}

// replaceLevelNames renames the custom levels in handler output.
func replaceLevelNames(groups []string, a slog.Attr) slog.Attr {
	if a.Key == slog.LevelKey {
		level := a.Value.Any().(slog.Level)
		label, ok := levelNames[level]
		if !ok {
			label = level.String()
		}
		a.Value = slog.StringValue(label)
	}
	return a
}

// Init builds the global loggers: JSON to stdout for structured
// consumers, text to stderr for humans. The structured logger becomes
// slog's default.
func Init(level slog.Level) {
	structuredLogger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: replaceLevelNames,
	}))
	humanReadableLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: replaceLevelNames,
	}))
	slog.SetDefault(structuredLogger)
}

// Structured returns the global structured (JSON) logger.
func Structured() *slog.Logger {
	if structuredLogger == nil {
		return slog.Default()
	}
	return structuredLogger
}

// HumanReadable returns the global text logger. Interactive commands
// hand this one to the engine so stdout stays clean for output.
func HumanReadable() *slog.Logger {
	if humanReadableLogger == nil {
		return slog.Default()
	}
	return humanReadableLogger
}

// ForService returns the structured logger with a service attribute
// attached.
func ForService(serviceName string) *slog.Logger {
	return Structured().With("service", serviceName)
}

// Fatal logs at the fatal level and exits.
func Fatal(msg string, args ...any) {
	slog.Log(context.Background(), LevelFatal, msg, args...)
	os.Exit(1)
}

// Trace logs at the trace level on the default logger.
func Trace(msg string, args ...any) {
	slog.Log(context.Background(), LevelTrace, msg, args...)
}

// NewFileLogger returns a JSON logger writing to path, rotated per
// the main log config and tagged with a service attribute. The
// returned func closes the underlying writer.
func NewFileLogger(path, serviceName string, level slog.Level) (*slog.Logger, func() error, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("creating log directory %s: %w", dir, err)
		}
	}

	logConf := conf.Setting().Main.Log

	writer := &lumberjack.Logger{Filename: path}

	maxSizeMB := 100
	maxBackups := 3
	maxAge := 28 // days

	if mb := int(logConf.MaxSize / (1024 * 1024)); mb > 0 {
		maxSizeMB = mb
	}
	switch logConf.Rotation {
	case conf.RotationDaily:
		maxAge = 1
		maxBackups = 30
	case conf.RotationWeekly:
		maxAge = 7
		maxBackups = 4
	case conf.RotationSize:
	default:
		slog.Warn("unknown log rotation type, using size-based defaults",
			"rotation", logConf.Rotation)
	}
	writer.MaxSize = maxSizeMB
	writer.MaxBackups = maxBackups
	writer.MaxAge = maxAge

	handler := slog.NewJSONHandler(writer, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: replaceLevelNames,
	})
	logger := slog.New(handler).With("service", serviceName)

	return logger, writer.Close, nil
}
