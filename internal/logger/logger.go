package logger

import (
	"fmt"
	"log"
	"os"
	"strings"
)

// Level is a log severity level
type Level int

const (
	LevelTrace Level = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
	LevelPanic
)

var current = LevelInfo

func init() {
	if os.Getenv("AICONFIG_DEBUG") == "1" {
		current = LevelDebug
	}
}

// ParseLevel parses a level name like "debug" or "warn"
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return LevelTrace, nil
	case "debug":
		return LevelDebug, nil
	case "info", "":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	case "fatal":
		return LevelFatal, nil
	case "panic":
		return LevelPanic, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level: %s", s)
	}
}

// SetLevel sets the global log level
func SetLevel(l Level) {
	current = l
}

func logAt(l Level, prefix, format string, args ...any) {
	if l < current {
		return
	}
	log.Printf(prefix+format, args...)
}

// Trace logs a trace-level message
func Trace(format string, args ...any) { logAt(LevelTrace, "[TRACE] ", format, args...) }

// Debug logs a debug-level message
func Debug(format string, args ...any) { logAt(LevelDebug, "[DEBUG] ", format, args...) }

// Info logs an info-level message
func Info(format string, args ...any) { logAt(LevelInfo, "[INFO] ", format, args...) }

// Warn logs a warning message
func Warn(format string, args ...any) { logAt(LevelWarn, "[WARN] ", format, args...) }

// Error logs an error message
func Error(format string, args ...any) { logAt(LevelError, "[ERROR] ", format, args...) }

// Fatal logs a fatal message and exits
func Fatal(format string, args ...any) {
	logAt(LevelFatal, "[FATAL] ", format, args...)
	os.Exit(1)
}
