// Package logger provides a leveled, file-backed logger for the bridge.
// MCP traffic owns stdout, so everything here goes to a log file (or stderr
// as a fallback) and never to stdout.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// LogLevel controls which messages are written
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel maps a config string to a LogLevel. Unknown strings mean info.
func ParseLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "info", "":
		return LevelInfo
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// LoggerConfig describes where and how much to log
type LoggerConfig struct {
	LogPath     string
	LogLevel    string
	MaxLogFiles int
}

type fileLogger struct {
	mu    sync.Mutex
	out   io.Writer
	file  *os.File
	level LogLevel
}

var global = &fileLogger{out: os.Stderr, level: LevelInfo}

// InitLogger opens (and rotates) the configured log file and installs it as
// the global sink. Safe to call again; the previous file is closed first.
func InitLogger(config LoggerConfig) error {
	global.mu.Lock()
	defer global.mu.Unlock()

	if global.file != nil {
		_ = global.file.Close()
		global.file = nil
		global.out = os.Stderr
	}

	global.level = ParseLevel(config.LogLevel)

	if config.LogPath == "" {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(config.LogPath), 0o755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	if err := rotate(config.LogPath, config.MaxLogFiles); err != nil {
		return fmt.Errorf("failed to rotate logs: %w", err)
	}

	file, err := os.OpenFile(config.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	global.file = file
	global.out = file

	return nil
}

// Close flushes and closes the log file, reverting output to stderr
func Close() error {
	global.mu.Lock()
	defer global.mu.Unlock()

	if global.file == nil {
		return nil
	}

	err := global.file.Close()
	global.file = nil
	global.out = os.Stderr

	return err
}

// rotate renames an existing log file to a timestamped sibling and prunes
// old rotations so at most maxFiles of them remain.
func rotate(path string, maxFiles int) error {
	info, err := os.Stat(path)
	if err != nil || info.Size() == 0 {
		return nil
	}

	stamp := time.Now().Format("20060102-150405")
	rotated := fmt.Sprintf("%s.%s", path, stamp)

	if err := os.Rename(path, rotated); err != nil {
		return err
	}

	if maxFiles <= 0 {
		return nil
	}

	matches, err := filepath.Glob(path + ".*")
	if err != nil {
		return err
	}

	if len(matches) <= maxFiles {
		return nil
	}

	sort.Strings(matches)

	for _, old := range matches[:len(matches)-maxFiles] {
		_ = os.Remove(old)
	}

	return nil
}

func (l *fileLogger) log(level LogLevel, v any) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if level < l.level || l.out == nil {
		return
	}

	var msg string
	switch m := v.(type) {
	case string:
		msg = m
	case error:
		msg = m.Error()
	default:
		msg = fmt.Sprint(m)
	}

	fmt.Fprintf(l.out, "%s [%s] %s\n", time.Now().Format("2006-01-02 15:04:05.000"), level, msg)
}

// Debug logs a debug-level message. Accepts a string or an error.
func Debug(v any) { global.log(LevelDebug, v) }

// Info logs an info-level message
func Info(v any) { global.log(LevelInfo, v) }

// Warn logs a warning-level message
func Warn(v any) { global.log(LevelWarn, v) }

// Error logs an error-level message
func Error(v any) { global.log(LevelError, v) }
