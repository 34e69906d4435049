package orchestrator

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Rotation limits for the debug log file.
const (
	logMaxSizeMB  = 10
	logMaxBackups = 3
	logMaxAgeDays = 14
)

// DefaultLogPath returns the debug log location for a working directory.
func DefaultLogPath(workDir string) string {
	return filepath.Join(workDir, ".friday", "logs", "orchestrator-debug.log")
}

// DebugLogger writes timestamped lines to a size-rotated file. A nil
// logger, or one without a file, discards everything.
type DebugLogger struct {
	out  *log.Logger
	file io.Closer
}

// NewDebugLogger opens a rotating log at logPath. An empty path gives a
// no-op logger.
func NewDebugLogger(logPath string) (*DebugLogger, error) {
	if logPath == "" {
		return NopLogger(), nil
	}
	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	file := &lumberjack.Logger{
		Filename:   logPath,
		MaxSize:    logMaxSizeMB,
		MaxBackups: logMaxBackups,
		MaxAge:     logMaxAgeDays,
	}
	l := &DebugLogger{
		out:  log.New(file, "", log.Ltime|log.Lmicroseconds),
		file: file,
	}
	l.Log("=== friday orchestrator log opened %s ===", time.Now().Format(time.RFC3339))
	return l, nil
}

// NopLogger returns a logger that discards everything.
func NopLogger() *DebugLogger {
	return &DebugLogger{}
}

// Log writes one line. log.Logger serializes concurrent writers.
func (l *DebugLogger) Log(format string, args ...interface{}) {
	if l == nil || l.out == nil {
		return
	}
	l.out.Printf(format, args...)
}

// Close closes the log file.
func (l *DebugLogger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	return l.file.Close()
}
