// Package logger provides the global zerolog logger for credkeep.
//
// Console output goes to stderr so stdout stays reserved for command
// output (access tokens, JSON listings). File logging, when enabled,
// rotates via lumberjack. Log events must never carry secret material;
// callers log account names and operation names only.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	// Log is the global logger instance.
	Log zerolog.Logger

	// fileWriter is the rotating file output, nil when file logging is off.
	fileWriter *lumberjack.Logger
)

// FileConfig holds configuration for file-based logging.
type FileConfig struct {
	MaxSizeMB  int
	MaxAgeDays int
	MaxBackups int
}

func (c *FileConfig) maxSizeMB() int {
	if c == nil || c.MaxSizeMB <= 0 {
		return 10
	}
	return c.MaxSizeMB
}

func (c *FileConfig) maxAgeDays() int {
	if c == nil || c.MaxAgeDays <= 0 {
		return 7
	}
	return c.MaxAgeDays
}

func (c *FileConfig) maxBackups() int {
	if c == nil || c.MaxBackups <= 0 {
		return 3
	}
	return c.MaxBackups
}

// Init initializes the global logger with console-only output.
func Init(debug bool) {
	Log = newLogger(consoleWriter(), debug)
}

// InitWithFile initializes the logger with console output plus a
// rotating log file under logsDir. An empty logsDir behaves like Init.
func InitWithFile(debug bool, logsDir string, cfg *FileConfig) error {
	if logsDir == "" {
		Init(debug)
		return nil
	}

	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		return fmt.Errorf("failed to create logs directory: %w", err)
	}

	fileWriter = &lumberjack.Logger{
		Filename:   filepath.Join(logsDir, "credkeep.log"),
		MaxSize:    cfg.maxSizeMB(),
		MaxAge:     cfg.maxAgeDays(),
		MaxBackups: cfg.maxBackups(),
		LocalTime:  true,
	}

	// Console is human-readable, file is JSON.
	Log = newLogger(io.MultiWriter(consoleWriter(), fileWriter), debug)
	return nil
}

// CloseFileWriter closes the file writer if it exists. Call on
// program shutdown for clean log file closure.
func CloseFileWriter() error {
	if fileWriter != nil {
		err := fileWriter.Close()
		fileWriter = nil
		return err
	}
	return nil
}

func consoleWriter() io.Writer {
	return zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
	}
}

func newLogger(out io.Writer, debug bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

// Debug starts a debug-level log event.
func Debug() *zerolog.Event { return Log.Debug() }

// Info starts an info-level log event.
func Info() *zerolog.Event { return Log.Info() }

// Warn starts a warn-level log event.
func Warn() *zerolog.Event { return Log.Warn() }

// Error starts an error-level log event.
func Error() *zerolog.Event { return Log.Error() }
