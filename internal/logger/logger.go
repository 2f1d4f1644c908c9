package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
)

var (
	mu  sync.RWMutex
	log = zerolog.Nop()

	DebugEnabled = false

	logFile *os.File
)

// InitLogging sets up logging based on configuration.
func InitLogging(debugMode bool, logPath string) error {
	mu.Lock()
	defer mu.Unlock()

	DebugEnabled = debugMode

	if !DebugEnabled || logPath == "" {
		log = zerolog.Nop()
		return nil
	}

	logDir := filepath.Dir(logPath)
	err := os.MkdirAll(logDir, 0o755)
	if err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	logFile = f
	log = newLogger(f)

	return nil
}

// SetOutput routes debug logging to w. Used by tests and the CLI when no log file is wanted.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()

	DebugEnabled = w != nil
	if w == nil {
		log = zerolog.Nop()
		return
	}

	log = newLogger(w)
}

// Close closes the log file if open.
func Close() {
	mu.Lock()
	defer mu.Unlock()

	if logFile != nil {
		logFile.Close()
		logFile = nil
	}

	log = zerolog.Nop()
}

func newLogger(w io.Writer) zerolog.Logger {
	return zerolog.New(w).
		Level(zerolog.DebugLevel).
		With().
		Timestamp().
		Logger()
}

func current() *zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()

	l := log
	return &l
}

func Infof(format string, v ...interface{}) {
	current().Info().Msgf(format, v...)
}

// Errorf logs an error message to the file if debug mode is enabled.
func Errorf(format string, v ...interface{}) {
	current().Error().Msgf(format, v...)
}

func Debugf(format string, v ...interface{}) {
	current().Debug().Msgf(format, v...)
}

func Warnf(format string, v ...interface{}) {
	current().Warn().Msgf(format, v...)
}
