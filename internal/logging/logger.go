// Package logging builds the process logger: a console handler plus rotated
// log files, with warnings and errors mirrored into a separate file.
package logging

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/syntrixbase/syntrix-offline/internal/config"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Log file names inside LoggingConfig.Dir.
const (
	MainLogFile  = "offline.log"
	ErrorLogFile = "errors.log"
)

var (
	closers   []io.Closer
	closersMu sync.Mutex
)

// Initialize builds the logger and installs it as the slog default.
func Initialize(cfg config.LoggingConfig) error {
	logger, err := NewLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	slog.SetDefault(logger)

	slog.Info("Logging initialized",
		"level", cfg.Level,
		"dir", cfg.Dir,
		"console", cfg.Console.Enabled,
		"file", cfg.File.Enabled,
		"dedup", cfg.Dedup.Enabled,
	)
	return nil
}

// NewLogger creates a logger for cfg. Files it opens stay open until Shutdown.
func NewLogger(cfg config.LoggingConfig) (*slog.Logger, error) {
	var handlers []slog.Handler

	if cfg.Console.Enabled {
		handlers = append(handlers, createHandler(os.Stdout, cfg.Console.Format, parseLevel(cfg.Console.Level)))
	}

	if cfg.File.Enabled {
		if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}

		mainFile := rotatedFile(cfg, MainLogFile)
		handlers = append(handlers, createHandler(mainFile, cfg.File.Format, parseLevel(cfg.File.Level)))

		errorFile := rotatedFile(cfg, ErrorLogFile)
		errorHandler := createHandler(errorFile, cfg.File.Format, slog.LevelWarn)
		handlers = append(handlers, NewLevelFilter(errorHandler, slog.LevelWarn))
	}

	var handler slog.Handler
	switch len(handlers) {
	case 0:
		handler = createHandler(io.Discard, cfg.Format, parseLevel(cfg.Level))
	case 1:
		handler = handlers[0]
	default:
		handler = NewMultiHandler(handlers...)
	}

	if cfg.Dedup.Enabled {
		dh := NewDedupHandler(handler, cfg.Dedup.Window)
		register(dh)
		handler = dh
	}

	return slog.New(handler), nil
}

// Shutdown flushes and closes everything NewLogger opened.
func Shutdown() error {
	closersMu.Lock()
	defer closersMu.Unlock()

	var errs []error
	// Dedup handlers were registered after their files; close them first.
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i].Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close log output: %w", err))
		}
	}
	closers = nil
	return errors.Join(errs...)
}

func rotatedFile(cfg config.LoggingConfig, name string) *lumberjack.Logger {
	f := &lumberjack.Logger{
		Filename:   filepath.Join(cfg.Dir, name),
		MaxSize:    cfg.Rotation.MaxSize,
		MaxBackups: cfg.Rotation.MaxBackups,
		MaxAge:     cfg.Rotation.MaxAge,
		Compress:   cfg.Rotation.Compress,
	}
	register(f)
	return f
}

func register(c io.Closer) {
	closersMu.Lock()
	defer closersMu.Unlock()
	closers = append(closers, c)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

func createHandler(w io.Writer, format string, level slog.Level) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}
	if format == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}
