// Package corelog provides the process-wide structured logger used by
// every core subsystem (scheduler, socket pool, RTSP/RTP sessions).
package corelog

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
)

// Level is the logging verbosity level.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Category is a targeted debug category that can be enabled independently
// of the overall log level.
type Category string

const (
	CategoryRTSP       Category = "rtsp"
	CategoryRTP        Category = "rtp"
	CategoryModule     Category = "module"
	CategoryScheduler  Category = "scheduler"
	CategorySocketPool Category = "socketpool"
	CategoryAll        Category = "all"
)

var allCategories = []Category{
	CategoryRTSP, CategoryRTP, CategoryModule, CategoryScheduler, CategorySocketPool,
}

// OutputFormat selects the slog.Handler used for rendering.
type OutputFormat string

const (
	FormatJSON OutputFormat = "json"
	FormatText OutputFormat = "text"
)

// Config holds logger configuration.
type Config struct {
	Level      Level
	Format     OutputFormat
	OutputFile string

	mu                sync.RWMutex
	enabledCategories map[Category]bool
}

// NewConfig returns a Config with defaults matching the core's normal
// operating mode: info level, text format, stdout.
func NewConfig() *Config {
	return &Config{
		Level:             LevelInfo,
		Format:            FormatText,
		enabledCategories: make(map[Category]bool),
	}
}

// ParseLevel converts a string flag value to a Level.
func ParseLevel(level string) (Level, error) {
	switch level {
	case "debug", "DEBUG":
		return LevelDebug, nil
	case "info", "INFO":
		return LevelInfo, nil
	case "warn", "WARN", "warning", "WARNING":
		return LevelWarn, nil
	case "error", "ERROR":
		return LevelError, nil
	default:
		return "", fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", level)
	}
}

// ParseFormat converts a string flag value to an OutputFormat.
func ParseFormat(format string) (OutputFormat, error) {
	switch format {
	case "json", "JSON":
		return FormatJSON, nil
	case "text", "TEXT":
		return FormatText, nil
	default:
		return "", fmt.Errorf("invalid log format: %s (must be json or text)", format)
	}
}

// ToSlogLevel maps Level to slog.Level.
func (l Level) ToSlogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// EnableCategory turns on a debug category. CategoryAll enables every
// known category.
func (c *Config) EnableCategory(category Category) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if category == CategoryAll {
		for _, cat := range allCategories {
			c.enabledCategories[cat] = true
		}
		return
	}
	c.enabledCategories[category] = true
}

// IsCategoryEnabled reports whether a debug category is active.
func (c *Config) IsCategoryEnabled(category Category) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.enabledCategories[category]
}

// Logger wraps slog.Logger with category-gated debug helpers.
type Logger struct {
	*slog.Logger
	config *Config
	file   *os.File
}

// New builds a Logger from Config, opening OutputFile if set.
func New(cfg *Config) (*Logger, error) {
	var writer io.Writer = os.Stdout
	var file *os.File

	if cfg.OutputFile != "" {
		f, err := os.OpenFile(cfg.OutputFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("open log file %s: %w", cfg.OutputFile, err)
		}
		writer = f
		file = f
	}

	handlerOpts := &slog.HandlerOptions{Level: cfg.Level.ToSlogLevel()}

	var handler slog.Handler
	switch cfg.Format {
	case FormatJSON:
		handler = slog.NewJSONHandler(writer, handlerOpts)
	default:
		handler = slog.NewTextHandler(writer, handlerOpts)
	}

	return &Logger{
		Logger: slog.New(handler),
		config: cfg,
		file:   file,
	}, nil
}

// Close closes the log file, if one was opened.
func (l *Logger) Close() error {
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// With returns a derived Logger carrying the given attributes.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...), config: l.config, file: l.file}
}

// Debugc logs at Debug level only if category is enabled.
func (l *Logger) Debugc(category Category, msg string, args ...any) {
	if l.config.IsCategoryEnabled(category) {
		args = append([]any{"category", string(category)}, args...)
		l.Debug(msg, args...)
	}
}

var (
	defaultLogger *Logger
	once          sync.Once
)

// SetDefault installs logger as the process-wide default.
func SetDefault(logger *Logger) {
	defaultLogger = logger
	slog.SetDefault(logger.Logger)
}

// Default returns the process-wide logger, lazily constructing a
// stdout/text/info logger the first time it's needed.
func Default() *Logger {
	once.Do(func() {
		if defaultLogger != nil {
			return
		}
		l, err := New(NewConfig())
		if err != nil {
			l = &Logger{Logger: slog.Default(), config: NewConfig()}
		}
		defaultLogger = l
	})
	return defaultLogger
}
