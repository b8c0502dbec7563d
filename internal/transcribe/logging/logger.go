// Package logging provides component loggers backed by zap, writing to
// daily-rotated files.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level represents a log severity level
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
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

func (l Level) zapLevel() zapcore.Level {
	switch l {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// ParseLevel parses a level name, defaulting to LevelInfo.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// Field is a key-value pair for structured logging
type Field = zap.Field

// String creates a string field
func String(key, value string) Field { return zap.String(key, value) }

// Int creates an integer field
func Int(key string, value int) Field { return zap.Int(key, value) }

// Int64 creates an int64 field
func Int64(key string, value int64) Field { return zap.Int64(key, value) }

// Float64 creates a float64 field
func Float64(key string, value float64) Field { return zap.Float64(key, value) }

// Duration creates a duration field
func Duration(key string, value time.Duration) Field { return zap.Duration(key, value) }

// Bool creates a boolean field
func Bool(key string, value bool) Field { return zap.Bool(key, value) }

// Logger handles structured logging
type Logger interface {
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, err error, fields ...Field)
	Debug(msg string, fields ...Field)
}

// Config configures the logger
type Config struct {
	// LogDir is the directory where log files are stored
	LogDir string
	// Prefix is the log file prefix (e.g., "memoscribe" produces memoscribe-YYYY-MM-DD.log)
	Prefix string
	// RetentionDays is the number of days to retain old log files (default: 30)
	RetentionDays int
	// Component is the logger name shown on each line (e.g., "watcher")
	Component string
	// MinLevel is the minimum log level to write (default: LevelInfo)
	MinLevel Level
	// Console also writes log lines to stderr
	Console bool
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig(logDir string) Config {
	return Config{
		LogDir:        logDir,
		Prefix:        "memoscribe",
		RetentionDays: 30,
		MinLevel:      LevelInfo,
	}
}

// FileLogger implements Logger on top of a zap core writing to a daily file.
type FileLogger struct {
	z    *zap.Logger
	file *dailyFile
}

var _ Logger = (*FileLogger)(nil)

// New creates a new FileLogger with the given configuration
func New(config Config) (*FileLogger, error) {
	if config.LogDir == "" {
		return nil, fmt.Errorf("log directory is required")
	}
	if config.Prefix == "" {
		config.Prefix = "memoscribe"
	}
	if config.RetentionDays <= 0 {
		config.RetentionDays = 30
	}

	if err := os.MkdirAll(config.LogDir, 0755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	file := &dailyFile{dir: config.LogDir, prefix: config.Prefix}
	if err := file.rotateIfNeeded(time.Now().UTC()); err != nil {
		return nil, err
	}

	var sink zapcore.WriteSyncer = file
	if config.Console {
		sink = zapcore.NewMultiWriteSyncer(file, zapcore.Lock(os.Stderr))
	}

	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig()), sink, config.MinLevel.zapLevel())
	z := zap.New(core)
	if config.Component != "" {
		z = z.Named(config.Component)
	}

	logger := &FileLogger{z: z, file: file}

	if err := file.cleanOld(config.RetentionDays); err != nil {
		logger.Error("failed to clean old logs", err)
	}

	return logger, nil
}

// NewWriter creates a logger that writes to w without rotation. Useful for CLI output and tests.
func NewWriter(w io.Writer, minLevel Level) *FileLogger {
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig()), zapcore.AddSync(w), minLevel.zapLevel())
	return &FileLogger{z: zap.New(core)}
}

// Nop returns a logger that discards everything.
func Nop() *FileLogger {
	return &FileLogger{z: zap.NewNop()}
}

func encoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "timestamp"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	cfg.EncodeDuration = zapcore.StringDurationEncoder
	return cfg
}

// Info logs an informational message
func (l *FileLogger) Info(msg string, fields ...Field) {
	l.z.Info(msg, fields...)
}

// Warn logs a warning
func (l *FileLogger) Warn(msg string, fields ...Field) {
	l.z.Warn(msg, fields...)
}

// Error logs an error message
func (l *FileLogger) Error(msg string, err error, fields ...Field) {
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	l.z.Error(msg, fields...)
}

// Debug logs a debug message
func (l *FileLogger) Debug(msg string, fields ...Field) {
	l.z.Debug(msg, fields...)
}

// WithComponent returns a logger sharing the same output, named after component.
func (l *FileLogger) WithComponent(component string) *FileLogger {
	return &FileLogger{z: l.z.Named(component), file: l.file}
}

// Zap exposes the underlying zap logger for libraries that take one.
func (l *FileLogger) Zap() *zap.Logger {
	return l.z
}

// Close flushes and closes the log file
func (l *FileLogger) Close() error {
	_ = l.z.Sync()
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// LogPath returns the path to the current log file
func (l *FileLogger) LogPath() string {
	if l.file == nil {
		return ""
	}
	return l.file.path()
}

// dailyFile is a zapcore.WriteSyncer that switches files at UTC midnight.
type dailyFile struct {
	dir         string
	prefix      string
	mu          sync.Mutex
	file        *os.File
	currentDate string
}

func (d *dailyFile) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.rotateIfNeeded(time.Now().UTC()); err != nil {
		return 0, err
	}
	return d.file.Write(p)
}

func (d *dailyFile) Sync() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.file == nil {
		return nil
	}
	return d.file.Sync()
}

func (d *dailyFile) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.file == nil {
		return nil
	}
	err := d.file.Close()
	d.file = nil
	return err
}

func (d *dailyFile) path() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.file != nil {
		return d.file.Name()
	}
	return filepath.Join(d.dir, fmt.Sprintf("%s-%s.log", d.prefix, time.Now().UTC().Format("2006-01-02")))
}

// rotateIfNeeded must be called with mu held, or before the file is shared.
func (d *dailyFile) rotateIfNeeded(now time.Time) error {
	today := now.Format("2006-01-02")
	if d.currentDate == today && d.file != nil {
		return nil
	}

	if d.file != nil {
		d.file.Close()
		d.file = nil
	}

	name := filepath.Join(d.dir, fmt.Sprintf("%s-%s.log", d.prefix, today))
	file, err := os.OpenFile(name, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}

	d.file = file
	d.currentDate = today
	return nil
}

func (d *dailyFile) cleanOld(retentionDays int) error {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return fmt.Errorf("read log directory: %w", err)
	}

	prefix := d.prefix + "-"
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)

	var toDelete []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()
		if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ".log") {
			continue
		}

		dateStr := strings.TrimSuffix(strings.TrimPrefix(name, prefix), ".log")
		logDate, err := time.Parse("2006-01-02", dateStr)
		if err != nil {
			continue
		}

		if logDate.Before(cutoff) {
			toDelete = append(toDelete, filepath.Join(d.dir, name))
		}
	}

	sort.Strings(toDelete)

	for _, path := range toDelete {
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("remove old log file %s: %w", path, err)
		}
	}

	return nil
}
