// Package observability owns the process-wide loggers and metrics.
package observability

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	// CLILogger is used by commands. It writes human-readable output to
	// stderr once InitCLILogger has run.
	CLILogger = zap.NewNop()

	// ServerLogger is used by the HTTP server and the engine it hosts.
	ServerLogger = zap.NewNop()
)

// Logging profiles.
const (
	ProfileStructured = "STRUCTURED"
	ProfileConsole    = "CONSOLE"
)

// LoggingConfig configures ServerLogger.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	// Default: info
	Level string

	// Profile selects the encoder: STRUCTURED (JSON) or CONSOLE.
	// Default: STRUCTURED
	Profile string

	// File, when set, receives log output instead of stderr and is rotated.
	File string

	// Rotation limits for File.
	MaxSizeMB  int // Default: 100
	MaxBackups int // Default: 5
	MaxAgeDays int // Default: 28
}

// InitCLILogger configures CLILogger for service name. verbose enables debug
// output.
func InitCLILogger(service string, verbose bool) {
	level := zapcore.InfoLevel
	if verbose {
		level = zapcore.DebugLevel
	}

	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.TimeKey = ""
	encCfg.CallerKey = ""
	encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	if !isTerminal(os.Stderr) {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	}

	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.Lock(os.Stderr), level)
	CLILogger = zap.New(core).Named(service)
}

// InitServerLogger configures ServerLogger from cfg.
func InitServerLogger(service string, cfg LoggingConfig) error {
	l, err := NewLogger(service, cfg)
	if err != nil {
		return err
	}
	ServerLogger = l
	return nil
}

// NewLogger builds a logger from cfg without touching the package loggers.
func NewLogger(service string, cfg LoggingConfig) (*zap.Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	var enc zapcore.Encoder
	switch strings.ToUpper(strings.TrimSpace(cfg.Profile)) {
	case "", ProfileStructured:
		encCfg := zap.NewProductionEncoderConfig()
		encCfg.TimeKey = "ts"
		encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		enc = zapcore.NewJSONEncoder(encCfg)
	case ProfileConsole:
		encCfg := zap.NewDevelopmentEncoderConfig()
		enc = zapcore.NewConsoleEncoder(encCfg)
	default:
		return nil, fmt.Errorf("unknown logging profile %q (want STRUCTURED or CONSOLE)", cfg.Profile)
	}

	sink := zapcore.Lock(os.Stderr)
	if f := strings.TrimSpace(cfg.File); f != "" {
		sink = zapcore.AddSync(&lumberjack.Logger{
			Filename:   f,
			MaxSize:    orDefault(cfg.MaxSizeMB, 100),
			MaxBackups: orDefault(cfg.MaxBackups, 5),
			MaxAge:     orDefault(cfg.MaxAgeDays, 28),
			Compress:   true,
		})
	}

	core := zapcore.NewCore(enc, sink, level)
	return zap.New(core, zap.AddCaller()).With(zap.String("service", service)), nil
}

// ParseLevel converts a config level string into a zap level.
func ParseLevel(s string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return zapcore.InfoLevel, nil
	case "debug", "trace":
		return zapcore.DebugLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", s)
	}
}

// Sync flushes both loggers. Errors from syncing stderr are ignored.
func Sync() {
	_ = CLILogger.Sync()
	_ = ServerLogger.Sync()
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func isTerminal(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}
