// Package logger owns the process-wide zap logger. Components receive a named child logger by
// constructor; only main touches the global.
package logger

import (
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Config struct {
	Level       string // debug, info, warn, error
	Format      string // json, console
	EnableColor bool   // console only
	// Sampling thins repeated json entries under load (per-stream chunk errors, rate limit warnings).
	Sampling    bool
	OutputPaths []string
}

var (
	mu           sync.Mutex
	globalLogger *zap.Logger
	globalLevel  zap.AtomicLevel
)

// DefaultConfig reads LOG_LEVEL, LOG_FORMAT, NO_COLOR and LOG_COLOR.
func DefaultConfig() Config {
	return Config{
		Level:       getEnv("LOG_LEVEL", "info"),
		Format:      getEnv("LOG_FORMAT", "console"),
		EnableColor: shouldEnableColor(),
		OutputPaths: []string{"stdout"},
	}
}

// Build creates a logger from cfg without touching the global one. The returned level can be
// changed at runtime and served over HTTP.
func Build(cfg Config) (*zap.Logger, zap.AtomicLevel, error) {
	level := zap.NewAtomicLevelAt(parseLevel(cfg.Level))

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder

	encoding := "json"
	if cfg.Format == "console" {
		encoding = "console"
		encoderConfig.EncodeCaller = zapcore.ShortCallerEncoder
		encoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		if cfg.EnableColor {
			encoding = coloredConsoleEncoding
			encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		}
	}

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stdout"}
	}

	zapConfig := zap.Config{
		Level:             level,
		Encoding:          encoding,
		EncoderConfig:     encoderConfig,
		OutputPaths:       outputs,
		ErrorOutputPaths:  []string{"stderr"},
		DisableStacktrace: level.Level() != zapcore.DebugLevel,
	}
	if cfg.Sampling && encoding == "json" {
		zapConfig.Sampling = &zap.SamplingConfig{Initial: 100, Thereafter: 100}
	}

	log, err := zapConfig.Build()
	if err != nil {
		return nil, level, err
	}
	return log, level, nil
}

// Initialize installs the global logger. Later calls return the already installed logger.
func Initialize(cfg Config) *zap.Logger {
	mu.Lock()
	defer mu.Unlock()
	if globalLogger != nil {
		return globalLogger
	}

	log, level, err := Build(cfg)
	if err != nil {
		panic("failed to initialize logger: " + err.Error())
	}
	globalLogger, globalLevel = log, level
	zap.ReplaceGlobals(log)
	return globalLogger
}

// Get returns the global logger, initializing it with defaults if needed.
func Get() *zap.Logger {
	return Initialize(DefaultConfig())
}

// Level returns the global logger's level. It implements http.Handler (GET reads, PUT changes).
func Level() zap.AtomicLevel {
	Get()
	return globalLevel
}

func Sync() {
	mu.Lock()
	defer mu.Unlock()
	if globalLogger != nil {
		_ = globalLogger.Sync()
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return strings.ToLower(value)
	}
	return fallback
}

func parseLevel(lvl string) zapcore.Level {
	l, err := zapcore.ParseLevel(strings.ToLower(lvl))
	if err != nil {
		return zapcore.InfoLevel
	}
	return l
}

// shouldEnableColor honours NO_COLOR (https://no-color.org/) before LOG_COLOR.
func shouldEnableColor() bool {
	if _, noColor := os.LookupEnv("NO_COLOR"); noColor {
		return false
	}
	if val := os.Getenv("LOG_COLOR"); val != "" {
		return val == "true" || val == "1"
	}
	return true
}
