package logger

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"syscall"

	"github.com/sifan077/shortlink/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"
)

// Config drives how the zap logger is built.
type Config struct {
	Development bool
	Level       string
	// Encoding is "json" or "console"; empty keeps zap's default for the mode.
	Encoding string
}

// FromAppConfig derives the logger settings from the service configuration.
func FromAppConfig(app config.AppConfig, log config.LogConfig) Config {
	return Config{
		Development: app.IsDevelopment(),
		Level:       log.Level,
		Encoding:    log.Encoding,
	}
}

var global atomic.Pointer[zap.Logger]

// Init builds a logger from cfg and makes it the one returned by L.
func Init(cfg Config) (*zap.Logger, error) {
	l, err := New(cfg)
	if err != nil {
		return nil, err
	}
	if prev := global.Swap(l); prev != nil {
		_ = prev.Sync()
	}
	return l, nil
}

// MustInit is Init that panics on error.
func MustInit(cfg Config) *zap.Logger {
	l, err := Init(cfg)
	if err != nil {
		panic(err)
	}
	return l
}

// L returns the global logger, or a no-op logger before Init.
func L() *zap.Logger {
	if l := global.Load(); l != nil {
		return l
	}
	return zap.NewNop()
}

// Sync flushes the global logger. Terminals reject fsync, which is not an error here.
func Sync() error {
	l := global.Load()
	if l == nil {
		return nil
	}
	err := l.Sync()
	if errors.Is(err, syscall.ENOTTY) || errors.Is(err, syscall.EINVAL) || errors.Is(err, os.ErrInvalid) {
		return nil
	}
	return err
}

// New returns a zap.Logger configured according to cfg.
func New(cfg Config) (*zap.Logger, error) {
	zapCfg := zap.NewProductionConfig()
	if cfg.Development {
		zapCfg = zap.NewDevelopmentConfig()
	}

	switch cfg.Encoding {
	case "":
	case "json", "console":
		zapCfg.Encoding = cfg.Encoding
	default:
		return nil, fmt.Errorf("logger: unsupported encoding %q", cfg.Encoding)
	}
	zapCfg.EncoderConfig = encoderConfig(zapCfg.Encoding, colorize())

	if cfg.Level != "" {
		level, err := zapcore.ParseLevel(strings.ToLower(cfg.Level))
		if err != nil {
			return nil, fmt.Errorf("logger: invalid level %q: %w", cfg.Level, err)
		}
		zapCfg.Level = zap.NewAtomicLevelAt(level)
	}

	return zapCfg.Build(zap.AddStacktrace(zapcore.ErrorLevel))
}

func encoderConfig(encoding string, color bool) zapcore.EncoderConfig {
	enc := zap.NewProductionEncoderConfig()
	enc.TimeKey = "time"
	enc.StacktraceKey = "stack"
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	enc.EncodeDuration = zapcore.StringDurationEncoder

	if encoding == "console" {
		enc.ConsoleSeparator = " | "
		enc.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05.000")
		enc.EncodeLevel = zapcore.CapitalLevelEncoder
		if color {
			enc.EncodeLevel = zapcore.CapitalColorLevelEncoder
		}
	}
	return enc
}

// colorize reports whether console output goes to a terminal that wants color.
func colorize() bool {
	if _, off := os.LookupEnv("NO_COLOR"); off {
		return false
	}
	return term.IsTerminal(int(os.Stdout.Fd()))
}
