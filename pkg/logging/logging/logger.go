package logging

import (
	"context"
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type ctxKey int

// prevents differences when adding new constants
const loggerKey ctxKey = iota

var (
	defaultLogger     *zap.Logger
	defaultLoggerOnce sync.Once
)

// Options selects the encoder and level. Zero value means production JSON
// at info level.
type Options struct {
	Env     string // "dev" or "development" switches to the console encoder
	Level   string // zapcore level name, e.g. "debug"
	Service string // added as a "service" field when set
}

// OptionsFromEnv reads ENV and LOG_LEVEL.
func OptionsFromEnv(service string) Options {
	return Options{
		Env:     os.Getenv("ENV"),
		Level:   os.Getenv("LOG_LEVEL"),
		Service: service,
	}
}

// New builds a logger from opts. An unparseable level is reported as an error.
func New(opts Options) (*zap.Logger, error) {
	var config zap.Config

	if opts.Env == "dev" || opts.Env == "development" {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		config = zap.NewProductionConfig()
		//to see who calls it
		config.DisableCaller = false
	}

	if opts.Level != "" {
		var level zapcore.Level
		if err := level.UnmarshalText([]byte(opts.Level)); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", opts.Level, err)
		}
		config.Level = zap.NewAtomicLevelAt(level)
	}

	logger, err := config.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	if opts.Service != "" {
		logger = logger.With(zap.String("service", opts.Service))
	}
	return logger, nil
}

// DefaultLogger is the process-wide fallback used when a context carries no
// logger. It honors ENV and LOG_LEVEL; a bad LOG_LEVEL falls back to info.
func DefaultLogger() *zap.Logger {
	defaultLoggerOnce.Do(func() {
		opts := OptionsFromEnv("tiergate")
		logger, err := New(opts)
		if err != nil {
			opts.Level = ""
			logger, err = New(opts)
		}
		if err != nil {
			_, _ = os.Stderr.WriteString("failed to create logger: " + err.Error() + "\n")
			os.Exit(1)
		}
		defaultLogger = logger
	})
	return defaultLogger
}

// attach a logger to context
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext returns the request logger, or DefaultLogger when none is set.
func FromContext(ctx context.Context) *zap.Logger {
	if ctx == nil {
		return DefaultLogger()
	}

	if logger, ok := ctx.Value(loggerKey).(*zap.Logger); ok && logger != nil {
		return logger
	}
	return DefaultLogger()
}

func L(ctx context.Context) *zap.Logger {
	return FromContext(ctx)
}

// WithFields adds structured fields to the logger in context.
func WithFields(ctx context.Context, fields ...zap.Field) context.Context {
	logger := FromContext(ctx).With(fields...)
	return WithLogger(ctx, logger)
}
