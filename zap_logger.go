package redispoco

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapLogger adapts a zap logger to the Logger interface. Fields are passed
// as alternating keys and values, the way the store logs them.
type ZapLogger struct {
	logger *zap.SugaredLogger
}

// ZapLoggerOptions selects how NewConfiguredZapLogger writes entries.
type ZapLoggerOptions struct {
	// Level is one of debug, info, warn, error, dpanic, panic or fatal.
	// Empty means info.
	Level string
	// Development switches from JSON to console output with caller
	// stack traces on warnings.
	Development bool
}

// NewZapLogger wraps an existing zap logger.
func NewZapLogger(logger *zap.Logger) *ZapLogger {
	return &ZapLogger{logger: logger.Sugar()}
}

// NewZapLoggerFromSugar wraps an existing sugared logger.
func NewZapLoggerFromSugar(logger *zap.SugaredLogger) *ZapLogger {
	return &ZapLogger{logger: logger}
}

// NewConfiguredZapLogger builds a logger from opts. An unknown level fails
// with ErrInvalidConfig.
func NewConfiguredZapLogger(opts ZapLoggerOptions) (*ZapLogger, error) {
	level := zapcore.InfoLevel
	if opts.Level != "" {
		parsed, err := zapcore.ParseLevel(opts.Level)
		if err != nil {
			return nil, WithContext(ErrInvalidConfig, map[string]interface{}{
				"field":  "log level",
				"value":  opts.Level,
				"reason": err.Error(),
			})
		}
		level = parsed
	}

	var config zap.Config
	if opts.Development {
		config = zap.NewDevelopmentConfig()
	} else {
		config = zap.NewProductionConfig()
		config.EncoderConfig.TimeKey = "timestamp"
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	config.Level = zap.NewAtomicLevelAt(level)

	logger, err := config.Build()
	if err != nil {
		return nil, err
	}
	return NewZapLogger(logger), nil
}

// NewProductionZapLogger logs JSON at info and above.
func NewProductionZapLogger() (*ZapLogger, error) {
	return NewConfiguredZapLogger(ZapLoggerOptions{})
}

// NewDevelopmentZapLogger logs human-readable lines at debug and above.
func NewDevelopmentZapLogger() (*ZapLogger, error) {
	return NewConfiguredZapLogger(ZapLoggerOptions{Level: "debug", Development: true})
}

func (l *ZapLogger) Debug(msg string, fields ...interface{}) {
	l.logger.Debugw(msg, fields...)
}

func (l *ZapLogger) Info(msg string, fields ...interface{}) {
	l.logger.Infow(msg, fields...)
}

func (l *ZapLogger) Warn(msg string, fields ...interface{}) {
	l.logger.Warnw(msg, fields...)
}

func (l *ZapLogger) Error(msg string, fields ...interface{}) {
	l.logger.Errorw(msg, fields...)
}

// Enabled reports whether entries at level would be written.
func (l *ZapLogger) Enabled(level zapcore.Level) bool {
	return l.logger.Desugar().Core().Enabled(level)
}

// Sync flushes buffered entries. Call it before the process exits.
func (l *ZapLogger) Sync() error {
	return l.logger.Sync()
}
