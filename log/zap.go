package log

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapLogger is the production Logger implementation backed by zap's
// sugared logger. The level can be changed at runtime via SetLevel.
type ZapLogger struct {
	sugar *zap.SugaredLogger
	level zap.AtomicLevel
}

// Compile-time assertion: *ZapLogger implements Logger.
var _ Logger = (*ZapLogger)(nil)

// NewZapLogger builds a production zap logger at the given level.
func NewZapLogger(level LogLevel) (*ZapLogger, error) {
	atomicLevel := zap.NewAtomicLevelAt(toZapLevel(level))

	cfg := zap.NewProductionConfig()
	cfg.Level = atomicLevel

	logger, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, err
	}

	return &ZapLogger{sugar: logger.Sugar(), level: atomicLevel}, nil
}

// NewZapLoggerFrom wraps an already-configured zap logger. Useful when the
// host application owns the zap setup.
func NewZapLoggerFrom(logger *zap.Logger) *ZapLogger {
	return &ZapLogger{
		sugar: logger.Sugar(),
		level: zap.NewAtomicLevelAt(logger.Level()),
	}
}

// SetLevel changes the logging level at runtime.
func (l *ZapLogger) SetLevel(level LogLevel) {
	l.level.SetLevel(toZapLevel(level))
}

func (l *ZapLogger) must() *zap.SugaredLogger {
	if l == nil || l.sugar == nil {
		return zap.NewNop().Sugar()
	}

	return l.sugar
}

// Info implements Logger.
func (l *ZapLogger) Info(args ...any) { l.must().Info(args...) }

// Infof implements Logger.
func (l *ZapLogger) Infof(format string, args ...any) { l.must().Infof(format, args...) }

// Warn implements Logger.
func (l *ZapLogger) Warn(args ...any) { l.must().Warn(args...) }

// Warnf implements Logger.
func (l *ZapLogger) Warnf(format string, args ...any) { l.must().Warnf(format, args...) }

// Error implements Logger.
func (l *ZapLogger) Error(args ...any) { l.must().Error(args...) }

// Errorf implements Logger.
func (l *ZapLogger) Errorf(format string, args ...any) { l.must().Errorf(format, args...) }

// Debug implements Logger.
func (l *ZapLogger) Debug(args ...any) { l.must().Debug(args...) }

// Debugf implements Logger.
func (l *ZapLogger) Debugf(format string, args ...any) { l.must().Debugf(format, args...) }

// WithFields implements Logger. Fields are zap key/value sugar pairs.
//
//nolint:ireturn
func (l *ZapLogger) WithFields(fields ...any) Logger {
	return &ZapLogger{sugar: l.must().With(fields...), level: l.level}
}

// WithContext returns a child logger annotated with the trace_id and
// span_id of the span in the context, when one is present. Without a
// valid span context the logger is returned unchanged.
//
//nolint:ireturn
func (l *ZapLogger) WithContext(ctx context.Context) Logger {
	span := trace.SpanContextFromContext(ctx)
	if !span.IsValid() {
		return l
	}

	return l.WithFields("trace_id", span.TraceID().String(), "span_id", span.SpanID().String())
}

// Sync implements Logger.
func (l *ZapLogger) Sync() error { return l.must().Sync() }

func toZapLevel(level LogLevel) zapcore.Level {
	switch level {
	case DebugLevel:
		return zapcore.DebugLevel
	case InfoLevel:
		return zapcore.InfoLevel
	case WarnLevel:
		return zapcore.WarnLevel
	case ErrorLevel:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
