package logging

import (
	"context"
	"log/slog"

	"go.uber.org/zap"
)

const redactedPlaceholder = "[redacted]"

// Logger defines the subset of slog functionality used by the zenoh binding.
// The interface is intentionally small so applications can provide their own
// implementation for testing or routing to an existing logger.
type Logger interface {
	Debug(ctx context.Context, msg string, args ...any)
	Info(ctx context.Context, msg string, args ...any)
	Warn(ctx context.Context, msg string, args ...any)
	Error(ctx context.Context, msg string, args ...any)
	With(args ...any) Logger
}

// New returns a Logger backed by the provided slog.Logger. Passing nil binds to
// slog.Default().
func New(logger *slog.Logger) Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return &slogLogger{logger: logger}
}

type slogLogger struct {
	logger *slog.Logger
}

func (l *slogLogger) Debug(ctx context.Context, msg string, args ...any) {
	l.logger.DebugContext(ctx, msg, args...)
}

func (l *slogLogger) Info(ctx context.Context, msg string, args ...any) {
	l.logger.InfoContext(ctx, msg, args...)
}

func (l *slogLogger) Warn(ctx context.Context, msg string, args ...any) {
	l.logger.WarnContext(ctx, msg, args...)
}

func (l *slogLogger) Error(ctx context.Context, msg string, args ...any) {
	l.logger.ErrorContext(ctx, msg, args...)
}

func (l *slogLogger) With(args ...any) Logger {
	return &slogLogger{logger: l.logger.With(args...)}
}

// NewZap returns a Logger backed by a zap.Logger. Passing nil binds to
// zap.L(). Arguments follow the slog convention of alternating keys and
// values; slog.Attr values are accepted as well.
func NewZap(logger *zap.Logger) Logger {
	if logger == nil {
		logger = zap.L()
	}
	return &zapLogger{logger: logger.WithOptions(zap.AddCallerSkip(1))}
}

type zapLogger struct {
	logger *zap.Logger
}

func (l *zapLogger) Debug(_ context.Context, msg string, args ...any) {
	l.logger.Debug(msg, zapFields(args)...)
}

func (l *zapLogger) Info(_ context.Context, msg string, args ...any) {
	l.logger.Info(msg, zapFields(args)...)
}

func (l *zapLogger) Warn(_ context.Context, msg string, args ...any) {
	l.logger.Warn(msg, zapFields(args)...)
}

func (l *zapLogger) Error(_ context.Context, msg string, args ...any) {
	l.logger.Error(msg, zapFields(args)...)
}

func (l *zapLogger) With(args ...any) Logger {
	return &zapLogger{logger: l.logger.With(zapFields(args)...)}
}

// zapFields converts slog-style arguments. A trailing key without a value is
// reported under "!BADKEY", as slog does.
func zapFields(args []any) []zap.Field {
	fields := make([]zap.Field, 0, len(args)/2+1)
	for i := 0; i < len(args); i++ {
		switch a := args[i].(type) {
		case slog.Attr:
			fields = append(fields, zap.Any(a.Key, a.Value.Any()))
		case string:
			if i+1 >= len(args) {
				fields = append(fields, zap.String("!BADKEY", a))
				continue
			}
			fields = append(fields, zap.Any(a, args[i+1]))
			i++
		default:
			fields = append(fields, zap.Any("!BADKEY", a))
		}
	}
	return fields
}

// Redacted marks attributes whose value was intentionally left out of the log,
// such as payload bytes.
func Redacted(key string) slog.Attr {
	return slog.String(key, redactedPlaceholder)
}

// Placeholder returns the canonical string that represents a redacted value.
func Placeholder() string {
	return redactedPlaceholder
}
