// Package logging provides a minimal logging facade for the zenoh binding.
//
// This package defines a Logger interface that wraps a subset of the standard
// library's log/slog functionality, with adapters for slog and zap.
//
// # Logger Interface
//
//	type Logger interface {
//	    Debug(ctx context.Context, msg string, args ...any)
//	    Info(ctx context.Context, msg string, args ...any)
//	    Warn(ctx context.Context, msg string, args ...any)
//	    Error(ctx context.Context, msg string, args ...any)
//	    With(args ...any) Logger
//	}
//
// # Implementations
//
//	// slog.Default()
//	logger := logging.New(nil)
//
//	// an existing zap logger
//	zl, _ := zap.NewProduction()
//	logger := logging.NewZap(zl)
//
//	zenoh.SetLogger(logger)
//
// # Payloads
//
// The binding never logs payload bytes. Use Redacted to mark where a payload
// would have appeared:
//
//	logger.Debug(ctx, "sample dropped", "key", key, logging.Redacted("payload"))
//	// Logs: payload="[redacted]"
//
// Callbacks run on engine goroutines that carry no request context, so the
// binding passes context.Background() for events raised there.
package logging
