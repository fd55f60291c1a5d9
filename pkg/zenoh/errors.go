package zenoh

import (
	"errors"
	"fmt"

	"github.com/hsiuhsiu/zenoh-go-exp/pkg/zenoh/internal/backend"
)

var (
	// ErrSessionClosed is returned by operations on a closed session.
	ErrSessionClosed = errors.New("zenoh: session closed")
	// ErrUndeclared is returned by operations on an undeclared entity.
	ErrUndeclared = errors.New("zenoh: entity undeclared")
	// ErrNotCallable is returned when a closure without a call function is
	// handed to an operation.
	ErrNotCallable = errors.New("zenoh: closure is not callable")
	// ErrClosureConsumed is returned when a closure that was already handed to
	// an operation, or dropped, is used again.
	ErrClosureConsumed = errors.New("zenoh: closure already consumed")
	// ErrDisconnected is returned by channel receives once the producer side
	// has been released and the queue is empty.
	ErrDisconnected = errors.New("zenoh: channel disconnected")
	// ErrNoData is returned by TryRecv on an empty, connected channel.
	ErrNoData = errors.New("zenoh: no data")
	// ErrInvalidKeyExpr is returned for malformed key expressions.
	ErrInvalidKeyExpr = errors.New("zenoh: invalid key expression")
	// ErrInvalidConfig is returned for configuration values the binding or the
	// engine rejects.
	ErrInvalidConfig = errors.New("zenoh: invalid config")
)

// errCancelled reports that the token bound to an operation was already
// cancelled at submission. It never reaches callers.
var errCancelled = errors.New("zenoh: cancelled before submission")

// EngineError is a failure code returned by the engine.
type EngineError struct {
	Op   string
	Code int8
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("zenoh: %s: %s", e.Op, backend.Result(e.Code))
}

// Is maps engine codes onto the package sentinels.
func (e *EngineError) Is(target error) bool {
	switch target {
	case ErrSessionClosed:
		return backend.Result(e.Code) == backend.ErrClosed
	}
	return false
}

// IsTimeout reports whether the engine gave up waiting.
func (e *EngineError) IsTimeout() bool {
	return backend.Result(e.Code) == backend.ErrTimeout
}

// IsUnavailable reports whether the engine could not reach its peers.
func (e *EngineError) IsUnavailable() bool {
	return backend.Result(e.Code) == backend.ErrUnavailable
}

func fromResult(op string, r backend.Result) error {
	if !r.Failed() {
		return nil
	}
	return &EngineError{Op: op, Code: int8(r)}
}
