package zenoh

import (
	"fmt"
	"strings"

	"github.com/hsiuhsiu/zenoh-go-exp/pkg/zenoh/internal/backend"
)

// KeyExpr is a key expression such as "demo/example/**". Chunks are separated
// by '/'; "*" matches one chunk and "**" any number of them.
type KeyExpr struct {
	expr string
}

// NewKeyExpr checks the shape of expr. The engine applies its own, stricter
// rules when the key expression is used.
func NewKeyExpr(expr string) (KeyExpr, error) {
	if expr == "" || strings.HasPrefix(expr, "/") || strings.HasSuffix(expr, "/") || strings.Contains(expr, "//") {
		return KeyExpr{}, fmt.Errorf("%w: %q", ErrInvalidKeyExpr, expr)
	}
	return KeyExpr{expr: expr}, nil
}

// MustKeyExpr is NewKeyExpr that panics on error.
func MustKeyExpr(expr string) KeyExpr {
	k, err := NewKeyExpr(expr)
	if err != nil {
		panic(err)
	}
	return k
}

// Join appends suffix as further chunks.
func (k KeyExpr) Join(suffix string) (KeyExpr, error) {
	return NewKeyExpr(k.expr + "/" + suffix)
}

func (k KeyExpr) String() string { return k.expr }

// IsZero reports whether k is the zero value.
func (k KeyExpr) IsZero() bool { return k.expr == "" }

// dropper returns the release function for engine objects of kind K.
func dropper[K any](eng backend.Engine) func(*backend.Owned[K]) {
	return func(o *backend.Owned[K]) { backend.Drop(eng, o) }
}

// loaned borrows the engine object held by o.
func loaned[K any](o *Owned[backend.Owned[K]]) backend.Loaned[K] {
	return o.Loan().Raw().Loan()
}

// declareKeyExpr turns k into an engine object for the duration of a call.
func declareKeyExpr(eng backend.Engine, k KeyExpr) (Owned[backend.OwnedKeyExpr], error) {
	if k.IsZero() {
		return Owned[backend.OwnedKeyExpr]{}, fmt.Errorf("%w: empty", ErrInvalidKeyExpr)
	}
	var raw backend.OwnedKeyExpr
	if r := eng.KeyExprFromString(&raw, k.expr); r.Failed() {
		return Owned[backend.OwnedKeyExpr]{}, fmt.Errorf("%w: %q: %w", ErrInvalidKeyExpr, k.expr, fromResult("key expression", r))
	}
	return FromRaw(&raw, dropper[backend.KeyExprKind](eng)), nil
}

// copyBytes copies data into an engine object. A nil slice yields a null
// object, which the engine treats as absent.
func copyBytes(eng backend.Engine, data []byte) (backend.OwnedBytes, error) {
	var raw backend.OwnedBytes
	if data == nil {
		return raw, nil
	}
	if r := eng.BytesCopyFromBuf(&raw, data); r.Failed() {
		return raw, fromResult("copy bytes", r)
	}
	return raw, nil
}

// optBytes is copyBytes for optional fields: nil data gives a nil pointer.
func optBytes(eng backend.Engine, data []byte) (*backend.OwnedBytes, error) {
	if data == nil {
		return nil, nil
	}
	raw, err := copyBytes(eng, data)
	if err != nil {
		return nil, err
	}
	return &raw, nil
}
