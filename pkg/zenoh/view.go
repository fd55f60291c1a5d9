package zenoh

// View is a non-owning, copyable borrow of a resource. It never releases
// anything and is only valid while the owner of the resource keeps it alive.
type View[R comparable] struct {
	raw R
}

// NewView wraps raw without taking ownership.
func NewView[R comparable](raw R) View[R] {
	return View[R]{raw: raw}
}

// Raw returns the borrowed value.
func (v View[R]) Raw() R { return v.raw }

// Equal reports whether both views borrow the same resource.
func (v View[R]) Equal(other View[R]) bool { return v.raw == other.raw }

// BytesView borrows a payload. The bytes must not be modified or retained
// past the lifetime of the object they were read from; use Clone to keep them.
type BytesView struct {
	b []byte
}

// Bytes returns the borrowed bytes.
func (v BytesView) Bytes() []byte { return v.b }

// Len returns the payload size.
func (v BytesView) Len() int { return len(v.b) }

// String copies the payload into a string.
func (v BytesView) String() string { return string(v.b) }

// Clone copies the payload.
func (v BytesView) Clone() []byte {
	if v.b == nil {
		return nil
	}
	return append([]byte(nil), v.b...)
}
