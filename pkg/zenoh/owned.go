package zenoh

// noCopy makes go vet's copylocks check flag copies of the types embedding it.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

// Owned is a move-only handle to a resource that must be released exactly
// once. The zero value of R is the null state.
//
// Owned must not be copied; use Move to transfer it. Every stored non-null raw
// value is passed to release exactly once, whether by Drop, by Put replacing
// it, or never if it leaves the handle through Take.
type Owned[R comparable] struct {
	_       noCopy
	raw     R
	release func(*R)
}

// FromRaw takes ownership of *raw and nulls it. A nil release makes Drop a
// no-op.
func FromRaw[R comparable](raw *R, release func(*R)) Owned[R] {
	var zero R
	v := *raw
	*raw = zero
	return Owned[R]{raw: v, release: release}
}

// IsValid reports whether the handle holds a resource.
func (o *Owned[R]) IsValid() bool {
	var zero R
	return o.raw != zero
}

// Take returns the raw value and leaves the handle null. The caller becomes
// responsible for releasing it.
func (o *Owned[R]) Take() R {
	var zero R
	v := o.raw
	o.raw = zero
	return v
}

// Put releases the current resource, if any, then stores *raw and nulls the
// caller's copy.
func (o *Owned[R]) Put(raw *R) {
	var zero R
	o.Drop()
	o.raw = *raw
	*raw = zero
}

// Loan borrows the resource. It panics on a null handle.
func (o *Owned[R]) Loan() View[R] {
	if !o.IsValid() {
		panic("zenoh: loan of a null handle")
	}
	return View[R]{raw: o.raw}
}

// Drop releases the resource if the handle is active. Dropping a null handle
// is a no-op.
func (o *Owned[R]) Drop() {
	if !o.IsValid() {
		return
	}
	v := o.Take()
	if o.release != nil {
		o.release(&v)
	}
}

// Move transfers the handle to the result and leaves o null.
func (o *Owned[R]) Move() Owned[R] {
	return Owned[R]{raw: o.Take(), release: o.release}
}
