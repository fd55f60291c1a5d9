package zenoh

import (
	"sync/atomic"

	"github.com/hsiuhsiu/zenoh-go-exp/pkg/zenoh/internal/backend"
)

const (
	stateIdle int32 = iota
	stateTransferred
	stateReleased
)

// closureContext is the heap block shared by every copy of a closure: the user
// call and drop functions plus the ownership state.
type closureContext[V any] struct {
	call  func(V)
	drop  func()
	state atomic.Int32

	// interrupt, when set, wakes a call blocked inside the closure. Channels
	// set it so that cancelling a token never waits on a full FIFO.
	interrupt func()

	// Set by bridge before the context reaches the engine.
	kind  string
	token *CancellationToken
}

func newClosureContext[V any](call func(V), drop func()) *closureContext[V] {
	return &closureContext[V]{call: call, drop: drop}
}

// dropLocal runs the user drop if the closure never left the host.
func (c *closureContext[V]) dropLocal() {
	if c.state.CompareAndSwap(stateIdle, stateReleased) {
		c.runDrop()
	}
}

// finish runs the user drop for a transferred closure. Only the first caller
// gets through; later calls are no-ops.
func (c *closureContext[V]) finish() {
	if c.state.Swap(stateReleased) == stateReleased {
		return
	}
	c.runDrop()
}

func (c *closureContext[V]) runDrop() {
	if c.drop == nil {
		return
	}
	defer func() {
		if p := recover(); p != nil {
			recordPanic(c.kind+".drop", p)
		}
	}()
	c.drop()
}

func (c *closureContext[V]) invoke(v V) {
	if c.token != nil {
		if !c.token.enter() {
			discard(v)
			return
		}
		defer c.token.exit()
	}
	if c.state.Load() == stateReleased {
		discard(v)
		return
	}
	defer func() {
		if p := recover(); p != nil {
			recordPanic(c.kind, p)
		}
	}()
	recordCall(c.kind)
	c.call(v)
}

// discard releases a payload the user never saw.
func discard[V any](v V) {
	if d, ok := any(v).(interface{ Drop() }); ok {
		d.Drop()
	}
}

// Closure is a callback receiving borrowed views, such as samples delivered to
// a subscriber. The view is only valid during the call.
//
// A closure is consumed by the first operation it is handed to, whether the
// operation succeeds or not; its drop function then runs exactly once, after
// the last call. A closure that is never handed to an operation must be
// released with Drop.
type Closure[V any] struct {
	ctx *closureContext[V]
}

// NewClosure returns a closure running call for each delivered view and drop
// once no more calls will be made. drop may be nil.
func NewClosure[V any](call func(V), drop func()) Closure[V] {
	return Closure[V]{ctx: newClosureContext(call, drop)}
}

// IsCallable reports whether c has a call function. Operations reject
// closures that are not callable with ErrNotCallable.
func (c Closure[V]) IsCallable() bool { return c.ctx != nil && c.ctx.call != nil }

// Drop releases a closure that was never handed to an operation. It is a
// no-op otherwise.
func (c Closure[V]) Drop() {
	if c.ctx != nil {
		c.ctx.dropLocal()
	}
}

// MoveClosure is a callback receiving owned values, such as replies to a get.
// Each call transfers the value to the callee, which must eventually Drop it.
// Ownership rules otherwise match Closure.
type MoveClosure[T any] struct {
	ctx *closureContext[T]
}

// NewMoveClosure returns a closure running call for each delivered value and
// drop once no more calls will be made. drop may be nil.
func NewMoveClosure[T any](call func(T), drop func()) MoveClosure[T] {
	return MoveClosure[T]{ctx: newClosureContext(call, drop)}
}

// IsCallable reports whether c has a call function.
func (c MoveClosure[T]) IsCallable() bool { return c.ctx != nil && c.ctx.call != nil }

// Drop releases a closure that was never handed to an operation. It is a
// no-op otherwise.
func (c MoveClosure[T]) Drop() {
	if c.ctx != nil {
		c.ctx.dropLocal()
	}
}

// Cloning adapts a closure taking owned values into one taking views, by
// cloning every view before handing it on. c is consumed. If c was already
// consumed, operations reject the result with ErrClosureConsumed.
func Cloning[V, O any](c MoveClosure[O], clone func(V) O) Closure[V] {
	if c.ctx == nil {
		return Closure[V]{}
	}
	if c.ctx.call == nil {
		c.ctx.dropLocal()
		return Closure[V]{}
	}
	if !c.ctx.state.CompareAndSwap(stateIdle, stateTransferred) {
		consumed := newClosureContext(func(V) {}, nil)
		consumed.state.Store(stateReleased)
		return Closure[V]{ctx: consumed}
	}
	inner := c.ctx
	out := NewClosure(
		func(v V) { inner.call(clone(v)) },
		func() {
			inner.state.Store(stateReleased)
			inner.runDrop()
		},
	)
	out.ctx.interrupt = inner.interrupt
	return out
}

// trampoline is what the engine's context integer resolves to.
type trampoline[A any] struct {
	call    func(A)
	release func()
}

func callTrampoline[A any](ctx uintptr, payload A) {
	v, ok := backend.Get(ctx)
	if !ok {
		return
	}
	v.(*trampoline[A]).call(payload)
}

func dropTrampoline[A any](ctx uintptr) {
	v, ok := backend.Take(ctx)
	if !ok {
		return
	}
	v.(*trampoline[A]).release()
}

// bridge transfers c to the engine as an ABI closure whose payloads are
// converted with conv. On error the closure has been released locally.
//
// When token is non-nil every call is registered with it, and cancelling it
// releases the closure. If the token is already cancelled bridge releases the
// closure and returns errCancelled.
func bridge[V, A any](c *closureContext[V], kind string, conv func(A) V, token *CancellationToken) (backend.Closure[A], error) {
	if c == nil {
		return backend.Closure[A]{}, ErrNotCallable
	}
	if c.call == nil {
		c.dropLocal()
		return backend.Closure[A]{}, ErrNotCallable
	}
	if !c.state.CompareAndSwap(stateIdle, stateTransferred) {
		return backend.Closure[A]{}, ErrClosureConsumed
	}
	c.kind = kind
	c.token = token
	unbind := func() {}
	if token != nil {
		var ok bool
		unbind, ok = token.bind(c.interrupt, c.finish)
		if !ok {
			c.finish()
			return backend.Closure[A]{}, errCancelled
		}
	}
	t := &trampoline[A]{
		call: func(a A) { c.invoke(conv(a)) },
		release: func() {
			unbind()
			c.finish()
		},
	}
	return backend.Closure[A]{
		Context: backend.Put(t),
		Call:    callTrampoline[A],
		Drop:    dropTrampoline[A],
	}, nil
}
