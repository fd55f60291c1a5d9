package zenoh

import (
	"sync"
	"sync/atomic"
	"time"
)

// CancellationToken cancels the operations it is bound to, such as gets.
// The zero value is an active token.
//
// Every callback of a bound operation registers with the token while it runs.
// Cancel first wakes bound callbacks blocked on a full FIFO channel, whose
// pending item is then dropped. It then waits for the registered callbacks to
// return, prevents new ones from starting and releases the closures of the
// bound operations, so their channels report ErrDisconnected. An operation
// submitted with a token that is already cancelled is never issued; its
// closure is released right away.
//
// Calling Cancel from inside a callback bound to the same token deadlocks.
type CancellationToken struct {
	cancelled atomic.Bool

	mu       sync.Mutex
	idle     *sync.Cond
	inflight int
	hooks    map[uint64]binding
	nextHook uint64
	done     chan struct{}
}

// binding is what an operation registers with its token: interrupt unblocks
// a running callback, release runs once callbacks have stopped.
type binding struct {
	interrupt func()
	release   func()
}

// NewCancellationToken returns an active token.
func NewCancellationToken() *CancellationToken {
	t := &CancellationToken{}
	t.mu.Lock()
	t.initLocked()
	t.mu.Unlock()
	return t
}

func (t *CancellationToken) initLocked() {
	if t.done != nil {
		return
	}
	t.idle = sync.NewCond(&t.mu)
	t.hooks = make(map[uint64]binding)
	t.done = make(chan struct{})
}

// IsCancelled reports whether Cancel has been called. It never blocks.
func (t *CancellationToken) IsCancelled() bool {
	return t.cancelled.Load()
}

// Cancel marks the token cancelled and returns once no bound callback is
// running and every bound closure has been released. Concurrent and repeated
// calls all wait for the same rendezvous.
func (t *CancellationToken) Cancel() {
	t.mu.Lock()
	t.initLocked()
	if t.cancelled.Load() {
		done := t.done
		t.mu.Unlock()
		<-done
		return
	}
	start := time.Now()
	t.cancelled.Store(true)
	bound := make([]binding, 0, len(t.hooks))
	for _, b := range t.hooks {
		bound = append(bound, b)
	}
	t.mu.Unlock()

	for _, b := range bound {
		if b.interrupt != nil {
			b.interrupt()
		}
	}

	t.mu.Lock()
	for t.inflight > 0 {
		t.idle.Wait()
	}
	hooks := t.hooks
	t.hooks = nil
	t.mu.Unlock()

	for _, b := range hooks {
		b.release()
	}
	recordCancelWait(time.Since(start))
	close(t.done)
}

// enter registers a callback about to run. It reports false if the token is
// cancelled, in which case the callback must not run.
func (t *CancellationToken) enter() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.initLocked()
	if t.cancelled.Load() {
		return false
	}
	t.inflight++
	return true
}

func (t *CancellationToken) exit() {
	t.mu.Lock()
	t.inflight--
	if t.inflight == 0 {
		t.idle.Broadcast()
	}
	t.mu.Unlock()
}

// bind registers release to run when the token is cancelled, after
// interrupt, which may be nil, has woken the operation's blocked callbacks.
// It reports false, without registering, if the token is already cancelled.
// The returned function unregisters the operation.
func (t *CancellationToken) bind(interrupt, release func()) (func(), bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.initLocked()
	if t.cancelled.Load() {
		return nil, false
	}
	id := t.nextHook
	t.nextHook++
	t.hooks[id] = binding{interrupt: interrupt, release: release}
	return func() {
		t.mu.Lock()
		delete(t.hooks, id)
		t.mu.Unlock()
	}, true
}
