package zenoh

import (
	"context"
	"sync"
)

// queue is the bounded buffer shared by a channel's producer closure and its
// handler. One producer thread at a time and a single consumer are assumed.
type queue[T any] struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond

	buf  []T
	head int
	n    int
	ring bool

	disconnected bool // producer released
	detached     bool // consumer closed
	abandoned    bool // producer cancelled; pushes no longer wait
}

func newQueue[T any](bound int, ring bool) *queue[T] {
	if bound < 1 {
		panic("zenoh: channel bound must be at least 1")
	}
	q := &queue[T]{buf: make([]T, bound), ring: ring}
	q.notEmpty = sync.NewCond(&q.mu)
	q.notFull = sync.NewCond(&q.mu)
	return q
}

func (q *queue[T]) popLocked() T {
	var zero T
	v := q.buf[q.head]
	q.buf[q.head] = zero
	q.head = (q.head + 1) % len(q.buf)
	q.n--
	return v
}

func (q *queue[T]) pushLocked(v T) {
	q.buf[(q.head+q.n)%len(q.buf)] = v
	q.n++
	q.notEmpty.Signal()
}

// push enqueues v. On a full FIFO it blocks until the consumer makes room,
// closes the handler or the producer is abandoned, in which case v is
// dropped; on a full ring it evicts the oldest item.
func (q *queue[T]) push(v T) {
	q.mu.Lock()
	if q.ring {
		if q.detached {
			q.mu.Unlock()
			discard(v)
			return
		}
		var evicted T
		full := q.n == len(q.buf)
		if full {
			evicted = q.popLocked()
		}
		q.pushLocked(v)
		q.mu.Unlock()
		if full {
			recordEviction(1)
			discard(evicted)
		}
		return
	}
	for q.n == len(q.buf) && !q.detached && !q.abandoned {
		q.notFull.Wait()
	}
	if q.detached || q.n == len(q.buf) {
		q.mu.Unlock()
		discard(v)
		return
	}
	q.pushLocked(v)
	q.mu.Unlock()
}

// abandon releases a producer blocked on a full FIFO. Items already queued
// stay receivable.
func (q *queue[T]) abandon() {
	q.mu.Lock()
	q.abandoned = true
	q.notFull.Broadcast()
	q.mu.Unlock()
}

func (q *queue[T]) disconnect() {
	q.mu.Lock()
	q.disconnected = true
	q.notEmpty.Broadcast()
	q.mu.Unlock()
}

type handler[T any] struct {
	q *queue[T]
}

// Recv blocks until an item is available and returns it. It returns
// ErrDisconnected once the producer is released and the queue is drained.
func (h handler[T]) Recv() (T, error) {
	return h.RecvContext(context.Background())
}

// RecvContext is Recv that also returns ctx.Err() when ctx ends first.
func (h handler[T]) RecvContext(ctx context.Context) (T, error) {
	q := h.q
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		q.notEmpty.Broadcast()
		q.mu.Unlock()
	})
	defer stop()

	var zero T
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.n == 0 && !q.disconnected && !q.detached && ctx.Err() == nil {
		q.notEmpty.Wait()
	}
	switch {
	case q.n > 0:
		v := q.popLocked()
		q.notFull.Signal()
		return v, nil
	case q.disconnected || q.detached:
		return zero, ErrDisconnected
	default:
		return zero, ctx.Err()
	}
}

// TryRecv returns an item if one is queued, ErrNoData if the channel is empty
// but connected and ErrDisconnected if it is empty and disconnected. It never
// blocks.
func (h handler[T]) TryRecv() (T, error) {
	var zero T
	q := h.q
	q.mu.Lock()
	defer q.mu.Unlock()
	switch {
	case q.n > 0:
		v := q.popLocked()
		q.notFull.Signal()
		return v, nil
	case q.disconnected || q.detached:
		return zero, ErrDisconnected
	default:
		return zero, ErrNoData
	}
}

// Len returns the number of queued items.
func (h handler[T]) Len() int {
	h.q.mu.Lock()
	defer h.q.mu.Unlock()
	return h.q.n
}

// Cap returns the channel bound.
func (h handler[T]) Cap() int { return len(h.q.buf) }

// IsDisconnected reports whether the producer has been released.
func (h handler[T]) IsDisconnected() bool {
	h.q.mu.Lock()
	defer h.q.mu.Unlock()
	return h.q.disconnected
}

// Close detaches the consumer. Queued items are dropped, a producer blocked
// on a full FIFO is released and later items are dropped on arrival.
func (h handler[T]) Close() {
	q := h.q
	q.mu.Lock()
	if q.detached {
		q.mu.Unlock()
		return
	}
	q.detached = true
	pending := make([]T, 0, q.n)
	for q.n > 0 {
		pending = append(pending, q.popLocked())
	}
	q.notFull.Broadcast()
	q.notEmpty.Broadcast()
	q.mu.Unlock()
	for _, v := range pending {
		discard(v)
	}
}

// FifoHandler is the consumer side of a FIFO channel.
type FifoHandler[T any] struct {
	handler[T]
}

// RingHandler is the consumer side of a ring channel.
type RingHandler[T any] struct {
	handler[T]
}

// NewFifoChannel returns a connected producer closure and consumer handler.
// Items are received in delivery order. When bound items are queued the
// producer, an engine goroutine, blocks until the consumer receives or closes.
// It panics if bound is less than 1.
func NewFifoChannel[T any](bound int) (MoveClosure[T], *FifoHandler[T]) {
	q := newQueue[T](bound, false)
	c := NewMoveClosure(q.push, q.disconnect)
	c.ctx.interrupt = q.abandon
	return c, &FifoHandler[T]{handler[T]{q: q}}
}

// NewRingChannel returns a connected producer closure and consumer handler
// keeping the last bound items. Evicted items that have a Drop method are
// dropped. It panics if bound is less than 1.
func NewRingChannel[T any](bound int) (MoveClosure[T], *RingHandler[T]) {
	q := newQueue[T](bound, true)
	return NewMoveClosure(q.push, q.disconnect), &RingHandler[T]{handler[T]{q: q}}
}

// SampleFifo returns a subscriber closure feeding a FIFO channel of samples.
func SampleFifo(bound int) (Closure[SampleView], *FifoHandler[*Sample]) {
	c, h := NewFifoChannel[*Sample](bound)
	return Cloning(c, SampleView.Clone), h
}

// SampleRing returns a subscriber closure feeding a ring channel of samples.
func SampleRing(bound int) (Closure[SampleView], *RingHandler[*Sample]) {
	c, h := NewRingChannel[*Sample](bound)
	return Cloning(c, SampleView.Clone), h
}

// QueryFifo returns a queryable closure feeding a FIFO channel of queries.
// Each received query keeps its get open until it is dropped.
func QueryFifo(bound int) (Closure[QueryView], *FifoHandler[*Query]) {
	c, h := NewFifoChannel[*Query](bound)
	return Cloning(c, QueryView.Clone), h
}

// QueryRing returns a queryable closure feeding a ring channel of queries.
func QueryRing(bound int) (Closure[QueryView], *RingHandler[*Query]) {
	c, h := NewRingChannel[*Query](bound)
	return Cloning(c, QueryView.Clone), h
}

// ReplyFifo returns a get closure feeding a FIFO channel of replies. The
// channel disconnects once the get completes.
func ReplyFifo(bound int) (MoveClosure[*Reply], *FifoHandler[*Reply]) {
	return NewFifoChannel[*Reply](bound)
}

// ReplyRing returns a get closure feeding a ring channel of replies.
func ReplyRing(bound int) (MoveClosure[*Reply], *RingHandler[*Reply]) {
	return NewRingChannel[*Reply](bound)
}
