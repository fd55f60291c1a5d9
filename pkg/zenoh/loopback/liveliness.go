package loopback

import (
	"sync"

	"github.com/hsiuhsiu/zenoh-go-exp/pkg/zenoh/internal/backend"
)

type token struct {
	sess *session
	key  string
	once sync.Once
}

func (t *token) release(e *Engine) { t.undeclare(e) }

func (t *token) undeclare(e *Engine) {
	t.once.Do(func() {
		e.netMu.Lock()
		if _, ok := e.tokens[t]; ok {
			delete(e.tokens, t)
			e.announceLocked(t.key, backend.SampleKindDelete)
		}
		e.netMu.Unlock()
		t.sess.forget(t)
	})
}

// announceLocked notifies liveliness subscribers of a token change. Callers
// hold netMu so that history replay and live changes are totally ordered.
func (e *Engine) announceLocked(key string, kind int8) {
	d := &sampleData{key: key, kind: kind, timestamp: e.now()}
	for sub := range e.livelySubs {
		if e.match.intersects(sub.key, key) {
			sub.deliver(e, d)
		}
	}
}

// LivelinessDeclareToken implements backend.Engine.
func (e *Engine) LivelinessDeclareToken(out *backend.OwnedToken, s backend.LoanedSession, k backend.LoanedKeyExpr) backend.Result {
	sess, r := e.sessionOf(s)
	if r.Failed() {
		return r
	}
	key, ok := e.keyOf(k)
	if !ok || out == nil {
		return backend.ErrInvalid
	}
	t := &token{sess: sess, key: key}
	if !sess.track(t) {
		return backend.ErrClosed
	}
	e.netMu.Lock()
	e.tokens[t] = struct{}{}
	e.announceLocked(key, backend.SampleKindPut)
	e.netMu.Unlock()
	out.Ptr = e.insert(t)
	return backend.OK
}

// LivelinessDeclareSubscriber implements backend.Engine.
func (e *Engine) LivelinessDeclareSubscriber(out *backend.OwnedSubscriber, s backend.LoanedSession, k backend.LoanedKeyExpr, cb *backend.ClosureSample, opts *backend.LivelinessSubscriberOptions) backend.Result {
	if out == nil {
		c := takeClosure(cb)
		backend.DropClosure(&c)
		return backend.ErrInvalid
	}
	sub, r := e.newSubscriber(s, k, cb, true)
	if r.Failed() {
		return r
	}
	e.netMu.Lock()
	if !sub.gone {
		e.livelySubs[sub] = struct{}{}
		if opts != nil && opts.History {
			for t := range e.tokens {
				if e.match.intersects(sub.key, t.key) {
					sub.deliver(e, &sampleData{key: t.key, kind: backend.SampleKindPut, timestamp: e.now()})
				}
			}
		}
	}
	e.netMu.Unlock()
	out.Ptr = e.insert(sub)
	return backend.OK
}

// LivelinessGet implements backend.Engine. Every alive token matching k
// produces one reply.
func (e *Engine) LivelinessGet(s backend.LoanedSession, k backend.LoanedKeyExpr, cb *backend.ClosureReply, opts *backend.LivelinessGetOptions) backend.Result {
	c := takeClosure(cb)
	if c.Call == nil {
		backend.DropClosure(&c)
		return backend.ErrInvalid
	}
	sess, r := e.sessionOf(s)
	if r.Failed() {
		backend.DropClosure(&c)
		return r
	}
	key, ok := e.keyOf(k)
	if !ok {
		backend.DropClosure(&c)
		return backend.ErrInvalid
	}
	var timeoutMs uint64
	if opts != nil {
		timeoutMs = opts.TimeoutMs
	}
	pg := newPendingGet(e, sess, c, e.timeout(timeoutMs))
	if !sess.track(pg) {
		pg.abort()
		return backend.ErrClosed
	}
	e.netMu.RLock()
	var alive []string
	for t := range e.tokens {
		if e.match.intersects(key, t.key) {
			alive = append(alive, t.key)
		}
	}
	e.netMu.RUnlock()
	for _, tk := range alive {
		pg.reply(&replyData{sample: &sampleData{key: tk, kind: backend.SampleKindPut, timestamp: e.now()}})
	}
	pg.unref()
	return backend.OK
}
