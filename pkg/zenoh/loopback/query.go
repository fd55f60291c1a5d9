package loopback

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/hsiuhsiu/zenoh-go-exp/pkg/zenoh/internal/backend"
)

type queryable struct {
	sess     *session
	key      string
	complete bool
	cb       backend.ClosureQuery
	disp     *dispatcher
	once     sync.Once
	gone     bool // guarded by Engine.netMu
}

func (q *queryable) release(e *Engine) { q.undeclare(e) }

func (q *queryable) undeclare(e *Engine) {
	q.once.Do(func() {
		e.netMu.Lock()
		q.gone = true
		delete(e.queryables, q)
		e.netMu.Unlock()

		q.sess.forget(q)
		q.disp.stop(func() { backend.DropClosure(&q.cb) })
	})
}

func (q *queryable) deliver(e *Engine, qd *queryData) {
	ok := q.disp.submit(task{
		run: func() {
			p := e.insert(&queryObj{q: qd})
			q.cb.Call(q.cb.Context, backend.LoanedQuery{Ptr: p})
			e.Drop(p)
		},
		discard: qd.unref,
	})
	if !ok {
		qd.unref()
	}
}

// pendingGet collects the replies of one get. It finalizes, dropping the
// reply closure after every queued reply, once all queries it issued are gone
// or the timeout fires. Its session forgets it only after that drop, so a
// session closing meanwhile still waits for the reply callback.
type pendingGet struct {
	e    *Engine
	sess *session
	cb   backend.ClosureReply
	disp *dispatcher

	mu          sync.Mutex
	outstanding int
	timer       *time.Timer
	once        sync.Once
}

func newPendingGet(e *Engine, sess *session, cb backend.ClosureReply, timeout time.Duration) *pendingGet {
	pg := &pendingGet{e: e, sess: sess, cb: cb, disp: newDispatcher(), outstanding: 1}
	pg.mu.Lock()
	pg.timer = time.AfterFunc(timeout, pg.finalize)
	pg.mu.Unlock()
	return pg
}

func (pg *pendingGet) stopTimer() {
	pg.mu.Lock()
	t := pg.timer
	pg.mu.Unlock()
	t.Stop()
}

func (pg *pendingGet) release() {
	backend.DropClosure(&pg.cb)
	pg.sess.forget(pg)
}

// undeclare runs on session close. Queued replies are discarded and it
// returns once the running reply callback, if any, has returned and the
// closure has been dropped.
func (pg *pendingGet) undeclare(*Engine) {
	pg.once.Do(pg.stopTimer)
	pg.disp.stop(pg.release)
}

func (pg *pendingGet) finalize() {
	pg.once.Do(func() {
		pg.stopTimer()
		pg.disp.finish(pg.release)
	})
}

// abort finalizes a get that was never issued, dropping the closure before
// returning.
func (pg *pendingGet) abort() {
	pg.once.Do(pg.stopTimer)
	pg.disp.stop(func() { backend.DropClosure(&pg.cb) })
}

func (pg *pendingGet) ref() {
	pg.mu.Lock()
	pg.outstanding++
	pg.mu.Unlock()
}

func (pg *pendingGet) unref() {
	pg.mu.Lock()
	pg.outstanding--
	last := pg.outstanding == 0
	pg.mu.Unlock()
	if last {
		pg.finalize()
	}
}

// reply queues r for the reply callback. It reports false once the get has
// finalized.
func (pg *pendingGet) reply(r *replyData) bool {
	e := pg.e
	return pg.disp.submit(task{run: func() {
		obj := &replyObj{data: r}
		if r.sample != nil {
			obj.sample = e.insert(&sampleObj{data: r.sample})
		}
		owned := backend.OwnedReply{Ptr: e.insert(obj)}
		pg.cb.Call(pg.cb.Context, &owned)
		backend.Drop[backend.ReplyKind](e, &owned)
	}})
}

// queryData is shared by a query handed to a queryable and all its clones.
type queryData struct {
	pg         *pendingGet
	key        string
	params     string
	payload    []byte
	hasPayload bool
	encoding   string
	attachment []byte
	refs       atomic.Int32
}

func (qd *queryData) unref() {
	if qd.refs.Add(-1) == 0 {
		qd.pg.unref()
	}
}

type queryObj struct{ q *queryData }

func (o *queryObj) release(*Engine) { o.q.unref() }

type replyData struct {
	sample      *sampleData
	errPayload  []byte
	errEncoding string
}

type replyObj struct {
	data   *replyData
	sample backend.Ptr
}

func (o *replyObj) release(e *Engine) { e.Drop(o.sample) }

// DeclareQueryable implements backend.Engine.
func (e *Engine) DeclareQueryable(out *backend.OwnedQueryable, s backend.LoanedSession, k backend.LoanedKeyExpr, cb *backend.ClosureQuery, opts *backend.QueryableOptions) backend.Result {
	c := takeClosure(cb)
	if c.Call == nil || out == nil {
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
	q := &queryable{sess: sess, key: key, cb: c, disp: newDispatcher()}
	if opts != nil {
		q.complete = opts.Complete
	}
	if !sess.track(q) {
		q.undeclare(e)
		return backend.ErrClosed
	}
	e.netMu.Lock()
	if !q.gone {
		e.queryables[q] = struct{}{}
	}
	e.netMu.Unlock()
	out.Ptr = e.insert(q)
	return backend.OK
}

func (e *Engine) queryTargets(key string, target int8) []*queryable {
	e.netMu.RLock()
	defer e.netMu.RUnlock()
	var all []*queryable
	for q := range e.queryables {
		if !e.match.intersects(q.key, key) {
			continue
		}
		if target == backend.QueryTargetBestMatching && q.complete {
			return []*queryable{q}
		}
		all = append(all, q)
	}
	return all
}

func (e *Engine) timeout(ms uint64) time.Duration {
	if ms == 0 {
		return e.opts.queryTimeout
	}
	return time.Duration(ms) * time.Millisecond
}

// Get implements backend.Engine.
func (e *Engine) Get(s backend.LoanedSession, k backend.LoanedKeyExpr, parameters string, cb *backend.ClosureReply, opts *backend.GetOptions) backend.Result {
	c := takeClosure(cb)
	var (
		payload, attachment []byte
		hasPayload          bool
		encoding            string
		target              = backend.QueryTargetBestMatching
		timeoutMs           uint64
	)
	if opts != nil {
		payload, hasPayload = e.takeBytes(opts.Payload)
		attachment, _ = e.takeBytes(opts.Attachment)
		encoding = opts.Encoding
		target = opts.Target
		timeoutMs = opts.TimeoutMs
	}
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

	pg := newPendingGet(e, sess, c, e.timeout(timeoutMs))
	if !sess.track(pg) {
		pg.abort()
		return backend.ErrClosed
	}
	for _, q := range e.queryTargets(key, target) {
		qd := &queryData{
			pg:         pg,
			key:        key,
			params:     parameters,
			payload:    payload,
			hasPayload: hasPayload,
			encoding:   encoding,
			attachment: attachment,
		}
		qd.refs.Store(1)
		pg.ref()
		q.deliver(e, qd)
	}
	pg.unref()
	return backend.OK
}

// QueryKeyExpr implements backend.Engine.
func (e *Engine) QueryKeyExpr(q backend.LoanedQuery) string {
	if o, ok := lookupAs[*queryObj](e, q.Ptr); ok {
		return o.q.key
	}
	return ""
}

// QueryParameters implements backend.Engine.
func (e *Engine) QueryParameters(q backend.LoanedQuery) string {
	if o, ok := lookupAs[*queryObj](e, q.Ptr); ok {
		return o.q.params
	}
	return ""
}

// QueryPayload implements backend.Engine.
func (e *Engine) QueryPayload(q backend.LoanedQuery) ([]byte, bool) {
	if o, ok := lookupAs[*queryObj](e, q.Ptr); ok {
		return o.q.payload, o.q.hasPayload
	}
	return nil, false
}

// QueryReply implements backend.Engine.
func (e *Engine) QueryReply(q backend.LoanedQuery, k backend.LoanedKeyExpr, payload *backend.OwnedBytes, opts *backend.ReplyOptions) backend.Result {
	d := &sampleData{kind: backend.SampleKindPut}
	d.payload, _ = e.takeBytes(payload)
	if opts != nil {
		d.encoding = opts.Encoding
		d.attachment, d.hasAttach = e.takeBytes(opts.Attachment)
	}
	o, ok := lookupAs[*queryObj](e, q.Ptr)
	if !ok {
		return backend.ErrInvalid
	}
	key, ok := e.keyOf(k)
	if !ok || !e.match.intersects(key, o.q.key) {
		return backend.ErrInvalid
	}
	d.key = key
	d.timestamp = e.now()
	if !o.q.pg.reply(&replyData{sample: d}) {
		return backend.ErrClosed
	}
	return backend.OK
}

// QueryReplyErr implements backend.Engine.
func (e *Engine) QueryReplyErr(q backend.LoanedQuery, payload *backend.OwnedBytes, opts *backend.ReplyErrOptions) backend.Result {
	data, _ := e.takeBytes(payload)
	o, ok := lookupAs[*queryObj](e, q.Ptr)
	if !ok {
		return backend.ErrInvalid
	}
	r := &replyData{errPayload: data}
	if opts != nil {
		r.errEncoding = opts.Encoding
	}
	if !o.q.pg.reply(r) {
		return backend.ErrClosed
	}
	return backend.OK
}

// QueryClone implements backend.Engine.
func (e *Engine) QueryClone(out *backend.OwnedQuery, q backend.LoanedQuery) backend.Result {
	o, ok := lookupAs[*queryObj](e, q.Ptr)
	if !ok || out == nil {
		return backend.ErrInvalid
	}
	o.q.refs.Add(1)
	out.Ptr = e.insert(&queryObj{q: o.q})
	return backend.OK
}

// ReplyIsOK implements backend.Engine.
func (e *Engine) ReplyIsOK(r backend.LoanedReply) bool {
	o, ok := lookupAs[*replyObj](e, r.Ptr)
	return ok && o.data.sample != nil
}

// ReplyOK implements backend.Engine.
func (e *Engine) ReplyOK(r backend.LoanedReply) backend.LoanedSample {
	if o, ok := lookupAs[*replyObj](e, r.Ptr); ok {
		return backend.LoanedSample{Ptr: o.sample}
	}
	return backend.LoanedSample{}
}

// ReplyErrPayload implements backend.Engine.
func (e *Engine) ReplyErrPayload(r backend.LoanedReply) []byte {
	if o, ok := lookupAs[*replyObj](e, r.Ptr); ok {
		return o.data.errPayload
	}
	return nil
}

// ReplyErrEncoding implements backend.Engine.
func (e *Engine) ReplyErrEncoding(r backend.LoanedReply) string {
	if o, ok := lookupAs[*replyObj](e, r.Ptr); ok {
		return o.data.errEncoding
	}
	return ""
}
