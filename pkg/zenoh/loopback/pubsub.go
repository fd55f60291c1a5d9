package loopback

import (
	"sync"
	"sync/atomic"

	"github.com/hsiuhsiu/zenoh-go-exp/pkg/zenoh/internal/backend"
)

// sampleData is immutable once published and shared by every subscriber that
// receives it.
type sampleData struct {
	key        string
	payload    []byte
	kind       int8
	encoding   string
	attachment []byte
	hasAttach  bool
	timestamp  uint64
}

type sampleObj struct{ data *sampleData }

func (*sampleObj) release(*Engine) {}

type subscriber struct {
	sess   *session
	key    string
	lively bool
	cb     backend.ClosureSample
	disp   *dispatcher
	once   sync.Once
	gone   bool // guarded by Engine.netMu
}

func (s *subscriber) release(e *Engine) { s.undeclare(e) }

func (s *subscriber) undeclare(e *Engine) {
	s.once.Do(func() {
		e.netMu.Lock()
		s.gone = true
		delete(e.subscribers, s)
		delete(e.livelySubs, s)
		e.netMu.Unlock()

		s.sess.forget(s)
		s.disp.stop(func() { backend.DropClosure(&s.cb) })
	})
}

// deliver queues d for the subscriber callback. It never blocks.
func (s *subscriber) deliver(e *Engine, d *sampleData) {
	s.disp.submit(task{run: func() {
		p := e.insert(&sampleObj{data: d})
		s.cb.Call(s.cb.Context, backend.LoanedSample{Ptr: p})
		e.Drop(p)
	}})
}

type publisher struct {
	sess     *session
	key      string
	encoding string
	gone     atomic.Bool
}

func (p *publisher) release(e *Engine) { p.undeclare(e) }

func (p *publisher) undeclare(*Engine) {
	if p.gone.CompareAndSwap(false, true) {
		p.sess.forget(p)
	}
}

func (e *Engine) publish(d *sampleData) {
	d.timestamp = e.now()
	e.netMu.RLock()
	targets := make([]*subscriber, 0, len(e.subscribers))
	for sub := range e.subscribers {
		if e.match.intersects(sub.key, d.key) {
			targets = append(targets, sub)
		}
	}
	e.netMu.RUnlock()
	for _, sub := range targets {
		sub.deliver(e, d)
	}
}

// Put implements backend.Engine.
func (e *Engine) Put(s backend.LoanedSession, k backend.LoanedKeyExpr, payload *backend.OwnedBytes, opts *backend.PutOptions) backend.Result {
	d := &sampleData{kind: backend.SampleKindPut}
	d.payload, _ = e.takeBytes(payload)
	if opts != nil {
		d.encoding = opts.Encoding
		d.attachment, d.hasAttach = e.takeBytes(opts.Attachment)
	}
	if _, r := e.sessionOf(s); r.Failed() {
		return r
	}
	key, ok := e.keyOf(k)
	if !ok {
		return backend.ErrInvalid
	}
	d.key = key
	e.publish(d)
	return backend.OK
}

// Delete implements backend.Engine.
func (e *Engine) Delete(s backend.LoanedSession, k backend.LoanedKeyExpr, opts *backend.DeleteOptions) backend.Result {
	d := &sampleData{kind: backend.SampleKindDelete}
	if opts != nil {
		d.attachment, d.hasAttach = e.takeBytes(opts.Attachment)
	}
	if _, r := e.sessionOf(s); r.Failed() {
		return r
	}
	key, ok := e.keyOf(k)
	if !ok {
		return backend.ErrInvalid
	}
	d.key = key
	e.publish(d)
	return backend.OK
}

// DeclarePublisher implements backend.Engine.
func (e *Engine) DeclarePublisher(out *backend.OwnedPublisher, s backend.LoanedSession, k backend.LoanedKeyExpr, opts *backend.PublisherOptions) backend.Result {
	sess, r := e.sessionOf(s)
	if r.Failed() {
		return r
	}
	key, ok := e.keyOf(k)
	if !ok || out == nil {
		return backend.ErrInvalid
	}
	pub := &publisher{sess: sess, key: key}
	if opts != nil {
		pub.encoding = opts.Encoding
	}
	if !sess.track(pub) {
		return backend.ErrClosed
	}
	out.Ptr = e.insert(pub)
	return backend.OK
}

func (e *Engine) publisherOf(p backend.LoanedPublisher) (*publisher, backend.Result) {
	pub, ok := lookupAs[*publisher](e, p.Ptr)
	if !ok {
		return nil, backend.ErrInvalid
	}
	if pub.gone.Load() || pub.sess.isClosed() {
		return nil, backend.ErrClosed
	}
	return pub, backend.OK
}

// PublisherPut implements backend.Engine.
func (e *Engine) PublisherPut(p backend.LoanedPublisher, payload *backend.OwnedBytes, opts *backend.PutOptions) backend.Result {
	d := &sampleData{kind: backend.SampleKindPut}
	d.payload, _ = e.takeBytes(payload)
	if opts != nil {
		d.encoding = opts.Encoding
		d.attachment, d.hasAttach = e.takeBytes(opts.Attachment)
	}
	pub, r := e.publisherOf(p)
	if r.Failed() {
		return r
	}
	d.key = pub.key
	if d.encoding == "" {
		d.encoding = pub.encoding
	}
	e.publish(d)
	return backend.OK
}

// PublisherDelete implements backend.Engine.
func (e *Engine) PublisherDelete(p backend.LoanedPublisher, opts *backend.DeleteOptions) backend.Result {
	d := &sampleData{kind: backend.SampleKindDelete}
	if opts != nil {
		d.attachment, d.hasAttach = e.takeBytes(opts.Attachment)
	}
	pub, r := e.publisherOf(p)
	if r.Failed() {
		return r
	}
	d.key = pub.key
	e.publish(d)
	return backend.OK
}

// newSubscriber validates the declaration and returns a subscriber tracked by
// its session. On failure the closure has been dropped.
func (e *Engine) newSubscriber(s backend.LoanedSession, k backend.LoanedKeyExpr, cb *backend.ClosureSample, lively bool) (*subscriber, backend.Result) {
	c := takeClosure(cb)
	if c.Call == nil {
		backend.DropClosure(&c)
		return nil, backend.ErrInvalid
	}
	sess, r := e.sessionOf(s)
	if r.Failed() {
		backend.DropClosure(&c)
		return nil, r
	}
	key, ok := e.keyOf(k)
	if !ok {
		backend.DropClosure(&c)
		return nil, backend.ErrInvalid
	}
	sub := &subscriber{sess: sess, key: key, lively: lively, cb: c, disp: newDispatcher()}
	if !sess.track(sub) {
		sub.undeclare(e)
		return nil, backend.ErrClosed
	}
	return sub, backend.OK
}

// DeclareSubscriber implements backend.Engine.
func (e *Engine) DeclareSubscriber(out *backend.OwnedSubscriber, s backend.LoanedSession, k backend.LoanedKeyExpr, cb *backend.ClosureSample, _ *backend.SubscriberOptions) backend.Result {
	sub, r := e.newSubscriber(s, k, cb, false)
	if r.Failed() {
		return r
	}
	e.netMu.Lock()
	if !sub.gone {
		e.subscribers[sub] = struct{}{}
	}
	e.netMu.Unlock()
	if out != nil {
		out.Ptr = e.insert(sub)
	}
	return backend.OK
}

// SampleKeyExpr implements backend.Engine.
func (e *Engine) SampleKeyExpr(s backend.LoanedSample) string {
	if so, ok := lookupAs[*sampleObj](e, s.Ptr); ok {
		return so.data.key
	}
	return ""
}

// SamplePayload implements backend.Engine.
func (e *Engine) SamplePayload(s backend.LoanedSample) []byte {
	if so, ok := lookupAs[*sampleObj](e, s.Ptr); ok {
		return so.data.payload
	}
	return nil
}

// SampleKind implements backend.Engine.
func (e *Engine) SampleKind(s backend.LoanedSample) int8 {
	if so, ok := lookupAs[*sampleObj](e, s.Ptr); ok {
		return so.data.kind
	}
	return backend.SampleKindPut
}

// SampleEncoding implements backend.Engine.
func (e *Engine) SampleEncoding(s backend.LoanedSample) string {
	if so, ok := lookupAs[*sampleObj](e, s.Ptr); ok {
		return so.data.encoding
	}
	return ""
}

// SampleAttachment implements backend.Engine.
func (e *Engine) SampleAttachment(s backend.LoanedSample) ([]byte, bool) {
	if so, ok := lookupAs[*sampleObj](e, s.Ptr); ok {
		return so.data.attachment, so.data.hasAttach
	}
	return nil, false
}

// SampleTimestamp implements backend.Engine.
func (e *Engine) SampleTimestamp(s backend.LoanedSample) uint64 {
	if so, ok := lookupAs[*sampleObj](e, s.Ptr); ok {
		return so.data.timestamp
	}
	return 0
}

// SampleClone implements backend.Engine.
func (e *Engine) SampleClone(out *backend.OwnedSample, s backend.LoanedSample) backend.Result {
	so, ok := lookupAs[*sampleObj](e, s.Ptr)
	if !ok || out == nil {
		return backend.ErrInvalid
	}
	out.Ptr = e.insert(&sampleObj{data: so.data})
	return backend.OK
}
