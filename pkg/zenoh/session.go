package zenoh

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"

	retry "github.com/avast/retry-go/v5"
	"github.com/google/uuid"

	"github.com/hsiuhsiu/zenoh-go-exp/pkg/zenoh/internal/backend"
	"github.com/hsiuhsiu/zenoh-go-exp/pkg/zenoh/loopback"
)

// ID identifies a session.
type ID [16]byte

func (id ID) String() string { return uuid.UUID(id).String() }

// OpenOption configures Open.
type OpenOption func(*openOptions)

type openOptions struct {
	eng backend.Engine
}

// WithEngine selects the engine the session runs on. The default is the
// process-wide loopback engine.
func WithEngine(eng backend.Engine) OpenOption {
	return func(o *openOptions) {
		if eng != nil {
			o.eng = eng
		}
	}
}

// Session is an open session with the engine. It must be closed.
type Session struct {
	eng backend.Engine
	cfg Config
	id  ID

	mu sync.Mutex
	h  Owned[backend.OwnedSession]
}

// Open opens a session. While the engine reports itself unavailable Open
// retries up to cfg.OpenRetries times with exponential backoff, stopping
// early when ctx ends.
func Open(ctx context.Context, cfg Config, opts ...OpenOption) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := openOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.eng == nil {
		o.eng = loopback.Default()
	}
	eng := o.eng

	var raw backend.OwnedSession
	err := retry.New(
		retry.Context(ctx),
		retry.Attempts(cfg.OpenRetries+1),
		retry.Delay(cfg.OpenRetryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			var ee *EngineError
			return errors.As(err, &ee) && ee.IsUnavailable()
		}),
		retry.OnRetry(func(n uint, err error) {
			currentLogger().Warn(ctx, "open failed, retrying", "attempt", n+1, "error", err)
		}),
	).Do(func() error {
		ecfg, err := cfg.toEngine(eng)
		if err != nil {
			return retry.Unrecoverable(err)
		}
		c := ecfg.Take()
		return fromResult("open", eng.Open(&raw, &c))
	})
	if err != nil {
		return nil, err
	}

	s := &Session{eng: eng, cfg: cfg, h: FromRaw(&raw, dropper[backend.SessionKind](eng))}
	s.id = ID(eng.SessionZID(loaned(&s.h)))
	runtime.SetFinalizer(s, (*Session).Close)
	currentLogger().Debug(ctx, "session opened", "zid", s.id.String(), "mode", cfg.Mode, "engine", eng.Version())
	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() ID { return s.id }

// Config returns the configuration the session was opened with.
func (s *Session) Config() Config { return s.cfg }

// IsClosed reports whether the session was closed.
func (s *Session) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.h.IsValid() || s.eng.SessionIsClosed(loaned(&s.h))
}

// Close closes the session, undeclaring every entity declared on it. It waits
// for running callbacks to return and must not be called from one. Close is
// idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	h := s.h.Move()
	s.mu.Unlock()
	if !h.IsValid() {
		return nil
	}
	runtime.SetFinalizer(s, nil)
	h.Drop()
	return nil
}

func (s *Session) loan() (backend.LoanedSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.h.IsValid() {
		return backend.LoanedSession{}, ErrSessionClosed
	}
	return loaned(&s.h), nil
}

// result converts r, reporting ErrSessionClosed when the session went away
// during the call.
func (s *Session) result(op string, r backend.Result) error {
	if !r.Failed() {
		return nil
	}
	if _, err := s.loan(); err != nil {
		return fmt.Errorf("zenoh: %s: %w", op, ErrSessionClosed)
	}
	return fromResult(op, r)
}

// PutOptions travel with Put.
type PutOptions struct {
	Encoding   string
	Attachment []byte
}

// DeleteOptions travel with Delete.
type DeleteOptions struct {
	Attachment []byte
}

func putOptions(eng backend.Engine, opts *PutOptions) (*backend.PutOptions, error) {
	if opts == nil {
		return nil, nil
	}
	att, err := optBytes(eng, opts.Attachment)
	if err != nil {
		return nil, err
	}
	return &backend.PutOptions{Encoding: opts.Encoding, Attachment: att}, nil
}

func deleteOptions(eng backend.Engine, opts *DeleteOptions) (*backend.DeleteOptions, error) {
	if opts == nil {
		return nil, nil
	}
	att, err := optBytes(eng, opts.Attachment)
	if err != nil {
		return nil, err
	}
	return &backend.DeleteOptions{Attachment: att}, nil
}

// Put publishes payload on key.
func (s *Session) Put(key KeyExpr, payload []byte, opts *PutOptions) error {
	sl, err := s.loan()
	if err != nil {
		return err
	}
	ko, err := declareKeyExpr(s.eng, key)
	if err != nil {
		return err
	}
	defer ko.Drop()
	body, err := copyBytes(s.eng, payload)
	if err != nil {
		return err
	}
	popts, err := putOptions(s.eng, opts)
	if err != nil {
		backend.Drop(s.eng, &body)
		return err
	}
	return s.result("put", s.eng.Put(sl, loaned(&ko), &body, popts))
}

// Delete publishes a deletion of key.
func (s *Session) Delete(key KeyExpr, opts *DeleteOptions) error {
	sl, err := s.loan()
	if err != nil {
		return err
	}
	ko, err := declareKeyExpr(s.eng, key)
	if err != nil {
		return err
	}
	defer ko.Drop()
	dopts, err := deleteOptions(s.eng, opts)
	if err != nil {
		return err
	}
	return s.result("delete", s.eng.Delete(sl, loaned(&ko), dopts))
}

func sampleConv(eng backend.Engine) func(backend.LoanedSample) SampleView {
	return func(l backend.LoanedSample) SampleView { return newSampleView(eng, l) }
}

func queryConv(eng backend.Engine) func(backend.LoanedQuery) QueryView {
	return func(l backend.LoanedQuery) QueryView { return newQueryView(eng, l) }
}

// DeclareSubscriber registers cb for samples published on keys intersecting
// key. cb is consumed, even on error.
func (s *Session) DeclareSubscriber(key KeyExpr, cb Closure[SampleView]) (*Subscriber, error) {
	out, err := s.declareSubscriber(key, cb, false)
	if err != nil {
		return nil, err
	}
	return &Subscriber{key: key, h: FromRaw(&out, dropper[backend.SubscriberKind](s.eng))}, nil
}

// DeclareBackgroundSubscriber is DeclareSubscriber for a subscriber that lives
// until the session closes.
func (s *Session) DeclareBackgroundSubscriber(key KeyExpr, cb Closure[SampleView]) error {
	_, err := s.declareSubscriber(key, cb, true)
	return err
}

func (s *Session) declareSubscriber(key KeyExpr, cb Closure[SampleView], background bool) (backend.OwnedSubscriber, error) {
	var out backend.OwnedSubscriber
	sl, err := s.loan()
	if err != nil {
		cb.Drop()
		return out, err
	}
	ko, err := declareKeyExpr(s.eng, key)
	if err != nil {
		cb.Drop()
		return out, err
	}
	defer ko.Drop()
	raw, err := bridge(cb.ctx, "sample", sampleConv(s.eng), nil)
	if err != nil {
		return out, err
	}
	dst := &out
	if background {
		dst = nil
	}
	if r := s.eng.DeclareSubscriber(dst, sl, loaned(&ko), &raw, nil); r.Failed() {
		return out, s.result("declare subscriber", r)
	}
	return out, nil
}

// Subscriber is a declared subscriber.
type Subscriber struct {
	key KeyExpr
	mu  sync.Mutex
	h   Owned[backend.OwnedSubscriber]
}

// KeyExpr returns the key expression the subscriber was declared on.
func (s *Subscriber) KeyExpr() KeyExpr { return s.key }

// Undeclare stops the subscriber. It waits for a running callback to return
// and must not be called from one. The closure is released before Undeclare
// returns. Undeclare is idempotent.
func (s *Subscriber) Undeclare() error {
	s.mu.Lock()
	h := s.h.Move()
	s.mu.Unlock()
	h.Drop()
	return nil
}

// PublisherOptions travel with DeclarePublisher.
type PublisherOptions struct {
	// Encoding applies to puts that do not set their own.
	Encoding string
}

// DeclarePublisher declares a publisher on key.
func (s *Session) DeclarePublisher(key KeyExpr, opts *PublisherOptions) (*Publisher, error) {
	sl, err := s.loan()
	if err != nil {
		return nil, err
	}
	ko, err := declareKeyExpr(s.eng, key)
	if err != nil {
		return nil, err
	}
	defer ko.Drop()
	var popts *backend.PublisherOptions
	if opts != nil {
		popts = &backend.PublisherOptions{Encoding: opts.Encoding}
	}
	var out backend.OwnedPublisher
	if r := s.eng.DeclarePublisher(&out, sl, loaned(&ko), popts); r.Failed() {
		return nil, s.result("declare publisher", r)
	}
	return &Publisher{eng: s.eng, key: key, h: FromRaw(&out, dropper[backend.PublisherKind](s.eng))}, nil
}

// Publisher is a declared publisher.
type Publisher struct {
	eng backend.Engine
	key KeyExpr
	mu  sync.Mutex
	h   Owned[backend.OwnedPublisher]
}

// KeyExpr returns the key expression the publisher was declared on.
func (p *Publisher) KeyExpr() KeyExpr { return p.key }

func (p *Publisher) loan() (backend.LoanedPublisher, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.h.IsValid() {
		return backend.LoanedPublisher{}, ErrUndeclared
	}
	return loaned(&p.h), nil
}

// Put publishes payload.
func (p *Publisher) Put(payload []byte, opts *PutOptions) error {
	pl, err := p.loan()
	if err != nil {
		return err
	}
	body, err := copyBytes(p.eng, payload)
	if err != nil {
		return err
	}
	popts, err := putOptions(p.eng, opts)
	if err != nil {
		backend.Drop(p.eng, &body)
		return err
	}
	return fromResult("publisher put", p.eng.PublisherPut(pl, &body, popts))
}

// Delete publishes a deletion.
func (p *Publisher) Delete(opts *DeleteOptions) error {
	pl, err := p.loan()
	if err != nil {
		return err
	}
	dopts, err := deleteOptions(p.eng, opts)
	if err != nil {
		return err
	}
	return fromResult("publisher delete", p.eng.PublisherDelete(pl, dopts))
}

// Undeclare releases the publisher. It is idempotent.
func (p *Publisher) Undeclare() error {
	p.mu.Lock()
	h := p.h.Move()
	p.mu.Unlock()
	h.Drop()
	return nil
}
