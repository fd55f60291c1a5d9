package loopback

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/hsiuhsiu/zenoh-go-exp/pkg/zenoh/internal/backend"
)

// Version is reported by Engine.Version.
const Version = "loopback/1.0.0"

const (
	defaultQueryTimeout = 10 * time.Second
	defaultMatchCache   = 1024
)

type options struct {
	queryTimeout time.Duration
	openFailures int32
	matchCache   int
}

// Option configures an Engine.
type Option func(*options)

// WithQueryTimeout sets the timeout applied to gets that do not carry one.
func WithQueryTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.queryTimeout = d
		}
	}
}

// WithOpenFailures makes the first n Open calls fail with an unavailable
// result, which lets callers exercise their retry paths.
func WithOpenFailures(n int) Option {
	return func(o *options) {
		o.openFailures = int32(n)
	}
}

// WithMatchCacheSize bounds the key-expression intersection cache. Zero
// disables it.
func WithMatchCacheSize(n int) Option {
	return func(o *options) {
		o.matchCache = n
	}
}

// object is anything addressable through a backend.Ptr.
type object interface {
	release(e *Engine)
}

// entity is a declaration that its session tears down on close.
type entity interface {
	undeclare(e *Engine)
}

// Engine is an in-process implementation of backend.Engine.
type Engine struct {
	opts    options
	match   *matcher
	clock   atomic.Uint64
	failing atomic.Int32

	objMu   sync.Mutex
	nextPtr backend.Ptr
	objects map[backend.Ptr]object

	netMu       sync.RWMutex
	subscribers map[*subscriber]struct{}
	queryables  map[*queryable]struct{}
	tokens      map[*token]struct{}
	livelySubs  map[*subscriber]struct{}
}

var _ backend.Engine = (*Engine)(nil)

// New returns an empty engine.
func New(opts ...Option) *Engine {
	o := options{queryTimeout: defaultQueryTimeout, matchCache: defaultMatchCache}
	for _, opt := range opts {
		opt(&o)
	}
	e := &Engine{
		opts:        o,
		match:       newMatcher(o.matchCache),
		nextPtr:     1,
		objects:     make(map[backend.Ptr]object),
		subscribers: make(map[*subscriber]struct{}),
		queryables:  make(map[*queryable]struct{}),
		tokens:      make(map[*token]struct{}),
		livelySubs:  make(map[*subscriber]struct{}),
	}
	e.failing.Store(o.openFailures)
	return e
}

var (
	defaultOnce   sync.Once
	defaultEngine *Engine
)

// Default returns the process-wide engine.
func Default() *Engine {
	defaultOnce.Do(func() { defaultEngine = New() })
	return defaultEngine
}

// Version implements backend.Engine.
func (e *Engine) Version() string { return Version }

// Objects returns the number of live objects. Tests use it to detect leaks.
func (e *Engine) Objects() int {
	e.objMu.Lock()
	defer e.objMu.Unlock()
	return len(e.objects)
}

func (e *Engine) insert(o object) backend.Ptr {
	e.objMu.Lock()
	defer e.objMu.Unlock()
	p := e.nextPtr
	e.nextPtr++
	e.objects[p] = o
	return p
}

func (e *Engine) lookup(p backend.Ptr) (object, bool) {
	if p == 0 {
		return nil, false
	}
	e.objMu.Lock()
	defer e.objMu.Unlock()
	o, ok := e.objects[p]
	return o, ok
}

func (e *Engine) remove(p backend.Ptr) (object, bool) {
	if p == 0 {
		return nil, false
	}
	e.objMu.Lock()
	defer e.objMu.Unlock()
	o, ok := e.objects[p]
	if ok {
		delete(e.objects, p)
	}
	return o, ok
}

func lookupAs[T object](e *Engine, p backend.Ptr) (T, bool) {
	var zero T
	o, ok := e.lookup(p)
	if !ok {
		return zero, false
	}
	t, ok := o.(T)
	return t, ok
}

// Drop implements backend.Engine.
func (e *Engine) Drop(p backend.Ptr) {
	if o, ok := e.remove(p); ok {
		o.release(e)
	}
}

func (e *Engine) now() uint64 {
	now := uint64(time.Now().UnixNano())
	for {
		old := e.clock.Load()
		next := now
		if next <= old {
			next = old + 1
		}
		if e.clock.CompareAndSwap(old, next) {
			return next
		}
	}
}

type bytesObj struct{ data []byte }

func (*bytesObj) release(*Engine) {}

type keyExprObj struct{ expr string }

func (*keyExprObj) release(*Engine) {}

type configObj struct {
	mu      sync.Mutex
	entries map[string]string
}

func (*configObj) release(*Engine) {}

// takeBytes consumes b and returns its content.
func (e *Engine) takeBytes(b *backend.OwnedBytes) ([]byte, bool) {
	if b == nil || b.Ptr == 0 {
		return nil, false
	}
	p := b.Ptr
	b.Ptr = 0
	o, ok := e.remove(p)
	if !ok {
		return nil, false
	}
	bo, ok := o.(*bytesObj)
	if !ok {
		o.release(e)
		return nil, false
	}
	return bo.data, true
}

func (e *Engine) keyOf(k backend.LoanedKeyExpr) (string, bool) {
	ko, ok := lookupAs[*keyExprObj](e, k.Ptr)
	if !ok {
		return "", false
	}
	return ko.expr, true
}

// takeClosure moves the closure out of cb.
func takeClosure[P any](cb *backend.Closure[P]) backend.Closure[P] {
	if cb == nil {
		return backend.Closure[P]{}
	}
	c := *cb
	*cb = backend.Closure[P]{}
	return c
}

// ConfigDefault implements backend.Engine.
func (e *Engine) ConfigDefault(out *backend.OwnedConfig) backend.Result {
	if out == nil {
		return backend.ErrInvalid
	}
	out.Ptr = e.insert(&configObj{entries: map[string]string{"mode": "peer"}})
	return backend.OK
}

// ConfigInsert implements backend.Engine.
func (e *Engine) ConfigInsert(cfg backend.LoanedConfig, key, value string) backend.Result {
	c, ok := lookupAs[*configObj](e, cfg.Ptr)
	if !ok || key == "" {
		return backend.ErrInvalid
	}
	c.mu.Lock()
	c.entries[key] = value
	c.mu.Unlock()
	return backend.OK
}

// Open implements backend.Engine.
func (e *Engine) Open(out *backend.OwnedSession, cfg *backend.OwnedConfig) backend.Result {
	var entries map[string]string
	if cfg != nil && cfg.Ptr != 0 {
		p := cfg.Ptr
		cfg.Ptr = 0
		if o, ok := e.remove(p); ok {
			if c, ok := o.(*configObj); ok {
				entries = c.entries
			}
		}
	}
	if out == nil || entries == nil {
		return backend.ErrInvalid
	}
	switch entries["mode"] {
	case "peer", "client":
	default:
		return backend.ErrInvalid
	}
	if e.failing.Add(-1) >= 0 {
		return backend.ErrUnavailable
	}
	s := &session{
		id:       uuid.New(),
		mode:     entries["mode"],
		entities: make(map[entity]struct{}),
	}
	if eps := entries["connect/endpoints"]; eps != "" {
		s.endpoints = strings.Split(eps, ",")
	}
	out.Ptr = e.insert(s)
	return backend.OK
}

// SessionZID implements backend.Engine.
func (e *Engine) SessionZID(s backend.LoanedSession) [16]byte {
	sess, ok := lookupAs[*session](e, s.Ptr)
	if !ok {
		return [16]byte{}
	}
	return sess.id
}

// SessionIsClosed implements backend.Engine.
func (e *Engine) SessionIsClosed(s backend.LoanedSession) bool {
	sess, ok := lookupAs[*session](e, s.Ptr)
	return !ok || sess.isClosed()
}

// KeyExprFromString implements backend.Engine.
func (e *Engine) KeyExprFromString(out *backend.OwnedKeyExpr, expr string) backend.Result {
	if out == nil {
		return backend.ErrInvalid
	}
	if err := validateKeyExpr(expr); err != nil {
		return backend.ErrInvalid
	}
	out.Ptr = e.insert(&keyExprObj{expr: expr})
	return backend.OK
}

// KeyExprAsString implements backend.Engine.
func (e *Engine) KeyExprAsString(k backend.LoanedKeyExpr) string {
	expr, _ := e.keyOf(k)
	return expr
}

// BytesCopyFromBuf implements backend.Engine.
func (e *Engine) BytesCopyFromBuf(out *backend.OwnedBytes, data []byte) backend.Result {
	if out == nil {
		return backend.ErrInvalid
	}
	out.Ptr = e.insert(&bytesObj{data: append([]byte(nil), data...)})
	return backend.OK
}

type session struct {
	id        uuid.UUID
	mode      string
	endpoints []string

	mu       sync.Mutex
	closed   bool
	entities map[entity]struct{}
}

func (s *session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// track registers ent for teardown. It reports false if the session is
// already closed.
func (s *session) track(ent entity) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.entities[ent] = struct{}{}
	return true
}

func (s *session) forget(ent entity) {
	s.mu.Lock()
	delete(s.entities, ent)
	s.mu.Unlock()
}

func (s *session) release(e *Engine) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	ents := make([]entity, 0, len(s.entities))
	for ent := range s.entities {
		ents = append(ents, ent)
	}
	s.entities = map[entity]struct{}{}
	s.mu.Unlock()

	for _, ent := range ents {
		ent.undeclare(e)
	}
}

func (e *Engine) sessionOf(s backend.LoanedSession) (*session, backend.Result) {
	sess, ok := lookupAs[*session](e, s.Ptr)
	if !ok {
		return nil, backend.ErrInvalid
	}
	if sess.isClosed() {
		return nil, backend.ErrClosed
	}
	return sess, backend.OK
}
