package zenoh

import (
	"errors"
	"sync"
	"time"

	"github.com/hsiuhsiu/zenoh-go-exp/pkg/zenoh/internal/backend"
)

// Liveliness declares and observes liveliness tokens: keys that stay alive
// as long as the entity that declared them.
type Liveliness struct {
	s *Session
}

// Liveliness returns the session's liveliness interface.
func (s *Session) Liveliness() *Liveliness { return &Liveliness{s: s} }

// DeclareToken declares a token on key. Liveliness subscribers see a PUT
// sample now and a DELETE sample when the token is undeclared.
func (l *Liveliness) DeclareToken(key KeyExpr) (*LivelinessToken, error) {
	s := l.s
	sl, err := s.loan()
	if err != nil {
		return nil, err
	}
	ko, err := declareKeyExpr(s.eng, key)
	if err != nil {
		return nil, err
	}
	defer ko.Drop()
	var out backend.OwnedToken
	if r := s.eng.LivelinessDeclareToken(&out, sl, loaned(&ko)); r.Failed() {
		return nil, s.result("declare token", r)
	}
	return &LivelinessToken{key: key, h: FromRaw(&out, dropper[backend.TokenKind](s.eng))}, nil
}

// LivelinessToken is a declared liveliness token.
type LivelinessToken struct {
	key KeyExpr
	mu  sync.Mutex
	h   Owned[backend.OwnedToken]
}

// KeyExpr returns the token's key expression.
func (t *LivelinessToken) KeyExpr() KeyExpr { return t.key }

// Undeclare withdraws the token. It is idempotent.
func (t *LivelinessToken) Undeclare() error {
	t.mu.Lock()
	h := t.h.Move()
	t.mu.Unlock()
	h.Drop()
	return nil
}

// LivelinessSubscriberOptions travel with Liveliness.DeclareSubscriber.
type LivelinessSubscriberOptions struct {
	// History delivers a PUT for every token already alive.
	History bool
}

// DeclareSubscriber registers cb for liveliness changes of tokens
// intersecting key. cb is consumed, even on error.
func (l *Liveliness) DeclareSubscriber(key KeyExpr, cb Closure[SampleView], opts *LivelinessSubscriberOptions) (*Subscriber, error) {
	s := l.s
	sl, err := s.loan()
	if err != nil {
		cb.Drop()
		return nil, err
	}
	ko, err := declareKeyExpr(s.eng, key)
	if err != nil {
		cb.Drop()
		return nil, err
	}
	defer ko.Drop()
	raw, err := bridge(cb.ctx, "liveliness", sampleConv(s.eng), nil)
	if err != nil {
		return nil, err
	}
	var lopts *backend.LivelinessSubscriberOptions
	if opts != nil {
		lopts = &backend.LivelinessSubscriberOptions{History: opts.History}
	}
	var out backend.OwnedSubscriber
	if r := s.eng.LivelinessDeclareSubscriber(&out, sl, loaned(&ko), &raw, lopts); r.Failed() {
		return nil, s.result("declare liveliness subscriber", r)
	}
	return &Subscriber{key: key, h: FromRaw(&out, dropper[backend.SubscriberKind](s.eng))}, nil
}

// LivelinessGetOptions travel with Liveliness.Get.
type LivelinessGetOptions struct {
	// Timeout overrides Config.QueryTimeout when positive.
	Timeout time.Duration
	Token   *CancellationToken
}

// Get delivers one reply per alive token intersecting key, then releases cb.
// Cancellation follows Session.Get.
func (l *Liveliness) Get(key KeyExpr, cb MoveClosure[*Reply], opts *LivelinessGetOptions) error {
	s := l.s
	if opts == nil {
		opts = &LivelinessGetOptions{}
	}
	sl, err := s.loan()
	if err != nil {
		cb.Drop()
		return err
	}
	ko, err := declareKeyExpr(s.eng, key)
	if err != nil {
		cb.Drop()
		return err
	}
	defer ko.Drop()
	raw, err := bridge(cb.ctx, "reply", takeReply(s.eng), opts.Token)
	if errors.Is(err, errCancelled) {
		return nil
	}
	if err != nil {
		return err
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = s.cfg.QueryTimeout
	}
	return s.result("liveliness get", s.eng.LivelinessGet(sl, loaned(&ko), &raw, &backend.LivelinessGetOptions{TimeoutMs: timeoutMs(timeout)}))
}
