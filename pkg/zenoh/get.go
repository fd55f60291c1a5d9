package zenoh

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/hsiuhsiu/zenoh-go-exp/pkg/zenoh/internal/backend"
)

// QueryTarget selects which queryables a get reaches.
type QueryTarget int8

const (
	// QueryTargetBestMatching reaches one complete queryable if there is
	// one, otherwise every matching queryable.
	QueryTargetBestMatching QueryTarget = QueryTarget(backend.QueryTargetBestMatching)
	// QueryTargetAll reaches every matching queryable.
	QueryTargetAll QueryTarget = QueryTarget(backend.QueryTargetAll)
)

// GetOptions travel with Get.
type GetOptions struct {
	Payload    []byte
	Encoding   string
	Attachment []byte
	Target     QueryTarget
	// Timeout overrides Config.QueryTimeout when positive.
	Timeout time.Duration
	// Token, when set, cancels the get. See CancellationToken.
	Token *CancellationToken
}

func timeoutMs(d time.Duration) uint64 {
	if d <= 0 {
		return 0
	}
	ms := d.Milliseconds()
	if ms == 0 {
		ms = 1
	}
	return uint64(ms)
}

// Get queries the queryables matching key with the given parameters. Replies
// are delivered to cb, which is released once the get completes: every
// reached queryable has dropped its query, the timeout expired or the token
// was cancelled. cb is consumed, even on error.
//
// If opts.Token is already cancelled the get is not issued, cb is released
// and Get returns nil.
func (s *Session) Get(key KeyExpr, parameters string, cb MoveClosure[*Reply], opts *GetOptions) error {
	if opts == nil {
		opts = &GetOptions{}
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
	payload, err := optBytes(s.eng, opts.Payload)
	if err != nil {
		backend.DropClosure(&raw)
		return err
	}
	attachment, err := optBytes(s.eng, opts.Attachment)
	if err != nil {
		backend.Drop(s.eng, payload)
		backend.DropClosure(&raw)
		return err
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = s.cfg.QueryTimeout
	}
	gopts := &backend.GetOptions{
		Payload:    payload,
		Encoding:   opts.Encoding,
		Attachment: attachment,
		Target:     int8(opts.Target),
		TimeoutMs:  timeoutMs(timeout),
	}
	return s.result("get", s.eng.Get(sl, loaned(&ko), parameters, &raw, gopts))
}

// QuerierOptions travel with DeclareQuerier.
type QuerierOptions struct {
	Target  QueryTarget
	Timeout time.Duration
}

// QuerierGetOptions travel with Querier.Get.
type QuerierGetOptions struct {
	Payload    []byte
	Encoding   string
	Attachment []byte
	Token      *CancellationToken
}

// DeclareQuerier returns a querier issuing gets on key with fixed target and
// timeout.
func (s *Session) DeclareQuerier(key KeyExpr, opts *QuerierOptions) (*Querier, error) {
	if _, err := s.loan(); err != nil {
		return nil, err
	}
	ko, err := declareKeyExpr(s.eng, key)
	if err != nil {
		return nil, err
	}
	ko.Drop()
	q := &Querier{sess: s, key: key}
	if opts != nil {
		q.opts = *opts
	}
	return q, nil
}

// Querier issues gets on a fixed key expression.
type Querier struct {
	sess       *Session
	key        KeyExpr
	opts       QuerierOptions
	undeclared atomic.Bool
}

// KeyExpr returns the key expression the querier was declared on.
func (q *Querier) KeyExpr() KeyExpr { return q.key }

// Get is Session.Get on the querier's key expression.
func (q *Querier) Get(parameters string, cb MoveClosure[*Reply], opts *QuerierGetOptions) error {
	if q.undeclared.Load() {
		cb.Drop()
		return ErrUndeclared
	}
	gopts := &GetOptions{Target: q.opts.Target, Timeout: q.opts.Timeout}
	if opts != nil {
		gopts.Payload = opts.Payload
		gopts.Encoding = opts.Encoding
		gopts.Attachment = opts.Attachment
		gopts.Token = opts.Token
	}
	return q.sess.Get(q.key, parameters, cb, gopts)
}

// Undeclare stops the querier. Gets already issued run to completion.
func (q *Querier) Undeclare() error {
	q.undeclared.Store(true)
	return nil
}
