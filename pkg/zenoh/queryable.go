package zenoh

import (
	"sync"

	"github.com/hsiuhsiu/zenoh-go-exp/pkg/zenoh/internal/backend"
)

// QueryableOptions travel with DeclareQueryable.
type QueryableOptions struct {
	// Complete declares that the queryable answers for every key matching
	// its key expression. Gets targeting the best match prefer complete
	// queryables.
	Complete bool
}

// DeclareQueryable registers cb for gets whose selector intersects key. cb
// is consumed, even on error.
func (s *Session) DeclareQueryable(key KeyExpr, cb Closure[QueryView], opts *QueryableOptions) (*Queryable, error) {
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
	raw, err := bridge(cb.ctx, "query", queryConv(s.eng), nil)
	if err != nil {
		return nil, err
	}
	var qopts *backend.QueryableOptions
	if opts != nil {
		qopts = &backend.QueryableOptions{Complete: opts.Complete}
	}
	var out backend.OwnedQueryable
	if r := s.eng.DeclareQueryable(&out, sl, loaned(&ko), &raw, qopts); r.Failed() {
		return nil, s.result("declare queryable", r)
	}
	return &Queryable{key: key, h: FromRaw(&out, dropper[backend.QueryableKind](s.eng))}, nil
}

// Queryable is a declared queryable.
type Queryable struct {
	key KeyExpr
	mu  sync.Mutex
	h   Owned[backend.OwnedQueryable]
}

// KeyExpr returns the key expression the queryable was declared on.
func (q *Queryable) KeyExpr() KeyExpr { return q.key }

// Undeclare stops the queryable. It waits for a running callback to return
// and must not be called from one. Queries still held by the application
// stay answerable. Undeclare is idempotent.
func (q *Queryable) Undeclare() error {
	q.mu.Lock()
	h := q.h.Move()
	q.mu.Unlock()
	h.Drop()
	return nil
}
