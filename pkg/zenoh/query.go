package zenoh

import (
	"github.com/hsiuhsiu/zenoh-go-exp/pkg/zenoh/internal/backend"
)

// ReplyOptions travel with Query.Reply.
type ReplyOptions struct {
	Encoding   string
	Attachment []byte
}

// ReplyErrOptions travel with Query.ReplyErr.
type ReplyErrOptions struct {
	Encoding string
}

// QueryView borrows a query delivered to a queryable callback. It is valid
// for the duration of the call; Clone it to answer later.
type QueryView struct {
	eng backend.Engine
	v   View[backend.LoanedQuery]
}

func newQueryView(eng backend.Engine, q backend.LoanedQuery) QueryView {
	return QueryView{eng: eng, v: NewView(q)}
}

// KeyExpr returns the selector's key expression.
func (q QueryView) KeyExpr() KeyExpr {
	return KeyExpr{expr: q.eng.QueryKeyExpr(q.v.Raw())}
}

// Parameters returns the selector's parameters.
func (q QueryView) Parameters() string {
	return q.eng.QueryParameters(q.v.Raw())
}

// Payload borrows the payload the get carried, if any.
func (q QueryView) Payload() (BytesView, bool) {
	b, ok := q.eng.QueryPayload(q.v.Raw())
	return BytesView{b: b}, ok
}

// Reply sends a successful reply. key must intersect the query's key
// expression.
func (q QueryView) Reply(key KeyExpr, payload []byte, opts *ReplyOptions) error {
	ko, err := declareKeyExpr(q.eng, key)
	if err != nil {
		return err
	}
	defer ko.Drop()
	body, err := copyBytes(q.eng, payload)
	if err != nil {
		return err
	}
	var ropts *backend.ReplyOptions
	if opts != nil {
		att, err := optBytes(q.eng, opts.Attachment)
		if err != nil {
			backend.Drop(q.eng, &body)
			return err
		}
		ropts = &backend.ReplyOptions{Encoding: opts.Encoding, Attachment: att}
	}
	return fromResult("reply", q.eng.QueryReply(q.v.Raw(), loaned(&ko), &body, ropts))
}

// ReplyErr sends an error reply.
func (q QueryView) ReplyErr(payload []byte, opts *ReplyErrOptions) error {
	body, err := copyBytes(q.eng, payload)
	if err != nil {
		return err
	}
	var ropts *backend.ReplyErrOptions
	if opts != nil {
		ropts = &backend.ReplyErrOptions{Encoding: opts.Encoding}
	}
	return fromResult("reply error", q.eng.QueryReplyErr(q.v.Raw(), &body, ropts))
}

// Clone returns an owned query. It panics if the view is no longer valid.
func (q QueryView) Clone() *Query {
	var raw backend.OwnedQuery
	if r := q.eng.QueryClone(&raw, q.v.Raw()); r.Failed() {
		panic(fromResult("clone query", r))
	}
	return &Query{eng: q.eng, h: FromRaw(&raw, dropper[backend.QueryKind](q.eng))}
}

// Query is an owned query. The get it belongs to stays open until every
// query handed out for it has been dropped, so it must be dropped once
// answered.
type Query struct {
	eng backend.Engine
	h   Owned[backend.OwnedQuery]
}

// View borrows the query. It panics once the query is dropped.
func (q *Query) View() QueryView {
	return newQueryView(q.eng, loaned(&q.h))
}

// KeyExpr is shorthand for View().KeyExpr().
func (q *Query) KeyExpr() KeyExpr { return q.View().KeyExpr() }

// Parameters is shorthand for View().Parameters().
func (q *Query) Parameters() string { return q.View().Parameters() }

// Reply is shorthand for View().Reply.
func (q *Query) Reply(key KeyExpr, payload []byte, opts *ReplyOptions) error {
	if !q.IsValid() {
		return ErrUndeclared
	}
	return q.View().Reply(key, payload, opts)
}

// ReplyErr is shorthand for View().ReplyErr.
func (q *Query) ReplyErr(payload []byte, opts *ReplyErrOptions) error {
	if !q.IsValid() {
		return ErrUndeclared
	}
	return q.View().ReplyErr(payload, opts)
}

// IsValid reports whether the query has not been dropped.
func (q *Query) IsValid() bool { return q != nil && q.h.IsValid() }

// Drop releases the query. It is idempotent.
func (q *Query) Drop() {
	if q != nil {
		q.h.Drop()
	}
}
