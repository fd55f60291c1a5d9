package backend

// Engine is the foreign function table of a messaging engine.
//
// Ownership: parameters of type *Owned[K] and *Closure[P] are consumed and
// zeroed on return, including on failure. Out parameters are only written on
// success. Byte slices and strings returned by accessors borrow engine memory
// and are valid while the object they were read from is alive.
//
// Concurrency: every function may be called from any goroutine. Closures are
// invoked on goroutines owned by the engine. Drop of a subscriber, queryable or
// session waits for in-flight callbacks of that entity to return, so it must
// not be called from inside one of them.
type Engine interface {
	Version() string

	ConfigDefault(out *OwnedConfig) Result
	ConfigInsert(cfg LoanedConfig, key, value string) Result

	Open(out *OwnedSession, cfg *OwnedConfig) Result
	SessionZID(s LoanedSession) [16]byte
	SessionIsClosed(s LoanedSession) bool

	KeyExprFromString(out *OwnedKeyExpr, expr string) Result
	KeyExprAsString(k LoanedKeyExpr) string

	BytesCopyFromBuf(out *OwnedBytes, data []byte) Result

	Put(s LoanedSession, k LoanedKeyExpr, payload *OwnedBytes, opts *PutOptions) Result
	Delete(s LoanedSession, k LoanedKeyExpr, opts *DeleteOptions) Result

	DeclarePublisher(out *OwnedPublisher, s LoanedSession, k LoanedKeyExpr, opts *PublisherOptions) Result
	PublisherPut(p LoanedPublisher, payload *OwnedBytes, opts *PutOptions) Result
	PublisherDelete(p LoanedPublisher, opts *DeleteOptions) Result

	// DeclareSubscriber registers cb for samples matching k. A nil out
	// declares a background subscriber that lives as long as the session.
	DeclareSubscriber(out *OwnedSubscriber, s LoanedSession, k LoanedKeyExpr, cb *ClosureSample, opts *SubscriberOptions) Result
	DeclareQueryable(out *OwnedQueryable, s LoanedSession, k LoanedKeyExpr, cb *ClosureQuery, opts *QueryableOptions) Result
	Get(s LoanedSession, k LoanedKeyExpr, parameters string, cb *ClosureReply, opts *GetOptions) Result

	SampleKeyExpr(s LoanedSample) string
	SamplePayload(s LoanedSample) []byte
	SampleKind(s LoanedSample) int8
	SampleEncoding(s LoanedSample) string
	SampleAttachment(s LoanedSample) ([]byte, bool)
	SampleTimestamp(s LoanedSample) uint64
	SampleClone(out *OwnedSample, s LoanedSample) Result

	QueryKeyExpr(q LoanedQuery) string
	QueryParameters(q LoanedQuery) string
	QueryPayload(q LoanedQuery) ([]byte, bool)
	QueryReply(q LoanedQuery, k LoanedKeyExpr, payload *OwnedBytes, opts *ReplyOptions) Result
	QueryReplyErr(q LoanedQuery, payload *OwnedBytes, opts *ReplyErrOptions) Result
	QueryClone(out *OwnedQuery, q LoanedQuery) Result

	ReplyIsOK(r LoanedReply) bool
	ReplyOK(r LoanedReply) LoanedSample
	ReplyErrPayload(r LoanedReply) []byte
	ReplyErrEncoding(r LoanedReply) string

	LivelinessDeclareToken(out *OwnedToken, s LoanedSession, k LoanedKeyExpr) Result
	LivelinessDeclareSubscriber(out *OwnedSubscriber, s LoanedSession, k LoanedKeyExpr, cb *ClosureSample, opts *LivelinessSubscriberOptions) Result
	LivelinessGet(s LoanedSession, k LoanedKeyExpr, cb *ClosureReply, opts *LivelinessGetOptions) Result

	// Drop releases any owned object. Dropping null is a no-op.
	Drop(p Ptr)
}

// Drop releases o through e and nulls it. It is a no-op on a null o.
func Drop[K any](e Engine, o *Owned[K]) {
	if o == nil || o.Ptr == 0 {
		return
	}
	p := o.Ptr
	o.Ptr = 0
	e.Drop(p)
}

// DropClosure runs the drop entry point of a closure that never reached the
// engine and nulls it.
func DropClosure[P any](c *Closure[P]) {
	if c == nil || c.Drop == nil {
		return
	}
	drop, ctx := c.Drop, c.Context
	*c = Closure[P]{}
	drop(ctx)
}
