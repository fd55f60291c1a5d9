package backend

import "fmt"

// Ptr is an opaque reference to an engine object. Zero is null.
type Ptr uintptr

// Kind tags. They only exist to make Owned and Loaned distinct types per
// engine object kind.
type (
	ConfigKind     struct{}
	SessionKind    struct{}
	KeyExprKind    struct{}
	BytesKind      struct{}
	PublisherKind  struct{}
	SubscriberKind struct{}
	QueryableKind  struct{}
	TokenKind      struct{}
	SampleKind     struct{}
	QueryKind      struct{}
	ReplyKind      struct{}
)

// Owned is an owned engine object. The zero value is the null state.
type Owned[K any] struct {
	Ptr Ptr
}

// IsNull reports whether o holds nothing.
func (o Owned[K]) IsNull() bool { return o.Ptr == 0 }

// Loan borrows o without affecting ownership.
func (o Owned[K]) Loan() Loaned[K] { return Loaned[K](o) }

// Loaned is a borrowed engine object.
type Loaned[K any] struct {
	Ptr Ptr
}

type (
	OwnedConfig     = Owned[ConfigKind]
	OwnedSession    = Owned[SessionKind]
	OwnedKeyExpr    = Owned[KeyExprKind]
	OwnedBytes      = Owned[BytesKind]
	OwnedPublisher  = Owned[PublisherKind]
	OwnedSubscriber = Owned[SubscriberKind]
	OwnedQueryable  = Owned[QueryableKind]
	OwnedToken      = Owned[TokenKind]
	OwnedSample     = Owned[SampleKind]
	OwnedQuery      = Owned[QueryKind]
	OwnedReply      = Owned[ReplyKind]

	LoanedConfig     = Loaned[ConfigKind]
	LoanedSession    = Loaned[SessionKind]
	LoanedKeyExpr    = Loaned[KeyExprKind]
	LoanedPublisher  = Loaned[PublisherKind]
	LoanedSubscriber = Loaned[SubscriberKind]
	LoanedQueryable  = Loaned[QueryableKind]
	LoanedSample     = Loaned[SampleKind]
	LoanedQuery      = Loaned[QueryKind]
	LoanedReply      = Loaned[ReplyKind]
)

// Closure is the ABI shape of every callback handed to the engine.
type Closure[P any] struct {
	Context uintptr
	Call    func(ctx uintptr, payload P)
	Drop    func(ctx uintptr)
}

// IsNull reports whether c carries no call entry point.
func (c *Closure[P]) IsNull() bool { return c == nil || c.Call == nil }

// Closure payload shapes. Sample and query closures borrow their payload;
// reply closures receive ownership of the reply, and the engine drops it after
// the call unless the callee zeroed it.
type (
	ClosureSample = Closure[LoanedSample]
	ClosureQuery  = Closure[LoanedQuery]
	ClosureReply  = Closure[*OwnedReply]
)

// Result mirrors the native z_result_t.
type Result int8

const (
	OK             Result = 0
	ErrGeneric     Result = -1
	ErrInvalid     Result = -2
	ErrClosed      Result = -3
	ErrTimeout     Result = -4
	ErrUnavailable Result = -5
)

// Failed reports whether r is a failure code.
func (r Result) Failed() bool { return r < 0 }

func (r Result) String() string {
	switch r {
	case OK:
		return "ok"
	case ErrGeneric:
		return "generic error"
	case ErrInvalid:
		return "invalid argument"
	case ErrClosed:
		return "closed"
	case ErrTimeout:
		return "timeout"
	case ErrUnavailable:
		return "unavailable"
	default:
		if r > 0 {
			return fmt.Sprintf("ok(%d)", int8(r))
		}
		return fmt.Sprintf("error(%d)", int8(r))
	}
}

// SampleKind values.
const (
	SampleKindPut    int8 = 0
	SampleKindDelete int8 = 1
)

// QueryTarget values.
const (
	QueryTargetBestMatching int8 = 0
	QueryTargetAll          int8 = 1
)

// PutOptions travel with Put and PublisherPut. Attachment is consumed.
type PutOptions struct {
	Encoding   string
	Attachment *OwnedBytes
}

// DeleteOptions travel with Delete and PublisherDelete. Attachment is consumed.
type DeleteOptions struct {
	Attachment *OwnedBytes
}

// PublisherOptions travel with DeclarePublisher.
type PublisherOptions struct {
	Encoding string
}

// SubscriberOptions travel with DeclareSubscriber.
type SubscriberOptions struct{}

// QueryableOptions travel with DeclareQueryable.
type QueryableOptions struct {
	Complete bool
}

// GetOptions travel with Get. Payload and Attachment are consumed.
type GetOptions struct {
	Payload    *OwnedBytes
	Encoding   string
	Attachment *OwnedBytes
	Target     int8
	TimeoutMs  uint64
}

// ReplyOptions travel with QueryReply. Attachment is consumed.
type ReplyOptions struct {
	Encoding   string
	Attachment *OwnedBytes
}

// ReplyErrOptions travel with QueryReplyErr.
type ReplyErrOptions struct {
	Encoding string
}

// LivelinessSubscriberOptions travel with LivelinessDeclareSubscriber.
type LivelinessSubscriberOptions struct {
	History bool
}

// LivelinessGetOptions travel with LivelinessGet.
type LivelinessGetOptions struct {
	TimeoutMs uint64
}
