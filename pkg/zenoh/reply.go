package zenoh

import (
	"github.com/hsiuhsiu/zenoh-go-exp/pkg/zenoh/internal/backend"
)

// ReplyError is the content of an error reply.
type ReplyError struct {
	Payload  BytesView
	Encoding string
}

func (e ReplyError) Error() string {
	return "zenoh: error reply: " + e.Payload.String()
}

// ReplyView borrows a reply.
type ReplyView struct {
	eng backend.Engine
	v   View[backend.LoanedReply]
}

// IsOK reports whether the reply carries a sample.
func (r ReplyView) IsOK() bool { return r.eng.ReplyIsOK(r.v.Raw()) }

// Sample borrows the sample of a successful reply.
func (r ReplyView) Sample() (SampleView, bool) {
	if !r.IsOK() {
		return SampleView{}, false
	}
	return newSampleView(r.eng, r.eng.ReplyOK(r.v.Raw())), true
}

// Err returns the content of an error reply.
func (r ReplyView) Err() (ReplyError, bool) {
	if r.IsOK() {
		return ReplyError{}, false
	}
	return ReplyError{
		Payload:  BytesView{b: r.eng.ReplyErrPayload(r.v.Raw())},
		Encoding: r.eng.ReplyErrEncoding(r.v.Raw()),
	}, true
}

// Reply is an owned reply to a get: either a sample or an error. It must be
// dropped.
type Reply struct {
	eng backend.Engine
	h   Owned[backend.OwnedReply]
}

// takeReply moves a reply handed over by the engine into a Reply.
func takeReply(eng backend.Engine) func(*backend.OwnedReply) *Reply {
	return func(o *backend.OwnedReply) *Reply {
		return &Reply{eng: eng, h: FromRaw(o, dropper[backend.ReplyKind](eng))}
	}
}

// View borrows the reply. It panics once the reply is dropped.
func (r *Reply) View() ReplyView {
	return ReplyView{eng: r.eng, v: NewView(loaned(&r.h))}
}

// IsOK reports whether the reply carries a sample.
func (r *Reply) IsOK() bool { return r.View().IsOK() }

// Sample borrows the sample of a successful reply. The view is valid until
// the reply is dropped.
func (r *Reply) Sample() (SampleView, bool) { return r.View().Sample() }

// Err returns the content of an error reply.
func (r *Reply) Err() (ReplyError, bool) { return r.View().Err() }

// IsValid reports whether the reply has not been dropped.
func (r *Reply) IsValid() bool { return r != nil && r.h.IsValid() }

// Drop releases the reply. It is idempotent.
func (r *Reply) Drop() {
	if r != nil {
		r.h.Drop()
	}
}
