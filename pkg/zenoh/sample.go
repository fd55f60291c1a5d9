package zenoh

import (
	"time"

	"github.com/hsiuhsiu/zenoh-go-exp/pkg/zenoh/internal/backend"
)

// SampleKind tells puts from deletes.
type SampleKind int8

const (
	SampleKindPut    SampleKind = SampleKind(backend.SampleKindPut)
	SampleKindDelete SampleKind = SampleKind(backend.SampleKindDelete)
)

func (k SampleKind) String() string {
	switch k {
	case SampleKindPut:
		return "PUT"
	case SampleKindDelete:
		return "DELETE"
	default:
		return "UNKNOWN"
	}
}

// SampleView borrows a sample delivered to a callback. It is valid for the
// duration of the call; Clone it to keep it.
type SampleView struct {
	eng backend.Engine
	v   View[backend.LoanedSample]
}

func newSampleView(eng backend.Engine, s backend.LoanedSample) SampleView {
	return SampleView{eng: eng, v: NewView(s)}
}

// KeyExpr returns the key the sample was published on.
func (s SampleView) KeyExpr() KeyExpr {
	return KeyExpr{expr: s.eng.SampleKeyExpr(s.v.Raw())}
}

// Payload borrows the sample payload.
func (s SampleView) Payload() BytesView {
	return BytesView{b: s.eng.SamplePayload(s.v.Raw())}
}

// Kind tells puts from deletes.
func (s SampleView) Kind() SampleKind {
	return SampleKind(s.eng.SampleKind(s.v.Raw()))
}

// Encoding returns the payload encoding, empty if none was set.
func (s SampleView) Encoding() string {
	return s.eng.SampleEncoding(s.v.Raw())
}

// Attachment borrows the sample attachment.
func (s SampleView) Attachment() (BytesView, bool) {
	b, ok := s.eng.SampleAttachment(s.v.Raw())
	return BytesView{b: b}, ok
}

// Timestamp returns the time the engine stamped the sample with.
func (s SampleView) Timestamp() time.Time {
	return time.Unix(0, int64(s.eng.SampleTimestamp(s.v.Raw())))
}

// Clone returns an owned copy of the sample. It panics if the view is no
// longer valid.
func (s SampleView) Clone() *Sample {
	var raw backend.OwnedSample
	if r := s.eng.SampleClone(&raw, s.v.Raw()); r.Failed() {
		panic(fromResult("clone sample", r))
	}
	return &Sample{eng: s.eng, h: FromRaw(&raw, dropper[backend.SampleKind](s.eng))}
}

// Sample is an owned sample. It must be dropped.
type Sample struct {
	eng backend.Engine
	h   Owned[backend.OwnedSample]
}

// View borrows the sample. It panics once the sample is dropped.
func (s *Sample) View() SampleView {
	return newSampleView(s.eng, loaned(&s.h))
}

// KeyExpr is shorthand for View().KeyExpr().
func (s *Sample) KeyExpr() KeyExpr { return s.View().KeyExpr() }

// Payload is shorthand for View().Payload().
func (s *Sample) Payload() BytesView { return s.View().Payload() }

// Kind is shorthand for View().Kind().
func (s *Sample) Kind() SampleKind { return s.View().Kind() }

// IsValid reports whether the sample has not been dropped.
func (s *Sample) IsValid() bool { return s != nil && s.h.IsValid() }

// Drop releases the sample. It is idempotent.
func (s *Sample) Drop() {
	if s != nil {
		s.h.Drop()
	}
}
