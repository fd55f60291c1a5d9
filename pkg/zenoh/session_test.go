package zenoh

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hsiuhsiu/zenoh-go-exp/pkg/zenoh/internal/backend"
	"github.com/hsiuhsiu/zenoh-go-exp/pkg/zenoh/loopback"
)

func openPair(t *testing.T) (*Session, *Session, *loopback.Engine) {
	t.Helper()
	eng := loopback.New()
	ctx := context.Background()
	a, err := Open(ctx, DefaultConfig(), WithEngine(eng))
	require.NoError(t, err)
	b, err := Open(ctx, DefaultConfig(), WithEngine(eng))
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, a.Close())
		require.NoError(t, b.Close())
	})
	return a, b, eng
}

func recvReplies(t *testing.T, h *FifoHandler[*Reply]) []string {
	t.Helper()
	var out []string
	for {
		r, err := h.Recv()
		if errors.Is(err, ErrDisconnected) {
			return out
		}
		require.NoError(t, err)
		if s, ok := r.Sample(); ok {
			out = append(out, s.KeyExpr().String()+"="+s.Payload().String())
		} else {
			e, _ := r.Err()
			out = append(out, "err="+e.Payload.String())
		}
		r.Drop()
	}
}

func TestPubSubThroughFifo(t *testing.T) {
	registered := backend.Count()
	a, b, eng := openPair(t)
	assert.NotEqual(t, a.ID(), b.ID())

	cb, samples := SampleFifo(16)
	sub, err := a.DeclareSubscriber(MustKeyExpr("demo/**"), cb)
	require.NoError(t, err)
	assert.Equal(t, "demo/**", sub.KeyExpr().String())

	key := MustKeyExpr("demo/example/greeting")
	require.NoError(t, b.Put(key, []byte("one"), &PutOptions{Encoding: "text/plain", Attachment: []byte("meta")}))
	require.NoError(t, b.Put(key, []byte("two"), nil))
	require.NoError(t, b.Delete(key, nil))
	require.NoError(t, b.Put(MustKeyExpr("elsewhere"), []byte("ignored"), nil))

	first, err := samples.Recv()
	require.NoError(t, err)
	assert.Equal(t, "one", first.Payload().String())
	assert.Equal(t, SampleKindPut, first.Kind())
	assert.Equal(t, "text/plain", first.View().Encoding())
	att, ok := first.View().Attachment()
	require.True(t, ok)
	assert.Equal(t, "meta", att.String())

	second, err := samples.Recv()
	require.NoError(t, err)
	assert.Equal(t, "two", second.Payload().String())
	_, ok = second.View().Attachment()
	assert.False(t, ok)
	assert.True(t, second.View().Timestamp().After(first.View().Timestamp()))

	del, err := samples.Recv()
	require.NoError(t, err)
	assert.Equal(t, SampleKindDelete, del.Kind())
	assert.Equal(t, key, del.KeyExpr())

	for _, s := range []*Sample{first, second, del} {
		s.Drop()
		assert.False(t, s.IsValid())
	}

	require.NoError(t, sub.Undeclare())
	require.NoError(t, sub.Undeclare())
	_, err = samples.Recv()
	require.ErrorIs(t, err, ErrDisconnected)

	assert.Equal(t, 2, eng.Objects(), "only the sessions remain")
	assert.Equal(t, registered, backend.Count())
}

func TestSubscriberRingKeepsLatest(t *testing.T) {
	a, b, _ := openPair(t)
	cb, samples := SampleRing(1)
	sub, err := a.DeclareSubscriber(MustKeyExpr("ring/key"), cb)
	require.NoError(t, err)
	defer sub.Undeclare()

	require.NoError(t, b.Put(MustKeyExpr("ring/key"), []byte("first"), nil))
	require.NoError(t, b.Put(MustKeyExpr("ring/key"), []byte("second"), nil))

	require.Eventually(t, func() bool {
		s, err := samples.TryRecv()
		if err != nil {
			return false
		}
		defer s.Drop()
		return s.Payload().String() == "second"
	}, time.Second, time.Millisecond)
	_, err = samples.TryRecv()
	require.ErrorIs(t, err, ErrNoData)
}

func TestGetThreeRepliesThenDisconnect(t *testing.T) {
	a, b, eng := openPair(t)

	qa, err := b.DeclareQueryable(MustKeyExpr("demo/**"), NewClosure(func(q QueryView) {
		for _, v := range []string{"a", "b", "c"} {
			if err := q.Reply(MustKeyExpr("demo/"+v), []byte(v), nil); err != nil {
				t.Errorf("reply %s: %v", v, err)
			}
		}
	}, nil), nil)
	require.NoError(t, err)
	defer qa.Undeclare()

	cb, replies := ReplyFifo(16)
	require.NoError(t, a.Get(MustKeyExpr("demo/*"), "", cb, nil))

	assert.Equal(t, []string{"demo/a=a", "demo/b=b", "demo/c=c"}, recvReplies(t, replies))
	require.NoError(t, qa.Undeclare())
	assert.Equal(t, 2, eng.Objects())
}

func TestQueryHeldInChannelKeepsGetOpen(t *testing.T) {
	a, b, _ := openPair(t)

	qcb, queries := QueryFifo(4)
	qa, err := b.DeclareQueryable(MustKeyExpr("store/**"), qcb, &QueryableOptions{Complete: true})
	require.NoError(t, err)
	defer qa.Undeclare()

	cb, replies := ReplyFifo(4)
	require.NoError(t, a.Get(MustKeyExpr("store/item"), "version=2", cb, &GetOptions{Payload: []byte("body")}))

	q, err := queries.Recv()
	require.NoError(t, err)
	assert.Equal(t, "store/item", q.KeyExpr().String())
	assert.Equal(t, "version=2", q.Parameters())
	body, ok := q.View().Payload()
	require.True(t, ok)
	assert.Equal(t, "body", body.String())

	_, err = replies.TryRecv()
	require.ErrorIs(t, err, ErrNoData, "get stays open while the query is held")

	require.NoError(t, q.Reply(MustKeyExpr("store/item"), []byte("v2"), nil))
	require.NoError(t, q.ReplyErr([]byte("partial"), &ReplyErrOptions{Encoding: "text/plain"}))
	var ee *EngineError
	require.ErrorAs(t, q.Reply(MustKeyExpr("other"), []byte("x"), nil), &ee, "reply outside the selector")
	q.Drop()
	require.ErrorIs(t, q.Reply(MustKeyExpr("store/item"), nil, nil), ErrUndeclared)

	assert.Equal(t, []string{"store/item=v2", "err=partial"}, recvReplies(t, replies))
}

func TestGetTimeoutDisconnects(t *testing.T) {
	a, b, _ := openPair(t)
	held := make(chan *Query, 1)
	qa, err := b.DeclareQueryable(MustKeyExpr("slow"), NewClosure(func(q QueryView) {
		held <- q.Clone()
	}, nil), nil)
	require.NoError(t, err)
	defer qa.Undeclare()

	cb, replies := ReplyFifo(4)
	require.NoError(t, a.Get(MustKeyExpr("slow"), "", cb, &GetOptions{Timeout: 20 * time.Millisecond}))
	q := <-held

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = replies.RecvContext(ctx)
	require.ErrorIs(t, err, ErrDisconnected)

	err = q.Reply(MustKeyExpr("slow"), []byte("late"), nil)
	var ee *EngineError
	require.ErrorAs(t, err, &ee)
	q.Drop()
}

func TestGetWithCancelledTokenIsNotIssued(t *testing.T) {
	a, b, _ := openPair(t)
	var queried bool
	qa, err := b.DeclareQueryable(MustKeyExpr("k"), NewClosure(func(QueryView) { queried = true }, nil), nil)
	require.NoError(t, err)

	tok := NewCancellationToken()
	tok.Cancel()
	cb, replies := ReplyFifo(1)
	require.NoError(t, a.Get(MustKeyExpr("k"), "", cb, &GetOptions{Token: tok}))

	_, err = replies.TryRecv()
	require.ErrorIs(t, err, ErrDisconnected)
	require.NoError(t, qa.Undeclare())
	assert.False(t, queried)
}

func TestCancelDisconnectsPendingGet(t *testing.T) {
	a, b, _ := openPair(t)
	held := make(chan *Query, 1)
	qa, err := b.DeclareQueryable(MustKeyExpr("pending"), NewClosure(func(q QueryView) {
		held <- q.Clone()
	}, nil), nil)
	require.NoError(t, err)
	defer qa.Undeclare()

	tok := NewCancellationToken()
	cb, replies := ReplyFifo(4)
	require.NoError(t, a.Get(MustKeyExpr("pending"), "", cb, &GetOptions{Token: tok}))
	q := <-held

	tok.Cancel()
	_, err = replies.Recv()
	require.ErrorIs(t, err, ErrDisconnected)

	require.NoError(t, q.Reply(MustKeyExpr("pending"), []byte("ignored"), nil))
	q.Drop()
	_, err = replies.TryRecv()
	require.ErrorIs(t, err, ErrDisconnected)
}

func TestQuerier(t *testing.T) {
	a, b, _ := openPair(t)
	qa, err := b.DeclareQueryable(MustKeyExpr("q/**"), NewClosure(func(q QueryView) {
		_ = q.Reply(q.KeyExpr(), []byte(q.Parameters()), nil)
	}, nil), nil)
	require.NoError(t, err)
	defer qa.Undeclare()

	querier, err := a.DeclareQuerier(MustKeyExpr("q/x"), &QuerierOptions{Target: QueryTargetAll, Timeout: time.Second})
	require.NoError(t, err)
	assert.Equal(t, "q/x", querier.KeyExpr().String())

	for _, p := range []string{"n=1", "n=2"} {
		cb, replies := ReplyFifo(2)
		require.NoError(t, querier.Get(p, cb, nil))
		assert.Equal(t, []string{"q/x=" + p}, recvReplies(t, replies))
	}

	require.NoError(t, querier.Undeclare())
	var dropped bool
	err = querier.Get("", NewMoveClosure(func(*Reply) {}, func() { dropped = true }), nil)
	require.ErrorIs(t, err, ErrUndeclared)
	assert.True(t, dropped)
}

func TestLiveliness(t *testing.T) {
	a, b, _ := openPair(t)

	tok, err := b.Liveliness().DeclareToken(MustKeyExpr("group/b"))
	require.NoError(t, err)

	cb, changes := SampleFifo(8)
	sub, err := a.Liveliness().DeclareSubscriber(MustKeyExpr("group/*"), cb, &LivelinessSubscriberOptions{History: true})
	require.NoError(t, err)
	defer sub.Undeclare()

	rcb, replies := ReplyFifo(4)
	require.NoError(t, a.Liveliness().Get(MustKeyExpr("group/**"), rcb, nil))
	assert.Equal(t, []string{"group/b="}, recvReplies(t, replies))

	require.NoError(t, tok.Undeclare())
	require.NoError(t, tok.Undeclare())

	for _, want := range []SampleKind{SampleKindPut, SampleKindDelete} {
		s, err := changes.Recv()
		require.NoError(t, err)
		assert.Equal(t, want, s.Kind())
		assert.Equal(t, "group/b", s.KeyExpr().String())
		s.Drop()
	}
}

func TestPublisher(t *testing.T) {
	a, b, _ := openPair(t)
	cb, samples := SampleFifo(4)
	sub, err := a.DeclareSubscriber(MustKeyExpr("pub/**"), cb)
	require.NoError(t, err)
	defer sub.Undeclare()

	pub, err := b.DeclarePublisher(MustKeyExpr("pub/p"), &PublisherOptions{Encoding: "application/json"})
	require.NoError(t, err)
	require.NoError(t, pub.Put([]byte(`{"n":1}`), nil))
	require.NoError(t, pub.Delete(&DeleteOptions{Attachment: []byte("why")}))

	s, err := samples.Recv()
	require.NoError(t, err)
	assert.Equal(t, "application/json", s.View().Encoding())
	s.Drop()
	s, err = samples.Recv()
	require.NoError(t, err)
	assert.Equal(t, SampleKindDelete, s.Kind())
	s.Drop()

	require.NoError(t, pub.Undeclare())
	require.ErrorIs(t, pub.Put([]byte("x"), nil), ErrUndeclared)
}

func TestPanickingSubscriberKeepsReceiving(t *testing.T) {
	a, b, _ := openPair(t)
	got := make(chan string, 4)
	sub, err := a.DeclareSubscriber(MustKeyExpr("p"), NewClosure(func(s SampleView) {
		if s.Payload().String() == "bad" {
			panic("bad sample")
		}
		got <- s.Payload().String()
	}, nil))
	require.NoError(t, err)
	defer sub.Undeclare()

	for _, v := range []string{"ok1", "bad", "ok2"} {
		require.NoError(t, b.Put(MustKeyExpr("p"), []byte(v), nil))
	}
	assert.Equal(t, "ok1", <-got)
	assert.Equal(t, "ok2", <-got)
}

func TestBackgroundSubscriberEndsWithSession(t *testing.T) {
	eng := loopback.New()
	s, err := Open(context.Background(), DefaultConfig(), WithEngine(eng))
	require.NoError(t, err)

	cb, samples := SampleFifo(4)
	require.NoError(t, s.DeclareBackgroundSubscriber(MustKeyExpr("bg/**"), cb))
	require.NoError(t, s.Put(MustKeyExpr("bg/1"), []byte("x"), nil))
	smp, err := samples.Recv()
	require.NoError(t, err)
	smp.Drop()

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.True(t, s.IsClosed())
	_, err = samples.Recv()
	require.ErrorIs(t, err, ErrDisconnected)
	assert.Equal(t, 0, eng.Objects())
}

func TestClosedSessionConsumesClosures(t *testing.T) {
	eng := loopback.New()
	s, err := Open(context.Background(), DefaultConfig(), WithEngine(eng))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	require.ErrorIs(t, s.Put(MustKeyExpr("a"), nil, nil), ErrSessionClosed)

	cb, samples := SampleFifo(1)
	_, err = s.DeclareSubscriber(MustKeyExpr("a"), cb)
	require.ErrorIs(t, err, ErrSessionClosed)
	_, err = samples.TryRecv()
	require.ErrorIs(t, err, ErrDisconnected)

	rcb, replies := ReplyFifo(1)
	require.ErrorIs(t, s.Get(MustKeyExpr("a"), "", rcb, nil), ErrSessionClosed)
	_, err = replies.TryRecv()
	require.ErrorIs(t, err, ErrDisconnected)
}

func TestEngineRejectedKeyExprConsumesClosure(t *testing.T) {
	a, _, _ := openPair(t)
	k, err := NewKeyExpr("a/**/**")
	require.NoError(t, err)

	cb, samples := SampleFifo(1)
	_, err = a.DeclareSubscriber(k, cb)
	require.ErrorIs(t, err, ErrInvalidKeyExpr)
	_, err = samples.TryRecv()
	require.ErrorIs(t, err, ErrDisconnected)
}

func TestNotCallableClosureIsRejected(t *testing.T) {
	a, _, _ := openPair(t)
	_, err := a.DeclareSubscriber(MustKeyExpr("a"), Closure[SampleView]{})
	require.ErrorIs(t, err, ErrNotCallable)
	require.ErrorIs(t, a.Get(MustKeyExpr("a"), "", MoveClosure[*Reply]{}, nil), ErrNotCallable)
}

func TestClosureHandedTwiceIsRejected(t *testing.T) {
	a, _, _ := openPair(t)
	cb := NewClosure(func(SampleView) {}, nil)
	sub, err := a.DeclareSubscriber(MustKeyExpr("a"), cb)
	require.NoError(t, err)
	defer sub.Undeclare()

	_, err = a.DeclareSubscriber(MustKeyExpr("b"), cb)
	require.ErrorIs(t, err, ErrClosureConsumed)
}

func TestOpenRetriesWhileUnavailable(t *testing.T) {
	cfg := DefaultConfig()
	cfg.OpenRetries = 3
	cfg.OpenRetryDelay = time.Millisecond

	s, err := Open(context.Background(), cfg, WithEngine(loopback.New(loopback.WithOpenFailures(2))))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	cfg.OpenRetries = 1
	_, err = Open(context.Background(), cfg, WithEngine(loopback.New(loopback.WithOpenFailures(5))))
	var ee *EngineError
	require.ErrorAs(t, err, &ee)
	assert.True(t, ee.IsUnavailable())
}

func TestOpenRejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mode = "router"
	_, err := Open(context.Background(), cfg, WithEngine(loopback.New()))
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestKeyExprValidation(t *testing.T) {
	for _, bad := range []string{"", "/a", "a/", "a//b"} {
		_, err := NewKeyExpr(bad)
		require.ErrorIs(t, err, ErrInvalidKeyExpr, bad)
	}
	k := MustKeyExpr("a/b")
	j, err := k.Join("c")
	require.NoError(t, err)
	assert.Equal(t, "a/b/c", j.String())
	assert.Panics(t, func() { MustKeyExpr("") })
}

func TestCloseWaitsForRunningReplyCallback(t *testing.T) {
	eng := loopback.New()
	a, err := Open(context.Background(), DefaultConfig(), WithEngine(eng))
	require.NoError(t, err)
	b, err := Open(context.Background(), DefaultConfig(), WithEngine(eng))
	require.NoError(t, err)
	defer b.Close()

	qa, err := b.DeclareQueryable(MustKeyExpr("slow/reply"), NewClosure(func(q QueryView) {
		_ = q.Reply(q.KeyExpr(), []byte("x"), nil)
	}, nil), nil)
	require.NoError(t, err)
	defer qa.Undeclare()

	started := make(chan struct{})
	var running atomic.Bool
	var released atomic.Bool
	cb := NewMoveClosure(func(r *Reply) {
		running.Store(true)
		close(started)
		time.Sleep(50 * time.Millisecond)
		r.Drop()
		running.Store(false)
	}, func() { released.Store(true) })
	require.NoError(t, a.Get(MustKeyExpr("slow/reply"), "", cb, nil))

	<-started
	require.NoError(t, a.Close())
	assert.False(t, running.Load(), "reply callback still running after Close returned")
	assert.True(t, released.Load(), "reply closure not released by Close")
}

func TestNegativeGetTimeoutUsesConfig(t *testing.T) {
	eng := loopback.New()
	cfg := DefaultConfig()
	cfg.QueryTimeout = 20 * time.Millisecond
	a, err := Open(context.Background(), cfg, WithEngine(eng))
	require.NoError(t, err)
	defer a.Close()

	held := make(chan *Query, 1)
	qa, err := a.DeclareQueryable(MustKeyExpr("held"), NewClosure(func(q QueryView) {
		held <- q.Clone()
	}, nil), nil)
	require.NoError(t, err)
	defer qa.Undeclare()

	cb, replies := ReplyFifo(1)
	require.NoError(t, a.Get(MustKeyExpr("held"), "", cb, &GetOptions{Timeout: -time.Second}))
	q := <-held
	defer q.Drop()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = replies.RecvContext(ctx)
	require.ErrorIs(t, err, ErrDisconnected, "get outlived Config.QueryTimeout")
}

func TestCancelGetWithUndrainedFifo(t *testing.T) {
	a, b, _ := openPair(t)
	qa, err := b.DeclareQueryable(MustKeyExpr("burst"), NewClosure(func(q QueryView) {
		for range 3 {
			_ = q.Reply(q.KeyExpr(), []byte("r"), nil)
		}
	}, nil), nil)
	require.NoError(t, err)
	defer qa.Undeclare()

	tok := NewCancellationToken()
	cb, replies := ReplyFifo(1)
	require.NoError(t, a.Get(MustKeyExpr("burst"), "", cb, &GetOptions{Token: tok}))
	require.Eventually(t, func() bool { return replies.Len() == 1 }, time.Second, time.Millisecond)

	cancelled := make(chan struct{})
	go func() {
		tok.Cancel()
		close(cancelled)
	}()
	select {
	case <-cancelled:
	case <-time.After(2 * time.Second):
		t.Fatalf("Cancel still blocked, queued=%d", replies.Len())
	}

	r, err := replies.Recv()
	require.NoError(t, err)
	r.Drop()
	_, err = replies.Recv()
	require.ErrorIs(t, err, ErrDisconnected)
}
