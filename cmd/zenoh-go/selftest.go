package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/hsiuhsiu/zenoh-go-exp/pkg/zenoh"
	"github.com/hsiuhsiu/zenoh-go-exp/pkg/zenoh/loopback"
)

const selftestTimeout = 5 * time.Second

var selftestKey = zenoh.MustKeyExpr("zenoh-go/selftest")

// selftest opens two sessions on a private loopback engine and checks that
// samples, replies and liveliness changes travel between them.
func selftest(ctx context.Context, cfg zenoh.Config, w io.Writer) (err error) {
	ctx, cancel := context.WithTimeout(ctx, selftestTimeout)
	defer cancel()

	eng := loopback.New(loopback.WithQueryTimeout(cfg.QueryTimeout))
	a, err := zenoh.Open(ctx, cfg, zenoh.WithEngine(eng))
	if err != nil {
		return fmt.Errorf("open first session: %w", err)
	}
	defer func() { err = errors.Join(err, a.Close()) }()
	b, err := zenoh.Open(ctx, cfg, zenoh.WithEngine(eng))
	if err != nil {
		return fmt.Errorf("open second session: %w", err)
	}
	defer func() { err = errors.Join(err, b.Close()) }()
	fmt.Fprintf(w, "sessions %s and %s open on %s\n", a.ID(), b.ID(), a.EngineVersion())

	if err := pubSub(ctx, a, b, w); err != nil {
		return fmt.Errorf("pub/sub: %w", err)
	}
	if err := getReply(ctx, a, b, w); err != nil {
		return fmt.Errorf("get: %w", err)
	}
	if err := liveliness(ctx, a, b, w); err != nil {
		return fmt.Errorf("liveliness: %w", err)
	}
	fmt.Fprintln(w, "ok")
	return nil
}

func pubSub(ctx context.Context, a, b *zenoh.Session, w io.Writer) error {
	cb, samples := zenoh.SampleFifo(8)
	sub, err := a.DeclareSubscriber(selftestKey, cb)
	if err != nil {
		return err
	}
	defer sub.Undeclare()

	if err := b.Put(selftestKey, []byte("hello"), &zenoh.PutOptions{Encoding: "text/plain"}); err != nil {
		return err
	}
	s, err := samples.RecvContext(ctx)
	if err != nil {
		return err
	}
	defer s.Drop()
	fmt.Fprintf(w, "sample %s %s %q\n", s.Kind(), s.KeyExpr(), s.Payload())
	return nil
}

func getReply(ctx context.Context, a, b *zenoh.Session, w io.Writer) error {
	qa, err := b.DeclareQueryable(selftestKey, zenoh.NewClosure(func(q zenoh.QueryView) {
		_ = q.Reply(q.KeyExpr(), []byte("pong:"+q.Parameters()), nil)
	}, nil), &zenoh.QueryableOptions{Complete: true})
	if err != nil {
		return err
	}
	defer qa.Undeclare()

	cb, replies := zenoh.ReplyFifo(4)
	if err := a.Get(selftestKey, "ping", cb, nil); err != nil {
		return err
	}
	n, err := readReplies(ctx, replies, w)
	if err != nil {
		return err
	}
	if n != 1 {
		return fmt.Errorf("got %d replies, want 1", n)
	}
	return nil
}

// readReplies prints successful replies until the get completes. It stops at
// the first error reply.
func readReplies(ctx context.Context, replies *zenoh.FifoHandler[*zenoh.Reply], w io.Writer) (int, error) {
	n := 0
	for {
		r, err := replies.RecvContext(ctx)
		if errors.Is(err, zenoh.ErrDisconnected) {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		if s, ok := r.Sample(); ok {
			fmt.Fprintf(w, "reply %s %q\n", s.KeyExpr(), s.Payload())
		} else if e, ok := r.Err(); ok {
			err = errors.New(e.Error())
		}
		r.Drop()
		if err != nil {
			replies.Close()
			return n, err
		}
		n++
	}
}

func liveliness(ctx context.Context, a, b *zenoh.Session, w io.Writer) error {
	cb, changes := zenoh.SampleFifo(4)
	sub, err := a.Liveliness().DeclareSubscriber(selftestKey, cb, nil)
	if err != nil {
		return err
	}
	defer sub.Undeclare()

	tok, err := b.Liveliness().DeclareToken(selftestKey)
	if err != nil {
		return err
	}
	if err := tok.Undeclare(); err != nil {
		return err
	}
	for range 2 {
		s, err := changes.RecvContext(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "liveliness %s %s\n", s.Kind(), s.KeyExpr())
		s.Drop()
	}
	return nil
}
