// Package zenoh provides Go bindings for a pub/sub and query/reply messaging
// engine that exposes a C-style ABI: owned handles released exactly once,
// borrowed views, and callbacks made of a context plus call and drop entry
// points.
//
// # Sessions
//
//	s, err := zenoh.Open(ctx, zenoh.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	defer s.Close()
//
//	key := zenoh.MustKeyExpr("demo/example/greeting")
//	err = s.Put(key, []byte("hello"), nil)
//
// Without WithEngine, sessions run on the in-process loopback engine, so
// sessions opened in the same process see each other.
//
// # Closures
//
// Callbacks are Closure values (for borrowed payloads such as samples and
// queries) or MoveClosure values (for owned payloads such as replies). A
// closure is consumed by the operation it is handed to: its drop function
// runs exactly once, after the last call, including when the operation
// fails. Callbacks run on engine goroutines; a panic in one is recovered,
// logged and counted.
//
//	sub, err := s.DeclareSubscriber(key, zenoh.NewClosure(
//	    func(v zenoh.SampleView) { fmt.Println(v.Payload()) },
//	    func() { fmt.Println("subscriber closed") },
//	))
//
// # Channels
//
// Channel constructors pair a closure with a handler to receive from:
//
//	cb, replies := zenoh.ReplyFifo(16)
//	if err := s.Get(key, "", cb, nil); err != nil {
//	    return err
//	}
//	for {
//	    r, err := replies.Recv()
//	    if errors.Is(err, zenoh.ErrDisconnected) {
//	        break // the get completed
//	    }
//	    handle(r)
//	    r.Drop()
//	}
//
// A full FIFO channel blocks the engine goroutine delivering to it. A full
// ring channel drops its oldest item.
//
// # Cancellation
//
// A CancellationToken passed in GetOptions ends the get: Cancel returns once
// no callback of the get is running and the reply channel is disconnected.
// A reply waiting on a full FIFO is dropped rather than delivered.
//
// # Ownership
//
// Owned values (Sample, Query, Reply) must be dropped. Views (SampleView,
// QueryView, ReplyView, BytesView) are only valid while their owner is.
package zenoh
