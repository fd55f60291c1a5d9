// Package loopback provides an in-process messaging engine for tests, examples
// and single-process deployments.
//
// The engine implements the same function table a native engine exposes to
// the zenoh package: owned objects addressed by opaque pointers, closures made
// of a context integer plus call and drop entry points, and signed result
// codes. All sessions opened on one Engine see each other, as if they were
// peers on the same network.
//
// # Features
//
//   - Per-entity dispatch goroutines: callbacks of one subscriber, queryable or
//     pending get run sequentially, in delivery order, on a goroutine the
//     engine owns
//   - Exactly-once closure drop, after the last call, including on failure
//   - Key expressions with `*` (one chunk) and `**` (any number of chunks)
//   - Query finalization when every query handed to a queryable (and every
//     clone of it) has been dropped, or when the get times out
//   - Liveliness tokens, liveliness subscribers with history, liveliness gets
//
// # Usage
//
//	eng := loopback.New()
//	s1, _ := zenoh.Open(ctx, zenoh.DefaultConfig(), zenoh.WithEngine(eng))
//	s2, _ := zenoh.Open(ctx, zenoh.DefaultConfig(), zenoh.WithEngine(eng))
//
// # Limitations
//
// Loopback is not a network engine:
//   - No transport, discovery or routing between processes
//   - No consolidation of replies
//   - Timestamps are process-local
package loopback
