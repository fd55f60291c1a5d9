// Package backend spells out the C-style ABI of the messaging engine that the
// zenoh package drives.
//
// # Design Principles
//
// 1. Isolation: the ABI lives only here. The public zenoh package converts
//    every ABI value into a safe Go type before it reaches user code, and the
//    engines (see the loopback package) implement Engine.
//
// 2. Owned vs Loaned: Owned[K] is the rendering of a native z_owned_*_t. Its
//    zero value is the null state and Engine.Drop on a null pointer is a no-op.
//    Loaned[K] is a borrowed pointer that never releases anything.
//
// 3. Consuming arguments: functions that take *Owned[K] or *Closure[P] take
//    ownership and zero the caller's value, whether they succeed or not.
//
// 4. Closures: a Closure is {Context, Call, Drop}. The engine invokes Call zero
//    or more times, possibly from several goroutines it owns, and invokes Drop
//    exactly once after the last Call has returned.
//
// 5. Results: every fallible function returns a Result. Negative values are
//    failures.
//
// # Context Registry
//
// Closure contexts are plain integers. Put registers a Go value and returns
// the integer to hand to the engine; Get and Take recover it from the call and
// drop trampolines.
package backend
