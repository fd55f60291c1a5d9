package backend

import "sync"

// handle is an opaque reference to a registered Go value that can be handed
// to the engine as a closure context.
type handle uintptr

var (
	mu   sync.Mutex
	next handle = 1
	reg         = map[handle]any{}
)

// Put registers v and returns the context integer to pass to the engine. The
// entry must be removed with Take or Del when the engine releases it.
func Put(v any) uintptr {
	mu.Lock()
	defer mu.Unlock()
	h := next
	next++
	reg[h] = v
	return uintptr(h)
}

// Get retrieves the value registered under ctx.
func Get(ctx uintptr) (any, bool) {
	if ctx == 0 {
		return nil, false
	}
	mu.Lock()
	v, ok := reg[handle(ctx)]
	mu.Unlock()
	return v, ok
}

// Take retrieves and unregisters the value under ctx. Only one caller ever
// observes ok for a given ctx.
func Take(ctx uintptr) (any, bool) {
	if ctx == 0 {
		return nil, false
	}
	mu.Lock()
	defer mu.Unlock()
	v, ok := reg[handle(ctx)]
	if ok {
		delete(reg, handle(ctx))
	}
	return v, ok
}

// Del unregisters ctx.
func Del(ctx uintptr) {
	mu.Lock()
	delete(reg, handle(ctx))
	mu.Unlock()
}

// Count returns the number of live contexts. Tests use it to detect leaked
// closures.
func Count() int {
	mu.Lock()
	defer mu.Unlock()
	return len(reg)
}
