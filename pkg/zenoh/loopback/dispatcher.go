package loopback

import "sync"

type task struct {
	run     func()
	discard func()
}

// dispatcher runs the callbacks of one entity sequentially on a goroutine it
// owns. It plays the part of a native engine's worker thread.
type dispatcher struct {
	mu      sync.Mutex
	cond    *sync.Cond
	queue   []task
	closing bool
	final   func()
	done    chan struct{}
}

func newDispatcher() *dispatcher {
	d := &dispatcher{done: make(chan struct{})}
	d.cond = sync.NewCond(&d.mu)
	go d.loop()
	return d
}

func (d *dispatcher) loop() {
	defer close(d.done)
	for {
		d.mu.Lock()
		for len(d.queue) == 0 && !d.closing {
			d.cond.Wait()
		}
		if len(d.queue) == 0 {
			final := d.final
			d.mu.Unlock()
			if final != nil {
				final()
			}
			return
		}
		t := d.queue[0]
		d.queue[0] = task{}
		d.queue = d.queue[1:]
		d.mu.Unlock()
		t.run()
	}
}

// submit queues t. It reports false once the dispatcher is closing; the
// caller then owns whatever t would have released.
func (d *dispatcher) submit(t task) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closing {
		return false
	}
	d.queue = append(d.queue, t)
	d.cond.Signal()
	return true
}

// finish stops accepting tasks, lets the queued ones run and then runs final
// on the dispatcher goroutine. It does not wait.
func (d *dispatcher) finish(final func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closing {
		return
	}
	d.closing = true
	d.final = final
	d.cond.Signal()
}

// stop stops accepting tasks, discards the queued ones and waits for the
// running task to return. final then runs on the calling goroutine, unless
// finish was called first, in which case the dispatcher goroutine has run
// its own final by the time stop returns.
func (d *dispatcher) stop(final func()) {
	d.mu.Lock()
	finishing := d.closing && d.final != nil
	if d.closing && !finishing {
		d.mu.Unlock()
		<-d.done
		return
	}
	d.closing = true
	pending := d.queue
	d.queue = nil
	d.cond.Signal()
	d.mu.Unlock()

	for _, t := range pending {
		if t.discard != nil {
			t.discard()
		}
	}
	<-d.done
	if !finishing && final != nil {
		final()
	}
}
