package zenoh

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFifoChannelPreservesOrder(t *testing.T) {
	cb, h := NewFifoChannel[int](8)
	raw, err := bridge(cb.ctx, "test", identity[int], nil)
	require.NoError(t, err)

	for i := 1; i <= 8; i++ {
		raw.Call(raw.Context, i)
	}
	assert.Equal(t, 8, h.Len())
	assert.Equal(t, 8, h.Cap())
	raw.Drop(raw.Context)

	for i := 1; i <= 8; i++ {
		v, err := h.Recv()
		require.NoError(t, err)
		assert.Equal(t, i, v)
	}
	_, err = h.Recv()
	require.ErrorIs(t, err, ErrDisconnected)
	_, err = h.TryRecv()
	require.ErrorIs(t, err, ErrDisconnected)
}

func TestFifoChannelBlocksProducerWhenFull(t *testing.T) {
	cb, h := NewFifoChannel[int](2)
	raw, err := bridge(cb.ctx, "test", identity[int], nil)
	require.NoError(t, err)

	raw.Call(raw.Context, 1)
	raw.Call(raw.Context, 2)

	pushed := make(chan struct{})
	go func() {
		raw.Call(raw.Context, 3)
		close(pushed)
	}()

	select {
	case <-pushed:
		t.Fatal("push into a full FIFO returned")
	case <-time.After(20 * time.Millisecond):
	}

	v, err := h.Recv()
	require.NoError(t, err)
	assert.Equal(t, 1, v)
	<-pushed

	raw.Drop(raw.Context)
	for _, want := range []int{2, 3} {
		v, err := h.Recv()
		require.NoError(t, err)
		assert.Equal(t, want, v)
	}
	_, err = h.Recv()
	require.ErrorIs(t, err, ErrDisconnected)
}

func TestFifoCloseReleasesBlockedProducer(t *testing.T) {
	cb, h := NewFifoChannel[*dropCounter](1)
	raw, err := bridge(cb.ctx, "test", identity[*dropCounter], nil)
	require.NoError(t, err)

	first, second := &dropCounter{}, &dropCounter{}
	raw.Call(raw.Context, first)
	pushed := make(chan struct{})
	go func() {
		raw.Call(raw.Context, second)
		close(pushed)
	}()
	time.Sleep(10 * time.Millisecond)

	h.Close()
	<-pushed
	raw.Drop(raw.Context)

	assert.Equal(t, int32(1), first.drops.Load(), "queued item dropped on close")
	assert.Equal(t, int32(1), second.drops.Load(), "item arriving after close dropped")
	_, err = h.TryRecv()
	require.ErrorIs(t, err, ErrDisconnected)
}

func TestRingChannelKeepsLatest(t *testing.T) {
	cb, h := NewRingChannel[string](1)
	raw, err := bridge(cb.ctx, "test", identity[string], nil)
	require.NoError(t, err)

	raw.Call(raw.Context, "first")
	raw.Call(raw.Context, "second")

	v, err := h.Recv()
	require.NoError(t, err)
	assert.Equal(t, "second", v)
	_, err = h.TryRecv()
	require.ErrorIs(t, err, ErrNoData)

	raw.Drop(raw.Context)
	_, err = h.TryRecv()
	require.ErrorIs(t, err, ErrDisconnected)
}

type dropCounter struct {
	id    int
	drops atomic.Int32
}

func (d *dropCounter) Drop() { d.drops.Add(1) }

func TestRingChannelDropsEvicted(t *testing.T) {
	cb, h := NewRingChannel[*dropCounter](3)
	raw, err := bridge(cb.ctx, "test", identity[*dropCounter], nil)
	require.NoError(t, err)

	items := make([]*dropCounter, 5)
	for i := range items {
		items[i] = &dropCounter{id: i + 1}
		raw.Call(raw.Context, items[i])
	}
	raw.Drop(raw.Context)

	assert.Equal(t, int32(1), items[0].drops.Load())
	assert.Equal(t, int32(1), items[1].drops.Load())
	for _, want := range []int{3, 4, 5} {
		v, err := h.Recv()
		require.NoError(t, err)
		assert.Equal(t, want, v.id)
		assert.Equal(t, int32(0), v.drops.Load())
	}
	_, err = h.Recv()
	require.ErrorIs(t, err, ErrDisconnected)
}

func TestTryRecvOnEmptyConnectedChannel(t *testing.T) {
	cb, h := NewFifoChannel[int](1)
	_, err := h.TryRecv()
	require.ErrorIs(t, err, ErrNoData)
	assert.False(t, h.IsDisconnected())

	cb.Drop()
	assert.True(t, h.IsDisconnected())
	_, err = h.TryRecv()
	require.ErrorIs(t, err, ErrDisconnected)
}

func TestRecvUnblocksOnDisconnect(t *testing.T) {
	cb, h := NewFifoChannel[int](4)
	raw, err := bridge(cb.ctx, "test", identity[int], nil)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := h.Recv()
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)
	raw.Drop(raw.Context)
	require.ErrorIs(t, <-done, ErrDisconnected)
}

func TestRecvContextHonoursCancellation(t *testing.T) {
	cb, h := NewRingChannel[int](4)
	defer cb.Drop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := h.RecvContext(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestChannelBoundMustBePositive(t *testing.T) {
	assert.Panics(t, func() { NewFifoChannel[int](0) })
	assert.Panics(t, func() { NewRingChannel[int](-1) })
}
