package zenoh

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/hsiuhsiu/zenoh-go-exp/pkg/zenoh/internal/backend"
)

func identity[T any](v T) T { return v }

// transfer hands c to a fake engine as an ABI closure over string payloads.
func transfer(t *testing.T, c *closureContext[string], token *CancellationToken) backend.Closure[string] {
	t.Helper()
	raw, err := bridge(c, "test", identity[string], token)
	require.NoError(t, err)
	return raw
}

func TestClosureLocalDropRunsOnce(t *testing.T) {
	var calls, drops int
	c := NewClosure(func(string) { calls++ }, func() { drops++ })
	require.True(t, c.IsCallable())

	c.Drop()
	c.Drop()
	copied := c
	copied.Drop()

	assert.Equal(t, 0, calls)
	assert.Equal(t, 1, drops)
}

func TestClosureTransferredOnlyEngineDrops(t *testing.T) {
	before := backend.Count()
	var got []string
	var drops int
	c := NewClosure(func(s string) { got = append(got, s) }, func() { drops++ })

	raw := transfer(t, c.ctx, nil)
	assert.Equal(t, before+1, backend.Count())

	c.Drop()
	assert.Equal(t, 0, drops, "local drop after transfer must be a no-op")

	raw.Call(raw.Context, "a")
	raw.Call(raw.Context, "b")
	raw.Drop(raw.Context)
	raw.Drop(raw.Context)

	assert.Equal(t, []string{"a", "b"}, got)
	assert.Equal(t, 1, drops)
	assert.Equal(t, before, backend.Count())
}

func TestClosureNilDropDefaultsToNoop(t *testing.T) {
	var calls int
	c := NewMoveClosure(func(string) { calls++ }, nil)
	raw := transfer(t, c.ctx, nil)
	raw.Call(raw.Context, "x")
	raw.Drop(raw.Context)
	assert.Equal(t, 1, calls)
}

func TestClosureNotCallableIsRejected(t *testing.T) {
	var zero Closure[string]
	assert.False(t, zero.IsCallable())
	zero.Drop()
	_, err := bridge(zero.ctx, "test", identity[string], nil)
	require.ErrorIs(t, err, ErrNotCallable)

	var drops int
	noCall := NewClosure[string](nil, func() { drops++ })
	assert.False(t, noCall.IsCallable())
	_, err = bridge(noCall.ctx, "test", identity[string], nil)
	require.ErrorIs(t, err, ErrNotCallable)
	assert.Equal(t, 1, drops, "rejected closure is consumed")
}

func TestClosureCannotBeTransferredTwice(t *testing.T) {
	var drops int
	c := NewClosure(func(string) {}, func() { drops++ })
	raw := transfer(t, c.ctx, nil)

	_, err := bridge(c.ctx, "test", identity[string], nil)
	require.ErrorIs(t, err, ErrClosureConsumed)

	backend.DropClosure(&raw)
	assert.Equal(t, 1, drops)
	assert.True(t, raw.IsNull())
}

func TestCloningClonesEachView(t *testing.T) {
	var got []string
	var drops int
	inner := NewMoveClosure(func(s string) { got = append(got, s) }, func() { drops++ })
	outer := Cloning(inner, func(v string) string { return v + "!" })

	inner.Drop()
	assert.Equal(t, 0, drops, "inner closure belongs to the adapter")

	raw := transfer(t, outer.ctx, nil)
	raw.Call(raw.Context, "a")
	raw.Drop(raw.Context)

	assert.Equal(t, []string{"a!"}, got)
	assert.Equal(t, 1, drops)
}

func TestCloningConsumedClosureReportsConsumed(t *testing.T) {
	inner := NewMoveClosure(func(string) {}, nil)
	_, err := bridge(inner.ctx, "test", identity[string], nil)
	require.NoError(t, err)

	outer := Cloning(inner, func(v string) string { return v })
	_, err = bridge(outer.ctx, "test", identity[string], nil)
	require.ErrorIs(t, err, ErrClosureConsumed)
}

func TestClosurePanicIsRecoveredAndCounted(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	require.NoError(t, SetMeterProvider(mp))
	t.Cleanup(func() {
		require.NoError(t, SetMeterProvider(nil))
		require.NoError(t, mp.Shutdown(context.Background()))
	})

	var delivered atomic.Int32
	c := NewClosure(func(s string) {
		if s == "boom" {
			panic("callback failure")
		}
		delivered.Add(1)
	}, nil)
	raw := transfer(t, c.ctx, nil)
	require.NotPanics(t, func() {
		raw.Call(raw.Context, "ok")
		raw.Call(raw.Context, "boom")
		raw.Call(raw.Context, "ok")
	})
	raw.Drop(raw.Context)
	assert.Equal(t, int32(2), delivered.Load())

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	assert.Equal(t, int64(3), counterValue(t, rm, metricClosureCalls))
	assert.Equal(t, int64(1), counterValue(t, rm, metricClosurePanics))
}

func counterValue(t *testing.T, rm metricdata.ResourceMetrics, name string) int64 {
	t.Helper()
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, "metric %s is not an int64 sum", name)
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
		}
	}
	return total
}
