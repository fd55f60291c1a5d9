package zenoh

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/hsiuhsiu/zenoh-go-exp/pkg/zenoh/logging"
)

const (
	instrumentationName = "github.com/hsiuhsiu/zenoh-go-exp/pkg/zenoh"

	metricClosureCalls   = "zenoh.closure.calls"
	metricClosurePanics  = "zenoh.closure.panics"
	metricChannelEvicted = "zenoh.channel.evicted"
	metricCancelWait     = "zenoh.cancel.wait"
)

type instruments struct {
	calls      metric.Int64Counter
	panics     metric.Int64Counter
	evicted    metric.Int64Counter
	cancelWait metric.Float64Histogram
}

var (
	meters atomic.Pointer[instruments]
	logger atomic.Pointer[loggerBox]
)

type loggerBox struct{ l logging.Logger }

func init() {
	ins, err := newInstruments(otel.GetMeterProvider())
	if err != nil {
		panic(err)
	}
	meters.Store(ins)
	logger.Store(&loggerBox{l: logging.New(nil).With("component", "zenoh")})
}

func newInstruments(mp metric.MeterProvider) (*instruments, error) {
	meter := mp.Meter(instrumentationName)
	calls, err := meter.Int64Counter(metricClosureCalls,
		metric.WithDescription("callbacks delivered to user closures"),
		metric.WithUnit("1"))
	if err != nil {
		return nil, fmt.Errorf("zenoh: create counter failed: %w", err)
	}
	panics, err := meter.Int64Counter(metricClosurePanics,
		metric.WithDescription("panics recovered from user closures"),
		metric.WithUnit("1"))
	if err != nil {
		return nil, fmt.Errorf("zenoh: create counter failed: %w", err)
	}
	evicted, err := meter.Int64Counter(metricChannelEvicted,
		metric.WithDescription("items evicted from ring channels"),
		metric.WithUnit("1"))
	if err != nil {
		return nil, fmt.Errorf("zenoh: create counter failed: %w", err)
	}
	wait, err := meter.Float64Histogram(metricCancelWait,
		metric.WithDescription("time Cancel waited for in-flight callbacks"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("zenoh: create histogram failed: %w", err)
	}
	return &instruments{calls: calls, panics: panics, evicted: evicted, cancelWait: wait}, nil
}

// SetMeterProvider routes the binding's metrics to mp. Passing nil restores
// the global provider.
func SetMeterProvider(mp metric.MeterProvider) error {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	ins, err := newInstruments(mp)
	if err != nil {
		return err
	}
	meters.Store(ins)
	return nil
}

// SetLogger replaces the logger used for events raised on engine goroutines,
// such as recovered callback panics. Passing nil restores slog.Default().
func SetLogger(l logging.Logger) {
	if l == nil {
		l = logging.New(nil).With("component", "zenoh")
	}
	logger.Store(&loggerBox{l: l})
}

func currentLogger() logging.Logger { return logger.Load().l }

func kindAttr(kind string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("kind", kind))
}

func recordCall(kind string) {
	meters.Load().calls.Add(context.Background(), 1, kindAttr(kind))
}

func recordPanic(kind string, v any) {
	meters.Load().panics.Add(context.Background(), 1, kindAttr(kind))
	currentLogger().Error(context.Background(), "recovered panic in closure", "kind", kind, "panic", fmt.Sprint(v))
}

func recordEviction(n int) {
	meters.Load().evicted.Add(context.Background(), int64(n))
}

func recordCancelWait(d time.Duration) {
	meters.Load().cancelWait.Record(context.Background(), d.Seconds())
}
