package middleware

import (
	"context"
	"errors"
	"time"

	"github.com/hyp3rd/ewrap"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/hyp3rd/hyperstore"
	"github.com/hyp3rd/hyperstore/internal/sentinel"
	"github.com/hyp3rd/hyperstore/internal/telemetry/attrs"
)

// OTelMetricsMiddleware emits OpenTelemetry metrics for service methods.
type OTelMetricsMiddleware struct {
	next  hyperstore.Service
	meter metric.Meter

	// instruments
	calls     metric.Int64Counter
	durations metric.Float64Histogram
}

// NewOTelMetricsMiddleware constructs a metrics middleware using the provided meter.
func NewOTelMetricsMiddleware(next hyperstore.Service, meter metric.Meter) (hyperstore.Service, error) {
	calls, err := meter.Int64Counter("hyperstore.calls")
	if err != nil {
		return nil, ewrap.Wrap(err, "create counter")
	}

	durations, err := meter.Float64Histogram("hyperstore.duration.ms")
	if err != nil {
		return nil, ewrap.Wrap(err, "create histogram")
	}

	return &OTelMetricsMiddleware{next: next, meter: meter, calls: calls, durations: durations}, nil
}

// Store implements Service.Store with metrics.
func (mw *OTelMetricsMiddleware) Store(ctx context.Context, file string, size int64, announce func([]hyperstore.NodeID) error) error {
	start := time.Now()
	err := mw.next.Store(ctx, file, size, announce)
	mw.rec(ctx, "Store", start, err, attribute.Int64(attrs.AttrFileSize, size))

	return err
}

// Load implements Service.Load with metrics.
func (mw *OTelMetricsMiddleware) Load(ctx context.Context, client, file string) (hyperstore.Location, error) {
	start := time.Now()
	loc, err := mw.next.Load(ctx, client, file)
	mw.rec(ctx, "Load", start, err)

	return loc, err
}

// Reload implements Service.Reload with metrics.
func (mw *OTelMetricsMiddleware) Reload(ctx context.Context, client, file string) (hyperstore.Location, error) {
	start := time.Now()
	loc, err := mw.next.Reload(ctx, client, file)
	mw.rec(ctx, "Reload", start, err)

	return loc, err
}

// Remove implements Service.Remove with metrics.
func (mw *OTelMetricsMiddleware) Remove(ctx context.Context, file string) error {
	start := time.Now()
	err := mw.next.Remove(ctx, file)
	mw.rec(ctx, "Remove", start, err)

	return err
}

// List implements Service.List with metrics.
func (mw *OTelMetricsMiddleware) List(ctx context.Context) ([]string, error) {
	start := time.Now()
	files, err := mw.next.List(ctx)
	mw.rec(ctx, "List", start, err, attribute.Int(attrs.AttrFilesCount, len(files)))

	return files, err
}

// rec records call count and duration with attributes.
func (mw *OTelMetricsMiddleware) rec(ctx context.Context, method string, start time.Time, err error, extra ...attribute.KeyValue) {
	base := []attribute.KeyValue{attribute.String("method", method), attribute.String(attrs.AttrOutcome, outcome(err))}
	if len(extra) > 0 {
		base = append(base, extra...)
	}

	mw.calls.Add(ctx, 1, metric.WithAttributes(base...))
	mw.durations.Record(ctx, float64(time.Since(start).Milliseconds()), metric.WithAttributes(base...))
}

// outcome keeps attribute cardinality bounded by reporting the sentinel, not the wrapped text.
func outcome(err error) string {
	if err == nil {
		return "ok"
	}

	for _, s := range knownErrors {
		if errors.Is(err, s) {
			return s.Error()
		}
	}

	return "error"
}

var knownErrors = []error{
	sentinel.ErrAlreadyExists,
	sentinel.ErrNotFound,
	sentinel.ErrLoadExhausted,
	sentinel.ErrQuorumTimeout,
	sentinel.ErrNotEnoughNodes,
	sentinel.ErrTimeoutOrCanceled,
}
