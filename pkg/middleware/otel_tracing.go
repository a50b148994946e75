package middleware

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hyp3rd/hyperstore"
	"github.com/hyp3rd/hyperstore/internal/telemetry/attrs"
)

// OTelTracingMiddleware wraps hyperstore.Service methods with OpenTelemetry spans.
type OTelTracingMiddleware struct {
	next   hyperstore.Service
	tracer trace.Tracer
	// static attributes applied to all spans
	commonAttrs []attribute.KeyValue
}

// OTelTracingOption allows configuring the tracing middleware.
type OTelTracingOption func(*OTelTracingMiddleware)

// WithCommonAttributes sets attributes applied to all spans.
func WithCommonAttributes(attributes ...attribute.KeyValue) OTelTracingOption {
	return func(m *OTelTracingMiddleware) { m.commonAttrs = append(m.commonAttrs, attributes...) }
}

// NewOTelTracingMiddleware creates a tracing middleware.
func NewOTelTracingMiddleware(next hyperstore.Service, tracer trace.Tracer, opts ...OTelTracingOption) hyperstore.Service {
	mw := &OTelTracingMiddleware{next: next, tracer: tracer}
	for _, o := range opts {
		o(mw)
	}

	return mw
}

// Store implements Service.Store with tracing. The announce callback runs inside the span.
func (mw OTelTracingMiddleware) Store(ctx context.Context, file string, size int64, announce func([]hyperstore.NodeID) error) error {
	ctx, span := mw.startSpan(
		ctx, "hyperstore.Store",
		attribute.String(attrs.AttrFileName, file),
		attribute.Int64(attrs.AttrFileSize, size))
	defer span.End()

	err := mw.next.Store(ctx, file, size, func(targets []hyperstore.NodeID) error {
		span.AddEvent("store_to", trace.WithAttributes(attribute.IntSlice("targets", toInts(targets))))
		span.SetAttributes(attribute.Int(attrs.AttrTargetsCount, len(targets)))

		return announce(targets)
	})
	recordErr(span, err)

	return err
}

// Load implements Service.Load with tracing.
func (mw OTelTracingMiddleware) Load(ctx context.Context, client, file string) (hyperstore.Location, error) {
	ctx, span := mw.startSpan(ctx, "hyperstore.Load", attribute.String(attrs.AttrFileName, file))
	defer span.End()

	loc, err := mw.next.Load(ctx, client, file)
	if err == nil {
		span.SetAttributes(attribute.Int(attrs.AttrNodePort, int(loc.Port)))
	}

	recordErr(span, err)

	return loc, err
}

// Reload implements Service.Reload with tracing.
func (mw OTelTracingMiddleware) Reload(ctx context.Context, client, file string) (hyperstore.Location, error) {
	ctx, span := mw.startSpan(ctx, "hyperstore.Reload", attribute.String(attrs.AttrFileName, file))
	defer span.End()

	loc, err := mw.next.Reload(ctx, client, file)
	if err == nil {
		span.SetAttributes(attribute.Int(attrs.AttrNodePort, int(loc.Port)))
	}

	recordErr(span, err)

	return loc, err
}

// Remove implements Service.Remove with tracing.
func (mw OTelTracingMiddleware) Remove(ctx context.Context, file string) error {
	ctx, span := mw.startSpan(ctx, "hyperstore.Remove", attribute.String(attrs.AttrFileName, file))
	defer span.End()

	err := mw.next.Remove(ctx, file)
	recordErr(span, err)

	return err
}

// List implements Service.List with tracing.
func (mw OTelTracingMiddleware) List(ctx context.Context) ([]string, error) {
	ctx, span := mw.startSpan(ctx, "hyperstore.List")
	defer span.End()

	files, err := mw.next.List(ctx)
	span.SetAttributes(attribute.Int(attrs.AttrFilesCount, len(files)))
	recordErr(span, err)

	return files, err
}

// startSpan starts a span with common and provided attributes.
func (mw OTelTracingMiddleware) startSpan(ctx context.Context, name string, attributes ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := mw.tracer.Start(ctx, name, trace.WithSpanKind(trace.SpanKindInternal))
	if len(mw.commonAttrs) > 0 {
		span.SetAttributes(mw.commonAttrs...)
	}

	if len(attributes) > 0 {
		span.SetAttributes(attributes...)
	}

	return ctx, span
}

func recordErr(span trace.Span, err error) {
	if err == nil {
		return
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, outcome(err))
}
