package tracing

import (
    "context"
    "io"
    "os"
    "sync/atomic"

    "go.opentelemetry.io/otel"
    "go.opentelemetry.io/otel/attribute"
    "go.opentelemetry.io/otel/codes"
    "go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
    sdktrace "go.opentelemetry.io/otel/sdk/trace"
    "go.opentelemetry.io/otel/trace"
)

var enabled atomic.Bool

// Setup configures a global tracer provider writing spans to w (stderr when
// nil) when enable=true. It returns a shutdown function which should be
// deferred.
func Setup(enable bool, w io.Writer) (func(context.Context) error, error) {
    enabled.Store(enable)
    if !enable {
        return func(context.Context) error { return nil }, nil
    }
    if w == nil { w = os.Stderr }
    exp, err := stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithPrettyPrint())
    if err != nil {
        return nil, err
    }
    tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp))
    otel.SetTracerProvider(tp)
    return tp.Shutdown, nil
}

// StartSpan starts a span if tracing is enabled. The returned func ends the
// span, recording err when non-nil.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(err error)) {
    if !enabled.Load() {
        return ctx, func(error) {}
    }
    ctx, span := otel.Tracer("repmgr").Start(ctx, name, trace.WithAttributes(attrs...))
    return ctx, func(err error) {
        if err != nil {
            span.RecordError(err)
            span.SetStatus(codes.Error, err.Error())
        }
        span.End()
    }
}
