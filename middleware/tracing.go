package middleware

import (
	"context"

	"github.com/gsrpc/dispatcher"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/gsrpc/dispatcher"

// Tracing wrap every unit in a span of the global tracer provider
func Tracing() Middleware {
	return TracingWithTracer(otel.Tracer(instrumentationName))
}

// TracingWithTracer .
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, unit *dispatcher.Unit, next Handler) error {

		executor, _ := dispatcher.ExecutorName(ctx)

		ctx, span := tracer.Start(ctx, "dispatcher.unit.execute",
			trace.WithAttributes(
				attribute.Int64("dispatcher.unit.id", int64(unit.ID)),
				attribute.String("dispatcher.unit.name", unit.Name),
				attribute.String("dispatcher.executor", executor),
			),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		defer span.End()

		err := next(ctx)

		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}

		return err
	}
}
