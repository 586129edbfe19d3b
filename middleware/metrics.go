package middleware

import (
	"context"
	"time"

	"github.com/gsrpc/dispatcher"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics record unit duration and execution count on the global meter
// provider
func Metrics() Middleware {
	return MetricsWithMeter(otel.Meter(instrumentationName))
}

// MetricsWithMeter .
func MetricsWithMeter(meter metric.Meter) Middleware {

	// instrument errors fall back to noop instruments
	duration, _ := meter.Float64Histogram(
		"dispatcher.unit.duration",
		metric.WithDescription("Duration of unit execution in seconds"),
		metric.WithUnit("s"),
	)

	executions, _ := meter.Int64Counter(
		"dispatcher.unit.executions",
		metric.WithDescription("Total number of executed units"),
		metric.WithUnit("{execution}"),
	)

	return func(ctx context.Context, unit *dispatcher.Unit, next Handler) error {
		start := time.Now()

		err := next(ctx)

		elapsed := time.Since(start).Seconds()

		status := "ok"

		if err != nil {
			status = "error"
		}

		executor, _ := dispatcher.ExecutorName(ctx)

		attrs := metric.WithAttributes(
			attribute.String("dispatcher.executor", executor),
			attribute.String("status", status),
		)

		duration.Record(ctx, elapsed, attrs)
		executions.Add(ctx, 1, attrs)

		return err
	}
}
