package store

import (
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "cart-service"

func addDBStatsToSpan(span trace.Span, system, statement string, rows int, duration time.Duration) {
	span.SetAttributes(
		attribute.Int("rowCount", rows),
		attribute.String("db.system", system),
		attribute.String("db.statement", statement),
		attribute.Float64("db.execution_time_ms", float64(duration.Milliseconds())),
	)
}
