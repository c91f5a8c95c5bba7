package protomodel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
)

const (
	directionToMessage   = "to_message"
	directionFromMessage = "from_message"
)

// conversionMetrics holds the instruments recorded by ToMessage and
// FromMessage. They are created once per registry.
type conversionMetrics struct {
	// conversions counts top-level conversions by direction and outcome.
	conversions metric.Int64Counter

	// failures counts fields that failed to convert, nested models included.
	failures metric.Int64Counter

	// duration records top-level conversion time in milliseconds.
	duration metric.Float64Histogram
}

// newConversionMetrics creates the instruments from meter. When an instrument
// cannot be created the registry falls back to no-op instruments.
func newConversionMetrics(meter metric.Meter, logger *slog.Logger) conversionMetrics {
	m, err := createConversionMetrics(meter)
	if err != nil {
		logger.Warn("conversion metrics disabled", slog.String("error", err.Error()))
		m, _ = createConversionMetrics(metricnoop.NewMeterProvider().Meter("protomodel"))
	}
	return m
}

func createConversionMetrics(meter metric.Meter) (conversionMetrics, error) {
	var m conversionMetrics
	var errs []error
	var err error

	m.conversions, err = meter.Int64Counter(
		"protomodel.conversions",
		metric.WithDescription("Number of message conversions"),
		metric.WithUnit("1"),
	)
	if err != nil {
		errs = append(errs, fmt.Errorf("create conversions counter: %w", err))
	}

	m.failures, err = meter.Int64Counter(
		"protomodel.field_failures",
		metric.WithDescription("Number of fields that failed to convert"),
		metric.WithUnit("1"),
	)
	if err != nil {
		errs = append(errs, fmt.Errorf("create field failures counter: %w", err))
	}

	m.duration, err = meter.Float64Histogram(
		"protomodel.conversion.duration",
		metric.WithDescription("Conversion duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		errs = append(errs, fmt.Errorf("create duration histogram: %w", err))
	}

	return m, errors.Join(errs...)
}

func (m conversionMetrics) recordConversion(ctx context.Context, model, direction string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	opts := metric.WithAttributes(
		attribute.String("protomodel.model", model),
		attribute.String("protomodel.direction", direction),
		attribute.String("protomodel.outcome", outcome),
	)
	m.conversions.Add(ctx, 1, opts)
	m.duration.Record(ctx, float64(time.Since(start).Microseconds())/1000, opts)
}

func (m conversionMetrics) recordFieldFailure(ctx context.Context, model, field, direction string) {
	m.failures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("protomodel.model", model),
		attribute.String("protomodel.field", field),
		attribute.String("protomodel.direction", direction),
	))
}
