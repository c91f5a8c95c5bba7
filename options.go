package protomodel

import (
	"io"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Option configures a Registry.
type Option func(*registryConfig)

// registryConfig holds configuration shared by every model of a registry.
type registryConfig struct {
	logger   *slog.Logger
	tracer   trace.Tracer
	meter    metric.Meter
	store    Store
	location *time.Location
	typeCast bool
}

func defaultConfig() registryConfig {
	return registryConfig{
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		tracer:   noop.NewTracerProvider().Tracer("protomodel"),
		meter:    metricnoop.NewMeterProvider().Meter("protomodel"),
		typeCast: true,
	}
}

// WithLogger sets the logger used for conversion diagnostics.
// If not provided, log output is discarded.
func WithLogger(logger *slog.Logger) Option {
	return func(c *registryConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithTracer sets an OpenTelemetry tracer. ToMessage, FromMessage and Save
// open one span per call.
func WithTracer(tracer trace.Tracer) Option {
	return func(c *registryConfig) {
		if tracer != nil {
			c.tracer = tracer
		}
	}
}

// WithMeter sets an OpenTelemetry meter. Conversions are counted by
// direction and outcome, failed fields by model and field, and conversion
// time is recorded as a histogram.
func WithMeter(meter metric.Meter) Option {
	return func(c *registryConfig) {
		if meter != nil {
			c.meter = meter
		}
	}
}

// WithStore sets the persistence provider used by Save and by relation
// lookups during conversion.
func WithStore(store Store) Option {
	return func(c *registryConfig) {
		c.store = store
	}
}

// WithTimeZone enables zone-aware mode: timestamps read from messages are
// converted to loc. Outgoing timestamps are always normalized to UTC.
func WithTimeZone(loc *time.Location) Option {
	return func(c *registryConfig) {
		c.location = loc
	}
}

// WithTypeCast sets the type casting default for declarations that leave
// Declaration.TypeCast unset. Casting is enabled by default.
func WithTypeCast(enabled bool) Option {
	return func(c *registryConfig) {
		c.typeCast = enabled
	}
}
