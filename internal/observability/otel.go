package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

const meterName = "github.com/povarna/generative-ai-agents/guardrail-clamp"

// Setup installs a global MeterProvider exporting over OTLP gRPC.
func Setup(ctx context.Context, serviceName, serviceVersion, endpoint string) (func(context.Context) error, error) {
	res := resource.NewSchemaless(
		attribute.String("service.name", serviceName),
		attribute.String("service.version", serviceVersion),
	)

	exporter, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithEndpoint(endpoint),
		otlpmetricgrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP metric exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(15*time.Second))),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(provider)

	return provider.Shutdown, nil
}

// Metrics holds the guardrail instruments. A nil *Metrics records nothing.
type Metrics struct {
	meter metric.Meter

	SamplesIngested metric.Int64Counter
	SamplesRejected metric.Int64Counter
	Evaluations     metric.Int64Counter
	Triggers        metric.Int64Counter
	FlagFailures    metric.Int64Counter
	FlagLatency     metric.Float64Histogram
}

func InitMetrics() (*Metrics, error) {
	return NewMetrics(otel.Meter(meterName))
}

func NewMetrics(meter metric.Meter) (*Metrics, error) {
	samplesIngested, err := meter.Int64Counter(
		"guardrail.samples.ingested",
		metric.WithDescription("Number of metric samples recorded"),
	)
	if err != nil {
		return nil, err
	}

	samplesRejected, err := meter.Int64Counter(
		"guardrail.samples.rejected",
		metric.WithDescription("Number of metric samples rejected as invalid"),
	)
	if err != nil {
		return nil, err
	}

	evaluations, err := meter.Int64Counter(
		"guardrail.evaluations",
		metric.WithDescription("Number of evaluations that produced a severity"),
	)
	if err != nil {
		return nil, err
	}

	triggers, err := meter.Int64Counter(
		"guardrail.triggers",
		metric.WithDescription("Number of confirmed flag disables"),
	)
	if err != nil {
		return nil, err
	}

	flagFailures, err := meter.Int64Counter(
		"guardrail.flag.failures",
		metric.WithDescription("Number of failed flag control plane calls"),
	)
	if err != nil {
		return nil, err
	}

	flagLatency, err := meter.Float64Histogram(
		"guardrail.flag.duration",
		metric.WithDescription("Flag control plane call duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		meter:           meter,
		SamplesIngested: samplesIngested,
		SamplesRejected: samplesRejected,
		Evaluations:     evaluations,
		Triggers:        triggers,
		FlagFailures:    flagFailures,
		FlagLatency:     flagLatency,
	}, nil
}

// RegisterCooldown exposes the remaining cooldown as an observable gauge.
func (m *Metrics) RegisterCooldown(remaining func() time.Duration) error {
	if m == nil {
		return nil
	}

	gauge, err := m.meter.Float64ObservableGauge(
		"guardrail.cooldown.remaining",
		metric.WithDescription("Seconds left before automatic remediation can fire again"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return err
	}

	_, err = m.meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveFloat64(gauge, remaining().Seconds())
		return nil
	}, gauge)
	return err
}

func (m *Metrics) SampleIngested(ctx context.Context) {
	if m == nil {
		return
	}
	m.SamplesIngested.Add(ctx, 1)
}

func (m *Metrics) SampleRejected(ctx context.Context, field string) {
	if m == nil {
		return
	}
	m.SamplesRejected.Add(ctx, 1, metric.WithAttributes(attribute.String("field", field)))
}

func (m *Metrics) Evaluated(ctx context.Context, severity string) {
	if m == nil {
		return
	}
	m.Evaluations.Add(ctx, 1, metric.WithAttributes(attribute.String("severity", severity)))
}

func (m *Metrics) Triggered(ctx context.Context, source string) {
	if m == nil {
		return
	}
	m.Triggers.Add(ctx, 1, metric.WithAttributes(attribute.String("source", source)))
}

func (m *Metrics) FlagCall(ctx context.Context, op string, duration time.Duration, err error) {
	if m == nil {
		return
	}

	attrs := metric.WithAttributes(attribute.String("op", op), attribute.Bool("error", err != nil))
	m.FlagLatency.Record(ctx, float64(duration.Milliseconds()), attrs)
	if err != nil {
		m.FlagFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
	}
}
