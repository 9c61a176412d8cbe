// Package observability wires OpenTelemetry tracing and metrics for the
// pipeline. Spans cover agent stages and publish attempts; the named
// instruments below are the operational surface a dashboard needs to answer
// "did today's run happen, did it publish, and did anything get held".
package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const scopeName = "herald"

// Config configures the OTLP exporters. Disabled means every Record method
// is a no-op, so callers never branch on whether telemetry is up.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string // host:port of an OTLP gRPC collector
	SampleRate     float64
	BatchTimeout   time.Duration
	Enabled        bool
	Insecure       bool
}

// DefaultConfig samples everything against a local collector.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "herald",
		ServiceVersion: "dev",
		Environment:    "development",
		OTLPEndpoint:   "localhost:4317",
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
		Enabled:        true,
		Insecure:       true,
	}
}

// Provider owns the trace and meter providers plus the pipeline instruments.
type Provider struct {
	config         *Config
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	meter          metric.Meter
	logger         *slog.Logger

	runsTotal       metric.Int64Counter
	runsFailedTotal metric.Int64Counter
	publishTotal    metric.Int64Counter
	policyFailTotal metric.Int64Counter
	notifyTotal     metric.Int64Counter
	agentLatency    metric.Float64Histogram
	jobLatency      metric.Float64Histogram
}

// New builds a Provider and installs it as the global OTel provider. With
// Enabled false it returns a provider whose methods all no-op.
func New(ctx context.Context, config *Config) (*Provider, error) {
	if config == nil {
		config = DefaultConfig()
	}
	p := &Provider{
		config: config,
		logger: slog.Default().With("component", "observability"),
	}
	if !config.Enabled {
		p.logger.InfoContext(ctx, "telemetry disabled")
		return p, nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
			semconv.DeploymentEnvironment(config.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("observability: build resource: %w", err)
	}

	if err := p.initTraces(ctx, res); err != nil {
		return nil, fmt.Errorf("observability: traces: %w", err)
	}
	if err := p.initMetrics(ctx, res); err != nil {
		return nil, fmt.Errorf("observability: metrics: %w", err)
	}

	p.tracer = otel.Tracer(scopeName, trace.WithInstrumentationVersion(config.ServiceVersion))
	p.meter = otel.Meter(scopeName, metric.WithInstrumentationVersion(config.ServiceVersion))
	if err := p.initInstruments(); err != nil {
		return nil, fmt.Errorf("observability: instruments: %w", err)
	}

	p.logger.InfoContext(ctx, "telemetry initialized",
		"service", config.ServiceName,
		"endpoint", config.OTLPEndpoint,
		"sample_rate", config.SampleRate,
	)
	return p, nil
}

func (p *Provider) initTraces(ctx context.Context, res *resource.Resource) error {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(p.config.OTLPEndpoint)}
	if p.config.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("trace exporter: %w", err)
	}

	var sampler sdktrace.Sampler
	switch {
	case p.config.SampleRate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	case p.config.SampleRate <= 0.0:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(p.config.SampleRate)
	}

	p.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(p.config.BatchTimeout)),
		sdktrace.WithSampler(sampler),
	)
	otel.SetTracerProvider(p.tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return nil
}

func (p *Provider) initMetrics(ctx context.Context, res *resource.Resource) error {
	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(p.config.OTLPEndpoint)}
	if p.config.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("metric exporter: %w", err)
	}
	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(15*time.Second))),
	)
	otel.SetMeterProvider(p.meterProvider)
	return nil
}

func (p *Provider) initInstruments() error {
	var err error
	if p.runsTotal, err = p.meter.Int64Counter("runs_total",
		metric.WithDescription("Pipeline runs started"), metric.WithUnit("{run}")); err != nil {
		return err
	}
	if p.runsFailedTotal, err = p.meter.Int64Counter("runs_failed_total",
		metric.WithDescription("Pipeline runs that ended in error"), metric.WithUnit("{run}")); err != nil {
		return err
	}
	if p.publishTotal, err = p.meter.Int64Counter("publish_total",
		metric.WithDescription("Publish outcomes by status"), metric.WithUnit("{draft}")); err != nil {
		return err
	}
	if p.policyFailTotal, err = p.meter.Int64Counter("policy_fail_total",
		metric.WithDescription("Policy gate failures by suggested action"), metric.WithUnit("{report}")); err != nil {
		return err
	}
	if p.notifyTotal, err = p.meter.Int64Counter("notify_total",
		metric.WithDescription("Reviewer notifications by channel and status"), metric.WithUnit("{notification}")); err != nil {
		return err
	}
	if p.agentLatency, err = p.meter.Float64Histogram("agent_latency_seconds",
		metric.WithDescription("Per-stage latency"), metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120)); err != nil {
		return err
	}
	if p.jobLatency, err = p.meter.Float64Histogram("job_latency_seconds",
		metric.WithDescription("Scheduled job latency"), metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.5, 1, 5, 15, 30, 60, 120, 300, 600)); err != nil {
		return err
	}
	return nil
}

// Shutdown flushes and stops both providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "trace provider shutdown failed", "error", err)
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "meter provider shutdown failed", "error", err)
		}
	}
	return nil
}

// Tracer returns the provider's tracer, falling back to the global one.
func (p *Provider) Tracer() trace.Tracer {
	if p.tracer == nil {
		return otel.Tracer(scopeName)
	}
	return p.tracer
}

// StartSpan opens a span on the provider's tracer.
func (p *Provider) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return p.Tracer().Start(ctx, name, opts...)
}

// RecordRunStarted counts a run kickoff, labelled by its trigger.
func (p *Provider) RecordRunStarted(ctx context.Context, source string) {
	if p.runsTotal != nil {
		p.runsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("source", source)))
	}
}

// RecordRunFailed counts a run that finalized with an error.
func (p *Provider) RecordRunFailed(ctx context.Context, source string) {
	if p.runsFailedTotal != nil {
		p.runsFailedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("source", source)))
	}
}

// RecordPublish counts one publish outcome.
func (p *Provider) RecordPublish(ctx context.Context, status string, dryRun bool) {
	if p.publishTotal != nil {
		p.publishTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("status", status),
			attribute.Bool("dry_run", dryRun),
		))
	}
}

// RecordPolicyFail counts a failing policy report by its suggested action.
func (p *Provider) RecordPolicyFail(ctx context.Context, action string) {
	if p.policyFailTotal != nil {
		p.policyFailTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("action", action)))
	}
}

// RecordNotify counts one notification delivery attempt.
func (p *Provider) RecordNotify(ctx context.Context, channel, status string) {
	if p.notifyTotal != nil {
		p.notifyTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("channel", channel),
			attribute.String("status", status),
		))
	}
}

// ObserveAgentLatency records one stage execution.
func (p *Provider) ObserveAgentLatency(ctx context.Context, agent string, d time.Duration) {
	if p.agentLatency != nil {
		p.agentLatency.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("agent", agent)))
	}
}

// ObserveJobLatency records one scheduled job execution.
func (p *Provider) ObserveJobLatency(ctx context.Context, job string, d time.Duration) {
	if p.jobLatency != nil {
		p.jobLatency.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("job", job)))
	}
}
