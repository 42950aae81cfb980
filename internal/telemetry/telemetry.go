// Package telemetry wires OpenTelemetry for release runs.
//
// Nothing is exported unless SHIPYARD_OTEL_ENABLED=true:
//
//	SHIPYARD_OTEL_ENABLED=true        turn telemetry on
//	SHIPYARD_OTEL_STDOUT=true         pretty-print spans and metrics to stdout
//	OTEL_EXPORTER_OTLP_ENDPOINT=...   OTLP/HTTP metrics endpoint
//
// Spans have no remote exporter; they are printed to stdout, either on
// request or when no metrics endpoint is configured.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const instrumentationScope = "github.com/shipyard-cli/shipyard"

const (
	stdoutMetricInterval = 15 * time.Second
	otlpMetricInterval   = 30 * time.Second
)

// Settings selects the exporters installed by Init.
type Settings struct {
	Enabled         bool
	Stdout          bool
	MetricsEndpoint string
	ServiceName     string
	ServiceVersion  string
}

// SettingsFromEnv reads the SHIPYARD_OTEL_* and OTEL_EXPORTER_OTLP_*
// variables.
func SettingsFromEnv(service, version string) Settings {
	return Settings{
		Enabled: os.Getenv("SHIPYARD_OTEL_ENABLED") == "true",
		Stdout:  os.Getenv("SHIPYARD_OTEL_STDOUT") == "true",
		MetricsEndpoint: firstNonEmpty(
			os.Getenv("OTEL_EXPORTER_OTLP_METRICS_ENDPOINT"),
			os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		),
		ServiceName:    service,
		ServiceVersion: version,
	}
}

// printSpans reports whether spans should go to stdout.
func (s Settings) printSpans() bool {
	return s.Stdout || s.MetricsEndpoint == ""
}

var providers struct {
	tracer *sdktrace.TracerProvider
	meter  *sdkmetric.MeterProvider
}

// Enabled reports whether SHIPYARD_OTEL_ENABLED is set to true.
func Enabled() bool {
	return SettingsFromEnv("", "").Enabled
}

// Init installs the global providers. Disabled settings install no-op
// providers.
func Init(ctx context.Context, s Settings) error {
	if !s.Enabled {
		otel.SetTracerProvider(tracenoop.NewTracerProvider())
		otel.SetMeterProvider(metricnoop.NewMeterProvider())
		return nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(s.ServiceName),
			semconv.ServiceVersionKey.String(s.ServiceVersion),
		),
		resource.WithHost(),
		resource.WithProcess(),
	)
	if err != nil {
		return fmt.Errorf("telemetry: resource: %w", err)
	}

	tp, err := newTracerProvider(s, res)
	if err != nil {
		return fmt.Errorf("telemetry: trace provider: %w", err)
	}
	mp, err := newMeterProvider(ctx, s, res)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return fmt.Errorf("telemetry: metric provider: %w", err)
	}

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	providers.tracer, providers.meter = tp, mp
	return nil
}

func newTracerProvider(s Settings, res *resource.Resource) (*sdktrace.TracerProvider, error) {
	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	}
	if s.printSpans() {
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, err
		}
		// A run has a handful of spans; export them as they end.
		opts = append(opts, sdktrace.WithSyncer(exp))
	}
	return sdktrace.NewTracerProvider(opts...), nil
}

func newMeterProvider(ctx context.Context, s Settings, res *resource.Resource) (*sdkmetric.MeterProvider, error) {
	opts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	if s.Stdout {
		exp, err := stdoutmetric.New()
		if err != nil {
			return nil, err
		}
		opts = append(opts, sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(stdoutMetricInterval)),
		))
	}
	if s.MetricsEndpoint != "" {
		exp, err := buildOTLPMetricExporter(ctx, s.MetricsEndpoint)
		if err != nil {
			return nil, fmt.Errorf("otlp metric exporter: %w", err)
		}
		opts = append(opts, sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(otlpMetricInterval)),
		))
	}
	return sdkmetric.NewMeterProvider(opts...), nil
}

// Tracer returns a tracer from the global provider.
func Tracer(name string) trace.Tracer {
	if name == "" {
		name = instrumentationScope
	}
	return otel.Tracer(name)
}

// Meter returns a meter from the global provider.
func Meter(name string) metric.Meter {
	if name == "" {
		name = instrumentationScope
	}
	return otel.Meter(name)
}

// Shutdown flushes pending spans and metrics. The periodic readers push a
// final collection here, so stage metrics of short runs are not lost.
func Shutdown(ctx context.Context) error {
	var errs []error
	if providers.tracer != nil {
		errs = append(errs, providers.tracer.Shutdown(ctx))
	}
	if providers.meter != nil {
		errs = append(errs, providers.meter.Shutdown(ctx))
	}
	providers.tracer, providers.meter = nil, nil
	return errors.Join(errs...)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
