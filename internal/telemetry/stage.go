package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const workflowScopeName = "github.com/shipyard-cli/shipyard/release"

// StageRecorder records one span and one measurement per workflow stage.
// Stages are counted in shipyard.workflow.stages and timed in
// shipyard.workflow.stage.duration.
type StageRecorder struct {
	tracer trace.Tracer
	stages metric.Int64Counter
	dur    metric.Float64Histogram
	attrs  []attribute.KeyValue
}

// NewStageRecorder builds a recorder from the global providers. With
// telemetry disabled those are no-ops.
func NewStageRecorder(project, version string) *StageRecorder {
	m := Meter(workflowScopeName)
	stages, _ := m.Int64Counter("shipyard.workflow.stages",
		metric.WithDescription("Workflow stages executed"),
	)
	dur, _ := m.Float64Histogram("shipyard.workflow.stage.duration",
		metric.WithDescription("Workflow stage duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	return &StageRecorder{
		tracer: Tracer(workflowScopeName),
		stages: stages,
		dur:    dur,
		attrs: []attribute.KeyValue{
			attribute.String("shipyard.project", project),
			attribute.String("shipyard.version", version),
		},
	}
}

// Start opens a span for stage. The returned function ends it and records
// the outcome.
func (r *StageRecorder) Start(ctx context.Context, stage string) (context.Context, func(error)) {
	start := time.Now()
	attrs := append([]attribute.KeyValue{attribute.String("shipyard.stage", stage)}, r.attrs...)
	ctx, span := r.tracer.Start(ctx, "release."+stage,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)
	return ctx, func(err error) {
		ms := float64(time.Since(start).Milliseconds())
		status := attribute.String("shipyard.status", "ok")
		if err != nil {
			status = attribute.String("shipyard.status", "error")
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		set := metric.WithAttributes(append(attrs, status)...)
		r.stages.Add(ctx, 1, set)
		r.dur.Record(ctx, ms, set)
		span.End()
	}
}
