package observability

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics holds the pipeline's instruments. A nil *Metrics records nothing,
// so callers never need to check whether metrics are enabled.
type Metrics struct {
	provider *sdkmetric.MeterProvider

	// Work unit runs (traffic, errors, latency, saturation)
	RunsTotal   metric.Int64Counter
	RunDuration metric.Float64Histogram
	RunsActive  metric.Int64UpDownCounter

	// Stage jobs
	StageSubmissions metric.Int64Counter
	StageDuration    metric.Float64Histogram
	PollTicks        metric.Int64Counter
	QueryErrors      metric.Int64Counter

	// Publication
	PublishErrors metric.Int64Counter
}

// NewMetrics creates the instruments on a private Prometheus registry and
// returns the handler that serves it.
func NewMetrics(ctx context.Context) (*Metrics, http.Handler, error) {
	registry := prometheus.NewRegistry()
	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, nil, err
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	meter := provider.Meter("celigo")
	m := &Metrics{provider: provider}

	m.RunsTotal, err = meter.Int64Counter(
		"celigo_runs_total",
		metric.WithDescription("Work unit runs by terminal status"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.RunDuration, err = meter.Float64Histogram(
		"celigo_run_duration_seconds",
		metric.WithDescription("Work unit run duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(60, 300, 600, 1800, 3600, 7200, 14400, 28800),
	)
	if err != nil {
		return nil, nil, err
	}

	m.RunsActive, err = meter.Int64UpDownCounter(
		"celigo_runs_active",
		metric.WithDescription("Work units currently being driven (saturation)"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.StageSubmissions, err = meter.Int64Counter(
		"celigo_stage_submissions_total",
		metric.WithDescription("Stage jobs handed to the scheduler"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.StageDuration, err = meter.Float64Histogram(
		"celigo_stage_duration_seconds",
		metric.WithDescription("Time from submission to terminal poll state"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(30, 60, 120, 300, 600, 1200, 1800, 3600, 7200),
	)
	if err != nil {
		return nil, nil, err
	}

	m.PollTicks, err = meter.Int64Counter(
		"celigo_poll_ticks_total",
		metric.WithDescription("Poll iterations across all stage jobs"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.QueryErrors, err = meter.Int64Counter(
		"celigo_queue_query_errors_total",
		metric.WithDescription("Queue queries that failed after retries"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.PublishErrors, err = meter.Int64Counter(
		"celigo_publish_errors_total",
		metric.WithDescription("Failed artifact uploads or result upserts"),
	)
	if err != nil {
		return nil, nil, err
	}

	return m, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), nil
}

// Shutdown flushes and stops the meter provider.
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m == nil || m.provider == nil {
		return nil
	}
	return m.provider.Shutdown(ctx)
}

// RecordRunStarted records a work unit entering the driver.
func (m *Metrics) RecordRunStarted(ctx context.Context, profile string) {
	if m == nil {
		return
	}
	m.RunsActive.Add(ctx, 1, metric.WithAttributes(profileAttr(profile)))
}

// RecordRunFinished records a work unit reaching a terminal status.
func (m *Metrics) RecordRunFinished(ctx context.Context, profile, status, kind string, durationSeconds float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(profileAttr(profile), statusAttr(status), kindAttr(kind))
	m.RunsTotal.Add(ctx, 1, attrs)
	m.RunDuration.Record(ctx, durationSeconds, metric.WithAttributes(profileAttr(profile), statusAttr(status)))
	m.RunsActive.Add(ctx, -1, metric.WithAttributes(profileAttr(profile)))
}

// RecordStageSubmitted records a job submission for stage.
func (m *Metrics) RecordStageSubmitted(ctx context.Context, stage string) {
	if m == nil {
		return
	}
	m.StageSubmissions.Add(ctx, 1, WithStage(stage))
}

// RecordStageFinished records the terminal poll state of a stage job.
func (m *Metrics) RecordStageFinished(ctx context.Context, stage, state string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.StageDuration.Record(ctx, durationSeconds, metric.WithAttributes(stageAttr(stage), stateAttr(state)))
}

// RecordPollTick counts one poll iteration.
func (m *Metrics) RecordPollTick(ctx context.Context, stage string) {
	if m == nil {
		return
	}
	m.PollTicks.Add(ctx, 1, WithStage(stage))
}

// RecordQueryError counts a queue query that exhausted its retries.
func (m *Metrics) RecordQueryError(ctx context.Context, stage string) {
	if m == nil {
		return
	}
	m.QueryErrors.Add(ctx, 1, WithStage(stage))
}

// RecordPublishError counts a failed publication.
func (m *Metrics) RecordPublishError(ctx context.Context) {
	if m == nil {
		return
	}
	m.PublishErrors.Add(ctx, 1)
}
