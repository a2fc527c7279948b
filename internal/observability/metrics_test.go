package observability

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNewMetrics(t *testing.T) {
	t.Parallel()
	metrics, handler, err := NewMetrics(context.Background())
	if err != nil {
		t.Fatalf("Failed to create metrics: %v", err)
	}
	if metrics == nil {
		t.Fatal("Expected metrics to be non-nil")
	}
	if handler == nil {
		t.Fatal("Expected handler to be non-nil")
	}
}

func TestRecordedMetricsAreScraped(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	metrics, handler, err := NewMetrics(ctx)
	if err != nil {
		t.Fatalf("Failed to create metrics: %v", err)
	}

	metrics.RecordRunStarted(ctx, "96-well")
	metrics.RecordStageSubmitted(ctx, "downsample")
	metrics.RecordPollTick(ctx, "downsample")
	metrics.RecordStageFinished(ctx, "downsample", "complete", 120)
	metrics.RecordQueryError(ctx, "ilastik")
	metrics.RecordPublishError(ctx)
	metrics.RecordRunFinished(ctx, "96-well", "failed", "query", 300)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	text := string(body)
	for _, want := range []string{
		"celigo_runs_total",
		"celigo_stage_submissions_total",
		"celigo_poll_ticks_total",
		"celigo_queue_query_errors_total",
		"celigo_publish_errors_total",
		"celigo_run_duration_seconds",
		`stage="downsample"`,
		`kind="query"`,
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("scrape missing %q:\n%s", want, text)
		}
	}
}

func TestNilMetricsAreNoops(t *testing.T) {
	t.Parallel()
	var metrics *Metrics
	ctx := context.Background()

	// Should not panic
	metrics.RecordRunStarted(ctx, "p")
	metrics.RecordRunFinished(ctx, "p", "complete", "", 1)
	metrics.RecordStageSubmitted(ctx, "s")
	metrics.RecordStageFinished(ctx, "s", "complete", 1)
	metrics.RecordPollTick(ctx, "s")
	metrics.RecordQueryError(ctx, "s")
	metrics.RecordPublishError(ctx)
	if err := metrics.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown on nil metrics: %v", err)
	}
}

func TestKindAttrDefaults(t *testing.T) {
	t.Parallel()
	if got := kindAttr("").Value.AsString(); got != "none" {
		t.Fatalf("expected none, got %q", got)
	}
}
