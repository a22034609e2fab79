package telemetry

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"xslttester/internal/diagnostic"
)

func TestObserve(t *testing.T) {
	before := testutil.ToFloat64(transforms.WithLabelValues("ok"))
	ObserveTransform(time.Millisecond, "ok")
	if got := testutil.ToFloat64(transforms.WithLabelValues("ok")); got != before+1 {
		t.Fatalf("transforms_total{ok}: want %v, got %v", before+1, got)
	}

	l := Diagnostics()
	before = testutil.ToFloat64(diagnostics.WithLabelValues(diagnostic.LevelWarning.String()))
	diagnostic.Report(l, diagnostic.Diagnostic{Level: diagnostic.LevelWarning, Message: "w"})
	if got := testutil.ToFloat64(diagnostics.WithLabelValues(diagnostic.LevelWarning.String())); got != before+1 {
		t.Fatalf("diagnostics_total: want %v, got %v", before+1, got)
	}

	g := testutil.ToFloat64(tasksInFlight)
	TaskStarted()
	TaskFinished()
	if got := testutil.ToFloat64(tasksInFlight); got != g {
		t.Fatalf("tasks_in_flight drifted: %v -> %v", g, got)
	}
}

func TestExpose(t *testing.T) {
	srv := Expose(0)
	defer srv.Close()

	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "xslttester_tasks_in_flight") {
		t.Fatalf("metrics page missing gauge:\n%s", rec.Body.String())
	}
}
