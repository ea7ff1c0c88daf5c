package metrics

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPrometheusRecorder(t *testing.T) {
	rec := NewPrometheus()
	rec.Observe(context.Background(), "assign_unit", true, 10*time.Millisecond)
	rec.Observe(context.Background(), "assign_unit", false, time.Millisecond)
	rec.SetBackend("remote")
	rec.SetBackend("local")
	rec.StorageFallback()
	rec.Signal("local-token")
	rec.Reconcile("rendered")
	rec.NotifierResult(false)

	if got := testutil.ToFloat64(rec.results.WithLabelValues("assign_unit", "success")); got != 1 {
		t.Fatalf("expected 1 success, got %v", got)
	}
	if got := testutil.ToFloat64(rec.backend.WithLabelValues("local")); got != 1 {
		t.Fatalf("expected local backend gauge, got %v", got)
	}
	if got := testutil.CollectAndCount(rec.backend); got != 1 {
		t.Fatalf("expected only the active backend series, got %d", got)
	}
	if got := testutil.ToFloat64(rec.fallbacks); got != 1 {
		t.Fatalf("expected fallback count 1, got %v", got)
	}

	srv := httptest.NewServer(rec.Handler())
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("scrape: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	buf := new(strings.Builder)
	_, _ = io.Copy(buf, resp.Body)
	if !strings.Contains(buf.String(), "controlroom_operations_total") {
		t.Fatalf("expected exposition to include operations counter")
	}
}

func TestOrNop(t *testing.T) {
	if _, ok := OrNop(nil).(Nop); !ok {
		t.Fatalf("expected Nop")
	}
	OrNop(nil).Observe(context.Background(), "x", true, 0)
}
