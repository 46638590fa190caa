package metrics

import (
	"errors"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/ricesearch/mcqa/internal/ml"
)

var _ ml.EmbedMetrics = (*Metrics)(nil)

func TestMetrics_Embed(t *testing.T) {
	m := New()

	m.ObserveEmbed("hash/64", 4, 2*time.Millisecond, nil)
	m.ObserveEmbed("hash/64", 4, time.Millisecond, errors.New("boom"))

	if got := testutil.ToFloat64(m.EmbedRequests.WithLabelValues("hash/64", "ok")); got != 1 {
		t.Errorf("ok requests = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.EmbedRequests.WithLabelValues("hash/64", "error")); got != 1 {
		t.Errorf("error requests = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.EmbedTexts.WithLabelValues("hash/64")); got != 8 {
		t.Errorf("texts = %v, want 8", got)
	}
}

func TestMetrics_Cache(t *testing.T) {
	m := New()

	m.RecordCacheHit("text")
	m.RecordCacheHit("text")
	m.RecordCacheMiss("features")
	m.UpdateCacheSize("text", 42)

	if got := testutil.ToFloat64(m.CacheTotal.WithLabelValues("text", "hit")); got != 2 {
		t.Errorf("text hits = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.CacheTotal.WithLabelValues("features", "miss")); got != 1 {
		t.Errorf("features misses = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.CacheSize.WithLabelValues("text")); got != 42 {
		t.Errorf("text size = %v, want 42", got)
	}
}

func TestMetrics_Decisions(t *testing.T) {
	m := New()

	m.RecordDecision("A", true)
	m.RecordDecision("B", false)
	m.SetAccuracy("test", 0.75)
	m.ObserveFit(300, time.Second)

	if got := testutil.ToFloat64(m.Degraded); got != 1 {
		t.Errorf("degraded = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.Accuracy.WithLabelValues("test")); got != 0.75 {
		t.Errorf("accuracy = %v, want 0.75", got)
	}
	if got := testutil.ToFloat64(m.FitSamples); got != 300 {
		t.Errorf("fit samples = %v, want 300", got)
	}
}

func TestMetrics_InstancesAreIndependent(t *testing.T) {
	a, b := New(), New()
	a.RecordDecision("C", false)

	if got := testutil.ToFloat64(b.Decisions.WithLabelValues("C")); got != 0 {
		t.Errorf("second instance saw %v decisions, want 0", got)
	}
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.SetAccuracy("dev", 0.5)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body := rec.Body.String()
	if !strings.Contains(body, `mcqa_accuracy{split="dev"} 0.5`) {
		t.Errorf("exposition missing accuracy gauge:\n%s", body)
	}
}

func TestMetrics_WriteTextfile(t *testing.T) {
	m := New()
	m.SetAccuracy("test", 1)

	path := filepath.Join(t.TempDir(), "mcqa.prom")
	if err := m.WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "mcqa_accuracy") {
		t.Errorf("textfile missing accuracy gauge")
	}
}
