package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

func TestCounter_LabelsAndExposition(t *testing.T) {
	r := NewRegistry()
	c := r.NewCounter("test_total", "Test counter", "method", "status")

	vec, err := c.WithLabels("GET", "200")
	if err != nil {
		t.Fatalf("WithLabels: %v", err)
	}
	_ = vec.Inc()
	_ = vec.Add(2)

	again, _ := c.WithLabels("GET", "200")
	if again != vec {
		t.Error("expected the same child for identical labels")
	}
	if got := vec.Value(); got != 3 {
		t.Errorf("Value() = %v, want 3", got)
	}

	var out strings.Builder
	r.WriteTo(&out)
	text := out.String()
	for _, want := range []string{
		"# HELP test_total Test counter",
		"# TYPE test_total counter",
		`test_total{method="GET",status="200"} 3`,
	} {
		if !strings.Contains(text, want) {
			t.Errorf("exposition missing %q:\n%s", want, text)
		}
	}
}

func TestCounter_Errors(t *testing.T) {
	r := NewRegistry()
	c := r.NewCounter("errs_total", "", "stage")

	if _, err := c.WithLabels(); !errors.Is(err, ErrLabelCountMismatch) {
		t.Errorf("expected ErrLabelCountMismatch, got %v", err)
	}
	vec, _ := c.WithLabels("request")
	if err := vec.Add(-1); !errors.Is(err, ErrNegativeCounterValue) {
		t.Errorf("expected ErrNegativeCounterValue, got %v", err)
	}
}

func TestGauge_IncDec(t *testing.T) {
	r := NewRegistry()
	g := r.NewGauge("subs", "Subscribers")

	_ = g.Inc()
	_ = g.Inc()
	_ = g.Dec()

	vec, _ := g.WithLabels()
	if got := vec.Value(); got != 1 {
		t.Errorf("Value() = %v, want 1", got)
	}
}

func TestHistogram_CumulativeBuckets(t *testing.T) {
	r := NewRegistry()
	h := r.NewHistogram("latency_seconds", "Latency", []float64{0.1, 1}, "method")

	vec, _ := h.WithLabels("GET")
	vec.Observe(0.05)
	vec.Observe(0.5)
	vec.Observe(5)

	var out strings.Builder
	r.WriteTo(&out)
	text := out.String()
	for _, want := range []string{
		`latency_seconds_bucket{le="0.1",method="GET"} 1`,
		`latency_seconds_bucket{le="1",method="GET"} 2`,
		`latency_seconds_bucket{le="+Inf",method="GET"} 3`,
		`latency_seconds_count{method="GET"} 3`,
	} {
		if !strings.Contains(text, want) {
			t.Errorf("exposition missing %q:\n%s", want, text)
		}
	}
	if vec.Count() != 3 {
		t.Errorf("Count() = %d, want 3", vec.Count())
	}
}

func TestRegistry_DuplicatePanics(t *testing.T) {
	r := NewRegistry()
	r.NewCounter("dup_total", "")

	defer func() {
		if recover() == nil {
			t.Error("expected panic on duplicate registration")
		}
	}()
	r.NewGauge("dup_total", "")
}

func TestRegistry_Handler(t *testing.T) {
	r := NewRegistry()
	_ = r.NewCounter("served_total", "Served").Inc()

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain; version=0.0.4") {
		t.Errorf("Content-Type = %q", ct)
	}
	if !strings.Contains(rec.Body.String(), "served_total 1") {
		t.Errorf("body = %q", rec.Body.String())
	}
}

func TestEscapeLabelValue(t *testing.T) {
	r := NewRegistry()
	c := r.NewCounter("esc_total", "", "path")
	vec, _ := c.WithLabels("a\"b\\c\nd")
	_ = vec.Inc()

	var out strings.Builder
	r.WriteTo(&out)
	if !strings.Contains(out.String(), `esc_total{path="a\"b\\c\nd"} 1`) {
		t.Errorf("unexpected escaping:\n%s", out.String())
	}
}

func TestCounter_Concurrent(t *testing.T) {
	r := NewRegistry()
	c := r.NewCounter("conc_total", "", "worker")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				vec, _ := c.WithLabels("w")
				_ = vec.Inc()
			}
		}()
	}
	wg.Wait()

	vec, _ := c.WithLabels("w")
	if got := vec.Value(); got != 5000 {
		t.Errorf("Value() = %v, want 5000", got)
	}
}

func TestInit_Idempotent(t *testing.T) {
	Reset()
	defer Reset()

	r1 := Init()
	r2 := Init()
	if r1 != r2 || DefaultRegistry() != r1 {
		t.Fatal("Init should return the same registry")
	}
	if EntriesTotal == nil || Subscribers == nil || RequestDuration == nil {
		t.Fatal("default metrics not initialized")
	}

	var out strings.Builder
	r1.WriteTo(&out)
	if !strings.Contains(out.String(), "kothd_viewer_subscribers 0") {
		t.Errorf("unlabelled gauge should be exposed at zero:\n%s", out.String())
	}
}

// failingWriter rejects every write.
type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("closed") }

func TestRegistry_WriterTo(t *testing.T) {
	r := NewRegistry()
	c := r.NewCounter("writes_total", "Writes")
	_ = c.Inc()

	var w io.WriterTo = r
	var out strings.Builder
	n, err := w.WriteTo(&out)
	if err != nil {
		t.Fatalf("WriteTo: %v", err)
	}
	if n != int64(out.Len()) || n == 0 {
		t.Errorf("WriteTo returned %d, wrote %d bytes", n, out.Len())
	}

	if _, err := r.WriteTo(failingWriter{}); err == nil {
		t.Error("expected the writer's error")
	}
}
