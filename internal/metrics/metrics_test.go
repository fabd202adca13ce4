package metrics

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/JakeFAU/pagelocalizer/internal/assets"
)

func TestObserveAssetFetch(t *testing.T) {
	r := New()
	r.ObserveAssetFetch(assets.ResultFetched, 120, 200*time.Millisecond)
	r.ObserveAssetFetch(assets.ResultSkippedExists, 0, 0)
	r.ObserveAssetFetch(assets.ResultFailed, 0, time.Second)

	if val := testutil.ToFloat64(r.assetFetchesTotal.WithLabelValues("fetched")); val != 1 {
		t.Errorf("expected 1 fetched, got %f", val)
	}
	if val := testutil.ToFloat64(r.assetBytesTotal); val != 120 {
		t.Errorf("expected 120 bytes, got %f", val)
	}
	if n := testutil.CollectAndCount(r.assetFetchDurationSeconds); n != 1 {
		t.Errorf("expected one histogram series, got %d", n)
	}
}

func TestDomainCounters(t *testing.T) {
	r := New()
	r.ObserveRewrite("local-image", 3)
	r.ObserveRemoval("pixel-script", 1)
	r.ObserveInjection("tracking")
	r.ObservePatch("seal-size", 2)
	r.ObserveRun("success")

	if val := testutil.ToFloat64(r.rewritesTotal.WithLabelValues("local-image")); val != 3 {
		t.Errorf("expected 3 rewrites, got %f", val)
	}
	if val := testutil.ToFloat64(r.removalsTotal.WithLabelValues("pixel-script")); val != 1 {
		t.Errorf("expected 1 removal, got %f", val)
	}
	if val := testutil.ToFloat64(r.fragmentsTotal.WithLabelValues("tracking")); val != 1 {
		t.Errorf("expected 1 fragment, got %f", val)
	}
	if val := testutil.ToFloat64(r.layoutPatchesTotal.WithLabelValues("seal-size")); val != 2 {
		t.Errorf("expected 2 patches, got %f", val)
	}
	if val := testutil.ToFloat64(r.runsTotal.WithLabelValues("success")); val != 1 {
		t.Errorf("expected 1 run, got %f", val)
	}
}

func TestObserveRateLimitDelay(t *testing.T) {
	r := New()
	r.ObserveRateLimitDelay("colagenotipo2pro.com.br", 150*time.Millisecond)
	r.ObserveRateLimitDelay("colagenotipo2pro.com.br", 90*time.Millisecond)
	if n := testutil.CollectAndCount(r.rateLimitDelaySeconds); n != 1 {
		t.Errorf("expected one host series, got %d", n)
	}
}

func TestRecordersAreIndependent(t *testing.T) {
	a, b := New(), New()
	a.ObserveRun("success")
	if val := testutil.ToFloat64(b.runsTotal.WithLabelValues("success")); val != 0 {
		t.Errorf("expected fresh recorder to be empty, got %f", val)
	}
}

func TestWriteTextfile(t *testing.T) {
	r := New()
	r.ObserveRewrite("local-font", 2)
	path := filepath.Join(t.TempDir(), "localizer.prom")
	if err := r.WriteTextfile(path); err != nil {
		t.Fatal(err)
	}
	// #nosec G304 -- test reads from the controlled temp directory.
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `localizer_rewrites_total{rule="local-font"} 2`) {
		t.Errorf("unexpected textfile contents:\n%s", data)
	}
}

func TestMiddleware(t *testing.T) {
	rec := New()
	r := chi.NewRouter()
	r.Use(rec.Middleware)
	r.Get("/test", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/notfound", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	r.Method(http.MethodGet, "/metrics", rec.Handler())

	ts := httptest.NewServer(r)
	defer ts.Close()

	for _, path := range []string{"/test", "/notfound"} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		if errInner := resp.Body.Close(); errInner != nil {
			t.Log(errInner)
		}
	}

	if val := testutil.ToFloat64(rec.httpRequestsTotal.WithLabelValues("GET", "200")); val != 1 {
		t.Errorf("Expected httpRequestsTotal for GET /test to be 1, got %f", val)
	}
	if val := testutil.ToFloat64(rec.httpRequestsTotal.WithLabelValues("GET", "404")); val != 1 {
		t.Errorf("Expected httpRequestsTotal for GET /notfound to be 1, got %f", val)
	}

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		if errInner := resp.Body.Close(); errInner != nil {
			t.Log(errInner)
		}
	}()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200 from /metrics, got %d", resp.StatusCode)
	}
}
