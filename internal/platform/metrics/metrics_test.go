package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
)

func scrape(t *testing.T, m *Metrics, update func()) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler(update).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("scrape: got %d", rec.Code)
	}
	return rec.Body.String()
}

func TestHandler_refreshes_gauges(t *testing.T) {
	m := New()
	m.IncCredentialsStored()
	m.AddBytesRelayed(1024)
	m.AddBytesRelayed(-1)
	m.IncUpstreamFailure("timeout")
	m.ObserveUpstream("segment", 0.2)

	body := scrape(t, m, func() { m.SetStoredCredentials(3) })

	for _, want := range []string{
		"hls_relay_stored_credentials 3",
		"hls_relay_credentials_stored_total 1",
		"hls_relay_bytes_relayed_total 1024",
		`hls_relay_upstream_failures_total{kind="timeout"} 1`,
		`hls_relay_upstream_duration_seconds_count{resource="segment"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("missing %q in scrape output", want)
		}
	}
}

func TestRequestMiddleware(t *testing.T) {
	m := New()
	r := chi.NewRouter()
	r.Use(RequestMiddleware(m))
	r.Get("/stream/p{post_id:[0-9]+}/*", func(w http.ResponseWriter, r *http.Request) {
		if chi.URLParam(r, "*") == "missing.ts" {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	for _, p := range []string{"/stream/p1/a.ts", "/stream/p2/missing.ts", "/stream/p3/b/c.ts", "/nowhere"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, p, nil))
	}

	body := scrape(t, m, nil)
	for _, want := range []string{
		`hls_relay_requests_total{code="200",route="/stream/p{post_id:[0-9]+}/*"} 2`,
		`hls_relay_requests_total{code="404",route="/stream/p{post_id:[0-9]+}/*"} 1`,
		`hls_relay_requests_total{code="404",route="unmatched"} 1`,
		"hls_relay_errors_total 2",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("missing %q in scrape output:\n%s", want, body)
		}
	}
	if strings.Contains(body, "/stream/p1/") {
		t.Error("raw request paths must not become label values")
	}
}

func TestStatusRecorder_unwrap_flush(t *testing.T) {
	rec := httptest.NewRecorder()
	w := &statusRecorder{ResponseWriter: rec, status: http.StatusOK}
	if err := http.NewResponseController(w).Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if !rec.Flushed {
		t.Error("expected underlying recorder to be flushed")
	}
}
