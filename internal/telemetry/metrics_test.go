package telemetry

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInstrumentCountsByStatusClass(t *testing.T) {
	ok := RequestsTotal.WithLabelValues("test_instrument", "2xx")
	missing := RequestsTotal.WithLabelValues("test_instrument", "4xx")
	okBefore, missingBefore := testutil.ToFloat64(ok), testutil.ToFloat64(missing)

	h := Instrument("test_instrument", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("ok"))
	}))

	for _, path := range []string{"/", "/", "/missing"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	if got := testutil.ToFloat64(ok) - okBefore; got != 2 {
		t.Fatalf("2xx delta = %v, want 2", got)
	}
	if got := testutil.ToFloat64(missing) - missingBefore; got != 1 {
		t.Fatalf("4xx delta = %v, want 1", got)
	}
}

func TestBuildInfoExposed(t *testing.T) {
	SetBuildInfo("v1.2.3", "inst-test")

	rec := httptest.NewRecorder()
	MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	want := `pingparty_build_info{instance="inst-test",version="v1.2.3"} 1`
	if !strings.Contains(rec.Body.String(), want) {
		t.Fatalf("metrics missing %s", want)
	}
}
