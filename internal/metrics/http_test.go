package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func newTestMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/users/{id}/plan", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	mux.HandleFunc("GET /api/health", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

func TestMiddleware_LabelsByRoutePattern(t *testing.T) {
	handler := Middleware(newTestMux())

	for _, id := range []string{"uid-1", "uid-2"} {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/users/"+id+"/plan", nil))
		if rec.Code != http.StatusTeapot {
			t.Fatalf("status = %d, want %d", rec.Code, http.StatusTeapot)
		}
	}

	got := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("GET", "/api/users/{id}/plan", "418"))
	if got != 2 {
		t.Errorf("requests for the plan route = %v, want 2", got)
	}
}

func TestMiddleware_ImplicitOK(t *testing.T) {
	handler := Middleware(newTestMux())
	before := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("GET", "/api/health", "200"))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	after := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("GET", "/api/health", "200"))
	if after-before != 1 {
		t.Errorf("health requests counted = %v, want 1", after-before)
	}
}

func TestMiddleware_UnmatchedPaths(t *testing.T) {
	handler := Middleware(newTestMux())
	before := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("GET", unmatchedRoute, "404"))

	for _, path := range []string{"/wp-admin", "/.env", "/api/nope"} {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	}

	after := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("GET", unmatchedRoute, "404"))
	if after-before != 3 {
		t.Errorf("unmatched requests counted = %v, want 3", after-before)
	}
}

func TestRouteLabel(t *testing.T) {
	tests := []struct {
		pattern string
		want    string
	}{
		{"", unmatchedRoute},
		{"POST /api/stripe/webhook", "/api/stripe/webhook"},
		{"/", "/"},
	}

	for _, tt := range tests {
		t.Run(tt.pattern, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.Pattern = tt.pattern
			if got := routeLabel(r); got != tt.want {
				t.Errorf("routeLabel() = %q, want %q", got, tt.want)
			}
		})
	}
}
