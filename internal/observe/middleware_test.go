package observe

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestMiddleware_RecordsDuration(t *testing.T) {
	m, reader := newTestMetrics(t)

	handler := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rr.Code != http.StatusTeapot {
		t.Errorf("status = %d; want %d", rr.Code, http.StatusTeapot)
	}

	rm := collect(t, reader)
	if findMetric(rm, "navtalk.http.request.duration") == nil {
		t.Error("navtalk.http.request.duration not recorded")
	}
}

func TestMiddleware_NilMetrics(t *testing.T) {
	handler := Middleware(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusOK {
		t.Errorf("status = %d; want 200", rr.Code)
	}
}
