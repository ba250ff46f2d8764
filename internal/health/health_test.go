package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHealthz_AlwaysOK(t *testing.T) {
	t.Parallel()
	h := New()

	rr := httptest.NewRecorder()
	h.Healthz(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rr.Code != http.StatusOK {
		t.Errorf("status = %d; want 200", rr.Code)
	}
}

func TestReadyz_NoChecks(t *testing.T) {
	t.Parallel()
	h := New()

	rr := httptest.NewRecorder()
	h.Readyz(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rr.Code != http.StatusOK {
		t.Errorf("status = %d; want 200", rr.Code)
	}
}

func TestReadyz_AllPassing(t *testing.T) {
	t.Parallel()
	h := New()
	h.AddCheck("session", func(context.Context) error { return nil })
	h.AddCheck("store", func(context.Context) error { return nil })

	rr := httptest.NewRecorder()
	h.Readyz(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; want 200", rr.Code)
	}
	var res probeResult
	if err := json.Unmarshal(rr.Body.Bytes(), &res); err != nil {
		t.Fatalf("unmarshal body: %v", err)
	}
	if res.Status != "ok" || res.Checks["session"] != "ok" || res.Checks["store"] != "ok" {
		t.Errorf("result = %+v", res)
	}
}

func TestReadyz_FailureTurns503(t *testing.T) {
	t.Parallel()
	h := New()
	h.AddCheck("session", func(context.Context) error { return nil })
	h.AddCheck("store", func(context.Context) error { return errors.New("disk full") })

	rr := httptest.NewRecorder()
	h.Readyz(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d; want 503", rr.Code)
	}
	var res probeResult
	if err := json.Unmarshal(rr.Body.Bytes(), &res); err != nil {
		t.Fatalf("unmarshal body: %v", err)
	}
	if res.Status != "fail" {
		t.Errorf("status = %q; want fail", res.Status)
	}
	if res.Checks["store"] != "fail: disk full" {
		t.Errorf("store check = %q", res.Checks["store"])
	}
	if res.Checks["session"] != "ok" {
		t.Errorf("session check = %q", res.Checks["session"])
	}
}

func TestAddCheck_ReplacesByName(t *testing.T) {
	t.Parallel()
	h := New()
	h.AddCheck("session", func(context.Context) error { return errors.New("down") })
	h.AddCheck("session", func(context.Context) error { return nil })

	rr := httptest.NewRecorder()
	h.Readyz(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rr.Code != http.StatusOK {
		t.Errorf("status = %d; want 200 after replacement", rr.Code)
	}
}

func TestRegister_Routes(t *testing.T) {
	t.Parallel()
	mux := http.NewServeMux()
	New().Register(mux)

	for _, path := range []string{"/healthz", "/readyz"} {
		rr := httptest.NewRecorder()
		mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		if rr.Code != http.StatusOK {
			t.Errorf("GET %s = %d; want 200", path, rr.Code)
		}
	}
}
