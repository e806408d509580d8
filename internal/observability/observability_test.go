package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/tuist/fabrik/internal/auth"
	"github.com/tuist/fabrik/internal/diskstore"
)

func newTestBackend(t *testing.T) *diskstore.Store {
	t.Helper()
	s, err := diskstore.Open(diskstore.Options{Path: ":memory:"})
	if err != nil {
		t.Fatalf("diskstore.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestHealthEndpointUnauthenticated(t *testing.T) {
	f, err := New("test-version")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	backend := newTestBackend(t)

	mux := Mux(f, backend, auth.StaticValidator{}, AdminConfig{})
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]interface{}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if body["status"] != "ok" || body["version"] != "test-version" {
		t.Fatalf("body = %+v", body)
	}
}

func TestMetricsRequiresAuthWhenValidatorSet(t *testing.T) {
	f, err := New("v")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	backend := newTestBackend(t)

	denyAll := denyValidator{}
	mux := Mux(f, backend, denyAll, AdminConfig{})
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestMetricsOpenWhenValidatorNil(t *testing.T) {
	f, err := New("v")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	backend := newTestBackend(t)

	mux := Mux(f, backend, nil, AdminConfig{})
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestAdminEndpointsDisabledByDefault(t *testing.T) {
	f, err := New("v")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	backend := newTestBackend(t)

	mux := Mux(f, backend, auth.StaticValidator{Claims: auth.Claims{IsAdmin: true}}, AdminConfig{Enabled: false})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/clear", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 (admin disabled)", rec.Code)
	}
}

func TestAdminEndpointRequiresAdminClaim(t *testing.T) {
	f, err := New("v")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	backend := newTestBackend(t)

	nonAdmin := auth.StaticValidator{Claims: auth.Claims{Subject: "reader", IsAdmin: false}}
	mux := Mux(f, backend, nonAdmin, AdminConfig{Enabled: true})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/clear", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}

func TestStatsEndpointReturnsRollup(t *testing.T) {
	f, err := New("v")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	backend := newTestBackend(t)

	mux := Mux(f, backend, nil, AdminConfig{})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

type denyValidator struct{}

func (denyValidator) Validate(ctx context.Context, token string) (auth.Claims, error) {
	return auth.Claims{}, auth.ErrUnauthenticated
}

func TestWithRequestIDGeneratesWhenAbsent(t *testing.T) {
	handler := WithRequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Header().Get("X-Request-Id") == "" {
		t.Fatal("expected X-Request-Id to be set")
	}
}

func TestWithRequestIDPreservesExisting(t *testing.T) {
	handler := WithRequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-Id", "caller-supplied")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Request-Id"); got != "caller-supplied" {
		t.Fatalf("X-Request-Id = %q, want %q", got, "caller-supplied")
	}
}
