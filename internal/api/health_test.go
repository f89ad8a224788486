package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"
)

type mockHealthChecker struct {
	err error
}

func (m *mockHealthChecker) HealthCheck(ctx context.Context) error {
	return m.err
}

func readiness(t *testing.T, hh *HealthHandler) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rr := httptest.NewRecorder()
	hh.Readiness(rr, req)

	var result map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	return rr, result
}

func TestNewHealthHandler(t *testing.T) {
	hh := NewHealthHandler(zap.NewNop())

	if hh == nil {
		t.Fatal("expected non-nil HealthHandler")
	}
	if hh.checks == nil {
		t.Error("expected checks map to be initialized")
	}
}

func TestHealthHandler_Register(t *testing.T) {
	hh := NewHealthHandler(zap.NewNop())

	hh.Register("redis", &mockHealthChecker{})
	hh.Register("catalog", HealthCheckFunc(func(ctx context.Context) error { return nil }))

	if len(hh.checks) != 2 {
		t.Errorf("expected 2 registered checks, got %d", len(hh.checks))
	}
}

func TestHealthHandler_Liveness(t *testing.T) {
	hh := NewHealthHandler(zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()

	hh.Liveness(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rr.Code)
	}
	if rr.Header().Get("Content-Type") != "application/json" {
		t.Error("expected application/json content type")
	}

	var result map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if result["status"] != "alive" {
		t.Errorf("expected status 'alive', got %q", result["status"])
	}
}

func TestHealthHandler_Readiness_AllHealthy(t *testing.T) {
	hh := NewHealthHandler(zap.NewNop())

	hh.Register("redis", &mockHealthChecker{err: nil})
	hh.Register("clickhouse", &mockHealthChecker{err: nil})
	hh.Register("elasticsearch", &mockHealthChecker{err: nil})

	rr, result := readiness(t, hh)

	if rr.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rr.Code)
	}
	if result["status"] != "healthy" {
		t.Errorf("expected overall status 'healthy', got %v", result["status"])
	}

	components, ok := result["components"].(map[string]any)
	if !ok {
		t.Fatal("expected components map")
	}
	if len(components) != 3 {
		t.Errorf("expected 3 components, got %d", len(components))
	}
}

func TestHealthHandler_Readiness_OneUnhealthy(t *testing.T) {
	hh := NewHealthHandler(zap.NewNop())

	hh.Register("redis", &mockHealthChecker{err: nil})
	hh.Register("clickhouse", &mockHealthChecker{err: fmt.Errorf("connection refused")})

	rr, result := readiness(t, hh)

	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rr.Code)
	}
	if result["status"] != "degraded" {
		t.Errorf("expected overall status 'degraded', got %v", result["status"])
	}

	// The healthy component is still reported.
	components := result["components"].(map[string]any)
	if components["redis"].(map[string]any)["status"] != "healthy" {
		t.Errorf("redis = %v", components["redis"])
	}
}

func TestHealthHandler_Readiness_SlowCheckTimesOut(t *testing.T) {
	hh := NewHealthHandler(zap.NewNop())
	hh.timeout = 20 * time.Millisecond

	hh.Register("elasticsearch", HealthCheckFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))

	rr, result := readiness(t, hh)

	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 for a hung dependency, got %d", rr.Code)
	}
	es := result["components"].(map[string]any)["elasticsearch"].(map[string]any)
	if es["error"] != context.DeadlineExceeded.Error() {
		t.Errorf("error = %v", es["error"])
	}
}

func TestHealthHandler_Readiness_NoChecks(t *testing.T) {
	hh := NewHealthHandler(zap.NewNop())

	rr, result := readiness(t, hh)

	if rr.Code != http.StatusOK {
		t.Errorf("expected 200 when no checks registered, got %d", rr.Code)
	}
	if result["status"] != "healthy" {
		t.Errorf("expected 'healthy' when no checks, got %v", result["status"])
	}
	if _, ok := result["timestamp"]; !ok {
		t.Error("expected timestamp in response")
	}
}

func TestHealthHandler_Readiness_ComponentDetails(t *testing.T) {
	hh := NewHealthHandler(zap.NewNop())

	hh.Register("redis", &mockHealthChecker{err: nil})
	hh.Register("firestore", &mockHealthChecker{err: fmt.Errorf("connection refused")})

	_, result := readiness(t, hh)

	components := result["components"].(map[string]any)
	redis := components["redis"].(map[string]any)
	if redis["latency"] == nil || redis["latency"] == "" {
		t.Error("expected latency to be populated")
	}
	if redis["status"] != "healthy" {
		t.Errorf("expected redis status 'healthy', got %v", redis["status"])
	}

	fs := components["firestore"].(map[string]any)
	if fs["status"] != "unhealthy" {
		t.Errorf("expected firestore status 'unhealthy', got %v", fs["status"])
	}
	if fs["error"] != "connection refused" {
		t.Errorf("expected error 'connection refused', got %v", fs["error"])
	}
}
