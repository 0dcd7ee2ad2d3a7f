package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

// mockHealthChecker is a test implementation of HealthChecker
type mockHealthChecker struct {
	ready   bool
	healthy bool
}

func (m *mockHealthChecker) IsReady() bool   { return m.ready }
func (m *mockHealthChecker) IsHealthy() bool { return m.healthy }

func serve(t *testing.T, hs *HealthServer, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	hs.Handler().ServeHTTP(w, req)
	return w
}

func TestHealthServer_Ready(t *testing.T) {
	tests := []struct {
		name           string
		ready          bool
		shuttingDown   bool
		expectedStatus int
		expectedBody   string
	}{
		{"ready returns 200", true, false, http.StatusOK, "ready"},
		{"not ready returns 503", false, false, http.StatusServiceUnavailable, "not_ready"},
		{"shutting down returns 503", true, true, http.StatusServiceUnavailable, "shutting_down"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := &mockHealthChecker{ready: tt.ready, healthy: true}
			var shuttingDown atomic.Bool
			shuttingDown.Store(tt.shuttingDown)
			hs := NewHealthServer(HealthServerConfig{Addr: ":0"}, checker, &shuttingDown)

			w := serve(t, hs, http.MethodGet, "/health/ready")
			if w.Code != tt.expectedStatus {
				t.Errorf("expected status %d, got %d", tt.expectedStatus, w.Code)
			}
			var resp map[string]string
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if resp["status"] != tt.expectedBody {
				t.Errorf("expected status %q, got %q", tt.expectedBody, resp["status"])
			}
		})
	}
}

func TestHealthServer_Live(t *testing.T) {
	tests := []struct {
		name           string
		healthy        bool
		shuttingDown   bool
		expectedStatus int
		expectedBody   string
	}{
		{"healthy returns 200", true, false, http.StatusOK, "healthy"},
		{"unhealthy returns 503", false, false, http.StatusServiceUnavailable, "unhealthy"},
		{"shutting down returns 503", true, true, http.StatusServiceUnavailable, "shutting_down"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := &mockHealthChecker{ready: true, healthy: tt.healthy}
			var shuttingDown atomic.Bool
			shuttingDown.Store(tt.shuttingDown)
			hs := NewHealthServer(HealthServerConfig{Addr: ":0"}, checker, &shuttingDown)

			w := serve(t, hs, http.MethodGet, "/health/live")
			if w.Code != tt.expectedStatus {
				t.Errorf("expected status %d, got %d", tt.expectedStatus, w.Code)
			}
			var resp map[string]string
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if resp["status"] != tt.expectedBody {
				t.Errorf("expected status %q, got %q", tt.expectedBody, resp["status"])
			}
		})
	}
}

func TestHealthServer_Health(t *testing.T) {
	tests := []struct {
		name           string
		ready          bool
		healthy        bool
		shuttingDown   bool
		expectedStatus int
		expectedBody   string
	}{
		{"all good", true, true, false, http.StatusOK, "ok"},
		{"not ready is degraded", false, true, false, http.StatusServiceUnavailable, "degraded"},
		{"unhealthy is degraded", true, false, false, http.StatusServiceUnavailable, "degraded"},
		{"shutting down", true, true, true, http.StatusServiceUnavailable, "shutting_down"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := &mockHealthChecker{ready: tt.ready, healthy: tt.healthy}
			var shuttingDown atomic.Bool
			shuttingDown.Store(tt.shuttingDown)
			hs := NewHealthServer(HealthServerConfig{Addr: ":0"}, checker, &shuttingDown)

			w := serve(t, hs, http.MethodGet, "/health")
			if w.Code != tt.expectedStatus {
				t.Errorf("expected status %d, got %d", tt.expectedStatus, w.Code)
			}
			var resp map[string]any
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if resp["status"] != tt.expectedBody {
				t.Errorf("expected status %q, got %q", tt.expectedBody, resp["status"])
			}
			if resp["shuttingDown"] != tt.shuttingDown {
				t.Errorf("expected shuttingDown %v, got %v", tt.shuttingDown, resp["shuttingDown"])
			}
		})
	}
}

func TestHealthServer_NilShuttingDown(t *testing.T) {
	hs := NewHealthServer(HealthServerConfig{}, &mockHealthChecker{ready: true, healthy: true}, nil)
	if w := serve(t, hs, http.MethodGet, "/health"); w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
}

func TestHealthServer_StartAndShutdown(t *testing.T) {
	hs := NewHealthServer(HealthServerConfig{Addr: "127.0.0.1:0"}, &mockHealthChecker{}, nil)
	if err := hs.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := hs.Shutdown(time.Second); err != nil {
		t.Errorf("Shutdown failed: %v", err)
	}
}
