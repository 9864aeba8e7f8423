package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHealthCheckHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	HealthCheckHandler()(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", rec.Code)
	}
	var status HealthStatus
	if err := json.NewDecoder(rec.Body).Decode(&status); err != nil {
		t.Fatalf("Failed to decode: %v", err)
	}
	if status.Status != "healthy" || status.Service != "voice-terminal" {
		t.Errorf("Unexpected status %+v", status)
	}
}

func TestReadinessHandler(t *testing.T) {
	healthy := func(ctx context.Context) (bool, error) { return true, nil }
	failing := func(ctx context.Context) (bool, error) { return false, errors.New("dial refused") }

	tests := []struct {
		name       string
		checks     map[string]HealthCheckFunc
		wantCode   int
		wantStatus string
	}{
		{"no checks", nil, http.StatusOK, "ready"},
		{"all healthy", map[string]HealthCheckFunc{"tts": healthy, "audio": healthy}, http.StatusOK, "ready"},
		{"one failing", map[string]HealthCheckFunc{"tts": failing, "audio": healthy}, http.StatusServiceUnavailable, "not_ready"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			ReadinessHandler(tt.checks)(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

			if rec.Code != tt.wantCode {
				t.Errorf("Expected %d, got %d", tt.wantCode, rec.Code)
			}
			var status HealthStatus
			if err := json.NewDecoder(rec.Body).Decode(&status); err != nil {
				t.Fatalf("Failed to decode: %v", err)
			}
			if status.Status != tt.wantStatus {
				t.Errorf("Expected %s, got %s", tt.wantStatus, status.Status)
			}
			if len(status.Dependencies) != len(tt.checks) {
				t.Errorf("Expected %d dependencies, got %d", len(tt.checks), len(status.Dependencies))
			}
		})
	}
}

func TestRunChecks_ReportsMessage(t *testing.T) {
	checks := map[string]HealthCheckFunc{
		"tts": func(ctx context.Context) (bool, error) { return false, errors.New("timeout") },
	}
	deps, ok := RunChecks(context.Background(), []string{"tts"}, checks)
	if ok {
		t.Error("Expected overall failure")
	}
	if deps["tts"].Status != "unhealthy" || deps["tts"].Message != "timeout" {
		t.Errorf("Unexpected dependency status %+v", deps["tts"])
	}
}
