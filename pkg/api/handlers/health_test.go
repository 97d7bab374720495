package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/marmos91/dittopam/pkg/identity/store/memory"
)

type failingStore struct{}

func (failingStore) Healthcheck(context.Context) error { return errors.New("disk on fire") }

func decodeResponse(t *testing.T, w *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	return resp
}

func TestLiveness_ReturnsOK(t *testing.T) {
	handler := NewHealthHandler(nil, nil)
	w := httptest.NewRecorder()

	handler.Liveness(w, httptest.NewRequest("GET", "/health", nil))

	if w.Code != http.StatusOK {
		t.Errorf("Expected status %d, got %d", http.StatusOK, w.Code)
	}
	resp := decodeResponse(t, w)
	if resp.Status != "healthy" {
		t.Errorf("Expected status 'healthy', got '%s'", resp.Status)
	}
	data, ok := resp.Data.(map[string]interface{})
	if !ok {
		t.Fatalf("Expected Data to be a map, got %T", resp.Data)
	}
	if data["service"] != "dittopam" {
		t.Errorf("Expected service 'dittopam', got '%s'", data["service"])
	}
}

func TestReadiness_NoStore_Returns503(t *testing.T) {
	handler := NewHealthHandler(nil, nil)
	w := httptest.NewRecorder()

	handler.Readiness(w, httptest.NewRequest("GET", "/health/ready", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status %d, got %d", http.StatusServiceUnavailable, w.Code)
	}
	resp := decodeResponse(t, w)
	if resp.Error != "identity store not initialized" {
		t.Errorf("Unexpected error %q", resp.Error)
	}
}

func TestReadiness_UnhealthyStore_Returns503(t *testing.T) {
	handler := NewHealthHandler(failingStore{}, nil)
	w := httptest.NewRecorder()

	handler.Readiness(w, httptest.NewRequest("GET", "/health/ready", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status %d, got %d", http.StatusServiceUnavailable, w.Code)
	}
	if resp := decodeResponse(t, w); resp.Error != "disk on fire" {
		t.Errorf("Expected store error, got %q", resp.Error)
	}
}

func TestReadiness_HealthyStore_ReturnsOK(t *testing.T) {
	handler := NewHealthHandler(memory.New(), testRegistry(t))
	w := httptest.NewRecorder()

	handler.Readiness(w, httptest.NewRequest("GET", "/health/ready", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d", http.StatusOK, w.Code)
	}
	data, ok := decodeResponse(t, w).Data.(map[string]interface{})
	if !ok {
		t.Fatal("Expected Data to be a map")
	}
	if data["domains"] != float64(2) {
		t.Errorf("Expected 2 domains, got %v", data["domains"])
	}
}
