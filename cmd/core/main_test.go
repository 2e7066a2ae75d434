package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/habitsync/habitsync/internal/config"
)

func newTestApp(t *testing.T) *app {
	t.Helper()

	cfg := config.Default()
	cfg.DataDir = t.TempDir()

	a, err := buildApp(cfg)
	if err != nil {
		t.Fatalf("buildApp failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	a.start(ctx)
	t.Cleanup(func() {
		cancel()
		a.stop()
	})
	return a
}

func TestHealthEndpoint(t *testing.T) {
	a := newTestApp(t)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	a.routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("Invalid JSON response: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("Expected status ok, got %v", body["status"])
	}
}

func TestHealthRejectsPost(t *testing.T) {
	a := newTestApp(t)

	req := httptest.NewRequest(http.MethodPost, "/api/health", nil)
	rec := httptest.NewRecorder()
	a.routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405, got %d", rec.Code)
	}
}

func TestSessionLifecycle(t *testing.T) {
	a := newTestApp(t)
	handler := a.routes()

	req := httptest.NewRequest(http.MethodPost, "/api/session",
		strings.NewReader(`{"user_id":"u1"}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("Login returned %d", rec.Code)
	}

	if user, ok := a.provider.CurrentUser(); !ok || user != "u1" {
		t.Errorf("Expected session for u1, got %q ok=%v", user, ok)
	}

	req = httptest.NewRequest(http.MethodDelete, "/api/session", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("Logout returned %d", rec.Code)
	}
	if _, ok := a.provider.CurrentUser(); ok {
		t.Error("Expected no session after logout")
	}
}

func TestSessionRequiresUserID(t *testing.T) {
	a := newTestApp(t)

	req := httptest.NewRequest(http.MethodPost, "/api/session", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	a.routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for missing user_id, got %d", rec.Code)
	}
}

func TestOnlineToggleReflectedInStatus(t *testing.T) {
	a := newTestApp(t)
	handler := a.routes()

	req := httptest.NewRequest(http.MethodPost, "/api/online",
		strings.NewReader(`{"online":false}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("Online toggle returned %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/status", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	var status map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("Invalid status JSON: %v", err)
	}
	if status["online"] != false {
		t.Errorf("Expected online=false in status, got %v", status["online"])
	}
}

func TestMetricsEndpoint(t *testing.T) {
	a := newTestApp(t)

	req := httptest.NewRequest(http.MethodGet, "/api/metrics", nil)
	rec := httptest.NewRecorder()
	a.routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var counters map[string]int64
	if err := json.Unmarshal(rec.Body.Bytes(), &counters); err != nil {
		t.Fatalf("Invalid metrics JSON: %v", err)
	}
	if _, ok := counters["local_writes"]; !ok {
		t.Error("Expected local_writes counter present")
	}
}

func TestTriggerSyncEndpoint(t *testing.T) {
	a := newTestApp(t)

	req := httptest.NewRequest(http.MethodPost, "/api/sync/trigger", nil)
	rec := httptest.NewRecorder()
	a.routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
}
