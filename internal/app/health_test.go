package app

import (
	"context"
	"errors"
	"net/http"
	"testing"
)

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodGet, "/api/health", "", nil)

	expectStatus(t, rr, http.StatusOK)
	response := decodeJSON[map[string]any](t, rr)
	if ok, exists := response["ok"]; !exists || ok != true {
		t.Errorf("expected ok=true, got %v", ok)
	}
}

func TestReadyEndpoint_Success(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodGet, "/api/ready", "", nil)

	expectStatus(t, rr, http.StatusOK)
	response := decodeJSON[map[string]any](t, rr)
	if response["status"] != "ready" {
		t.Errorf("expected status=ready, got %v", response["status"])
	}
	checks, ok := response["checks"].(map[string]any)
	if !ok {
		t.Fatalf("expected checks object, got %T", response["checks"])
	}
	db, ok := checks["database"].(map[string]any)
	if !ok || db["status"] != "ok" {
		t.Errorf("expected database ok, got %v", checks["database"])
	}
}

func TestReadyEndpoint_DatabaseFailure(t *testing.T) {
	env := newTestEnv(t)
	env.store.pingErr = errors.New("connection refused")

	rr := env.do(t, http.MethodGet, "/api/ready", "", nil)

	expectStatus(t, rr, http.StatusServiceUnavailable)
	response := decodeJSON[map[string]any](t, rr)
	if response["status"] != "not_ready" {
		t.Errorf("expected status=not_ready, got %v", response["status"])
	}
	checks := response["checks"].(map[string]any)
	db := checks["database"].(map[string]any)
	if db["error"] != "connection refused" {
		t.Errorf("expected database error to be reported, got %v", db["error"])
	}
}

func TestReadyEndpoint_ExtraCheckFailure(t *testing.T) {
	env := newTestEnv(t)
	env.service.checks = map[string]func(context.Context) error{
		"storage": func(context.Context) error { return errors.New("bucket missing") },
	}

	rr := env.do(t, http.MethodGet, "/api/ready", "", nil)

	expectStatus(t, rr, http.StatusServiceUnavailable)
	checks := decodeJSON[map[string]any](t, rr)["checks"].(map[string]any)
	if checks["storage"].(map[string]any)["status"] != "error" {
		t.Errorf("expected storage check to fail, got %v", checks["storage"])
	}
}

func TestMiddlewareSetsHeaders(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodOptions, "/api/wizard", "", nil)

	expectStatus(t, rr, http.StatusNoContent)
	if rr.Header().Get("X-Request-ID") == "" {
		t.Error("expected a request id header")
	}
	if got := rr.Header().Get("Access-Control-Allow-Headers"); got == "" {
		t.Error("expected CORS headers")
	}
}
