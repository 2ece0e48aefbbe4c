package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type fakeChecker struct {
	err error
}

func (f fakeChecker) HealthCheck(ctx context.Context) error {
	return f.err
}

func TestHandlerAllHealthy(t *testing.T) {
	h := NewHandler(map[string]Checker{
		"postgres": fakeChecker{},
		"redis":    fakeChecker{},
	}, time.Second)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}

	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("response not JSON: %v", err)
	}
	if body.Checks["postgres"] != "ok" || body.Checks["redis"] != "ok" {
		t.Errorf("checks = %v", body.Checks)
	}
}

func TestHandlerFailingDependency(t *testing.T) {
	h := NewHandler(map[string]Checker{
		"postgres": fakeChecker{},
		"redis":    fakeChecker{err: errors.New("connection refused")},
	}, time.Second)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}

	var body struct {
		Checks map[string]string `json:"checks"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("response not JSON: %v", err)
	}
	if body.Checks["postgres"] != "ok" {
		t.Errorf("healthy check reported %q", body.Checks["postgres"])
	}
	if body.Checks["redis"] != "connection refused" {
		t.Errorf("failing check reported %q", body.Checks["redis"])
	}
}

func TestHandlerNoCheckers(t *testing.T) {
	h := NewHandler(nil, time.Second)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 with no checkers", rec.Code)
	}
}
