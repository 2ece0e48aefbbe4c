package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
)

func TestRequestIDGeneratesUUID(t *testing.T) {
	var captured string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = GetRequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if captured == "" {
		t.Fatal("no request ID in context")
	}
	if _, err := uuid.Parse(captured); err != nil {
		t.Errorf("request ID %q is not a UUID: %v", captured, err)
	}
	if got := rec.Header().Get(RequestIDHeader); got != captured {
		t.Errorf("response header %q, want %q", got, captured)
	}
}

func TestRequestIDPreservesIncoming(t *testing.T) {
	var captured string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = GetRequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "incoming-id")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if captured != "incoming-id" {
		t.Errorf("request ID = %q, want incoming-id", captured)
	}
}

func TestGetRequestIDWithoutMiddleware(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if got := GetRequestID(req.Context()); got != "" {
		t.Errorf("request ID = %q without middleware, want empty", got)
	}
}
