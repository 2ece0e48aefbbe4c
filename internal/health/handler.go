package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// Checker is a named dependency health probe.
type Checker interface {
	HealthCheck(ctx context.Context) error
}

// Handler serves an aggregate health endpoint over a set of named checkers.
type Handler struct {
	checkers map[string]Checker
	timeout  time.Duration
}

// NewHandler creates a health handler. Checks run with a per-request timeout.
func NewHandler(checkers map[string]Checker, timeout time.Duration) *Handler {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Handler{
		checkers: checkers,
		timeout:  timeout,
	}
}

// ServeHTTP runs all checks and reports per-dependency status. Any failing
// check yields 503.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	status := http.StatusOK
	results := make(map[string]string, len(h.checkers))
	for name, c := range h.checkers {
		if err := c.HealthCheck(ctx); err != nil {
			results[name] = err.Error()
			status = http.StatusServiceUnavailable
		} else {
			results[name] = "ok"
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status": http.StatusText(status),
		"checks": results,
	})
}
