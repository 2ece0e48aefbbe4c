package trust

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsRegister(t *testing.T) {
	m := NewMetrics()
	reg := prometheus.NewRegistry()

	if err := m.Register(reg); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	// Registering the same collectors twice must fail.
	if err := m.Register(reg); err == nil {
		t.Error("duplicate Register succeeded")
	}
}

func TestMetricsCounters(t *testing.T) {
	m := NewMetrics()
	reg := prometheus.NewRegistry()
	if err := m.Register(reg); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	m.IncRecomputeTotal()
	m.IncRecomputeTotal()
	m.IncRecomputeErrors()
	m.IncSnapshotErrors()
	m.SetLastRecomputeTimestamp(1700000000)

	if got := testutil.ToFloat64(m.recomputeTotal); got != 2 {
		t.Errorf("recompute total = %g, want 2", got)
	}
	if got := testutil.ToFloat64(m.recomputeErrors); got != 1 {
		t.Errorf("recompute errors = %g, want 1", got)
	}
	if got := testutil.ToFloat64(m.snapshotErrors); got != 1 {
		t.Errorf("snapshot errors = %g, want 1", got)
	}
	if got := testutil.ToFloat64(m.lastRecomputeTimestamp); got != 1700000000 {
		t.Errorf("last recompute timestamp = %g", got)
	}
}
