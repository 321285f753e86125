package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsRegisterAndCount(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.TicksTotal.Inc()
	m.TicksTotal.Inc()
	m.TickFailures.Inc()
	m.SamplesAppended.Add(9)
	m.KindFailure("CPU_LOAD")
	m.SetStored(120, 4096)
	m.TickDuration.Observe(0.25)

	if got := testutil.ToFloat64(m.TicksTotal); got != 2 {
		t.Errorf("ticks = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.TickFailures); got != 1 {
		t.Errorf("tick failures = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.SamplesAppended); got != 9 {
		t.Errorf("samples appended = %v, want 9", got)
	}
	if got := testutil.ToFloat64(m.SensorKindFailures.WithLabelValues("CPU_LOAD")); got != 1 {
		t.Errorf("kind failures = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.StoredSamples); got != 120 {
		t.Errorf("stored samples = %v, want 120", got)
	}
	if n := testutil.CollectAndCount(m.TickDuration); n != 1 {
		t.Errorf("tick duration series = %d, want 1", n)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if len(families) == 0 {
		t.Error("registry gathered no metric families")
	}
}

func TestOrNew(t *testing.T) {
	if OrNew(nil) == nil {
		t.Fatal("OrNew(nil) returned nil")
	}
	m := New(nil)
	if OrNew(m) != m {
		t.Error("OrNew(m) did not return m")
	}
}

func TestMetricsDuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	defer func() {
		if recover() == nil {
			t.Error("second New on the same registry did not panic")
		}
	}()
	New(reg)
}
