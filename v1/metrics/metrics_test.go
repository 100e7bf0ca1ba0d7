package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegisterWatchdog(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWatchdog()
	m.Register(reg)
	m.Submitted.Inc()
	m.Duplicates.Inc()
	m.Interrupted.Inc()
	m.Panics.Inc()
	m.Active.Set(2)
	m.Wait.WithLabelValues("released").Observe(0.01)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(mfs) != 6 {
		t.Fatalf("expected 6 metric families, got %d", len(mfs))
	}
	if got := testutil.ToFloat64(m.Active); got != 2 {
		t.Fatalf("expected active 2, got %v", got)
	}
}

func TestRegisterWatchdogDuplicatePanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewWatchdog().Register(reg)
	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic on duplicate registration")
		}
	}()
	NewWatchdog().Register(reg)
}
