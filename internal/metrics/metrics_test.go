package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.LedgerEntry("DEBIT", 5)
	m.InsufficientCredits()
	m.PaymentEvent("charge.refunded", "ok")
	m.GenerationFinished("COMPLETED", time.Second)
	m.AvatarPoll("done")
}

// counterValues sums each counter family by name.
func counterValues(t *testing.T, reg *prometheus.Registry) map[string]float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	out := make(map[string]float64)
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			if c := m.GetCounter(); c != nil {
				out[mf.GetName()] += c.GetValue()
			}
		}
	}
	return out
}

func TestCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.LedgerEntry("DEBIT", 5)
	m.LedgerEntry("DEBIT", 3)
	m.InsufficientCredits()
	m.GenerationFinished("FAILED", 2*time.Second)

	got := counterValues(t, reg)
	want := map[string]float64{
		"recap_ledger_entries_total":              2,
		"recap_ledger_credits_total":              8,
		"recap_ledger_insufficient_credits_total": 1,
		"recap_generation_jobs_total":             1,
	}
	for name, v := range want {
		if got[name] != v {
			t.Errorf("%s = %v, want %v", name, got[name], v)
		}
	}
}
