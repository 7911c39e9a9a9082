package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the business counters. A nil *Metrics is valid and records nothing.
type Metrics struct {
	ledgerEntries    *prometheus.CounterVec
	ledgerCredits    *prometheus.CounterVec
	insufficient     prometheus.Counter
	paymentEvents    *prometheus.CounterVec
	generationJobs   *prometheus.CounterVec
	pipelineDuration *prometheus.HistogramVec
	avatarPolls      *prometheus.CounterVec
}

var (
	defaultOnce sync.Once
	defaultM    *Metrics
)

// Default returns the process-wide metrics registered on prometheus.DefaultRegisterer.
func Default() *Metrics {
	defaultOnce.Do(func() {
		defaultM = New(prometheus.DefaultRegisterer)
	})
	return defaultM
}

func New(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	ledgerEntries := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recap_ledger_entries_total",
			Help: "Ledger transactions written, by kind.",
		},
		[]string{"kind"},
	)
	ledgerCredits := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recap_ledger_credits_total",
			Help: "Credits moved through the ledger, by kind.",
		},
		[]string{"kind"},
	)
	insufficient := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "recap_ledger_insufficient_credits_total",
			Help: "Debits rejected for insufficient balance.",
		},
	)
	paymentEvents := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recap_payment_events_total",
			Help: "Payment provider events handled, by type and outcome.",
		},
		[]string{"type", "outcome"},
	)
	generationJobs := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recap_generation_jobs_total",
			Help: "Generation jobs reaching a terminal status.",
		},
		[]string{"status"},
	)
	pipelineDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "recap_generation_pipeline_seconds",
			Help:    "Wall time of the generation pipeline.",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1200},
		},
		[]string{"status"},
	)
	avatarPolls := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recap_avatar_polls_total",
			Help: "Status polls against the avatar provider, by result.",
		},
		[]string{"result"},
	)

	registerer.MustRegister(
		ledgerEntries,
		ledgerCredits,
		insufficient,
		paymentEvents,
		generationJobs,
		pipelineDuration,
		avatarPolls,
	)

	return &Metrics{
		ledgerEntries:    ledgerEntries,
		ledgerCredits:    ledgerCredits,
		insufficient:     insufficient,
		paymentEvents:    paymentEvents,
		generationJobs:   generationJobs,
		pipelineDuration: pipelineDuration,
		avatarPolls:      avatarPolls,
	}
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

func (m *Metrics) LedgerEntry(kind string, amount int) {
	if m == nil {
		return
	}
	m.ledgerEntries.WithLabelValues(kind).Inc()
	m.ledgerCredits.WithLabelValues(kind).Add(float64(amount))
}

func (m *Metrics) InsufficientCredits() {
	if m == nil {
		return
	}
	m.insufficient.Inc()
}

func (m *Metrics) PaymentEvent(eventType, outcome string) {
	if m == nil {
		return
	}
	m.paymentEvents.WithLabelValues(eventType, outcome).Inc()
}

func (m *Metrics) GenerationFinished(status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.generationJobs.WithLabelValues(status).Inc()
	m.pipelineDuration.WithLabelValues(status).Observe(elapsed.Seconds())
}

func (m *Metrics) AvatarPoll(result string) {
	if m == nil {
		return
	}
	m.avatarPolls.WithLabelValues(result).Inc()
}
