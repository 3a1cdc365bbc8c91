package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the ledger collectors. A nil *Metrics is valid and records
// nothing, so components can run uninstrumented in tools and tests.
type Metrics struct {
	Mutations             *prometheus.CounterVec
	JournalEntries        *prometheus.CounterVec
	DepositsFinalized     prometheus.Counter
	WithdrawalTransitions *prometheus.CounterVec
	LockAcquisitions      *prometheus.CounterVec
	RateLimitDecisions    *prometheus.CounterVec
	ReconcileAccounts     *prometheus.CounterVec
	SinkFailures          *prometheus.CounterVec
	ScopeDuration         *prometheus.HistogramVec
}

func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		Mutations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_mutations_total",
				Help: "Balance mutations by operation and outcome.",
			},
			[]string{"op", "status"},
		),
		JournalEntries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_journal_entries_total",
				Help: "Journal entries appended by kind.",
			},
			[]string{"kind"},
		),
		DepositsFinalized: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "ledger_deposits_finalized_total",
				Help: "Deposits credited to the ledger.",
			},
		),
		WithdrawalTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_withdrawal_transitions_total",
				Help: "Withdrawal state transitions by target state and outcome.",
			},
			[]string{"to", "status"},
		),
		LockAcquisitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_lock_acquisitions_total",
				Help: "Distributed lock acquisition attempts by outcome.",
			},
			[]string{"status"},
		),
		RateLimitDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_rate_limit_decisions_total",
				Help: "Rate limiter decisions.",
			},
			[]string{"result"},
		),
		ReconcileAccounts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_reconcile_accounts_total",
				Help: "Accounts reconciled by outcome.",
			},
			[]string{"status"},
		),
		SinkFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_sink_failures_total",
				Help: "Journal sink publish failures.",
			},
			[]string{"sink"},
		),
		ScopeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ledger_scope_duration_seconds",
				Help:    "Transactional scope duration in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"status"},
		),
	}
	if registry != nil {
		registry.MustRegister(
			m.Mutations,
			m.JournalEntries,
			m.DepositsFinalized,
			m.WithdrawalTransitions,
			m.LockAcquisitions,
			m.RateLimitDecisions,
			m.ReconcileAccounts,
			m.SinkFailures,
			m.ScopeDuration,
		)
	}
	return m
}

func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

func status(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}

func (m *Metrics) ObserveMutation(op string, result string) {
	if m == nil {
		return
	}
	m.Mutations.WithLabelValues(op, result).Inc()
}

func (m *Metrics) ObserveJournalEntry(kind string) {
	if m == nil {
		return
	}
	m.JournalEntries.WithLabelValues(kind).Inc()
}

func (m *Metrics) ObserveDepositFinalized() {
	if m == nil {
		return
	}
	m.DepositsFinalized.Inc()
}

func (m *Metrics) ObserveWithdrawalTransition(to string, ok bool) {
	if m == nil {
		return
	}
	m.WithdrawalTransitions.WithLabelValues(to, status(ok)).Inc()
}

// ObserveLock records "acquired", "busy" or "error".
func (m *Metrics) ObserveLock(result string) {
	if m == nil {
		return
	}
	m.LockAcquisitions.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveRateLimit(allowed bool) {
	if m == nil {
		return
	}
	result := "allowed"
	if !allowed {
		result = "refused"
	}
	m.RateLimitDecisions.WithLabelValues(result).Inc()
}

// ObserveReconcile records "balanced", "mismatch" or "error".
func (m *Metrics) ObserveReconcile(result string) {
	if m == nil {
		return
	}
	m.ReconcileAccounts.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveSinkFailure(sink string) {
	if m == nil {
		return
	}
	m.SinkFailures.WithLabelValues(sink).Inc()
}

func (m *Metrics) ObserveScope(d time.Duration, ok bool) {
	if m == nil {
		return
	}
	m.ScopeDuration.WithLabelValues(status(ok)).Observe(d.Seconds())
}
