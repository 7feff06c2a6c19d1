// Package metrics exposes Prometheus collectors for the schedule engine.
// A nil *Metrics is valid and records nothing, so components can be built
// without a registry in tests.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	conflictChecks   *prometheus.CounterVec
	conflictsFound   *prometheus.CounterVec
	conflictDuration prometheus.Histogram
	transitions      *prometheus.CounterVec
	ledgerEntries    *prometheus.CounterVec
	reconciled       *prometheus.CounterVec
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
}

// New registers every collector on a private registry under namespace.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "schedule"
	}
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		conflictChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "conflict_checks_total",
			Help: "Conflict checks run, by outcome (clear or conflict).",
		}, []string{"outcome"}),
		conflictsFound: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "conflicts_found_total",
			Help: "Conflicts reported, by source entity kind.",
		}, []string{"kind"}),
		conflictDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "conflict_check_duration_seconds",
			Help:    "Time spent in one conflict check.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "timeoff_transitions_total",
			Help: "Time-off request status transitions, by target status.",
		}, []string{"to"}),
		ledgerEntries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "ledger_entries_total",
			Help: "Balance ledger entries written, by transaction type.",
		}, []string{"type"}),
		reconciled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "reconcile_changes_total",
			Help: "Remote changes reconciled, by result.",
		}, []string{"result"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "http_requests_total",
			Help: "HTTP requests served.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.conflictChecks, m.conflictsFound, m.conflictDuration,
		m.transitions, m.ledgerEntries, m.reconciled,
		m.httpRequests, m.httpDuration,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveConflictCheck records one check and the kinds of every conflict it found.
func (m *Metrics) ObserveConflictCheck(elapsed time.Duration, kinds []string) {
	if m == nil {
		return
	}
	m.conflictDuration.Observe(elapsed.Seconds())
	if len(kinds) == 0 {
		m.conflictChecks.WithLabelValues("clear").Inc()
		return
	}
	m.conflictChecks.WithLabelValues("conflict").Inc()
	for _, k := range kinds {
		m.conflictsFound.WithLabelValues(k).Inc()
	}
}

func (m *Metrics) Transition(to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(to).Inc()
}

func (m *Metrics) LedgerEntry(txType string) {
	if m == nil {
		return
	}
	m.ledgerEntries.WithLabelValues(txType).Inc()
}

func (m *Metrics) Reconciled(result string) {
	if m == nil {
		return
	}
	m.reconciled.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}
