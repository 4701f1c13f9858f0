// Package metrics exposes Prometheus counters for authentication and session activity.
package metrics

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels for account operations.
const (
	OutcomeSuccess  = "success"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
)

// Outcome labels for session validation.
const (
	SessionValid        = "valid"
	SessionMissingToken = "missing_token"
	SessionInvalid      = "invalid"
	SessionError        = "error"
)

// Metrics contains the service's Prometheus collectors and the registry serving them.
type Metrics struct {
	registry *prometheus.Registry

	AccountOperations  *prometheus.CounterVec
	SessionValidations *prometheus.CounterVec
	PasswordHashing    *prometheus.HistogramVec
	HTTPRequests       *prometheus.CounterVec
	HTTPDuration       *prometheus.HistogramVec
	AuditedEvents      *prometheus.CounterVec
}

// New creates a dedicated registry with Go/process collectors and the service metrics.
func New() *Metrics {
	// Create a new registry to avoid polluting the global one
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: registry,
		AccountOperations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orpheus_account_operations_total",
				Help: "Account operations by operation and outcome",
			},
			[]string{"operation", "outcome"},
		),
		SessionValidations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orpheus_session_validations_total",
				Help: "Bearer token validations by outcome",
			},
			[]string{"outcome"},
		),
		PasswordHashing: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "orpheus_password_hash_duration_seconds",
				Help:    "Time spent hashing or verifying passwords",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
			[]string{"operation"},
		),
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orpheus_http_requests_total",
				Help: "HTTP requests by method, route and status",
			},
			[]string{"method", "route", "status"},
		),
		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "orpheus_http_request_duration_seconds",
				Help:    "HTTP request latency by method and route",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		AuditedEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orpheus_audited_security_events_total",
				Help: "Security events received by the audit worker by type and outcome",
			},
			[]string{"type", "outcome"},
		),
	}

	registry.MustRegister(
		m.AccountOperations,
		m.SessionValidations,
		m.PasswordHashing,
		m.HTTPRequests,
		m.HTTPDuration,
		m.AuditedEvents,
	)

	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		Registry: m.registry,
	})
}

// RegisterDBStats exports the connection pool statistics of db, labelled db_name=dbName.
// Safe on a nil receiver.
func (m *Metrics) RegisterDBStats(dbName string, db *sql.DB) error {
	if m == nil {
		return nil
	}

	return m.registry.Register(collectors.NewDBStatsCollector(db, dbName))
}

// Registry returns the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordAccountOperation counts one account operation. Safe on a nil receiver.
func (m *Metrics) RecordAccountOperation(operation, outcome string) {
	if m == nil {
		return
	}
	m.AccountOperations.WithLabelValues(operation, outcome).Inc()
}

// RecordSessionValidation counts one middleware decision. Safe on a nil receiver.
func (m *Metrics) RecordSessionValidation(outcome string) {
	if m == nil {
		return
	}
	m.SessionValidations.WithLabelValues(outcome).Inc()
}

// ObservePasswordHashing records how long a hash or check took. Safe on a nil receiver.
func (m *Metrics) ObservePasswordHashing(operation string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.PasswordHashing.WithLabelValues(operation).Observe(elapsed.Seconds())
}

// RecordHTTPRequest counts a served request. Safe on a nil receiver.
func (m *Metrics) RecordHTTPRequest(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, statusLabel(status)).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// RecordAuditedEvent counts one security event handled by the audit worker. Safe on a nil receiver.
func (m *Metrics) RecordAuditedEvent(eventType, outcome string) {
	if m == nil {
		return
	}
	m.AuditedEvents.WithLabelValues(eventType, outcome).Inc()
}

func statusLabel(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
