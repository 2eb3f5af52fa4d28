// Package http provides the HTTP transport adapter for the identity service.
package http

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for authd.
// Pass to components that need to record metrics.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	LoginAttempts   *prometheus.CounterVec
	TokensIssued    prometheus.Counter
	ResetRequests   prometheus.Counter
	PasswordChanges prometheus.Counter
	AuditDropsTotal prometheus.CounterFunc
}

// NewMetrics creates and registers all metrics with the given registry.
// auditDrops reports the cumulative count of dropped audit records; pass
// nil to skip that collector.
func NewMetrics(reg prometheus.Registerer, auditDrops func() float64) *Metrics {
	m := &Metrics{
		RequestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "authd",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests processed",
			},
			[]string{"method", "status"}, // status=ok/error
		),
		RequestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "authd",
				Name:      "request_duration_seconds",
				Help:      "Request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		LoginAttempts: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "authd",
				Name:      "login_attempts_total",
				Help:      "Total login attempts by outcome",
			},
			[]string{"result"}, // result=success/invalid/locked/inactive/error
		),
		TokensIssued: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "authd",
				Name:      "tokens_issued_total",
				Help:      "Total bearer tokens issued across all flows",
			},
		),
		ResetRequests: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "authd",
				Name:      "password_reset_requests_total",
				Help:      "Total password reset requests accepted",
			},
		),
		PasswordChanges: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "authd",
				Name:      "password_changes_total",
				Help:      "Total successful password changes via reset token",
			},
		),
	}

	if auditDrops != nil {
		m.AuditDropsTotal = promauto.With(reg).NewCounterFunc(
			prometheus.CounterOpts{
				Namespace: "authd",
				Name:      "audit_drops_total",
				Help:      "Total audit records dropped due to backpressure",
			},
			auditDrops,
		)
	}

	return m
}
