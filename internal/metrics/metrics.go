// Package metrics exposes session-lifecycle counters in Prometheus format.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Refresh outcomes
const (
	RefreshSuccess = "success"
	RefreshFailure = "failure"
	RefreshShared  = "shared"
)

// Metrics groups the counters the transport and session holder report to.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	refreshes          *prometheus.CounterVec
	retries            prometheus.Counter
	backendUnreachable prometheus.Counter
	resolutions        *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pathforge",
			Name:      "refresh_exchanges_total",
			Help:      "Refresh exchanges by outcome. shared counts callers that joined an in-flight exchange.",
		}, []string{"outcome"}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pathforge",
			Name:      "request_retries_total",
			Help:      "Requests re-dispatched after a credential refresh.",
		}),
		backendUnreachable: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pathforge",
			Name:      "backend_unreachable_total",
			Help:      "Requests that received no response from the backend.",
		}),
		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pathforge",
			Name:      "session_resolutions_total",
			Help:      "Completed session resolutions by terminal status.",
		}, []string{"status"}),
	}

	m.registry.MustRegister(m.refreshes, m.retries, m.backendUnreachable, m.resolutions)
	return m
}

func (m *Metrics) Refresh(outcome string) {
	if m == nil {
		return
	}
	m.refreshes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Retry() {
	if m == nil {
		return
	}
	m.retries.Inc()
}

func (m *Metrics) BackendUnreachable() {
	if m == nil {
		return
	}
	m.backendUnreachable.Inc()
}

func (m *Metrics) Resolution(status string) {
	if m == nil {
		return
	}
	m.resolutions.WithLabelValues(status).Inc()
}

// Registry exposes the underlying registry, mostly for tests
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
