package auth

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts refreshes, retries and redirects. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	refreshes     *prometheus.CounterVec
	refreshShared prometheus.Counter
	requests      *prometheus.CounterVec
	retries       prometheus.Counter
	redirects     *prometheus.CounterVec
}

// NewMetrics registers the auth collectors on reg; a nil reg uses a private
// registry so repeated construction in tests never collides.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		refreshes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tripdesk",
			Subsystem: "auth",
			Name:      "refresh_total",
			Help:      "Refresh endpoint calls by result",
		}, []string{"result"}),
		refreshShared: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "tripdesk",
			Subsystem: "auth",
			Name:      "refresh_shared_total",
			Help:      "Refresh demands served by an in-flight refresh",
		}),
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tripdesk",
			Subsystem: "auth",
			Name:      "requests_total",
			Help:      "Requests through the gateway by whether auth was applied",
		}, []string{"auth"}),
		retries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "tripdesk",
			Subsystem: "auth",
			Name:      "retries_total",
			Help:      "Requests reissued after a 401",
		}),
		redirects: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tripdesk",
			Subsystem: "auth",
			Name:      "redirects_total",
			Help:      "Login redirects by reason",
		}, []string{"reason"}),
	}
}

func (m *Metrics) refresh(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.refreshes.WithLabelValues(result).Inc()
}

func (m *Metrics) shared() {
	if m == nil {
		return
	}
	m.refreshShared.Inc()
}

func (m *Metrics) request(doAuth bool) {
	if m == nil {
		return
	}
	label := "false"
	if doAuth {
		label = "true"
	}
	m.requests.WithLabelValues(label).Inc()
}

func (m *Metrics) retry() {
	if m == nil {
		return
	}
	m.retries.Inc()
}

func (m *Metrics) redirect(reason string) {
	if m == nil {
		return
	}
	m.redirects.WithLabelValues(reason).Inc()
}
