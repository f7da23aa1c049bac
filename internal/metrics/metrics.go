package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "auth_proxy"

// Metrics holds the proxy's counters on a private registry. A nil *Metrics
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	logins       *prometheus.CounterVec
	refreshes    *prometheus.CounterVec
	oboRequests  *prometheus.CounterVec
	proxyDenials *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		logins: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "logins_total",
				Help:      "Login flow transitions by stage and outcome",
			},
			[]string{"stage", "outcome"},
		),
		refreshes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "token_refreshes_total",
				Help:      "Refresh grant attempts by outcome",
			},
			[]string{"outcome"},
		),
		oboRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "obo_tokens_total",
				Help:      "On-behalf-of token lookups per app by result (hit, exchanged, failed)",
			},
			[]string{"app", "result"},
		),
		proxyDenials: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "proxy_denied_total",
				Help:      "Proxied requests rejected before reaching the app",
			},
			[]string{"app", "status"},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.logins,
		m.refreshes,
		m.oboRequests,
		m.proxyDenials,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) LoginStarted() {
	if m == nil {
		return
	}
	m.logins.WithLabelValues("started", "ok").Inc()
}

func (m *Metrics) LoginCompleted(err error) {
	if m == nil {
		return
	}
	m.logins.WithLabelValues("completed", outcome(err)).Inc()
}

func (m *Metrics) Refreshed(err error) {
	if m == nil {
		return
	}
	m.refreshes.WithLabelValues(outcome(err)).Inc()
}

func (m *Metrics) OboCacheHit(app string) {
	if m == nil {
		return
	}
	m.oboRequests.WithLabelValues(app, "hit").Inc()
}

func (m *Metrics) OboExchanged(app string, err error) {
	if m == nil {
		return
	}
	result := "exchanged"
	if err != nil {
		result = "failed"
	}
	m.oboRequests.WithLabelValues(app, result).Inc()
}

func (m *Metrics) ProxyDenied(app string, status int) {
	if m == nil {
		return
	}
	m.proxyDenials.WithLabelValues(app, strconv.Itoa(status)).Inc()
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
