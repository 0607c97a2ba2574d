package session

import "github.com/prometheus/client_golang/prometheus"

const metricsNamespace = "session"

type metrics struct {
	exchanges     *prometheus.CounterVec
	waiters       prometheus.Gauge
	replays       *prometheus.CounterVec
	invalidations prometheus.Counter
}

// newMetrics builds the collectors and registers them on reg when reg is
// non-nil.
func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		exchanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "refresh_exchanges_total",
			Help:      "Refresh exchanges performed, by outcome.",
		}, []string{"outcome"}),
		waiters: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "refresh_waiters",
			Help:      "Requests currently queued behind an in-flight refresh.",
		}),
		replays: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "replays_total",
			Help:      "Requests replayed after a refresh, by result.",
		}, []string{"result"}),
		invalidations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "invalidations_total",
			Help:      "Dead-session episodes reported to the lifecycle hook.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.exchanges, m.waiters, m.replays, m.invalidations)
	}
	return m
}

func (m *metrics) observeExchange(outcome string) {
	m.exchanges.WithLabelValues(outcome).Inc()
}

func (m *metrics) observeReplay(status int, err error) {
	switch {
	case err != nil:
		m.replays.WithLabelValues("error").Inc()
	case status == 401:
		m.replays.WithLabelValues("unauthorized").Inc()
	case status >= 200 && status < 300:
		m.replays.WithLabelValues("ok").Inc()
	default:
		m.replays.WithLabelValues("failed").Inc()
	}
}
