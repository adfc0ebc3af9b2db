package mplex

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the optional Prometheus counters for a Multiplex. Every
// method is nil-safe so a Multiplex built without WithMetricsRegisterer
// pays no cost and has no global-registry side effect, which matters for
// a library rather than a daemon.
type Metrics struct {
	streamsOpened   prometheus.Counter
	streamsAccepted prometheus.Counter
	streamsReset    prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		streamsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mplex",
			Name:      "streams_opened_total",
			Help:      "Streams opened locally via OpenStream.",
		}),
		streamsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mplex",
			Name:      "streams_accepted_total",
			Help:      "Streams accepted from the peer via Accept.",
		}),
		streamsReset: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mplex",
			Name:      "streams_reset_total",
			Help:      "Streams reset, locally or by the peer (includes slow-reader timeouts).",
		}),
	}
	for _, c := range []prometheus.Collector{m.streamsOpened, m.streamsAccepted, m.streamsReset} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) observeOpened() {
	if m != nil {
		m.streamsOpened.Inc()
	}
}

func (m *Metrics) observeAccepted() {
	if m != nil {
		m.streamsAccepted.Inc()
	}
}

func (m *Metrics) observeReset() {
	if m != nil {
		m.streamsReset.Inc()
	}
}
