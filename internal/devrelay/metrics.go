package devrelay

import "github.com/prometheus/client_golang/prometheus"

// Metrics are the dev relay's prometheus collectors.
type Metrics struct {
	requests *prometheus.CounterVec
	txs      *prometheus.CounterVec
}

// NewMetrics registers the collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "devrelay",
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status.",
		}, []string{"route", "status"}),
		txs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "devrelay",
			Name:      "transactions_total",
			Help:      "Simulated transactions by final status.",
		}, []string{"status"}),
	}
	reg.MustRegister(m.requests, m.txs)
	return m
}

func (m *Metrics) tx(status string) {
	if m != nil {
		m.txs.WithLabelValues(status).Inc()
	}
}
