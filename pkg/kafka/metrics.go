package kafka

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	outcomeAcked        = "acked"
	outcomeRetried      = "retried"
	outcomeDeadLettered = "dead_lettered"
	outcomeSkipped      = "skipped"
	outcomeAbandoned    = "abandoned"
)

// Metrics is safe to use as a nil pointer, in which case nothing is recorded.
type Metrics struct {
	deliveries *prometheus.CounterVec
	publishes  *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bus_deliveries_total",
			Help: "Message deliveries per queue by outcome.",
		}, []string{"queue", "outcome"}),
		publishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bus_publishes_total",
			Help: "Published messages per exchange and routing key.",
		}, []string{"exchange", "routing_key", "result"}),
	}

	reg.MustRegister(m.deliveries, m.publishes)
	return m
}

func (m *Metrics) delivery(queue, outcome string) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(queue, outcome).Inc()
}

func (m *Metrics) published(exchange, routingKey string, ok bool) {
	if m == nil {
		return
	}

	result := "ok"
	if !ok {
		result = "error"
	}
	m.publishes.WithLabelValues(exchange, routingKey, result).Inc()
}
