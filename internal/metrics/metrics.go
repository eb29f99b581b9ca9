// Package metrics содержит счётчики Prometheus для входящего потока событий.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics — счётчики обработки входящих событий.
type Metrics struct {
	registry *prometheus.Registry

	EventsTotal    prometheus.Counter
	EventsLimited  prometheus.Counter
	EventsRejected prometheus.Counter
}

// New создаёт счётчики в собственном реестре.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		EventsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "assistant_events_total",
			Help: "Число принятых входящих событий.",
		}),
		EventsLimited: factory.NewCounter(prometheus.CounterOpts{
			Name: "assistant_events_limited_total",
			Help: "Число событий, отброшенных ограничителем частоты.",
		}),
		EventsRejected: factory.NewCounter(prometheus.CounterOpts{
			Name: "assistant_events_rejected_total",
			Help: "Число событий, отклонённых при разборе запроса.",
		}),
	}
}

// Handler возвращает HTTP-обработчик выдачи метрик.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
