package infra

import (
	"context"

	"db-admission-gateway/middleware/admission/domain"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusStatsStore expõe os eventos de admissão como contador
// admission_events_total{source,outcome,priority}.
type PrometheusStatsStore struct {
	events *prometheus.CounterVec
}

func NewPrometheusStatsStore(reg prometheus.Registerer) (*PrometheusStatsStore, error) {
	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "admission",
		Name:      "events_total",
		Help:      "Admission decisions by source, outcome and priority.",
	}, []string{"source", "outcome", "priority"})
	if err := reg.Register(events); err != nil {
		return nil, err
	}
	return &PrometheusStatsStore{events: events}, nil
}

func (s *PrometheusStatsStore) Record(_ context.Context, ev domain.StatsEvent) error {
	s.events.WithLabelValues(ev.Source, string(ev.Outcome), ev.Priority.String()).Inc()
	return nil
}

// QueueStatser e ConnectionStatser são os snapshots lidos pelos gauges.
type QueueStatser interface {
	Stats() domain.QueueStats
}

type ConnectionStatser interface {
	Stats() domain.ConnectionStats
}

// RegisterGauges registra gauges lidos no momento do scrape a partir dos
// snapshots da fila e do gateway.
func RegisterGauges(reg prometheus.Registerer, q QueueStatser, g ConnectionStatser) error {
	gauge := func(name, help string, fn func() float64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "admission",
			Name:      name,
			Help:      help,
		}, fn)
	}

	collectors := []prometheus.Collector{
		gauge("queue_active_requests", "Operations currently executing.", func() float64 {
			return float64(q.Stats().ActiveRequests)
		}),
		gauge("queue_length", "Operations waiting in the queue.", func() float64 {
			return float64(q.Stats().QueueLength)
		}),
		gauge("queue_max_concurrent_requests", "Configured concurrency limit.", func() float64 {
			return float64(q.Stats().MaxConcurrentRequests)
		}),
		gauge("connections_active", "Connections handed out and not yet released.", func() float64 {
			return float64(g.Stats().ActiveConnections)
		}),
		gauge("connections_pending_acquires", "Acquisitions in progress against the driver.", func() float64 {
			return float64(g.Stats().PendingAcquires)
		}),
		gauge("connections_created_total", "Connections handed out since start.", func() float64 {
			return float64(g.Stats().TotalCreated)
		}),
		gauge("connections_errors_total", "Driver and query failures since start.", func() float64 {
			return float64(g.Stats().ConnectionErrors)
		}),
		gauge("connections_slow_queries_total", "Queries above the slow query threshold.", func() float64 {
			return float64(g.Stats().SlowQueries)
		}),
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
