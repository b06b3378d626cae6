package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Latency: полное время хода, включая паузу на approval
	TurnDuration *prometheus.HistogramVec

	// Traffic: общее кол-во ходов
	TurnsTotal *prometheus.CounterVec

	// Решения операторов по статусам (approved/denied)
	DecisionsTotal *prometheus.CounterVec

	// Errors: классификация отказов
	ErrorTotal *prometheus.CounterVec

	// Saturation: открытые SSE-подписки
	ActiveStreams prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern - Если рег не передан, используем локальный, который никуда не подключен
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		TurnDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "agentorg_turn_duration_seconds",
			Help:    "Histogram of turn latencies including approval pauses.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 300},
		}, []string{"persona", "status"}),

		TurnsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "agentorg_turns_total",
			Help: "Total number of processed turns.",
		}, []string{"persona"}),

		DecisionsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "agentorg_decisions_total",
			Help: "Total number of reviewer decisions.",
		}, []string{"status"}),

		ErrorTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "agentorg_errors_total",
			Help: "Total number of errors by type.",
		}, []string{"type"}), // типы: validation, conflict, upstream, timeout

		ActiveStreams: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "agentorg_active_streams",
			Help: "Current number of open SSE subscriptions.",
		}),
	}
}
