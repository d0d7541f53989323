// metrics.go — Prometheus метрики реестра.
package registry

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// operationsTotal — операции реестра по типу и результату.
	operationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sb_registry_operations_total",
			Help: "Общее количество операций реестра",
		},
		[]string{"operation", "result"},
	)

	// recordsGauge — текущее количество записей.
	recordsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sb_registry_records",
		Help: "Текущее количество записей в реестре",
	})

	// flushDurationSeconds — длительность записи снапшота.
	flushDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sb_registry_flush_duration_seconds",
		Help:    "Длительность записи снапшота реестра в секундах",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	})

	// flushFailuresTotal — неудачные записи снапшота.
	flushFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sb_registry_flush_failures_total",
		Help: "Количество неудачных записей снапшота реестра",
	})

	// idCollisionsTotal — коллизии сгенерированных идентификаторов.
	idCollisionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sb_registry_id_collisions_total",
		Help: "Количество коллизий сгенерированных идентификаторов",
	})
)

// resultLabel преобразует ошибку операции в значение лейбла result.
func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrPermissionDenied):
		return "forbidden"
	case errors.Is(err, ErrDurability):
		return "durability_failure"
	case errors.Is(err, ErrClosed):
		return "closed"
	case errors.Is(err, ErrInvalidArgument):
		return "invalid"
	default:
		return "error"
	}
}

// observe учитывает результат операции.
func observe(operation string, err error) {
	operationsTotal.WithLabelValues(operation, resultLabel(err)).Inc()
}
