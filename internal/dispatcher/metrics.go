// metrics.go — Prometheus метрики диспетчера команд.
package dispatcher

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/share-bot/internal/registry"
)

var (
	// commandsTotal — количество обработанных команд по результату.
	commandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sb_dispatcher_commands_total",
		Help: "Общее количество обработанных команд бота",
	}, []string{"command", "result"})

	// commandDurationSeconds — длительность обработки команды.
	commandDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sb_dispatcher_command_duration_seconds",
		Help:    "Длительность обработки команды в секундах",
		Buckets: prometheus.DefBuckets,
	}, []string{"command"})

	// duplicateUpdatesTotal — повторно доставленные обновления.
	duplicateUpdatesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sb_dispatcher_duplicate_updates_total",
		Help: "Количество отброшенных повторных обновлений",
	})

	// notifyFailuresTotal — недоставленные уведомления в архивный канал.
	notifyFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sb_dispatcher_notify_failures_total",
		Help: "Количество недоставленных уведомлений в архивный канал",
	})
)

// resultLabel — значение метки result для ошибки команды.
func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, registry.ErrNotFound):
		return "not_found"
	case errors.Is(err, registry.ErrPermissionDenied):
		return "forbidden"
	case errors.Is(err, registry.ErrDurability):
		return "durability_failure"
	case errors.Is(err, registry.ErrClosed):
		return "closed"
	default:
		return "error"
	}
}
