// metrics.go — Prometheus HTTP метрики share-bot.
// Регистрирует метрики: sb_http_requests_total, sb_http_request_duration_seconds.
// Бизнес-метрики реестра и диспетчера регистрируются в своих пакетах.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP метрики
var (
	// httpRequestsTotal — общее количество HTTP-запросов.
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sb_http_requests_total",
			Help: "Общее количество HTTP-запросов к share-bot",
		},
		[]string{"method", "path", "status"},
	)

	// httpRequestDuration — гистограмма длительности HTTP-запросов.
	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sb_http_request_duration_seconds",
			Help:    "Длительность HTTP-запросов к share-bot в секундах",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// MetricsMiddleware возвращает HTTP middleware для сбора Prometheus метрик.
// Записывает количество запросов и длительность для каждого endpoint.
func MetricsMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Нормализуем путь для лейблов метрик
			// (заменяем идентификаторы на {id} для ограничения кардинальности)
			normalizedPath := normalizePath(r.URL.Path)

			wrapped := newResponseWriter(w)
			next.ServeHTTP(wrapped, r)

			duration := time.Since(start).Seconds()
			status := strconv.Itoa(wrapped.statusCode)

			httpRequestsTotal.WithLabelValues(r.Method, normalizedPath, status).Inc()
			httpRequestDuration.WithLabelValues(r.Method, normalizedPath).Observe(duration)
		})
	}
}

// knownPaths — маршруты без параметров.
var knownPaths = map[string]struct{}{
	"/health/live":        {},
	"/health/ready":       {},
	"/metrics":            {},
	"/telegram/webhook":   {},
	"/api/v1/files":       {},
	"/api/v1/admin/files": {},
}

// normalizePath заменяет идентификатор файла в пути на {id}, остальные
// неизвестные пути сводит к "other".
// /api/v1/files/a1b2c3d4-e5f6-7890-abcd-ef1234567890/revoke → /api/v1/files/{id}/revoke
//
// Идентификаторы из старого формата снапшота не обязательно UUID,
// поэтому заменяется любой непустой сегмент.
func normalizePath(path string) string {
	if _, ok := knownPaths[path]; ok {
		return path
	}

	const filesPrefix = "/api/v1/files/"
	if rest, ok := strings.CutPrefix(path, filesPrefix); ok && rest != "" {
		id, suffix, _ := strings.Cut(rest, "/")
		if id != "" {
			switch suffix {
			case "":
				return filesPrefix + "{id}"
			case "revoke":
				return filesPrefix + "{id}/revoke"
			}
		}
	}
	return "other"
}
