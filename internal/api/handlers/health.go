// health.go — обработчики health endpoints share-bot.
// /health/live — liveness probe (процесс жив)
// /health/ready — readiness probe (реестр загружен, хранилище доступно)
package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bigkaa/goartstore/share-bot/internal/config"
)

const (
	statusOK       = "ok"
	statusDegraded = "degraded"
	statusFail     = "fail"
)

// ReadinessChecker — интерфейс проверки готовности зависимости.
type ReadinessChecker interface {
	// CheckReady возвращает статус ("ok", "degraded", "fail") и сообщение.
	CheckReady() (status string, message string)
}

// RegistryState — состояние реестра для readiness.
type RegistryState interface {
	Ready() bool
	Len() int
}

// DependencyReporter — состояние внешних зависимостей (topologymetrics).
type DependencyReporter interface {
	Health() map[string]bool
}

// HealthHandler — обработчик health endpoints.
type HealthHandler struct {
	registry RegistryState
	// storeChecker — проверка хранилища (PostgreSQL); nil для файлового бэкенда
	storeChecker ReadinessChecker
	// deps — nil, если мониторинг зависимостей не запущен
	deps DependencyReporter
}

// NewHealthHandler создаёт обработчик health endpoints.
func NewHealthHandler(registry RegistryState, storeChecker ReadinessChecker, deps DependencyReporter) *HealthHandler {
	return &HealthHandler{
		registry:     registry,
		storeChecker: storeChecker,
		deps:         deps,
	}
}

// healthCheckResult — результат проверки одной зависимости.
type healthCheckResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// healthLiveResponse — ответ liveness probe.
type healthLiveResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
	Service   string `json:"service"`
}

// healthReadyResponse — ответ readiness probe.
type healthReadyResponse struct {
	Status    string                       `json:"status"`
	Timestamp string                       `json:"timestamp"`
	Version   string                       `json:"version"`
	Service   string                       `json:"service"`
	Checks    map[string]healthCheckResult `json:"checks"`
}

// HealthLive — liveness probe. Возвращает 200 если процесс жив.
func (h *HealthHandler) HealthLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthLiveResponse{
		Status:    statusOK,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   config.Version,
		Service:   "share-bot",
	})
}

// HealthReady — readiness probe.
// Реестр не готов (не загружен или закрывается) или хранилище недоступно — fail (503).
// Недоступность Bot API — degraded: команды не доставляются, но реестр работает.
func (h *HealthHandler) HealthReady(w http.ResponseWriter, _ *http.Request) {
	checks := map[string]healthCheckResult{
		"registry": h.checkRegistry(),
	}
	if h.storeChecker != nil {
		status, msg := h.storeChecker.CheckReady()
		checks["store"] = healthCheckResult{Status: status, Message: msg}
	}
	if h.deps != nil {
		checks["dependencies"] = h.checkDependencies()
	}

	statuses := make([]string, 0, len(checks))
	for _, c := range checks {
		statuses = append(statuses, c.Status)
	}

	resp := healthReadyResponse{
		Status:    overallStatus(statuses...),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   config.Version,
		Service:   "share-bot",
		Checks:    checks,
	}

	httpStatus := http.StatusOK
	if resp.Status == statusFail {
		httpStatus = http.StatusServiceUnavailable
	}
	writeJSON(w, httpStatus, resp)
}

func (h *HealthHandler) checkRegistry() healthCheckResult {
	if h.registry == nil || !h.registry.Ready() {
		return healthCheckResult{Status: statusFail, Message: "реестр не загружен или закрывается"}
	}
	return healthCheckResult{Status: statusOK, Message: fmt.Sprintf("записей: %d", h.registry.Len())}
}

func (h *HealthHandler) checkDependencies() healthCheckResult {
	var failed []string
	for name, ok := range h.deps.Health() {
		if !ok {
			failed = append(failed, name)
		}
	}
	if len(failed) > 0 {
		return healthCheckResult{Status: statusDegraded, Message: "недоступны: " + strings.Join(failed, ", ")}
	}
	return healthCheckResult{Status: statusOK}
}

// overallStatus определяет итоговый статус из статусов зависимостей.
// Если хотя бы одна зависимость fail — итог fail.
// Если хотя бы одна degraded — итог degraded.
// Иначе — ok.
func overallStatus(statuses ...string) string {
	hasDegraded := false
	for _, s := range statuses {
		if s == statusFail {
			return statusFail
		}
		if s == statusDegraded {
			hasDegraded = true
		}
	}
	if hasDegraded {
		return statusDegraded
	}
	return statusOK
}

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
