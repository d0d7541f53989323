// dephealth.go — интеграция с topologymetrics SDK для мониторинга зависимостей.
//
// share-bot мониторит:
//   - Telegram Bot API — HTTP checker к базовому URL (critical). Путь
//     проверки не содержит токен бота;
//   - PostgreSQL — SQL checker через существующий pgxpool (critical),
//     только при SB_STORE_BACKEND=postgres.
//
// Метрики доступны на /metrics вместе с остальными Prometheus-метриками:
//   - app_dependency_health — состояние зависимости (1 = ok, 0 = fail)
//   - app_dependency_latency_seconds — задержка проверки
package service

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/BigKAA/topologymetrics/sdk-go/dephealth"
	_ "github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks/httpcheck" // регистрация HTTP checker factory
	"github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks/pgcheck"
	"github.com/prometheus/client_golang/prometheus"
)

// botAPIHealthPath — путь проверки Bot API. Корень отвечает без токена.
const botAPIHealthPath = "/"

// DephealthService — сервис мониторинга зависимостей через topologymetrics.
type DephealthService struct {
	dh     *dephealth.DepHealth
	logger *slog.Logger
}

// DephealthParams — параметры мониторинга.
type DephealthParams struct {
	// ServiceID — имя вершины графа текущего приложения
	ServiceID string
	// Group — имя группы в метриках (SB_DEPHEALTH_GROUP)
	Group string
	// BotAPIURL — базовый URL Bot API (без токена)
	BotAPIURL string
	// DB — *sql.DB из pgxpool (stdlib.OpenDBFromPool); nil отключает проверку PostgreSQL
	DB *sql.DB
	// PGConnURL — URL PostgreSQL для меток (не для подключения)
	PGConnURL string
	// CheckInterval — интервал проверки (SB_DEPHEALTH_CHECK_INTERVAL)
	CheckInterval time.Duration
}

// NewDephealthService создаёт сервис мониторинга зависимостей.
// Метрики регистрируются в глобальном Prometheus registry.
func NewDephealthService(params DephealthParams, logger *slog.Logger) (*DephealthService, error) {
	return newDephealthService(params, logger)
}

// NewDephealthServiceWithRegisterer создаёт сервис с указанным Prometheus registerer.
// Используется в тестах для изоляции метрик.
func NewDephealthServiceWithRegisterer(
	params DephealthParams,
	logger *slog.Logger,
	registerer prometheus.Registerer,
) (*DephealthService, error) {
	return newDephealthService(params, logger, dephealth.WithRegisterer(registerer))
}

// newDephealthService — внутренний конструктор.
func newDephealthService(
	params DephealthParams,
	logger *slog.Logger,
	extraOpts ...dephealth.Option,
) (*DephealthService, error) {
	botDepOpts := []dephealth.DependencyOption{
		dephealth.FromURL(params.BotAPIURL),
		dephealth.WithHTTPHealthPath(botAPIHealthPath),
		dephealth.CheckInterval(params.CheckInterval),
		dephealth.Critical(true),
	}

	opts := make([]dephealth.Option, 0, 3+len(extraOpts))
	opts = append(opts,
		dephealth.WithLogger(logger),
		dephealth.HTTP("telegram-bot-api", botDepOpts...),
	)

	if params.DB != nil {
		opts = append(opts,
			dephealth.AddDependency("postgresql", dephealth.TypePostgres,
				pgcheck.New(pgcheck.WithDB(params.DB)),
				dephealth.FromURL(params.PGConnURL),
				dephealth.CheckInterval(params.CheckInterval),
				dephealth.Critical(true),
			),
		)
	}
	opts = append(opts, extraOpts...)

	dh, err := dephealth.New(params.ServiceID, params.Group, opts...)
	if err != nil {
		return nil, err
	}

	return &DephealthService{
		dh:     dh,
		logger: logger.With(slog.String("component", "dephealth")),
	}, nil
}

// Start запускает периодическую проверку зависимостей.
func (ds *DephealthService) Start(ctx context.Context) error {
	ds.logger.Info("Мониторинг зависимостей запущен")
	return ds.dh.Start(ctx)
}

// Stop останавливает мониторинг зависимостей.
func (ds *DephealthService) Stop() {
	ds.dh.Stop()
	ds.logger.Info("Мониторинг зависимостей остановлен")
}

// Health возвращает текущее состояние зависимостей.
// Ключ — "имя:host:port", значение — true если ok.
func (ds *DephealthService) Health() map[string]bool {
	return ds.dh.Health()
}
