// Точка входа share-bot — Telegram-бот обмена файлами по публичным ссылкам.
// Загружает конфигурацию, открывает хранилище снапшота (файл или PostgreSQL),
// поднимает реестр и диспетчер команд, запускает приём обновлений
// (long polling или webhook), topologymetrics, HTTP-сервер и graceful shutdown.
package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/bigkaa/goartstore/share-bot/internal/api/handlers"
	"github.com/bigkaa/goartstore/share-bot/internal/api/middleware"
	"github.com/bigkaa/goartstore/share-bot/internal/config"
	"github.com/bigkaa/goartstore/share-bot/internal/database"
	"github.com/bigkaa/goartstore/share-bot/internal/dispatcher"
	"github.com/bigkaa/goartstore/share-bot/internal/registry"
	"github.com/bigkaa/goartstore/share-bot/internal/repository"
	"github.com/bigkaa/goartstore/share-bot/internal/server"
	"github.com/bigkaa/goartstore/share-bot/internal/service"
	"github.com/bigkaa/goartstore/share-bot/internal/storage/idgen"
	"github.com/bigkaa/goartstore/share-bot/internal/storage/lock"
	"github.com/bigkaa/goartstore/share-bot/internal/storage/snapshot"
	"github.com/bigkaa/goartstore/share-bot/internal/telegram"
)

// startupTimeout — предел на загрузку снапшота и getMe при старте.
const startupTimeout = 30 * time.Second

func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg)
	logger.Info("share-bot запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("update_mode", cfg.UpdateMode),
		slog.String("store_backend", cfg.StoreBackend),
	)

	// 3. Проверка источника энтропии до приёма запросов
	gen := idgen.New()
	if err := gen.Probe(); err != nil {
		logger.Error("Генератор идентификаторов недоступен", slog.String("error", err.Error()))
		os.Exit(1)
	}

	ctx := context.Background()

	// 4. Хранилище снапшота
	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка открытия хранилища", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer store.close(logger)

	// 5. Реестр файлов
	loadCtx, cancelLoad := context.WithTimeout(ctx, startupTimeout)
	reg, err := registry.Open(loadCtx, store.store, gen, logger)
	cancelLoad()
	if err != nil {
		logger.Error("Ошибка загрузки реестра", slog.String("error", err.Error()))
		store.close(logger)
		os.Exit(1)
	}

	// 6. Клиент Bot API
	bot := telegram.New(cfg.BotAPIURL, cfg.BotToken, cfg.HTTPClientTimeout, logger)
	if cfg.BotUsername == "" {
		meCtx, cancelMe := context.WithTimeout(ctx, startupTimeout)
		me, meErr := bot.GetMe(meCtx)
		cancelMe()
		if meErr != nil {
			logger.Error("Не удалось определить имя бота (getMe), задайте SB_BOT_USERNAME",
				slog.String("error", meErr.Error()),
			)
			store.close(logger)
			os.Exit(1)
		}
		cfg.BotUsername = me.Username
	}
	logger.Info("Бот инициализирован",
		slog.String("username", cfg.BotUsername),
		slog.Bool("channel_notifications", cfg.ChannelID != ""),
	)

	// 7. Диспетчер команд
	disp := dispatcher.New(reg, bot, dispatcher.Config{
		OwnerID:     cfg.OwnerID,
		ChannelID:   cfg.ChannelID,
		BotUsername: cfg.BotUsername,
		DedupSize:   cfg.DedupSize,
		DedupTTL:    cfg.DedupTTL,
	}, logger)

	// 8. topologymetrics — мониторинг зависимостей (Bot API + PostgreSQL)
	serviceID := cfg.DephealthName
	if serviceID == "" {
		serviceID = "share-bot"
	}
	var deps handlers.DependencyReporter
	dephealthSvc, dephealthErr := service.NewDephealthService(service.DephealthParams{
		ServiceID:     serviceID,
		Group:         cfg.DephealthGroup,
		BotAPIURL:     bot.APIURL(),
		DB:            store.sqlDB,
		PGConnURL:     cfg.DatabaseURL(),
		CheckInterval: cfg.DephealthCheckInterval,
	}, logger)
	if dephealthErr != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", dephealthErr.Error()),
		)
		dephealthSvc = nil
	} else if startErr := dephealthSvc.Start(ctx); startErr != nil {
		logger.Warn("Ошибка запуска topologymetrics",
			slog.String("error", startErr.Error()),
		)
		dephealthSvc = nil
	} else {
		deps = dephealthSvc
		logger.Info("topologymetrics запущен",
			slog.String("group", cfg.DephealthGroup),
			slog.String("check_interval", cfg.DephealthCheckInterval.String()),
		)
	}

	// 9. Приём обновлений
	h := server.Handlers{
		Health: handlers.NewHealthHandler(reg, store.checker, deps),
	}
	var poller *service.Poller
	switch cfg.UpdateMode {
	case config.UpdateModeWebhook:
		h.Webhook = handlers.NewWebhookHandler(disp, cfg.WebhookSecret, logger)
		if cfg.WebhookSecret == "" {
			logger.Warn("SB_WEBHOOK_SECRET не задан, webhook принимает запросы без проверки")
		}
		logger.Info("Приём обновлений через webhook: /telegram/webhook")
	default:
		poller = service.NewPoller(bot, disp, cfg.PollTimeout, logger)
		poller.Start(ctx)
	}

	// 10. REST API (опционально, если задан SB_JWKS_URL)
	var jwtAuth *middleware.JWTAuth
	if cfg.RESTEnabled() {
		jwtAuth, err = middleware.NewJWTAuth(middleware.JWTAuthConfig{
			JWKSURL:         cfg.JWKSUrl,
			ClientTimeout:   cfg.HTTPClientTimeout,
			RefreshInterval: time.Hour,
			JWTLeeway:       cfg.JWTLeeway,
		}, logger)
		if err != nil {
			logger.Error("Ошибка создания JWT middleware", slog.String("error", err.Error()))
			shutdown(cfg, logger, poller, reg, dephealthSvc)
			store.close(logger)
			os.Exit(1)
		}
		h.Files = handlers.NewFilesHandler(reg, cfg.AdminScope, cfg.BotUsername)
		logger.Info("REST API включён",
			slog.String("jwks_url", cfg.JWKSUrl),
			slog.String("admin_scope", cfg.AdminScope),
		)
	} else {
		logger.Info("REST API отключён (SB_JWKS_URL не задан)")
	}

	// 11. Создание и запуск HTTP-сервера
	srv := server.New(cfg, logger, h, jwtAuth)
	runErr := srv.Run()
	if runErr != nil {
		logger.Error("Ошибка сервера", slog.String("error", runErr.Error()))
	}

	// 12. Остановка: приём обновлений, финальный flush реестра, фоновые задачи
	shutdown(cfg, logger, poller, reg, dephealthSvc)
	store.close(logger)

	if runErr != nil {
		os.Exit(1)
	}
	logger.Info("share-bot остановлен")
}

// shutdown останавливает приём обновлений и закрывает реестр.
// Poller останавливается первым: обработанные обновления подтверждаются
// до финального flush.
func shutdown(cfg *config.Config, logger *slog.Logger, poller *service.Poller, reg *registry.Registry, dephealthSvc *service.DephealthService) {
	logger.Info("Останавливаем фоновые задачи...")

	if poller != nil {
		poller.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := reg.Close(ctx); err != nil {
		logger.Error("Реестр закрыт с ошибкой", slog.String("error", err.Error()))
	}

	if dephealthSvc != nil {
		dephealthSvc.Stop()
	}
}

// storeBackend — открытое хранилище снапшота и связанные ресурсы.
type storeBackend struct {
	store registry.Store
	// checker — readiness хранилища; nil для файлового бэкенда
	checker handlers.ReadinessChecker
	// sqlDB — адаптер пула для topologymetrics; nil для файлового бэкенда
	sqlDB *sql.DB

	cleanup []func() error
	closed  bool
}

// close освобождает ресурсы хранилища в обратном порядке. Повторный вызов — no-op.
func (b *storeBackend) close(logger *slog.Logger) {
	if b.closed {
		return
	}
	b.closed = true
	for i := len(b.cleanup) - 1; i >= 0; i-- {
		if err := b.cleanup[i](); err != nil {
			logger.Warn("Ошибка освобождения ресурса хранилища", slog.String("error", err.Error()))
		}
	}
}

// openStore открывает бэкенд хранилища по SB_STORE_BACKEND.
// Оба бэкенда захватывают эксклюзивную блокировку: второй экземпляр
// с тем же хранилищем не стартует.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*storeBackend, error) {
	if cfg.StoreBackend == config.StoreBackendPostgres {
		return openPostgresStore(ctx, cfg, logger)
	}
	return openFileStore(cfg, logger)
}

func openFileStore(cfg *config.Config, logger *slog.Logger) (*storeBackend, error) {
	b := &storeBackend{}

	dir := filepath.Dir(cfg.SnapshotPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, err
	}
	l, err := lock.Acquire(dir)
	if err != nil {
		if errors.Is(err, lock.ErrHeld) {
			logger.Error("Каталог снапшота занят другим экземпляром", slog.String("dir", dir))
		}
		return nil, err
	}
	b.cleanup = append(b.cleanup, l.Release)

	fs, err := snapshot.NewFileStore(cfg.SnapshotPath, snapshot.Compression(cfg.SnapshotCompression), logger)
	if err != nil {
		b.close(logger)
		return nil, err
	}
	b.cleanup = append(b.cleanup, fs.Close)
	b.store = fs

	logger.Info("Файловое хранилище открыто",
		slog.String("path", fs.Path()),
		slog.String("lock", l.Path()),
		slog.String("compression", cfg.SnapshotCompression),
	)
	return b, nil
}

func openPostgresStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*storeBackend, error) {
	b := &storeBackend{}

	// Применение миграций БД
	logger.Info("Применение миграций БД...")
	if err := database.Migrate(cfg, logger); err != nil {
		return nil, err
	}

	// Подключение к PostgreSQL (pgxpool)
	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	b.cleanup = append(b.cleanup, closePool(pool))

	repo := repository.NewSnapshotRepository(pool, logger)
	if err := repo.AcquireLock(ctx); err != nil {
		b.close(logger)
		return nil, err
	}
	b.cleanup = append(b.cleanup, func() error {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return repo.ReleaseLock(releaseCtx)
	})

	// Адаптер pgxpool → *sql.DB для topologymetrics (connection pool mode)
	b.sqlDB = stdlib.OpenDBFromPool(pool)
	b.cleanup = append(b.cleanup, b.sqlDB.Close)

	b.store = repo
	b.checker = database.NewReadinessChecker(pool)
	return b, nil
}

func closePool(pool *pgxpool.Pool) func() error {
	return func() error {
		pool.Close()
		return nil
	}
}
