// Пакет config — загрузка и валидация конфигурации share-bot
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Режимы получения обновлений Telegram.
const (
	UpdateModePolling = "polling"
	UpdateModeWebhook = "webhook"
)

// Бэкенды хранилища снапшота.
const (
	StoreBackendFile     = "file"
	StoreBackendPostgres = "postgres"
)

// Config содержит все параметры конфигурации share-bot.
type Config struct {
	// Порт HTTP-сервера (health, metrics, webhook, REST API)
	Port int

	// Токен Bot API (обязательный)
	BotToken string
	// Telegram ID администратора (обязательный)
	OwnerID int64
	// ID архивного канала; пустое значение отключает уведомления
	ChannelID string
	// Имя бота для публичных ссылок; пустое — запрашивается через getMe
	BotUsername string
	// Базовый URL Bot API
	BotAPIURL string
	// Таймаут HTTP-клиента Bot API, должен превышать PollTimeout
	HTTPClientTimeout time.Duration

	// Режим получения обновлений (polling, webhook)
	UpdateMode string
	// Таймаут long polling getUpdates
	PollTimeout time.Duration
	// Секрет webhook (X-Telegram-Bot-Api-Secret-Token)
	WebhookSecret string

	// Бэкенд хранилища снапшота (file, postgres)
	StoreBackend string
	// Путь к файлу снапшота (только file)
	SnapshotPath string
	// Сжатие снапшота (none, zstd)
	SnapshotCompression string

	// PostgreSQL (только postgres)
	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	DBSSLMode  string

	// URL JWKS endpoint; пустое значение отключает REST API
	JWKSUrl string
	// Scope, дающий права администратора в REST API
	AdminScope string
	// Допустимое расхождение часов при проверке JWT
	JWTLeeway time.Duration

	// Размер и TTL кэша обработанных update_id
	DedupSize int
	DedupTTL  time.Duration

	// Путь к TLS сертификату (опционально, вместе с TLSKey)
	TLSCert string
	// Путь к TLS приватному ключу
	TLSKey string

	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// Таймауты HTTP-сервера
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	// Таймаут graceful shutdown (остановка сервера и финальный flush реестра)
	ShutdownTimeout time.Duration

	// Интервал проверки зависимостей topologymetrics
	DephealthCheckInterval time.Duration
	// Имя группы в метриках topologymetrics
	DephealthGroup string
	// Имя владельца пода для метки name в topologymetrics (DEPHEALTH_NAME)
	DephealthName string
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// SB_PORT — порт HTTP-сервера (по умолчанию 8030)
	cfg.Port, err = getEnvInt("SB_PORT", 8030)
	if err != nil {
		return nil, fmt.Errorf("SB_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("SB_PORT: значение %d вне допустимого диапазона 1-65535", cfg.Port)
	}

	// SB_BOT_TOKEN — обязательный
	cfg.BotToken, err = getEnvRequired("SB_BOT_TOKEN")
	if err != nil {
		return nil, err
	}

	// SB_OWNER_ID — обязательный, Telegram ID администратора
	cfg.OwnerID, err = getEnvInt64Required("SB_OWNER_ID")
	if err != nil {
		return nil, err
	}

	cfg.ChannelID = getEnvDefault("SB_CHANNEL_ID", "")
	cfg.BotUsername = strings.TrimPrefix(getEnvDefault("SB_BOT_USERNAME", ""), "@")

	// SB_BOT_API_URL — базовый URL Bot API
	cfg.BotAPIURL = strings.TrimRight(getEnvDefault("SB_BOT_API_URL", "https://api.telegram.org"), "/")
	if u, err := url.Parse(cfg.BotAPIURL); err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("SB_BOT_API_URL: некорректный URL %q", cfg.BotAPIURL)
	}

	// SB_UPDATE_MODE — режим получения обновлений (по умолчанию polling)
	cfg.UpdateMode = getEnvDefault("SB_UPDATE_MODE", UpdateModePolling)
	if cfg.UpdateMode != UpdateModePolling && cfg.UpdateMode != UpdateModeWebhook {
		return nil, fmt.Errorf("SB_UPDATE_MODE: недопустимое значение %q, допустимые: polling, webhook", cfg.UpdateMode)
	}

	// SB_POLL_TIMEOUT — таймаут long polling (по умолчанию 30s)
	cfg.PollTimeout, err = getEnvDuration("SB_POLL_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("SB_POLL_TIMEOUT: %w", err)
	}
	if cfg.PollTimeout < 0 {
		return nil, fmt.Errorf("SB_POLL_TIMEOUT: значение не может быть отрицательным")
	}

	// SB_HTTP_CLIENT_TIMEOUT — таймаут HTTP-клиента Bot API (по умолчанию 60s)
	cfg.HTTPClientTimeout, err = getEnvDuration("SB_HTTP_CLIENT_TIMEOUT", 60*time.Second)
	if err != nil {
		return nil, fmt.Errorf("SB_HTTP_CLIENT_TIMEOUT: %w", err)
	}
	if cfg.UpdateMode == UpdateModePolling && cfg.HTTPClientTimeout <= cfg.PollTimeout {
		return nil, fmt.Errorf("SB_HTTP_CLIENT_TIMEOUT: значение %s должно превышать SB_POLL_TIMEOUT (%s)",
			cfg.HTTPClientTimeout, cfg.PollTimeout)
	}

	cfg.WebhookSecret = getEnvDefault("SB_WEBHOOK_SECRET", "")

	// SB_STORE_BACKEND — бэкенд снапшота (по умолчанию file)
	cfg.StoreBackend = getEnvDefault("SB_STORE_BACKEND", StoreBackendFile)
	switch cfg.StoreBackend {
	case StoreBackendFile:
		cfg.SnapshotPath = getEnvDefault("SB_SNAPSHOT_PATH", "./data/file_database.json")
		cfg.SnapshotCompression = getEnvDefault("SB_SNAPSHOT_COMPRESSION", "none")
		if cfg.SnapshotCompression != "none" && cfg.SnapshotCompression != "zstd" {
			return nil, fmt.Errorf("SB_SNAPSHOT_COMPRESSION: недопустимое значение %q, допустимые: none, zstd",
				cfg.SnapshotCompression)
		}
	case StoreBackendPostgres:
		if err := loadDatabase(cfg); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("SB_STORE_BACKEND: недопустимое значение %q, допустимые: file, postgres", cfg.StoreBackend)
	}

	// SB_JWKS_URL — опционально, включает REST API
	cfg.JWKSUrl = getEnvDefault("SB_JWKS_URL", "")
	cfg.AdminScope = getEnvDefault("SB_ADMIN_SCOPE", "files:admin")

	cfg.JWTLeeway, err = getEnvDuration("SB_JWT_LEEWAY", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("SB_JWT_LEEWAY: %w", err)
	}

	// SB_DEDUP_SIZE, SB_DEDUP_TTL — кэш обработанных обновлений
	cfg.DedupSize, err = getEnvInt("SB_DEDUP_SIZE", 4096)
	if err != nil {
		return nil, fmt.Errorf("SB_DEDUP_SIZE: %w", err)
	}
	if cfg.DedupSize <= 0 {
		return nil, fmt.Errorf("SB_DEDUP_SIZE: значение должно быть положительным")
	}
	cfg.DedupTTL, err = getEnvDurationPositive("SB_DEDUP_TTL", 10*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("SB_DEDUP_TTL: %w", err)
	}

	// SB_TLS_CERT, SB_TLS_KEY — задаются вместе или не задаются
	cfg.TLSCert = getEnvDefault("SB_TLS_CERT", "")
	cfg.TLSKey = getEnvDefault("SB_TLS_KEY", "")
	if (cfg.TLSCert == "") != (cfg.TLSKey == "") {
		return nil, fmt.Errorf("SB_TLS_CERT и SB_TLS_KEY должны задаваться вместе")
	}

	// SB_LOG_LEVEL — уровень логирования (по умолчанию info)
	cfg.LogLevel, err = parseLogLevel(getEnvDefault("SB_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("SB_LOG_LEVEL: %w", err)
	}

	// SB_LOG_FORMAT — формат логов (по умолчанию json)
	cfg.LogFormat = getEnvDefault("SB_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("SB_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	// Таймауты HTTP-сервера
	cfg.HTTPReadTimeout, err = getEnvDurationPositive("SB_HTTP_READ_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("SB_HTTP_READ_TIMEOUT: %w", err)
	}
	cfg.HTTPWriteTimeout, err = getEnvDurationPositive("SB_HTTP_WRITE_TIMEOUT", 60*time.Second)
	if err != nil {
		return nil, fmt.Errorf("SB_HTTP_WRITE_TIMEOUT: %w", err)
	}
	cfg.HTTPIdleTimeout, err = getEnvDurationPositive("SB_HTTP_IDLE_TIMEOUT", 120*time.Second)
	if err != nil {
		return nil, fmt.Errorf("SB_HTTP_IDLE_TIMEOUT: %w", err)
	}

	// SB_SHUTDOWN_TIMEOUT — таймаут graceful shutdown (по умолчанию 10s).
	// Включает остановку HTTP-сервера и финальный flush реестра.
	cfg.ShutdownTimeout, err = getEnvDurationPositive("SB_SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("SB_SHUTDOWN_TIMEOUT: %w", err)
	}

	// SB_DEPHEALTH_CHECK_INTERVAL — интервал проверки зависимостей (по умолчанию 15s)
	cfg.DephealthCheckInterval, err = getEnvDurationPositive("SB_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("SB_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}
	cfg.DephealthGroup = getEnvDefault("SB_DEPHEALTH_GROUP", "share-bot")
	cfg.DephealthName = getEnvDefault("DEPHEALTH_NAME", "")

	return cfg, nil
}

// loadDatabase загружает параметры PostgreSQL (только для бэкенда postgres).
func loadDatabase(cfg *Config) error {
	var err error

	// SB_DB_HOST — обязательный
	cfg.DBHost, err = getEnvRequired("SB_DB_HOST")
	if err != nil {
		return err
	}

	// SB_DB_PORT — порт PostgreSQL (по умолчанию 5432)
	cfg.DBPort, err = getEnvInt("SB_DB_PORT", 5432)
	if err != nil {
		return fmt.Errorf("SB_DB_PORT: %w", err)
	}

	// SB_DB_NAME — обязательный
	cfg.DBName, err = getEnvRequired("SB_DB_NAME")
	if err != nil {
		return err
	}

	// SB_DB_USER — обязательный
	cfg.DBUser, err = getEnvRequired("SB_DB_USER")
	if err != nil {
		return err
	}

	// SB_DB_PASSWORD — обязательный
	cfg.DBPassword, err = getEnvRequired("SB_DB_PASSWORD")
	if err != nil {
		return err
	}

	// SB_DB_SSL_MODE — режим SSL (по умолчанию disable)
	cfg.DBSSLMode = getEnvDefault("SB_DB_SSL_MODE", "disable")
	validSSLModes := map[string]bool{
		"disable": true, "require": true, "verify-ca": true, "verify-full": true,
	}
	if !validSSLModes[cfg.DBSSLMode] {
		return fmt.Errorf("SB_DB_SSL_MODE: недопустимое значение %q, допустимые: disable, require, verify-ca, verify-full", cfg.DBSSLMode)
	}

	return nil
}

// DatabaseDSN возвращает строку подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
}

// DatabaseURL возвращает URL PostgreSQL без учётных данных.
// Используется для меток topologymetrics, не для подключения.
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%d/%s", c.DBHost, c.DBPort, c.DBName)
}

// RESTEnabled возвращает true, если REST API включён (задан JWKS URL).
func (c *Config) RESTEnabled() bool {
	return c.JWKSUrl != ""
}

// TLSEnabled возвращает true, если HTTP-сервер работает по HTTPS.
func (c *Config) TLSEnabled() bool {
	return c.TLSCert != "" && c.TLSKey != ""
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvInt64Required возвращает обязательное int64 значение переменной окружения.
// Telegram ID пользователей положительные, поэтому значение <= 0 — ошибка.
func getEnvInt64Required(key string) (int64, error) {
	val := os.Getenv(key)
	if val == "" {
		return 0, fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: некорректное целое число: %q", key, val)
	}
	if n <= 0 {
		return 0, fmt.Errorf("%s: значение должно быть положительным, получено %d", key, n)
	}
	return n, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 6h)", val)
	}
	return d, nil
}

// getEnvDurationPositive — как getEnvDuration, но значение должно быть > 0.
func getEnvDurationPositive(key string, defaultVal time.Duration) (time.Duration, error) {
	d, err := getEnvDuration(key, defaultVal)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("значение должно быть > 0")
	}
	return d, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}
