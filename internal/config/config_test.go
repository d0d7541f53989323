package config

import (
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"
)

// allKeys — все переменные окружения, читаемые Load.
var allKeys = []string{
	"SB_PORT", "SB_BOT_TOKEN", "SB_OWNER_ID", "SB_CHANNEL_ID", "SB_BOT_USERNAME",
	"SB_BOT_API_URL", "SB_HTTP_CLIENT_TIMEOUT", "SB_UPDATE_MODE", "SB_POLL_TIMEOUT",
	"SB_WEBHOOK_SECRET", "SB_STORE_BACKEND", "SB_SNAPSHOT_PATH", "SB_SNAPSHOT_COMPRESSION",
	"SB_DB_HOST", "SB_DB_PORT", "SB_DB_NAME", "SB_DB_USER", "SB_DB_PASSWORD", "SB_DB_SSL_MODE",
	"SB_JWKS_URL", "SB_ADMIN_SCOPE", "SB_JWT_LEEWAY", "SB_DEDUP_SIZE", "SB_DEDUP_TTL",
	"SB_TLS_CERT", "SB_TLS_KEY", "SB_LOG_LEVEL", "SB_LOG_FORMAT",
	"SB_HTTP_READ_TIMEOUT", "SB_HTTP_WRITE_TIMEOUT", "SB_HTTP_IDLE_TIMEOUT",
	"SB_SHUTDOWN_TIMEOUT", "SB_DEPHEALTH_CHECK_INTERVAL", "SB_DEPHEALTH_GROUP",
	"DEPHEALTH_NAME",
}

// setEnvVars очищает все переменные SB_* и устанавливает переданные.
// Исходные значения восстанавливаются по завершении теста.
func setEnvVars(t *testing.T, vars map[string]string) {
	t.Helper()

	for _, k := range allKeys {
		// t.Setenv запоминает исходное значение и восстанавливает его
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
	for k, v := range vars {
		t.Setenv(k, v)
	}
}

// requiredEnvVars возвращает минимальный набор обязательных переменных.
func requiredEnvVars() map[string]string {
	return map[string]string{
		"SB_BOT_TOKEN": "123456:test-token",
		"SB_OWNER_ID":  "1001",
	}
}

// withVars возвращает обязательные переменные, дополненные extra.
func withVars(extra map[string]string) map[string]string {
	vars := requiredEnvVars()
	for k, v := range extra {
		vars[k] = v
	}
	return vars
}

func TestLoad_Defaults(t *testing.T) {
	setEnvVars(t, requiredEnvVars())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Port != 8030 {
		t.Errorf("Port: ожидалось 8030, получено %d", cfg.Port)
	}
	if cfg.BotToken != "123456:test-token" {
		t.Errorf("BotToken: получено %q", cfg.BotToken)
	}
	if cfg.OwnerID != 1001 {
		t.Errorf("OwnerID: ожидалось 1001, получено %d", cfg.OwnerID)
	}
	if cfg.BotAPIURL != "https://api.telegram.org" {
		t.Errorf("BotAPIURL: получено %q", cfg.BotAPIURL)
	}
	if cfg.UpdateMode != UpdateModePolling {
		t.Errorf("UpdateMode: ожидалось polling, получено %q", cfg.UpdateMode)
	}
	if cfg.PollTimeout != 30*time.Second {
		t.Errorf("PollTimeout: ожидалось 30s, получено %s", cfg.PollTimeout)
	}
	if cfg.HTTPClientTimeout != 60*time.Second {
		t.Errorf("HTTPClientTimeout: ожидалось 60s, получено %s", cfg.HTTPClientTimeout)
	}
	if cfg.StoreBackend != StoreBackendFile {
		t.Errorf("StoreBackend: ожидалось file, получено %q", cfg.StoreBackend)
	}
	if cfg.SnapshotPath != "./data/file_database.json" {
		t.Errorf("SnapshotPath: получено %q", cfg.SnapshotPath)
	}
	if cfg.SnapshotCompression != "none" {
		t.Errorf("SnapshotCompression: получено %q", cfg.SnapshotCompression)
	}
	if cfg.AdminScope != "files:admin" {
		t.Errorf("AdminScope: получено %q", cfg.AdminScope)
	}
	if cfg.RESTEnabled() {
		t.Error("REST API должен быть выключен без SB_JWKS_URL")
	}
	if cfg.TLSEnabled() {
		t.Error("TLS должен быть выключен по умолчанию")
	}
	if cfg.DedupSize != 4096 || cfg.DedupTTL != 10*time.Minute {
		t.Errorf("Dedup: получено %d / %s", cfg.DedupSize, cfg.DedupTTL)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("LogLevel: ожидалось info, получено %v", cfg.LogLevel)
	}
	if cfg.LogFormat != "json" {
		t.Errorf("LogFormat: ожидалось json, получено %q", cfg.LogFormat)
	}
	if cfg.ShutdownTimeout != 10*time.Second {
		t.Errorf("ShutdownTimeout: ожидалось 10s, получено %s", cfg.ShutdownTimeout)
	}
	if cfg.DephealthGroup != "share-bot" {
		t.Errorf("DephealthGroup: получено %q", cfg.DephealthGroup)
	}
}

func TestLoad_CustomValues(t *testing.T) {
	setEnvVars(t, withVars(map[string]string{
		"SB_PORT":                 "9090",
		"SB_CHANNEL_ID":           "-1001234567890",
		"SB_BOT_USERNAME":         "@share_files_bot",
		"SB_BOT_API_URL":          "http://bot-api.local:8081/",
		"SB_UPDATE_MODE":          "webhook",
		"SB_WEBHOOK_SECRET":       "s3cret",
		"SB_SNAPSHOT_PATH":        "/var/lib/share-bot/db.json",
		"SB_SNAPSHOT_COMPRESSION": "zstd",
		"SB_JWKS_URL":             "https://auth.local/jwks",
		"SB_ADMIN_SCOPE":          "share:admin",
		"SB_TLS_CERT":             "/tls/cert.pem",
		"SB_TLS_KEY":              "/tls/key.pem",
		"SB_LOG_LEVEL":            "debug",
		"SB_LOG_FORMAT":           "text",
	}))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Port != 9090 {
		t.Errorf("Port: ожидалось 9090, получено %d", cfg.Port)
	}
	if cfg.ChannelID != "-1001234567890" {
		t.Errorf("ChannelID: получено %q", cfg.ChannelID)
	}
	if cfg.BotUsername != "share_files_bot" {
		t.Errorf("BotUsername: ожидалось без @, получено %q", cfg.BotUsername)
	}
	if cfg.BotAPIURL != "http://bot-api.local:8081" {
		t.Errorf("BotAPIURL: ожидалось без завершающего /, получено %q", cfg.BotAPIURL)
	}
	if cfg.UpdateMode != UpdateModeWebhook || cfg.WebhookSecret != "s3cret" {
		t.Errorf("webhook: получено %q / %q", cfg.UpdateMode, cfg.WebhookSecret)
	}
	if cfg.SnapshotCompression != "zstd" {
		t.Errorf("SnapshotCompression: получено %q", cfg.SnapshotCompression)
	}
	if !cfg.RESTEnabled() || cfg.AdminScope != "share:admin" {
		t.Errorf("REST: получено %q / %q", cfg.JWKSUrl, cfg.AdminScope)
	}
	if !cfg.TLSEnabled() {
		t.Error("TLS должен быть включён")
	}
	if cfg.LogLevel != slog.LevelDebug || cfg.LogFormat != "text" {
		t.Errorf("логирование: получено %v / %q", cfg.LogLevel, cfg.LogFormat)
	}
}

func TestLoad_Postgres(t *testing.T) {
	setEnvVars(t, withVars(map[string]string{
		"SB_STORE_BACKEND": "postgres",
		"SB_DB_HOST":       "db.local",
		"SB_DB_NAME":       "sharebot",
		"SB_DB_USER":       "sharebot",
		"SB_DB_PASSWORD":   "secret",
	}))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.DBPort != 5432 || cfg.DBSSLMode != "disable" {
		t.Errorf("значения по умолчанию БД: получено %d / %q", cfg.DBPort, cfg.DBSSLMode)
	}

	want := "host=db.local port=5432 dbname=sharebot user=sharebot password=secret sslmode=disable"
	if dsn := cfg.DatabaseDSN(); dsn != want {
		t.Errorf("DatabaseDSN: ожидалось %q, получено %q", want, dsn)
	}
	if u := cfg.DatabaseURL(); u != "postgres://db.local:5432/sharebot" {
		t.Errorf("DatabaseURL: получено %q", u)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		vars    map[string]string
		wantKey string
	}{
		{
			name:    "нет токена",
			vars:    map[string]string{"SB_OWNER_ID": "1"},
			wantKey: "SB_BOT_TOKEN",
		},
		{
			name:    "нет владельца",
			vars:    map[string]string{"SB_BOT_TOKEN": "t"},
			wantKey: "SB_OWNER_ID",
		},
		{
			name:    "владелец не число",
			vars:    withVars(map[string]string{"SB_OWNER_ID": "admin"}),
			wantKey: "SB_OWNER_ID",
		},
		{
			name:    "отрицательный владелец",
			vars:    withVars(map[string]string{"SB_OWNER_ID": "-5"}),
			wantKey: "SB_OWNER_ID",
		},
		{
			name:    "порт вне диапазона",
			vars:    withVars(map[string]string{"SB_PORT": "70000"}),
			wantKey: "SB_PORT",
		},
		{
			name:    "неизвестный режим обновлений",
			vars:    withVars(map[string]string{"SB_UPDATE_MODE": "push"}),
			wantKey: "SB_UPDATE_MODE",
		},
		{
			name:    "таймаут клиента меньше poll",
			vars:    withVars(map[string]string{"SB_POLL_TIMEOUT": "50s", "SB_HTTP_CLIENT_TIMEOUT": "40s"}),
			wantKey: "SB_HTTP_CLIENT_TIMEOUT",
		},
		{
			name:    "некорректный URL Bot API",
			vars:    withVars(map[string]string{"SB_BOT_API_URL": "api.telegram.org"}),
			wantKey: "SB_BOT_API_URL",
		},
		{
			name:    "неизвестный бэкенд",
			vars:    withVars(map[string]string{"SB_STORE_BACKEND": "redis"}),
			wantKey: "SB_STORE_BACKEND",
		},
		{
			name:    "неизвестное сжатие",
			vars:    withVars(map[string]string{"SB_SNAPSHOT_COMPRESSION": "gzip"}),
			wantKey: "SB_SNAPSHOT_COMPRESSION",
		},
		{
			name:    "postgres без хоста",
			vars:    withVars(map[string]string{"SB_STORE_BACKEND": "postgres"}),
			wantKey: "SB_DB_HOST",
		},
		{
			name: "postgres с неверным sslmode",
			vars: withVars(map[string]string{
				"SB_STORE_BACKEND": "postgres", "SB_DB_HOST": "h", "SB_DB_NAME": "n",
				"SB_DB_USER": "u", "SB_DB_PASSWORD": "p", "SB_DB_SSL_MODE": "prefer",
			}),
			wantKey: "SB_DB_SSL_MODE",
		},
		{
			name:    "TLS только сертификат",
			vars:    withVars(map[string]string{"SB_TLS_CERT": "/tls/cert.pem"}),
			wantKey: "SB_TLS_CERT",
		},
		{
			name:    "нулевой размер dedup",
			vars:    withVars(map[string]string{"SB_DEDUP_SIZE": "0"}),
			wantKey: "SB_DEDUP_SIZE",
		},
		{
			name:    "некорректная длительность",
			vars:    withVars(map[string]string{"SB_SHUTDOWN_TIMEOUT": "10"}),
			wantKey: "SB_SHUTDOWN_TIMEOUT",
		},
		{
			name:    "неизвестный уровень логов",
			vars:    withVars(map[string]string{"SB_LOG_LEVEL": "trace"}),
			wantKey: "SB_LOG_LEVEL",
		},
		{
			name:    "неизвестный формат логов",
			vars:    withVars(map[string]string{"SB_LOG_FORMAT": "xml"}),
			wantKey: "SB_LOG_FORMAT",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setEnvVars(t, tt.vars)

			_, err := Load()
			if err == nil {
				t.Fatal("ожидалась ошибка")
			}
			if !strings.Contains(err.Error(), tt.wantKey) {
				t.Errorf("ошибка должна упоминать %s, получено: %v", tt.wantKey, err)
			}
		})
	}
}

// TestLoad_WebhookIgnoresClientTimeout — в режиме webhook long polling
// не используется, ограничение на таймаут клиента не действует.
func TestLoad_WebhookIgnoresClientTimeout(t *testing.T) {
	setEnvVars(t, withVars(map[string]string{
		"SB_UPDATE_MODE":         "webhook",
		"SB_HTTP_CLIENT_TIMEOUT": "10s",
	}))

	if _, err := Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input   string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"INFO", slog.LevelInfo, false},
		{"warn", slog.LevelWarn, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"fatal", slog.LevelInfo, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := parseLogLevel(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ошибка: ожидалось %v, получено %v", tt.wantErr, err)
			}
			if got != tt.want {
				t.Errorf("ожидалось %v, получено %v", tt.want, got)
			}
		})
	}
}
