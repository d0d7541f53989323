package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/health/live", "/health/live"},
		{"/metrics", "/metrics"},
		{"/telegram/webhook", "/telegram/webhook"},
		{"/api/v1/files", "/api/v1/files"},
		{"/api/v1/admin/files", "/api/v1/admin/files"},
		{"/api/v1/files/a1b2c3d4-e5f6-7890-abcd-ef1234567890", "/api/v1/files/{id}"},
		{"/api/v1/files/legacy-id/revoke", "/api/v1/files/{id}/revoke"},
		{"/api/v1/files/x/unknown", "other"},
		{"/api/v1/files/", "other"},
		{"/wp-login.php", "other"},
	}

	for _, tt := range tests {
		if got := normalizePath(tt.path); got != tt.want {
			t.Errorf("normalizePath(%q) = %q, ожидалось %q", tt.path, got, tt.want)
		}
	}
}

func TestMetricsMiddleware_PassesThrough(t *testing.T) {
	handler := MetricsMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/files", nil))

	if rec.Code != http.StatusTeapot {
		t.Errorf("ожидался статус 418, получен %d", rec.Code)
	}
}

func TestRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

	handler := RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("нет"))
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/v1/files/abc", nil))

	out := buf.String()
	for _, want := range []string{`"level":"WARN"`, `"status":404`, `"method":"DELETE"`, `"bytes":6`} {
		if !strings.Contains(out, want) {
			t.Errorf("в логе нет %s: %s", want, out)
		}
	}

	// Probe-запросы логируются на DEBUG и при уровне INFO не видны
	buf.Reset()
	probe := RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))
	probe.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health/live", nil))
	if buf.Len() != 0 {
		t.Errorf("probe-запрос не должен логироваться на INFO: %s", buf.String())
	}
}
