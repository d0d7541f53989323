// webhook.go — приём обновлений Bot API через webhook (SB_UPDATE_MODE=webhook).
package handlers

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	apierrors "github.com/bigkaa/goartstore/share-bot/internal/api/errors"
	"github.com/bigkaa/goartstore/share-bot/internal/telegram"
)

// secretHeader — заголовок, в котором Telegram передаёт secret_token webhook.
const secretHeader = "X-Telegram-Bot-Api-Secret-Token" //nolint:gosec // G101: имя заголовка, не секрет

// maxUpdateSize — предел размера тела обновления.
const maxUpdateSize = 1 << 20

// UpdateHandler — обработчик обновления (диспетчер команд).
type UpdateHandler interface {
	HandleUpdate(ctx context.Context, upd telegram.Update)
}

// WebhookHandler — обработчик POST /telegram/webhook.
type WebhookHandler struct {
	handler UpdateHandler
	secret  string
	logger  *slog.Logger
}

// NewWebhookHandler создаёт обработчик webhook.
// secret — ожидаемое значение secret_token; пустая строка отключает проверку.
func NewWebhookHandler(handler UpdateHandler, secret string, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		handler: handler,
		secret:  secret,
		logger:  logger.With(slog.String("component", "webhook")),
	}
}

// ServeHTTP принимает обновление и обрабатывает его синхронно:
// Telegram не присылает следующее обновление чата, пока не получит ответ.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.secret != "" {
		got := r.Header.Get(secretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.secret)) != 1 {
			h.logger.Warn("Webhook с неверным secret token",
				slog.String("remote_addr", r.RemoteAddr),
			)
			apierrors.Unauthorized(w, "Неверный secret token")
			return
		}
	}

	var upd telegram.Update
	if err := json.NewDecoder(io.LimitReader(r.Body, maxUpdateSize)).Decode(&upd); err != nil {
		apierrors.ValidationError(w, "Некорректное тело обновления: "+err.Error())
		return
	}

	// Обработка завершается даже при обрыве соединения: мутация
	// реестра должна дойти до записи снапшота
	h.handler.HandleUpdate(context.WithoutCancel(r.Context()), upd)

	w.WriteHeader(http.StatusOK)
}
