// client.go — HTTP-клиент Bot API.
//
// Все методы вызываются POST-запросом с JSON телом на
// {apiURL}/bot{token}/{method}. Ответ — конверт {ok, result} либо
// {ok:false, error_code, description}, который превращается в *APIError.
// Токен входит в URL, поэтому URL никогда не попадает в ошибки и логи.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bigkaa/goartstore/share-bot/internal/domain/model"
)

// maxResponseSize — предел размера ответа Bot API.
const maxResponseSize = 16 << 20

// APIError — ошибка, возвращённая Bot API.
type APIError struct {
	Method      string
	Code        int
	Description string
	// RetryAfter — рекомендованная пауза при 429 (секунды)
	RetryAfter int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("Bot API %s: %d %s", e.Method, e.Code, e.Description)
}

// apiResponse — конверт ответа Bot API.
type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	ErrorCode   int             `json:"error_code"`
	Description string          `json:"description"`
	Parameters  *struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters,omitempty"`
}

// Client — клиент Bot API.
type Client struct {
	httpClient *http.Client
	apiURL     string
	token      string //nolint:gosec // G101: поле структуры, не содержит секрет напрямую
	logger     *slog.Logger
}

// New создаёт клиент Bot API.
// apiURL — базовый URL (https://api.telegram.org или локальный Bot API server).
// timeout — таймаут HTTP-запросов, должен превышать таймаут long polling.
func New(apiURL, token string, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		apiURL:     strings.TrimRight(apiURL, "/"),
		token:      token,
		logger:     logger.With(slog.String("component", "telegram_client")),
	}
}

// APIURL возвращает базовый URL Bot API (без токена).
func (c *Client) APIURL() string {
	return c.apiURL
}

// GetMe возвращает информацию о боте.
func (c *Client) GetMe(ctx context.Context) (*User, error) {
	var me User
	if err := c.call(ctx, "getMe", struct{}{}, &me); err != nil {
		return nil, err
	}
	return &me, nil
}

// GetUpdates запрашивает обновления начиная с offset (long polling).
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, error) {
	params := struct {
		Offset         int64    `json:"offset,omitempty"`
		Timeout        int      `json:"timeout"`
		AllowedUpdates []string `json:"allowed_updates"`
	}{
		Offset:         offset,
		Timeout:        int(timeout / time.Second),
		AllowedUpdates: []string{"message"},
	}

	var updates []Update
	if err := c.call(ctx, "getUpdates", params, &updates); err != nil {
		return nil, err
	}
	return updates, nil
}

// DeleteWebhook отключает webhook: getUpdates не работает, пока он задан.
// Ожидающие обновления сохраняются.
func (c *Client) DeleteWebhook(ctx context.Context) error {
	params := struct {
		DropPendingUpdates bool `json:"drop_pending_updates"`
	}{}
	return c.call(ctx, "deleteWebhook", params, nil)
}

// SendMessage отправляет текстовое сообщение.
// chatID — числовой ID или @username канала.
func (c *Client) SendMessage(ctx context.Context, chatID, text string) error {
	params := map[string]any{
		"chat_id": chatID,
		"text":    text,
	}
	return c.call(ctx, "sendMessage", params, nil)
}

// SendMedia отправляет ранее загруженное вложение по file_id.
// Метод и имя поля определяются типом вложения.
func (c *Client) SendMedia(ctx context.Context, chatID string, kind model.Kind, fileID, caption string) error {
	if !kind.Valid() {
		return fmt.Errorf("недопустимый тип вложения %q", kind)
	}
	params := map[string]any{
		"chat_id":           chatID,
		kind.PayloadField(): fileID,
	}
	if caption != "" {
		params["caption"] = caption
	}
	return c.call(ctx, kind.SendMethod(), params, nil)
}

// call выполняет метод Bot API и декодирует result в out (если out != nil).
func (c *Client) call(ctx context.Context, method string, params, out any) error {
	body, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("сериализация параметров %s: %w", method, err)
	}

	endpoint := c.apiURL + "/bot" + c.token + "/" + method
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("создание запроса %s: %w", method, redact(err))
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req) //nolint:gosec // G704: URL из конфигурации
	if err != nil {
		return fmt.Errorf("запрос %s к Bot API: %w", method, redact(err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("чтение ответа %s: %w", method, err)
	}

	var envelope apiResponse
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("декодирование ответа %s (HTTP %d): %w", method, resp.StatusCode, err)
	}

	if !envelope.OK {
		apiErr := &APIError{
			Method:      method,
			Code:        envelope.ErrorCode,
			Description: envelope.Description,
		}
		if apiErr.Code == 0 {
			apiErr.Code = resp.StatusCode
		}
		if envelope.Parameters != nil {
			apiErr.RetryAfter = envelope.Parameters.RetryAfter
		}
		return apiErr
	}

	c.logger.Debug("Вызов Bot API выполнен",
		slog.String("method", method),
		slog.Duration("duration", time.Since(start)),
	)

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(envelope.Result, out); err != nil {
		return fmt.Errorf("декодирование result %s: %w", method, err)
	}
	return nil
}

// redact убирает URL (с токеном) из ошибок net/http.
func redact(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return urlErr.Err
	}
	return err
}

// FormatChatID преобразует числовой ID чата в параметр chat_id.
func FormatChatID(id int64) string {
	return formatID(id)
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}
