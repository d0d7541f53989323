// Пакет errors — конструкторы стандартных ошибок HTTP API.
// Единый формат: {"error": {"code": "...", "message": "..."}}.
// Все HTTP-ответы с ошибками должны использовать WriteError.
package errors //nolint:revive // конфликт имени со stdlib, импортируется как apierrors

import (
	"encoding/json"
	stderrors "errors"
	"net/http"

	"github.com/bigkaa/goartstore/share-bot/internal/registry"
)

// Коды ошибок API.
const (
	CodeValidationError   = "VALIDATION_ERROR"
	CodeNotFound          = "NOT_FOUND"
	CodeUnauthorized      = "UNAUTHORIZED"
	CodeForbidden         = "FORBIDDEN"
	CodeDurabilityFailure = "DURABILITY_FAILURE"
	CodeShuttingDown      = "SHUTTING_DOWN"
	CodeInternalError     = "INTERNAL_ERROR"
)

// errorBody — структура тела ответа ошибки.
type errorBody struct {
	Error errorDetail `json:"error"`
}

// errorDetail — детали ошибки.
type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteError записывает ответ ошибки в стандартном формате.
// statusCode — HTTP статус-код, code — машиночитаемый код, message — описание.
func WriteError(w http.ResponseWriter, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(errorBody{
		Error: errorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// --- Конструкторы для типичных ошибок ---

// ValidationError — 400 некорректные входные данные.
func ValidationError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeValidationError, message)
}

// NotFound — 404 ресурс не найден.
func NotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, CodeNotFound, message)
}

// Unauthorized — 401 требуется аутентификация.
func Unauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, CodeUnauthorized, message)
}

// Forbidden — 403 недостаточно прав.
func Forbidden(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, CodeForbidden, message)
}

// DurabilityFailure — 503 изменение не сохранено, запрос можно повторить.
func DurabilityFailure(w http.ResponseWriter, message string) {
	w.Header().Set("Retry-After", "1")
	WriteError(w, http.StatusServiceUnavailable, CodeDurabilityFailure, message)
}

// ShuttingDown — 503 сервис завершает работу.
func ShuttingDown(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusServiceUnavailable, CodeShuttingDown, message)
}

// InternalError — 500 внутренняя ошибка.
func InternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, CodeInternalError, message)
}

// FromRegistry записывает ответ, соответствующий ошибке реестра.
func FromRegistry(w http.ResponseWriter, err error) {
	switch {
	case stderrors.Is(err, registry.ErrNotFound):
		NotFound(w, "Файл не найден")
	case stderrors.Is(err, registry.ErrPermissionDenied):
		Forbidden(w, "Недостаточно прав для операции над файлом")
	case stderrors.Is(err, registry.ErrInvalidArgument):
		ValidationError(w, err.Error())
	case stderrors.Is(err, registry.ErrDurability):
		DurabilityFailure(w, "Изменение не сохранено, повторите запрос")
	case stderrors.Is(err, registry.ErrClosed):
		ShuttingDown(w, "Сервис завершает работу")
	default:
		InternalError(w, "Внутренняя ошибка")
	}
}
