// files.go — REST API реестра файлов (/api/v1/files).
// Вызывающий определяется по sub из JWT, привилегия — по admin scope.
package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/goartstore/share-bot/internal/api/errors"
	"github.com/bigkaa/goartstore/share-bot/internal/api/middleware"
	"github.com/bigkaa/goartstore/share-bot/internal/domain/model"
)

// maxRequestSize — предел размера тела запроса.
const maxRequestSize = 64 << 10

// FileRegistry — операции реестра, доступные через REST API.
type FileRegistry interface {
	Insert(ctx context.Context, payloadRef string, kind model.Kind, ownerID int64) (string, error)
	Lookup(id string) (model.FileRecord, error)
	Delete(ctx context.Context, id string, requesterID int64, privileged bool) error
	Reassign(ctx context.Context, id string, requesterID int64, privileged bool) (string, error)
	ListByOwner(ownerID int64) []model.OwnerEntry
	ListAll() []model.Entry
}

// FilesHandler — обработчики /api/v1/files.
type FilesHandler struct {
	registry    FileRegistry
	adminScope  string
	botUsername string
}

// NewFilesHandler создаёт обработчик REST API реестра.
func NewFilesHandler(registry FileRegistry, adminScope, botUsername string) *FilesHandler {
	return &FilesHandler{
		registry:    registry,
		adminScope:  adminScope,
		botUsername: botUsername,
	}
}

// createFileRequest — тело POST /api/v1/files.
type createFileRequest struct {
	PayloadRef string `json:"payload_ref"`
	Kind       string `json:"kind"`
}

// fileIDResponse — ответ с выданным идентификатором.
type fileIDResponse struct {
	ID        string `json:"id"`
	PublicURL string `json:"public_url,omitempty"`
}

// fileListResponse — ответ со списком файлов.
type fileListResponse[T any] struct {
	Files []T `json:"files"`
	Total int `json:"total"`
}

// Routes монтирует обработчики. requireAdmin защищает административные маршруты.
func (h *FilesHandler) Routes(r chi.Router, requireAdmin func(http.Handler) http.Handler) {
	r.Post("/api/v1/files", h.Create)
	r.Get("/api/v1/files", h.ListOwn)
	r.Get("/api/v1/files/{id}", h.Get)
	r.Delete("/api/v1/files/{id}", h.Delete)
	r.Post("/api/v1/files/{id}/revoke", h.Revoke)
	r.With(requireAdmin).Get("/api/v1/admin/files", h.ListAll)
}

// Create — POST /api/v1/files: регистрирует вложение от имени вызывающего.
func (h *FilesHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.caller(w, r)
	if !ok {
		return
	}

	var req createFileRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestSize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		apierrors.ValidationError(w, "Некорректное тело запроса: "+err.Error())
		return
	}
	kind, err := model.ParseKind(req.Kind)
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	id, err := h.registry.Insert(mutationContext(r), req.PayloadRef, kind, userID)
	if err != nil {
		apierrors.FromRegistry(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, fileIDResponse{ID: id, PublicURL: h.publicURL(id)})
}

// Get — GET /api/v1/files/{id}. Как и /download в боте, доступен любому
// аутентифицированному пользователю, знающему идентификатор.
func (h *FilesHandler) Get(w http.ResponseWriter, r *http.Request) {
	rec, err := h.registry.Lookup(chi.URLParam(r, "id"))
	if err != nil {
		apierrors.FromRegistry(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// Delete — DELETE /api/v1/files/{id}.
func (h *FilesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.caller(w, r)
	if !ok {
		return
	}

	id := chi.URLParam(r, "id")
	if err := h.registry.Delete(mutationContext(r), id, userID, h.privileged(r)); err != nil {
		apierrors.FromRegistry(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Revoke — POST /api/v1/files/{id}/revoke: перевыпуск идентификатора.
func (h *FilesHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.caller(w, r)
	if !ok {
		return
	}

	newID, err := h.registry.Reassign(mutationContext(r), chi.URLParam(r, "id"), userID, h.privileged(r))
	if err != nil {
		apierrors.FromRegistry(w, err)
		return
	}
	writeJSON(w, http.StatusOK, fileIDResponse{ID: newID, PublicURL: h.publicURL(newID)})
}

// ListOwn — GET /api/v1/files: файлы вызывающего, новые первыми.
func (h *FilesHandler) ListOwn(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.caller(w, r)
	if !ok {
		return
	}
	files := h.registry.ListByOwner(userID)
	writeJSON(w, http.StatusOK, fileListResponse[model.OwnerEntry]{Files: files, Total: len(files)})
}

// ListAll — GET /api/v1/admin/files: все файлы (только admin scope).
func (h *FilesHandler) ListAll(w http.ResponseWriter, _ *http.Request) {
	files := h.registry.ListAll()
	writeJSON(w, http.StatusOK, fileListResponse[model.Entry]{Files: files, Total: len(files)})
}

// mutationContext отвязывает мутацию от отмены запроса: хранилище может
// зафиксировать снапшот и всё равно вернуть context.Canceled, после чего
// откат в памяти разошёлся бы с записанным состоянием.
func mutationContext(r *http.Request) context.Context {
	return context.WithoutCancel(r.Context())
}

// caller возвращает ID пользователя из JWT или отвечает 401.
func (h *FilesHandler) caller(w http.ResponseWriter, r *http.Request) (int64, bool) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		apierrors.Unauthorized(w, "Не удалось определить пользователя")
		return 0, false
	}
	return userID, true
}

func (h *FilesHandler) privileged(r *http.Request) bool {
	return middleware.HasScope(r.Context(), h.adminScope)
}

func (h *FilesHandler) publicURL(id string) string {
	if h.botUsername == "" {
		return ""
	}
	return "https://t.me/" + h.botUsername + "?start=" + id
}
