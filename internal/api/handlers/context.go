// context.go — обработчики endpoints TTL-хранилища контекста.
package handlers

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/arturkryukov/contextstore/internal/api/errors"
	"github.com/arturkryukov/contextstore/internal/ctxstore"
	"github.com/arturkryukov/contextstore/internal/domain/model"
)

// ContextHandler реализует endpoints хранилища контекста.
type ContextHandler struct {
	store  *ctxstore.Store
	logger *slog.Logger
}

// NewContextHandler создаёт обработчик endpoints контекста.
func NewContextHandler(store *ctxstore.Store, logger *slog.Logger) *ContextHandler {
	return &ContextHandler{
		store:  store,
		logger: logger.With(slog.String("component", "context_handler")),
	}
}

// setRequest — тело PUT /api/v1/context/{key}.
type setRequest struct {
	// Value — произвольное JSON-значение
	Value model.RawValue `json:"value"`
	// TTLSeconds — срок жизни в секундах; 0 или отсутствие — бессрочно
	TTLSeconds int64 `json:"ttl_seconds,omitempty"`
	// Metadata — аннотации записи
	Metadata map[string]string `json:"metadata,omitempty"`
	// Notify — публиковать событие об изменении (по умолчанию true)
	Notify *bool `json:"notify,omitempty"`
}

// Set обрабатывает PUT /api/v1/context/{key}.
func (h *ContextHandler) Set(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	var req setRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.ValidationError(w, fmt.Sprintf("Некорректное тело запроса: %s", err.Error()))
		return
	}

	notify := true
	if req.Notify != nil {
		notify = *req.Notify
	}

	entry, err := h.store.Set(r.Context(), key, req.Value,
		time.Duration(req.TTLSeconds)*time.Second, req.Metadata, notify)
	if err != nil {
		errors.FromError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// Get обрабатывает GET /api/v1/context/{key}.
// Query: use_cache (по умолчанию true), details (добавить срок
// истечения в ответ).
func (h *ContextHandler) Get(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	if queryBool(r, "details") {
		entry, expiresAt, err := h.store.Details(key)
		if err != nil {
			errors.FromError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"entry":      entry,
			"expires_at": expiresAt,
		})
		return
	}

	useCache := r.URL.Query().Get("use_cache") != "false"
	entry, err := h.store.Get(r.Context(), key, useCache)
	if err != nil {
		errors.FromError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// Delete обрабатывает DELETE /api/v1/context/{key}.
func (h *ContextHandler) Delete(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	if !h.store.Delete(r.Context(), key, true) {
		errors.NotFound(w, fmt.Sprintf("ключ контекста %q не найден", key))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"key": key, "deleted": true})
}

// List обрабатывает GET /api/v1/context.
// Query: prefix, entries=true — вернуть записи целиком вместо ключей,
// skip/limit — пагинация записей (total считается без неё).
func (h *ContextHandler) List(w http.ResponseWriter, r *http.Request) {
	prefix := r.URL.Query().Get("prefix")

	if queryBool(r, "entries") {
		entries := h.store.ListEntries(prefix, queryInt(r, "skip", 0), queryInt(r, "limit", 0))
		writeJSON(w, http.StatusOK, map[string]any{
			"entries": entries,
			"count":   len(entries),
			"total":   h.store.CountEntries(prefix),
		})
		return
	}

	keys := h.store.ListKeys(prefix)
	writeJSON(w, http.StatusOK, map[string]any{
		"keys":  keys,
		"count": len(keys),
	})
}

// bulkRequest — тело POST /api/v1/context/bulk.
type bulkRequest struct {
	Operations []bulkOperation `json:"operations"`
	// FailFast — прервать пакет на первой ошибке
	FailFast bool `json:"fail_fast,omitempty"`
}

// bulkOperation — одна операция пакета; ttl в секундах.
type bulkOperation struct {
	Operation  model.ContextOpType `json:"operation"`
	Key        string              `json:"key"`
	Value      model.RawValue      `json:"value,omitempty"`
	TTLSeconds int64               `json:"ttl_seconds,omitempty"`
	Metadata   map[string]string   `json:"metadata,omitempty"`
}

// Bulk обрабатывает POST /api/v1/context/bulk.
// Ответ 200 при полном успехе, 207 при частичных ошибках.
func (h *ContextHandler) Bulk(w http.ResponseWriter, r *http.Request) {
	var req bulkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.ValidationError(w, fmt.Sprintf("Некорректное тело запроса: %s", err.Error()))
		return
	}
	if len(req.Operations) == 0 {
		errors.ValidationError(w, "Пакет операций пуст")
		return
	}

	ops := make([]model.ContextOperation, 0, len(req.Operations))
	for _, op := range req.Operations {
		ops = append(ops, model.ContextOperation{
			Operation: op.Operation,
			Key:       op.Key,
			Value:     op.Value,
			TTL:       time.Duration(op.TTLSeconds) * time.Second,
			Metadata:  op.Metadata,
		})
	}

	result := h.store.Bulk(r.Context(), ops, req.FailFast)

	status := http.StatusOK
	if result.Failed > 0 {
		status = http.StatusMultiStatus
	}
	writeJSON(w, status, result)
}
