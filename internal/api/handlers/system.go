// system.go — сводная статистика сервиса.
package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/arturkryukov/contextstore/internal/api/errors"
	"github.com/arturkryukov/contextstore/internal/ctxstore"
	"github.com/arturkryukov/contextstore/internal/service"
)

// SystemHandler реализует GET /api/v1/stats.
type SystemHandler struct {
	files   *service.FileService
	context *ctxstore.Store
	started time.Time
	logger  *slog.Logger
}

// NewSystemHandler создаёт обработчик системных endpoints.
func NewSystemHandler(files *service.FileService, context *ctxstore.Store, logger *slog.Logger) *SystemHandler {
	return &SystemHandler{
		files:   files,
		context: context,
		started: time.Now().UTC(),
		logger:  logger.With(slog.String("component", "system_handler")),
	}
}

// Stats обрабатывает GET /api/v1/stats — сводка по обоим хранилищам.
func (h *SystemHandler) Stats(w http.ResponseWriter, r *http.Request) {
	fileStats, err := h.files.Stats(r.Context())
	if err != nil {
		errors.InternalError(w, "Ошибка сбора статистики файлового хранилища: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"files": fileStats,
		"context": map[string]any{
			"entries": h.context.Count(),
		},
		"uptime_seconds": int64(time.Since(h.started).Seconds()),
	})
}
