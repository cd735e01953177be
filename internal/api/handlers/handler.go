// handler.go — APIHandler собирает доменные обработчики и описывает
// маршрутизацию HTTP API.
package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

// APIHandler — единый обработчик API, собирающий все доменные
// handlers в один объект.
type APIHandler struct {
	files   *FilesHandler
	context *ContextHandler
	events  *EventsHandler
	system  *SystemHandler
	health  *HealthHandler
}

// NewAPIHandler создаёт единый handler для всех endpoints.
func NewAPIHandler(
	files *FilesHandler,
	context *ContextHandler,
	events *EventsHandler,
	system *SystemHandler,
	health *HealthHandler,
) *APIHandler {
	return &APIHandler{
		files:   files,
		context: context,
		events:  events,
		system:  system,
		health:  health,
	}
}

// RegisterRoutes вешает маршруты API на переданный роутер.
// Логические пути файлов передаются query-параметром path: они
// содержат слэши и не выражаются одним сегментом URL.
func (h *APIHandler) RegisterRoutes(r chi.Router) {
	r.Get("/health/live", h.health.HealthLive)
	r.Get("/health/ready", h.health.HealthReady)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/files", func(r chi.Router) {
			r.Post("/upload", h.files.Upload)
			r.Get("/", h.files.List)
			r.Get("/count", h.files.Count)
			r.Get("/download", h.files.Download)
			r.Get("/info", h.files.Info)
			r.Get("/versions", h.files.Versions)
			r.Patch("/metadata", h.files.UpdateMetadata)
			r.Delete("/", h.files.Delete)
			r.Post("/scan", h.files.Scan)
		})

		r.Route("/context", func(r chi.Router) {
			r.Get("/", h.context.List)
			r.Post("/bulk", h.context.Bulk)
			r.Put("/{key}", h.context.Set)
			r.Get("/{key}", h.context.Get)
			r.Delete("/{key}", h.context.Delete)
		})

		r.Get("/events", h.events.Subscribe)
		r.Get("/stats", h.system.Stats)
	})
}

// --- Вспомогательные функции ---

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// queryInt парсит целочисленный query-параметр с дефолтом.
func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

// queryBool парсит булев query-параметр ("true"/"1").
func queryBool(r *http.Request, name string) bool {
	raw := r.URL.Query().Get(name)
	return raw == "true" || raw == "1"
}
