// events.go — подписка на события хранилищ через Server-Sent Events.
package handlers

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/arturkryukov/contextstore/internal/api/errors"
	"github.com/arturkryukov/contextstore/internal/domain/model"
	"github.com/arturkryukov/contextstore/internal/event"
)

// EventsHandler отдаёт поток событий подписчикам.
type EventsHandler struct {
	bus    *event.Bus
	logger *slog.Logger
}

// NewEventsHandler создаёт обработчик подписки на события.
func NewEventsHandler(bus *event.Bus, logger *slog.Logger) *EventsHandler {
	return &EventsHandler{
		bus:    bus,
		logger: logger.With(slog.String("component", "events_handler")),
	}
}

// Subscribe обрабатывает GET /api/v1/events — SSE-поток событий.
// Query: prefix — фильтр по началу ключа маршрутизации, types —
// типы событий через запятую (context_change, file_change).
// Соединение живёт до разрыва клиентом; доставка best-effort,
// медленный клиент теряет события.
func (h *EventsHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		errors.InternalError(w, "Потоковая отдача не поддерживается")
		return
	}

	var types []model.EventType
	if raw := r.URL.Query().Get("types"); raw != "" {
		for _, t := range strings.Split(raw, ",") {
			switch model.EventType(strings.TrimSpace(t)) {
			case model.EventContextChange:
				types = append(types, model.EventContextChange)
			case model.EventFileChange:
				types = append(types, model.EventFileChange)
			default:
				errors.ValidationError(w, fmt.Sprintf("Неизвестный тип события %q", t))
				return
			}
		}
	}
	prefix := r.URL.Query().Get("prefix")

	ch, unsubscribe := h.bus.Subscribe(prefix, types)
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	h.logger.Info("подписчик подключён",
		slog.String("prefix", prefix),
		slog.String("remote_addr", r.RemoteAddr),
	)

	for {
		select {
		case <-r.Context().Done():
			h.logger.Info("подписчик отключён",
				slog.String("remote_addr", r.RemoteAddr))
			return
		case ev, open := <-ch:
			if !open {
				return
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, payload); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
