// event.go — модель событий уведомления об изменениях хранилищ.
// События не персистентны: доставка best-effort, at-most-once.
package model

import "time"

// EventType — тип события.
type EventType string

const (
	// EventContextChange — изменение в TTL-хранилище контекста
	EventContextChange EventType = "context_change"
	// EventFileChange — изменение в файловом хранилище
	EventFileChange EventType = "file_change"
)

// Операции, передаваемые в Event.Data["operation"].
const (
	EventOpSet                = "set"
	EventOpDelete             = "delete"
	EventOpBulkUpdate         = "bulk_update"
	EventOpFileCreated        = "file_created"
	EventOpFileVersionCreated = "file_version_created"
	EventOpFileMarkedDeleted  = "file_marked_deleted"
	EventOpFileDeleted        = "file_deleted_permanently"
	EventOpFileMetaUpdated    = "file_metadata_updated"
	EventOpFileRegistered     = "file_registered"
)

// Event — неизменяемое уведомление об одной мутации.
type Event struct {
	// Type — тип события
	Type EventType `json:"event_type"`

	// Source — компонент-источник ("context_store", "file_engine")
	Source string `json:"source"`

	// Key — ключ маршрутизации: ключ контекста или логический путь файла.
	// Подписчики фильтруются по префиксу этого поля.
	Key string `json:"key,omitempty"`

	// Data — payload с описанием мутации
	Data map[string]any `json:"data,omitempty"`

	// Timestamp — время публикации (UTC)
	Timestamp time.Time `json:"timestamp"`

	// CorrelationID — UUID для сквозной трассировки
	CorrelationID string `json:"correlation_id"`
}
