// context.go — модели TTL key/value хранилища контекста.
package model

import (
	"encoding/json"
	"time"
)

// RawValue — opaque JSON-значение. Валидируется на границе (json.Valid),
// внутри хранится и сериализуется без повторного парсинга.
type RawValue = json.RawMessage

// ContextEntry — одна запись key/value в TTL-хранилище.
type ContextEntry struct {
	// Key — уникальный идентификатор записи, выбирается вызывающим
	Key string `json:"key"`

	// Value — сериализованное значение (произвольный JSON)
	Value RawValue `json:"value"`

	// Metadata — произвольные аннотации записи
	Metadata map[string]string `json:"metadata,omitempty"`

	// CreatedAt / UpdatedAt — времена создания и последнего обновления (UTC)
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone возвращает копию записи для потокобезопасной выдачи наружу.
func (e *ContextEntry) Clone() *ContextEntry {
	copied := *e
	if e.Value != nil {
		copied.Value = append(RawValue(nil), e.Value...)
	}
	if e.Metadata != nil {
		copied.Metadata = make(map[string]string, len(e.Metadata))
		for k, v := range e.Metadata {
			copied.Metadata[k] = v
		}
	}
	return &copied
}

// ContextOpType — тип операции в bulk-запросе.
type ContextOpType string

const (
	// OpSet — установка значения
	OpSet ContextOpType = "set"
	// OpDelete — удаление ключа
	OpDelete ContextOpType = "delete"
)

// ContextOperation — одна операция bulk-запроса.
type ContextOperation struct {
	Operation ContextOpType     `json:"operation"`
	Key       string            `json:"key"`
	Value     RawValue          `json:"value,omitempty"`
	TTL       time.Duration     `json:"ttl,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// BulkError — описание одной неуспешной операции bulk-запроса.
type BulkError struct {
	Key       string        `json:"key"`
	Operation ContextOpType `json:"operation"`
	Error     string        `json:"error"`
}

// BulkResult — итог bulk-запроса: количество успешных и неуспешных
// операций плюс описание каждой ошибки.
type BulkResult struct {
	Succeeded int         `json:"succeeded"`
	Failed    int         `json:"failed"`
	Errors    []BulkError `json:"errors,omitempty"`
}
