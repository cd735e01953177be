// Пакет model — доменные модели contextstore.
// FileRecord — единая структура метаданных файла, используется
// как in-memory представление и как формат metadata-записи на диске.
package model

import (
	"path"
	"strings"
	"time"
)

// FileRecord — метаданные одной версии логического файла.
// Текущая запись (current) и записи версий имеют одинаковую форму;
// различается только место хранения на диске.
type FileRecord struct {
	// FileID — уникальный идентификатор файла (UUID v4).
	// Назначается один раз при создании и не меняется между версиями.
	FileID string `json:"file_id"`

	// LogicalPath — нормализованный путь файла (forward-slash),
	// по которому файл адресуется вызывающим кодом.
	// Уникален среди неудалённых записей.
	LogicalPath string `json:"logical_path"`

	// ContentType — MIME-тип содержимого
	ContentType string `json:"content_type"`

	// Size — размер содержимого версии в байтах
	Size int64 `json:"size"`

	// Checksum — SHA-256 хэш содержимого версии.
	// Используется для дедупликации и проверки целостности.
	Checksum string `json:"checksum"`

	// Version — номер версии, монотонно растёт с 1
	Version int `json:"version"`

	// Tags — теги файла (опционально)
	Tags []string `json:"tags,omitempty"`

	// Metadata — произвольные метаданные вызывающего кода.
	// Валидируются как JSON на границе, хранятся как opaque blob.
	Metadata RawValue `json:"metadata,omitempty"`

	// CreatedAt — время создания идентичности файла (UTC)
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt — время последнего изменения (UTC)
	UpdatedAt time.Time `json:"updated_at"`

	// IsDeleted — файл помечен на удаление (soft delete)
	IsDeleted bool `json:"is_deleted"`

	// DeletedAt — время пометки на удаление. nil для активных файлов.
	DeletedAt *time.Time `json:"deleted_at,omitempty"`

	// CreatedBy / UpdatedBy — идентификаторы вызывающего,
	// переданные внешним слоем. Ядро их не интерпретирует.
	CreatedBy string `json:"created_by,omitempty"`
	UpdatedBy string `json:"updated_by,omitempty"`
}

// Ext возвращает расширение логического пути без точки в нижнем регистре.
// Пустая строка, если расширения нет.
func (r *FileRecord) Ext() string {
	ext := path.Ext(r.LogicalPath)
	if ext == "" {
		return ""
	}
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// HasAllTags проверяет, что запись содержит все перечисленные теги.
func (r *FileRecord) HasAllTags(tags []string) bool {
	for _, want := range tags {
		found := false
		for _, have := range r.Tags {
			if have == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Clone возвращает глубокую копию записи для потокобезопасной выдачи наружу.
func (r *FileRecord) Clone() *FileRecord {
	copied := *r
	if r.Tags != nil {
		copied.Tags = append([]string(nil), r.Tags...)
	}
	if r.Metadata != nil {
		copied.Metadata = append(RawValue(nil), r.Metadata...)
	}
	if r.DeletedAt != nil {
		t := *r.DeletedAt
		copied.DeletedAt = &t
	}
	return &copied
}

// NormalizePath приводит логический путь к каноничной форме:
// forward-slash, без ведущего слэша, очищенный от "." и "..".
// Возвращает пустую строку для путей, выходящих за корень.
func NormalizePath(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	p = path.Clean("/" + p)
	p = strings.TrimPrefix(p, "/")
	if p == "." || p == ".." || strings.HasPrefix(p, "../") {
		return ""
	}
	return p
}
