// files.go — обработчики файловых endpoints.
package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/arturkryukov/contextstore/internal/api/errors"
	"github.com/arturkryukov/contextstore/internal/api/middleware"
	"github.com/arturkryukov/contextstore/internal/domain/model"
	"github.com/arturkryukov/contextstore/internal/service"
)

// FilesHandler реализует endpoints файлового движка.
type FilesHandler struct {
	files  *service.FileService
	scan   *service.ScanService
	logger *slog.Logger
}

// NewFilesHandler создаёт обработчик файловых endpoints.
func NewFilesHandler(files *service.FileService, scan *service.ScanService, logger *slog.Logger) *FilesHandler {
	return &FilesHandler{
		files:  files,
		scan:   scan,
		logger: logger.With(slog.String("component", "files_handler")),
	}
}

// Upload обрабатывает POST /api/v1/files/upload.
// Multipart form: file (обязательно), path (опционально, иначе имя
// файла), tags (опционально, JSON-массив), metadata (опционально,
// JSON), overwrite (опционально, true/false).
func (h *FilesHandler) Upload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil { // 32 MB buffer
		errors.ValidationError(w, fmt.Sprintf("Ошибка парсинга multipart: %s", err.Error()))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		errors.ValidationError(w, "Поле 'file' обязательно")
		return
	}
	defer file.Close()

	logicalPath := r.FormValue("path")
	if logicalPath == "" {
		logicalPath = header.Filename
	}

	var tags []string
	if raw := r.FormValue("tags"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &tags); err != nil {
			errors.ValidationError(w, fmt.Sprintf("Некорректный формат тегов: %s", err.Error()))
			return
		}
	}

	var metadata model.RawValue
	if raw := r.FormValue("metadata"); raw != "" {
		metadata = model.RawValue(raw)
	}

	result, err := h.files.Upload(r.Context(), service.UploadParams{
		Reader:      file,
		LogicalPath: logicalPath,
		ContentType: header.Header.Get("Content-Type"),
		Tags:        tags,
		Metadata:    metadata,
		Overwrite:   r.FormValue("overwrite") == "true",
		CreatedBy:   middleware.RequestUser(r),
	})
	if err != nil {
		errors.FromError(w, err)
		return
	}

	status := http.StatusCreated
	if result.Deduplicated {
		status = http.StatusOK
	}
	writeJSON(w, status, map[string]any{
		"file":         result.Record,
		"deduplicated": result.Deduplicated,
	})
}

// Download обрабатывает GET /api/v1/files/download?path=...&version=N.
// Вместо path можно указать file_id. version не задан — текущая версия.
func (h *FilesHandler) Download(w http.ResponseWriter, r *http.Request) {
	logicalPath, err := h.resolvePath(r)
	if err != nil {
		errors.FromError(w, err)
		return
	}

	record, reader, err := h.files.Download(r.Context(), logicalPath, queryInt(r, "version", 0))
	if err != nil {
		errors.FromError(w, err)
		return
	}
	defer reader.Close()

	w.Header().Set("Content-Type", record.ContentType)
	w.Header().Set("Content-Length", fmt.Sprintf("%d", record.Size))
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", baseName(record.LogicalPath)))
	w.Header().Set("X-File-Id", record.FileID)
	w.Header().Set("X-File-Version", fmt.Sprintf("%d", record.Version))
	w.Header().Set("X-File-Checksum", record.Checksum)

	if _, err := io.Copy(w, reader); err != nil {
		h.logger.Error("ошибка отдачи содержимого",
			slog.String("file_id", record.FileID),
			slog.String("error", err.Error()),
		)
	}
}

// Info обрабатывает GET /api/v1/files/info?path=... (или ?file_id=...)
func (h *FilesHandler) Info(w http.ResponseWriter, r *http.Request) {
	if fileID := r.URL.Query().Get("file_id"); fileID != "" {
		record, err := h.files.GetRecordByID(r.Context(), fileID)
		if err != nil {
			errors.FromError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, record)
		return
	}
	logicalPath := r.URL.Query().Get("path")
	if logicalPath == "" {
		errors.ValidationError(w, "Задайте query-параметр 'path' или 'file_id'")
		return
	}
	record, err := h.files.GetRecord(r.Context(), logicalPath)
	if err != nil {
		errors.FromError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// List обрабатывает GET /api/v1/files.
// Query: prefix, extension, tags (через запятую), include_deleted,
// skip, limit.
func (h *FilesHandler) List(w http.ResponseWriter, r *http.Request) {
	records, err := h.files.List(r.Context(), listFilterFromQuery(r))
	if err != nil {
		errors.FromError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"files": records,
		"count": len(records),
	})
}

// Count обрабатывает GET /api/v1/files/count с теми же фильтрами,
// что и List, без учёта пагинации.
func (h *FilesHandler) Count(w http.ResponseWriter, r *http.Request) {
	count, err := h.files.Count(r.Context(), listFilterFromQuery(r))
	if err != nil {
		errors.FromError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": count})
}

// Versions обрабатывает GET /api/v1/files/versions?path=...
func (h *FilesHandler) Versions(w http.ResponseWriter, r *http.Request) {
	logicalPath := r.URL.Query().Get("path")
	if logicalPath == "" {
		errors.ValidationError(w, "Query-параметр 'path' обязателен")
		return
	}
	versions, err := h.files.ListVersions(r.Context(), logicalPath)
	if err != nil {
		errors.FromError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"versions": versions,
		"count":    len(versions),
	})
}

// UpdateMetadata обрабатывает PATCH /api/v1/files/metadata?path=...
// Body: {"tags": [...], "metadata": {...}} — отсутствующее поле
// не изменяется.
func (h *FilesHandler) UpdateMetadata(w http.ResponseWriter, r *http.Request) {
	logicalPath := r.URL.Query().Get("path")
	if logicalPath == "" {
		errors.ValidationError(w, "Query-параметр 'path' обязателен")
		return
	}

	var body struct {
		Tags     *[]string       `json:"tags"`
		Metadata *model.RawValue `json:"metadata"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		errors.ValidationError(w, fmt.Sprintf("Некорректное тело запроса: %s", err.Error()))
		return
	}

	record, err := h.files.UpdateMetadata(r.Context(), logicalPath, service.MetadataUpdate{
		Tags:      body.Tags,
		Metadata:  body.Metadata,
		UpdatedBy: middleware.RequestUser(r),
	})
	if err != nil {
		errors.FromError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// Delete обрабатывает DELETE /api/v1/files?path=...&permanent=true.
// Без permanent — пометка на удаление.
func (h *FilesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	logicalPath := r.URL.Query().Get("path")
	if logicalPath == "" {
		errors.ValidationError(w, "Query-параметр 'path' обязателен")
		return
	}
	permanent := queryBool(r, "permanent")

	if err := h.files.Delete(r.Context(), logicalPath, permanent, middleware.RequestUser(r)); err != nil {
		errors.FromError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"path":      logicalPath,
		"permanent": permanent,
	})
}

// Scan обрабатывает POST /api/v1/files/scan — запуск скана
// неуправляемых файлов по требованию.
func (h *FilesHandler) Scan(w http.ResponseWriter, r *http.Request) {
	result := h.scan.RunOnce(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"registered":   result.RegisteredCount,
		"skipped":      result.SkippedCount,
		"temp_removed": result.TempRemoved,
		"errors":       result.Errors,
		"duration":     result.Duration.String(),
	})
}

// resolvePath возвращает логический путь из query-параметра path либо
// разрешает file_id в путь через запись метаданных.
func (h *FilesHandler) resolvePath(r *http.Request) (string, error) {
	if logicalPath := r.URL.Query().Get("path"); logicalPath != "" {
		return logicalPath, nil
	}
	fileID := r.URL.Query().Get("file_id")
	if fileID == "" {
		return "", fmt.Errorf("задайте query-параметр 'path' или 'file_id': %w", model.ErrValidation)
	}
	record, err := h.files.GetRecordByID(r.Context(), fileID)
	if err != nil {
		return "", err
	}
	return record.LogicalPath, nil
}

// listFilterFromQuery собирает фильтр листинга из query-параметров.
func listFilterFromQuery(r *http.Request) service.ListFilter {
	q := r.URL.Query()
	var tags []string
	if raw := q.Get("tags"); raw != "" {
		for _, tag := range strings.Split(raw, ",") {
			if tag = strings.TrimSpace(tag); tag != "" {
				tags = append(tags, tag)
			}
		}
	}
	return service.ListFilter{
		PathPrefix:     q.Get("prefix"),
		Extension:      q.Get("extension"),
		Tags:           tags,
		IncludeDeleted: queryBool(r, "include_deleted"),
		Skip:           queryInt(r, "skip", 0),
		Limit:          queryInt(r, "limit", 100),
	}
}

// baseName возвращает последний сегмент логического пути.
func baseName(logicalPath string) string {
	if idx := strings.LastIndex(logicalPath, "/"); idx != -1 {
		return logicalPath[idx+1:]
	}
	return logicalPath
}
