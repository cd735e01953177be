// Пакет service — бизнес-логика contextstore.
// files.go — версионируемый файловый движок: загрузка с дедупликацией
// по содержимому, выдача, листинг, пометка и физическое удаление.
//
// Каждая успешная загрузка создаёт неизменяемую версию; текущий blob
// и current-запись метаданных атомарно обновляются на последнюю
// версию. Мутации одного логического пути сериализуются per-path
// блокировкой, Writes покрываются WAL-транзакцией.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/arturkryukov/contextstore/internal/domain/model"
	"github.com/arturkryukov/contextstore/internal/event"
	"github.com/arturkryukov/contextstore/internal/storage/blob"
	"github.com/arturkryukov/contextstore/internal/storage/checksum"
	"github.com/arturkryukov/contextstore/internal/storage/meta"
	"github.com/arturkryukov/contextstore/internal/storage/wal"
)

const fileSourceName = "file_engine"

// Prometheus метрики файлового движка
var (
	fileOpsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cs_file_operations_total",
		Help: "Количество операций файлового движка по типу и результату",
	}, []string{"operation", "result"})

	fileUploadBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cs_file_upload_bytes_total",
		Help: "Суммарный объём загруженных данных в байтах",
	})

	fileDedupTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cs_file_dedup_hits_total",
		Help: "Количество загрузок, схлопнутых дедупликацией по содержимому",
	})
)

// UploadParams — параметры загрузки файла.
type UploadParams struct {
	// Reader — поток содержимого файла
	Reader io.Reader
	// LogicalPath — логический путь файла (нормализуется движком)
	LogicalPath string
	// ContentType — MIME-тип; пустой определяется по расширению
	ContentType string
	// Tags — теги файла (опционально)
	Tags []string
	// Metadata — произвольные метаданные вызывающего (JSON)
	Metadata model.RawValue
	// Overwrite — разрешить создание новой версии существующего пути
	Overwrite bool
	// CreatedBy — идентификатор вызывающего (из заголовка запроса)
	CreatedBy string
}

// UploadResult — результат загрузки.
type UploadResult struct {
	// Record — запись файла (существующая при дедупликации)
	Record *model.FileRecord
	// Deduplicated — содержимое уже хранилось, новая версия не создана
	Deduplicated bool
}

// ListFilter — фильтр листинга файлов. Все условия объединяются по И.
type ListFilter struct {
	// PathPrefix — префикс логического пути (без учёта регистра)
	PathPrefix string
	// Extension — расширение без точки (без учёта регистра)
	Extension string
	// Tags — запись должна содержать все перечисленные теги
	Tags []string
	// IncludeDeleted — включать помеченные на удаление записи
	IncludeDeleted bool
	// Skip / Limit — пагинация; Limit <= 0 — без ограничения
	Skip  int
	Limit int
}

// MetadataUpdate — частичное обновление изменяемых полей записи.
// nil-поле означает "не трогать".
type MetadataUpdate struct {
	Tags      *[]string
	Metadata  *model.RawValue
	UpdatedBy string
}

// EngineStats — сводка состояния файлового хранилища.
type EngineStats struct {
	ActiveFiles   int            `json:"active_files"`
	DeletedFiles  int            `json:"deleted_files"`
	TotalVersions int            `json:"total_versions"`
	TotalSize     int64          `json:"total_size"`
	ByExtension   map[string]int `json:"by_extension"`
}

// FileService — файловый движок.
type FileService struct {
	blobs   *blob.Store
	meta    *meta.Store
	walEng  *wal.WAL
	index   *checksum.Index
	bus     *event.Bus
	maxSize int64
	allowed map[string]bool // расширения в нижнем регистре; пустая map — любые
	logger  *slog.Logger

	// pathMu сериализует мутации одного логического пути.
	// Берётся после стриминга во временный файл: приём байтов
	// конкурентен, критична только фаза коммита.
	mu     sync.Mutex
	pathMu map[string]*sync.Mutex
}

// NewFileService создаёт файловый движок.
func NewFileService(
	blobs *blob.Store,
	metaStore *meta.Store,
	walEng *wal.WAL,
	index *checksum.Index,
	bus *event.Bus,
	maxSize int64,
	allowedExtensions []string,
	logger *slog.Logger,
) *FileService {
	allowed := make(map[string]bool, len(allowedExtensions))
	for _, ext := range allowedExtensions {
		allowed[strings.ToLower(strings.TrimPrefix(ext, "."))] = true
	}
	return &FileService{
		blobs:   blobs,
		meta:    metaStore,
		walEng:  walEng,
		index:   index,
		bus:     bus,
		maxSize: maxSize,
		allowed: allowed,
		logger:  logger.With(slog.String("component", "file_engine")),
		pathMu:  make(map[string]*sync.Mutex),
	}
}

// Upload сохраняет содержимое как новую версию логического пути.
//
// Поток:
//  1. Нормализация пути, проверка расширения
//  2. Стриминг во временный файл (SHA-256 на лету, контроль размера)
//  3. Per-path блокировка
//  4. Дедупликация: совпадение checksum возвращает существующую запись
//  5. WAL Begin → размещение версии → атомарное обновление current →
//     записи метаданных → WAL Commit
//  6. Событие file_created / file_version_created
func (s *FileService) Upload(ctx context.Context, params UploadParams) (*UploadResult, error) {
	logicalPath := model.NormalizePath(params.LogicalPath)
	if logicalPath == "" {
		fileOpsTotal.WithLabelValues("upload", "error").Inc()
		return nil, fmt.Errorf("некорректный логический путь %q: %w", params.LogicalPath, model.ErrValidation)
	}
	if err := s.checkExtension(logicalPath); err != nil {
		fileOpsTotal.WithLabelValues("upload", "error").Inc()
		return nil, err
	}
	if params.Metadata != nil && !isValidJSON(params.Metadata) {
		fileOpsTotal.WithLabelValues("upload", "error").Inc()
		return nil, fmt.Errorf("метаданные файла %q не являются корректным JSON: %w", logicalPath, model.ErrValidation)
	}

	// Стриминг до блокировки: долгий приём байтов не должен
	// сериализовать чужие загрузки.
	tmp, err := s.blobs.SaveTemp(params.Reader, s.maxSize)
	if err != nil {
		fileOpsTotal.WithLabelValues("upload", "error").Inc()
		return nil, err
	}

	unlock := s.lockPath(logicalPath)
	defer unlock()

	// Дедупликация: идентичное содержимое уже хранится — возвращаем
	// существующую запись, временный файл отбрасываем. Overwrite на
	// дедупликацию не влияет.
	if existing, err := s.index.FindByChecksum(tmp.Checksum); err == nil && existing != nil {
		s.blobs.RemoveTemp(tmp.Path)
		current, rerr := s.meta.ReadCurrent(existing.FileID)
		if rerr != nil {
			current = existing
		}
		fileDedupTotal.Inc()
		fileOpsTotal.WithLabelValues("upload", "dedup").Inc()
		s.logger.Info("загрузка схлопнута дедупликацией",
			slog.String("logical_path", logicalPath),
			slog.String("checksum", tmp.Checksum),
			slog.String("existing_file_id", current.FileID),
		)
		return &UploadResult{Record: current.Clone(), Deduplicated: true}, nil
	}

	current, err := s.resolveByPath(logicalPath, true)
	if err != nil && !isNotFound(err) {
		s.blobs.RemoveTemp(tmp.Path)
		fileOpsTotal.WithLabelValues("upload", "error").Inc()
		return nil, err
	}

	var fileID string
	var version int
	var createdAt time.Time
	operation := model.EventOpFileCreated

	switch {
	case current == nil:
		fileID = uuid.New().String()
		version = 1
		createdAt = time.Now().UTC()
	case current.IsDeleted:
		s.blobs.RemoveTemp(tmp.Path)
		fileOpsTotal.WithLabelValues("upload", "conflict").Inc()
		return nil, fmt.Errorf("путь %q помечен на удаление: %w", logicalPath, model.ErrConflict)
	case !params.Overwrite:
		s.blobs.RemoveTemp(tmp.Path)
		fileOpsTotal.WithLabelValues("upload", "conflict").Inc()
		return nil, fmt.Errorf("путь %q уже существует: %w", logicalPath, model.ErrConflict)
	default:
		fileID = current.FileID
		version = current.Version + 1
		createdAt = current.CreatedAt
		operation = model.EventOpFileVersionCreated
	}

	walOp := wal.OpFileCreate
	if version > 1 {
		walOp = wal.OpFileVersion
	}
	tx, err := s.walEng.Begin(walOp, fileID, logicalPath, version)
	if err != nil {
		s.blobs.RemoveTemp(tmp.Path)
		fileOpsTotal.WithLabelValues("upload", "error").Inc()
		return nil, fmt.Errorf("ошибка открытия WAL-транзакции: %w", err)
	}

	versionPath := s.blobs.VersionPath(fileID, version)
	rollback := func() {
		s.blobs.RemoveTemp(tmp.Path)
		_ = s.blobs.Remove(versionPath)
		if rbErr := s.walEng.Rollback(tx.TransactionID); rbErr != nil {
			s.logger.Error("ошибка отката WAL",
				slog.String("tx_id", tx.TransactionID),
				slog.String("error", rbErr.Error()),
			)
		}
	}

	// Размещение версии: временный файл становится неизменяемым
	// blob-ом версии, затем копируется в current.
	if err := s.blobs.Promote(tmp.Path, versionPath); err != nil {
		rollback()
		fileOpsTotal.WithLabelValues("upload", "error").Inc()
		return nil, fmt.Errorf("ошибка размещения версии: %w", err)
	}
	if err := s.blobs.CopyAtomic(versionPath, s.blobs.CurrentPath(fileID)); err != nil {
		rollback()
		fileOpsTotal.WithLabelValues("upload", "error").Inc()
		return nil, fmt.Errorf("ошибка обновления текущего содержимого: %w", err)
	}

	now := time.Now().UTC()
	record := &model.FileRecord{
		FileID:      fileID,
		LogicalPath: logicalPath,
		ContentType: resolveContentType(params.ContentType, logicalPath),
		Size:        tmp.Size,
		Checksum:    tmp.Checksum,
		Version:     version,
		Tags:        params.Tags,
		Metadata:    params.Metadata,
		CreatedAt:   createdAt,
		UpdatedAt:   now,
		CreatedBy:   params.CreatedBy,
		UpdatedBy:   params.CreatedBy,
	}
	if current != nil {
		record.CreatedBy = current.CreatedBy
	}

	if err := s.meta.WriteVersion(record); err != nil {
		rollback()
		fileOpsTotal.WithLabelValues("upload", "error").Inc()
		return nil, fmt.Errorf("ошибка записи метаданных версии: %w", err)
	}
	if err := s.meta.WriteCurrent(record); err != nil {
		rollback()
		fileOpsTotal.WithLabelValues("upload", "error").Inc()
		return nil, fmt.Errorf("ошибка записи текущих метаданных: %w", err)
	}

	if err := s.walEng.Commit(tx.TransactionID); err != nil {
		// Данные уже согласованы, коммит WAL — best effort
		s.logger.Error("ошибка коммита WAL, данные сохранены",
			slog.String("tx_id", tx.TransactionID),
			slog.String("file_id", fileID),
			slog.String("error", err.Error()),
		)
	}

	s.index.Add(record)
	s.publish(logicalPath, map[string]any{
		"operation": operation,
		"file_id":   fileID,
		"version":   version,
		"size":      tmp.Size,
		"checksum":  tmp.Checksum,
	})

	fileOpsTotal.WithLabelValues("upload", "success").Inc()
	fileUploadBytes.Add(float64(tmp.Size))

	s.logger.Info("файл загружен",
		slog.String("file_id", fileID),
		slog.String("logical_path", logicalPath),
		slog.Int("version", version),
		slog.Int64("size", tmp.Size),
		slog.String("checksum", tmp.Checksum),
		slog.String("created_by", params.CreatedBy),
	)
	return &UploadResult{Record: record.Clone()}, nil
}

// Download открывает содержимое файла. version <= 0 — текущая версия.
// Помеченные на удаление файлы не выдаются.
func (s *FileService) Download(ctx context.Context, logicalPath string, version int) (*model.FileRecord, io.ReadCloser, error) {
	record, err := s.GetRecord(ctx, logicalPath)
	if err != nil {
		fileOpsTotal.WithLabelValues("download", "miss").Inc()
		return nil, nil, err
	}

	blobPath := s.blobs.CurrentPath(record.FileID)
	if version > 0 && version != record.Version {
		verRecord, err := s.meta.ReadVersion(record.FileID, version)
		if err != nil {
			fileOpsTotal.WithLabelValues("download", "miss").Inc()
			return nil, nil, fmt.Errorf("версия %d файла %q: %w", version, logicalPath, err)
		}
		record = verRecord
		blobPath = s.blobs.VersionPath(record.FileID, version)
	}

	reader, err := s.blobs.Open(blobPath)
	if err != nil {
		fileOpsTotal.WithLabelValues("download", "error").Inc()
		return nil, nil, fmt.Errorf("содержимое файла %q: %w", logicalPath, err)
	}
	fileOpsTotal.WithLabelValues("download", "success").Inc()
	return record, reader, nil
}

// GetRecord возвращает текущую запись активного файла по пути.
func (s *FileService) GetRecord(ctx context.Context, logicalPath string) (*model.FileRecord, error) {
	normalized := model.NormalizePath(logicalPath)
	if normalized == "" {
		return nil, fmt.Errorf("некорректный логический путь %q: %w", logicalPath, model.ErrValidation)
	}
	record, err := s.resolveByPath(normalized, false)
	if err != nil {
		return nil, err
	}
	return record.Clone(), nil
}

// GetRecordByID возвращает текущую запись активного файла по file_id.
func (s *FileService) GetRecordByID(ctx context.Context, fileID string) (*model.FileRecord, error) {
	if fileID == "" {
		return nil, fmt.Errorf("пустой file_id: %w", model.ErrValidation)
	}
	record, err := s.meta.ReadCurrent(fileID)
	if err != nil {
		return nil, err
	}
	if record.IsDeleted {
		return nil, fmt.Errorf("файл %s: %w", fileID, model.ErrNotFound)
	}
	return record.Clone(), nil
}

// Delete удаляет файл. permanent=false — пометка на удаление (путь
// остаётся занятым), permanent=true — физическое удаление содержимого,
// всех версий и метаданных под WAL-транзакцией.
func (s *FileService) Delete(ctx context.Context, logicalPath string, permanent bool, deletedBy string) error {
	normalized := model.NormalizePath(logicalPath)
	if normalized == "" {
		return fmt.Errorf("некорректный логический путь %q: %w", logicalPath, model.ErrValidation)
	}

	unlock := s.lockPath(normalized)
	defer unlock()

	record, err := s.resolveByPath(normalized, true)
	if err != nil {
		fileOpsTotal.WithLabelValues("delete", "miss").Inc()
		return err
	}

	if !permanent {
		if record.IsDeleted {
			fileOpsTotal.WithLabelValues("delete", "miss").Inc()
			return fmt.Errorf("файл %q уже помечен на удаление: %w", normalized, model.ErrConflict)
		}
		now := time.Now().UTC()
		record.IsDeleted = true
		record.DeletedAt = &now
		record.UpdatedAt = now
		record.UpdatedBy = deletedBy
		if err := s.meta.WriteCurrent(record); err != nil {
			fileOpsTotal.WithLabelValues("delete", "error").Inc()
			return fmt.Errorf("ошибка пометки на удаление: %w", err)
		}
		s.index.Invalidate(record.Checksum)
		s.publish(normalized, map[string]any{
			"operation": model.EventOpFileMarkedDeleted,
			"file_id":   record.FileID,
		})
		fileOpsTotal.WithLabelValues("delete", "success").Inc()
		s.logger.Info("файл помечен на удаление",
			slog.String("file_id", record.FileID),
			slog.String("logical_path", normalized),
			slog.String("deleted_by", deletedBy),
		)
		return nil
	}

	tx, err := s.walEng.Begin(wal.OpFilePurge, record.FileID, normalized, record.Version)
	if err != nil {
		fileOpsTotal.WithLabelValues("purge", "error").Inc()
		return fmt.Errorf("ошибка открытия WAL-транзакции: %w", err)
	}

	// Порядок: blob-ы, затем метаданные. Осиротевшие метаданные при
	// падении между шагами доудалит повторный purge, осиротевшие
	// blob-ы без метаданных подберёт скан.
	if err := s.blobs.Remove(s.blobs.CurrentPath(record.FileID)); err != nil {
		_ = s.walEng.Rollback(tx.TransactionID)
		fileOpsTotal.WithLabelValues("purge", "error").Inc()
		return fmt.Errorf("ошибка удаления содержимого: %w", err)
	}
	if err := s.blobs.RemoveVersions(record.FileID); err != nil {
		s.logger.Error("ошибка удаления каталога версий",
			slog.String("file_id", record.FileID),
			slog.String("error", err.Error()),
		)
	}
	versions, _ := s.meta.ListVersions(record.FileID)
	if err := s.meta.DeleteAll(record.FileID); err != nil {
		s.logger.Error("ошибка удаления метаданных",
			slog.String("file_id", record.FileID),
			slog.String("error", err.Error()),
		)
	}
	for _, v := range versions {
		s.index.Invalidate(v.Checksum)
	}
	s.index.Invalidate(record.Checksum)

	if err := s.walEng.Commit(tx.TransactionID); err != nil {
		s.logger.Error("ошибка коммита WAL, данные удалены",
			slog.String("tx_id", tx.TransactionID),
			slog.String("error", err.Error()),
		)
	}

	s.publish(normalized, map[string]any{
		"operation": model.EventOpFileDeleted,
		"file_id":   record.FileID,
	})
	fileOpsTotal.WithLabelValues("purge", "success").Inc()
	s.logger.Info("файл удалён физически",
		slog.String("file_id", record.FileID),
		slog.String("logical_path", normalized),
		slog.Int("versions", len(versions)),
		slog.String("deleted_by", deletedBy),
	)
	return nil
}

// List возвращает записи по фильтру, отсортированные по UpdatedAt
// по убыванию (при равенстве — по пути).
func (s *FileService) List(ctx context.Context, filter ListFilter) ([]*model.FileRecord, error) {
	matched, err := s.filtered(filter)
	if err != nil {
		return nil, err
	}

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].UpdatedAt.Equal(matched[j].UpdatedAt) {
			return matched[i].UpdatedAt.After(matched[j].UpdatedAt)
		}
		return matched[i].LogicalPath < matched[j].LogicalPath
	})

	if filter.Skip >= len(matched) {
		return []*model.FileRecord{}, nil
	}
	matched = matched[filter.Skip:]
	if filter.Limit > 0 && filter.Limit < len(matched) {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

// Count возвращает количество записей, подходящих под фильтр,
// без учёта пагинации.
func (s *FileService) Count(ctx context.Context, filter ListFilter) (int, error) {
	matched, err := s.filtered(filter)
	if err != nil {
		return 0, err
	}
	return len(matched), nil
}

// UpdateMetadata частично обновляет изменяемые поля записи без
// создания новой версии.
func (s *FileService) UpdateMetadata(ctx context.Context, logicalPath string, update MetadataUpdate) (*model.FileRecord, error) {
	normalized := model.NormalizePath(logicalPath)
	if normalized == "" {
		return nil, fmt.Errorf("некорректный логический путь %q: %w", logicalPath, model.ErrValidation)
	}
	if update.Metadata != nil && *update.Metadata != nil && !isValidJSON(*update.Metadata) {
		return nil, fmt.Errorf("метаданные файла %q не являются корректным JSON: %w", normalized, model.ErrValidation)
	}

	unlock := s.lockPath(normalized)
	defer unlock()

	record, err := s.resolveByPath(normalized, false)
	if err != nil {
		fileOpsTotal.WithLabelValues("update_metadata", "miss").Inc()
		return nil, err
	}

	if update.Tags != nil {
		record.Tags = *update.Tags
	}
	if update.Metadata != nil {
		record.Metadata = *update.Metadata
	}
	record.UpdatedAt = time.Now().UTC()
	record.UpdatedBy = update.UpdatedBy

	if err := s.meta.WriteCurrent(record); err != nil {
		fileOpsTotal.WithLabelValues("update_metadata", "error").Inc()
		return nil, fmt.Errorf("ошибка записи метаданных: %w", err)
	}

	s.publish(normalized, map[string]any{
		"operation": model.EventOpFileMetaUpdated,
		"file_id":   record.FileID,
	})
	fileOpsTotal.WithLabelValues("update_metadata", "success").Inc()
	return record.Clone(), nil
}

// ListVersions возвращает записи всех версий файла по возрастанию
// номера версии.
func (s *FileService) ListVersions(ctx context.Context, logicalPath string) ([]*model.FileRecord, error) {
	normalized := model.NormalizePath(logicalPath)
	if normalized == "" {
		return nil, fmt.Errorf("некорректный логический путь %q: %w", logicalPath, model.ErrValidation)
	}
	record, err := s.resolveByPath(normalized, true)
	if err != nil {
		return nil, err
	}
	versions, err := s.meta.ListVersions(record.FileID)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения версий файла %q: %w", normalized, err)
	}
	return versions, nil
}

// Stats возвращает сводку состояния хранилища.
func (s *FileService) Stats(ctx context.Context) (*EngineStats, error) {
	records, err := s.meta.ListCurrent()
	if err != nil {
		return nil, err
	}
	stats := &EngineStats{ByExtension: make(map[string]int)}
	for _, rec := range records {
		if rec.IsDeleted {
			stats.DeletedFiles++
		} else {
			stats.ActiveFiles++
			if ext := rec.Ext(); ext != "" {
				stats.ByExtension[ext]++
			}
		}
		versions, verr := s.meta.ListVersions(rec.FileID)
		if verr != nil {
			continue
		}
		stats.TotalVersions += len(versions)
		for _, v := range versions {
			stats.TotalSize += v.Size
		}
	}
	return stats, nil
}

// filtered возвращает клоны current-записей, подходящих под фильтр.
func (s *FileService) filtered(filter ListFilter) ([]*model.FileRecord, error) {
	records, err := s.meta.ListCurrent()
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения метаданных: %w", err)
	}

	prefix := strings.ToLower(model.NormalizePath(filter.PathPrefix))
	ext := strings.ToLower(strings.TrimPrefix(filter.Extension, "."))

	matched := make([]*model.FileRecord, 0, len(records))
	for _, rec := range records {
		if rec.IsDeleted && !filter.IncludeDeleted {
			continue
		}
		if prefix != "" && !strings.HasPrefix(strings.ToLower(rec.LogicalPath), prefix) {
			continue
		}
		if ext != "" && rec.Ext() != ext {
			continue
		}
		if len(filter.Tags) > 0 && !rec.HasAllTags(filter.Tags) {
			continue
		}
		matched = append(matched, rec.Clone())
	}
	return matched, nil
}

// resolveByPath находит current-запись по нормализованному пути.
// includeDeleted=false отфильтровывает помеченные на удаление записи.
func (s *FileService) resolveByPath(logicalPath string, includeDeleted bool) (*model.FileRecord, error) {
	records, err := s.meta.ListCurrent()
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения метаданных: %w", err)
	}
	for _, rec := range records {
		if rec.LogicalPath != logicalPath {
			continue
		}
		if rec.IsDeleted && !includeDeleted {
			break
		}
		return rec, nil
	}
	return nil, fmt.Errorf("файл %q: %w", logicalPath, model.ErrNotFound)
}

// lockPath берёт per-path блокировку и возвращает функцию освобождения.
func (s *FileService) lockPath(logicalPath string) func() {
	s.mu.Lock()
	lock, ok := s.pathMu[logicalPath]
	if !ok {
		lock = &sync.Mutex{}
		s.pathMu[logicalPath] = lock
	}
	s.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}

func (s *FileService) checkExtension(logicalPath string) error {
	if len(s.allowed) == 0 {
		return nil
	}
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(logicalPath), "."))
	if ext == "" || !s.allowed[ext] {
		return fmt.Errorf("расширение %q не входит в список разрешённых: %w", ext, model.ErrValidation)
	}
	return nil
}

func (s *FileService) publish(logicalPath string, data map[string]any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(model.Event{
		Type:          model.EventFileChange,
		Source:        fileSourceName,
		Key:           logicalPath,
		Data:          data,
		Timestamp:     time.Now().UTC(),
		CorrelationID: uuid.NewString(),
	})
}

// resolveContentType выбирает MIME-тип: явный из запроса, иначе по
// расширению, иначе application/octet-stream.
func resolveContentType(explicit, logicalPath string) string {
	if explicit != "" {
		if idx := strings.Index(explicit, ";"); idx != -1 {
			explicit = strings.TrimSpace(explicit[:idx])
		}
		return explicit
	}
	if byExt := mime.TypeByExtension(path.Ext(logicalPath)); byExt != "" {
		return byExt
	}
	return "application/octet-stream"
}

func isValidJSON(raw model.RawValue) bool {
	return json.Valid(raw)
}

func isNotFound(err error) bool {
	return errors.Is(err, model.ErrNotFound)
}
