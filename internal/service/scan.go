// scan.go — сервис обнаружения и регистрации неуправляемых файлов.
//
// Файлы, положенные в каталог данных в обход движка, при скане
// получают полноценные записи метаданных (версия 1, тег imported)
// и копию содержимого в управляемой раскладке. Скан идемпотентен:
// служебные каталоги, известные blob-ы и уже зарегистрированные
// логические пути пропускаются. Попутно вычищаются брошенные
// временные файлы загрузок.
package service

import (
	"context"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/arturkryukov/contextstore/internal/domain/model"
	"github.com/arturkryukov/contextstore/internal/event"
	"github.com/arturkryukov/contextstore/internal/storage/blob"
	"github.com/arturkryukov/contextstore/internal/storage/meta"
)

// tempMaxAge — возраст, после которого брошенный временный файл
// загрузки считается мусором.
const tempMaxAge = time.Hour

// Prometheus метрики скана
var (
	scanRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cs_scan_runs_total",
		Help: "Общее количество запусков скана каталога данных",
	})

	scanRegisteredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cs_scan_registered_total",
		Help: "Общее количество зарегистрированных сканом файлов",
	})

	scanDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "cs_scan_duration_seconds",
		Help:    "Длительность одного прохода скана в секундах",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
	})
)

// ScanResult — результат одного прохода скана.
type ScanResult struct {
	// RegisteredCount — количество зарегистрированных файлов
	RegisteredCount int
	// SkippedCount — количество пропущенных (служебные, известные)
	SkippedCount int
	// TempRemoved — количество вычищенных временных файлов
	TempRemoved int
	// Errors — количество ошибок обработки
	Errors int
	// Duration — длительность прохода
	Duration time.Duration
}

// ScanService — сервис скана каталога данных.
type ScanService struct {
	blobs    *blob.Store
	meta     *meta.Store
	bus      *event.Bus
	interval time.Duration
	logger   *slog.Logger

	mu     sync.Mutex // защита от параллельного запуска RunOnce
	cancel context.CancelFunc
}

// NewScanService создаёт сервис скана. interval == 0 отключает
// периодический запуск, RunOnce остаётся доступным по требованию.
func NewScanService(
	blobs *blob.Store,
	metaStore *meta.Store,
	bus *event.Bus,
	interval time.Duration,
	logger *slog.Logger,
) *ScanService {
	return &ScanService{
		blobs:    blobs,
		meta:     metaStore,
		bus:      bus,
		interval: interval,
		logger:   logger.With(slog.String("component", "scan")),
	}
}

// Start запускает периодический скан, если задан интервал.
func (sc *ScanService) Start(ctx context.Context) {
	if sc.interval <= 0 {
		sc.logger.Info("периодический скан отключён")
		return
	}

	scCtx, cancel := context.WithCancel(ctx)
	sc.cancel = cancel

	go sc.run(scCtx)

	sc.logger.Info("периодический скан запущен",
		slog.String("interval", sc.interval.String()),
	)
}

// Stop останавливает фоновый процесс скана.
func (sc *ScanService) Stop() {
	if sc.cancel != nil {
		sc.cancel()
	}
	sc.logger.Info("скан остановлен")
}

func (sc *ScanService) run(ctx context.Context) {
	ticker := time.NewTicker(sc.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sc.RunOnce(ctx)
		}
	}
}

// RunOnce выполняет один проход скана.
// Потокобезопасен: mutex защищает от параллельного запуска.
func (sc *ScanService) RunOnce(ctx context.Context) *ScanResult {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	start := time.Now()
	result := &ScanResult{}

	sc.logger.Debug("скан каталога данных начат")

	knownIDs, err := sc.meta.KnownFileIDs()
	if err != nil {
		sc.logger.Error("ошибка чтения известных file_id",
			slog.String("error", err.Error()))
		result.Errors++
		return result
	}
	knownPaths, err := sc.knownLogicalPaths()
	if err != nil {
		sc.logger.Error("ошибка чтения известных логических путей",
			slog.String("error", err.Error()))
		result.Errors++
		return result
	}

	root := sc.blobs.Root()
	walkErr := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			result.Errors++
			return nil
		}
		rel, relErr := filepath.Rel(root, p)
		if relErr != nil || rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			// Служебные каталоги управляемой раскладки не сканируются
			if blob.IsServicePath(rel + "/") {
				return filepath.SkipDir
			}
			return nil
		}
		if blob.IsServicePath(rel) {
			result.SkippedCount++
			return nil
		}
		// Управляемые current blob-ы лежат в корне под своим file_id
		if knownIDs[filepath.Base(rel)] {
			result.SkippedCount++
			return nil
		}
		logicalPath := model.NormalizePath(rel)
		if logicalPath == "" || knownPaths[strings.ToLower(logicalPath)] {
			result.SkippedCount++
			return nil
		}

		if regErr := sc.register(p, logicalPath, d); regErr != nil {
			sc.logger.Error("ошибка регистрации файла",
				slog.String("path", rel),
				slog.String("error", regErr.Error()),
			)
			result.Errors++
			return nil
		}
		knownPaths[strings.ToLower(logicalPath)] = true
		result.RegisteredCount++
		return nil
	})
	if walkErr != nil {
		sc.logger.Error("ошибка обхода каталога данных",
			slog.String("error", walkErr.Error()))
		result.Errors++
	}

	removed, tmpErrs := sc.blobs.CleanupTemp(tempMaxAge)
	result.TempRemoved = removed
	result.Errors += tmpErrs

	result.Duration = time.Since(start)

	scanRunsTotal.Inc()
	scanRegisteredTotal.Add(float64(result.RegisteredCount))
	scanDurationSeconds.Observe(result.Duration.Seconds())

	sc.logger.Info("скан завершён",
		slog.Int("registered", result.RegisteredCount),
		slog.Int("skipped", result.SkippedCount),
		slog.Int("temp_removed", result.TempRemoved),
		slog.Int("errors", result.Errors),
		slog.Duration("duration", result.Duration),
	)
	return result
}

// register создаёт записи метаданных и управляемую копию содержимого
// для одного неуправляемого файла. Оригинал остаётся на месте и при
// последующих сканах пропускается по логическому пути.
func (sc *ScanService) register(absPath, logicalPath string, d fs.DirEntry) error {
	info, err := d.Info()
	if err != nil {
		return err
	}
	hash, err := sc.blobs.ComputeChecksum(absPath)
	if err != nil {
		return err
	}

	fileID := uuid.New().String()
	now := time.Now().UTC()
	record := &model.FileRecord{
		FileID:      fileID,
		LogicalPath: logicalPath,
		ContentType: resolveContentType("", logicalPath),
		Size:        info.Size(),
		Checksum:    hash,
		Version:     1,
		Tags:        []string{"imported"},
		Metadata:    model.RawValue(`{"source":"scanned_import"}`),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	versionPath := sc.blobs.VersionPath(fileID, 1)
	if err := sc.blobs.CopyAtomic(absPath, versionPath); err != nil {
		return err
	}
	if err := sc.blobs.CopyAtomic(versionPath, sc.blobs.CurrentPath(fileID)); err != nil {
		_ = sc.blobs.Remove(versionPath)
		return err
	}
	if err := sc.meta.WriteVersion(record); err != nil {
		return err
	}
	if err := sc.meta.WriteCurrent(record); err != nil {
		return err
	}

	if sc.bus != nil {
		sc.bus.Publish(model.Event{
			Type:   model.EventFileChange,
			Source: fileSourceName,
			Key:    logicalPath,
			Data: map[string]any{
				"operation": model.EventOpFileRegistered,
				"file_id":   fileID,
				"size":      info.Size(),
				"checksum":  hash,
			},
			Timestamp:     now,
			CorrelationID: uuid.NewString(),
		})
	}

	sc.logger.Info("неуправляемый файл зарегистрирован",
		slog.String("file_id", fileID),
		slog.String("logical_path", logicalPath),
		slog.Int64("size", info.Size()),
	)
	return nil
}

// knownLogicalPaths возвращает множество занятых логических путей
// в нижнем регистре, включая помеченные на удаление записи.
func (sc *ScanService) knownLogicalPaths() (map[string]bool, error) {
	records, err := sc.meta.ListCurrent()
	if err != nil {
		return nil, err
	}
	paths := make(map[string]bool, len(records))
	for _, rec := range records {
		paths[strings.ToLower(rec.LogicalPath)] = true
	}
	return paths, nil
}
