// Пакет checksum — индекс "хэш содержимого → запись файла" для
// дедупликации при загрузке. Источник истины — хранилище метаданных:
// индекс строится ленивым сканом и кэширует результаты в expirable
// LRU. Кэш — исключительно оптимизация: каждое попадание проверяется
// повторным чтением записи, расхождение трактуется как промах.
package checksum

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/arturkryukov/contextstore/internal/domain/model"
	"github.com/arturkryukov/contextstore/internal/storage/meta"
)

// cacheTTL — время жизни записи кэша checksum → file_id.
const cacheTTL = 10 * time.Minute

// Index — ленивый индекс checksum → file_id поверх хранилища метаданных.
type Index struct {
	meta   *meta.Store
	cache  *expirable.LRU[string, string] // checksum → file_id
	logger *slog.Logger
}

// New создаёт индекс с LRU-кэшем указанной ёмкости.
func New(metaStore *meta.Store, cacheSize int, logger *slog.Logger) *Index {
	return &Index{
		meta:   metaStore,
		cache:  expirable.NewLRU[string, string](cacheSize, nil, cacheTTL),
		logger: logger.With(slog.String("component", "checksum_index")),
	}
}

// FindByChecksum ищет запись файла с указанным хэшем содержимого.
// Возвращает (nil, nil), если совпадений нет. Сначала проверяется
// кэш с верификацией, затем полный скан хранилища метаданных.
func (idx *Index) FindByChecksum(hash string) (*model.FileRecord, error) {
	if hash == "" {
		return nil, fmt.Errorf("пустой checksum: %w", model.ErrValidation)
	}

	// Попадание в кэш верифицируется чтением актуальной записи:
	// файл мог быть удалён или перезаписан после кэширования.
	if fileID, ok := idx.cache.Get(hash); ok {
		rec, err := idx.meta.ReadCurrent(fileID)
		if err == nil && rec.Checksum == hash && !rec.IsDeleted {
			return rec, nil
		}
		idx.cache.Remove(hash)
	}

	// Полный скан: текущие записи и записи версий — дедупликация
	// работает против содержимого любой сохранённой версии. Записи
	// версий не несут флага удаления, поэтому совпадение по версии
	// дополнительно проверяется по текущей записи идентичности.
	records, err := idx.meta.ListAll()
	if err != nil {
		return nil, fmt.Errorf("ошибка скана метаданных: %w", err)
	}
	for _, rec := range records {
		if rec.IsDeleted || rec.Checksum != hash {
			continue
		}
		current, err := idx.meta.ReadCurrent(rec.FileID)
		if err != nil || current.IsDeleted {
			continue
		}
		idx.cache.Add(hash, rec.FileID)
		return rec, nil
	}
	return nil, nil
}

// Add регистрирует свежезаписанную версию в кэше.
// Вызывается файловым движком после успешного коммита загрузки.
func (idx *Index) Add(rec *model.FileRecord) {
	idx.cache.Add(rec.Checksum, rec.FileID)
}

// Invalidate убирает хэш из кэша (при физическом удалении файла).
func (idx *Index) Invalidate(hash string) {
	idx.cache.Remove(hash)
}
