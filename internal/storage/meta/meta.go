// Пакет meta — долговременное хранилище метаданных файлов.
// Одна физическая запись на (file_id, version) плюс "текущая"
// запись на file_id:
//
//	metadata/<file_id>.json        — текущая запись
//	metadata/<file_id>_v<N>.json   — запись версии N
//
// Единственный источник истины для идентичности и жизненного цикла
// файлов. Все записи выполняются атомарно: temp → fsync → rename,
// поэтому читатель никогда не видит частично записанную запись.
package meta

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/arturkryukov/contextstore/internal/domain/model"
)

// dirName — поддиректория метаданных внутри корня хранилища.
const dirName = "metadata"

// versionFileRe — имя файла записи версии: <file_id>_v<N>.json.
var versionFileRe = regexp.MustCompile(`^(.+)_v(\d+)\.json$`)

// Store — хранилище метаданных на диске.
type Store struct {
	dir    string
	logger *slog.Logger
}

// New создаёт Store, при необходимости создавая директорию метаданных.
func New(root string, logger *slog.Logger) (*Store, error) {
	dir := filepath.Join(root, dirName)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию метаданных %s: %w", dir, err)
	}
	return &Store{
		dir:    dir,
		logger: logger.With(slog.String("component", "meta")),
	}, nil
}

// currentPath возвращает путь текущей записи файла.
func (s *Store) currentPath(fileID string) string {
	return filepath.Join(s.dir, fileID+".json")
}

// versionPath возвращает путь записи версии.
func (s *Store) versionPath(fileID string, version int) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s_v%d.json", fileID, version))
}

// WriteCurrent атомарно записывает текущую запись файла.
func (s *Store) WriteCurrent(rec *model.FileRecord) error {
	return writeAtomic(s.currentPath(rec.FileID), rec)
}

// WriteVersion атомарно записывает запись версии файла.
func (s *Store) WriteVersion(rec *model.FileRecord) error {
	return writeAtomic(s.versionPath(rec.FileID, rec.Version), rec)
}

// ReadCurrent читает текущую запись файла.
// Возвращает model.ErrNotFound, если идентичность неизвестна.
func (s *Store) ReadCurrent(fileID string) (*model.FileRecord, error) {
	return readRecord(s.currentPath(fileID))
}

// ReadVersion читает запись конкретной версии файла.
func (s *Store) ReadVersion(fileID string, version int) (*model.FileRecord, error) {
	return readRecord(s.versionPath(fileID, version))
}

// ListCurrent возвращает все текущие записи, включая удалённые
// (фильтрация — забота вызывающего). Повреждённые записи
// пропускаются с warning-логом, скан не прерывается.
func (s *Store) ListCurrent() ([]*model.FileRecord, error) {
	return s.scan(false)
}

// ListAll возвращает все записи метаданных на диске: текущие и
// записи версий, включая удалённые. Примитив перечисления для
// подсчёта, поиска по checksum и статистики.
func (s *Store) ListAll() ([]*model.FileRecord, error) {
	return s.scan(true)
}

// ListVersions возвращает записи всех версий файла,
// отсортированные по номеру версии по возрастанию.
func (s *Store) ListVersions(fileID string) ([]*model.FileRecord, error) {
	pattern := filepath.Join(s.dir, fileID+"_v*.json")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("ошибка сканирования версий %s: %w", fileID, err)
	}

	var records []*model.FileRecord
	for _, path := range matches {
		rec, err := readRecord(path)
		if err != nil {
			s.logger.Warn("Пропущена повреждённая запись версии",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
			continue
		}
		records = append(records, rec)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].Version < records[j].Version
	})
	return records, nil
}

// DeleteCurrent удаляет текущую запись файла.
// Отсутствие записи не считается ошибкой.
func (s *Store) DeleteCurrent(fileID string) error {
	return removeQuiet(s.currentPath(fileID))
}

// DeleteVersion удаляет запись одной версии файла.
// Отсутствие записи не считается ошибкой.
func (s *Store) DeleteVersion(fileID string, version int) error {
	return removeQuiet(s.versionPath(fileID, version))
}

// DeleteAll удаляет текущую запись и все записи версий файла.
func (s *Store) DeleteAll(fileID string) error {
	if err := removeQuiet(s.currentPath(fileID)); err != nil {
		return err
	}
	matches, err := filepath.Glob(filepath.Join(s.dir, fileID+"_v*.json"))
	if err != nil {
		return fmt.Errorf("ошибка сканирования версий %s: %w", fileID, err)
	}
	for _, path := range matches {
		if err := removeQuiet(path); err != nil {
			return err
		}
	}
	return nil
}

// scan перечисляет записи в директории метаданных.
// withVersions=false ограничивает скан текущими записями.
func (s *Store) scan(withVersions bool) ([]*model.FileRecord, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения директории метаданных: %w", err)
	}

	var records []*model.FileRecord
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") || strings.HasSuffix(name, ".tmp") {
			continue
		}
		if !withVersions && versionFileRe.MatchString(name) {
			continue
		}

		rec, err := readRecord(filepath.Join(s.dir, name))
		if err != nil {
			// Повреждённая запись не должна ронять весь скан
			s.logger.Warn("Пропущена повреждённая запись метаданных",
				slog.String("file", name),
				slog.String("error", err.Error()),
			)
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// KnownFileIDs возвращает множество всех известных file_id.
func (s *Store) KnownFileIDs() (map[string]bool, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения директории метаданных: %w", err)
	}

	ids := make(map[string]bool)
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		if m := versionFileRe.FindStringSubmatch(name); m != nil {
			ids[m[1]] = true
			continue
		}
		ids[strings.TrimSuffix(name, ".json")] = true
	}
	return ids, nil
}

// ParseVersionFileName разбирает имя файла записи версии.
// Возвращает (file_id, version, true) либо ("", 0, false).
func ParseVersionFileName(name string) (string, int, bool) {
	m := versionFileRe.FindStringSubmatch(name)
	if m == nil {
		return "", 0, false
	}
	v, err := strconv.Atoi(m[2])
	if err != nil {
		return "", 0, false
	}
	return m[1], v, true
}

// writeAtomic сериализует запись и атомарно сохраняет её на диск.
// Паттерн: JSON → temp файл → fsync → atomic rename.
// Сериализация компактная: Metadata — непрозрачный блоб, отступы
// изменили бы сохранённые байты относительно переданных вызывающим.
func writeAtomic(path string, rec *model.FileRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("ошибка сериализации метаданных: %w", err)
	}

	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("ошибка создания временного файла: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка записи: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка fsync: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка закрытия файла: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка атомарного переименования: %w", err)
	}
	return nil
}

// readRecord читает и десериализует запись метаданных.
func readRecord(path string) (*model.FileRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("запись %s: %w", filepath.Base(path), model.ErrNotFound)
		}
		return nil, fmt.Errorf("ошибка чтения %s: %w", path, err)
	}

	var rec model.FileRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("ошибка десериализации %s: %w", path, err)
	}
	return &rec, nil
}

// removeQuiet удаляет файл, подавляя ошибку отсутствия.
func removeQuiet(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ошибка удаления %s: %w", path, err)
	}
	return nil
}
