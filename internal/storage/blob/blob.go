// Пакет blob — операции с физическим содержимым файлов на диске.
// Раскладка внутри CS_DATA_DIR:
//
//	<file_id>               — текущий blob файла
//	versions/<file_id>/v<N> — blob конкретной версии
//	tmp/upload_<uuid>       — временные файлы незавершённых загрузок
//
// Запись идёт через temp файл со streaming-подсчётом SHA-256,
// продвижение в финальное место — атомарный rename.
package blob

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/arturkryukov/contextstore/internal/domain/model"
)

// tmpDirName — поддиректория временных файлов загрузки.
const tmpDirName = "tmp"

// versionsDirName — поддиректория blob-ов версий.
const versionsDirName = "versions"

// Store — хранилище физического содержимого файлов.
type Store struct {
	// root — корневая директория хранения (CS_DATA_DIR)
	root string
}

// TempFile — результат streaming-записи во временный файл.
type TempFile struct {
	// Path — абсолютный путь temp файла
	Path string
	// Size — размер записанных данных в байтах
	Size int64
	// Checksum — SHA-256 хэш содержимого
	Checksum string
}

// New создаёт Store и служебные поддиректории.
func New(root string) (*Store, error) {
	for _, dir := range []string{root, filepath.Join(root, tmpDirName), filepath.Join(root, versionsDirName)} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("не удалось создать директорию %s: %w", dir, err)
		}
	}
	return &Store{root: root}, nil
}

// Root возвращает корневую директорию хранилища.
func (s *Store) Root() string {
	return s.root
}

// CurrentPath возвращает абсолютный путь текущего blob-а файла.
func (s *Store) CurrentPath(fileID string) string {
	return filepath.Join(s.root, fileID)
}

// VersionPath возвращает абсолютный путь blob-а конкретной версии.
func (s *Store) VersionPath(fileID string, version int) string {
	return filepath.Join(s.root, versionsDirName, fileID, fmt.Sprintf("v%d", version))
}

// SaveTemp записывает данные из reader во временный файл с подсчётом
// SHA-256 на лету и контролем максимального размера. При превышении
// maxSize запись прерывается, temp файл удаляется, возвращается
// ошибка model.ErrTooLarge. При любой другой ошибке temp файл
// также удаляется.
func (s *Store) SaveTemp(reader io.Reader, maxSize int64) (*TempFile, error) {
	tmpPath := filepath.Join(s.root, tmpDirName, "upload_"+uuid.New().String())

	f, err := os.Create(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания временного файла: %w", err)
	}

	hasher := sha256.New()
	// LimitReader на один байт больше лимита: появление этого байта
	// означает превышение
	limited := io.LimitReader(reader, maxSize+1)
	size, err := io.Copy(io.MultiWriter(f, hasher), limited)
	if err != nil {
		f.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка записи данных: %w", err)
	}
	if size > maxSize {
		f.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("размер содержимого превышает %d байт: %w", maxSize, model.ErrTooLarge)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка fsync: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	return &TempFile{
		Path:     tmpPath,
		Size:     size,
		Checksum: hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

// Promote атомарно перемещает temp файл в указанное место,
// создавая родительские директории.
func (s *Store) Promote(tmpPath, dstPath string) error {
	if err := os.MkdirAll(filepath.Dir(dstPath), 0o750); err != nil {
		return fmt.Errorf("не удалось создать директорию %s: %w", filepath.Dir(dstPath), err)
	}
	if err := os.Rename(tmpPath, dstPath); err != nil {
		return fmt.Errorf("ошибка атомарного переименования: %w", err)
	}
	return nil
}

// CopyAtomic копирует src в dst через temp файл и атомарный rename.
// Используется для обновления текущего blob-а из blob-а версии.
func (s *Store) CopyAtomic(srcPath, dstPath string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("ошибка открытия %s: %w", srcPath, err)
	}
	defer src.Close()

	if err := os.MkdirAll(filepath.Dir(dstPath), 0o750); err != nil {
		return fmt.Errorf("не удалось создать директорию: %w", err)
	}

	tmpPath := dstPath + ".tmp"
	dst, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("ошибка создания временного файла: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка копирования: %w", err)
	}
	if err := dst.Sync(); err != nil {
		dst.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка fsync: %w", err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка закрытия файла: %w", err)
	}
	if err := os.Rename(tmpPath, dstPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка атомарного переименования: %w", err)
	}
	return nil
}

// Open открывает blob для чтения. Вызывающий код обязан закрыть файл.
func (s *Store) Open(absPath string) (*os.File, error) {
	f, err := os.Open(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("содержимое %s: %w", absPath, model.ErrNotFound)
		}
		return nil, fmt.Errorf("ошибка открытия %s: %w", absPath, err)
	}
	return f, nil
}

// Remove удаляет файл. Отсутствие файла не считается ошибкой.
func (s *Store) Remove(absPath string) error {
	err := os.Remove(absPath)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ошибка удаления %s: %w", absPath, err)
	}
	return nil
}

// RemoveTemp удаляет temp файл, подавляя ошибку отсутствия.
func (s *Store) RemoveTemp(tmpPath string) {
	_ = os.Remove(tmpPath)
}

// RemoveVersions удаляет все blob-ы версий файла.
func (s *Store) RemoveVersions(fileID string) error {
	dir := filepath.Join(s.root, versionsDirName, fileID)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("ошибка удаления версий %s: %w", fileID, err)
	}
	return nil
}

// Exists проверяет существование файла по абсолютному пути.
func (s *Store) Exists(absPath string) bool {
	_, err := os.Stat(absPath)
	return err == nil
}

// ComputeChecksum вычисляет SHA-256 существующего файла.
func (s *Store) ComputeChecksum(absPath string) (string, error) {
	f, err := os.Open(absPath)
	if err != nil {
		return "", fmt.Errorf("ошибка открытия %s: %w", absPath, err)
	}
	defer f.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return "", fmt.Errorf("ошибка вычисления checksum %s: %w", absPath, err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// CleanupTemp удаляет temp файлы старше cutoff. Возвращает количество
// удалённых файлов. Ошибки отдельных файлов логируются вызывающим кодом
// через возвращаемый счётчик ошибок.
func (s *Store) CleanupTemp(olderThan time.Duration) (removed int, errs int) {
	dir := filepath.Join(s.root, tmpDirName)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, 1
	}

	cutoff := time.Now().Add(-olderThan)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			errs++
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, entry.Name())); err != nil {
			errs++
			continue
		}
		removed++
	}
	return removed, errs
}

// IsServicePath сообщает, относится ли относительный путь к служебной
// раскладке хранилища (temp, версии, метаданные, WAL). Используется
// сканером незарегистрированных файлов.
func IsServicePath(rel string) bool {
	rel = filepath.ToSlash(rel)
	for _, prefix := range []string{tmpDirName + "/", versionsDirName + "/", "metadata/", "wal/"} {
		if strings.HasPrefix(rel, prefix) {
			return true
		}
	}
	return false
}
