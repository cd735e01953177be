package blob

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/arturkryukov/contextstore/internal/domain/model"
)

// TestNew_CreatesLayout проверяет создание служебных поддиректорий.
func TestNew_CreatesLayout(t *testing.T) {
	root := t.TempDir()

	s, err := New(root)
	if err != nil {
		t.Fatalf("ожидалось успешное создание Store, получена ошибка: %v", err)
	}
	if s.Root() != root {
		t.Errorf("ожидался корень %s, получен %s", root, s.Root())
	}

	for _, dir := range []string{filepath.Join(root, "tmp"), filepath.Join(root, "versions")} {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			t.Errorf("служебная директория %s не создана", dir)
		}
	}
}

// TestSaveTemp проверяет streaming-запись с подсчётом SHA-256.
func TestSaveTemp(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	content := []byte("содержимое тестового файла")
	tmp, err := s.SaveTemp(strings.NewReader(string(content)), 1024)
	if err != nil {
		t.Fatalf("ожидалась успешная запись, получена ошибка: %v", err)
	}

	if tmp.Size != int64(len(content)) {
		t.Errorf("ожидался размер %d, получен %d", len(content), tmp.Size)
	}

	sum := sha256.Sum256(content)
	if tmp.Checksum != hex.EncodeToString(sum[:]) {
		t.Errorf("checksum не совпадает: %s", tmp.Checksum)
	}

	data, err := os.ReadFile(tmp.Path)
	if err != nil {
		t.Fatalf("temp файл не читается: %v", err)
	}
	if string(data) != string(content) {
		t.Error("содержимое temp файла не совпадает с исходным")
	}
}

// TestSaveTemp_TooLarge проверяет прерывание записи при превышении
// лимита и удаление temp файла.
func TestSaveTemp_TooLarge(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	_, err = s.SaveTemp(strings.NewReader("0123456789"), 5)
	if !errors.Is(err, model.ErrTooLarge) {
		t.Fatalf("ожидалась ошибка ErrTooLarge, получено: %v", err)
	}

	// Temp файл не должен осиротеть
	entries, err := os.ReadDir(filepath.Join(s.Root(), "tmp"))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("после ошибки остался temp файл: %v", entries[0].Name())
	}
}

// TestPromoteAndCopyAtomic проверяет размещение версии и обновление
// текущего blob-а.
func TestPromoteAndCopyAtomic(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	tmp, err := s.SaveTemp(strings.NewReader("v1 данные"), 1024)
	if err != nil {
		t.Fatal(err)
	}

	versionPath := s.VersionPath("file-1", 1)
	if err := s.Promote(tmp.Path, versionPath); err != nil {
		t.Fatalf("ошибка Promote: %v", err)
	}
	if s.Exists(tmp.Path) {
		t.Error("temp файл остался после Promote")
	}

	currentPath := s.CurrentPath("file-1")
	if err := s.CopyAtomic(versionPath, currentPath); err != nil {
		t.Fatalf("ошибка CopyAtomic: %v", err)
	}

	// Версия и текущий blob должны иметь одинаковое содержимое
	verData, _ := os.ReadFile(versionPath)
	curData, _ := os.ReadFile(currentPath)
	if string(verData) != string(curData) {
		t.Error("содержимое current и версии различается")
	}
}

// TestComputeChecksum проверяет вычисление SHA-256 существующего файла.
func TestComputeChecksum(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	p := filepath.Join(s.Root(), "sample.txt")
	content := []byte("проверка хэша")
	if err := os.WriteFile(p, content, 0o644); err != nil {
		t.Fatal(err)
	}

	hash, err := s.ComputeChecksum(p)
	if err != nil {
		t.Fatalf("ошибка ComputeChecksum: %v", err)
	}
	sum := sha256.Sum256(content)
	if hash != hex.EncodeToString(sum[:]) {
		t.Errorf("checksum не совпадает: %s", hash)
	}
}

// TestOpen_NotFound проверяет ErrNotFound для отсутствующего blob-а.
func TestOpen_NotFound(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	_, err = s.Open(s.CurrentPath("нет-такого"))
	if !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("ожидалась ошибка ErrNotFound, получено: %v", err)
	}
}

// TestCleanupTemp проверяет удаление только старых temp файлов.
func TestCleanupTemp(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	oldPath := filepath.Join(s.Root(), "tmp", "upload_old")
	freshPath := filepath.Join(s.Root(), "tmp", "upload_fresh")
	for _, p := range []string{oldPath, freshPath} {
		if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	// Старим один файл
	past := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(oldPath, past, past); err != nil {
		t.Fatal(err)
	}

	removed, errs := s.CleanupTemp(time.Hour)
	if errs != 0 {
		t.Errorf("неожиданные ошибки очистки: %d", errs)
	}
	if removed != 1 {
		t.Errorf("ожидалось удаление 1 файла, удалено %d", removed)
	}
	if s.Exists(oldPath) {
		t.Error("старый temp файл не удалён")
	}
	if !s.Exists(freshPath) {
		t.Error("свежий temp файл удалён ошибочно")
	}
}

// TestIsServicePath проверяет классификацию служебных путей.
func TestIsServicePath(t *testing.T) {
	cases := []struct {
		rel  string
		want bool
	}{
		{"tmp/upload_x", true},
		{"versions/abc/v1", true},
		{"metadata/abc.json", true},
		{"wal/tx.wal.json", true},
		{"docs/report.pdf", false},
		{"report.pdf", false},
	}
	for _, tc := range cases {
		if got := IsServicePath(tc.rel); got != tc.want {
			t.Errorf("IsServicePath(%q) = %v, ожидалось %v", tc.rel, got, tc.want)
		}
	}
}
