package service

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/arturkryukov/contextstore/internal/storage/blob"
	"github.com/arturkryukov/contextstore/internal/storage/checksum"
	"github.com/arturkryukov/contextstore/internal/storage/meta"
	"github.com/arturkryukov/contextstore/internal/storage/wal"
)

// testScanSetup собирает сервис скана и файловый движок поверх
// общего каталога данных.
func testScanSetup(t *testing.T) (*ScanService, *blob.Store, *meta.Store, string) {
	t.Helper()
	dataDir := filepath.Join(t.TempDir(), "data")

	blobs, err := blob.New(dataDir)
	if err != nil {
		t.Fatal(err)
	}
	metaStore, err := meta.New(dataDir, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	sc := NewScanService(blobs, metaStore, nil, 0, testLogger())
	return sc, blobs, metaStore, dataDir
}

func writeUnmanaged(t *testing.T, dataDir, rel, content string) {
	t.Helper()
	abs := filepath.Join(dataDir, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

// TestScan_RegistersUnmanaged проверяет регистрацию неуправляемого
// файла: запись версии 1 с тегом imported и управляемые копии.
func TestScan_RegistersUnmanaged(t *testing.T) {
	sc, blobs, metaStore, dataDir := testScanSetup(t)

	writeUnmanaged(t, dataDir, "incoming/report.txt", "dropped by hand")

	result := sc.RunOnce(context.Background())
	if result.RegisteredCount != 1 {
		t.Fatalf("ожидалась регистрация 1 файла, получено %d (ошибок %d)",
			result.RegisteredCount, result.Errors)
	}

	records, err := metaStore.ListCurrent()
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 {
		t.Fatalf("ожидалась 1 запись, получено %d", len(records))
	}
	rec := records[0]
	if rec.LogicalPath != "incoming/report.txt" {
		t.Errorf("неверный логический путь: %s", rec.LogicalPath)
	}
	if rec.Version != 1 {
		t.Errorf("неверная версия: %d", rec.Version)
	}
	if len(rec.Tags) != 1 || rec.Tags[0] != "imported" {
		t.Errorf("неверные теги: %v", rec.Tags)
	}
	if !strings.Contains(string(rec.Metadata), "scanned_import") {
		t.Errorf("неверные метаданные: %s", rec.Metadata)
	}

	// Управляемые копии созданы
	if !blobs.Exists(blobs.CurrentPath(rec.FileID)) {
		t.Error("текущая копия не создана")
	}
	if !blobs.Exists(blobs.VersionPath(rec.FileID, 1)) {
		t.Error("копия версии 1 не создана")
	}
	// Оригинал остаётся на месте
	if _, err := os.Stat(filepath.Join(dataDir, "incoming", "report.txt")); err != nil {
		t.Error("оригинал файла удалён сканом")
	}

	// Запись версии тоже создана
	if _, err := metaStore.ReadVersion(rec.FileID, 1); err != nil {
		t.Errorf("запись версии отсутствует: %v", err)
	}
}

// TestScan_Idempotent проверяет, что повторный проход ничего не
// регистрирует заново.
func TestScan_Idempotent(t *testing.T) {
	sc, _, metaStore, dataDir := testScanSetup(t)

	writeUnmanaged(t, dataDir, "doc.txt", "once")

	first := sc.RunOnce(context.Background())
	if first.RegisteredCount != 1 {
		t.Fatalf("первый проход: %d", first.RegisteredCount)
	}

	second := sc.RunOnce(context.Background())
	if second.RegisteredCount != 0 {
		t.Errorf("повторный проход не должен регистрировать: %d", second.RegisteredCount)
	}

	records, err := metaStore.ListCurrent()
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 {
		t.Errorf("дубликат записи после повторного прохода: %d", len(records))
	}
}

// TestScan_SkipsServiceDirs проверяет, что служебные каталоги и
// управляемые blob-ы не регистрируются.
func TestScan_SkipsServiceDirs(t *testing.T) {
	sc, blobs, metaStore, _ := testScanSetup(t)

	walEng, err := wal.New(filepath.Join(t.TempDir(), "wal"), testLogger())
	if err != nil {
		t.Fatal(err)
	}
	index := checksum.New(metaStore, 64, testLogger())

	// Управляемый файл, созданный движком
	svc := NewFileService(blobs, metaStore, walEng, index, nil, 1<<20, nil, testLogger())
	upload(t, svc, "managed.txt", "managed content", false)

	result := sc.RunOnce(context.Background())
	if result.RegisteredCount != 0 {
		t.Errorf("управляемые данные зарегистрированы повторно: %d", result.RegisteredCount)
	}

	records, err := metaStore.ListCurrent()
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 {
		t.Errorf("ожидалась 1 запись, получено %d", len(records))
	}
}

// TestScan_CleansOldTemp проверяет вычистку брошенных временных файлов.
func TestScan_CleansOldTemp(t *testing.T) {
	sc, _, _, dataDir := testScanSetup(t)

	tmpDir := filepath.Join(dataDir, "tmp")
	oldTemp := filepath.Join(tmpDir, "abandoned.upload")
	if err := os.WriteFile(oldTemp, []byte("junk"), 0o644); err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(oldTemp, old, old); err != nil {
		t.Fatal(err)
	}
	freshTemp := filepath.Join(tmpDir, "active.upload")
	if err := os.WriteFile(freshTemp, []byte("live"), 0o644); err != nil {
		t.Fatal(err)
	}

	result := sc.RunOnce(context.Background())
	if result.TempRemoved != 1 {
		t.Errorf("ожидалась вычистка 1 временного файла, вычищено %d", result.TempRemoved)
	}
	if _, err := os.Stat(freshTemp); err != nil {
		t.Error("свежий временный файл удалён ошибочно")
	}
	if _, err := os.Stat(oldTemp); !os.IsNotExist(err) {
		t.Error("старый временный файл не удалён")
	}
}
