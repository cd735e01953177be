package wal

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

// testLogger возвращает логгер для тестов (вывод подавляется).
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

// TestNew_CreatesDirectory проверяет, что New создаёт директорию WAL.
func TestNew_CreatesDirectory(t *testing.T) {
	walDir := filepath.Join(t.TempDir(), "wal")

	w, err := New(walDir, testLogger())
	if err != nil {
		t.Fatalf("ожидалось успешное создание WAL, получена ошибка: %v", err)
	}
	if w.Dir() != walDir {
		t.Errorf("ожидался путь %s, получен %s", walDir, w.Dir())
	}

	info, err := os.Stat(walDir)
	if err != nil || !info.IsDir() {
		t.Fatal("директория WAL не создана")
	}
}

// TestBeginCommit проверяет жизненный цикл pending → committed.
func TestBeginCommit(t *testing.T) {
	w, err := New(t.TempDir(), testLogger())
	if err != nil {
		t.Fatal(err)
	}

	entry, err := w.Begin(OpFileCreate, "file-1", "docs/report.pdf", 1)
	if err != nil {
		t.Fatalf("ошибка Begin: %v", err)
	}
	if entry.Status != StatusPending {
		t.Errorf("ожидался статус pending, получен %s", entry.Status)
	}
	if entry.CompletedAt != nil {
		t.Error("CompletedAt должен быть nil для pending")
	}
	if entry.Version != 1 {
		t.Errorf("ожидалась версия 1, получена %d", entry.Version)
	}

	if err := w.Commit(entry.TransactionID); err != nil {
		t.Fatalf("ошибка Commit: %v", err)
	}

	got, err := w.readEntry(entry.TransactionID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != StatusCommitted {
		t.Errorf("ожидался статус committed, получен %s", got.Status)
	}
	if got.CompletedAt == nil {
		t.Error("CompletedAt не заполнен после Commit")
	}
}

// TestCommit_Twice проверяет, что повторный Commit возвращает ошибку.
func TestCommit_Twice(t *testing.T) {
	w, err := New(t.TempDir(), testLogger())
	if err != nil {
		t.Fatal(err)
	}

	entry, err := w.Begin(OpFilePurge, "file-1", "", 3)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Commit(entry.TransactionID); err != nil {
		t.Fatal(err)
	}
	if err := w.Commit(entry.TransactionID); err == nil {
		t.Fatal("ожидалась ошибка при повторном Commit")
	}
}

// TestRecoverPending проверяет, что восстановление возвращает только
// pending транзакции.
func TestRecoverPending(t *testing.T) {
	dir := t.TempDir()
	w, err := New(dir, testLogger())
	if err != nil {
		t.Fatal(err)
	}

	pending, err := w.Begin(OpFileCreate, "file-pending", "a.txt", 1)
	if err != nil {
		t.Fatal(err)
	}
	committed, err := w.Begin(OpFileVersion, "file-done", "b.txt", 2)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Commit(committed.TransactionID); err != nil {
		t.Fatal(err)
	}

	// Имитация рестарта: новый экземпляр над той же директорией
	w2, err := New(dir, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	recovered, err := w2.RecoverPending()
	if err != nil {
		t.Fatalf("ошибка RecoverPending: %v", err)
	}
	if len(recovered) != 1 {
		t.Fatalf("ожидалась 1 pending транзакция, получено %d", len(recovered))
	}
	if recovered[0].TransactionID != pending.TransactionID {
		t.Errorf("восстановлена не та транзакция: %s", recovered[0].TransactionID)
	}
	if recovered[0].Version != 1 {
		t.Errorf("версия не сохранилась после рестарта: %d", recovered[0].Version)
	}
}

// TestCleanFinished проверяет удаление завершённых записей с
// сохранением pending.
func TestCleanFinished(t *testing.T) {
	w, err := New(t.TempDir(), testLogger())
	if err != nil {
		t.Fatal(err)
	}

	pending, err := w.Begin(OpFileCreate, "file-1", "a.txt", 1)
	if err != nil {
		t.Fatal(err)
	}
	committed, err := w.Begin(OpFileCreate, "file-2", "b.txt", 1)
	if err != nil {
		t.Fatal(err)
	}
	rolledBack, err := w.Begin(OpFilePurge, "file-3", "c.txt", 1)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Commit(committed.TransactionID); err != nil {
		t.Fatal(err)
	}
	if err := w.Rollback(rolledBack.TransactionID); err != nil {
		t.Fatal(err)
	}

	cleaned, err := w.CleanFinished()
	if err != nil {
		t.Fatalf("ошибка CleanFinished: %v", err)
	}
	if cleaned != 2 {
		t.Errorf("ожидалось удаление 2 записей, удалено %d", cleaned)
	}

	if _, err := w.readEntry(pending.TransactionID); err != nil {
		t.Error("pending запись удалена ошибочно")
	}
	if _, err := w.readEntry(committed.TransactionID); err == nil {
		t.Error("committed запись не удалена")
	}
}
