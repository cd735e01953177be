package ctxstore

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/arturkryukov/contextstore/internal/domain/model"
)

// TestSnapshotLoadSnapshot проверяет полный цикл: снапшот содержимого
// и восстановление его в пустое хранилище.
func TestSnapshotLoadSnapshot(t *testing.T) {
	src := testStore()
	ctx := context.Background()

	if _, err := src.Set(ctx, "forever", model.RawValue(`{"a":1}`), 0, map[string]string{"agent": "planner"}, false); err != nil {
		t.Fatal(err)
	}
	if _, err := src.Set(ctx, "ttl-key", model.RawValue(`2`), time.Hour, nil, false); err != nil {
		t.Fatal(err)
	}

	entries, ttl := src.Snapshot()
	if len(entries) != 2 {
		t.Fatalf("ожидалось 2 записи в снапшоте, получено %d", len(entries))
	}
	if _, has := ttl["ttl-key"]; !has {
		t.Fatal("срок жизни ttl-key не попал в снапшот")
	}
	if _, has := ttl["forever"]; has {
		t.Fatal("бессрочная запись не должна иметь срока в снапшоте")
	}

	dst := testStore()
	loaded := dst.LoadSnapshot(entries, ttl)
	if loaded != 2 {
		t.Fatalf("ожидалась загрузка 2 записей, загружено %d", loaded)
	}

	got, err := dst.Get(ctx, "forever", false)
	if err != nil {
		t.Fatal(err)
	}
	if string(got.Value) != `{"a":1}` {
		t.Errorf("значение не восстановлено: %s", got.Value)
	}
	if got.Metadata["agent"] != "planner" {
		t.Errorf("метаданные не восстановлены: %v", got.Metadata)
	}

	_, expires, err := dst.Details("ttl-key")
	if err != nil {
		t.Fatal(err)
	}
	if expires == nil {
		t.Error("срок жизни не восстановлен")
	}
}

// TestLoadSnapshot_DropsExpired проверяет отбрасывание записей с
// истёкшим на момент загрузки сроком.
func TestLoadSnapshot_DropsExpired(t *testing.T) {
	s := testStore()

	past := time.Now().UTC().Add(-time.Minute)
	entries := map[string]*model.ContextEntry{
		"dead": {Key: "dead", Value: model.RawValue(`1`)},
		"live": {Key: "live", Value: model.RawValue(`2`)},
	}
	ttl := map[string]time.Time{"dead": past}

	loaded := s.LoadSnapshot(entries, ttl)
	if loaded != 1 {
		t.Fatalf("ожидалась загрузка 1 записи, загружено %d", loaded)
	}
	if _, err := s.Get(context.Background(), "dead", false); err == nil {
		t.Error("просроченная запись не должна загружаться")
	}
}

// TestSnapshot_SkipsExpired проверяет, что просроченные записи не
// попадают в снапшот.
func TestSnapshot_SkipsExpired(t *testing.T) {
	s := testStore()
	ctx := context.Background()

	base := time.Now().UTC()
	s.now = func() time.Time { return base }
	if _, err := s.Set(ctx, "short", model.RawValue(`1`), time.Minute, nil, false); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Set(ctx, "live", model.RawValue(`2`), 0, nil, false); err != nil {
		t.Fatal(err)
	}

	s.now = func() time.Time { return base.Add(time.Hour) }
	entries, _ := s.Snapshot()
	if len(entries) != 1 {
		t.Fatalf("ожидалась 1 живая запись, получено %d", len(entries))
	}
	if _, has := entries["short"]; has {
		t.Error("просроченная запись попала в снапшот")
	}
}

// TestPersister_RunOnceRestore проверяет запись снапшота на диск и
// восстановление через Restore.
func TestPersister_RunOnceRestore(t *testing.T) {
	dir := t.TempDir()
	src := testStore()
	ctx := context.Background()

	if _, err := src.Set(ctx, "k", model.RawValue(`{"v":1}`), 0, nil, false); err != nil {
		t.Fatal(err)
	}

	p := NewPersister(src, dir, time.Minute, testLogger())
	if err := p.RunOnce(); err != nil {
		t.Fatalf("ошибка записи снапшота: %v", err)
	}

	// Файл существует и содержит корректный JSON
	data, err := os.ReadFile(filepath.Join(dir, snapshotFileName))
	if err != nil {
		t.Fatal(err)
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		t.Fatalf("снапшот на диске некорректен: %v", err)
	}

	dst := testStore()
	p2 := NewPersister(dst, dir, time.Minute, testLogger())
	p2.Restore()

	got, err := dst.Get(ctx, "k", false)
	if err != nil {
		t.Fatalf("запись не восстановлена: %v", err)
	}
	if string(got.Value) != `{"v":1}` {
		t.Errorf("неверное восстановленное значение: %s", got.Value)
	}
}

// TestPersister_RestoreMissingFile проверяет, что отсутствие снапшота
// трактуется как штатный первый запуск.
func TestPersister_RestoreMissingFile(t *testing.T) {
	s := testStore()
	p := NewPersister(s, t.TempDir(), time.Minute, testLogger())

	p.Restore() // не должно паниковать и менять состояние
	if s.Count() != 0 {
		t.Errorf("хранилище должно быть пустым: %d", s.Count())
	}
}

// TestPersister_RestoreCorrupt проверяет игнорирование повреждённого
// снапшота.
func TestPersister_RestoreCorrupt(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, snapshotFileName), []byte("{broken"), 0o644); err != nil {
		t.Fatal(err)
	}

	s := testStore()
	p := NewPersister(s, dir, time.Minute, testLogger())
	p.Restore()

	if s.Count() != 0 {
		t.Errorf("повреждённый снапшот не должен загружаться: %d", s.Count())
	}
}

// TestPersister_NoLeftoverTempFile проверяет, что после успешной
// записи временный файл не остаётся.
func TestPersister_NoLeftoverTempFile(t *testing.T) {
	dir := t.TempDir()
	p := NewPersister(testStore(), dir, time.Minute, testLogger())
	if err := p.RunOnce(); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(filepath.Join(dir, snapshotFileName+".tmp")); !os.IsNotExist(err) {
		t.Error("временный файл снапшота не удалён")
	}
}
