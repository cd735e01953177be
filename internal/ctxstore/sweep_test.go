package ctxstore

import (
	"context"
	"testing"
	"time"

	"github.com/arturkryukov/contextstore/internal/domain/model"
	"github.com/arturkryukov/contextstore/internal/event"
)

// TestSweeper_RunOnce проверяет, что проход зачистки удаляет
// просроченные записи и не трогает живые.
func TestSweeper_RunOnce(t *testing.T) {
	s := testStore()
	ctx := context.Background()

	base := time.Now().UTC()
	s.now = func() time.Time { return base }
	if _, err := s.Set(ctx, "dead-1", model.RawValue(`1`), time.Minute, nil, false); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Set(ctx, "dead-2", model.RawValue(`2`), 2*time.Minute, nil, false); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Set(ctx, "live", model.RawValue(`3`), time.Hour, nil, false); err != nil {
		t.Fatal(err)
	}

	s.now = func() time.Time { return base.Add(10 * time.Minute) }

	sw := NewSweeper(s, time.Minute, testLogger())
	result := sw.RunOnce(ctx)

	if result.RemovedCount != 2 {
		t.Errorf("ожидалось удаление 2 записей, удалено %d", result.RemovedCount)
	}
	if s.Count() != 1 {
		t.Errorf("живая запись затронута зачисткой: %d", s.Count())
	}
	if _, err := s.Get(ctx, "live", false); err != nil {
		t.Errorf("живая запись недоступна после зачистки: %v", err)
	}
}

// TestSweeper_RunOnceEmpty проверяет проход по хранилищу без
// просроченных записей.
func TestSweeper_RunOnceEmpty(t *testing.T) {
	s := testStore()
	sw := NewSweeper(s, time.Minute, testLogger())

	result := sw.RunOnce(context.Background())
	if result.RemovedCount != 0 {
		t.Errorf("ожидалось 0 удалений, получено %d", result.RemovedCount)
	}
}

// TestSweeper_PublishesDeleteEvents проверяет, что для подписчиков
// истечение TTL выглядит как delete-событие с признаком expired.
func TestSweeper_PublishesDeleteEvents(t *testing.T) {
	bus := event.New(16, 4, testLogger())
	bus.Start(context.Background())
	defer bus.Stop()

	s := New(nil, bus, testLogger())
	ctx := context.Background()

	ch, unsub := bus.Subscribe("", []model.EventType{model.EventContextChange})
	defer unsub()

	base := time.Now().UTC()
	s.now = func() time.Time { return base }
	if _, err := s.Set(ctx, "dying", model.RawValue(`1`), time.Minute, nil, false); err != nil {
		t.Fatal(err)
	}
	s.now = func() time.Time { return base.Add(time.Hour) }

	sw := NewSweeper(s, time.Minute, testLogger())
	sw.RunOnce(ctx)

	select {
	case ev := <-ch:
		if ev.Key != "dying" {
			t.Errorf("событие с неверным ключом: %s", ev.Key)
		}
		if op, _ := ev.Data["operation"].(string); op != model.EventOpDelete {
			t.Errorf("ожидалась операция delete, получено %v", ev.Data["operation"])
		}
		if expired, _ := ev.Data["expired"].(bool); !expired {
			t.Error("событие без признака expired")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("delete-событие зачистки не доставлено")
	}
}
