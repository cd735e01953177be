package event

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/arturkryukov/contextstore/internal/domain/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

func testEvent(evType model.EventType, key string) model.Event {
	return model.Event{
		Type:      evType,
		Source:    "test",
		Key:       key,
		Timestamp: time.Now().UTC(),
	}
}

func waitEvent(t *testing.T, ch <-chan model.Event) model.Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		if !ok {
			t.Fatal("канал подписчика закрыт")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("событие не доставлено")
	}
	return model.Event{}
}

// TestPublishSubscribe проверяет базовую доставку события подписчику.
func TestPublishSubscribe(t *testing.T) {
	bus := New(16, 4, testLogger())
	bus.Start(context.Background())
	defer bus.Stop()

	ch, unsub := bus.Subscribe("", nil)
	defer unsub()

	bus.Publish(testEvent(model.EventContextChange, "session:42"))

	ev := waitEvent(t, ch)
	if ev.Key != "session:42" {
		t.Errorf("ожидался ключ session:42, получен %s", ev.Key)
	}
}

// TestSubscribe_PrefixFilter проверяет фильтрацию по префиксу ключа.
func TestSubscribe_PrefixFilter(t *testing.T) {
	bus := New(16, 4, testLogger())
	bus.Start(context.Background())
	defer bus.Stop()

	ch, unsub := bus.Subscribe("session:", nil)
	defer unsub()

	bus.Publish(testEvent(model.EventContextChange, "job:1"))
	bus.Publish(testEvent(model.EventContextChange, "session:1"))

	ev := waitEvent(t, ch)
	if ev.Key != "session:1" {
		t.Errorf("событие с чужим префиксом прошло фильтр: %s", ev.Key)
	}
}

// TestSubscribe_TypeFilter проверяет фильтрацию по типу события.
func TestSubscribe_TypeFilter(t *testing.T) {
	bus := New(16, 4, testLogger())
	bus.Start(context.Background())
	defer bus.Stop()

	ch, unsub := bus.Subscribe("", []model.EventType{model.EventFileChange})
	defer unsub()

	bus.Publish(testEvent(model.EventContextChange, "a"))
	bus.Publish(testEvent(model.EventFileChange, "docs/report.pdf"))

	ev := waitEvent(t, ch)
	if ev.Type != model.EventFileChange {
		t.Errorf("событие неподходящего типа прошло фильтр: %s", ev.Type)
	}
}

// TestUnsubscribe проверяет, что отписка закрывает канал и повторный
// вызов безопасен.
func TestUnsubscribe(t *testing.T) {
	bus := New(16, 4, testLogger())
	bus.Start(context.Background())
	defer bus.Stop()

	ch, unsub := bus.Subscribe("", nil)
	unsub()
	unsub() // повторная отписка не должна паниковать

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("после отписки не должно быть доставки")
		}
	case <-time.After(time.Second):
		t.Fatal("канал не закрыт после отписки")
	}
}

// TestStop_ClosesSubscribers проверяет, что Stop закрывает каналы
// всех подписчиков.
func TestStop_ClosesSubscribers(t *testing.T) {
	bus := New(16, 4, testLogger())
	bus.Start(context.Background())

	ch, _ := bus.Subscribe("", nil)
	bus.Stop()
	bus.Stop() // повторный Stop безопасен

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("ожидалось закрытие канала, получено событие")
		}
	case <-time.After(time.Second):
		t.Fatal("канал подписчика не закрыт после Stop")
	}
}

// TestPublish_SlowSubscriber проверяет, что переполненный буфер
// подписчика не блокирует публикацию.
func TestPublish_SlowSubscriber(t *testing.T) {
	bus := New(64, 1, testLogger())
	bus.Start(context.Background())
	defer bus.Stop()

	ch, unsub := bus.Subscribe("", nil)
	defer unsub()

	// Публикуем больше, чем вмещает буфер подписчика, не читая канал.
	// Публикация не должна блокироваться.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			bus.Publish(testEvent(model.EventContextChange, "k"))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("публикация заблокировалась на медленном подписчике")
	}

	// Хотя бы одно событие доставлено
	waitEvent(t, ch)
}
