// Пакет event — внутрипроцессная шина событий с подпиской по
// префиксу ключа и типу события. Публикация неблокирующая: при
// переполнении очереди или буфера подписчика событие отбрасывается
// с инкрементом метрики. Гарантий доставки нет.
package event

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/arturkryukov/contextstore/internal/domain/model"
)

var (
	eventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cs_events_published_total",
		Help: "Количество опубликованных в шину событий.",
	}, []string{"type"})

	eventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cs_events_dropped_total",
		Help: "Количество отброшенных событий (переполнение буферов).",
	}, []string{"reason"})

	subscribersActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cs_event_subscribers",
		Help: "Текущее количество подписчиков шины событий.",
	})
)

// subscriber — один подписчик: фильтр и его канал доставки.
type subscriber struct {
	prefix string
	types  map[model.EventType]bool // пустая map — все типы
	ch     chan model.Event
}

func (s *subscriber) matches(ev model.Event) bool {
	if len(s.types) > 0 && !s.types[ev.Type] {
		return false
	}
	return strings.HasPrefix(ev.Key, s.prefix)
}

// Bus — шина событий. Публикации складываются в общую очередь,
// диспетчер разносит их по подписчикам в отдельной горутине.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]*subscriber
	nextID int

	queue   chan model.Event
	subBuf  int
	stop    chan struct{}
	stopped chan struct{}
	once    sync.Once

	logger *slog.Logger
}

// New создаёт шину. bufferSize — ёмкость общей очереди,
// subscriberBuf — ёмкость канала каждого подписчика.
func New(bufferSize, subscriberBuf int, logger *slog.Logger) *Bus {
	return &Bus{
		subs:    make(map[int]*subscriber),
		queue:   make(chan model.Event, bufferSize),
		subBuf:  subscriberBuf,
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
		logger:  logger.With(slog.String("component", "event_bus")),
	}
}

// Start запускает диспетчер. Останавливается по Stop или отмене ctx.
func (b *Bus) Start(ctx context.Context) {
	go func() {
		defer close(b.stopped)
		b.logger.Info("шина событий запущена")
		for {
			select {
			case <-ctx.Done():
				return
			case <-b.stop:
				return
			case ev := <-b.queue:
				b.dispatch(ev)
			}
		}
	}()
}

// Stop останавливает диспетчер и закрывает каналы подписчиков.
func (b *Bus) Stop() {
	b.once.Do(func() {
		close(b.stop)
		<-b.stopped
		b.mu.Lock()
		defer b.mu.Unlock()
		for id, sub := range b.subs {
			close(sub.ch)
			delete(b.subs, id)
		}
		subscribersActive.Set(0)
		b.logger.Info("шина событий остановлена")
	})
}

// Publish ставит событие в очередь. Не блокирует: при переполнении
// событие отбрасывается.
func (b *Bus) Publish(ev model.Event) {
	select {
	case b.queue <- ev:
		eventsPublished.WithLabelValues(string(ev.Type)).Inc()
	default:
		eventsDropped.WithLabelValues("queue_full").Inc()
		b.logger.Warn("очередь шины переполнена, событие отброшено",
			slog.String("type", string(ev.Type)),
			slog.String("key", ev.Key))
	}
}

// Subscribe регистрирует подписчика. prefix фильтрует события по
// началу маршрутного ключа, types — по типам (nil — все типы).
// Возвращает канал доставки и функцию отписки; отписка закрывает
// канал. Медленный подписчик теряет события, остальных не тормозит.
func (b *Bus) Subscribe(prefix string, types []model.EventType) (<-chan model.Event, func()) {
	sub := &subscriber{
		prefix: prefix,
		types:  make(map[model.EventType]bool, len(types)),
		ch:     make(chan model.Event, b.subBuf),
	}
	for _, t := range types {
		sub.types[t] = true
	}

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = sub
	subscribersActive.Set(float64(len(b.subs)))
	b.mu.Unlock()

	var unsubOnce sync.Once
	unsubscribe := func() {
		unsubOnce.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.subs[id]; !ok {
				return
			}
			delete(b.subs, id)
			close(sub.ch)
			subscribersActive.Set(float64(len(b.subs)))
		})
	}
	return sub.ch, unsubscribe
}

func (b *Bus) dispatch(ev model.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if !sub.matches(ev) {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			eventsDropped.WithLabelValues("subscriber_full").Inc()
		}
	}
}
