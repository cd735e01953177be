// Пакет ctxstore — эфемерное TTL key/value хранилище контекста.
// Значения живут в памяти, опционально с временем жизни; просроченные
// записи вычищаются лениво при чтении и фоновой зачисткой (sweep.go).
// Содержимое периодически сбрасывается в снапшот (persist.go) и
// восстанавливается при старте. Мутации публикуются в шину событий.
package ctxstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/arturkryukov/contextstore/internal/cache"
	"github.com/arturkryukov/contextstore/internal/domain/model"
	"github.com/arturkryukov/contextstore/internal/event"
)

const sourceName = "context_store"

var (
	contextEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cs_context_entries",
		Help: "Текущее количество записей в хранилище контекста.",
	})

	contextOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cs_context_operations_total",
		Help: "Количество операций хранилища контекста по типу и результату.",
	}, []string{"operation", "result"})
)

// Store — TTL key/value хранилище. Все операции потокобезопасны:
// единый мьютекс покрывает и записи, и карту сроков жизни.
type Store struct {
	mu      sync.Mutex
	entries map[string]*model.ContextEntry
	ttl     map[string]time.Time // ключ → момент истечения; отсутствие — бессрочно

	cache  *cache.Cache
	bus    *event.Bus
	logger *slog.Logger
	now    func() time.Time
}

// New создаёт пустое хранилище. cache и bus могут быть nil.
func New(c *cache.Cache, bus *event.Bus, logger *slog.Logger) *Store {
	return &Store{
		entries: make(map[string]*model.ContextEntry),
		ttl:     make(map[string]time.Time),
		cache:   c,
		bus:     bus,
		logger:  logger.With(slog.String("component", "context_store")),
		now:     time.Now,
	}
}

// Set записывает значение ключа. ttl > 0 назначает срок жизни от
// текущего момента; ttl == 0 делает запись бессрочной (и снимает
// прежний срок при обновлении). При обновлении CreatedAt сохраняется.
func (s *Store) Set(ctx context.Context, key string, value model.RawValue, ttl time.Duration, metadata map[string]string, notify bool) (*model.ContextEntry, error) {
	if err := validateKey(key); err != nil {
		contextOps.WithLabelValues("set", "error").Inc()
		return nil, err
	}
	if !json.Valid(value) {
		contextOps.WithLabelValues("set", "error").Inc()
		return nil, fmt.Errorf("значение ключа %q не является корректным JSON: %w", key, model.ErrValidation)
	}
	if ttl < 0 {
		contextOps.WithLabelValues("set", "error").Inc()
		return nil, fmt.Errorf("отрицательный ttl для ключа %q: %w", key, model.ErrValidation)
	}

	nowTS := s.now().UTC()

	s.mu.Lock()
	entry, exists := s.entries[key]
	if exists && !s.expiredLocked(key) {
		entry.Value = value
		entry.Metadata = metadata
		entry.UpdatedAt = nowTS
	} else {
		entry = &model.ContextEntry{
			Key:       key,
			Value:     value,
			Metadata:  metadata,
			CreatedAt: nowTS,
			UpdatedAt: nowTS,
		}
		s.entries[key] = entry
	}
	if ttl > 0 {
		s.ttl[key] = nowTS.Add(ttl)
	} else {
		delete(s.ttl, key)
	}
	contextEntries.Set(float64(len(s.entries)))
	result := entry.Clone()
	s.mu.Unlock()

	if s.cache != nil {
		s.cache.Set(ctx, key, value)
	}
	if notify {
		s.publish(key, map[string]any{
			"operation": model.EventOpSet,
			"key":       key,
			"value":     json.RawMessage(value),
		})
	}
	contextOps.WithLabelValues("set", "success").Inc()
	return result, nil
}

// Get возвращает запись по ключу. Просроченная запись удаляется и
// трактуется как отсутствующая. useCache разрешает отдать значение
// из кэша (метаданные и времена при этом берутся из хранилища).
func (s *Store) Get(ctx context.Context, key string, useCache bool) (*model.ContextEntry, error) {
	s.mu.Lock()
	if s.expiredLocked(key) {
		s.removeLocked(key)
		s.mu.Unlock()
		if s.cache != nil {
			s.cache.Delete(ctx, key)
		}
		contextOps.WithLabelValues("get", "miss").Inc()
		return nil, fmt.Errorf("ключ контекста %q: %w", key, model.ErrNotFound)
	}
	entry, ok := s.entries[key]
	if !ok {
		s.mu.Unlock()
		contextOps.WithLabelValues("get", "miss").Inc()
		return nil, fmt.Errorf("ключ контекста %q: %w", key, model.ErrNotFound)
	}
	result := entry.Clone()
	s.mu.Unlock()

	if useCache && s.cache != nil {
		if cached, hit := s.cache.Get(ctx, key); hit {
			result.Value = cached
		} else {
			s.cache.Set(ctx, key, result.Value)
		}
	}
	contextOps.WithLabelValues("get", "success").Inc()
	return result, nil
}

// Delete удаляет ключ. Возвращает true, если ключ существовал и
// не был просрочен.
func (s *Store) Delete(ctx context.Context, key string, notify bool) bool {
	s.mu.Lock()
	expired := s.expiredLocked(key)
	entry, existed := s.entries[key]
	var oldValue model.RawValue
	if existed {
		oldValue = append(model.RawValue(nil), entry.Value...)
		s.removeLocked(key)
	}
	contextEntries.Set(float64(len(s.entries)))
	s.mu.Unlock()

	if !existed {
		contextOps.WithLabelValues("delete", "miss").Inc()
		return false
	}
	if s.cache != nil {
		s.cache.Delete(ctx, key)
	}
	if expired {
		contextOps.WithLabelValues("delete", "miss").Inc()
		return false
	}
	if notify {
		s.publish(key, map[string]any{
			"operation": model.EventOpDelete,
			"key":       key,
			"old_value": json.RawMessage(oldValue),
		})
	}
	contextOps.WithLabelValues("delete", "success").Inc()
	return true
}

// ListKeys возвращает отсортированный список живых ключей,
// опционально отфильтрованный по префиксу.
func (s *Store) ListKeys(prefix string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, len(s.entries))
	for key := range s.entries {
		if s.expiredLocked(key) {
			s.removeLocked(key)
			continue
		}
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	contextEntries.Set(float64(len(s.entries)))
	sort.Strings(keys)
	return keys
}

// ListEntries возвращает копии живых записей с подходящим префиксом
// ключа, отсортированные по ключу. limit <= 0 — без ограничения.
func (s *Store) ListEntries(prefix string, skip, limit int) []*model.ContextEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]*model.ContextEntry, 0, len(s.entries))
	for key, entry := range s.entries {
		if s.expiredLocked(key) {
			s.removeLocked(key)
			continue
		}
		if strings.HasPrefix(key, prefix) {
			result = append(result, entry.Clone())
		}
	}
	contextEntries.Set(float64(len(s.entries)))
	sort.Slice(result, func(i, j int) bool { return result[i].Key < result[j].Key })

	if skip >= len(result) {
		return []*model.ContextEntry{}
	}
	result = result[skip:]
	if limit > 0 && limit < len(result) {
		result = result[:limit]
	}
	return result
}

// CountEntries возвращает количество живых записей с подходящим
// префиксом ключа.
func (s *Store) CountEntries(prefix string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for key := range s.entries {
		if !s.expiredLocked(key) && strings.HasPrefix(key, prefix) {
			n++
		}
	}
	return n
}

// Count возвращает количество всех живых записей.
func (s *Store) Count() int {
	return s.CountEntries("")
}

// Details возвращает запись вместе с её сроком истечения (nil —
// бессрочная). Для просроченных и отсутствующих ключей — ErrNotFound.
func (s *Store) Details(key string) (*model.ContextEntry, *time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.expiredLocked(key) {
		s.removeLocked(key)
		return nil, nil, fmt.Errorf("ключ контекста %q: %w", key, model.ErrNotFound)
	}
	entry, ok := s.entries[key]
	if !ok {
		return nil, nil, fmt.Errorf("ключ контекста %q: %w", key, model.ErrNotFound)
	}
	var expires *time.Time
	if deadline, has := s.ttl[key]; has {
		d := deadline
		expires = &d
	}
	return entry.Clone(), expires, nil
}

// Bulk выполняет пакет операций set/delete. Каждая операция
// независима; failFast прерывает пакет на первой ошибке. Индивидуальные
// уведомления подавляются — вместо них одно агрегированное событие
// bulk_update, если хоть одна операция прошла.
func (s *Store) Bulk(ctx context.Context, ops []model.ContextOperation, failFast bool) *model.BulkResult {
	result := &model.BulkResult{}
	affected := make([]string, 0, len(ops))

	for _, op := range ops {
		var err error
		switch op.Operation {
		case model.OpSet:
			_, err = s.Set(ctx, op.Key, op.Value, op.TTL, op.Metadata, false)
		case model.OpDelete:
			if !s.Delete(ctx, op.Key, false) {
				err = fmt.Errorf("ключ контекста %q: %w", op.Key, model.ErrNotFound)
			}
		default:
			err = fmt.Errorf("неизвестная операция %q: %w", op.Operation, model.ErrValidation)
		}

		if err != nil {
			result.Failed++
			result.Errors = append(result.Errors, model.BulkError{
				Key:       op.Key,
				Operation: op.Operation,
				Error:     err.Error(),
			})
			if failFast {
				break
			}
			continue
		}
		result.Succeeded++
		affected = append(affected, op.Key)
	}

	// Агрегированное событие публикуется и для полностью
	// неуспешного пакета: подписчики видят итог каждой попытки
	s.publish("", map[string]any{
		"operation": model.EventOpBulkUpdate,
		"keys":      affected,
		"succeeded": result.Succeeded,
		"failed":    result.Failed,
	})
	return result
}

// removeExpired удаляет все просроченные записи, публикуя для каждой
// событие delete с признаком истечения срока. Возвращает количество
// удалённых ключей. Используется фоновой зачисткой.
func (s *Store) removeExpired(ctx context.Context) int {
	s.mu.Lock()
	removed := make([]string, 0)
	for key := range s.entries {
		if s.expiredLocked(key) {
			s.removeLocked(key)
			removed = append(removed, key)
		}
	}
	contextEntries.Set(float64(len(s.entries)))
	s.mu.Unlock()

	for _, key := range removed {
		if s.cache != nil {
			s.cache.Delete(ctx, key)
		}
		s.publish(key, map[string]any{
			"operation": model.EventOpDelete,
			"key":       key,
			"expired":   true,
		})
	}
	return len(removed)
}

// expiredLocked сообщает, просрочен ли ключ. Вызывается под мьютексом.
func (s *Store) expiredLocked(key string) bool {
	deadline, has := s.ttl[key]
	return has && !s.now().Before(deadline)
}

func (s *Store) removeLocked(key string) {
	delete(s.entries, key)
	delete(s.ttl, key)
}

func (s *Store) publish(key string, data map[string]any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(model.Event{
		Type:          model.EventContextChange,
		Source:        sourceName,
		Key:           key,
		Data:          data,
		Timestamp:     s.now().UTC(),
		CorrelationID: uuid.NewString(),
	})
}

func validateKey(key string) error {
	if key == "" {
		return fmt.Errorf("пустой ключ контекста: %w", model.ErrValidation)
	}
	if len(key) > 512 {
		return fmt.Errorf("ключ контекста длиннее 512 символов: %w", model.ErrValidation)
	}
	return nil
}
