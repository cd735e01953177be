// Пакет cache — двухуровневый кэш значений контекстного хранилища:
// опциональный удалённый уровень (Redis) и локальный in-memory
// уровень с вытеснением самых старых записей. Кэш — оптимизация
// чтения: любая ошибка удалённого уровня трактуется как промах,
// источник истины — само хранилище.
package cache

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"

	"github.com/arturkryukov/contextstore/internal/domain/model"
)

// remoteKeyPrefix — префикс ключей в Redis, чтобы не пересекаться
// с чужими данными в общей инсталляции.
const remoteKeyPrefix = "context:"

var (
	cacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cs_cache_hits_total",
		Help: "Попадания в кэш контекста по уровням.",
	}, []string{"tier"})

	cacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cs_cache_misses_total",
		Help: "Промахи кэша контекста.",
	})

	cacheEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cs_cache_evictions_total",
		Help: "Количество вытесненных из локального кэша записей.",
	})

	cacheSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cs_cache_local_entries",
		Help: "Текущее количество записей в локальном кэше.",
	})
)

type localEntry struct {
	value      model.RawValue
	insertedAt time.Time
	expiresAt  time.Time
}

// Cache — двухуровневый кэш. Нулевой указатель на redis.Client
// отключает удалённый уровень.
type Cache struct {
	mu      sync.Mutex
	local   map[string]localEntry
	maxSize int
	ttl     time.Duration

	remote *redis.Client
	logger *slog.Logger
	now    func() time.Time
}

// New создаёт кэш. remote может быть nil — тогда работает только
// локальный уровень.
func New(remote *redis.Client, maxSize int, ttl time.Duration, logger *slog.Logger) *Cache {
	return &Cache{
		local:   make(map[string]localEntry),
		maxSize: maxSize,
		ttl:     ttl,
		remote:  remote,
		logger:  logger.With(slog.String("component", "context_cache")),
		now:     time.Now,
	}
}

// Get возвращает закэшированное значение ключа.
// Порядок: удалённый уровень, затем локальный.
func (c *Cache) Get(ctx context.Context, key string) (model.RawValue, bool) {
	if c.remote != nil {
		val, err := c.remote.Get(ctx, remoteKeyPrefix+key).Bytes()
		switch {
		case err == nil:
			cacheHits.WithLabelValues("remote").Inc()
			return model.RawValue(val), true
		case err != redis.Nil:
			c.logger.Debug("ошибка удалённого кэша, трактуется как промах",
				slog.String("key", key), slog.String("error", err.Error()))
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.local[key]
	if !ok {
		cacheMisses.Inc()
		return nil, false
	}
	if !entry.expiresAt.IsZero() && c.now().After(entry.expiresAt) {
		delete(c.local, key)
		cacheSize.Set(float64(len(c.local)))
		cacheMisses.Inc()
		return nil, false
	}
	cacheHits.WithLabelValues("local").Inc()
	return entry.value, true
}

// Set записывает значение в оба уровня.
func (c *Cache) Set(ctx context.Context, key string, value model.RawValue) {
	if c.remote != nil {
		if err := c.remote.SetEx(ctx, remoteKeyPrefix+key, []byte(value), c.ttl).Err(); err != nil {
			c.logger.Debug("ошибка записи в удалённый кэш",
				slog.String("key", key), slog.String("error", err.Error()))
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.local[key]; !exists && len(c.local) >= c.maxSize {
		c.evictOldestLocked()
	}
	c.local[key] = localEntry{
		value:      value,
		insertedAt: c.now(),
		expiresAt:  c.now().Add(c.ttl),
	}
	cacheSize.Set(float64(len(c.local)))
}

// Delete инвалидирует ключ на обоих уровнях.
func (c *Cache) Delete(ctx context.Context, key string) {
	if c.remote != nil {
		if err := c.remote.Del(ctx, remoteKeyPrefix+key).Err(); err != nil {
			c.logger.Debug("ошибка инвалидации в удалённом кэше",
				slog.String("key", key), slog.String("error", err.Error()))
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.local, key)
	cacheSize.Set(float64(len(c.local)))
}

// Len возвращает количество записей локального уровня.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.local)
}

// evictOldestLocked вытесняет пакет самых старых по времени вставки
// записей — 10% ёмкости, но не меньше одной.
func (c *Cache) evictOldestLocked() {
	batch := c.maxSize / 10
	if batch < 1 {
		batch = 1
	}

	type aged struct {
		key        string
		insertedAt time.Time
	}
	entries := make([]aged, 0, len(c.local))
	for k, e := range c.local {
		entries = append(entries, aged{key: k, insertedAt: e.insertedAt})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].insertedAt.Before(entries[j].insertedAt)
	})
	if batch > len(entries) {
		batch = len(entries)
	}
	for _, e := range entries[:batch] {
		delete(c.local, e.key)
	}
	cacheEvictions.Add(float64(batch))
	c.logger.Debug("вытеснение из локального кэша",
		slog.Int("evicted", batch), slog.Int("remaining", len(c.local)))
}
