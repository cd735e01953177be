// persist.go — периодическое сохранение снапшота хранилища контекста
// на диск и восстановление при старте.
//
// Снапшот — единственная форма долговечности эфемерного хранилища:
// изменения между снапшотами при падении процесса теряются. Запись
// атомарна (временный файл + fsync + rename), повреждённый или
// отсутствующий снапшот при старте — не ошибка.
package ctxstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/arturkryukov/contextstore/internal/domain/model"
)

// snapshotFileName — имя файла снапшота в каталоге контекста.
const snapshotFileName = "context_snapshot.json"

var (
	snapshotWritesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cs_snapshot_writes_total",
		Help: "Количество записей снапшота контекста по результату",
	}, []string{"result"})

	snapshotEntriesSaved = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cs_snapshot_entries",
		Help: "Количество записей в последнем сохранённом снапшоте",
	})
)

// snapshot — дисковый формат снапшота.
type snapshot struct {
	Entries   map[string]*model.ContextEntry `json:"context_store"`
	TTL       map[string]time.Time           `json:"ttl_store"`
	Timestamp time.Time                      `json:"timestamp"`
}

// Snapshot возвращает согласованную копию содержимого хранилища:
// живые записи и их сроки истечения, снятые под одним мьютексом.
func (s *Store) Snapshot() (map[string]*model.ContextEntry, map[string]time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := make(map[string]*model.ContextEntry, len(s.entries))
	ttl := make(map[string]time.Time, len(s.ttl))
	for key, entry := range s.entries {
		if s.expiredLocked(key) {
			continue
		}
		entries[key] = entry.Clone()
		if deadline, has := s.ttl[key]; has {
			ttl[key] = deadline
		}
	}
	return entries, ttl
}

// LoadSnapshot замещает содержимое хранилища данными снапшота.
// Записи с истёкшим на момент загрузки сроком отбрасываются.
func (s *Store) LoadSnapshot(entries map[string]*model.ContextEntry, ttl map[string]time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.entries = make(map[string]*model.ContextEntry, len(entries))
	s.ttl = make(map[string]time.Time, len(ttl))
	for key, entry := range entries {
		if deadline, has := ttl[key]; has {
			if !now.Before(deadline) {
				continue
			}
			s.ttl[key] = deadline
		}
		s.entries[key] = entry.Clone()
	}
	contextEntries.Set(float64(len(s.entries)))
	return len(s.entries)
}

// Persister — сервис периодического сохранения снапшота.
type Persister struct {
	store    *Store
	path     string
	interval time.Duration
	logger   *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewPersister создаёт сервис сохранения снапшотов в каталоге dir.
func NewPersister(store *Store, dir string, interval time.Duration, logger *slog.Logger) *Persister {
	return &Persister{
		store:    store,
		path:     filepath.Join(dir, snapshotFileName),
		interval: interval,
		logger:   logger.With(slog.String("component", "persister")),
	}
}

// Restore загружает снапшот с диска в хранилище. Отсутствие файла —
// штатный первый запуск; повреждённый снапшот логируется и
// игнорируется, хранилище стартует пустым.
func (p *Persister) Restore() {
	data, err := os.ReadFile(p.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			p.logger.Info("снапшот не найден, хранилище стартует пустым",
				slog.String("path", p.path))
			return
		}
		p.logger.Error("ошибка чтения снапшота",
			slog.String("path", p.path), slog.String("error", err.Error()))
		return
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		p.logger.Error("снапшот повреждён и проигнорирован",
			slog.String("path", p.path), slog.String("error", err.Error()))
		return
	}

	loaded := p.store.LoadSnapshot(snap.Entries, snap.TTL)
	p.logger.Info("снапшот восстановлен",
		slog.Int("entries", loaded),
		slog.Time("snapshot_time", snap.Timestamp),
	)
}

// Start запускает периодическое сохранение снапшота.
func (p *Persister) Start(ctx context.Context) {
	pCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})

	go p.run(pCtx)

	p.logger.Info("периодическое сохранение снапшота запущено",
		slog.String("interval", p.interval.String()),
		slog.String("path", p.path),
	)
}

// Stop останавливает фоновый процесс и пишет финальный снапшот.
func (p *Persister) Stop() {
	if p.cancel != nil {
		p.cancel()
		<-p.done
	}
	if err := p.RunOnce(); err != nil {
		p.logger.Error("ошибка финального снапшота",
			slog.String("error", err.Error()))
	}
	p.logger.Info("сохранение снапшотов остановлено")
}

func (p *Persister) run(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.RunOnce(); err != nil {
				p.logger.Error("ошибка сохранения снапшота",
					slog.String("error", err.Error()))
			}
		}
	}
}

// RunOnce пишет один снапшот атомарно: временный файл + fsync + rename.
func (p *Persister) RunOnce() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	entries, ttl := p.store.Snapshot()
	snap := snapshot{
		Entries:   entries,
		TTL:       ttl,
		Timestamp: time.Now().UTC(),
	}

	// Компактная сериализация: значения записей — непрозрачные блобы,
	// отступы исказили бы их байты при восстановлении.
	data, err := json.Marshal(snap)
	if err != nil {
		snapshotWritesTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("ошибка сериализации снапшота: %w", err)
	}

	tmpPath := p.path + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		snapshotWritesTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("ошибка создания временного файла снапшота: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		snapshotWritesTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("ошибка записи снапшота: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		snapshotWritesTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("ошибка fsync снапшота: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		snapshotWritesTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("ошибка закрытия файла снапшота: %w", err)
	}
	if err := os.Rename(tmpPath, p.path); err != nil {
		os.Remove(tmpPath)
		snapshotWritesTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("ошибка переименования снапшота: %w", err)
	}

	snapshotWritesTotal.WithLabelValues("success").Inc()
	snapshotEntriesSaved.Set(float64(len(entries)))

	p.logger.Debug("снапшот сохранён",
		slog.Int("entries", len(entries)),
		slog.Int("bytes", len(data)),
	)
	return nil
}
