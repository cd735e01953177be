// sweep.go — фоновая зачистка просроченных записей контекста.
//
// Ленивая чистка при чтении убирает только те ключи, к которым
// обращаются; зачистка гарантирует, что брошенные просроченные записи
// не накапливаются. Запускается как горутина с периодическим тикером
// (CS_SWEEP_INTERVAL).
package ctxstore

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus метрики зачистки
var (
	sweepRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cs_sweep_runs_total",
		Help: "Общее количество запусков зачистки просроченных записей",
	})

	sweepRemovedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cs_sweep_removed_total",
		Help: "Общее количество удалённых зачисткой записей",
	})

	sweepDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "cs_sweep_duration_seconds",
		Help:    "Длительность одного прохода зачистки в секундах",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	})
)

// SweepResult — результат одного прохода зачистки.
type SweepResult struct {
	// RemovedCount — количество удалённых просроченных записей
	RemovedCount int
	// Duration — длительность прохода
	Duration time.Duration
}

// Sweeper — сервис фоновой зачистки просроченных записей.
type Sweeper struct {
	store    *Store
	interval time.Duration
	logger   *slog.Logger

	mu     sync.Mutex // защита от параллельного запуска RunOnce
	cancel context.CancelFunc
}

// NewSweeper создаёт сервис зачистки.
func NewSweeper(store *Store, interval time.Duration, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		store:    store,
		interval: interval,
		logger:   logger.With(slog.String("component", "sweeper")),
	}
}

// Start запускает фоновую горутину зачистки с периодическим тикером.
// Вызывается один раз при старте приложения.
func (sw *Sweeper) Start(ctx context.Context) {
	swCtx, cancel := context.WithCancel(ctx)
	sw.cancel = cancel

	go sw.run(swCtx)

	sw.logger.Info("зачистка просроченных записей запущена",
		slog.String("interval", sw.interval.String()),
	)
}

// Stop останавливает фоновый процесс зачистки.
func (sw *Sweeper) Stop() {
	if sw.cancel != nil {
		sw.cancel()
	}
	sw.logger.Info("зачистка остановлена")
}

// run — основной цикл фоновой горутины.
func (sw *Sweeper) run(ctx context.Context) {
	ticker := time.NewTicker(sw.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sw.RunOnce(ctx)
		}
	}
}

// RunOnce выполняет один проход зачистки: удаляет все просроченные
// записи с публикацией delete-событий.
// Потокобезопасен: mutex защищает от параллельного запуска.
func (sw *Sweeper) RunOnce(ctx context.Context) *SweepResult {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	start := time.Now()
	result := &SweepResult{}

	// Для подписчиков истечение TTL выглядит как delete-событие
	// с признаком expired.
	result.RemovedCount = sw.store.removeExpired(ctx)

	result.Duration = time.Since(start)

	sweepRunsTotal.Inc()
	sweepRemovedTotal.Add(float64(result.RemovedCount))
	sweepDurationSeconds.Observe(result.Duration.Seconds())

	if result.RemovedCount > 0 {
		sw.logger.Info("зачистка завершена",
			slog.Int("removed", result.RemovedCount),
			slog.Duration("duration", result.Duration),
		)
	} else {
		sw.logger.Debug("зачистка завершена, просроченных записей нет",
			slog.Duration("duration", result.Duration),
		)
	}

	return result
}
