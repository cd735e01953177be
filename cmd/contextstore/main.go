// Точка входа contextstore — сервиса версионируемого файлового
// хранилища и эфемерного TTL-хранилища контекста.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/redis/go-redis/v9"

	"github.com/arturkryukov/contextstore/internal/api/handlers"
	"github.com/arturkryukov/contextstore/internal/cache"
	"github.com/arturkryukov/contextstore/internal/config"
	"github.com/arturkryukov/contextstore/internal/ctxstore"
	"github.com/arturkryukov/contextstore/internal/event"
	"github.com/arturkryukov/contextstore/internal/server"
	"github.com/arturkryukov/contextstore/internal/service"
	"github.com/arturkryukov/contextstore/internal/storage/blob"
	"github.com/arturkryukov/contextstore/internal/storage/checksum"
	"github.com/arturkryukov/contextstore/internal/storage/meta"
	"github.com/arturkryukov/contextstore/internal/storage/wal"
)

func main() {
	// Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка конфигурации: %v\n", err)
		os.Exit(1)
	}

	// Настройка логгера
	logger := config.SetupLogger(cfg)
	logger.Info("contextstore запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("data_dir", cfg.DataDir),
		slog.String("context_dir", cfg.ContextDir),
	)

	// --- Инициализация компонентов ---

	// 1. WAL-движок
	walEngine, err := wal.New(cfg.WALDir, logger)
	if err != nil {
		logger.Error("Ошибка инициализации WAL", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Blob-хранилище и хранилище метаданных
	blobs, err := blob.New(cfg.DataDir)
	if err != nil {
		logger.Error("Ошибка инициализации blob-хранилища", slog.String("error", err.Error()))
		os.Exit(1)
	}
	metaStore, err := meta.New(cfg.DataDir, logger)
	if err != nil {
		logger.Error("Ошибка инициализации хранилища метаданных", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 3. Индекс дедупликации
	checksumIdx := checksum.New(metaStore, cfg.ChecksumCacheSize, logger)

	// 4. Шина событий
	bus := event.New(cfg.EventBuffer, cfg.SubscriberBuffer, logger)

	// 5. Кэш контекста: опциональный Redis плюс локальный уровень
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		opts, perr := redis.ParseURL(cfg.RedisURL)
		if perr != nil {
			logger.Error("Некорректный CS_REDIS_URL", slog.String("error", perr.Error()))
			os.Exit(1)
		}
		redisClient = redis.NewClient(opts)
		if pingErr := redisClient.Ping(context.Background()).Err(); pingErr != nil {
			// Redis — оптимизация: недоступность не блокирует запуск
			logger.Warn("Redis недоступен, работает только локальный кэш",
				slog.String("error", pingErr.Error()),
			)
		} else {
			logger.Info("Удалённый кэш Redis подключён", slog.String("url", cfg.RedisURL))
		}
	}
	contextCache := cache.New(redisClient, cfg.CacheMaxSize, cfg.CacheTTL, logger)

	// 6. Хранилище контекста и восстановление снапшота
	contextStore := ctxstore.New(contextCache, bus, logger)
	persister := ctxstore.NewPersister(contextStore, cfg.ContextDir, cfg.PersistInterval, logger)
	persister.Restore()

	// 7. Файловый движок и скан
	fileSvc := service.NewFileService(
		blobs, metaStore, walEngine, checksumIdx, bus,
		cfg.MaxFileSize, cfg.AllowedExtensions, logger,
	)
	scanSvc := service.NewScanService(blobs, metaStore, bus, cfg.ScanInterval, logger)

	// WAL recovery: прерванные транзакции разбираются до приёма
	// трафика — недописанные версии откатываются, прерванные
	// удаления доводятся до конца, tmp/ подчищается
	if err := fileSvc.Recover(context.Background()); err != nil {
		logger.Error("Ошибка восстановления после рестарта", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 8. Фоновые процессы
	ctx := context.Background()
	bus.Start(ctx)
	sweeper := ctxstore.NewSweeper(contextStore, cfg.SweepInterval, logger)
	sweeper.Start(ctx)
	persister.Start(ctx)
	scanSvc.Start(ctx)

	// 9. Handlers
	filesHandler := handlers.NewFilesHandler(fileSvc, scanSvc, logger)
	contextHandler := handlers.NewContextHandler(contextStore, logger)
	eventsHandler := handlers.NewEventsHandler(bus, logger)
	systemHandler := handlers.NewSystemHandler(fileSvc, contextStore, logger)
	healthHandler := handlers.NewHealthHandler(cfg.DataDir, cfg.WALDir, cfg.ContextDir)

	apiHandler := handlers.NewAPIHandler(
		filesHandler,
		contextHandler,
		eventsHandler,
		systemHandler,
		healthHandler,
	)

	// 10. Создание и запуск HTTP-сервера
	srv := server.New(cfg, logger, apiHandler)

	if err := srv.Run(); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// --- Graceful shutdown фоновых процессов ---
	logger.Info("Остановка фоновых процессов...")

	scanSvc.Stop()
	sweeper.Stop()
	persister.Stop() // пишет финальный снапшот
	bus.Stop()
	if redisClient != nil {
		_ = redisClient.Close()
	}

	logger.Info("contextstore остановлен")
}
