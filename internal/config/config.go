// Пакет config — загрузка и валидация конфигурации contextstore
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// defaultAllowedExtensions — расширения, принимаемые по умолчанию.
const defaultAllowedExtensions = "txt,pdf,png,jpg,jpeg,gif,csv,json,yaml,yml," +
	"xlsx,xls,xlsm,xlsb,doc,docx,ppt,pptx,zip,rar,py,js,html,css,md"

// Config содержит все параметры конфигурации contextstore.
type Config struct {
	// Порт HTTP-сервера
	Port int
	// Путь к каталогу файлового хранилища
	DataDir string
	// Путь к каталогу снапшотов контекстного хранилища
	ContextDir string
	// Путь к каталогу WAL
	WALDir string
	// Максимальный размер файла в байтах
	MaxFileSize int64
	// Разрешённые расширения файлов (нижний регистр, без точки).
	// Пустой список — любые расширения.
	AllowedExtensions []string
	// Интервал фоновой зачистки просроченных записей контекста
	SweepInterval time.Duration
	// Интервал сохранения снапшота контекста
	PersistInterval time.Duration
	// Интервал периодического скана каталога данных (0 — отключён)
	ScanInterval time.Duration
	// TTL записей кэша контекста
	CacheTTL time.Duration
	// Максимальный размер локального кэша контекста (записей)
	CacheMaxSize int
	// Размер LRU-кэша индекса дедупликации
	ChecksumCacheSize int
	// URL Redis для удалённого уровня кэша (пусто — отключён)
	RedisURL string
	// Ёмкость общей очереди шины событий
	EventBuffer int
	// Ёмкость буфера каждого подписчика
	SubscriberBuffer int
	// Путь к TLS сертификату (опционально)
	TLSCert string
	// Путь к TLS приватному ключу (опционально)
	TLSKey string
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string
	// Таймаут graceful shutdown HTTP-сервера.
	// Должен быть меньше K8s terminationGracePeriodSeconds.
	ShutdownTimeout time.Duration
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
func Load() (*Config, error) {
	cfg := &Config{}

	// CS_PORT — порт HTTP-сервера (по умолчанию 8080)
	port, err := getEnvInt("CS_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("CS_PORT: %w", err)
	}
	if port < 1 || port > 65535 {
		return nil, fmt.Errorf("CS_PORT: значение %d вне допустимого диапазона 1-65535", port)
	}
	cfg.Port = port

	// CS_DATA_DIR — обязательный
	cfg.DataDir, err = getEnvRequired("CS_DATA_DIR")
	if err != nil {
		return nil, err
	}

	// CS_CONTEXT_DIR — обязательный
	cfg.ContextDir, err = getEnvRequired("CS_CONTEXT_DIR")
	if err != nil {
		return nil, err
	}

	// CS_WAL_DIR — обязательный
	cfg.WALDir, err = getEnvRequired("CS_WAL_DIR")
	if err != nil {
		return nil, err
	}

	// CS_MAX_FILE_SIZE — максимальный размер файла (по умолчанию 1 GB)
	maxFileSize, err := getEnvInt64("CS_MAX_FILE_SIZE", 1073741824)
	if err != nil {
		return nil, fmt.Errorf("CS_MAX_FILE_SIZE: %w", err)
	}
	if maxFileSize <= 0 {
		return nil, fmt.Errorf("CS_MAX_FILE_SIZE: значение должно быть положительным")
	}
	cfg.MaxFileSize = maxFileSize

	// CS_ALLOWED_EXTENSIONS — список через запятую; "*" снимает ограничение
	rawExt := getEnvDefault("CS_ALLOWED_EXTENSIONS", defaultAllowedExtensions)
	if rawExt != "*" {
		for _, ext := range strings.Split(rawExt, ",") {
			ext = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(ext, ".")))
			if ext != "" {
				cfg.AllowedExtensions = append(cfg.AllowedExtensions, ext)
			}
		}
	}

	// CS_SWEEP_INTERVAL — интервал зачистки просроченных записей (по умолчанию 1m)
	cfg.SweepInterval, err = getEnvDuration("CS_SWEEP_INTERVAL", time.Minute)
	if err != nil {
		return nil, fmt.Errorf("CS_SWEEP_INTERVAL: %w", err)
	}
	if cfg.SweepInterval <= 0 {
		return nil, fmt.Errorf("CS_SWEEP_INTERVAL: значение должно быть положительным")
	}

	// CS_PERSIST_INTERVAL — интервал сохранения снапшота (по умолчанию 1m)
	cfg.PersistInterval, err = getEnvDuration("CS_PERSIST_INTERVAL", time.Minute)
	if err != nil {
		return nil, fmt.Errorf("CS_PERSIST_INTERVAL: %w", err)
	}
	if cfg.PersistInterval <= 0 {
		return nil, fmt.Errorf("CS_PERSIST_INTERVAL: значение должно быть положительным")
	}

	// CS_SCAN_INTERVAL — интервал периодического скана (по умолчанию 0, отключён)
	cfg.ScanInterval, err = getEnvDuration("CS_SCAN_INTERVAL", 0)
	if err != nil {
		return nil, fmt.Errorf("CS_SCAN_INTERVAL: %w", err)
	}

	// CS_CACHE_TTL — TTL записей кэша (по умолчанию 5m)
	cfg.CacheTTL, err = getEnvDuration("CS_CACHE_TTL", 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("CS_CACHE_TTL: %w", err)
	}

	// CS_CACHE_MAX_SIZE — ёмкость локального кэша (по умолчанию 10000)
	cfg.CacheMaxSize, err = getEnvInt("CS_CACHE_MAX_SIZE", 10000)
	if err != nil {
		return nil, fmt.Errorf("CS_CACHE_MAX_SIZE: %w", err)
	}
	if cfg.CacheMaxSize < 1 {
		return nil, fmt.Errorf("CS_CACHE_MAX_SIZE: значение должно быть положительным")
	}

	// CS_CHECKSUM_CACHE_SIZE — ёмкость кэша индекса дедупликации (по умолчанию 8192)
	cfg.ChecksumCacheSize, err = getEnvInt("CS_CHECKSUM_CACHE_SIZE", 8192)
	if err != nil {
		return nil, fmt.Errorf("CS_CHECKSUM_CACHE_SIZE: %w", err)
	}
	if cfg.ChecksumCacheSize < 1 {
		return nil, fmt.Errorf("CS_CHECKSUM_CACHE_SIZE: значение должно быть положительным")
	}

	// CS_REDIS_URL — удалённый уровень кэша (опционально)
	cfg.RedisURL = getEnvDefault("CS_REDIS_URL", "")

	// CS_EVENT_BUFFER — очередь шины событий (по умолчанию 1024)
	cfg.EventBuffer, err = getEnvInt("CS_EVENT_BUFFER", 1024)
	if err != nil {
		return nil, fmt.Errorf("CS_EVENT_BUFFER: %w", err)
	}
	if cfg.EventBuffer < 1 {
		return nil, fmt.Errorf("CS_EVENT_BUFFER: значение должно быть положительным")
	}

	// CS_SUBSCRIBER_BUFFER — буфер подписчика (по умолчанию 64)
	cfg.SubscriberBuffer, err = getEnvInt("CS_SUBSCRIBER_BUFFER", 64)
	if err != nil {
		return nil, fmt.Errorf("CS_SUBSCRIBER_BUFFER: %w", err)
	}
	if cfg.SubscriberBuffer < 1 {
		return nil, fmt.Errorf("CS_SUBSCRIBER_BUFFER: значение должно быть положительным")
	}

	// CS_TLS_CERT / CS_TLS_KEY — опциональны, но задаются парой
	cfg.TLSCert = getEnvDefault("CS_TLS_CERT", "")
	cfg.TLSKey = getEnvDefault("CS_TLS_KEY", "")
	if (cfg.TLSCert == "") != (cfg.TLSKey == "") {
		return nil, fmt.Errorf("CS_TLS_CERT и CS_TLS_KEY задаются вместе")
	}

	// CS_LOG_LEVEL — уровень логирования (по умолчанию info)
	cfg.LogLevel, err = parseLogLevel(getEnvDefault("CS_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("CS_LOG_LEVEL: %w", err)
	}

	// CS_LOG_FORMAT — формат логов (по умолчанию json)
	cfg.LogFormat = getEnvDefault("CS_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("CS_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	// CS_SHUTDOWN_TIMEOUT — таймаут graceful shutdown (по умолчанию 5s)
	cfg.ShutdownTimeout, err = getEnvDuration("CS_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("CS_SHUTDOWN_TIMEOUT: %w", err)
	}

	return cfg, nil
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvInt64 возвращает int64 значение переменной окружения или значение по умолчанию.
func getEnvInt64(key string, defaultVal int64) (int64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1m, 1h)", val)
	}
	return d, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}
