package config

import (
	"log/slog"
	"strings"
	"testing"
	"time"
)

// setRequired задаёт обязательные переменные окружения.
func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("CS_DATA_DIR", "/data")
	t.Setenv("CS_CONTEXT_DIR", "/context")
	t.Setenv("CS_WAL_DIR", "/wal")
}

// TestLoad_Defaults проверяет значения по умолчанию при минимальной
// конфигурации.
func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("ожидалась успешная загрузка, получена ошибка: %v", err)
	}

	if cfg.Port != 8080 {
		t.Errorf("Port: ожидалось 8080, получено %d", cfg.Port)
	}
	if cfg.DataDir != "/data" {
		t.Errorf("DataDir: %s", cfg.DataDir)
	}
	if cfg.MaxFileSize != 1073741824 {
		t.Errorf("MaxFileSize: %d", cfg.MaxFileSize)
	}
	if cfg.SweepInterval != time.Minute {
		t.Errorf("SweepInterval: %v", cfg.SweepInterval)
	}
	if cfg.PersistInterval != time.Minute {
		t.Errorf("PersistInterval: %v", cfg.PersistInterval)
	}
	if cfg.ScanInterval != 0 {
		t.Errorf("ScanInterval: %v", cfg.ScanInterval)
	}
	if cfg.CacheTTL != 5*time.Minute {
		t.Errorf("CacheTTL: %v", cfg.CacheTTL)
	}
	if cfg.CacheMaxSize != 10000 {
		t.Errorf("CacheMaxSize: %d", cfg.CacheMaxSize)
	}
	if cfg.EventBuffer != 1024 {
		t.Errorf("EventBuffer: %d", cfg.EventBuffer)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("LogLevel: %v", cfg.LogLevel)
	}
	if cfg.LogFormat != "json" {
		t.Errorf("LogFormat: %s", cfg.LogFormat)
	}
	if cfg.ShutdownTimeout != 5*time.Second {
		t.Errorf("ShutdownTimeout: %v", cfg.ShutdownTimeout)
	}
	if len(cfg.AllowedExtensions) == 0 {
		t.Error("список расширений по умолчанию пуст")
	}
}

// TestLoad_MissingRequired проверяет ошибку при незаданной
// обязательной переменной.
func TestLoad_MissingRequired(t *testing.T) {
	t.Setenv("CS_DATA_DIR", "/data")
	t.Setenv("CS_CONTEXT_DIR", "/context")
	t.Setenv("CS_WAL_DIR", "")

	if _, err := Load(); err == nil {
		t.Fatal("ожидалась ошибка при незаданном CS_WAL_DIR")
	}
}

// TestLoad_InvalidPort проверяет валидацию диапазона порта.
func TestLoad_InvalidPort(t *testing.T) {
	setRequired(t)
	t.Setenv("CS_PORT", "99999")

	if _, err := Load(); err == nil {
		t.Fatal("ожидалась ошибка для порта вне диапазона")
	}
}

// TestLoad_InvalidDuration проверяет отклонение некорректной
// длительности.
func TestLoad_InvalidDuration(t *testing.T) {
	setRequired(t)
	t.Setenv("CS_SWEEP_INTERVAL", "sometimes")

	if _, err := Load(); err == nil {
		t.Fatal("ожидалась ошибка для некорректного интервала")
	}
}

// TestLoad_NegativeInterval проверяет отклонение неположительного
// интервала зачистки.
func TestLoad_NegativeInterval(t *testing.T) {
	setRequired(t)
	t.Setenv("CS_SWEEP_INTERVAL", "-1m")

	if _, err := Load(); err == nil {
		t.Fatal("ожидалась ошибка для отрицательного интервала")
	}
}

// TestLoad_Extensions проверяет разбор списка расширений.
func TestLoad_Extensions(t *testing.T) {
	setRequired(t)
	t.Setenv("CS_ALLOWED_EXTENSIONS", ".PDF, txt ,,md")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"pdf", "txt", "md"}
	if len(cfg.AllowedExtensions) != len(want) {
		t.Fatalf("ожидалось %d расширений, получено %v", len(want), cfg.AllowedExtensions)
	}
	for i, ext := range want {
		if cfg.AllowedExtensions[i] != ext {
			t.Errorf("расширение %d: ожидалось %s, получено %s", i, ext, cfg.AllowedExtensions[i])
		}
	}
}

// TestLoad_ExtensionsWildcard проверяет снятие ограничения через "*".
func TestLoad_ExtensionsWildcard(t *testing.T) {
	setRequired(t)
	t.Setenv("CS_ALLOWED_EXTENSIONS", "*")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.AllowedExtensions) != 0 {
		t.Errorf("«*» должна снимать ограничение: %v", cfg.AllowedExtensions)
	}
}

// TestLoad_TLSPair проверяет, что сертификат и ключ задаются только
// вместе.
func TestLoad_TLSPair(t *testing.T) {
	setRequired(t)
	t.Setenv("CS_TLS_CERT", "/certs/tls.crt")

	_, err := Load()
	if err == nil {
		t.Fatal("ожидалась ошибка для сертификата без ключа")
	}
	if !strings.Contains(err.Error(), "CS_TLS_KEY") {
		t.Errorf("ошибка не упоминает ключ: %v", err)
	}

	t.Setenv("CS_TLS_KEY", "/certs/tls.key")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("пара сертификат+ключ должна приниматься: %v", err)
	}
	if cfg.TLSCert == "" || cfg.TLSKey == "" {
		t.Error("TLS параметры потеряны")
	}
}

// TestLoad_LogLevel проверяет разбор уровней логирования.
func TestLoad_LogLevel(t *testing.T) {
	setRequired(t)

	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
	}
	for raw, want := range cases {
		t.Setenv("CS_LOG_LEVEL", raw)
		cfg, err := Load()
		if err != nil {
			t.Fatalf("уровень %q: %v", raw, err)
		}
		if cfg.LogLevel != want {
			t.Errorf("уровень %q: ожидалось %v, получено %v", raw, want, cfg.LogLevel)
		}
	}

	t.Setenv("CS_LOG_LEVEL", "verbose")
	if _, err := Load(); err == nil {
		t.Error("ожидалась ошибка для недопустимого уровня")
	}
}
