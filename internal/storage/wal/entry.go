// Пакет wal — файловый журнал незавершённых многошаговых операций
// файлового движка. Каждая транзакция — отдельный файл
// {tx_id}.wal.json в CS_WAL_DIR. Перед операцией создаётся запись
// pending, после — committed или rolled_back. При старте pending
// записи откатываются, а их артефакты (temp файлы) зачищаются.
package wal

import "time"

// OperationType — тип журналируемой операции.
type OperationType string

const (
	// OpFileCreate — загрузка первой версии файла
	OpFileCreate OperationType = "file_create"
	// OpFileVersion — загрузка новой версии существующего файла
	OpFileVersion OperationType = "file_version"
	// OpFilePurge — физическое удаление файла со всеми версиями
	OpFilePurge OperationType = "file_purge"
)

// TxStatus — статус транзакции.
type TxStatus string

const (
	// StatusPending — операция в процессе
	StatusPending TxStatus = "pending"
	// StatusCommitted — операция успешно завершена
	StatusCommitted TxStatus = "committed"
	// StatusRolledBack — операция отменена
	StatusRolledBack TxStatus = "rolled_back"
)

// Entry — запись журнала.
type Entry struct {
	// TransactionID — уникальный идентификатор транзакции (UUID v4)
	TransactionID string `json:"transaction_id"`

	// Operation — тип операции
	Operation OperationType `json:"operation"`

	// Status — текущий статус
	Status TxStatus `json:"status"`

	// FileID — идентичность файла, над которой идёт операция
	FileID string `json:"file_id"`

	// LogicalPath — логический путь (для диагностики при восстановлении)
	LogicalPath string `json:"logical_path,omitempty"`

	// Version — номер версии, над которой идёт операция. Для purge —
	// текущая версия на момент удаления. Восстановление использует его,
	// чтобы найти незавершённый blob версии.
	Version int `json:"version,omitempty"`

	// StartedAt — время начала (UTC)
	StartedAt time.Time `json:"started_at"`

	// CompletedAt — время завершения. nil для pending.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// fileName возвращает имя файла журнала для транзакции.
func fileName(txID string) string {
	return txID + ".wal.json"
}
