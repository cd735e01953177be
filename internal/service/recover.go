package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/arturkryukov/contextstore/internal/domain/model"
	"github.com/arturkryukov/contextstore/internal/storage/wal"
)

// Recover приводит хранилище в согласованное состояние после рестарта.
//
// Для каждой pending WAL-транзакции:
//   - create/version: недописанная версия удаляется, текущий blob
//     пересобирается из последней зафиксированной версии; если запись
//     метаданных успела обновиться до версии транзакции, операция
//     доводится до Commit
//   - purge: удаление доводится до конца и фиксируется
//
// В завершение подчищается tmp/ — временные файлы прерванных загрузок
// не должны дожидаться планового скана.
func (s *FileService) Recover(ctx context.Context) error {
	pending, err := s.walEng.RecoverPending()
	if err != nil {
		return fmt.Errorf("ошибка чтения pending WAL-транзакций: %w", err)
	}
	if len(pending) > 0 {
		s.logger.Warn("обнаружены незавершённые WAL-транзакции",
			slog.Int("count", len(pending)),
		)
	}

	for _, entry := range pending {
		var rerr error
		switch entry.Operation {
		case wal.OpFileCreate, wal.OpFileVersion:
			rerr = s.recoverWrite(entry)
		case wal.OpFilePurge:
			rerr = s.recoverPurge(entry)
		default:
			s.logger.Error("неизвестная операция в WAL, транзакция откатывается",
				slog.String("tx_id", entry.TransactionID),
				slog.String("operation", string(entry.Operation)),
			)
			rerr = s.walEng.Rollback(entry.TransactionID)
		}
		if rerr != nil {
			return fmt.Errorf("ошибка восстановления транзакции %s: %w", entry.TransactionID, rerr)
		}
	}

	removed, errs := s.blobs.CleanupTemp(0)
	if removed > 0 || errs > 0 {
		s.logger.Info("временные файлы прерванных загрузок удалены",
			slog.Int("removed", removed),
			slog.Int("errors", errs),
		)
	}
	return nil
}

// recoverWrite разбирает прерванную загрузку версии.
func (s *FileService) recoverWrite(entry *wal.Entry) error {
	current, err := s.meta.ReadCurrent(entry.FileID)
	if err != nil && !errors.Is(err, model.ErrNotFound) {
		return fmt.Errorf("ошибка чтения текущей записи %s: %w", entry.FileID, err)
	}

	// Запись метаданных обновлена последней, её версия — граница
	// фиксации: дошла до версии транзакции — все шаги выполнены,
	// не дошла — версия транзакции считается недописанной.
	if current != nil && current.Version >= entry.Version {
		s.logger.Info("транзакция завершена до рестарта, фиксируется",
			slog.String("tx_id", entry.TransactionID),
			slog.String("file_id", entry.FileID),
			slog.Int("version", entry.Version),
		)
		return s.walEng.Commit(entry.TransactionID)
	}

	if err := s.blobs.Remove(s.blobs.VersionPath(entry.FileID, entry.Version)); err != nil {
		return fmt.Errorf("ошибка удаления недописанной версии: %w", err)
	}
	if err := s.meta.DeleteVersion(entry.FileID, entry.Version); err != nil {
		return fmt.Errorf("ошибка удаления метаданных недописанной версии: %w", err)
	}

	if current == nil {
		// Первая загрузка прервана: идентичность не состоялась
		if err := s.blobs.Remove(s.blobs.CurrentPath(entry.FileID)); err != nil {
			return fmt.Errorf("ошибка удаления текущего blob: %w", err)
		}
		if err := s.blobs.RemoveVersions(entry.FileID); err != nil {
			return fmt.Errorf("ошибка удаления каталога версий: %w", err)
		}
		if err := s.meta.DeleteAll(entry.FileID); err != nil {
			return fmt.Errorf("ошибка удаления метаданных: %w", err)
		}
		s.logger.Warn("прерванное создание файла откачено",
			slog.String("tx_id", entry.TransactionID),
			slog.String("file_id", entry.FileID),
			slog.String("logical_path", entry.LogicalPath),
		)
		return s.walEng.Rollback(entry.TransactionID)
	}

	// Текущий blob мог быть переписан недописанной версией —
	// пересобираем из последней зафиксированной
	src := s.blobs.VersionPath(entry.FileID, current.Version)
	if err := s.blobs.CopyAtomic(src, s.blobs.CurrentPath(entry.FileID)); err != nil {
		return fmt.Errorf("ошибка пересборки текущего blob из версии %d: %w", current.Version, err)
	}
	s.logger.Warn("прерванная версия откачена",
		slog.String("tx_id", entry.TransactionID),
		slog.String("file_id", entry.FileID),
		slog.Int("version", entry.Version),
		slog.Int("restored_version", current.Version),
	)
	return s.walEng.Rollback(entry.TransactionID)
}

// recoverPurge доводит прерванное физическое удаление до конца.
// Повтор шагов идемпотентен: отсутствующие blob-ы и записи
// пропускаются без ошибок.
func (s *FileService) recoverPurge(entry *wal.Entry) error {
	if err := s.blobs.Remove(s.blobs.CurrentPath(entry.FileID)); err != nil {
		return fmt.Errorf("ошибка удаления текущего blob: %w", err)
	}
	if err := s.blobs.RemoveVersions(entry.FileID); err != nil {
		return fmt.Errorf("ошибка удаления каталога версий: %w", err)
	}
	if err := s.meta.DeleteAll(entry.FileID); err != nil {
		return fmt.Errorf("ошибка удаления метаданных: %w", err)
	}
	s.logger.Warn("прерванное удаление доведено до конца",
		slog.String("tx_id", entry.TransactionID),
		slog.String("file_id", entry.FileID),
		slog.String("logical_path", entry.LogicalPath),
	)
	return s.walEng.Commit(entry.TransactionID)
}
