// errors.go — базовая таксономия ошибок ядра.
// Сервисы оборачивают эти sentinel-ошибки через %w; внешний
// HTTP-слой сопоставляет их со статус-кодами через errors.Is.
package model

import "errors"

var (
	// ErrValidation — некорректные входные данные
	ErrValidation = errors.New("некорректные входные данные")

	// ErrNotFound — файл, версия или ключ не найдены
	ErrNotFound = errors.New("не найдено")

	// ErrConflict — логический путь занят, overwrite не запрошен
	ErrConflict = errors.New("конфликт: ресурс уже существует")

	// ErrTooLarge — содержимое превышает максимальный размер
	ErrTooLarge = errors.New("превышен максимальный размер")
)
