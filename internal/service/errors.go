package service

import (
	"errors"
	"fmt"
)

// Ошибки сервисного слоя.
var (
	// ErrValidation — некорректный входной запрос.
	ErrValidation = errors.New("ошибка валидации")
	// ErrUnsupportedType — MIME-тип не входит в список разрешённых.
	ErrUnsupportedType = fmt.Errorf("%w: тип файла не поддерживается", ErrValidation)
	// ErrFileTooLarge — размер файла превышает лимит.
	ErrFileTooLarge = fmt.Errorf("%w: файл слишком большой", ErrValidation)
	// ErrNotFound — файл не найден или удалён.
	ErrNotFound = errors.New("файл не найден")
	// ErrAccessDenied — у вызывающего нет права на операцию.
	ErrAccessDenied = errors.New("доступ запрещён")
	// ErrNoPreview — для типа файла превью не предусмотрено.
	ErrNoPreview = errors.New("превью недоступно для этого типа файла")
	// ErrUpstream — хранилище или генератор производных недоступны.
	ErrUpstream = errors.New("внешний сервис недоступен")
)
