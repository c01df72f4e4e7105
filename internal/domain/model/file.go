// Пакет model — доменные модели Media Module.
// File — маппинг таблицы files, FilePermission — таблицы file_permissions.
package model

import (
	"strings"
	"time"
)

// Категории медиа, определяются по MIME-типу.
const (
	CategoryImage    = "image"
	CategoryVideo    = "video"
	CategoryAudio    = "audio"
	CategoryDocument = "document"
	CategoryArchive  = "archive"
	CategoryOther    = "other"
)

// Статусы антивирусной проверки (выставляются внешним сканером).
const (
	ScanStatusPending  = "pending"
	ScanStatusClean    = "clean"
	ScanStatusInfected = "infected"
	ScanStatusError    = "error"
)

// Статусы генерации производных.
const (
	ProcessingPending       = "pending"
	ProcessingInProgress    = "processing"
	ProcessingDone          = "done"
	ProcessingFailed        = "failed"
	ProcessingNotApplicable = "not_applicable"
)

// Статусы жизненного цикла записи.
const (
	StatusActive  = "active"
	StatusDeleted = "deleted"
)

// File — запись о загруженном файле.
type File struct {
	// ID — UUID файла
	ID string `json:"id"`
	// StorageKey — ключ оригинала в S3, генерируется один раз при создании
	StorageKey string `json:"storageKey"`
	// OriginalFilename — оригинальное имя файла
	OriginalFilename string `json:"originalFilename"`
	// ContentType — заявленный MIME-тип
	ContentType string `json:"contentType"`
	// Size — размер оригинала в байтах
	Size int64 `json:"size"`
	// Category — категория медиа (image, video, audio, document, archive, other)
	Category string `json:"type"`
	// URL — каноническая ссылка на скачивание через API
	URL string `json:"url"`
	// ThumbnailURL — ссылка на миниатюру (small), nil пока не сгенерирована
	ThumbnailURL *string `json:"thumbnailUrl,omitempty"`
	// PreviewURL — ссылка на превью (medium), nil пока не сгенерировано
	PreviewURL *string `json:"previewUrl,omitempty"`
	// OwnerID — идентификатор загрузившего (sub из JWT)
	OwnerID string `json:"ownerId"`
	// IsPublic — файл доступен на чтение всем
	IsPublic bool `json:"isPublic"`
	// Tags — теги файла
	Tags []string `json:"tags"`
	// Description — описание файла
	Description string `json:"description"`
	// Checksum — SHA-256 (hex) от байтов оригинала
	Checksum string `json:"checksum"`
	// ScanStatus — статус антивирусной проверки
	ScanStatus string `json:"scanStatus"`
	// Encrypted — оригинал зашифрован в хранилище
	Encrypted bool `json:"encrypted"`
	// ProcessingStatus — статус генерации производных
	ProcessingStatus string `json:"processingStatus"`
	// ProcessingAttempts — количество попыток генерации
	ProcessingAttempts int `json:"processingAttempts"`
	// Status — active или deleted
	Status string `json:"status"`
	// DeletedAt — время пометки на удаление
	DeletedAt *time.Time `json:"deletedAt,omitempty"`
	// PurgedAt — время физического удаления объектов из S3
	PurgedAt *time.Time `json:"purgedAt,omitempty"`
	// CreatedAt — время создания записи
	CreatedAt time.Time `json:"createdAt"`
	// UpdatedAt — время последнего обновления
	UpdatedAt time.Time `json:"updatedAt"`
}

// IsDeleted возвращает true для записи-надгробия.
func (f *File) IsDeleted() bool {
	return f.Status == StatusDeleted
}

// HasDerivatives возвращает true, если миниатюра и превью уже сгенерированы.
func (f *File) HasDerivatives() bool {
	return f.ThumbnailURL != nil && f.PreviewURL != nil
}

// CategoryFromContentType определяет категорию медиа по MIME-типу.
// Параметры типа (charset и т.п.) игнорируются.
func CategoryFromContentType(contentType string) string {
	ct := NormalizeContentType(contentType)

	switch {
	case strings.HasPrefix(ct, "image/"):
		return CategoryImage
	case strings.HasPrefix(ct, "video/"):
		return CategoryVideo
	case strings.HasPrefix(ct, "audio/"):
		return CategoryAudio
	case documentTypes[ct], strings.HasPrefix(ct, "text/"),
		strings.HasPrefix(ct, "application/vnd.oasis.opendocument."),
		strings.HasPrefix(ct, "application/vnd.openxmlformats-officedocument."):
		return CategoryDocument
	case archiveTypes[ct]:
		return CategoryArchive
	default:
		return CategoryOther
	}
}

// NormalizeContentType приводит MIME-тип к нижнему регистру без параметров.
func NormalizeContentType(contentType string) string {
	ct := contentType
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return strings.ToLower(strings.TrimSpace(ct))
}

var documentTypes = map[string]bool{
	"application/pdf":               true,
	"application/msword":            true,
	"application/vnd.ms-excel":      true,
	"application/vnd.ms-powerpoint": true,
	"application/rtf":               true,
}

var archiveTypes = map[string]bool{
	"application/zip":              true,
	"application/x-zip-compressed": true,
	"application/x-tar":            true,
	"application/gzip":             true,
	"application/x-gzip":           true,
	"application/x-7z-compressed":  true,
	"application/vnd.rar":          true,
	"application/x-rar-compressed": true,
	"application/x-bzip2":          true,
}

// ValidScanStatus проверяет допустимость статуса сканирования.
func ValidScanStatus(s string) bool {
	switch s {
	case ScanStatusPending, ScanStatusClean, ScanStatusInfected, ScanStatusError:
		return true
	}
	return false
}

// ValidCategory проверяет допустимость категории медиа (для фильтра списка).
func ValidCategory(c string) bool {
	switch c {
	case CategoryImage, CategoryVideo, CategoryAudio, CategoryDocument, CategoryArchive, CategoryOther:
		return true
	}
	return false
}
