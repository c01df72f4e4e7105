// file_service.go — оркестратор файлов: единственный компонент с бизнес-правилами.
// Валидирует загрузки, дедуплицирует по контрольной сумме, пишет метаданные,
// проверяет права доступа и ставит генерацию производных в очередь.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/singleflight"

	"github.com/bigkaa/goartstore/media-module/internal/blobstore"
	"github.com/bigkaa/goartstore/media-module/internal/cache"
	"github.com/bigkaa/goartstore/media-module/internal/derivative"
	"github.com/bigkaa/goartstore/media-module/internal/domain/access"
	"github.com/bigkaa/goartstore/media-module/internal/domain/model"
	"github.com/bigkaa/goartstore/media-module/internal/repository"
	"github.com/bigkaa/goartstore/media-module/internal/worker"
)

// Виды фоновых задач.
const (
	TaskDerivatives = "derivatives"
	TaskPurge       = "purge"
)

// Size class производных, сохраняемых фоновой задачей.
const (
	ThumbnailSizeClass = "small"
	PreviewSizeClass   = "medium"
)

var (
	uploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mm_uploads_total",
		Help: "Общее количество загрузок файлов",
	}, []string{"result"}) // result: created, dedup, rejected, failed

	dedupHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mm_dedup_hits_total",
		Help: "Загрузки, вернувшие существующий файл с тем же содержимым",
	})
)

// BlobStore — операции объектного хранилища, нужные сервису.
type BlobStore interface {
	EncryptionEnabled() bool
	Put(ctx context.Context, key string, data []byte, contentType string, meta blobstore.PutMetadata) (*blobstore.PutResult, error)
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	DeletePrefix(ctx context.Context, prefix string) (int, error)
	SignedURL(ctx context.Context, key string, ttl time.Duration, downloadName string) (string, error)
}

// DerivativeGenerator — генератор миниатюр и превью.
type DerivativeGenerator interface {
	HasSizeClass(name string) bool
	Applicable(contentType string) bool
	Thumbnail(ctx context.Context, data []byte, contentType, sizeClass string) (*derivative.Result, error)
}

// TaskQueue — очередь фоновых задач.
type TaskQueue interface {
	Enqueue(t worker.Task) bool
}

// FileServiceOptions — параметры оркестратора.
type FileServiceOptions struct {
	// MaxFileSize — максимальный размер файла в байтах
	MaxFileSize int64
	// MaxFilesPerUpload — максимум файлов в одном multi-upload
	MaxFilesPerUpload int
	// AllowedTypes — allow-list MIME-типов, поддерживается маска "image/*"
	AllowedTypes []string
	// SignedURLTTL — срок подписанной ссылки по умолчанию
	SignedURLTTL time.Duration
	// SignedURLMaxTTL — максимальный срок подписанной ссылки
	SignedURLMaxTTL time.Duration
	// RequestTimeout — таймаут синхронных операций с хранилищем и генератором
	RequestTimeout time.Duration
	// TaskMaxAttempts — лимит попыток генерации производных для файла
	TaskMaxAttempts int
	// PublicBaseURL — префикс канонических ссылок (пустой — относительные ссылки)
	PublicBaseURL string
	// ProcessingStaleAfter — через сколько без обновлений захват в processing
	// считается брошенным и может быть перехвачен
	ProcessingStaleAfter time.Duration
}

// FileService — оркестратор файлов.
type FileService struct {
	files  repository.FileRepository
	perms  repository.PermissionRepository
	blobs  BlobStore
	gen    DerivativeGenerator
	cache  cache.Cache
	queue  TaskQueue
	opts   FileServiceOptions
	logger *slog.Logger

	previews singleflight.Group
	now      func() time.Time
}

// NewFileService создаёт оркестратор файлов.
func NewFileService(
	files repository.FileRepository,
	perms repository.PermissionRepository,
	blobs BlobStore,
	gen DerivativeGenerator,
	c cache.Cache,
	queue TaskQueue,
	opts FileServiceOptions,
	logger *slog.Logger,
) *FileService {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 60 * time.Second
	}
	if opts.SignedURLTTL <= 0 {
		opts.SignedURLTTL = time.Hour
	}
	if opts.SignedURLMaxTTL < opts.SignedURLTTL {
		opts.SignedURLMaxTTL = opts.SignedURLTTL
	}
	if opts.TaskMaxAttempts <= 0 {
		opts.TaskMaxAttempts = 3
	}
	if opts.ProcessingStaleAfter <= 0 {
		opts.ProcessingStaleAfter = 10 * time.Minute
	}
	opts.PublicBaseURL = strings.TrimRight(opts.PublicBaseURL, "/")

	return &FileService{
		files:  files,
		perms:  perms,
		blobs:  blobs,
		gen:    gen,
		cache:  c,
		queue:  queue,
		opts:   opts,
		logger: logger.With(slog.String("component", "file_service")),
		now:    time.Now,
	}
}

// MaxFilesPerUpload возвращает лимит файлов в multi-upload.
func (s *FileService) MaxFilesPerUpload() int {
	return s.opts.MaxFilesPerUpload
}

// Get возвращает метаданные файла, если у вызывающего есть право чтения.
func (s *FileService) Get(ctx context.Context, fileID, callerID string) (*model.File, error) {
	f, err := s.getActive(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, f, callerID, access.OpRead); err != nil {
		return nil, err
	}
	return f, nil
}

// DownloadResult — содержимое оригинала.
type DownloadResult struct {
	Data        []byte
	Filename    string
	ContentType string
}

// Download возвращает байты оригинала (расшифрованные, если хранились зашифрованными).
func (s *FileService) Download(ctx context.Context, fileID, callerID string) (*DownloadResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.RequestTimeout)
	defer cancel()

	f, err := s.Get(ctx, fileID, callerID)
	if err != nil {
		return nil, err
	}

	data, err := s.blobs.Get(ctx, f.StorageKey)
	if err != nil {
		if errors.Is(err, blobstore.ErrObjectNotFound) {
			s.logger.Error("Оригинал отсутствует в хранилище",
				slog.String("file_id", f.ID),
				slog.String("storage_key", f.StorageKey),
			)
			return nil, fmt.Errorf("%w: оригинал отсутствует в хранилище", ErrNotFound)
		}
		return nil, fmt.Errorf("%w: чтение оригинала: %w", ErrUpstream, err)
	}

	return &DownloadResult{
		Data:        data,
		Filename:    f.OriginalFilename,
		ContentType: f.ContentType,
	}, nil
}

// Delete помечает файл удалённым. Объекты в хранилище удаляются фоновой задачей.
func (s *FileService) Delete(ctx context.Context, fileID, callerID string) error {
	f, err := s.getActive(ctx, fileID)
	if err != nil {
		return err
	}
	if err := s.authorize(ctx, f, callerID, access.OpDelete); err != nil {
		return err
	}

	if err := s.files.SoftDelete(ctx, f.ID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("удаление файла: %w", err)
	}

	s.cache.InvalidateFile(ctx, f.ID)
	s.cache.InvalidateOwnerFileCount(ctx, f.OwnerID)

	if !s.queue.Enqueue(worker.Task{Kind: TaskPurge, FileID: f.ID}) {
		s.logger.Warn("Очистка хранилища отложена до следующего sweep",
			slog.String("file_id", f.ID),
		)
	}

	s.logger.Info("Файл удалён",
		slog.String("file_id", f.ID),
		slog.String("owner_id", f.OwnerID),
		slog.String("deleted_by", callerID),
	)
	return nil
}

// ListParams — фильтр и пагинация списка файлов владельца.
type ListParams struct {
	// Category — фильтр по категории (пустой — все)
	Category string
	// Page — номер страницы, начиная с 1
	Page int
	// Limit — размер страницы
	Limit int
}

// Page — страница списка файлов.
type Page struct {
	Items []*model.File
	Total int
	Page  int
	Limit int
}

// Ограничения пагинации.
const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

// ListForOwner возвращает активные файлы владельца, новые первыми.
func (s *FileService) ListForOwner(ctx context.Context, ownerID string, p ListParams) (*Page, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("%w: не указан владелец", ErrValidation)
	}
	if p.Category != "" && !model.ValidCategory(p.Category) {
		return nil, fmt.Errorf("%w: неизвестная категория '%s'", ErrValidation, p.Category)
	}
	if p.Page <= 0 {
		p.Page = 1
	}
	if p.Limit <= 0 {
		p.Limit = DefaultPageLimit
	}
	if p.Limit > MaxPageLimit {
		p.Limit = MaxPageLimit
	}

	active := model.StatusActive
	filters := repository.FileListFilters{OwnerID: &ownerID, Status: &active}
	if p.Category != "" {
		filters.Category = &p.Category
	}

	items, err := s.files.List(ctx, filters, p.Limit, (p.Page-1)*p.Limit)
	if err != nil {
		return nil, fmt.Errorf("список файлов: %w", err)
	}

	total, err := s.countForOwner(ctx, ownerID, filters)
	if err != nil {
		return nil, err
	}

	return &Page{Items: items, Total: total, Page: p.Page, Limit: p.Limit}, nil
}

// countForOwner считает файлы; без фильтра категории счётчик кэшируется.
func (s *FileService) countForOwner(ctx context.Context, ownerID string, filters repository.FileListFilters) (int, error) {
	cacheable := filters.Category == nil
	if cacheable {
		if n, ok := s.cache.GetOwnerFileCount(ctx, ownerID); ok {
			return n, nil
		}
	}

	n, err := s.files.Count(ctx, filters)
	if err != nil {
		return 0, fmt.Errorf("подсчёт файлов: %w", err)
	}
	if cacheable {
		s.cache.PutOwnerFileCount(ctx, ownerID, n)
	}
	return n, nil
}

// SignedURL выдаёт ссылку на прямое скачивание из хранилища.
// Закэшированная ссылка переиспользуется, пока у неё осталось не меньше
// половины запрошенного срока. Возвращает ссылку и её оставшийся срок.
func (s *FileService) SignedURL(ctx context.Context, fileID, callerID string, ttl time.Duration) (string, time.Duration, error) {
	if ttl <= 0 {
		ttl = s.opts.SignedURLTTL
	}
	if ttl > s.opts.SignedURLMaxTTL {
		return "", 0, fmt.Errorf("%w: срок ссылки превышает %s", ErrValidation, s.opts.SignedURLMaxTTL)
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.RequestTimeout)
	defer cancel()

	f, err := s.Get(ctx, fileID, callerID)
	if err != nil {
		return "", 0, err
	}
	// Прямая ссылка отдала бы шифротекст
	if f.Encrypted {
		return "", 0, fmt.Errorf("%w: для зашифрованного файла прямая ссылка недоступна, используйте download", ErrValidation)
	}

	if cached, ok := s.cache.GetSignedURL(ctx, f.ID); ok {
		remaining := cached.ExpiresAt.Sub(s.now())
		if remaining >= ttl/2 {
			return cached.URL, remaining.Truncate(time.Second), nil
		}
	}

	url, err := s.blobs.SignedURL(ctx, f.StorageKey, ttl, f.OriginalFilename)
	if err != nil {
		return "", 0, fmt.Errorf("%w: подпись ссылки: %w", ErrUpstream, err)
	}
	s.cache.PutSignedURL(ctx, f.ID, url, ttl)
	return url, ttl, nil
}

// UpdateParams — изменяемые метаданные файла. nil — поле не меняется.
type UpdateParams struct {
	Description *string
	Tags        *[]string
	IsPublic    *bool
}

// UpdateMetadata меняет описание, теги и видимость. Контрольная сумма не меняется.
func (s *FileService) UpdateMetadata(ctx context.Context, fileID, callerID string, p UpdateParams) (*model.File, error) {
	f, err := s.getActive(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, f, callerID, access.OpWrite); err != nil {
		return nil, err
	}

	if p.Description != nil {
		if len(*p.Description) > maxDescriptionLen {
			return nil, fmt.Errorf("%w: описание длиннее %d символов", ErrValidation, maxDescriptionLen)
		}
		f.Description = *p.Description
	}
	if p.Tags != nil {
		tags, err := normalizeTags(*p.Tags)
		if err != nil {
			return nil, err
		}
		f.Tags = tags
	}
	if p.IsPublic != nil {
		f.IsPublic = *p.IsPublic
	}

	if err := s.files.UpdateMetadata(ctx, f); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("обновление метаданных: %w", err)
	}
	s.cache.InvalidateFile(ctx, f.ID)

	s.logger.Info("Метаданные файла обновлены",
		slog.String("file_id", f.ID),
		slog.String("updated_by", callerID),
	)
	return f, nil
}

// SetScanStatus выставляет результат внешней антивирусной проверки.
func (s *FileService) SetScanStatus(ctx context.Context, fileID, status string) error {
	if !model.ValidScanStatus(status) {
		return fmt.Errorf("%w: недопустимый статус сканирования '%s'", ErrValidation, status)
	}
	if err := s.files.SetScanStatus(ctx, fileID, status); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("обновление статуса сканирования: %w", err)
	}
	s.cache.InvalidateFile(ctx, fileID)

	s.logger.Info("Статус сканирования обновлён",
		slog.String("file_id", fileID),
		slog.String("scan_status", status),
	)
	return nil
}

// StatusInfo — статусы обработки и сканирования файла.
type StatusInfo struct {
	ProcessingStatus string
	ScanStatus       string
}

// ProcessingStatus возвращает статусы файла; статус обработки берётся
// из отдельной записи кэша, которую обновляет фоновая задача.
func (s *FileService) ProcessingStatus(ctx context.Context, fileID, callerID string) (*StatusInfo, error) {
	f, err := s.Get(ctx, fileID, callerID)
	if err != nil {
		return nil, err
	}

	status, ok := s.cache.GetProcessingStatus(ctx, f.ID)
	if !ok {
		status = f.ProcessingStatus
		s.cache.PutProcessingStatus(ctx, f.ID, status)
	}
	return &StatusInfo{ProcessingStatus: status, ScanStatus: f.ScanStatus}, nil
}

// --- Вспомогательные методы ---

// getActive читает файл через кэш. Удалённые файлы не видны.
func (s *FileService) getActive(ctx context.Context, fileID string) (*model.File, error) {
	if fileID == "" {
		return nil, ErrNotFound
	}
	if f, ok := s.cache.GetFile(ctx, fileID); ok && !f.IsDeleted() {
		return f, nil
	}

	f, err := s.files.GetByID(ctx, fileID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("чтение файла: %w", err)
	}
	if f.IsDeleted() {
		return nil, ErrNotFound
	}

	s.cache.PutFile(ctx, f)
	return f, nil
}

// authorize проверяет право callerID на операцию op.
func (s *FileService) authorize(ctx context.Context, f *model.File, callerID, op string) error {
	var grants []model.FilePermission
	if access.NeedsGrantLookup(f, callerID, op) {
		var err error
		grants, err = s.perms.ListForUser(ctx, f.ID, callerID)
		if err != nil {
			return fmt.Errorf("чтение прав доступа: %w", err)
		}
	}
	if !access.CanAccess(f, callerID, op, grants, s.now()) {
		return ErrAccessDenied
	}
	return nil
}

// fileURL строит каноническую ссылку API на ресурс файла.
func (s *FileService) fileURL(fileID, suffix string) string {
	return s.opts.PublicBaseURL + "/api/v1/files/" + fileID + suffix
}
