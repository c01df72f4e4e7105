package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/goartstore/media-module/internal/domain/model"
)

// FileRepository — интерфейс доступа к таблице files.
type FileRepository interface {
	// Create вставляет новую запись. ErrConflict — активный файл
	// с тем же (owner_id, checksum) уже существует.
	Create(ctx context.Context, f *model.File) error
	// GetByID возвращает файл по UUID (в том числе помеченный deleted).
	GetByID(ctx context.Context, fileID string) (*model.File, error)
	// GetActiveByChecksum возвращает активный файл владельца с данным checksum.
	GetActiveByChecksum(ctx context.Context, ownerID, checksum string) (*model.File, error)
	// List возвращает страницу файлов, новые первыми.
	List(ctx context.Context, filters FileListFilters, limit, offset int) ([]*model.File, error)
	// Count возвращает количество файлов по фильтрам.
	Count(ctx context.Context, filters FileListFilters) (int, error)
	// UpdateMetadata обновляет description, tags, is_public.
	UpdateMetadata(ctx context.Context, f *model.File) error
	// ClaimProcessing переводит файл из pending (или из processing, не обновлявшегося
	// с момента staleBefore) в processing и увеличивает счётчик попыток.
	// ErrNotFound — файл удалён, уже обработан или захвачен другим обработчиком.
	ClaimProcessing(ctx context.Context, fileID string, staleBefore time.Time) (attempts int, err error)
	// SetDerivatives сохраняет ссылки на производные и ставит processing_status = done.
	SetDerivatives(ctx context.Context, fileID, thumbnailURL, previewURL string) error
	// SetProcessingStatus выставляет статус генерации производных.
	SetProcessingStatus(ctx context.Context, fileID, status string) error
	// SetScanStatus выставляет статус антивирусной проверки.
	SetScanStatus(ctx context.Context, fileID, status string) error
	// SoftDelete помечает файл deleted. ErrNotFound — файла нет или он уже удалён.
	SoftDelete(ctx context.Context, fileID string) error
	// ListStaleProcessing возвращает активные файлы в pending/processing,
	// не обновлявшиеся с момента before.
	ListStaleProcessing(ctx context.Context, before time.Time, limit int) ([]*model.File, error)
	// ListPendingPurge возвращает удалённые файлы, объекты которых ещё не очищены.
	ListPendingPurge(ctx context.Context, limit int) ([]*model.File, error)
	// MarkPurged фиксирует физическое удаление объектов из S3.
	MarkPurged(ctx context.Context, fileID string) error
}

// FileListFilters — фильтры для списка файлов.
type FileListFilters struct {
	OwnerID  *string
	Category *string
	Status   *string
}

// fileColumns — порядок колонок, согласованный со scanFile.
const fileColumns = `id, storage_key, original_filename, content_type, size, category, url,
	thumbnail_url, preview_url, owner_id, is_public, tags, description, checksum,
	scan_status, encrypted, processing_status, processing_attempts, status,
	deleted_at, purged_at, created_at, updated_at`

// fileRepo — реализация FileRepository.
type fileRepo struct {
	db DBTX
}

// NewFileRepository создаёт репозиторий файлов.
func NewFileRepository(db DBTX) FileRepository {
	return &fileRepo{db: db}
}

// scanFile читает строку в model.File (порядок полей — fileColumns).
func scanFile(row pgx.Row) (*model.File, error) {
	f := &model.File{}
	err := row.Scan(
		&f.ID, &f.StorageKey, &f.OriginalFilename, &f.ContentType, &f.Size, &f.Category, &f.URL,
		&f.ThumbnailURL, &f.PreviewURL, &f.OwnerID, &f.IsPublic, &f.Tags, &f.Description, &f.Checksum,
		&f.ScanStatus, &f.Encrypted, &f.ProcessingStatus, &f.ProcessingAttempts, &f.Status,
		&f.DeletedAt, &f.PurgedAt, &f.CreatedAt, &f.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if f.Tags == nil {
		f.Tags = []string{}
	}
	return f, nil
}

func (r *fileRepo) Create(ctx context.Context, f *model.File) error {
	query := `
		INSERT INTO files (id, storage_key, original_filename, content_type, size, category, url,
			owner_id, is_public, tags, description, checksum, scan_status, encrypted,
			processing_status, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING created_at, updated_at`

	tags := f.Tags
	if tags == nil {
		tags = []string{}
	}

	err := r.db.QueryRow(ctx, query,
		f.ID, f.StorageKey, f.OriginalFilename, f.ContentType, f.Size, f.Category, f.URL,
		f.OwnerID, f.IsPublic, tags, f.Description, f.Checksum, f.ScanStatus, f.Encrypted,
		f.ProcessingStatus, f.Status,
	).Scan(&f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: файл с таким содержимым уже загружен владельцем", ErrConflict)
		}
		return fmt.Errorf("ошибка создания файла: %w", err)
	}
	return nil
}

func (r *fileRepo) GetByID(ctx context.Context, fileID string) (*model.File, error) {
	query := `SELECT ` + fileColumns + ` FROM files WHERE id = $1`

	f, err := scanFile(r.db.QueryRow(ctx, query, fileID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения файла: %w", err)
	}
	return f, nil
}

func (r *fileRepo) GetActiveByChecksum(ctx context.Context, ownerID, checksum string) (*model.File, error) {
	query := `SELECT ` + fileColumns + `
		FROM files
		WHERE owner_id = $1 AND checksum = $2 AND status <> 'deleted'`

	f, err := scanFile(r.db.QueryRow(ctx, query, ownerID, checksum))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка поиска файла по checksum: %w", err)
	}
	return f, nil
}

// buildFileWhere строит WHERE-условие и аргументы для фильтрации файлов.
func buildFileWhere(filters FileListFilters, startArg int) (string, []any) {
	var conditions []string
	var args []any
	argNum := startArg

	if filters.OwnerID != nil {
		conditions = append(conditions, fmt.Sprintf("owner_id = $%d", argNum))
		args = append(args, *filters.OwnerID)
		argNum++
	}
	if filters.Category != nil {
		conditions = append(conditions, fmt.Sprintf("category = $%d", argNum))
		args = append(args, *filters.Category)
		argNum++
	}
	if filters.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argNum))
		args = append(args, *filters.Status)
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}
	return where, args
}

func (r *fileRepo) List(ctx context.Context, filters FileListFilters, limit, offset int) ([]*model.File, error) {
	where, args := buildFileWhere(filters, 1)
	argNum := len(args) + 1

	query := fmt.Sprintf(`
		SELECT %s
		FROM files
		%s
		ORDER BY created_at DESC, id DESC
		LIMIT $%d OFFSET $%d`, fileColumns, where, argNum, argNum+1)

	args = append(args, limit, offset)
	return r.queryFiles(ctx, query, args...)
}

func (r *fileRepo) Count(ctx context.Context, filters FileListFilters) (int, error) {
	where, args := buildFileWhere(filters, 1)
	query := fmt.Sprintf(`SELECT COUNT(*) FROM files %s`, where)

	var count int
	if err := r.db.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("ошибка подсчёта файлов: %w", err)
	}
	return count, nil
}

func (r *fileRepo) UpdateMetadata(ctx context.Context, f *model.File) error {
	query := `
		UPDATE files
		SET description = $2, tags = $3, is_public = $4, updated_at = NOW()
		WHERE id = $1 AND status = 'active'
		RETURNING updated_at`

	tags := f.Tags
	if tags == nil {
		tags = []string{}
	}

	err := r.db.QueryRow(ctx, query, f.ID, f.Description, tags, f.IsPublic).Scan(&f.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("ошибка обновления метаданных файла: %w", err)
	}
	return nil
}

func (r *fileRepo) ClaimProcessing(ctx context.Context, fileID string, staleBefore time.Time) (int, error) {
	query := `
		UPDATE files
		SET processing_status = 'processing',
			processing_attempts = processing_attempts + 1,
			updated_at = NOW()
		WHERE id = $1 AND status = 'active'
			AND (processing_status = 'pending'
				OR (processing_status = 'processing' AND updated_at < $2))
		RETURNING processing_attempts`

	var attempts int
	if err := r.db.QueryRow(ctx, query, fileID, staleBefore).Scan(&attempts); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("ошибка захвата задачи обработки: %w", err)
	}
	return attempts, nil
}

func (r *fileRepo) SetDerivatives(ctx context.Context, fileID, thumbnailURL, previewURL string) error {
	query := `
		UPDATE files
		SET thumbnail_url = $2, preview_url = $3,
			processing_status = 'done', updated_at = NOW()
		WHERE id = $1 AND status = 'active'`

	return r.execOne(ctx, "ошибка сохранения производных", query, fileID, thumbnailURL, previewURL)
}

func (r *fileRepo) SetProcessingStatus(ctx context.Context, fileID, status string) error {
	query := `
		UPDATE files
		SET processing_status = $2, updated_at = NOW()
		WHERE id = $1`

	return r.execOne(ctx, "ошибка обновления статуса обработки", query, fileID, status)
}

func (r *fileRepo) SetScanStatus(ctx context.Context, fileID, status string) error {
	query := `
		UPDATE files
		SET scan_status = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'active'`

	return r.execOne(ctx, "ошибка обновления статуса сканирования", query, fileID, status)
}

func (r *fileRepo) SoftDelete(ctx context.Context, fileID string) error {
	query := `
		UPDATE files
		SET status = 'deleted', deleted_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status <> 'deleted'`

	return r.execOne(ctx, "ошибка удаления файла", query, fileID)
}

func (r *fileRepo) ListStaleProcessing(ctx context.Context, before time.Time, limit int) ([]*model.File, error) {
	query := `SELECT ` + fileColumns + `
		FROM files
		WHERE status = 'active'
			AND processing_status IN ('pending', 'processing')
			AND updated_at < $1
		ORDER BY updated_at
		LIMIT $2`

	return r.queryFiles(ctx, query, before, limit)
}

func (r *fileRepo) ListPendingPurge(ctx context.Context, limit int) ([]*model.File, error) {
	query := `SELECT ` + fileColumns + `
		FROM files
		WHERE status = 'deleted' AND purged_at IS NULL
		ORDER BY deleted_at
		LIMIT $1`

	return r.queryFiles(ctx, query, limit)
}

func (r *fileRepo) MarkPurged(ctx context.Context, fileID string) error {
	query := `
		UPDATE files
		SET purged_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'deleted'`

	return r.execOne(ctx, "ошибка пометки очистки файла", query, fileID)
}

// queryFiles выполняет SELECT по fileColumns и сканирует все строки.
func (r *fileRepo) queryFiles(ctx context.Context, query string, args ...any) ([]*model.File, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка файлов: %w", err)
	}
	defer rows.Close()

	result := make([]*model.File, 0)
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования файла: %w", err)
		}
		result = append(result, f)
	}
	return result, rows.Err()
}

// execOne выполняет UPDATE и возвращает ErrNotFound, если не затронута ни одна строка.
func (r *fileRepo) execOne(ctx context.Context, errMsg, query string, args ...any) error {
	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", errMsg, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
