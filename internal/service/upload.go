package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/bigkaa/goartstore/media-module/internal/blobstore"
	"github.com/bigkaa/goartstore/media-module/internal/domain/model"
	"github.com/bigkaa/goartstore/media-module/internal/repository"
	"github.com/bigkaa/goartstore/media-module/internal/worker"
)

// Ограничения метаданных.
const (
	maxDescriptionLen = 2000
	maxTags           = 20
	maxTagLen         = 64
	maxFilenameLen    = 255
)

// UploadParams — параметры загрузки файла.
type UploadParams struct {
	// Data — байты файла
	Data []byte
	// Filename — оригинальное имя файла
	Filename string
	// ContentType — заявленный MIME-тип
	ContentType string
	// OwnerID — загружающий пользователь (sub из JWT)
	OwnerID string
	// Description, Tags, IsPublic — опциональные метаданные
	Description string
	Tags        []string
	IsPublic    bool
}

// Upload сохраняет файл. Повторная загрузка того же содержимого тем же
// владельцем возвращает существующий файл без записи в хранилище.
//
// Поток:
//  1. Валидация размера, типа и метаданных
//  2. SHA-256 по байтам
//  3. Поиск дубликата (owner, checksum)
//  4. Запись оригинала в S3 (с шифрованием, если включено)
//  5. INSERT строки; при конфликте уникальности — возврат победителя
//  6. Постановка генерации производных в очередь
func (s *FileService) Upload(ctx context.Context, p UploadParams) (*model.File, error) {
	f, result, err := s.upload(ctx, p)
	uploadsTotal.WithLabelValues(result).Inc()
	return f, err
}

func (s *FileService) upload(ctx context.Context, p UploadParams) (*model.File, string, error) {
	contentType, tags, err := s.validateUpload(&p)
	if err != nil {
		return nil, "rejected", err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.RequestTimeout)
	defer cancel()

	checksum := blobstore.Checksum(p.Data)

	existing, err := s.files.GetActiveByChecksum(ctx, p.OwnerID, checksum)
	switch {
	case err == nil:
		dedupHitsTotal.Inc()
		s.logger.Info("Дубликат содержимого, возвращён существующий файл",
			slog.String("file_id", existing.ID),
			slog.String("owner_id", p.OwnerID),
		)
		return existing, "dedup", nil
	case !errors.Is(err, repository.ErrNotFound):
		return nil, "failed", fmt.Errorf("поиск дубликата: %w", err)
	}

	now := s.now().UTC()
	key := blobstore.OriginalKey(p.OwnerID, p.Filename, now)

	stored, err := s.blobs.Put(ctx, key, p.Data, contentType, blobstore.PutMetadata{
		OriginalFilename: p.Filename,
		Checksum:         checksum,
		Encrypt:          s.blobs.EncryptionEnabled(),
	})
	if err != nil {
		return nil, "failed", fmt.Errorf("%w: запись оригинала: %w", ErrUpstream, err)
	}

	id := uuid.NewString()
	processing := model.ProcessingNotApplicable
	if s.gen.Applicable(contentType) {
		processing = model.ProcessingPending
	}

	f := &model.File{
		ID:               id,
		StorageKey:       key,
		OriginalFilename: p.Filename,
		ContentType:      contentType,
		Size:             int64(len(p.Data)),
		Category:         model.CategoryFromContentType(contentType),
		URL:              s.fileURL(id, "/download"),
		OwnerID:          p.OwnerID,
		IsPublic:         p.IsPublic,
		Tags:             tags,
		Description:      p.Description,
		Checksum:         checksum,
		ScanStatus:       model.ScanStatusPending,
		Encrypted:        stored.Encrypted,
		ProcessingStatus: processing,
		Status:           model.StatusActive,
	}

	if err := s.files.Create(ctx, f); err != nil {
		// Строка не записана — объект в хранилище никому не принадлежит
		s.deleteBlobQuietly(ctx, key)

		if errors.Is(err, repository.ErrConflict) {
			winner, gerr := s.files.GetActiveByChecksum(ctx, p.OwnerID, checksum)
			if gerr != nil {
				return nil, "failed", fmt.Errorf("чтение файла после конфликта: %w", gerr)
			}
			dedupHitsTotal.Inc()
			s.logger.Info("Параллельная загрузка того же содержимого, возвращён победитель",
				slog.String("file_id", winner.ID),
				slog.String("owner_id", p.OwnerID),
			)
			return winner, "dedup", nil
		}
		return nil, "failed", fmt.Errorf("сохранение файла: %w", err)
	}

	s.cache.InvalidateOwnerFileCount(ctx, p.OwnerID)

	if processing == model.ProcessingPending {
		if !s.queue.Enqueue(worker.Task{Kind: TaskDerivatives, FileID: f.ID}) {
			s.logger.Warn("Генерация производных отложена до следующего sweep",
				slog.String("file_id", f.ID),
			)
		}
	}

	s.logger.Info("Файл загружен",
		slog.String("file_id", f.ID),
		slog.String("owner_id", f.OwnerID),
		slog.String("content_type", f.ContentType),
		slog.Int64("size", f.Size),
		slog.Bool("encrypted", f.Encrypted),
	)
	return f, "created", nil
}

// validateUpload проверяет параметры загрузки и возвращает нормализованные
// MIME-тип и теги.
func (s *FileService) validateUpload(p *UploadParams) (string, []string, error) {
	if p.OwnerID == "" {
		return "", nil, fmt.Errorf("%w: не указан владелец", ErrValidation)
	}
	if len(p.Data) == 0 {
		return "", nil, fmt.Errorf("%w: пустой файл", ErrValidation)
	}
	if s.opts.MaxFileSize > 0 && int64(len(p.Data)) > s.opts.MaxFileSize {
		return "", nil, fmt.Errorf("%w: %d байт, максимум %d", ErrFileTooLarge, len(p.Data), s.opts.MaxFileSize)
	}

	p.Filename = strings.TrimSpace(p.Filename)
	if p.Filename == "" {
		return "", nil, fmt.Errorf("%w: не указано имя файла", ErrValidation)
	}
	if len([]rune(p.Filename)) > maxFilenameLen {
		return "", nil, fmt.Errorf("%w: имя файла длиннее %d символов", ErrValidation, maxFilenameLen)
	}

	contentType := model.NormalizeContentType(p.ContentType)
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if !s.typeAllowed(contentType) {
		return "", nil, fmt.Errorf("%w: %s", ErrUnsupportedType, contentType)
	}

	if len(p.Description) > maxDescriptionLen {
		return "", nil, fmt.Errorf("%w: описание длиннее %d символов", ErrValidation, maxDescriptionLen)
	}
	tags, err := normalizeTags(p.Tags)
	if err != nil {
		return "", nil, err
	}
	return contentType, tags, nil
}

// typeAllowed проверяет MIME-тип по allow-list. Пустой список разрешает всё.
func (s *FileService) typeAllowed(contentType string) bool {
	if len(s.opts.AllowedTypes) == 0 {
		return true
	}
	for _, allowed := range s.opts.AllowedTypes {
		switch {
		case allowed == "*/*", allowed == contentType:
			return true
		case strings.HasSuffix(allowed, "/*") && strings.HasPrefix(contentType, strings.TrimSuffix(allowed, "*")):
			return true
		}
	}
	return false
}

// normalizeTags обрезает пробелы, убирает пустые и повторяющиеся теги.
func normalizeTags(tags []string) ([]string, error) {
	out := make([]string, 0, len(tags))
	seen := make(map[string]bool, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		if len([]rune(t)) > maxTagLen {
			return nil, fmt.Errorf("%w: тег '%s' длиннее %d символов", ErrValidation, t, maxTagLen)
		}
		seen[t] = true
		out = append(out, t)
	}
	if len(out) > maxTags {
		return nil, fmt.Errorf("%w: больше %d тегов", ErrValidation, maxTags)
	}
	return out, nil
}

// UploadItemResult — результат загрузки одного файла из пакета.
type UploadItemResult struct {
	Filename string
	File     *model.File
	Err      error
}

// MultiUploadResult — результат пакетной загрузки.
type MultiUploadResult struct {
	Items     []UploadItemResult
	Succeeded int
	Failed    int
}

// UploadMany загружает пакет файлов; ошибка одного файла не прерывает остальные.
func (s *FileService) UploadMany(ctx context.Context, items []UploadParams) (*MultiUploadResult, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: нет файлов для загрузки", ErrValidation)
	}
	if s.opts.MaxFilesPerUpload > 0 && len(items) > s.opts.MaxFilesPerUpload {
		return nil, fmt.Errorf("%w: %d файлов, максимум %d", ErrValidation, len(items), s.opts.MaxFilesPerUpload)
	}

	res := &MultiUploadResult{Items: make([]UploadItemResult, 0, len(items))}
	for _, p := range items {
		f, err := s.Upload(ctx, p)
		res.Items = append(res.Items, UploadItemResult{Filename: p.Filename, File: f, Err: err})
		if err != nil {
			res.Failed++
			continue
		}
		res.Succeeded++
	}
	return res, nil
}

// deleteBlobQuietly удаляет объект, ошибки только логируются.
func (s *FileService) deleteBlobQuietly(ctx context.Context, key string) {
	if err := s.blobs.Delete(ctx, key); err != nil {
		s.logger.Warn("Не удалось удалить объект из хранилища",
			slog.String("storage_key", key),
			slog.String("error", err.Error()),
		)
	}
}
