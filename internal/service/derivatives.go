// derivatives.go — превью по запросу и фоновая генерация производных.
//
// Ключ производной детерминирован: blobstore.DerivativeKey(storage key, size class).
// Фоновая задача и синхронное превью пишут в одни и те же ключи, поэтому
// превью, сгенерированное задачей, переиспользуется и наоборот.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bigkaa/goartstore/media-module/internal/blobstore"
	"github.com/bigkaa/goartstore/media-module/internal/derivative"
	"github.com/bigkaa/goartstore/media-module/internal/domain/model"
	"github.com/bigkaa/goartstore/media-module/internal/repository"
	"github.com/bigkaa/goartstore/media-module/internal/worker"
)

// PreviewResult — байты производной.
type PreviewResult struct {
	Data        []byte
	ContentType string
}

// Preview возвращает производную размера sizeClass. Если в хранилище её нет,
// генерирует синхронно и сохраняет. Параллельные запросы одного ключа
// выполняют генерацию один раз.
func (s *FileService) Preview(ctx context.Context, fileID, callerID, sizeClass string) (*PreviewResult, error) {
	if sizeClass == "" {
		sizeClass = PreviewSizeClass
	}
	if !s.gen.HasSizeClass(sizeClass) {
		return nil, fmt.Errorf("%w: неизвестный размер '%s'", ErrValidation, sizeClass)
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.RequestTimeout)
	defer cancel()

	f, err := s.Get(ctx, fileID, callerID)
	if err != nil {
		return nil, err
	}
	if !s.gen.Applicable(f.ContentType) {
		return nil, ErrNoPreview
	}

	key := blobstore.DerivativeKey(f.StorageKey, sizeClass)
	v, err, _ := s.previews.Do(key, func() (any, error) {
		// Генерация не отменяется, если первый запрос ушёл раньше остальных
		genCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.RequestTimeout)
		defer cancel()
		return s.loadOrGenerate(genCtx, f, key, sizeClass)
	})
	if err != nil {
		return nil, err
	}
	return v.(*PreviewResult), nil
}

// loadOrGenerate читает производную из хранилища или строит её из оригинала.
func (s *FileService) loadOrGenerate(ctx context.Context, f *model.File, key, sizeClass string) (*PreviewResult, error) {
	data, err := s.blobs.Get(ctx, key)
	if err == nil {
		return &PreviewResult{Data: data, ContentType: "image/jpeg"}, nil
	}
	if !errors.Is(err, blobstore.ErrObjectNotFound) {
		return nil, fmt.Errorf("%w: чтение производной: %w", ErrUpstream, err)
	}

	res, err := s.generate(ctx, f, sizeClass)
	if err != nil {
		switch {
		case errors.Is(err, derivative.ErrNotApplicable), errors.Is(err, derivative.ErrProcessing):
			s.logger.Warn("Превью не построено",
				slog.String("file_id", f.ID),
				slog.String("size", sizeClass),
				slog.String("error", err.Error()),
			)
			return nil, fmt.Errorf("%w: %w", ErrNoPreview, err)
		case errors.Is(err, ErrNotFound), errors.Is(err, ErrUpstream):
			return nil, err
		default:
			return nil, fmt.Errorf("%w: генерация превью: %w", ErrUpstream, err)
		}
	}

	if err := s.storeDerivative(ctx, f, key, res); err != nil {
		// Превью отдаётся и без сохранения, следующий запрос повторит генерацию
		s.logger.Warn("Не удалось сохранить превью",
			slog.String("file_id", f.ID),
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
	return &PreviewResult{Data: res.Data, ContentType: res.ContentType}, nil
}

// generate читает оригинал и строит производную.
func (s *FileService) generate(ctx context.Context, f *model.File, sizeClass string) (*derivative.Result, error) {
	original, err := s.blobs.Get(ctx, f.StorageKey)
	if err != nil {
		if errors.Is(err, blobstore.ErrObjectNotFound) {
			return nil, fmt.Errorf("%w: оригинал отсутствует в хранилище", ErrNotFound)
		}
		return nil, fmt.Errorf("%w: чтение оригинала: %w", ErrUpstream, err)
	}
	return s.gen.Thumbnail(ctx, original, f.ContentType, sizeClass)
}

func (s *FileService) storeDerivative(ctx context.Context, f *model.File, key string, res *derivative.Result) error {
	_, err := s.blobs.Put(ctx, key, res.Data, res.ContentType, blobstore.PutMetadata{
		OriginalFilename: f.OriginalFilename,
		Checksum:         blobstore.Checksum(res.Data),
	})
	return err
}

// HandleTask — обработчик задач очереди.
func (s *FileService) HandleTask(ctx context.Context, t worker.Task) error {
	switch t.Kind {
	case TaskDerivatives:
		return s.ProcessDerivatives(ctx, t.FileID)
	case TaskPurge:
		return s.PurgeFile(ctx, t.FileID)
	default:
		return worker.Permanent(fmt.Errorf("неизвестный вид задачи '%s'", t.Kind))
	}
}

// ProcessDerivatives строит миниатюру и превью файла и сохраняет ссылки на них.
// Ошибки генерации не возвращаются загрузившему: файл остаётся доступным
// без производных, статус обработки становится failed.
// Файл, захваченный другим обработчиком менее ProcessingStaleAfter назад, пропускается.
func (s *FileService) ProcessDerivatives(ctx context.Context, fileID string) (err error) {
	attempts, err := s.files.ClaimProcessing(ctx, fileID, s.now().Add(-s.opts.ProcessingStaleAfter))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// Файл удалён, уже обработан или обрабатывается
			return nil
		}
		return fmt.Errorf("захват задачи: %w", err)
	}
	s.setProcessingCache(ctx, fileID, model.ProcessingInProgress)

	logger := s.logger.With(slog.String("file_id", fileID), slog.Int("attempt", attempts))

	// Временная ошибка: возвращаем файл в pending, чтобы повтор очереди смог его захватить
	defer func() {
		if err == nil {
			return
		}
		releaseCtx := context.WithoutCancel(ctx)
		if rerr := s.files.SetProcessingStatus(releaseCtx, fileID, model.ProcessingPending); rerr != nil && !errors.Is(rerr, repository.ErrNotFound) {
			logger.Warn("Не удалось вернуть файл в очередь обработки", slog.String("error", rerr.Error()))
			return
		}
		s.setProcessingCache(releaseCtx, fileID, model.ProcessingPending)
	}()

	if attempts > s.opts.TaskMaxAttempts {
		logger.Error("Исчерпан лимит попыток генерации производных")
		return s.finishProcessing(ctx, fileID, model.ProcessingFailed)
	}

	f, err := s.files.GetByID(ctx, fileID)
	if err != nil {
		return fmt.Errorf("чтение файла: %w", err)
	}

	urls := make(map[string]string, 2)
	for _, sizeClass := range []string{ThumbnailSizeClass, PreviewSizeClass} {
		res, err := s.generate(ctx, f, sizeClass)
		if err != nil {
			switch {
			case errors.Is(err, derivative.ErrNotApplicable):
				logger.Info("Производные не применимы к типу файла", slog.String("content_type", f.ContentType))
				return s.finishProcessing(ctx, fileID, model.ProcessingNotApplicable)
			case errors.Is(err, derivative.ErrProcessing), errors.Is(err, ErrNotFound):
				logger.Warn("Генерация производных не удалась", slog.String("error", err.Error()))
				return s.finishProcessing(ctx, fileID, model.ProcessingFailed)
			default:
				return err
			}
		}

		key := blobstore.DerivativeKey(f.StorageKey, sizeClass)
		if err := s.storeDerivative(ctx, f, key, res); err != nil {
			return fmt.Errorf("запись производной %s: %w", sizeClass, err)
		}
		urls[sizeClass] = s.fileURL(f.ID, "/preview?size="+sizeClass)
	}

	if err := s.files.SetDerivatives(ctx, fileID, urls[ThumbnailSizeClass], urls[PreviewSizeClass]); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// Файл удалили во время генерации
			if _, derr := s.blobs.DeletePrefix(ctx, blobstore.DerivativePrefix(f.StorageKey)); derr != nil {
				logger.Warn("Не удалось удалить производные удалённого файла", slog.String("error", derr.Error()))
			}
			return nil
		}
		return fmt.Errorf("сохранение ссылок на производные: %w", err)
	}

	s.setProcessingCache(ctx, fileID, model.ProcessingDone)
	logger.Info("Производные сгенерированы")
	return nil
}

// finishProcessing фиксирует итоговый статус без производных.
func (s *FileService) finishProcessing(ctx context.Context, fileID, status string) error {
	if err := s.files.SetProcessingStatus(ctx, fileID, status); err != nil && !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("обновление статуса обработки: %w", err)
	}
	s.setProcessingCache(ctx, fileID, status)
	return nil
}

// setProcessingCache сбрасывает запись файла и обновляет статус обработки в кэше.
func (s *FileService) setProcessingCache(ctx context.Context, fileID, status string) {
	s.cache.InvalidateFile(ctx, fileID)
	s.cache.PutProcessingStatus(ctx, fileID, status)
}

// PurgeFile удаляет из хранилища оригинал и производные помеченного удалённым файла.
func (s *FileService) PurgeFile(ctx context.Context, fileID string) error {
	f, err := s.files.GetByID(ctx, fileID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("чтение файла: %w", err)
	}
	if !f.IsDeleted() || f.PurgedAt != nil {
		return nil
	}

	removed, err := s.blobs.DeletePrefix(ctx, blobstore.DerivativePrefix(f.StorageKey))
	if err != nil {
		return fmt.Errorf("удаление производных: %w", err)
	}
	if err := s.blobs.Delete(ctx, f.StorageKey); err != nil {
		return fmt.Errorf("удаление оригинала: %w", err)
	}
	if err := s.files.MarkPurged(ctx, f.ID); err != nil {
		return fmt.Errorf("пометка очистки: %w", err)
	}

	s.logger.Info("Объекты удалённого файла очищены",
		slog.String("file_id", f.ID),
		slog.Int("derivatives", removed),
	)
	return nil
}
