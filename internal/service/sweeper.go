// sweeper.go — периодические sweep-задачи по расписанию cron.
//
// Sweeper выполняет две задачи:
//  1. recovery — файлы, застрявшие в processing_status pending/processing дольше
//     MM_RECOVERY_STALE_AFTER, повторно ставятся в очередь генерации производных
//  2. purge — у помеченных удалёнными файлов удаляются объекты в S3
//
// Статус обработки в БД — надёжный маркер незавершённой работы: задачи,
// потерянные при рестарте или переполнении очереди, подбираются recovery.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/robfig/cron/v3"

	"github.com/bigkaa/goartstore/media-module/internal/repository"
	"github.com/bigkaa/goartstore/media-module/internal/worker"
)

// Имена sweep-задач (метка sweep в метриках).
const (
	SweepRecovery = "recovery"
	SweepPurge    = "purge"
)

// sweepBatch — максимум файлов за один проход.
const sweepBatch = 100

var sweepRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "mm_sweep_runs_total",
	Help: "Общее количество запусков sweep-задач",
}, []string{"sweep"})

// Purger удаляет объекты помеченного удалённым файла.
type Purger interface {
	PurgeFile(ctx context.Context, fileID string) error
}

// Sweeper — планировщик recovery и purge.
type Sweeper struct {
	files      repository.FileRepository
	queue      TaskQueue
	purger     Purger
	schedule   string
	staleAfter time.Duration
	logger     *slog.Logger

	mu   sync.Mutex // защита от параллельного запуска одного sweep
	cron *cron.Cron
	ctx  context.Context
	now  func() time.Time
}

// NewSweeper создаёт планировщик. schedule — выражение cron ("@every 5m", "*/5 * * * *").
func NewSweeper(
	files repository.FileRepository,
	queue TaskQueue,
	purger Purger,
	schedule string,
	staleAfter time.Duration,
	logger *slog.Logger,
) *Sweeper {
	return &Sweeper{
		files:      files,
		queue:      queue,
		purger:     purger,
		schedule:   schedule,
		staleAfter: staleAfter,
		logger:     logger.With(slog.String("component", "sweeper")),
		now:        time.Now,
	}
}

// Start регистрирует задачи в cron и запускает планировщик.
// Первый проход выполняется сразу, чтобы подобрать работу, оставшуюся с прошлого запуска.
func (s *Sweeper) Start(ctx context.Context) error {
	s.ctx = ctx
	s.cron = cron.New()

	if _, err := s.cron.AddFunc(s.schedule, func() { s.RunRecovery(s.ctx) }); err != nil {
		return fmt.Errorf("некорректное расписание sweep '%s': %w", s.schedule, err)
	}
	if _, err := s.cron.AddFunc(s.schedule, func() { s.RunPurge(s.ctx) }); err != nil {
		return fmt.Errorf("некорректное расписание sweep '%s': %w", s.schedule, err)
	}
	s.cron.Start()

	go func() {
		s.RunRecovery(ctx)
		s.RunPurge(ctx)
	}()

	s.logger.Info("Sweeper запущен",
		slog.String("schedule", s.schedule),
		slog.String("stale_after", s.staleAfter.String()),
	)
	return nil
}

// Stop останавливает планировщик и ждёт завершения выполняющихся задач.
func (s *Sweeper) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
	s.logger.Info("Sweeper остановлен")
}

// RunRecovery ставит в очередь генерацию для зависших файлов.
// Возвращает количество поставленных задач.
func (s *Sweeper) RunRecovery(ctx context.Context) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	sweepRunsTotal.WithLabelValues(SweepRecovery).Inc()

	files, err := s.files.ListStaleProcessing(ctx, s.now().Add(-s.staleAfter), sweepBatch)
	if err != nil {
		s.logger.Error("Recovery: ошибка выборки файлов", slog.String("error", err.Error()))
		return 0
	}

	enqueued := 0
	for _, f := range files {
		if !s.queue.Enqueue(worker.Task{Kind: TaskDerivatives, FileID: f.ID}) {
			s.logger.Warn("Recovery: очередь заполнена, остаток отложен",
				slog.Int("remaining", len(files)-enqueued),
			)
			break
		}
		enqueued++
	}

	if len(files) > 0 {
		s.logger.Info("Recovery завершён",
			slog.Int("found", len(files)),
			slog.Int("enqueued", enqueued),
		)
	}
	return enqueued
}

// RunPurge удаляет объекты помеченных удалёнными файлов.
// Возвращает количество очищенных файлов.
func (s *Sweeper) RunPurge(ctx context.Context) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	sweepRunsTotal.WithLabelValues(SweepPurge).Inc()

	files, err := s.files.ListPendingPurge(ctx, sweepBatch)
	if err != nil {
		s.logger.Error("Purge: ошибка выборки файлов", slog.String("error", err.Error()))
		return 0
	}

	purged, errs := 0, 0
	for _, f := range files {
		if ctx.Err() != nil {
			break
		}
		if err := s.purger.PurgeFile(ctx, f.ID); err != nil {
			s.logger.Error("Purge: ошибка очистки файла",
				slog.String("file_id", f.ID),
				slog.String("error", err.Error()),
			)
			errs++
			continue
		}
		purged++
	}

	if len(files) > 0 {
		s.logger.Info("Purge завершён",
			slog.Int("purged", purged),
			slog.Int("errors", errs),
		)
	}
	return purged
}
