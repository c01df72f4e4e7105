// queue.go — очередь фоновых задач с фиксированным пулом воркеров.
//
// Задачи не персистентны: при остановке процесса содержимое канала теряется.
// Восстановление обеспечивает sweep, который находит файлы с незавершённой
// обработкой в БД и ставит их в очередь повторно.
//
// Prometheus-метрики:
//   - mm_queue_depth — текущее количество задач в очереди
//   - mm_tasks_total — обработанные задачи (kind, result)
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jpillora/backoff"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ErrPermanent — ошибка, после которой повтор задачи бессмыслен.
var ErrPermanent = errors.New("неустранимая ошибка задачи")

// Permanent оборачивает ошибку как неустранимую.
func Permanent(err error) error {
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

var (
	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mm_queue_depth",
		Help: "Текущее количество задач в очереди",
	})

	tasksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mm_tasks_total",
		Help: "Общее количество обработанных фоновых задач",
	}, []string{"kind", "result"}) // result: ok, retry, failed, dropped
)

// Task — единица фоновой работы.
type Task struct {
	Kind   string
	FileID string
}

// Handler обрабатывает одну задачу.
type Handler func(ctx context.Context, t Task) error

// Options — параметры очереди.
type Options struct {
	// Workers — количество воркеров
	Workers int
	// Size — ёмкость очереди
	Size int
	// MaxAttempts — максимальное количество попыток на задачу
	MaxAttempts int
	// BackoffMin, BackoffMax — границы паузы между попытками
	BackoffMin time.Duration
	BackoffMax time.Duration
}

// Queue — ограниченная очередь задач.
type Queue struct {
	opts   Options
	tasks  chan Task
	logger *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	stopped bool
}

// NewQueue создаёт очередь. Воркеры запускаются через Start.
func NewQueue(opts Options, logger *slog.Logger) *Queue {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Size <= 0 {
		opts.Size = 1
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	if opts.BackoffMin <= 0 {
		opts.BackoffMin = 500 * time.Millisecond
	}
	if opts.BackoffMax < opts.BackoffMin {
		opts.BackoffMax = 30 * time.Second
	}
	return &Queue{
		opts:   opts,
		tasks:  make(chan Task, opts.Size),
		logger: logger.With(slog.String("component", "worker_queue")),
	}
}

// Enqueue ставит задачу в очередь без блокировки.
// Возвращает false, если очередь заполнена или остановлена.
func (q *Queue) Enqueue(t Task) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		tasksTotal.WithLabelValues(t.Kind, "dropped").Inc()
		return false
	}

	select {
	case q.tasks <- t:
		queueDepth.Set(float64(len(q.tasks)))
		return true
	default:
		tasksTotal.WithLabelValues(t.Kind, "dropped").Inc()
		q.logger.Warn("Очередь заполнена, задача отброшена",
			slog.String("kind", t.Kind),
			slog.String("file_id", t.FileID),
		)
		return false
	}
}

// Len возвращает текущее количество задач в очереди.
func (q *Queue) Len() int {
	return len(q.tasks)
}

// Start запускает воркеры. Вызывается один раз при старте приложения.
func (q *Queue) Start(ctx context.Context, handler Handler) {
	ctx, cancel := context.WithCancel(ctx)
	q.mu.Lock()
	q.cancel = cancel
	q.mu.Unlock()

	for i := 0; i < q.opts.Workers; i++ {
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			q.run(ctx, handler)
		}()
	}

	q.logger.Info("Воркеры очереди запущены",
		slog.Int("workers", q.opts.Workers),
		slog.Int("size", q.opts.Size),
		slog.Int("max_attempts", q.opts.MaxAttempts),
	)
}

// Stop прекращает приём задач и ждёт завершения текущих.
// Задачи, оставшиеся в очереди, не выполняются.
func (q *Queue) Stop() {
	q.mu.Lock()
	q.stopped = true
	cancel := q.cancel
	q.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	q.wg.Wait()
	q.logger.Info("Воркеры очереди остановлены", slog.Int("abandoned", len(q.tasks)))
}

func (q *Queue) run(ctx context.Context, handler Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-q.tasks:
			queueDepth.Set(float64(len(q.tasks)))
			q.process(ctx, handler, t)
		}
	}
}

// process выполняет задачу с повторами и экспоненциальной паузой.
func (q *Queue) process(ctx context.Context, handler Handler, t Task) {
	b := &backoff.Backoff{
		Min:    q.opts.BackoffMin,
		Max:    q.opts.BackoffMax,
		Factor: 2,
		Jitter: true,
	}

	for attempt := 1; ; attempt++ {
		err := q.safeCall(ctx, handler, t)
		if err == nil {
			tasksTotal.WithLabelValues(t.Kind, "ok").Inc()
			return
		}

		if errors.Is(err, ErrPermanent) || attempt >= q.opts.MaxAttempts || ctx.Err() != nil {
			tasksTotal.WithLabelValues(t.Kind, "failed").Inc()
			q.logger.Error("Задача завершилась ошибкой",
				slog.String("kind", t.Kind),
				slog.String("file_id", t.FileID),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
			return
		}

		tasksTotal.WithLabelValues(t.Kind, "retry").Inc()
		wait := b.Duration()
		q.logger.Warn("Повтор задачи",
			slog.String("kind", t.Kind),
			slog.String("file_id", t.FileID),
			slog.Int("attempt", attempt),
			slog.Duration("wait", wait),
			slog.String("error", err.Error()),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			tasksTotal.WithLabelValues(t.Kind, "failed").Inc()
			return
		case <-timer.C:
		}
	}
}

// safeCall изолирует панику обработчика, чтобы воркер продолжал работу.
func (q *Queue) safeCall(ctx context.Context, handler Handler, t Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = Permanent(fmt.Errorf("panic: %v", r))
		}
	}()
	return handler(ctx, t)
}
