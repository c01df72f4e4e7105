// Пакет derivative — генерация производных (миниатюр и превью).
// Чистое преобразование байты → байты: пакет не обращается к S3,
// базе данных или кэшу, поэтому безопасен и для синхронного превью,
// и для фоновой задачи.
package derivative

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/media-module/internal/domain/model"
)

// Ошибки генерации.
var (
	// ErrProcessing — исходник не удалось преобразовать (нет видеопотока, битый файл).
	ErrProcessing = errors.New("ошибка генерации производной")
	// ErrNotApplicable — для категории медиа производная не предусмотрена.
	ErrNotApplicable = errors.New("производная не применима к типу файла")
	// ErrUnknownSizeClass — запрошен неизвестный size class.
	ErrUnknownSizeClass = errors.New("неизвестный size class")
)

// Метрики генерации производных.
var (
	derivativesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mm_derivatives_total",
		Help: "Количество сгенерированных производных",
	}, []string{"kind", "result"})

	derivativeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mm_derivative_duration_seconds",
		Help:    "Длительность генерации производной",
		Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
	}, []string{"kind"})
)

// Виды исходников.
const (
	kindImage    = "image"
	kindVideo    = "video"
	kindPDF      = "pdf"
	kindDocument = "document"
	kindText     = "text"
)

// SizeClass — именованный размер миниатюры.
type SizeClass struct {
	Width  int
	Height int
}

// Options — параметры генератора.
type Options struct {
	// SizeClasses — размеры по имени (small, medium, large)
	SizeClasses map[string]SizeClass
	// Quality — качество JPEG (1-100)
	Quality int
	// DocumentDPI — разрешение растеризации первой страницы PDF
	DocumentDPI int
	// VideoFrameOffset — смещение кадра видео
	VideoFrameOffset time.Duration
	// FFmpegPath, PdftoppmPath — пути к внешним утилитам
	FFmpegPath   string
	PdftoppmPath string
	// Timeout — таймаут генерации одной производной
	Timeout time.Duration
}

// Result — сгенерированная производная.
type Result struct {
	Data        []byte
	ContentType string
	Width       int
	Height      int
}

// Generator — генератор производных.
type Generator struct {
	opts   Options
	text   *textRenderer
	logger *slog.Logger
}

// NewGenerator создаёт генератор производных.
func NewGenerator(opts Options, logger *slog.Logger) (*Generator, error) {
	if len(opts.SizeClasses) == 0 {
		return nil, fmt.Errorf("не заданы size class")
	}
	if opts.Quality <= 0 || opts.Quality > 100 {
		opts.Quality = 80
	}
	if opts.DocumentDPI <= 0 {
		opts.DocumentDPI = 72
	}
	if opts.FFmpegPath == "" {
		opts.FFmpegPath = "ffmpeg"
	}
	if opts.PdftoppmPath == "" {
		opts.PdftoppmPath = "pdftoppm"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 45 * time.Second
	}

	tr, err := newTextRenderer()
	if err != nil {
		return nil, err
	}

	return &Generator{
		opts:   opts,
		text:   tr,
		logger: logger.With(slog.String("component", "derivative_generator")),
	}, nil
}

// HasSizeClass проверяет, настроен ли size class.
func (g *Generator) HasSizeClass(name string) bool {
	_, ok := g.opts.SizeClasses[name]
	return ok
}

// Applicable возвращает true, если для MIME-типа можно построить производную.
func (g *Generator) Applicable(contentType string) bool {
	return sourceKind(contentType) != ""
}

// Thumbnail строит JPEG-производную размера sizeClass.
//   - image: центрированный crop до размеров size class;
//   - video: кадр на смещении VideoFrameOffset (для коротких роликов — первый кадр);
//   - PDF: растеризация первой страницы;
//   - DOCX/ODT и text/*: начальный текст, отрисованный как страница;
//   - остальное: ErrNotApplicable.
func (g *Generator) Thumbnail(ctx context.Context, data []byte, contentType, sizeClass string) (*Result, error) {
	sc, ok := g.opts.SizeClasses[sizeClass]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSizeClass, sizeClass)
	}

	kind := sourceKind(contentType)
	if kind == "" {
		return nil, fmt.Errorf("%w: %s", ErrNotApplicable, contentType)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: пустой исходник", ErrProcessing)
	}

	ctx, cancel := context.WithTimeout(ctx, g.opts.Timeout)
	defer cancel()

	start := time.Now()
	res, err := g.generate(ctx, kind, data, sc)
	derivativeDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	if err != nil {
		derivativesTotal.WithLabelValues(kind, "error").Inc()
		return nil, err
	}
	derivativesTotal.WithLabelValues(kind, "ok").Inc()

	g.logger.Debug("Производная сгенерирована",
		slog.String("kind", kind),
		slog.String("size_class", sizeClass),
		slog.Int("size", len(res.Data)),
		slog.Duration("duration", time.Since(start)),
	)
	return res, nil
}

func (g *Generator) generate(ctx context.Context, kind string, data []byte, sc SizeClass) (*Result, error) {
	switch kind {
	case kindImage:
		img, err := decodeImage(data)
		if err != nil {
			return nil, err
		}
		return encodeThumbnail(img, sc, g.opts.Quality)
	case kindVideo:
		img, err := g.videoFrame(ctx, data)
		if err != nil {
			return nil, err
		}
		return encodeThumbnail(img, sc, g.opts.Quality)
	case kindPDF:
		img, err := g.pdfFirstPage(ctx, data)
		if err != nil {
			return nil, err
		}
		return encodeThumbnail(img, sc, g.opts.Quality)
	case kindDocument:
		text, err := extractDocumentText(data)
		if err != nil {
			return nil, err
		}
		return encodeThumbnail(g.text.render(text), sc, g.opts.Quality)
	case kindText:
		return encodeThumbnail(g.text.render(leadingText(data)), sc, g.opts.Quality)
	default:
		return nil, ErrNotApplicable
	}
}

// sourceKind определяет стратегию генерации по MIME-типу.
// Пустая строка — производная не применима.
func sourceKind(contentType string) string {
	ct := model.NormalizeContentType(contentType)

	switch model.CategoryFromContentType(ct) {
	case model.CategoryImage:
		if imageDecodable[ct] {
			return kindImage
		}
	case model.CategoryVideo:
		return kindVideo
	case model.CategoryDocument:
		switch {
		case ct == "application/pdf":
			return kindPDF
		case textExtractable[ct]:
			return kindDocument
		case isPlainText(ct):
			return kindText
		}
	}
	return ""
}
