// Пакет cache — кэш метаданных файлов.
// Кэш рекомендательный: ошибки backend'а логируются и трактуются как промах,
// каждая мутация файла инвалидирует запись, а не перезаписывает её.
package cache

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/media-module/internal/domain/model"
)

// Виды записей кэша (метка kind в метриках).
const (
	kindFile       = "file"
	kindSignedURL  = "url"
	kindProcessing = "proc"
	kindOwnerCount = "owner_count"
)

// Префиксы ключей.
const (
	prefixFile       = "mm:file:"
	prefixSignedURL  = "mm:url:"
	prefixProcessing = "mm:proc:"
	prefixOwnerCount = "mm:owner-count:"
)

// Prometheus-метрики кэша.
var (
	cacheHitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mm_cache_hits_total",
		Help: "Общее количество попаданий в кэш метаданных.",
	}, []string{"kind"})
	cacheMissesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mm_cache_misses_total",
		Help: "Общее количество промахов кэша метаданных.",
	}, []string{"kind"})
	cacheErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mm_cache_errors_total",
		Help: "Ошибки обращения к backend'у кэша.",
	}, []string{"op"})
)

// SignedURL — закэшированная подписанная ссылка.
type SignedURL struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Cache — кэш метаданных, подписанных ссылок, статусов обработки
// и счётчиков файлов владельцев.
type Cache interface {
	GetFile(ctx context.Context, fileID string) (*model.File, bool)
	PutFile(ctx context.Context, f *model.File)
	// InvalidateFile удаляет запись файла вместе с его ссылкой и статусом обработки.
	InvalidateFile(ctx context.Context, fileID string)

	GetSignedURL(ctx context.Context, fileID string) (*SignedURL, bool)
	PutSignedURL(ctx context.Context, fileID, url string, ttl time.Duration)

	GetProcessingStatus(ctx context.Context, fileID string) (string, bool)
	PutProcessingStatus(ctx context.Context, fileID, status string)

	GetOwnerFileCount(ctx context.Context, ownerID string) (int, bool)
	PutOwnerFileCount(ctx context.Context, ownerID string, count int)
	InvalidateOwnerFileCount(ctx context.Context, ownerID string)
}

func fileKey(id string) string       { return prefixFile + id }
func signedURLKey(id string) string  { return prefixSignedURL + id }
func processingKey(id string) string { return prefixProcessing + id }
func ownerCountKey(id string) string { return prefixOwnerCount + id }

// observe учитывает попадание или промах в метриках.
func observe(kind string, hit bool) {
	if hit {
		cacheHitsTotal.WithLabelValues(kind).Inc()
		return
	}
	cacheMissesTotal.WithLabelValues(kind).Inc()
}
