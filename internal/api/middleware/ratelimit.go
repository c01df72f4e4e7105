// ratelimit.go — ограничение частоты загрузок на одного вызывающего.
// Token bucket (golang.org/x/time/rate) на каждый sub, лимитеры хранятся
// в expirable LRU: неактивные вызывающие вытесняются, память ограничена.
package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"

	apierrors "github.com/bigkaa/goartstore/media-module/internal/api/errors"
)

const (
	// limiterStoreSize — максимум одновременно отслеживаемых вызывающих.
	limiterStoreSize = 10000
	// limiterIdleTTL — время жизни лимитера неактивного вызывающего.
	limiterIdleTTL = 10 * time.Minute
)

// UploadRateLimiter — per-caller лимит загрузок в минуту.
type UploadRateLimiter struct {
	mu       sync.Mutex
	limiters *expirable.LRU[string, *rate.Limiter]
	limit    rate.Limit
	burst    int
}

// NewUploadRateLimiter создаёт лимитер на perMinute загрузок в минуту.
// perMinute <= 0 отключает ограничение.
func NewUploadRateLimiter(perMinute int) *UploadRateLimiter {
	if perMinute <= 0 {
		return &UploadRateLimiter{}
	}
	return &UploadRateLimiter{
		limiters: expirable.NewLRU[string, *rate.Limiter](limiterStoreSize, nil, limiterIdleTTL),
		limit:    rate.Every(time.Minute / time.Duration(perMinute)),
		burst:    perMinute,
	}
}

// Allow расходует один токен вызывающего.
func (l *UploadRateLimiter) Allow(caller string) bool {
	if l.limiters == nil {
		return true
	}
	return l.limiterFor(caller).Allow()
}

func (l *UploadRateLimiter) limiterFor(caller string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if lim, ok := l.limiters.Get(caller); ok {
		return lim
	}
	lim := rate.NewLimiter(l.limit, l.burst)
	l.limiters.Add(caller, lim)
	return lim
}

// Middleware возвращает middleware, отвечающий 429 RATE_LIMITED при превышении лимита.
// Должен использоваться ПОСЛЕ JWTAuth.Middleware(): ключ лимита — sub.
func (l *UploadRateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller := SubjectFromContext(r.Context())
			if caller == "" {
				caller = r.RemoteAddr
			}
			if !l.Allow(caller) {
				w.Header().Set("Retry-After", strconv.Itoa(l.retryAfterSeconds()))
				apierrors.RateLimited(w, "Превышен лимит загрузок, повторите позже")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// retryAfterSeconds — время до появления следующего токена.
func (l *UploadRateLimiter) retryAfterSeconds() int {
	interval := time.Duration(float64(time.Second) / float64(l.limit))
	secs := int(interval.Round(time.Second) / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}
