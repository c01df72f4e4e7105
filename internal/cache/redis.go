package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bigkaa/goartstore/media-module/internal/domain/model"
)

// RedisOptions — параметры подключения к Redis.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	// TTL — время жизни записей (кроме подписанных ссылок, у них свой срок)
	TTL time.Duration
	// OpTimeout — таймаут одной операции
	OpTimeout time.Duration
}

// Redis — реализация Cache поверх Redis. Значения хранятся в JSON,
// у каждой записи есть TTL.
type Redis struct {
	client    redis.UniversalClient
	ttl       time.Duration
	opTimeout time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// NewRedis подключается к Redis и проверяет соединение через PING.
func NewRedis(ctx context.Context, opts RedisOptions, logger *slog.Logger) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ошибка подключения к Redis %s: %w", opts.Addr, err)
	}

	logger.Info("Подключение к Redis установлено", slog.String("addr", opts.Addr))
	return newRedis(client, opts, logger), nil
}

func newRedis(client redis.UniversalClient, opts RedisOptions, logger *slog.Logger) *Redis {
	if opts.OpTimeout <= 0 {
		opts.OpTimeout = time.Second
	}
	return &Redis{
		client:    client,
		ttl:       opts.TTL,
		opTimeout: opts.OpTimeout,
		logger:    logger.With(slog.String("component", "redis_cache")),
		now:       time.Now,
	}
}

// Close закрывает соединения с Redis.
func (r *Redis) Close() error {
	return r.client.Close()
}

// CheckReady проверяет доступность Redis для health endpoint.
func (r *Redis) CheckReady() (status string, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := r.client.Ping(ctx).Err(); err != nil {
		return "fail", fmt.Sprintf("Redis недоступен: %v", err)
	}
	return "ok", "подключение активно"
}

func (r *Redis) GetFile(ctx context.Context, fileID string) (*model.File, bool) {
	var f model.File
	ok := r.getJSON(ctx, kindFile, fileKey(fileID), &f)
	if !ok {
		return nil, false
	}
	return &f, true
}

func (r *Redis) PutFile(ctx context.Context, f *model.File) {
	r.setJSON(ctx, fileKey(f.ID), f, r.ttl)
}

func (r *Redis) InvalidateFile(ctx context.Context, fileID string) {
	r.del(ctx, fileKey(fileID), signedURLKey(fileID), processingKey(fileID))
}

func (r *Redis) GetSignedURL(ctx context.Context, fileID string) (*SignedURL, bool) {
	var u SignedURL
	if !r.getJSON(ctx, kindSignedURL, signedURLKey(fileID), &u) {
		return nil, false
	}
	if !u.ExpiresAt.After(r.now()) {
		return nil, false
	}
	return &u, true
}

func (r *Redis) PutSignedURL(ctx context.Context, fileID, url string, ttl time.Duration) {
	r.setJSON(ctx, signedURLKey(fileID), SignedURL{URL: url, ExpiresAt: r.now().Add(ttl)}, ttl)
}

func (r *Redis) GetProcessingStatus(ctx context.Context, fileID string) (string, bool) {
	return r.getString(ctx, kindProcessing, processingKey(fileID))
}

func (r *Redis) PutProcessingStatus(ctx context.Context, fileID, status string) {
	r.set(ctx, processingKey(fileID), status, r.ttl)
}

func (r *Redis) GetOwnerFileCount(ctx context.Context, ownerID string) (int, bool) {
	s, ok := r.getString(ctx, kindOwnerCount, ownerCountKey(ownerID))
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return n, true
}

func (r *Redis) PutOwnerFileCount(ctx context.Context, ownerID string, count int) {
	r.set(ctx, ownerCountKey(ownerID), strconv.Itoa(count), r.ttl)
}

func (r *Redis) InvalidateOwnerFileCount(ctx context.Context, ownerID string) {
	r.del(ctx, ownerCountKey(ownerID))
}

// --- Вспомогательные методы ---

func (r *Redis) getString(ctx context.Context, kind, key string) (string, bool) {
	ctx, cancel := context.WithTimeout(ctx, r.opTimeout)
	defer cancel()

	val, err := r.client.Get(ctx, key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			r.logError("get", key, err)
		}
		observe(kind, false)
		return "", false
	}
	observe(kind, true)
	return val, true
}

func (r *Redis) getJSON(ctx context.Context, kind, key string, dst any) bool {
	val, ok := r.getString(ctx, kind, key)
	if !ok {
		return false
	}
	if err := json.Unmarshal([]byte(val), dst); err != nil {
		r.logError("decode", key, err)
		r.del(ctx, key)
		return false
	}
	return true
}

func (r *Redis) setJSON(ctx context.Context, key string, v any, ttl time.Duration) {
	data, err := json.Marshal(v)
	if err != nil {
		r.logError("encode", key, err)
		return
	}
	r.set(ctx, key, string(data), ttl)
}

func (r *Redis) set(ctx context.Context, key, val string, ttl time.Duration) {
	ctx, cancel := context.WithTimeout(ctx, r.opTimeout)
	defer cancel()

	if err := r.client.Set(ctx, key, val, ttl).Err(); err != nil {
		r.logError("set", key, err)
	}
}

func (r *Redis) del(ctx context.Context, keys ...string) {
	ctx, cancel := context.WithTimeout(ctx, r.opTimeout)
	defer cancel()

	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		r.logError("del", keys[0], err)
	}
}

func (r *Redis) logError(op, key string, err error) {
	cacheErrorsTotal.WithLabelValues(op).Inc()
	r.logger.Warn("Ошибка обращения к кэшу",
		slog.String("op", op),
		slog.String("key", key),
		slog.String("error", err.Error()),
	)
}
