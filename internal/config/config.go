// Пакет config — загрузка и валидация конфигурации Media Module
// из переменных окружения.
package config

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Допустимые backend'ы кэша метаданных.
const (
	CacheBackendRedis  = "redis"
	CacheBackendMemory = "memory"
)

// defaultAllowedTypes — allow-list MIME-типов по умолчанию.
var defaultAllowedTypes = []string{
	"image/jpeg", "image/png", "image/gif", "image/webp", "image/bmp", "image/tiff",
	"video/mp4", "video/webm", "video/quicktime", "video/x-msvideo",
	"audio/mpeg", "audio/ogg", "audio/wav",
	"application/pdf",
	"application/msword",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"application/vnd.oasis.opendocument.text",
	"text/plain", "text/csv", "text/markdown",
	"application/zip", "application/x-7z-compressed", "application/gzip",
}

// Dimensions — размеры size class миниатюры.
type Dimensions struct {
	Width  int
	Height int
}

// Config содержит все параметры конфигурации Media Module.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера (диапазон 8040-8049)
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string
	// Базовый URL для формирования канонических ссылок на файлы
	PublicBaseURL string

	// --- HTTP Server Timeouts ---

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	// Таймаут graceful shutdown
	ShutdownTimeout time.Duration
	// Верхняя граница длительности синхронных операций (upload, download, preview, url)
	RequestTimeout time.Duration

	// --- PostgreSQL ---

	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	DBSSLMode  string

	// --- S3 ---

	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	S3Bucket    string
	S3Region    string
	S3UseSSL    bool
	// Таймаут одного обращения к объектному хранилищу
	BlobTimeout time.Duration

	// --- Шифрование ---

	// Шифровать ли оригиналы перед записью в S3
	EncryptionEnabled bool
	// Ключ AES-256 (32 байта), обязателен при EncryptionEnabled
	EncryptionKey []byte

	// --- Кэш ---

	// Backend кэша: redis или memory
	CacheBackend  string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	// TTL записей кэша метаданных
	CacheTTL time.Duration
	// Максимальное количество записей in-memory кэша
	CacheSize int

	// --- Загрузка ---

	// Максимальный размер файла в байтах
	MaxFileSize int64
	// Максимальное количество файлов в одном multi-upload
	MaxFilesPerUpload int
	// Разрешённые MIME-типы
	AllowedTypes []string
	// Лимит загрузок в минуту на одного пользователя
	UploadRateLimit int

	// --- Производные ---

	// Размеры size class: small, medium, large
	SizeClasses map[string]Dimensions
	// Качество JPEG (1-100)
	ThumbnailQuality int
	// Разрешение растеризации первой страницы документа
	DocumentDPI int
	// Смещение кадра видео для миниатюры
	VideoFrameOffset time.Duration
	// Путь к ffmpeg
	FFmpegPath string
	// Путь к pdftoppm
	PdftoppmPath string
	// Таймаут генерации одной производной
	ProcessingTimeout time.Duration

	// --- Signed URL ---

	SignedURLTTL    time.Duration
	SignedURLMaxTTL time.Duration

	// --- Очередь задач ---

	// Количество воркеров генерации производных
	Workers int
	// Ёмкость очереди задач
	QueueSize int
	// Максимальное число попыток задачи
	TaskMaxAttempts int
	// Cron-расписание фоновых sweep'ов
	SweepSchedule string
	// Через сколько зависшая задача считается потерянной
	RecoveryStaleAfter time.Duration

	// --- JWT ---

	JWKSURL             string
	JWKSCACert          string
	JWTIssuer           string
	JWTLeeway           time.Duration
	JWKSRefreshInterval time.Duration
	JWKSClientTimeout   time.Duration

	// --- topologymetrics ---

	DephealthCheckInterval time.Duration
	DephealthGroup         string
}

// Load загружает конфигурацию из переменных окружения.
// Возвращает ошибку, если обязательные переменные не заданы
// или значения некорректны.
//
//nolint:gocyclo,funlen // линейный разбор переменных окружения
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	// MM_PORT — порт HTTP-сервера (по умолчанию 8040)
	cfg.Port, err = getEnvInt("MM_PORT", 8040)
	if err != nil {
		return nil, fmt.Errorf("MM_PORT: %w", err)
	}
	if cfg.Port < 8040 || cfg.Port > 8049 {
		return nil, fmt.Errorf("MM_PORT: значение %d вне допустимого диапазона 8040-8049", cfg.Port)
	}

	cfg.LogLevel, err = parseLogLevel(getEnvDefault("MM_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("MM_LOG_LEVEL: %w", err)
	}

	cfg.LogFormat = getEnvDefault("MM_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("MM_LOG_FORMAT: недопустимый формат %q, допустимые: json, text", cfg.LogFormat)
	}

	cfg.PublicBaseURL = strings.TrimRight(getEnvDefault("MM_PUBLIC_BASE_URL", ""), "/")

	if cfg.HTTPReadTimeout, err = getEnvDuration("MM_HTTP_READ_TIMEOUT", 30*time.Second); err != nil {
		return nil, fmt.Errorf("MM_HTTP_READ_TIMEOUT: %w", err)
	}
	if cfg.HTTPWriteTimeout, err = getEnvDuration("MM_HTTP_WRITE_TIMEOUT", 120*time.Second); err != nil {
		return nil, fmt.Errorf("MM_HTTP_WRITE_TIMEOUT: %w", err)
	}
	if cfg.HTTPIdleTimeout, err = getEnvDuration("MM_HTTP_IDLE_TIMEOUT", 120*time.Second); err != nil {
		return nil, fmt.Errorf("MM_HTTP_IDLE_TIMEOUT: %w", err)
	}
	if cfg.ShutdownTimeout, err = getEnvDuration("MM_SHUTDOWN_TIMEOUT", 10*time.Second); err != nil {
		return nil, fmt.Errorf("MM_SHUTDOWN_TIMEOUT: %w", err)
	}
	if cfg.RequestTimeout, err = getEnvPositiveDuration("MM_REQUEST_TIMEOUT", 60*time.Second); err != nil {
		return nil, fmt.Errorf("MM_REQUEST_TIMEOUT: %w", err)
	}

	// --- PostgreSQL ---

	if cfg.DBHost, err = getEnvRequired("MM_DB_HOST"); err != nil {
		return nil, err
	}
	if cfg.DBPort, err = getEnvInt("MM_DB_PORT", 5432); err != nil {
		return nil, fmt.Errorf("MM_DB_PORT: %w", err)
	}
	cfg.DBName = getEnvDefault("MM_DB_NAME", "artstore")
	if cfg.DBUser, err = getEnvRequired("MM_DB_USER"); err != nil {
		return nil, err
	}
	if cfg.DBPassword, err = getEnvRequired("MM_DB_PASSWORD"); err != nil {
		return nil, err
	}
	cfg.DBSSLMode = getEnvDefault("MM_DB_SSL_MODE", "disable")
	switch cfg.DBSSLMode {
	case "disable", "require", "verify-ca", "verify-full":
	default:
		return nil, fmt.Errorf("MM_DB_SSL_MODE: недопустимое значение %q", cfg.DBSSLMode)
	}

	// --- S3 ---

	if cfg.S3Endpoint, err = getEnvRequired("MM_S3_ENDPOINT"); err != nil {
		return nil, err
	}
	if cfg.S3AccessKey, err = getEnvRequired("MM_S3_ACCESS_KEY"); err != nil {
		return nil, err
	}
	if cfg.S3SecretKey, err = getEnvRequired("MM_S3_SECRET_KEY"); err != nil {
		return nil, err
	}
	cfg.S3Bucket = getEnvDefault("MM_S3_BUCKET", "media")
	cfg.S3Region = getEnvDefault("MM_S3_REGION", "us-east-1")
	if cfg.S3UseSSL, err = getEnvBool("MM_S3_USE_SSL", false); err != nil {
		return nil, fmt.Errorf("MM_S3_USE_SSL: %w", err)
	}
	if cfg.BlobTimeout, err = getEnvPositiveDuration("MM_BLOB_TIMEOUT", 30*time.Second); err != nil {
		return nil, fmt.Errorf("MM_BLOB_TIMEOUT: %w", err)
	}

	// --- Шифрование ---

	if cfg.EncryptionEnabled, err = getEnvBool("MM_ENCRYPTION_ENABLED", false); err != nil {
		return nil, fmt.Errorf("MM_ENCRYPTION_ENABLED: %w", err)
	}
	if cfg.EncryptionEnabled {
		raw, reqErr := getEnvRequired("MM_ENCRYPTION_KEY")
		if reqErr != nil {
			return nil, reqErr
		}
		cfg.EncryptionKey, err = parseEncryptionKey(raw)
		if err != nil {
			return nil, fmt.Errorf("MM_ENCRYPTION_KEY: %w", err)
		}
	}

	// --- Кэш ---

	cfg.CacheBackend = getEnvDefault("MM_CACHE_BACKEND", CacheBackendRedis)
	if cfg.CacheBackend != CacheBackendRedis && cfg.CacheBackend != CacheBackendMemory {
		return nil, fmt.Errorf("MM_CACHE_BACKEND: недопустимое значение %q, допустимые: redis, memory", cfg.CacheBackend)
	}
	cfg.RedisAddr = getEnvDefault("MM_REDIS_ADDR", "localhost:6379")
	cfg.RedisPassword = getEnvDefault("MM_REDIS_PASSWORD", "")
	if cfg.RedisDB, err = getEnvInt("MM_REDIS_DB", 0); err != nil {
		return nil, fmt.Errorf("MM_REDIS_DB: %w", err)
	}
	if cfg.CacheTTL, err = getEnvPositiveDuration("MM_CACHE_TTL", 5*time.Minute); err != nil {
		return nil, fmt.Errorf("MM_CACHE_TTL: %w", err)
	}
	if cfg.CacheSize, err = getEnvInt("MM_CACHE_SIZE", 10000); err != nil {
		return nil, fmt.Errorf("MM_CACHE_SIZE: %w", err)
	}
	if cfg.CacheSize <= 0 {
		return nil, fmt.Errorf("MM_CACHE_SIZE: значение должно быть положительным")
	}

	// --- Загрузка ---

	// MM_MAX_FILE_SIZE — максимальный размер файла (по умолчанию 50 MB)
	if cfg.MaxFileSize, err = getEnvInt64("MM_MAX_FILE_SIZE", 50<<20); err != nil {
		return nil, fmt.Errorf("MM_MAX_FILE_SIZE: %w", err)
	}
	if cfg.MaxFileSize <= 0 {
		return nil, fmt.Errorf("MM_MAX_FILE_SIZE: значение должно быть положительным")
	}
	if cfg.MaxFilesPerUpload, err = getEnvInt("MM_MAX_FILES_PER_UPLOAD", 10); err != nil {
		return nil, fmt.Errorf("MM_MAX_FILES_PER_UPLOAD: %w", err)
	}
	if cfg.MaxFilesPerUpload <= 0 {
		return nil, fmt.Errorf("MM_MAX_FILES_PER_UPLOAD: значение должно быть положительным")
	}
	cfg.AllowedTypes = getEnvList("MM_ALLOWED_TYPES", defaultAllowedTypes)
	if cfg.UploadRateLimit, err = getEnvInt("MM_UPLOAD_RATE_LIMIT", 30); err != nil {
		return nil, fmt.Errorf("MM_UPLOAD_RATE_LIMIT: %w", err)
	}
	if cfg.UploadRateLimit < 0 {
		return nil, fmt.Errorf("MM_UPLOAD_RATE_LIMIT: значение не может быть отрицательным")
	}

	// --- Производные ---

	cfg.SizeClasses = make(map[string]Dimensions, 3)
	for _, sc := range []struct{ name, key, def string }{
		{"small", "MM_THUMB_SMALL", "150x150"},
		{"medium", "MM_THUMB_MEDIUM", "300x300"},
		{"large", "MM_THUMB_LARGE", "800x800"},
	} {
		dims, dimErr := ParseDimensions(getEnvDefault(sc.key, sc.def))
		if dimErr != nil {
			return nil, fmt.Errorf("%s: %w", sc.key, dimErr)
		}
		cfg.SizeClasses[sc.name] = dims
	}
	if cfg.ThumbnailQuality, err = getEnvInt("MM_THUMBNAIL_QUALITY", 80); err != nil {
		return nil, fmt.Errorf("MM_THUMBNAIL_QUALITY: %w", err)
	}
	if cfg.ThumbnailQuality < 1 || cfg.ThumbnailQuality > 100 {
		return nil, fmt.Errorf("MM_THUMBNAIL_QUALITY: значение %d вне диапазона 1-100", cfg.ThumbnailQuality)
	}
	if cfg.DocumentDPI, err = getEnvInt("MM_DOCUMENT_DPI", 72); err != nil {
		return nil, fmt.Errorf("MM_DOCUMENT_DPI: %w", err)
	}
	if cfg.VideoFrameOffset, err = getEnvDuration("MM_VIDEO_FRAME_OFFSET", time.Second); err != nil {
		return nil, fmt.Errorf("MM_VIDEO_FRAME_OFFSET: %w", err)
	}
	cfg.FFmpegPath = getEnvDefault("MM_FFMPEG_PATH", "ffmpeg")
	cfg.PdftoppmPath = getEnvDefault("MM_PDFTOPPM_PATH", "pdftoppm")
	if cfg.ProcessingTimeout, err = getEnvPositiveDuration("MM_PROCESSING_TIMEOUT", 45*time.Second); err != nil {
		return nil, fmt.Errorf("MM_PROCESSING_TIMEOUT: %w", err)
	}

	// --- Signed URL ---

	if cfg.SignedURLTTL, err = getEnvPositiveDuration("MM_SIGNED_URL_TTL", time.Hour); err != nil {
		return nil, fmt.Errorf("MM_SIGNED_URL_TTL: %w", err)
	}
	// 7 дней — предел presigned URL в S3
	if cfg.SignedURLMaxTTL, err = getEnvPositiveDuration("MM_SIGNED_URL_MAX_TTL", 7*24*time.Hour); err != nil {
		return nil, fmt.Errorf("MM_SIGNED_URL_MAX_TTL: %w", err)
	}
	if cfg.SignedURLTTL > cfg.SignedURLMaxTTL {
		return nil, fmt.Errorf("MM_SIGNED_URL_TTL: значение %s превышает MM_SIGNED_URL_MAX_TTL (%s)",
			cfg.SignedURLTTL, cfg.SignedURLMaxTTL)
	}

	// --- Очередь задач ---

	if cfg.Workers, err = getEnvInt("MM_WORKERS", 4); err != nil {
		return nil, fmt.Errorf("MM_WORKERS: %w", err)
	}
	if cfg.Workers <= 0 {
		return nil, fmt.Errorf("MM_WORKERS: значение должно быть положительным")
	}
	if cfg.QueueSize, err = getEnvInt("MM_QUEUE_SIZE", 256); err != nil {
		return nil, fmt.Errorf("MM_QUEUE_SIZE: %w", err)
	}
	if cfg.QueueSize <= 0 {
		return nil, fmt.Errorf("MM_QUEUE_SIZE: значение должно быть положительным")
	}
	if cfg.TaskMaxAttempts, err = getEnvInt("MM_TASK_MAX_ATTEMPTS", 3); err != nil {
		return nil, fmt.Errorf("MM_TASK_MAX_ATTEMPTS: %w", err)
	}
	if cfg.TaskMaxAttempts <= 0 {
		return nil, fmt.Errorf("MM_TASK_MAX_ATTEMPTS: значение должно быть положительным")
	}
	cfg.SweepSchedule = getEnvDefault("MM_SWEEP_SCHEDULE", "@every 5m")
	if cfg.RecoveryStaleAfter, err = getEnvPositiveDuration("MM_RECOVERY_STALE_AFTER", 10*time.Minute); err != nil {
		return nil, fmt.Errorf("MM_RECOVERY_STALE_AFTER: %w", err)
	}

	// --- JWT ---

	if cfg.JWKSURL, err = getEnvRequired("MM_JWKS_URL"); err != nil {
		return nil, err
	}
	cfg.JWKSCACert = getEnvDefault("MM_JWKS_CA_CERT", "")
	cfg.JWTIssuer = getEnvDefault("MM_JWT_ISSUER", "")
	if cfg.JWTLeeway, err = getEnvDuration("MM_JWT_LEEWAY", 5*time.Second); err != nil {
		return nil, fmt.Errorf("MM_JWT_LEEWAY: %w", err)
	}
	if cfg.JWKSRefreshInterval, err = getEnvPositiveDuration("MM_JWKS_REFRESH_INTERVAL", 15*time.Minute); err != nil {
		return nil, fmt.Errorf("MM_JWKS_REFRESH_INTERVAL: %w", err)
	}
	if cfg.JWKSClientTimeout, err = getEnvPositiveDuration("MM_JWKS_CLIENT_TIMEOUT", 10*time.Second); err != nil {
		return nil, fmt.Errorf("MM_JWKS_CLIENT_TIMEOUT: %w", err)
	}

	// --- topologymetrics ---

	if cfg.DephealthCheckInterval, err = getEnvPositiveDuration("MM_DEPHEALTH_CHECK_INTERVAL", 15*time.Second); err != nil {
		return nil, fmt.Errorf("MM_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}
	cfg.DephealthGroup = getEnvDefault("MM_DEPHEALTH_GROUP", "media-module")

	return cfg, nil
}

// DatabaseDSN возвращает строку подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
}

// DatabaseURL возвращает URL подключения к PostgreSQL (для golang-migrate и метрик).
func (c *Config) DatabaseURL(scheme string) string {
	return fmt.Sprintf(
		"%s://%s:%s@%s:%d/%s?sslmode=%s",
		scheme, c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode,
	)
}

// S3URL возвращает URL объектного хранилища (http или https по MM_S3_USE_SSL).
func (c *Config) S3URL() string {
	if c.S3UseSSL {
		return "https://" + c.S3Endpoint
	}
	return "http://" + c.S3Endpoint
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// ParseDimensions разбирает размеры в формате WxH (например, 300x300).
func ParseDimensions(s string) (Dimensions, error) {
	parts := strings.SplitN(strings.ToLower(strings.TrimSpace(s)), "x", 2)
	if len(parts) != 2 {
		return Dimensions{}, fmt.Errorf("некорректный формат размеров %q, ожидается WxH", s)
	}
	w, err := strconv.Atoi(parts[0])
	if err != nil || w <= 0 {
		return Dimensions{}, fmt.Errorf("некорректная ширина в %q", s)
	}
	h, err := strconv.Atoi(parts[1])
	if err != nil || h <= 0 {
		return Dimensions{}, fmt.Errorf("некорректная высота в %q", s)
	}
	return Dimensions{Width: w, Height: h}, nil
}

// parseEncryptionKey декодирует hex-ключ AES-256.
func parseEncryptionKey(raw string) ([]byte, error) {
	key, err := hex.DecodeString(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("ключ должен быть в hex: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("длина ключа %d байт, требуется 32", len(key))
	}
	return key, nil
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvInt64 возвращает int64 значение переменной окружения или значение по умолчанию.
func getEnvInt64(key string, defaultVal int64) (int64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
	}
	return d, nil
}

// getEnvPositiveDuration — как getEnvDuration, но значение должно быть > 0.
func getEnvPositiveDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	d, err := getEnvDuration(key, defaultVal)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("значение должно быть > 0")
	}
	return d, nil
}

// getEnvBool возвращает булево значение переменной окружения или значение по умолчанию.
func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("некорректное булево значение: %q (допустимые: true, false, 1, 0)", val)
	}
	return b, nil
}

// getEnvList возвращает список значений через запятую или значение по умолчанию.
func getEnvList(key string, defaultVal []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return append([]string(nil), defaultVal...)
	}
	var result []string
	for _, item := range strings.Split(val, ",") {
		item = strings.ToLower(strings.TrimSpace(item))
		if item != "" {
			result = append(result, item)
		}
	}
	return result
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}
