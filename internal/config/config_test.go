package config

import (
	"log/slog"
	"strings"
	"testing"
	"time"
)

// setEnvs устанавливает переменные окружения на время теста.
func setEnvs(t *testing.T, envs map[string]string) {
	t.Helper()
	for k, v := range envs {
		t.Setenv(k, v)
	}
}

// minimalEnvs возвращает минимальный набор обязательных переменных.
func minimalEnvs() map[string]string {
	return map[string]string{
		"MM_DB_HOST":       "localhost",
		"MM_DB_USER":       "artstore",
		"MM_DB_PASSWORD":   "secret",
		"MM_S3_ENDPOINT":   "minio:9000",
		"MM_S3_ACCESS_KEY": "minioadmin",
		"MM_S3_SECRET_KEY": "minioadmin",
		"MM_JWKS_URL":      "https://keycloak.kryukov.lan/realms/artstore/protocol/openid-connect/certs",
	}
}

func TestLoad_MinimalConfig(t *testing.T) {
	setEnvs(t, minimalEnvs())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() вернул ошибку: %v", err)
	}

	if cfg.Port != 8040 {
		t.Errorf("Port = %d, ожидается 8040", cfg.Port)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("LogLevel = %v, ожидается Info", cfg.LogLevel)
	}
	if cfg.LogFormat != "json" {
		t.Errorf("LogFormat = %q, ожидается json", cfg.LogFormat)
	}
	if cfg.DBName != "artstore" {
		t.Errorf("DBName = %q, ожидается artstore", cfg.DBName)
	}
	if cfg.S3Bucket != "media" {
		t.Errorf("S3Bucket = %q, ожидается media", cfg.S3Bucket)
	}
	if cfg.EncryptionEnabled {
		t.Error("EncryptionEnabled = true, ожидается false")
	}
	if cfg.CacheBackend != CacheBackendRedis {
		t.Errorf("CacheBackend = %q, ожидается redis", cfg.CacheBackend)
	}
	if cfg.MaxFileSize != 50<<20 {
		t.Errorf("MaxFileSize = %d, ожидается 50 MB", cfg.MaxFileSize)
	}
	if cfg.MaxFilesPerUpload != 10 {
		t.Errorf("MaxFilesPerUpload = %d, ожидается 10", cfg.MaxFilesPerUpload)
	}
	if got := cfg.SizeClasses["medium"]; got != (Dimensions{Width: 300, Height: 300}) {
		t.Errorf("SizeClasses[medium] = %+v, ожидается 300x300", got)
	}
	if cfg.ThumbnailQuality != 80 {
		t.Errorf("ThumbnailQuality = %d, ожидается 80", cfg.ThumbnailQuality)
	}
	if cfg.VideoFrameOffset != time.Second {
		t.Errorf("VideoFrameOffset = %v, ожидается 1s", cfg.VideoFrameOffset)
	}
	if cfg.SignedURLTTL != time.Hour {
		t.Errorf("SignedURLTTL = %v, ожидается 1h", cfg.SignedURLTTL)
	}
	if cfg.Workers != 4 {
		t.Errorf("Workers = %d, ожидается 4", cfg.Workers)
	}
	if cfg.TaskMaxAttempts != 3 {
		t.Errorf("TaskMaxAttempts = %d, ожидается 3", cfg.TaskMaxAttempts)
	}
	if cfg.SweepSchedule != "@every 5m" {
		t.Errorf("SweepSchedule = %q, ожидается @every 5m", cfg.SweepSchedule)
	}
	if len(cfg.AllowedTypes) == 0 {
		t.Error("AllowedTypes пустой, ожидается список по умолчанию")
	}
}

func TestLoad_CustomValues(t *testing.T) {
	envs := minimalEnvs()
	envs["MM_PORT"] = "8045"
	envs["MM_LOG_LEVEL"] = "debug"
	envs["MM_LOG_FORMAT"] = "text"
	envs["MM_CACHE_BACKEND"] = "memory"
	envs["MM_THUMB_SMALL"] = "64x48"
	envs["MM_ALLOWED_TYPES"] = "image/png, Image/JPEG"
	envs["MM_ENCRYPTION_ENABLED"] = "true"
	envs["MM_ENCRYPTION_KEY"] = strings.Repeat("ab", 32)
	envs["MM_PUBLIC_BASE_URL"] = "https://media.kryukov.lan/"
	setEnvs(t, envs)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() вернул ошибку: %v", err)
	}

	if cfg.Port != 8045 {
		t.Errorf("Port = %d, ожидается 8045", cfg.Port)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("LogLevel = %v, ожидается Debug", cfg.LogLevel)
	}
	if cfg.CacheBackend != CacheBackendMemory {
		t.Errorf("CacheBackend = %q, ожидается memory", cfg.CacheBackend)
	}
	if got := cfg.SizeClasses["small"]; got != (Dimensions{Width: 64, Height: 48}) {
		t.Errorf("SizeClasses[small] = %+v, ожидается 64x48", got)
	}
	if len(cfg.AllowedTypes) != 2 || cfg.AllowedTypes[1] != "image/jpeg" {
		t.Errorf("AllowedTypes = %v, ожидается [image/png image/jpeg]", cfg.AllowedTypes)
	}
	if len(cfg.EncryptionKey) != 32 {
		t.Errorf("len(EncryptionKey) = %d, ожидается 32", len(cfg.EncryptionKey))
	}
	if cfg.PublicBaseURL != "https://media.kryukov.lan" {
		t.Errorf("PublicBaseURL = %q, ожидается без завершающего /", cfg.PublicBaseURL)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"порт вне диапазона", "MM_PORT", "9000"},
		{"некорректный уровень логов", "MM_LOG_LEVEL", "verbose"},
		{"некорректный формат логов", "MM_LOG_FORMAT", "xml"},
		{"неизвестный backend кэша", "MM_CACHE_BACKEND", "memcached"},
		{"некорректные размеры", "MM_THUMB_LARGE", "800"},
		{"нулевой размер файла", "MM_MAX_FILE_SIZE", "0"},
		{"качество вне диапазона", "MM_THUMBNAIL_QUALITY", "101"},
		{"некорректная длительность", "MM_CACHE_TTL", "5 minutes"},
		{"TTL больше максимума", "MM_SIGNED_URL_TTL", "200h"},
		{"шифрование без ключа", "MM_ENCRYPTION_ENABLED", "true"},
		{"некорректный ssl mode", "MM_DB_SSL_MODE", "prefer-maybe"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			envs := minimalEnvs()
			envs[tt.key] = tt.val
			setEnvs(t, envs)

			if _, err := Load(); err == nil {
				t.Errorf("Load() с %s=%q: ожидалась ошибка", tt.key, tt.val)
			}
		})
	}
}

func TestLoad_MissingRequired(t *testing.T) {
	for key := range minimalEnvs() {
		t.Run(key, func(t *testing.T) {
			envs := minimalEnvs()
			envs[key] = ""
			setEnvs(t, envs)

			_, err := Load()
			if err == nil {
				t.Fatalf("Load() без %s: ожидалась ошибка", key)
			}
			if !strings.Contains(err.Error(), key) {
				t.Errorf("ошибка %q не содержит имя переменной %s", err, key)
			}
		})
	}
}

func TestLoad_ShortEncryptionKey(t *testing.T) {
	envs := minimalEnvs()
	envs["MM_ENCRYPTION_ENABLED"] = "true"
	envs["MM_ENCRYPTION_KEY"] = "abcd"
	setEnvs(t, envs)

	if _, err := Load(); err == nil {
		t.Fatal("Load() с коротким ключом: ожидалась ошибка")
	}
}

func TestParseDimensions(t *testing.T) {
	tests := []struct {
		in      string
		want    Dimensions
		wantErr bool
	}{
		{"150x150", Dimensions{150, 150}, false},
		{"640X480", Dimensions{640, 480}, false},
		{" 32x16 ", Dimensions{32, 16}, false},
		{"0x10", Dimensions{}, true},
		{"10x", Dimensions{}, true},
		{"abc", Dimensions{}, true},
		{"-5x5", Dimensions{}, true},
	}

	for _, tt := range tests {
		got, err := ParseDimensions(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseDimensions(%q) ошибка = %v, ожидается ошибка: %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseDimensions(%q) = %+v, ожидается %+v", tt.in, got, tt.want)
		}
	}
}

func TestDatabaseDSN(t *testing.T) {
	cfg := &Config{
		DBHost: "db", DBPort: 5432, DBName: "artstore",
		DBUser: "u", DBPassword: "p", DBSSLMode: "disable",
	}
	want := "host=db port=5432 dbname=artstore user=u password=p sslmode=disable"
	if got := cfg.DatabaseDSN(); got != want {
		t.Errorf("DatabaseDSN() = %q, ожидается %q", got, want)
	}
	if got := cfg.DatabaseURL("pgx5"); got != "pgx5://u:p@db:5432/artstore?sslmode=disable" {
		t.Errorf("DatabaseURL() = %q", got)
	}
}
