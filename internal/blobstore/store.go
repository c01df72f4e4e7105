// Пакет blobstore — адаптер S3-совместимого объектного хранилища.
// Отвечает за именование ключей, checksum и шифрование оригиналов.
// Все обращения к S3 выполняются с таймаутом.
package blobstore

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Ошибки адаптера.
var (
	// ErrObjectNotFound — объект с таким ключом отсутствует.
	ErrObjectNotFound = errors.New("объект не найден")
	// ErrUnavailable — хранилище недоступно или вернуло ошибку транспорта.
	ErrUnavailable = errors.New("объектное хранилище недоступно")
)

// Ключи пользовательских метаданных объекта.
const (
	metaOriginalFilename = "original-filename"
	metaUploadedAt       = "uploaded-at"
	metaEncrypted        = "encrypted"
	metaNonce            = "nonce"
	metaChecksum         = "checksum"
)

// backend — низкоуровневые операции над объектами бакета.
// Реализуется minioBackend; в тестах подменяется in-memory реализацией.
type backend interface {
	put(ctx context.Context, key string, data []byte, contentType string, meta map[string]string) (etag string, err error)
	get(ctx context.Context, key string) (data []byte, meta map[string]string, err error)
	stat(ctx context.Context, key string) (meta map[string]string, err error)
	remove(ctx context.Context, key string) error
	list(ctx context.Context, prefix string) ([]string, error)
	presign(ctx context.Context, key string, ttl time.Duration, params url.Values) (string, error)
	ping(ctx context.Context) error
	objectURL(key string) string
}

// PutMetadata — метаданные, сохраняемые вместе с объектом.
type PutMetadata struct {
	// OriginalFilename — оригинальное имя файла
	OriginalFilename string
	// Checksum — SHA-256 открытого текста
	Checksum string
	// Encrypt — шифровать ли объект (игнорируется, если шифр не настроен)
	Encrypt bool
}

// PutResult — результат записи объекта.
type PutResult struct {
	URL       string
	ETag      string
	Encrypted bool
}

// Store — адаптер объектного хранилища.
type Store struct {
	backend backend
	cipher  *Cipher
	timeout time.Duration
	logger  *slog.Logger
	now     func() time.Time
}

// newStore собирает Store поверх произвольного backend.
func newStore(b backend, c *Cipher, timeout time.Duration, logger *slog.Logger) *Store {
	return &Store{
		backend: b,
		cipher:  c,
		timeout: timeout,
		logger:  logger.With(slog.String("component", "blobstore")),
		now:     time.Now,
	}
}

// EncryptionEnabled возвращает true, если настроен шифр.
func (s *Store) EncryptionEnabled() bool {
	return s.cipher != nil
}

// Put сохраняет объект. При включённом шифровании и meta.Encrypt
// данные шифруются AES-256-GCM, nonce сохраняется в метаданных.
func (s *Store) Put(ctx context.Context, key string, data []byte, contentType string, meta PutMetadata) (*PutResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	userMeta := map[string]string{
		metaOriginalFilename: url.PathEscape(meta.OriginalFilename),
		metaUploadedAt:       s.now().UTC().Format(time.RFC3339),
		metaEncrypted:        "false",
	}
	if meta.Checksum != "" {
		userMeta[metaChecksum] = meta.Checksum
	}

	payload := data
	encrypted := false
	if meta.Encrypt && s.cipher != nil {
		ciphertext, nonce, err := s.cipher.Seal(data)
		if err != nil {
			return nil, fmt.Errorf("ошибка шифрования объекта %s: %w", key, err)
		}
		payload = ciphertext
		encrypted = true
		userMeta[metaEncrypted] = "true"
		userMeta[metaNonce] = hex.EncodeToString(nonce)
		// Объект в S3 — шифротекст, его тип не совпадает с заявленным
		contentType = "application/octet-stream"
	}

	etag, err := s.backend.put(ctx, key, payload, contentType, userMeta)
	if err != nil {
		return nil, fmt.Errorf("ошибка записи объекта %s: %w", key, err)
	}

	s.logger.Debug("Объект сохранён",
		slog.String("key", key),
		slog.Int("size", len(payload)),
		slog.Bool("encrypted", encrypted),
	)

	return &PutResult{
		URL:       s.backend.objectURL(key),
		ETag:      etag,
		Encrypted: encrypted,
	}, nil
}

// Get читает объект и расшифровывает его, если метаданные указывают на шифрование.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	data, meta, err := s.backend.get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения объекта %s: %w", key, err)
	}

	encrypted, _ := strconv.ParseBool(metaValue(meta, metaEncrypted))
	if !encrypted {
		return data, nil
	}

	if s.cipher == nil {
		return nil, fmt.Errorf("%w: объект %s зашифрован, ключ не настроен", ErrDecrypt, key)
	}
	nonce, err := hex.DecodeString(metaValue(meta, metaNonce))
	if err != nil {
		return nil, fmt.Errorf("%w: некорректный nonce объекта %s", ErrDecrypt, key)
	}
	plaintext, err := s.cipher.Open(data, nonce)
	if err != nil {
		return nil, fmt.Errorf("объект %s: %w", key, err)
	}
	return plaintext, nil
}

// Delete удаляет объект. Отсутствие объекта не считается ошибкой.
func (s *Store) Delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.backend.remove(ctx, key); err != nil && !errors.Is(err, ErrObjectNotFound) {
		return fmt.Errorf("ошибка удаления объекта %s: %w", key, err)
	}
	return nil
}

// DeletePrefix удаляет все объекты с префиксом. Возвращает количество удалённых.
func (s *Store) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	keys, err := s.backend.list(ctx, prefix)
	if err != nil {
		return 0, fmt.Errorf("ошибка получения списка объектов %s: %w", prefix, err)
	}

	deleted := 0
	for _, key := range keys {
		if err := s.backend.remove(ctx, key); err != nil && !errors.Is(err, ErrObjectNotFound) {
			return deleted, fmt.Errorf("ошибка удаления объекта %s: %w", key, err)
		}
		deleted++
	}
	return deleted, nil
}

// Exists проверяет наличие объекта.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if _, err := s.backend.stat(ctx, key); err != nil {
		if errors.Is(err, ErrObjectNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("ошибка проверки объекта %s: %w", key, err)
	}
	return true, nil
}

// SignedURL выдаёт presigned GET URL на ttl. Авторизация выполняется
// вызывающей стороной до обращения к этому методу.
// downloadName — имя файла для Content-Disposition (может быть пустым).
func (s *Store) SignedURL(ctx context.Context, key string, ttl time.Duration, downloadName string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	params := url.Values{}
	if downloadName != "" {
		params.Set("response-content-disposition",
			fmt.Sprintf("attachment; filename*=UTF-8''%s", url.PathEscape(downloadName)))
	}

	u, err := s.backend.presign(ctx, key, ttl, params)
	if err != nil {
		return "", fmt.Errorf("ошибка подписи URL для %s: %w", key, err)
	}
	return u, nil
}

// CheckReady проверяет доступность бакета для health endpoint.
// Возвращает статус ("ok", "fail") и сообщение.
func (s *Store) CheckReady() (status string, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := s.backend.ping(ctx); err != nil {
		return "fail", fmt.Sprintf("S3 недоступен: %v", err)
	}
	return "ok", "бакет доступен"
}

// metaValue ищет значение метаданных без учёта регистра ключа
// (S3 нормализует имена заголовков x-amz-meta-*).
func metaValue(meta map[string]string, key string) string {
	if v, ok := meta[key]; ok {
		return v
	}
	for k, v := range meta {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}
