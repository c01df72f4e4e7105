package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Options — параметры подключения к S3.
type Options struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
	// Timeout — таймаут одного обращения к хранилищу
	Timeout time.Duration
	// EncryptionKey — ключ AES-256; nil отключает шифрование
	EncryptionKey []byte
}

// New создаёт Store поверх minio-go клиента.
// Бакет создаётся, если отсутствует.
func New(ctx context.Context, opts Options, logger *slog.Logger) (*Store, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка создания S3 клиента: %w", err)
	}

	var c *Cipher
	if len(opts.EncryptionKey) > 0 {
		c, err = NewCipher(opts.EncryptionKey)
		if err != nil {
			return nil, err
		}
	}

	b := &minioBackend{client: client, bucket: opts.Bucket, region: opts.Region}

	ensureCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()
	created, err := b.ensureBucket(ensureCtx)
	if err != nil {
		return nil, err
	}

	logger.Info("Подключение к S3 установлено",
		slog.String("endpoint", opts.Endpoint),
		slog.String("bucket", opts.Bucket),
		slog.Bool("bucket_created", created),
		slog.Bool("encryption", c != nil),
	)

	return newStore(b, c, opts.Timeout, logger), nil
}

// minioBackend — реализация backend через minio-go.
type minioBackend struct {
	client *minio.Client
	bucket string
	region string
}

func (b *minioBackend) ensureBucket(ctx context.Context) (bool, error) {
	exists, err := b.client.BucketExists(ctx, b.bucket)
	if err != nil {
		return false, classify(err)
	}
	if exists {
		return false, nil
	}
	if err := b.client.MakeBucket(ctx, b.bucket, minio.MakeBucketOptions{Region: b.region}); err != nil {
		// Бакет мог создать параллельный экземпляр
		if minio.ToErrorResponse(err).Code == "BucketAlreadyOwnedByYou" {
			return false, nil
		}
		return false, fmt.Errorf("ошибка создания бакета %s: %w", b.bucket, classify(err))
	}
	return true, nil
}

func (b *minioBackend) put(ctx context.Context, key string, data []byte, contentType string, meta map[string]string) (string, error) {
	info, err := b.client.PutObject(ctx, b.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{
			ContentType:  contentType,
			UserMetadata: meta,
		})
	if err != nil {
		return "", classify(err)
	}
	return info.ETag, nil
}

func (b *minioBackend) get(ctx context.Context, key string) ([]byte, map[string]string, error) {
	obj, err := b.client.GetObject(ctx, b.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, nil, classify(err)
	}
	defer obj.Close()

	// GetObject ленивый: ошибки (в том числе NoSuchKey) приходят при Stat/Read
	info, err := obj.Stat()
	if err != nil {
		return nil, nil, classify(err)
	}
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, nil, classify(err)
	}
	return data, info.UserMetadata, nil
}

func (b *minioBackend) stat(ctx context.Context, key string) (map[string]string, error) {
	info, err := b.client.StatObject(ctx, b.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return nil, classify(err)
	}
	return info.UserMetadata, nil
}

func (b *minioBackend) remove(ctx context.Context, key string) error {
	if err := b.client.RemoveObject(ctx, b.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return classify(err)
	}
	return nil
}

func (b *minioBackend) list(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	for obj := range b.client.ListObjects(ctx, b.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, classify(obj.Err)
		}
		keys = append(keys, obj.Key)
	}
	return keys, nil
}

func (b *minioBackend) presign(ctx context.Context, key string, ttl time.Duration, params url.Values) (string, error) {
	u, err := b.client.PresignedGetObject(ctx, b.bucket, key, ttl, params)
	if err != nil {
		return "", classify(err)
	}
	return u.String(), nil
}

func (b *minioBackend) ping(ctx context.Context) error {
	exists, err := b.client.BucketExists(ctx, b.bucket)
	if err != nil {
		return classify(err)
	}
	if !exists {
		return fmt.Errorf("бакет %s не существует", b.bucket)
	}
	return nil
}

func (b *minioBackend) objectURL(key string) string {
	u := *b.client.EndpointURL()
	u.Path = "/" + b.bucket + "/" + key
	return u.String()
}

// classify приводит ошибку minio к ошибкам пакета.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	resp := minio.ToErrorResponse(err)
	switch {
	case resp.Code == "NoSuchKey", resp.StatusCode == http.StatusNotFound && resp.Code != "NoSuchBucket":
		return fmt.Errorf("%w: %s", ErrObjectNotFound, resp.Key)
	default:
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
}
