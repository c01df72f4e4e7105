package blobstore

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Префиксы ключей объектов.
const (
	uploadsPrefix     = "uploads/"
	derivativesPrefix = "derivatives/"
)

// Checksum вычисляет SHA-256 (hex) от байтов. Зависит только от содержимого.
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// OriginalKey генерирует ключ оригинала.
// Формат: uploads/{ownerId}/{yyyymmddhhmmss}-{random8}-{name}.{ext}
// Пример: uploads/u1/20260221150405-a1b2c3d4-My_Photo.jpg
func OriginalKey(ownerID, originalFilename string, now time.Time) string {
	base := path.Base(strings.ReplaceAll(originalFilename, "\\", "/"))
	ext := strings.ToLower(path.Ext(base))
	name := strings.TrimSuffix(base, path.Ext(base))

	name = truncateRunes(sanitize(name), 50)
	owner := truncateRunes(sanitize(ownerID), 64)
	ext = sanitizeExt(ext)

	ts := now.UTC().Format("20060102150405")
	uid := uuid.New().String()[:8]

	return fmt.Sprintf("%s%s/%s-%s-%s%s", uploadsPrefix, owner, ts, uid, name, ext)
}

// DerivativeKey возвращает ключ производной для оригинала и size class.
// Детерминирован: одинаковые аргументы всегда дают один ключ.
// Формат: derivatives/{ключ оригинала без расширения}/{sizeLabel}.jpg
func DerivativeKey(originalKey, sizeLabel string) string {
	return DerivativePrefix(originalKey) + sanitize(sizeLabel) + ".jpg"
}

// DerivativePrefix возвращает общий префикс всех производных оригинала.
func DerivativePrefix(originalKey string) string {
	trimmed := strings.TrimSuffix(originalKey, path.Ext(originalKey))
	return derivativesPrefix + trimmed + "/"
}

// sanitize убирает небезопасные символы из строки для использования в ключе.
// Оставляет только буквы, цифры, дефис и подчёркивание. Пробел заменяется на _.
func sanitize(s string) string {
	var result strings.Builder
	for _, r := range s {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') || r == '-' || r == '_' ||
			(r >= 0x0400 && r <= 0x04FF): // Кириллица
			result.WriteRune(r)
		case r == ' ':
			result.WriteRune('_')
		}
	}
	if result.Len() == 0 {
		return "file"
	}
	return result.String()
}

// sanitizeExt оставляет в расширении только латиницу и цифры.
func sanitizeExt(ext string) string {
	if ext == "" {
		return ""
	}
	var result strings.Builder
	for _, r := range strings.TrimPrefix(ext, ".") {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			result.WriteRune(r)
		}
	}
	if result.Len() == 0 {
		return ""
	}
	return "." + truncateRunes(result.String(), 10)
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
