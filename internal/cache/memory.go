package cache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/bigkaa/goartstore/media-module/internal/domain/model"
)

// Memory — in-memory реализация Cache на expirable LRU.
// Каждый экземпляр сервиса имеет собственный кэш, поэтому backend
// подходит только для single-instance развёртывания и тестов.
type Memory struct {
	files      *expirable.LRU[string, model.File]
	urls       *expirable.LRU[string, SignedURL]
	processing *expirable.LRU[string, string]
	counts     *expirable.LRU[string, int]
	now        func() time.Time
}

// NewMemory создаёт in-memory кэш.
// maxSize — максимальное количество записей каждого вида, ttl — время жизни записи.
func NewMemory(maxSize int, ttl time.Duration) *Memory {
	return &Memory{
		files:      expirable.NewLRU[string, model.File](maxSize, nil, ttl),
		urls:       expirable.NewLRU[string, SignedURL](maxSize, nil, ttl),
		processing: expirable.NewLRU[string, string](maxSize, nil, ttl),
		counts:     expirable.NewLRU[string, int](maxSize, nil, ttl),
		now:        time.Now,
	}
}

// GetFile возвращает копию записи, чтобы вызывающий не мутировал кэш.
func (m *Memory) GetFile(_ context.Context, fileID string) (*model.File, bool) {
	f, ok := m.files.Get(fileKey(fileID))
	observe(kindFile, ok)
	if !ok {
		return nil, false
	}
	f.Tags = append([]string(nil), f.Tags...)
	return &f, true
}

func (m *Memory) PutFile(_ context.Context, f *model.File) {
	cp := *f
	cp.Tags = append([]string(nil), f.Tags...)
	m.files.Add(fileKey(f.ID), cp)
}

func (m *Memory) InvalidateFile(_ context.Context, fileID string) {
	m.files.Remove(fileKey(fileID))
	m.urls.Remove(signedURLKey(fileID))
	m.processing.Remove(processingKey(fileID))
}

func (m *Memory) GetSignedURL(_ context.Context, fileID string) (*SignedURL, bool) {
	u, ok := m.urls.Get(signedURLKey(fileID))
	if ok && !u.ExpiresAt.After(m.now()) {
		m.urls.Remove(signedURLKey(fileID))
		ok = false
	}
	observe(kindSignedURL, ok)
	if !ok {
		return nil, false
	}
	return &u, true
}

func (m *Memory) PutSignedURL(_ context.Context, fileID, url string, ttl time.Duration) {
	m.urls.Add(signedURLKey(fileID), SignedURL{URL: url, ExpiresAt: m.now().Add(ttl)})
}

func (m *Memory) GetProcessingStatus(_ context.Context, fileID string) (string, bool) {
	s, ok := m.processing.Get(processingKey(fileID))
	observe(kindProcessing, ok)
	return s, ok
}

func (m *Memory) PutProcessingStatus(_ context.Context, fileID, status string) {
	m.processing.Add(processingKey(fileID), status)
}

func (m *Memory) GetOwnerFileCount(_ context.Context, ownerID string) (int, bool) {
	n, ok := m.counts.Get(ownerCountKey(ownerID))
	observe(kindOwnerCount, ok)
	return n, ok
}

func (m *Memory) PutOwnerFileCount(_ context.Context, ownerID string, count int) {
	m.counts.Add(ownerCountKey(ownerID), count)
}

func (m *Memory) InvalidateOwnerFileCount(_ context.Context, ownerID string) {
	m.counts.Remove(ownerCountKey(ownerID))
}
