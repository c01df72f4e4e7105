package openapi

import (
	"context"
	"testing"
)

// TestLoad — встроенный контракт корректен и содержит все маршруты API.
func TestLoad(t *testing.T) {
	doc, err := Load(context.Background())
	if err != nil {
		t.Fatalf("Load() ошибка: %v", err)
	}

	paths := []string{
		"/api/v1/files/upload",
		"/api/v1/files/upload-multiple",
		"/api/v1/files/user",
		"/api/v1/files/{id}",
		"/api/v1/files/{id}/download",
		"/api/v1/files/{id}/preview",
		"/api/v1/files/{id}/url",
		"/api/v1/files/{id}/status",
		"/api/v1/files/{id}/permissions",
		"/api/v1/files/{id}/permissions/{userId}/{permission}",
		"/api/v1/internal/files/{id}/scan-status",
	}
	for _, p := range paths {
		if doc.Paths.Find(p) == nil {
			t.Errorf("маршрут %s отсутствует в контракте", p)
		}
	}
}
