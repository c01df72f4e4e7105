package model

import (
	"testing"
	"time"
)

func TestCategoryFromContentType(t *testing.T) {
	tests := []struct {
		contentType string
		want        string
	}{
		{"image/jpeg", CategoryImage},
		{"IMAGE/PNG", CategoryImage},
		{"video/mp4", CategoryVideo},
		{"audio/mpeg", CategoryAudio},
		{"application/pdf", CategoryDocument},
		{"application/msword", CategoryDocument},
		{"application/vnd.openxmlformats-officedocument.wordprocessingml.document", CategoryDocument},
		{"application/vnd.oasis.opendocument.text", CategoryDocument},
		{"text/plain; charset=utf-8", CategoryDocument},
		{"text/csv", CategoryDocument},
		{"application/zip", CategoryArchive},
		{"application/x-7z-compressed", CategoryArchive},
		{"application/octet-stream", CategoryOther},
		{"", CategoryOther},
	}

	for _, tt := range tests {
		if got := CategoryFromContentType(tt.contentType); got != tt.want {
			t.Errorf("CategoryFromContentType(%q) = %q, ожидается %q", tt.contentType, got, tt.want)
		}
	}
}

func TestFilePermission_Expired(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	tests := []struct {
		name      string
		expiresAt *time.Time
		want      bool
	}{
		{"бессрочное право", nil, false},
		{"срок в прошлом", &past, true},
		{"срок ровно сейчас", &now, true},
		{"срок в будущем", &future, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &FilePermission{ExpiresAt: tt.expiresAt}
			if got := p.Expired(now); got != tt.want {
				t.Errorf("Expired() = %v, ожидается %v", got, tt.want)
			}
		})
	}
}

func TestFile_HasDerivatives(t *testing.T) {
	u := "/x"
	if (&File{}).HasDerivatives() {
		t.Error("HasDerivatives() = true для файла без производных")
	}
	if (&File{ThumbnailURL: &u}).HasDerivatives() {
		t.Error("HasDerivatives() = true без превью")
	}
	if !(&File{ThumbnailURL: &u, PreviewURL: &u}).HasDerivatives() {
		t.Error("HasDerivatives() = false при наличии обеих ссылок")
	}
}
