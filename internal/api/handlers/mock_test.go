package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/bigkaa/goartstore/media-module/internal/api/middleware"
	"github.com/bigkaa/goartstore/media-module/internal/domain/model"
	"github.com/bigkaa/goartstore/media-module/internal/service"
)

// mockFileService — мок FileService с функциональными полями.
// Незаданное поле — вызов не ожидается, возвращается ErrNotFound.
type mockFileService struct {
	maxFiles int

	uploadFn      func(ctx context.Context, p service.UploadParams) (*model.File, error)
	uploadManyFn  func(ctx context.Context, items []service.UploadParams) (*service.MultiUploadResult, error)
	getFn         func(ctx context.Context, fileID, callerID string) (*model.File, error)
	downloadFn    func(ctx context.Context, fileID, callerID string) (*service.DownloadResult, error)
	previewFn     func(ctx context.Context, fileID, callerID, sizeClass string) (*service.PreviewResult, error)
	deleteFn      func(ctx context.Context, fileID, callerID string) error
	listFn        func(ctx context.Context, ownerID string, p service.ListParams) (*service.Page, error)
	signedURLFn   func(ctx context.Context, fileID, callerID string, ttl time.Duration) (string, time.Duration, error)
	updateFn      func(ctx context.Context, fileID, callerID string, p service.UpdateParams) (*model.File, error)
	statusFn      func(ctx context.Context, fileID, callerID string) (*service.StatusInfo, error)
	scanStatusFn  func(ctx context.Context, fileID, status string) error
	grantFn       func(ctx context.Context, fileID, callerID string, p service.GrantParams) (*model.FilePermission, error)
	revokeFn      func(ctx context.Context, fileID, callerID, userID, permission string) error
	permissionsFn func(ctx context.Context, fileID, callerID string) ([]model.FilePermission, error)
}

func (m *mockFileService) Upload(ctx context.Context, p service.UploadParams) (*model.File, error) {
	if m.uploadFn == nil {
		return nil, service.ErrNotFound
	}
	return m.uploadFn(ctx, p)
}

func (m *mockFileService) UploadMany(ctx context.Context, items []service.UploadParams) (*service.MultiUploadResult, error) {
	if m.uploadManyFn == nil {
		return nil, service.ErrNotFound
	}
	return m.uploadManyFn(ctx, items)
}

func (m *mockFileService) MaxFilesPerUpload() int {
	if m.maxFiles == 0 {
		return 10
	}
	return m.maxFiles
}

func (m *mockFileService) Get(ctx context.Context, fileID, callerID string) (*model.File, error) {
	if m.getFn == nil {
		return nil, service.ErrNotFound
	}
	return m.getFn(ctx, fileID, callerID)
}

func (m *mockFileService) Download(ctx context.Context, fileID, callerID string) (*service.DownloadResult, error) {
	if m.downloadFn == nil {
		return nil, service.ErrNotFound
	}
	return m.downloadFn(ctx, fileID, callerID)
}

func (m *mockFileService) Preview(ctx context.Context, fileID, callerID, sizeClass string) (*service.PreviewResult, error) {
	if m.previewFn == nil {
		return nil, service.ErrNotFound
	}
	return m.previewFn(ctx, fileID, callerID, sizeClass)
}

func (m *mockFileService) Delete(ctx context.Context, fileID, callerID string) error {
	if m.deleteFn == nil {
		return service.ErrNotFound
	}
	return m.deleteFn(ctx, fileID, callerID)
}

func (m *mockFileService) ListForOwner(ctx context.Context, ownerID string, p service.ListParams) (*service.Page, error) {
	if m.listFn == nil {
		return nil, service.ErrNotFound
	}
	return m.listFn(ctx, ownerID, p)
}

func (m *mockFileService) SignedURL(ctx context.Context, fileID, callerID string, ttl time.Duration) (string, time.Duration, error) {
	if m.signedURLFn == nil {
		return "", 0, service.ErrNotFound
	}
	return m.signedURLFn(ctx, fileID, callerID, ttl)
}

func (m *mockFileService) UpdateMetadata(ctx context.Context, fileID, callerID string, p service.UpdateParams) (*model.File, error) {
	if m.updateFn == nil {
		return nil, service.ErrNotFound
	}
	return m.updateFn(ctx, fileID, callerID, p)
}

func (m *mockFileService) ProcessingStatus(ctx context.Context, fileID, callerID string) (*service.StatusInfo, error) {
	if m.statusFn == nil {
		return nil, service.ErrNotFound
	}
	return m.statusFn(ctx, fileID, callerID)
}

func (m *mockFileService) SetScanStatus(ctx context.Context, fileID, status string) error {
	if m.scanStatusFn == nil {
		return service.ErrNotFound
	}
	return m.scanStatusFn(ctx, fileID, status)
}

func (m *mockFileService) Grant(ctx context.Context, fileID, callerID string, p service.GrantParams) (*model.FilePermission, error) {
	if m.grantFn == nil {
		return nil, service.ErrNotFound
	}
	return m.grantFn(ctx, fileID, callerID, p)
}

func (m *mockFileService) Revoke(ctx context.Context, fileID, callerID, userID, permission string) error {
	if m.revokeFn == nil {
		return service.ErrNotFound
	}
	return m.revokeFn(ctx, fileID, callerID, userID, permission)
}

func (m *mockFileService) Permissions(ctx context.Context, fileID, callerID string) ([]model.FilePermission, error) {
	if m.permissionsFn == nil {
		return nil, service.ErrNotFound
	}
	return m.permissionsFn(ctx, fileID, callerID)
}

// mockChecker — ReadinessChecker с фиксированным ответом.
type mockChecker struct {
	status  string
	message string
}

func (c mockChecker) CheckReady() (string, string) {
	return c.status, c.message
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// Заголовки тестовой аутентификации: вместо JWT claims берутся из заголовков.
const (
	headerTestUser  = "X-Test-User"
	headerTestRole  = "X-Test-Role"
	headerTestScope = "X-Test-Scope"
)

// fakeAuth помещает claims из тестовых заголовков; без X-Test-User — 401.
func fakeAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sub := r.Header.Get(headerTestUser)
		if sub == "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		claims := &middleware.AuthClaims{
			Subject:       sub,
			SubjectType:   middleware.SubjectTypeUser,
			EffectiveRole: r.Header.Get(headerTestRole),
		}
		if scope := r.Header.Get(headerTestScope); scope != "" {
			claims.SubjectType = middleware.SubjectTypeSA
			claims.Scopes = []string{scope}
		}
		next.ServeHTTP(w, r.WithContext(middleware.WithClaims(r.Context(), claims)))
	})
}

const testMaxFileSize = 1024

func newTestRouter(svc *mockFileService, health *HealthHandler) http.Handler {
	if health == nil {
		health = NewHealthHandler()
	}
	return NewRouter(RouterDeps{
		API:         NewAPIHandler(svc, testMaxFileSize, testLogger()),
		Health:      health,
		Auth:        fakeAuth,
		OpenAPISpec: []byte("openapi: 3.0.3\n"),
		Logger:      testLogger(),
	})
}
