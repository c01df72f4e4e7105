// router.go — маршруты Media Module (chi).
// Health, метрики и контракт доступны без аутентификации, /api/v1 — только с JWT.
package handlers

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/bigkaa/goartstore/media-module/internal/api/middleware"
)

// Middleware — HTTP middleware.
type Middleware = func(http.Handler) http.Handler

// RouterDeps — зависимости роутера. Validator и UploadLimiter опциональны.
type RouterDeps struct {
	API    *APIHandler
	Health *HealthHandler
	// Auth — JWT middleware, помещает claims в контекст
	Auth Middleware
	// Validator — проверка запросов по OpenAPI контракту
	Validator Middleware
	// UploadLimiter — лимит загрузок на вызывающего
	UploadLimiter Middleware
	// OpenAPISpec — YAML контракта для /openapi.yaml
	OpenAPISpec []byte
	Logger      *slog.Logger
}

// NewRouter собирает маршруты API.
func NewRouter(d RouterDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(middleware.RequestLogger(d.Logger))
	r.Use(middleware.MetricsMiddleware())

	r.Get("/health/live", d.Health.HealthLive)
	r.Get("/health/ready", d.Health.HealthReady)
	r.Get("/metrics", d.Health.GetMetrics)
	r.Get("/openapi.yaml", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/yaml")
		_, _ = w.Write(d.OpenAPISpec)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(d.Auth)
		if d.Validator != nil {
			r.Use(d.Validator)
		}

		r.Route("/files", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				if d.UploadLimiter != nil {
					r.Use(d.UploadLimiter)
				}
				r.Post("/upload", d.API.UploadFile)
				r.Post("/upload-multiple", d.API.UploadMultiple)
			})

			r.Get("/user", d.API.ListUserFiles)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", d.API.GetFile)
				r.Patch("/", d.API.UpdateFile)
				r.Delete("/", d.API.DeleteFile)
				r.Get("/download", d.API.DownloadFile)
				r.Get("/preview", d.API.PreviewFile)
				r.Post("/url", d.API.SignedURL)
				r.Get("/status", d.API.FileStatus)
				r.Get("/permissions", d.API.ListPermissions)
				r.Post("/permissions", d.API.GrantPermission)
				r.Delete("/permissions/{userId}/{permission}", d.API.RevokePermission)
			})
		})

		r.Route("/internal", func(r chi.Router) {
			r.Use(middleware.RequireRoleOrScope(
				[]string{middleware.RoleAdmin},
				[]string{middleware.ScopeFilesScan},
			))
			r.Put("/files/{id}/scan-status", d.API.SetScanStatus)
		})
	})

	return r
}
