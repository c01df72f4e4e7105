// handler.go — основной обработчик API Media Module.
// Разбирает HTTP-запросы, вызывает сервисный слой и сериализует ответы.
// Ошибки сервиса переводятся в HTTP единым writeServiceError.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"
	openapi_types "github.com/oapi-codegen/runtime/types"

	apierrors "github.com/bigkaa/goartstore/media-module/internal/api/errors"
	"github.com/bigkaa/goartstore/media-module/internal/api/middleware"
	"github.com/bigkaa/goartstore/media-module/internal/domain/model"
	"github.com/bigkaa/goartstore/media-module/internal/service"
)

// FileService — операции сервисного слоя, используемые обработчиками.
type FileService interface {
	Upload(ctx context.Context, p service.UploadParams) (*model.File, error)
	UploadMany(ctx context.Context, items []service.UploadParams) (*service.MultiUploadResult, error)
	MaxFilesPerUpload() int
	Get(ctx context.Context, fileID, callerID string) (*model.File, error)
	Download(ctx context.Context, fileID, callerID string) (*service.DownloadResult, error)
	Preview(ctx context.Context, fileID, callerID, sizeClass string) (*service.PreviewResult, error)
	Delete(ctx context.Context, fileID, callerID string) error
	ListForOwner(ctx context.Context, ownerID string, p service.ListParams) (*service.Page, error)
	SignedURL(ctx context.Context, fileID, callerID string, ttl time.Duration) (string, time.Duration, error)
	UpdateMetadata(ctx context.Context, fileID, callerID string, p service.UpdateParams) (*model.File, error)
	ProcessingStatus(ctx context.Context, fileID, callerID string) (*service.StatusInfo, error)
	SetScanStatus(ctx context.Context, fileID, status string) error
	Grant(ctx context.Context, fileID, callerID string, p service.GrantParams) (*model.FilePermission, error)
	Revoke(ctx context.Context, fileID, callerID, userID, permission string) error
	Permissions(ctx context.Context, fileID, callerID string) ([]model.FilePermission, error)
}

// APIHandler — обработчик бизнес-endpoints.
type APIHandler struct {
	files       FileService
	maxFileSize int64
	logger      *slog.Logger
}

// NewAPIHandler создаёт обработчик API.
// maxFileSize — лимит размера одного файла, ограничивает чтение multipart-тела.
func NewAPIHandler(files FileService, maxFileSize int64, logger *slog.Logger) *APIHandler {
	return &APIHandler{
		files:       files,
		maxFileSize: maxFileSize,
		logger:      logger.With(slog.String("component", "api_handler")),
	}
}

// --- Вспомогательные функции ---

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// callerID возвращает sub аутентифицированного вызывающего.
func callerID(r *http.Request) string {
	return middleware.SubjectFromContext(r.Context())
}

// fileIDParam извлекает и валидирует UUID файла из пути.
func fileIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	var id openapi_types.UUID
	err := runtime.BindStyledParameterWithOptions("simple", "id", chi.URLParam(r, "id"), &id,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
	if err != nil {
		apierrors.ValidationError(w, "Некорректный идентификатор файла: ожидается UUID")
		return "", false
	}
	return id.String(), true
}

// errorDetail — ошибка в теле ответа пакетной загрузки.
type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// classifyError сопоставляет ошибку сервиса HTTP-статусу и коду.
// ErrUnsupportedType и ErrFileTooLarge проверяются до ErrValidation, т.к. оборачивают её.
func classifyError(err error) (int, errorDetail) {
	switch {
	case errors.Is(err, service.ErrFileTooLarge):
		return http.StatusBadRequest, errorDetail{apierrors.CodeFileTooLarge, err.Error()}
	case errors.Is(err, service.ErrUnsupportedType):
		return http.StatusBadRequest, errorDetail{apierrors.CodeUnsupportedMediaType, err.Error()}
	case errors.Is(err, service.ErrValidation):
		return http.StatusBadRequest, errorDetail{apierrors.CodeValidationError, err.Error()}
	case errors.Is(err, service.ErrNoPreview):
		return http.StatusNotFound, errorDetail{apierrors.CodeNoPreview, "Превью для этого типа файла не предусмотрено"}
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound, errorDetail{apierrors.CodeNotFound, "Файл не найден"}
	case errors.Is(err, service.ErrAccessDenied):
		return http.StatusForbidden, errorDetail{apierrors.CodeForbidden, "Недостаточно прав для операции с файлом"}
	case errors.Is(err, service.ErrUpstream):
		return http.StatusInternalServerError, errorDetail{apierrors.CodeUpstreamUnavailable, "Хранилище временно недоступно"}
	default:
		return http.StatusInternalServerError, errorDetail{apierrors.CodeInternalError, "Внутренняя ошибка сервера"}
	}
}

// writeServiceError записывает ответ ошибки сервиса. 5xx логируются с деталями.
func (h *APIHandler) writeServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	status, detail := classifyError(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("Ошибка обработки запроса",
			slog.String("op", op),
			slog.String("path", r.URL.Path),
			slog.String("caller", callerID(r)),
			slog.String("error", err.Error()),
		)
	}
	apierrors.WriteError(w, status, detail.Code, detail.Message)
}

// --- DTO ---

// fileResponse — представление файла в API. Ключ хранилища и служебные поля скрыты.
type fileResponse struct {
	ID               string    `json:"id"`
	OriginalFilename string    `json:"originalFilename"`
	ContentType      string    `json:"contentType"`
	Size             int64     `json:"size"`
	Type             string    `json:"type"`
	URL              string    `json:"url"`
	ThumbnailURL     *string   `json:"thumbnailUrl,omitempty"`
	PreviewURL       *string   `json:"previewUrl,omitempty"`
	OwnerID          string    `json:"ownerId"`
	IsPublic         bool      `json:"isPublic"`
	Tags             []string  `json:"tags"`
	Description      string    `json:"description,omitempty"`
	Checksum         string    `json:"checksum"`
	ScanStatus       string    `json:"scanStatus"`
	Encrypted        bool      `json:"encrypted"`
	ProcessingStatus string    `json:"processingStatus"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

func toFileResponse(f *model.File) fileResponse {
	tags := f.Tags
	if tags == nil {
		tags = []string{}
	}
	return fileResponse{
		ID:               f.ID,
		OriginalFilename: f.OriginalFilename,
		ContentType:      f.ContentType,
		Size:             f.Size,
		Type:             f.Category,
		URL:              f.URL,
		ThumbnailURL:     f.ThumbnailURL,
		PreviewURL:       f.PreviewURL,
		OwnerID:          f.OwnerID,
		IsPublic:         f.IsPublic,
		Tags:             tags,
		Description:      f.Description,
		Checksum:         f.Checksum,
		ScanStatus:       f.ScanStatus,
		Encrypted:        f.Encrypted,
		ProcessingStatus: f.ProcessingStatus,
		CreatedAt:        f.CreatedAt,
		UpdatedAt:        f.UpdatedAt,
	}
}

type permissionResponse struct {
	ID         string     `json:"id"`
	FileID     string     `json:"fileId"`
	UserID     string     `json:"userId"`
	Permission string     `json:"permission"`
	GrantedBy  string     `json:"grantedBy"`
	ExpiresAt  *time.Time `json:"expiresAt,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
}

func toPermissionResponse(p *model.FilePermission) permissionResponse {
	return permissionResponse{
		ID:         p.ID,
		FileID:     p.FileID,
		UserID:     p.UserID,
		Permission: p.Permission,
		GrantedBy:  p.GrantedBy,
		ExpiresAt:  p.ExpiresAt,
		CreatedAt:  p.CreatedAt,
	}
}
