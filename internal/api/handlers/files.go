// files.go — обработчики /api/v1/files: загрузка, чтение, выдача байтов,
// превью, подписанные ссылки, изменение метаданных и удаление.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/oapi-codegen/runtime"

	apierrors "github.com/bigkaa/goartstore/media-module/internal/api/errors"
	"github.com/bigkaa/goartstore/media-module/internal/service"
)

const (
	// multipartMemory — часть multipart-тела, хранимая в памяти; остальное во временных файлах.
	multipartMemory = 32 << 20
	// multipartOverhead — запас на заголовки частей и текстовые поля формы.
	multipartOverhead = 1 << 20
	// previewMaxAge — срок кэширования превью клиентом.
	previewMaxAge = time.Hour
)

// UploadFile — POST /api/v1/files/upload.
func (h *APIHandler) UploadFile(w http.ResponseWriter, r *http.Request) {
	form, ok := h.parseMultipart(w, r, 1)
	if !ok {
		return
	}
	defer func() { _ = form.RemoveAll() }()

	headers := form.File["file"]
	if len(headers) != 1 {
		apierrors.ValidationError(w, "Ожидается ровно один файл в поле 'file'")
		return
	}

	params, err := h.uploadParams(r, form, headers[0])
	if err != nil {
		h.writeServiceError(w, r, "upload", err)
		return
	}

	f, err := h.files.Upload(r.Context(), params)
	if err != nil {
		h.writeServiceError(w, r, "upload", err)
		return
	}
	writeJSON(w, http.StatusCreated, toFileResponse(f))
}

// multiUploadResponse — успешно загруженные файлы и ошибки по остальным
// в виде строк "<имя файла>: <сообщение>", в порядке элементов запроса.
type multiUploadResponse struct {
	Files     []fileResponse `json:"files"`
	Errors    []string       `json:"errors"`
	Succeeded int            `json:"succeeded"`
	Failed    int            `json:"failed"`
}

// UploadMultiple — POST /api/v1/files/upload-multiple.
// 201 — все файлы загружены, 207 — часть, 400 — ни одного.
func (h *APIHandler) UploadMultiple(w http.ResponseWriter, r *http.Request) {
	form, ok := h.parseMultipart(w, r, h.files.MaxFilesPerUpload())
	if !ok {
		return
	}
	defer func() { _ = form.RemoveAll() }()

	headers := form.File["files"]
	items := make([]service.UploadParams, 0, len(headers))
	for _, fh := range headers {
		params, err := h.uploadParams(r, form, fh)
		if err != nil {
			h.writeServiceError(w, r, "upload_multiple", err)
			return
		}
		items = append(items, params)
	}

	res, err := h.files.UploadMany(r.Context(), items)
	if err != nil {
		h.writeServiceError(w, r, "upload_multiple", err)
		return
	}

	resp := multiUploadResponse{
		Files:     make([]fileResponse, 0, res.Succeeded),
		Errors:    make([]string, 0, res.Failed),
		Succeeded: res.Succeeded,
		Failed:    res.Failed,
	}
	for _, it := range res.Items {
		if it.Err != nil {
			_, detail := classifyError(it.Err)
			resp.Errors = append(resp.Errors, it.Filename+": "+detail.Message)
			continue
		}
		resp.Files = append(resp.Files, toFileResponse(it.File))
	}

	status := http.StatusMultiStatus
	switch {
	case res.Failed == 0:
		status = http.StatusCreated
	case res.Succeeded == 0:
		status = http.StatusBadRequest
	}
	writeJSON(w, status, resp)
}

// parseMultipart ограничивает размер тела и разбирает форму.
// Превышение лимита — 400 FILE_TOO_LARGE.
func (h *APIHandler) parseMultipart(w http.ResponseWriter, r *http.Request, maxFiles int) (*multipart.Form, bool) {
	if maxFiles < 1 {
		maxFiles = 1
	}
	limit := h.maxFileSize*int64(maxFiles) + multipartOverhead
	r.Body = http.MaxBytesReader(w, r.Body, limit)

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			apierrors.FileTooLarge(w, "Размер запроса превышает допустимый")
			return nil, false
		}
		apierrors.ValidationError(w, "Ожидается multipart/form-data: "+err.Error())
		return nil, false
	}
	return r.MultipartForm, true
}

// uploadParams читает файл формы и общие поля (description, tags, isPublic).
// Чтение ограничено maxFileSize+1 байтом: превышение определит сервис.
func (h *APIHandler) uploadParams(r *http.Request, form *multipart.Form, fh *multipart.FileHeader) (service.UploadParams, error) {
	file, err := fh.Open()
	if err != nil {
		return service.UploadParams{}, err
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, h.maxFileSize+1))
	if err != nil {
		return service.UploadParams{}, err
	}

	isPublic := false
	if v := formValue(form, "isPublic"); v != "" {
		isPublic, err = strconv.ParseBool(v)
		if err != nil {
			return service.UploadParams{}, fmt.Errorf("%w: поле isPublic должно быть true или false", service.ErrValidation)
		}
	}

	contentType := fh.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}

	return service.UploadParams{
		Data:        data,
		Filename:    fh.Filename,
		ContentType: contentType,
		OwnerID:     callerID(r),
		Description: formValue(form, "description"),
		Tags:        formTags(form),
		IsPublic:    isPublic,
	}, nil
}

func formValue(form *multipart.Form, key string) string {
	if vs := form.Value[key]; len(vs) > 0 {
		return strings.TrimSpace(vs[0])
	}
	return ""
}

// formTags собирает теги из повторяющихся полей tags и списков через запятую.
func formTags(form *multipart.Form) []string {
	var tags []string
	for _, v := range form.Value["tags"] {
		for _, t := range strings.Split(v, ",") {
			if t = strings.TrimSpace(t); t != "" {
				tags = append(tags, t)
			}
		}
	}
	return tags
}

type fileListResponse struct {
	Items []fileResponse `json:"items"`
	Total int            `json:"total"`
	Page  int            `json:"page"`
	Limit int            `json:"limit"`
}

// ListUserFiles — GET /api/v1/files/user?type=&page=&limit=.
func (h *APIHandler) ListUserFiles(w http.ResponseWriter, r *http.Request) {
	var (
		category    *string
		page, limit *int
	)
	query := r.URL.Query()
	if err := runtime.BindQueryParameter("form", true, false, "type", query, &category); err != nil {
		apierrors.ValidationError(w, "Некорректный параметр type")
		return
	}
	if err := runtime.BindQueryParameter("form", true, false, "page", query, &page); err != nil {
		apierrors.ValidationError(w, "Некорректный параметр page")
		return
	}
	if err := runtime.BindQueryParameter("form", true, false, "limit", query, &limit); err != nil {
		apierrors.ValidationError(w, "Некорректный параметр limit")
		return
	}

	params := service.ListParams{}
	if category != nil {
		params.Category = *category
	}
	if page != nil {
		params.Page = *page
	}
	if limit != nil {
		params.Limit = *limit
	}

	res, err := h.files.ListForOwner(r.Context(), callerID(r), params)
	if err != nil {
		h.writeServiceError(w, r, "list", err)
		return
	}

	resp := fileListResponse{
		Items: make([]fileResponse, 0, len(res.Items)),
		Total: res.Total,
		Page:  res.Page,
		Limit: res.Limit,
	}
	for _, f := range res.Items {
		resp.Items = append(resp.Items, toFileResponse(f))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetFile — GET /api/v1/files/{id}.
func (h *APIHandler) GetFile(w http.ResponseWriter, r *http.Request) {
	id, ok := fileIDParam(w, r)
	if !ok {
		return
	}
	f, err := h.files.Get(r.Context(), id, callerID(r))
	if err != nil {
		h.writeServiceError(w, r, "get", err)
		return
	}
	writeJSON(w, http.StatusOK, toFileResponse(f))
}

type updateFileRequest struct {
	Description *string   `json:"description"`
	Tags        *[]string `json:"tags"`
	IsPublic    *bool     `json:"isPublic"`
}

// UpdateFile — PATCH /api/v1/files/{id}.
func (h *APIHandler) UpdateFile(w http.ResponseWriter, r *http.Request) {
	id, ok := fileIDParam(w, r)
	if !ok {
		return
	}

	var req updateFileRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		apierrors.ValidationError(w, "Некорректное тело запроса: "+err.Error())
		return
	}
	if req.Description == nil && req.Tags == nil && req.IsPublic == nil {
		apierrors.ValidationError(w, "Не указано ни одного изменяемого поля")
		return
	}

	f, err := h.files.UpdateMetadata(r.Context(), id, callerID(r), service.UpdateParams{
		Description: req.Description,
		Tags:        req.Tags,
		IsPublic:    req.IsPublic,
	})
	if err != nil {
		h.writeServiceError(w, r, "update", err)
		return
	}
	writeJSON(w, http.StatusOK, toFileResponse(f))
}

// DeleteFile — DELETE /api/v1/files/{id}.
func (h *APIHandler) DeleteFile(w http.ResponseWriter, r *http.Request) {
	id, ok := fileIDParam(w, r)
	if !ok {
		return
	}
	if err := h.files.Delete(r.Context(), id, callerID(r)); err != nil {
		h.writeServiceError(w, r, "delete", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

// DownloadFile — GET /api/v1/files/{id}/download.
func (h *APIHandler) DownloadFile(w http.ResponseWriter, r *http.Request) {
	id, ok := fileIDParam(w, r)
	if !ok {
		return
	}
	res, err := h.files.Download(r.Context(), id, callerID(r))
	if err != nil {
		h.writeServiceError(w, r, "download", err)
		return
	}

	contentType := res.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": res.Filename}))
	w.Header().Set("Content-Length", strconv.Itoa(len(res.Data)))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(res.Data)
}

// PreviewFile — GET /api/v1/files/{id}/preview?size=small|medium|large.
func (h *APIHandler) PreviewFile(w http.ResponseWriter, r *http.Request) {
	id, ok := fileIDParam(w, r)
	if !ok {
		return
	}
	var size *string
	if err := runtime.BindQueryParameter("form", true, false, "size", r.URL.Query(), &size); err != nil {
		apierrors.ValidationError(w, "Некорректный параметр size")
		return
	}
	sizeClass := ""
	if size != nil {
		sizeClass = *size
	}

	res, err := h.files.Preview(r.Context(), id, callerID(r), sizeClass)
	if err != nil {
		h.writeServiceError(w, r, "preview", err)
		return
	}

	w.Header().Set("Content-Type", res.ContentType)
	w.Header().Set("Cache-Control", "private, max-age="+strconv.Itoa(int(previewMaxAge.Seconds())))
	w.Header().Set("Content-Length", strconv.Itoa(len(res.Data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(res.Data)
}

type signedURLResponse struct {
	URL       string `json:"url"`
	ExpiresIn int    `json:"expiresIn"`
}

// SignedURL — POST /api/v1/files/{id}/url?expiresIn=<секунды>.
func (h *APIHandler) SignedURL(w http.ResponseWriter, r *http.Request) {
	id, ok := fileIDParam(w, r)
	if !ok {
		return
	}
	var expiresIn *int
	if err := runtime.BindQueryParameter("form", true, false, "expiresIn", r.URL.Query(), &expiresIn); err != nil {
		apierrors.ValidationError(w, "Некорректный параметр expiresIn")
		return
	}
	var ttl time.Duration
	if expiresIn != nil {
		if *expiresIn <= 0 {
			apierrors.ValidationError(w, "expiresIn должен быть положительным")
			return
		}
		ttl = time.Duration(*expiresIn) * time.Second
	}

	url, remaining, err := h.files.SignedURL(r.Context(), id, callerID(r), ttl)
	if err != nil {
		h.writeServiceError(w, r, "signed_url", err)
		return
	}
	writeJSON(w, http.StatusOK, signedURLResponse{URL: url, ExpiresIn: int(remaining / time.Second)})
}

type fileStatusResponse struct {
	ProcessingStatus string `json:"processingStatus"`
	ScanStatus       string `json:"scanStatus"`
}

// FileStatus — GET /api/v1/files/{id}/status.
func (h *APIHandler) FileStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := fileIDParam(w, r)
	if !ok {
		return
	}
	st, err := h.files.ProcessingStatus(r.Context(), id, callerID(r))
	if err != nil {
		h.writeServiceError(w, r, "status", err)
		return
	}
	writeJSON(w, http.StatusOK, fileStatusResponse{ProcessingStatus: st.ProcessingStatus, ScanStatus: st.ScanStatus})
}
