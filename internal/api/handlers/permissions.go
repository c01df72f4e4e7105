// permissions.go — выдача и отзыв прав на файл, внутренний endpoint статуса сканирования.
package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/goartstore/media-module/internal/api/errors"
	"github.com/bigkaa/goartstore/media-module/internal/service"
)

type grantRequest struct {
	UserID     string     `json:"userId"`
	Permission string     `json:"permission"`
	ExpiresAt  *time.Time `json:"expiresAt"`
}

// GrantPermission — POST /api/v1/files/{id}/permissions.
func (h *APIHandler) GrantPermission(w http.ResponseWriter, r *http.Request) {
	id, ok := fileIDParam(w, r)
	if !ok {
		return
	}

	var req grantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.ValidationError(w, "Некорректное тело запроса: "+err.Error())
		return
	}

	perm, err := h.files.Grant(r.Context(), id, callerID(r), service.GrantParams{
		UserID:     req.UserID,
		Permission: req.Permission,
		ExpiresAt:  req.ExpiresAt,
	})
	if err != nil {
		h.writeServiceError(w, r, "grant", err)
		return
	}
	writeJSON(w, http.StatusCreated, toPermissionResponse(perm))
}

// RevokePermission — DELETE /api/v1/files/{id}/permissions/{userId}/{permission}.
func (h *APIHandler) RevokePermission(w http.ResponseWriter, r *http.Request) {
	id, ok := fileIDParam(w, r)
	if !ok {
		return
	}
	err := h.files.Revoke(r.Context(), id, callerID(r), chi.URLParam(r, "userId"), chi.URLParam(r, "permission"))
	if err != nil {
		h.writeServiceError(w, r, "revoke", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type permissionListResponse struct {
	Items []permissionResponse `json:"items"`
}

// ListPermissions — GET /api/v1/files/{id}/permissions.
func (h *APIHandler) ListPermissions(w http.ResponseWriter, r *http.Request) {
	id, ok := fileIDParam(w, r)
	if !ok {
		return
	}
	perms, err := h.files.Permissions(r.Context(), id, callerID(r))
	if err != nil {
		h.writeServiceError(w, r, "permissions", err)
		return
	}

	resp := permissionListResponse{Items: make([]permissionResponse, 0, len(perms))}
	for i := range perms {
		resp.Items = append(resp.Items, toPermissionResponse(&perms[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

type scanStatusRequest struct {
	ScanStatus string `json:"scanStatus"`
}

// SetScanStatus — PUT /api/v1/internal/files/{id}/scan-status.
// Авторизация: RequireRoleOrScope (admin / files:scan) — на уровне middleware.
func (h *APIHandler) SetScanStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := fileIDParam(w, r)
	if !ok {
		return
	}

	var req scanStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.ValidationError(w, "Некорректное тело запроса: "+err.Error())
		return
	}
	if err := h.files.SetScanStatus(r.Context(), id, req.ScanStatus); err != nil {
		h.writeServiceError(w, r, "scan_status", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
