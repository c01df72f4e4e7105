package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/goartstore/media-module/internal/domain/model"
	"github.com/bigkaa/goartstore/media-module/internal/repository"
)

// GrantParams — выдача права на файл.
type GrantParams struct {
	UserID     string
	Permission string
	// ExpiresAt — срок действия (nil — бессрочно)
	ExpiresAt *time.Time
}

// Grant выдаёт пользователю право на файл. Выдавать права может только владелец.
// Повторная выдача того же права обновляет срок действия.
func (s *FileService) Grant(ctx context.Context, fileID, callerID string, p GrantParams) (*model.FilePermission, error) {
	f, err := s.ownedFile(ctx, fileID, callerID)
	if err != nil {
		return nil, err
	}

	if p.UserID == "" {
		return nil, fmt.Errorf("%w: не указан пользователь", ErrValidation)
	}
	if p.UserID == f.OwnerID {
		return nil, fmt.Errorf("%w: владелец уже имеет все права", ErrValidation)
	}
	if !model.ValidPermission(p.Permission) {
		return nil, fmt.Errorf("%w: недопустимое право '%s'", ErrValidation, p.Permission)
	}
	if p.ExpiresAt != nil && !p.ExpiresAt.After(s.now()) {
		return nil, fmt.Errorf("%w: срок действия уже истёк", ErrValidation)
	}

	perm := &model.FilePermission{
		ID:         uuid.NewString(),
		FileID:     f.ID,
		UserID:     p.UserID,
		Permission: p.Permission,
		GrantedBy:  callerID,
		ExpiresAt:  p.ExpiresAt,
	}
	if err := s.perms.Grant(ctx, perm); err != nil {
		return nil, fmt.Errorf("выдача права: %w", err)
	}

	s.logger.Info("Право на файл выдано",
		slog.String("file_id", f.ID),
		slog.String("user_id", p.UserID),
		slog.String("permission", p.Permission),
	)
	return perm, nil
}

// Revoke отзывает право пользователя на файл.
func (s *FileService) Revoke(ctx context.Context, fileID, callerID, userID, permission string) error {
	f, err := s.ownedFile(ctx, fileID, callerID)
	if err != nil {
		return err
	}
	if !model.ValidPermission(permission) {
		return fmt.Errorf("%w: недопустимое право '%s'", ErrValidation, permission)
	}

	if err := s.perms.Revoke(ctx, f.ID, userID, permission); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("%w: право не выдавалось", ErrNotFound)
		}
		return fmt.Errorf("отзыв права: %w", err)
	}

	s.logger.Info("Право на файл отозвано",
		slog.String("file_id", f.ID),
		slog.String("user_id", userID),
		slog.String("permission", permission),
	)
	return nil
}

// Permissions возвращает все выданные права на файл (только для владельца).
func (s *FileService) Permissions(ctx context.Context, fileID, callerID string) ([]model.FilePermission, error) {
	f, err := s.ownedFile(ctx, fileID, callerID)
	if err != nil {
		return nil, err
	}
	perms, err := s.perms.ListForFile(ctx, f.ID)
	if err != nil {
		return nil, fmt.Errorf("список прав: %w", err)
	}
	return perms, nil
}

// ownedFile возвращает файл, если вызывающий его владелец.
func (s *FileService) ownedFile(ctx context.Context, fileID, callerID string) (*model.File, error) {
	f, err := s.getActive(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if callerID == "" || f.OwnerID != callerID {
		return nil, ErrAccessDenied
	}
	return f, nil
}
