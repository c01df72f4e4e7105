package repository

import (
	"context"
	"fmt"

	"github.com/bigkaa/goartstore/media-module/internal/domain/model"
)

// PermissionRepository — интерфейс доступа к таблице file_permissions.
type PermissionRepository interface {
	// Grant выдаёт право. Повторная выдача обновляет granted_by и expires_at.
	Grant(ctx context.Context, p *model.FilePermission) error
	// Revoke отзывает право. ErrNotFound — такого права нет.
	Revoke(ctx context.Context, fileID, userID, permission string) error
	// ListForUser возвращает права пользователя на файл.
	ListForUser(ctx context.Context, fileID, userID string) ([]model.FilePermission, error)
	// ListForFile возвращает все права на файл.
	ListForFile(ctx context.Context, fileID string) ([]model.FilePermission, error)
}

// permissionRepo — реализация PermissionRepository.
type permissionRepo struct {
	db DBTX
}

// NewPermissionRepository создаёт репозиторий прав доступа.
func NewPermissionRepository(db DBTX) PermissionRepository {
	return &permissionRepo{db: db}
}

func (r *permissionRepo) Grant(ctx context.Context, p *model.FilePermission) error {
	query := `
		INSERT INTO file_permissions (id, file_id, user_id, permission, granted_by, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (file_id, user_id, permission) DO UPDATE SET
			granted_by = EXCLUDED.granted_by,
			expires_at = EXCLUDED.expires_at
		RETURNING id, created_at`

	err := r.db.QueryRow(ctx, query,
		p.ID, p.FileID, p.UserID, p.Permission, p.GrantedBy, p.ExpiresAt,
	).Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		return fmt.Errorf("ошибка выдачи права: %w", err)
	}
	return nil
}

func (r *permissionRepo) Revoke(ctx context.Context, fileID, userID, permission string) error {
	query := `
		DELETE FROM file_permissions
		WHERE file_id = $1 AND user_id = $2 AND permission = $3`

	tag, err := r.db.Exec(ctx, query, fileID, userID, permission)
	if err != nil {
		return fmt.Errorf("ошибка отзыва права: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *permissionRepo) ListForUser(ctx context.Context, fileID, userID string) ([]model.FilePermission, error) {
	query := `
		SELECT id, file_id, user_id, permission, granted_by, expires_at, created_at
		FROM file_permissions
		WHERE file_id = $1 AND user_id = $2`

	return r.query(ctx, query, fileID, userID)
}

func (r *permissionRepo) ListForFile(ctx context.Context, fileID string) ([]model.FilePermission, error) {
	query := `
		SELECT id, file_id, user_id, permission, granted_by, expires_at, created_at
		FROM file_permissions
		WHERE file_id = $1
		ORDER BY created_at`

	return r.query(ctx, query, fileID)
}

func (r *permissionRepo) query(ctx context.Context, query string, args ...any) ([]model.FilePermission, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения прав: %w", err)
	}
	defer rows.Close()

	var result []model.FilePermission
	for rows.Next() {
		var p model.FilePermission
		if err := rows.Scan(
			&p.ID, &p.FileID, &p.UserID, &p.Permission, &p.GrantedBy, &p.ExpiresAt, &p.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("ошибка сканирования права: %w", err)
		}
		result = append(result, p)
	}
	return result, rows.Err()
}
