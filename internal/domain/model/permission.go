package model

import "time"

// Права доступа к файлу. Владелец неявно имеет все три.
const (
	PermissionRead   = "read"
	PermissionWrite  = "write"
	PermissionDelete = "delete"
)

// FilePermission — выданное право на один файл одному пользователю.
type FilePermission struct {
	ID         string     `json:"id"`
	FileID     string     `json:"fileId"`
	UserID     string     `json:"userId"`
	Permission string     `json:"permission"`
	GrantedBy  string     `json:"grantedBy"`
	ExpiresAt  *time.Time `json:"expiresAt,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
}

// Expired возвращает true, если срок действия права истёк к моменту now.
func (p *FilePermission) Expired(now time.Time) bool {
	return p.ExpiresAt != nil && !p.ExpiresAt.After(now)
}

// ValidPermission проверяет допустимость имени права.
func ValidPermission(p string) bool {
	switch p {
	case PermissionRead, PermissionWrite, PermissionDelete:
		return true
	}
	return false
}
