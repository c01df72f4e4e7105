// Пакет access — решение о доступе к файлу.
// Владелец имеет все права. Публичный файл доступен на чтение всем.
// Остальным доступ даёт только неистёкшая выдача права на операцию.
package access

import (
	"time"

	"github.com/bigkaa/goartstore/media-module/internal/domain/model"
)

// Операции над файлом.
const (
	OpRead   = model.PermissionRead
	OpWrite  = model.PermissionWrite
	OpDelete = model.PermissionDelete
)

// CanAccess возвращает true, если callerID может выполнить op над file.
// Пустой callerID — анонимный вызов: ему доступно только чтение публичного файла.
// grants — права, выданные callerID на этот файл (чужие записи игнорируются).
func CanAccess(file *model.File, callerID, op string, grants []model.FilePermission, now time.Time) bool {
	if file == nil {
		return false
	}
	if callerID != "" && file.OwnerID == callerID {
		return true
	}
	if op == OpRead && file.IsPublic {
		return true
	}
	if callerID == "" {
		return false
	}
	for i := range grants {
		g := &grants[i]
		if g.FileID != file.ID || g.UserID != callerID || g.Permission != op {
			continue
		}
		if !g.Expired(now) {
			return true
		}
	}
	return false
}

// NeedsGrantLookup возвращает true, если решение нельзя принять без
// обращения к таблице прав (вызывающий не владелец и это не публичное чтение).
func NeedsGrantLookup(file *model.File, callerID, op string) bool {
	if file == nil || callerID == "" {
		return false
	}
	if file.OwnerID == callerID {
		return false
	}
	return !(op == OpRead && file.IsPublic)
}
