package service

import (
	"github.com/jjgordon89/JSG-Inspection-sub000/internal/domain/model"
	"github.com/jjgordon89/JSG-Inspection-sub000/internal/domain/rbac"
)

// Actor — пользователь, от имени которого выполняется операция.
type Actor struct {
	// UserID — sub из JWT
	UserID string
	// Role — роль Files Module (rbac.RoleAdmin, ...)
	Role string
}

// IsAdmin — доступ к файлам всех пользователей.
func (a Actor) IsAdmin() bool {
	return rbac.IsAdmin(a.Role)
}

// canRead — владелец, администратор или публичный файл.
func canRead(a Actor, f *model.FileRecord) bool {
	return f.IsPublic || canModify(a, f)
}

// canModify — владелец или администратор.
func canModify(a Actor, f *model.FileRecord) bool {
	return f.UploadedBy == a.UserID || a.IsAdmin()
}
