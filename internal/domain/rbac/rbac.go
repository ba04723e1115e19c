// Пакет rbac — роли пользователей Files Module и квоты по ролям.
// Роль берётся из JWT (realm_access.roles); при нескольких ролях
// действует наивысшая. Квота по умолчанию определяется ролью и может
// быть переопределена персонально.
package rbac

import "strings"

// Роли в порядке возрастания привилегий.
const (
	RoleViewer    = "viewer"
	RoleInspector = "inspector"
	RoleAdmin     = "admin"
)

// rolePrefix — префикс ролей Files Module в IdP (fm-admin, fm-inspector, fm-viewer).
const rolePrefix = "fm-"

// roleWeight — вес роли для сравнения.
// Чем выше вес, тем больше привилегий.
var roleWeight = map[string]int{
	RoleViewer:    1,
	RoleInspector: 2,
	RoleAdmin:     3,
}

// QuotaLimits — квоты по ролям в байтах.
type QuotaLimits struct {
	Admin     int64
	Inspector int64
	Viewer    int64
}

// DefaultQuota возвращает квоту роли. Неизвестная роль получает квоту viewer.
func (l QuotaLimits) DefaultQuota(role string) int64 {
	switch role {
	case RoleAdmin:
		return l.Admin
	case RoleInspector:
		return l.Inspector
	}
	return l.Viewer
}

// FromIdPRoles выбирает наивысшую роль Files Module из ролей IdP.
// Роли без префикса fm- игнорируются. Если ни одна не подошла, результат пустая строка.
func FromIdPRoles(roles []string) string {
	var matched []string
	for _, r := range roles {
		if !strings.HasPrefix(r, rolePrefix) {
			continue
		}
		name := strings.TrimPrefix(r, rolePrefix)
		if IsValidRole(name) {
			matched = append(matched, name)
		}
	}
	return HighestRole(matched)
}

// HighestRole возвращает максимальную роль из набора.
// Если набор пуст, возвращает пустую строку.
func HighestRole(roles []string) string {
	if len(roles) == 0 {
		return ""
	}
	highest := roles[0]
	for _, r := range roles[1:] {
		if roleWeight[r] > roleWeight[highest] {
			highest = r
		}
	}
	return highest
}

// AtLeast — роль допустима и не ниже min.
func AtLeast(role, min string) bool {
	return IsValidRole(role) && roleWeight[role] >= roleWeight[min]
}

// CanWrite — роль может загружать и удалять свои файлы.
func CanWrite(role string) bool {
	return AtLeast(role, RoleInspector)
}

// IsAdmin — роль с доступом к чужим файлам.
func IsAdmin(role string) bool {
	return role == RoleAdmin
}

// IsValidRole проверяет, является ли строка допустимой ролью.
func IsValidRole(role string) bool {
	_, ok := roleWeight[role]
	return ok
}
