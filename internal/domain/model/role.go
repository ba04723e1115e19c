package model

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalidThumbnailSize — размер миниатюры должен быть положительным.
var ErrInvalidThumbnailSize = errors.New("недопустимый размер миниатюры")

// RoleKind — вид артефакта. Набор закрыт: других значений не бывает.
type RoleKind string

const (
	RoleOriginal   RoleKind = "original"
	RoleThumbnail  RoleKind = "thumbnail"
	RoleCompressed RoleKind = "compressed"
)

// ArtifactRole — роль артефакта. Size имеет смысл только для миниатюры.
// Поля неэкспортируемые: значение создаётся только конструкторами
// или ParseRole, поэтому некорректная роль непредставима.
type ArtifactRole struct {
	kind RoleKind
	size int
}

// Original — роль оригинала.
func Original() ArtifactRole { return ArtifactRole{kind: RoleOriginal} }

// Thumbnail — роль миниатюры заданного размера (длинная сторона, px).
func Thumbnail(size int) (ArtifactRole, error) {
	if size <= 0 {
		return ArtifactRole{}, fmt.Errorf("%w: %d", ErrInvalidThumbnailSize, size)
	}
	return ArtifactRole{kind: RoleThumbnail, size: size}, nil
}

// MustThumbnail — Thumbnail для заведомо положительного размера; иначе паника.
func MustThumbnail(size int) ArtifactRole {
	r, err := Thumbnail(size)
	if err != nil {
		panic(err)
	}
	return r
}

// Compressed — роль web-оптимизированной копии.
func Compressed() ArtifactRole { return ArtifactRole{kind: RoleCompressed} }

// ParseRole восстанавливает роль из хранимых полей role_kind/role_size.
func ParseRole(kind string, size int) (ArtifactRole, error) {
	switch RoleKind(kind) {
	case RoleOriginal, "":
		return Original(), nil
	case RoleThumbnail:
		return Thumbnail(size)
	case RoleCompressed:
		return Compressed(), nil
	}
	return ArtifactRole{}, fmt.Errorf("неизвестная роль артефакта %q", kind)
}

// Kind возвращает вид артефакта. Нулевое значение считается оригиналом.
func (r ArtifactRole) Kind() RoleKind {
	if r.kind == "" {
		return RoleOriginal
	}
	return r.kind
}

// Size возвращает размер миниатюры или 0.
func (r ArtifactRole) Size() int {
	if r.kind != RoleThumbnail {
		return 0
	}
	return r.size
}

// IsOriginal — роль оригинала.
func (r ArtifactRole) IsOriginal() bool { return r.Kind() == RoleOriginal }

// Tag — метка, добавляемая в FileRecord.Tags.
func (r ArtifactRole) Tag() string {
	switch r.Kind() {
	case RoleThumbnail:
		return "thumbnail"
	case RoleCompressed:
		return "compressed"
	}
	return ""
}

// Subdir — поддиректория хранения варианта. Для оригинала пусто:
// директория определяется категорией.
func (r ArtifactRole) Subdir() string {
	switch r.Kind() {
	case RoleThumbnail:
		return "thumbnails"
	case RoleCompressed:
		return "compressed"
	}
	return ""
}

func (r ArtifactRole) String() string {
	if r.Kind() == RoleThumbnail {
		return fmt.Sprintf("thumbnail:%d", r.size)
	}
	return string(r.Kind())
}

type roleJSON struct {
	Kind RoleKind `json:"kind"`
	Size int      `json:"size,omitempty"`
}

// MarshalJSON сериализует роль как {"kind":"thumbnail","size":150}.
func (r ArtifactRole) MarshalJSON() ([]byte, error) {
	return json.Marshal(roleJSON{Kind: r.Kind(), Size: r.Size()})
}

// UnmarshalJSON проверяет роль через ParseRole.
func (r *ArtifactRole) UnmarshalJSON(data []byte) error {
	var raw roleJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseRole(string(raw.Kind), raw.Size)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
