package model

import (
	"encoding/json"
	"errors"
	"testing"
)

// TestArtifactRole проверяет конструкторы, метки и поддиректории ролей.
func TestArtifactRole(t *testing.T) {
	tests := []struct {
		role   ArtifactRole
		kind   RoleKind
		size   int
		tag    string
		subdir string
		str    string
	}{
		{Original(), RoleOriginal, 0, "", "", "original"},
		{MustThumbnail(150), RoleThumbnail, 150, "thumbnail", "thumbnails", "thumbnail:150"},
		{Compressed(), RoleCompressed, 0, "compressed", "compressed", "compressed"},
		{ArtifactRole{}, RoleOriginal, 0, "", "", "original"},
	}

	for _, tt := range tests {
		t.Run(tt.str, func(t *testing.T) {
			if tt.role.Kind() != tt.kind {
				t.Errorf("Kind: ожидалось %s, получено %s", tt.kind, tt.role.Kind())
			}
			if tt.role.Size() != tt.size {
				t.Errorf("Size: ожидалось %d, получено %d", tt.size, tt.role.Size())
			}
			if tt.role.Tag() != tt.tag {
				t.Errorf("Tag: ожидалось %q, получено %q", tt.tag, tt.role.Tag())
			}
			if tt.role.Subdir() != tt.subdir {
				t.Errorf("Subdir: ожидалось %q, получено %q", tt.subdir, tt.role.Subdir())
			}
			if tt.role.String() != tt.str {
				t.Errorf("String: ожидалось %q, получено %q", tt.str, tt.role.String())
			}
		})
	}
}

// TestParseRole_Invalid проверяет, что некорректные роли отклоняются.
func TestParseRole_Invalid(t *testing.T) {
	if _, err := ParseRole("thumbnail", 0); err == nil {
		t.Error("миниатюра без размера должна отклоняться")
	}
	if _, err := ParseRole("preview", 0); err == nil {
		t.Error("неизвестная роль должна отклоняться")
	}
	r, err := ParseRole("thumbnail", 300)
	if err != nil || r != MustThumbnail(300) {
		t.Errorf("ожидалась thumbnail:300, получено %v (%v)", r, err)
	}
}

// TestThumbnail_RejectsNonPositiveSize проверяет, что миниатюра без размера непредставима.
func TestThumbnail_RejectsNonPositiveSize(t *testing.T) {
	for _, size := range []int{0, -150} {
		r, err := Thumbnail(size)
		if !errors.Is(err, ErrInvalidThumbnailSize) {
			t.Errorf("Thumbnail(%d): ожидалась ErrInvalidThumbnailSize, получено %v", size, err)
		}
		if r.Kind() == RoleThumbnail {
			t.Errorf("Thumbnail(%d) вернула роль миниатюры %v", size, r)
		}
	}

	defer func() {
		if recover() == nil {
			t.Error("MustThumbnail(0) должна паниковать")
		}
	}()
	MustThumbnail(0)
}

// TestArtifactRole_JSON проверяет, что JSON-представление проходит через ParseRole.
func TestArtifactRole_JSON(t *testing.T) {
	data, err := json.Marshal(MustThumbnail(600))
	if err != nil {
		t.Fatalf("ошибка сериализации: %v", err)
	}
	if string(data) != `{"kind":"thumbnail","size":600}` {
		t.Errorf("неожиданный JSON: %s", data)
	}

	var r ArtifactRole
	if err := json.Unmarshal([]byte(`{"kind":"thumbnail"}`), &r); err == nil {
		t.Error("JSON миниатюры без размера должен отклоняться")
	}
}

// TestCategoryForMime проверяет определение категории по MIME.
func TestCategoryForMime(t *testing.T) {
	tests := map[string]Category{
		"image/jpeg":      CategoryImage,
		"image/png":       CategoryImage,
		"application/pdf": CategoryDocument,
		"text/plain":      CategoryDocument,
		"application/vnd.openxmlformats-officedocument.wordprocessingml.document": CategoryDocument,
		"application/zip":          CategoryOther,
		"application/octet-stream": CategoryOther,
	}
	for mime, want := range tests {
		if got := CategoryForMime(mime); got != want {
			t.Errorf("%s: ожидалось %s, получено %s", mime, want, got)
		}
	}
}

// TestQuota проверяет формулу used + size > limit.
func TestQuota(t *testing.T) {
	q := Quota{Limit: 100, Used: 90}
	if q.Exceeds(10) {
		t.Error("used+size == limit не превышает квоту")
	}
	if !q.Exceeds(11) {
		t.Error("used+size > limit должен превышать квоту")
	}
	if q.Remaining() != 10 {
		t.Errorf("Remaining: ожидалось 10, получено %d", q.Remaining())
	}
	if (Quota{Limit: 10, Used: 20}).Remaining() != 0 {
		t.Error("Remaining не может быть отрицательным")
	}
}
