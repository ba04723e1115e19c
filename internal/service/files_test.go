package service

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/jjgordon89/JSG-Inspection-sub000/internal/domain/model"
)

func TestFileService_GetAccess(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	private := env.upload(t, "p.jpg", testJPEG(t, 64, 48, 10), inspector, UploadOptions{ThumbnailSizes: []int{32}})
	public := env.upload(t, "pub.txt", testText(400), inspector, UploadOptions{IsPublic: true})

	details, err := env.svc.Get(ctx, private.OriginalFile.ID, inspector)
	if err != nil {
		t.Fatalf("Get владельцем: %v", err)
	}
	if len(details.Variants) != 1 {
		t.Errorf("Вариантов: %d, ожидался 1", len(details.Variants))
	}

	if _, err := env.svc.Get(ctx, private.OriginalFile.ID, otherUser); !errors.Is(err, ErrAccessDenied) {
		t.Errorf("Чужой приватный файл: ожидалась ErrAccessDenied, получена %v", err)
	}
	if _, err := env.svc.Get(ctx, private.OriginalFile.ID, adminActor); err != nil {
		t.Errorf("Администратор: %v", err)
	}
	if _, err := env.svc.Get(ctx, public.OriginalFile.ID, otherUser); err != nil {
		t.Errorf("Публичный файл: %v", err)
	}
	if _, err := env.svc.Get(ctx, "00000000-0000-0000-0000-000000000000", inspector); !errors.Is(err, ErrNotFound) {
		t.Errorf("Несуществующий файл: ожидалась ErrNotFound, получена %v", err)
	}

	// Вариант запрашивается напрямую, без собственных вариантов
	thumbID := private.Thumbnails[0].ID
	d, err := env.svc.Get(ctx, thumbID, inspector)
	if err != nil {
		t.Fatalf("Get миниатюры: %v", err)
	}
	if len(d.Variants) != 0 {
		t.Error("У варианта не должно быть вариантов")
	}
}

func TestFileService_List(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		env.upload(t, "mine.txt", testText(500+i), inspector, UploadOptions{})
	}
	env.upload(t, "img.jpg", testJPEG(t, 32, 32, 11), inspector, UploadOptions{ThumbnailSizes: []int{16}})
	env.upload(t, "theirs.txt", testText(510), otherUser, UploadOptions{IsPublic: true})
	env.upload(t, "hidden.txt", testText(511), otherUser, UploadOptions{})

	list, err := env.svc.List(ctx, inspector, ListParams{Limit: 2})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	// Миниатюры в список не входят
	if list.Total != 4 {
		t.Errorf("Total = %d, ожидалось 4", list.Total)
	}
	if len(list.Items) != 2 || list.Limit != 2 {
		t.Errorf("Items = %d, Limit = %d", len(list.Items), list.Limit)
	}

	page, err := env.svc.List(ctx, inspector, ListParams{Limit: 2, Offset: 10})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(page.Items) != 0 || page.Items == nil {
		t.Error("Страница за пределами списка должна быть пустым срезом")
	}

	images := model.CategoryImage
	list, _ = env.svc.List(ctx, inspector, ListParams{Category: &images})
	if list.Total != 1 {
		t.Errorf("Фильтр по категории: Total = %d, ожидалось 1", list.Total)
	}

	list, _ = env.svc.List(ctx, inspector, ListParams{IncludePublic: true})
	if list.Total != 5 {
		t.Errorf("С публичными: Total = %d, ожидалось 5", list.Total)
	}
	if list.Limit != DefaultListLimit {
		t.Errorf("Limit по умолчанию = %d", list.Limit)
	}

	if _, err := env.svc.List(ctx, inspector, ListParams{Owner: otherUser.UserID}); !errors.Is(err, ErrAccessDenied) {
		t.Errorf("Чужой список: ожидалась ErrAccessDenied, получена %v", err)
	}
	list, err = env.svc.List(ctx, adminActor, ListParams{Owner: otherUser.UserID, Limit: 10000})
	if err != nil {
		t.Fatalf("List администратором: %v", err)
	}
	if list.Total != 2 || list.Limit != MaxListLimit {
		t.Errorf("Администратор: Total = %d, Limit = %d", list.Total, list.Limit)
	}
}

func TestFileService_GetContent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	data := testJPEG(t, 400, 300, 12)
	res := env.upload(t, "c.jpg", data, inspector, UploadOptions{ThumbnailSizes: []int{50, 200}})
	id := res.OriginalFile.ID

	c, err := env.svc.GetContent(ctx, id, inspector, ContentOptions{})
	if err != nil {
		t.Fatalf("GetContent: %v", err)
	}
	got, _ := io.ReadAll(c.Reader)
	c.Reader.Close()
	if ChecksumBytes(got) != res.OriginalFile.Checksum {
		t.Error("Содержимое оригинала не совпадает")
	}
	if c.ContentLength != int64(len(data)) || c.ContentType != "image/jpeg" {
		t.Errorf("ContentLength = %d, ContentType = %q", c.ContentLength, c.ContentType)
	}

	c, err = env.svc.GetContent(ctx, id, inspector, ContentOptions{Variant: model.RoleThumbnail, Size: 100})
	if err != nil {
		t.Fatalf("GetContent thumbnail: %v", err)
	}
	c.Reader.Close()
	if c.Record.Role.Size() != 200 {
		t.Errorf("Выбрана миниатюра %d, ожидалась 200", c.Record.Role.Size())
	}

	if _, err := env.svc.GetContent(ctx, id, inspector, ContentOptions{Variant: model.RoleCompressed}); !errors.Is(err, ErrNotFound) {
		t.Errorf("Отсутствующий вариант: ожидалась ErrNotFound, получена %v", err)
	}
	if _, err := env.svc.GetContent(ctx, id, otherUser, ContentOptions{}); !errors.Is(err, ErrAccessDenied) {
		t.Errorf("Чужой файл: ожидалась ErrAccessDenied, получена %v", err)
	}
	thumbID := res.Thumbnails[0].ID
	if _, err := env.svc.GetContent(ctx, thumbID, inspector, ContentOptions{Variant: model.RoleCompressed}); !errors.Is(err, ErrNotFound) {
		t.Errorf("Вариант варианта: ожидалась ErrNotFound, получена %v", err)
	}
}

func TestFileService_GetContentMissingBytes(t *testing.T) {
	env := newTestEnv(t)
	res := env.upload(t, "gone.txt", testText(600), inspector, UploadOptions{})

	if err := env.store.Delete(res.OriginalFile.StoragePath); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	_, err := env.svc.GetContent(context.Background(), res.OriginalFile.ID, inspector, ContentOptions{})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Ожидалась ErrNotFound, получена %v", err)
	}
}

func TestFileService_DeleteCascade(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	res := env.upload(t, "d.jpg", testJPEG(t, 400, 300, 13), inspector, UploadOptions{Compress: true})
	id := res.OriginalFile.ID

	result, err := env.svc.Delete(ctx, id, inspector, DeleteOptions{})
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if len(result.Removed) != 5 || !result.Complete() {
		t.Errorf("Removed = %d, Failed = %v; ожидалось 5 и 0", len(result.Removed), result.Failed)
	}

	for _, rec := range append([]*model.FileRecord{res.OriginalFile}, append(res.Thumbnails, res.ProcessedFiles...)...) {
		if _, err := env.svc.GetContent(ctx, rec.ID, inspector, ContentOptions{}); !errors.Is(err, ErrNotFound) {
			t.Errorf("%s: ожидалась ErrNotFound после удаления, получена %v", rec.Role, err)
		}
		row, err := env.files.GetByID(ctx, rec.ID)
		if err != nil {
			t.Fatalf("Строка %s удалена при soft delete: %v", rec.ID, err)
		}
		if row.Status != model.StatusDeleted || row.DeletedAt == nil {
			t.Errorf("Строка %s: status = %s", rec.ID, row.Status)
		}
	}
	if env.storedFiles(t) != 0 {
		t.Errorf("Файлов на диске: %d, ожидалось 0", env.storedFiles(t))
	}

	if _, err := env.svc.Delete(ctx, id, inspector, DeleteOptions{}); !errors.Is(err, ErrNotFound) {
		t.Errorf("Повторное удаление: ожидалась ErrNotFound, получена %v", err)
	}

	// Permanent дочищает строки soft-deleted файла
	if _, err := env.svc.Delete(ctx, id, inspector, DeleteOptions{Permanent: true}); err != nil {
		t.Fatalf("Permanent delete: %v", err)
	}
	if env.files.count() != 0 {
		t.Errorf("Строк после permanent: %d, ожидалось 0", env.files.count())
	}
}

func TestFileService_DeleteVariantOnly(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	res := env.upload(t, "v.jpg", testJPEG(t, 100, 100, 14), inspector, UploadOptions{ThumbnailSizes: []int{20, 40}})

	result, err := env.svc.Delete(ctx, res.Thumbnails[0].ID, inspector, DeleteOptions{Permanent: true})
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if len(result.Removed) != 1 {
		t.Errorf("Removed = %v", result.Removed)
	}

	details, err := env.svc.Get(ctx, res.OriginalFile.ID, inspector)
	if err != nil {
		t.Fatalf("Оригинал недоступен: %v", err)
	}
	if len(details.Variants) != 1 || details.Variants[0].ID != res.Thumbnails[1].ID {
		t.Errorf("Осталось вариантов: %d", len(details.Variants))
	}
}

func TestFileService_DeleteAccess(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	res := env.upload(t, "x.txt", testText(700), inspector, UploadOptions{IsPublic: true})

	if _, err := env.svc.Delete(ctx, res.OriginalFile.ID, otherUser, DeleteOptions{}); !errors.Is(err, ErrAccessDenied) {
		t.Errorf("Ожидалась ErrAccessDenied, получена %v", err)
	}
	if _, err := env.svc.Delete(ctx, res.OriginalFile.ID, adminActor, DeleteOptions{}); err != nil {
		t.Errorf("Администратор: %v", err)
	}
	if _, err := env.svc.Delete(ctx, "missing", inspector, DeleteOptions{}); !errors.Is(err, ErrNotFound) {
		t.Errorf("Ожидалась ErrNotFound, получена %v", err)
	}
}

func TestFileService_DeleteInvalidatesCache(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	res := env.upload(t, "cached.txt", testText(800), inspector, UploadOptions{})

	if _, err := env.svc.Get(ctx, res.OriginalFile.ID, inspector); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if _, ok := env.cache.Get(res.OriginalFile.ID); !ok {
		t.Fatal("Запись должна попасть в кэш")
	}
	if _, err := env.svc.Delete(ctx, res.OriginalFile.ID, inspector, DeleteOptions{}); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := env.svc.Get(ctx, res.OriginalFile.ID, inspector); !errors.Is(err, ErrNotFound) {
		t.Errorf("После удаления: ожидалась ErrNotFound, получена %v", err)
	}
}

func TestPickVariant(t *testing.T) {
	thumb := func(size int) *model.FileRecord {
		return &model.FileRecord{ID: "t" + string(rune('0'+size/100)), Role: model.MustThumbnail(size)}
	}
	variants := []*model.FileRecord{thumb(150), thumb(300), thumb(600), {ID: "c", Role: model.Compressed()}}

	tests := []struct {
		kind model.RoleKind
		size int
		want int
	}{
		{model.RoleThumbnail, 300, 300},
		{model.RoleThumbnail, 200, 300},
		{model.RoleThumbnail, 0, 150},
		{model.RoleThumbnail, 1000, 600},
	}
	for _, tt := range tests {
		got := pickVariant(variants, tt.kind, tt.size)
		if got == nil || got.Role.Size() != tt.want {
			t.Errorf("pickVariant(%d) = %v, ожидалась %d", tt.size, got, tt.want)
		}
	}

	if got := pickVariant(variants, model.RoleCompressed, 0); got == nil || got.ID != "c" {
		t.Errorf("compressed: %v", got)
	}
	if got := pickVariant(variants[:3], model.RoleCompressed, 0); got != nil {
		t.Errorf("Ожидался nil, получен %v", got)
	}
}

func TestParseVariant(t *testing.T) {
	for in, want := range map[string]model.RoleKind{
		"":           model.RoleOriginal,
		"original":   model.RoleOriginal,
		"thumbnail":  model.RoleThumbnail,
		"compressed": model.RoleCompressed,
	} {
		got, err := ParseVariant(in)
		if err != nil || got != want {
			t.Errorf("ParseVariant(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseVariant("preview"); !errors.Is(err, ErrValidation) {
		t.Errorf("Ожидалась ErrValidation, получена %v", err)
	}
}

func TestMetadataCache(t *testing.T) {
	c := NewMetadataCache(2, time.Minute)

	active := &model.FileRecord{ID: "a", Status: model.StatusActive}
	deleted := &model.FileRecord{ID: "d", Status: model.StatusDeleted}
	c.Set(active)
	c.Set(deleted)

	if _, ok := c.Get("a"); !ok {
		t.Error("Активная запись должна быть в кэше")
	}
	if _, ok := c.Get("d"); ok {
		t.Error("Удалённая запись не кэшируется")
	}

	c.Set(&model.FileRecord{ID: "b", Status: model.StatusActive})
	c.Set(&model.FileRecord{ID: "c", Status: model.StatusActive})
	if c.Len() != 2 {
		t.Errorf("Len = %d, ожидалось 2", c.Len())
	}

	c.Invalidate("b", "c", "unknown")
	if c.Len() != 0 {
		t.Errorf("Len после Invalidate = %d", c.Len())
	}
}
