package service

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/jjgordon89/JSG-Inspection-sub000/internal/scan"
)

// panicScanner паникует на содержимом с маркером.
type panicScanner struct {
	marker []byte
}

func (p panicScanner) Scan(_ context.Context, r io.Reader) (scan.Result, error) {
	data, _ := io.ReadAll(r)
	if bytes.Contains(data, p.marker) {
		panic("сбой сканера")
	}
	return scan.Result{}, nil
}

func TestUploadMany_PartialFailure(t *testing.T) {
	env := newTestEnv(t)

	files := make([]FileInput, 5)
	for i := range files {
		files[i] = FileInput{OriginalName: "note.txt", Data: testText(100 + i)}
	}
	files[2] = FileInput{OriginalName: "empty.txt"}

	res := env.pipeline.UploadMany(context.Background(), files, inspector, UploadOptions{Concurrency: 2})

	if res.Summary.Total != 5 || res.Summary.Successful != 4 || res.Summary.Failed != 1 {
		t.Fatalf("Summary = %+v, ожидалось 5/4/1", res.Summary)
	}
	for i, item := range res.Results {
		if item.Index != i {
			t.Errorf("Results[%d].Index = %d", i, item.Index)
		}
		if item.Filename != files[i].OriginalName {
			t.Errorf("Results[%d].Filename = %q", i, item.Filename)
		}
	}

	failed := res.Results[2]
	if !errors.Is(failed.Err(), ErrValidation) {
		t.Errorf("Ожидалась ErrValidation для файла 3, получена %v", failed.Err())
	}
	if failed.Code != CodeValidation || failed.Result != nil {
		t.Errorf("Элемент 3: code=%q result=%v", failed.Code, failed.Result)
	}

	for i, item := range res.Results {
		if i == 2 {
			continue
		}
		if item.Err() != nil {
			t.Fatalf("Файл %d: %v", i, item.Err())
		}
		if _, err := env.svc.Get(context.Background(), item.Result.OriginalFile.ID, inspector); err != nil {
			t.Errorf("Файл %d недоступен после загрузки: %v", i, err)
		}
	}
}

func TestUploadMany_PanicIsolated(t *testing.T) {
	env := newTestEnvWith(t, testPipelineConfig(), panicScanner{marker: []byte("BOOM")})

	files := []FileInput{
		{OriginalName: "a.txt", Data: testText(200)},
		{OriginalName: "b.txt", Data: []byte("BOOM inside\n")},
		{OriginalName: "c.txt", Data: testText(201)},
	}
	res := env.pipeline.UploadMany(context.Background(), files, inspector, UploadOptions{})

	if res.Summary.Successful != 2 || res.Summary.Failed != 1 {
		t.Fatalf("Summary = %+v, ожидалось 2 успешных и 1 ошибка", res.Summary)
	}
	if got := res.Results[1]; got.Code != CodeProcessing || !errors.Is(got.Err(), ErrProcessing) {
		t.Errorf("Паника должна стать ошибкой обработки: code=%q err=%v", got.Code, got.Err())
	}
}

func TestUploadMany_Empty(t *testing.T) {
	env := newTestEnv(t)
	res := env.pipeline.UploadMany(context.Background(), nil, inspector, UploadOptions{})
	if res.Summary.Total != 0 || len(res.Results) != 0 {
		t.Errorf("Summary = %+v", res.Summary)
	}
}

func TestUploadMany_DuplicatesWithinBatch(t *testing.T) {
	env := newTestEnv(t)
	data := testText(300)
	files := []FileInput{
		{OriginalName: "1.txt", Data: data},
		{OriginalName: "2.txt", Data: data},
		{OriginalName: "3.txt", Data: data},
	}

	res := env.pipeline.UploadMany(context.Background(), files, inspector, UploadOptions{PreventDuplicates: true})
	if res.Summary.Successful != 3 {
		t.Fatalf("Summary = %+v", res.Summary)
	}
	id := res.Results[0].Result.OriginalFile.ID
	for i, item := range res.Results {
		if item.Result.OriginalFile.ID != id {
			t.Errorf("Файл %d: id %s, ожидался %s", i, item.Result.OriginalFile.ID, id)
		}
	}
	if env.files.count() != 1 {
		t.Errorf("Записей: %d, ожидалась 1", env.files.count())
	}
}

func TestUploadMany_QuotaHeldAcrossBatch(t *testing.T) {
	env := newTestEnv(t)
	files := make([]FileInput, 3)
	for i := range files {
		files[i] = FileInput{OriginalName: "note.txt", Data: testText(200 + i)}
	}
	// Каждый файл по отдельности проходит проверку, вместе — нет
	limit := int64(len(files[0].Data)) + int64(len(files[0].Data))/2
	env.overrides.overrides[inspector.UserID] = limit

	res := env.pipeline.UploadMany(context.Background(), files, inspector, UploadOptions{Concurrency: 3})

	if res.Summary.Successful != 1 || res.Summary.Failed != 2 {
		t.Fatalf("Summary = %+v, ожидалось 1 успешная и 2 отклонённые", res.Summary)
	}
	for i, item := range res.Results {
		if item.Err() != nil && !errors.Is(item.Err(), ErrValidation) {
			t.Errorf("Файл %d: ожидалась ErrValidation, получена %v", i, item.Err())
		}
	}
	used, _ := env.files.UsedBytes(context.Background(), inspector.UserID)
	if used > limit {
		t.Errorf("Занято %d при квоте %d", used, limit)
	}
	if env.storedFiles(t) != 1 {
		t.Errorf("Файлов на диске %d, ожидался 1", env.storedFiles(t))
	}
}
