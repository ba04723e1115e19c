package wal

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

// testLogger возвращает логгер для тестов (вывод подавляется).
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestWAL(t *testing.T) *WAL {
	t.Helper()
	w, err := New(filepath.Join(t.TempDir(), "wal"), testLogger())
	if err != nil {
		t.Fatalf("ошибка создания журнала: %v", err)
	}
	return w
}

// TestNew_CreatesDirectory проверяет, что New создаёт директорию журнала.
func TestNew_CreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "wal")

	w, err := New(dir, testLogger())
	if err != nil {
		t.Fatalf("ожидалось успешное создание журнала, получена ошибка: %v", err)
	}
	if w.Dir() != dir {
		t.Errorf("ожидался путь %s, получен %s", dir, w.Dir())
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		t.Fatalf("директория журнала не создана: %v", err)
	}
}

// TestBeginTrackCommit проверяет полный цикл успешной транзакции.
func TestBeginTrackCommit(t *testing.T) {
	w := newTestWAL(t)

	entry, err := w.Begin(OpUpload, "file-1")
	if err != nil {
		t.Fatalf("ошибка Begin: %v", err)
	}
	if entry.Status != StatusPending {
		t.Errorf("статус: ожидалось pending, получено %s", entry.Status)
	}

	for _, p := range []string{"images/file-1_site.jpg", "thumbnails/t1_site.jpg"} {
		if err := w.Track(entry.TransactionID, p); err != nil {
			t.Fatalf("ошибка Track: %v", err)
		}
	}

	got, err := w.Get(entry.TransactionID)
	if err != nil {
		t.Fatalf("ошибка Get: %v", err)
	}
	if len(got.Paths) != 2 || got.Paths[1] != "thumbnails/t1_site.jpg" {
		t.Errorf("пути: получено %v", got.Paths)
	}

	if err := w.Commit(entry.TransactionID); err != nil {
		t.Fatalf("ошибка Commit: %v", err)
	}
	got, _ = w.Get(entry.TransactionID)
	if got.Status != StatusCommitted || got.CompletedAt == nil {
		t.Errorf("ожидался committed с CompletedAt, получено %s", got.Status)
	}

	// Повторное завершение запрещено
	if err := w.Rollback(entry.TransactionID); !errors.Is(err, ErrNotPending) {
		t.Errorf("ожидалась ErrNotPending, получено %v", err)
	}
	if err := w.Track(entry.TransactionID, "other/x"); !errors.Is(err, ErrNotPending) {
		t.Errorf("Track после Commit: ожидалась ErrNotPending, получено %v", err)
	}
}

// TestRecoverPending проверяет, что после рестарта находятся только pending-записи.
func TestRecoverPending(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "wal")
	w, _ := New(dir, testLogger())

	committed, _ := w.Begin(OpUpload, "a")
	_ = w.Commit(committed.TransactionID)

	rolled, _ := w.Begin(OpCopy, "b")
	_ = w.Rollback(rolled.TransactionID)

	pending, _ := w.Begin(OpUpload, "c")
	_ = w.Track(pending.TransactionID, "images/c_photo.jpg")

	// Новый экземпляр над той же директорией — имитация рестарта
	w2, err := New(dir, testLogger())
	if err != nil {
		t.Fatalf("ошибка создания журнала: %v", err)
	}
	found, err := w2.RecoverPending()
	if err != nil {
		t.Fatalf("ошибка RecoverPending: %v", err)
	}
	if len(found) != 1 {
		t.Fatalf("ожидалась 1 pending-запись, получено %d", len(found))
	}
	if found[0].FileID != "c" || len(found[0].Paths) != 1 {
		t.Errorf("неожиданная запись: %+v", found[0])
	}
}

// TestCleanCompleted проверяет удаление завершённых записей.
func TestCleanCompleted(t *testing.T) {
	w := newTestWAL(t)

	a, _ := w.Begin(OpUpload, "a")
	_ = w.Commit(a.TransactionID)
	b, _ := w.Begin(OpUpload, "b")
	_ = w.Rollback(b.TransactionID)
	c, _ := w.Begin(OpUpload, "c")

	cleaned, err := w.CleanCompleted()
	if err != nil {
		t.Fatalf("ошибка CleanCompleted: %v", err)
	}
	if cleaned != 2 {
		t.Errorf("ожидалось 2 удалённых записи, получено %d", cleaned)
	}
	if _, err := w.Get(c.TransactionID); err != nil {
		t.Errorf("pending-запись не должна удаляться: %v", err)
	}
}

// TestConcurrentTrack проверяет потокобезопасность Track.
func TestConcurrentTrack(t *testing.T) {
	w := newTestWAL(t)
	entry, _ := w.Begin(OpUpload, "x")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := w.Track(entry.TransactionID, filepath.Join("thumbnails", string(rune('a'+i)))); err != nil {
				t.Errorf("ошибка Track: %v", err)
			}
		}(i)
	}
	wg.Wait()

	got, _ := w.Get(entry.TransactionID)
	if len(got.Paths) != 20 {
		t.Errorf("ожидалось 20 путей, получено %d", len(got.Paths))
	}
}
