package main

import "testing"

func TestGetDiskUsage(t *testing.T) {
	total, used, available, err := getDiskUsage(t.TempDir())
	if err != nil {
		t.Fatalf("getDiskUsage: %v", err)
	}
	if total <= 0 {
		t.Errorf("total = %d, ожидалось > 0", total)
	}
	if available < 0 || available > total {
		t.Errorf("available = %d вне диапазона [0, %d]", available, total)
	}
	if used != total-available {
		t.Errorf("used = %d, ожидалось %d", used, total-available)
	}
}

func TestGetDiskUsage_MissingDir(t *testing.T) {
	if _, _, _, err := getDiskUsage("/nonexistent/files-module/uploads"); err == nil {
		t.Error("ожидалась ошибка для несуществующей директории")
	}
}
