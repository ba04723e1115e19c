// health.go — обработчики health endpoints Files Module.
// /health/live — liveness probe (процесс жив)
// /health/ready — readiness probe (PostgreSQL, директория загрузок, диск, JWKS и т.д.)
// /metrics — Prometheus метрики
package handlers

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jjgordon89/JSG-Inspection-sub000/internal/config"
)

const (
	statusOK       = "ok"
	statusDegraded = "degraded"
	statusFail     = "fail"

	serviceName = "files-module"
)

// ReadinessChecker — интерфейс проверки готовности зависимости.
type ReadinessChecker interface {
	// CheckReady возвращает статус ("ok", "degraded", "fail") и сообщение.
	CheckReady() (status string, message string)
}

// healthCheck — зарегистрированная проверка.
// Некритичная зависимость в статусе fail даёт degraded, а не fail.
type healthCheck struct {
	name     string
	checker  ReadinessChecker
	critical bool
}

// HealthHandler — обработчик health endpoints.
type HealthHandler struct {
	checks      []healthCheck
	promHandler http.Handler
}

// NewHealthHandler создаёт обработчик health endpoints без проверок.
// Проверки добавляются через AddCheck.
func NewHealthHandler() *HealthHandler {
	return &HealthHandler{promHandler: promhttp.Handler()}
}

// AddCheck регистрирует проверку зависимости.
func (h *HealthHandler) AddCheck(name string, checker ReadinessChecker, critical bool) *HealthHandler {
	h.checks = append(h.checks, healthCheck{name: name, checker: checker, critical: critical})
	return h
}

// healthCheckResult — результат проверки одной зависимости.
type healthCheckResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type healthLiveResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
	Service   string `json:"service"`
}

type healthReadyResponse struct {
	Status    string                       `json:"status"`
	Timestamp string                       `json:"timestamp"`
	Version   string                       `json:"version"`
	Service   string                       `json:"service"`
	Checks    map[string]healthCheckResult `json:"checks"`
}

// HealthLive — liveness probe. Возвращает 200 если процесс жив.
func (h *HealthHandler) HealthLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthLiveResponse{
		Status:    statusOK,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   config.Version,
		Service:   serviceName,
	})
}

// HealthReady — readiness probe. Возвращает 200 (ok/degraded) или 503 (fail).
func (h *HealthHandler) HealthReady(w http.ResponseWriter, _ *http.Request) {
	resp := healthReadyResponse{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   config.Version,
		Service:   serviceName,
		Checks:    make(map[string]healthCheckResult, len(h.checks)),
	}

	statuses := make([]string, 0, len(h.checks))
	for _, c := range h.checks {
		status, msg := c.checker.CheckReady()
		resp.Checks[c.name] = healthCheckResult{Status: status, Message: msg}
		if status == statusFail && !c.critical {
			status = statusDegraded
		}
		statuses = append(statuses, status)
	}
	resp.Status = overallStatus(statuses...)

	code := http.StatusOK
	if resp.Status == statusFail {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

// GetMetrics — Prometheus метрики.
func (h *HealthHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.promHandler.ServeHTTP(w, r)
}

// overallStatus определяет итоговый статус из статусов зависимостей.
// Если хотя бы одна зависимость fail, итог fail.
// Если хотя бы одна degraded, итог degraded.
// Иначе ok.
func overallStatus(statuses ...string) string {
	hasDegraded := false
	for _, s := range statuses {
		if s == statusFail {
			return statusFail
		}
		if s == statusDegraded {
			hasDegraded = true
		}
	}
	if hasDegraded {
		return statusDegraded
	}
	return statusOK
}

// --- Проверки ---

// DirWritableChecker проверяет, что в директорию можно писать.
type DirWritableChecker struct {
	Dir string
}

// CheckReady создаёт и удаляет пробный файл.
func (c DirWritableChecker) CheckReady() (string, string) {
	testFile := filepath.Join(c.Dir, ".health_check")
	if err := os.WriteFile(testFile, []byte("ok"), 0o600); err != nil {
		return statusFail, "Директория недоступна для записи: " + err.Error()
	}
	_ = os.Remove(testFile)
	return statusOK, ""
}

// DiskUsageFunc возвращает ёмкость диска в байтах.
type DiskUsageFunc func() (total, used, available int64, err error)

// DiskSpaceChecker — degraded, если свободного места меньше MinFree.
type DiskSpaceChecker struct {
	Usage   DiskUsageFunc
	MinFree int64
}

// CheckReady сравнивает свободное место с порогом.
func (c DiskSpaceChecker) CheckReady() (string, string) {
	total, _, available, err := c.Usage()
	if err != nil {
		return statusFail, err.Error()
	}
	msg := fmt.Sprintf("свободно %s из %s", humanize.IBytes(uint64(available)), humanize.IBytes(uint64(total)))
	if available < c.MinFree {
		return statusDegraded, msg + ", меньше порога " + humanize.IBytes(uint64(c.MinFree))
	}
	return statusOK, msg
}

// PingChecker адаптирует функцию ping (Redis, clamd) к ReadinessChecker.
type PingChecker func(ctx context.Context) error

// CheckReady вызывает ping с таймаутом 3 секунды.
func (p PingChecker) CheckReady() (string, string) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := p(ctx); err != nil {
		return statusFail, err.Error()
	}
	return statusOK, ""
}
