// metrics.go — Prometheus HTTP метрики Files Module.
// Регистрирует метрики: fm_http_requests_total, fm_http_request_duration_seconds.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP метрики
var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fm_http_requests_total",
			Help: "Общее количество HTTP-запросов к Files Module",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "fm_http_request_duration_seconds",
			Help: "Длительность HTTP-запросов к Files Module в секундах",
			// Загрузки с обработкой изображений заметно дольше DefBuckets
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"method", "path"},
	)
)

// MetricsMiddleware возвращает HTTP middleware для сбора Prometheus метрик.
func MetricsMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			wrapped := newResponseWriter(w)
			next.ServeHTTP(wrapped, r)

			path := routePattern(r)
			httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.statusCode)).Inc()
			httpRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		})
	}
}

// routePattern возвращает шаблон маршрута chi (/api/v1/files/{id})
// вместо фактического пути, чтобы id файлов не раздували кардинальность.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return normalizePath(r.URL.Path)
}

// normalizePath — запасной вариант без контекста chi:
// /api/v1/files/a1b2c3d4-... → /api/v1/files/{id}.
func normalizePath(path string) string {
	switch path {
	case "/health/live", "/health/ready", "/metrics",
		"/api/v1/files", "/api/v1/files/bulk", "/api/v1/files/bulk-operation",
		"/api/v1/files/reconcile", "/api/v1/quota":
		return path
	}

	const filesPrefix = "/api/v1/files/"
	if rest, ok := strings.CutPrefix(path, filesPrefix); ok {
		if strings.HasSuffix(rest, "/content") {
			return filesPrefix + "{id}/content"
		}
		return filesPrefix + "{id}"
	}
	if strings.HasPrefix(path, "/api/v1/quota/") {
		return "/api/v1/quota/{userId}"
	}
	return "other"
}
