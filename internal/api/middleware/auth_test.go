package middleware

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/jjgordon89/JSG-Inspection-sub000/internal/domain/rbac"
)

const (
	testKeyID  = "test-key-fm"
	testIssuer = "https://idp.test/realms/inspect"
)

func generateTestKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	return key
}

// buildJWKSetJSON строит JWKS JSON из RSA публичного ключа.
func buildJWKSetJSON(pub *rsa.PublicKey, kid string) json.RawMessage {
	jwks := map[string]any{
		"keys": []map[string]any{
			{
				"kty": "RSA",
				"kid": kid,
				"use": "sig",
				"alg": "RS256",
				"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
			},
		},
	}
	data, _ := json.Marshal(jwks)
	return data
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestJWTAuth(t *testing.T, key *rsa.PrivateKey) *JWTAuth {
	t.Helper()
	kf, err := keyfunc.NewJWKSetJSON(buildJWKSetJSON(&key.PublicKey, testKeyID))
	if err != nil {
		t.Fatalf("не удалось создать keyfunc: %v", err)
	}
	return NewJWTAuthWithKeyfunc(kf, testIssuer, testLogger())
}

func generateToken(t *testing.T, key *rsa.PrivateKey, sub, issuer string, roles []string, expired bool) string {
	t.Helper()
	exp := time.Now().Add(time.Hour)
	if expired {
		exp = time.Now().Add(-time.Hour)
	}
	claims := jwt.MapClaims{
		"sub":                sub,
		"preferred_username": "inspector.one",
		"iss":                issuer,
		"exp":                jwt.NewNumericDate(exp),
		"iat":                jwt.NewNumericDate(time.Now()),
	}
	if len(roles) > 0 {
		claims["realm_access"] = map[string]any{"roles": roles}
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = testKeyID
	s, err := token.SignedString(key)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestJWTAuth_ValidToken(t *testing.T) {
	key := generateTestKey(t)
	auth := newTestJWTAuth(t, key)

	var got *AuthClaims
	handler := auth.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = ClaimsFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/files", nil)
	req.Header.Set("Authorization", "Bearer "+generateToken(t, key, "user-1", testIssuer,
		[]string{"offline_access", "fm-viewer", "fm-inspector"}, false))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("ожидался 200, получен %d: %s", rec.Code, rec.Body.String())
	}
	if got == nil {
		t.Fatal("claims не найдены в контексте")
	}
	if got.Subject != "user-1" || got.Role != rbac.RoleInspector || got.PreferredUsername != "inspector.one" {
		t.Errorf("claims = %+v", got)
	}
}

func TestJWTAuth_Rejects(t *testing.T) {
	key := generateTestKey(t)
	other := generateTestKey(t)
	auth := newTestJWTAuth(t, key)

	tests := []struct {
		name   string
		header string
	}{
		{"нет заголовка", ""},
		{"не Bearer", "Basic dXNlcjpwYXNz"},
		{"пустой токен", "Bearer "},
		{"мусор", "Bearer not.a.jwt"},
		{"просроченный", "Bearer " + generateToken(t, key, "user-1", testIssuer, []string{"fm-admin"}, true)},
		{"чужой issuer", "Bearer " + generateToken(t, key, "user-1", "https://evil.test", []string{"fm-admin"}, false)},
		{"чужой ключ", "Bearer " + generateToken(t, other, "user-1", testIssuer, []string{"fm-admin"}, false)},
		{"без sub", "Bearer " + generateToken(t, key, "", testIssuer, []string{"fm-admin"}, false)},
	}

	handler := auth.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler не должен вызываться")
	}))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/files", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Errorf("ожидался 401, получен %d", rec.Code)
			}
			if !strings.Contains(rec.Body.String(), `"UNAUTHORIZED"`) {
				t.Errorf("тело ответа: %s", rec.Body.String())
			}
		})
	}
}

func TestRequireRole(t *testing.T) {
	tests := []struct {
		name    string
		claims  *AuthClaims
		minRole string
		want    int
	}{
		{"без claims", nil, rbac.RoleViewer, http.StatusUnauthorized},
		{"без роли fm", &AuthClaims{Subject: "u"}, rbac.RoleViewer, http.StatusForbidden},
		{"viewer читает", &AuthClaims{Subject: "u", Role: rbac.RoleViewer}, rbac.RoleViewer, http.StatusOK},
		{"viewer не пишет", &AuthClaims{Subject: "u", Role: rbac.RoleViewer}, rbac.RoleInspector, http.StatusForbidden},
		{"admin пишет", &AuthClaims{Subject: "u", Role: rbac.RoleAdmin}, rbac.RoleInspector, http.StatusOK},
		{"inspector не admin", &AuthClaims{Subject: "u", Role: rbac.RoleInspector}, rbac.RoleAdmin, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := RequireRole(tt.minRole)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.claims != nil {
				req = req.WithContext(WithClaims(req.Context(), tt.claims))
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("ожидался %d, получен %d", tt.want, rec.Code)
			}
		})
	}
}

func TestJWKSReadinessChecker(t *testing.T) {
	key := generateTestKey(t)
	jwks := buildJWKSetJSON(&key.PublicKey, testKeyID)

	tests := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{"ключи есть", http.StatusOK, string(jwks), "ok"},
		{"нет ключей", http.StatusOK, `{"keys":[]}`, "degraded"},
		{"не JSON", http.StatusOK, "<html>", "degraded"},
		{"ошибка IdP", http.StatusBadGateway, "", "fail"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c, err := NewJWKSReadinessChecker(srv.URL, "", time.Second)
			if err != nil {
				t.Fatal(err)
			}
			if status, msg := c.CheckReady(); status != tt.want {
				t.Errorf("статус %s (%s), ожидался %s", status, msg, tt.want)
			}
		})
	}
}

func TestNormalizePath(t *testing.T) {
	tests := map[string]string{
		"/health/live":                 "/health/live",
		"/api/v1/files/bulk-operation": "/api/v1/files/bulk-operation",
		"/api/v1/files/0b8c2a7e-3f9e-4c55-9b1a-1f0f6d7c9e10":         "/api/v1/files/{id}",
		"/api/v1/files/0b8c2a7e-3f9e-4c55-9b1a-1f0f6d7c9e10/content": "/api/v1/files/{id}/content",
		"/api/v1/quota/user-1": "/api/v1/quota/{userId}",
		"/favicon.ico":         "other",
	}
	for in, want := range tests {
		if got := normalizePath(in); got != want {
			t.Errorf("normalizePath(%q) = %q, ожидалось %q", in, got, want)
		}
	}
}

func TestMetricsMiddleware_RoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(MetricsMiddleware())
	r.Get("/api/v1/files/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	counter := httpRequestsTotal.WithLabelValues(http.MethodGet, "/api/v1/files/{id}", "418")
	before := testutil.ToFloat64(counter)

	for _, id := range []string{"a", "b"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/files/"+id, nil))
		if rec.Code != http.StatusTeapot {
			t.Fatalf("статус %d", rec.Code)
		}
	}

	// Оба запроса учтены под одним шаблоном маршрута
	if got := testutil.ToFloat64(counter) - before; got != 2 {
		t.Errorf("fm_http_requests_total{path=/api/v1/files/{id}} += %v, ожидалось 2", got)
	}
}
