// JWKS Mock Server — тестовый Identity Provider для локального запуска Files Module.
// Генерирует RSA ключевую пару при старте, отдаёт JWKS по GET /jwks
// и выпускает JWT с realm_access.roles по POST /token.
package main

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const keyID = "files-module-dev"

// config — параметры из env-переменных.
type config struct {
	Port    string // MOCK_PORT, по умолчанию 8180
	Issuer  string // MOCK_ISSUER, совпадает с FM_JWT_ISSUER
	TLSCert string
	TLSKey  string
	KeySize int
}

func loadConfig() config {
	cfg := config{
		Port:    envOrDefault("MOCK_PORT", "8180"),
		Issuer:  envOrDefault("MOCK_ISSUER", "http://localhost:8180/realms/inspect"),
		TLSCert: os.Getenv("MOCK_TLS_CERT"),
		TLSKey:  os.Getenv("MOCK_TLS_KEY"),
		KeySize: 2048,
	}
	if v := os.Getenv("MOCK_KEY_SIZE"); v != "" {
		if size, err := strconv.Atoi(v); err == nil && size >= 2048 {
			cfg.KeySize = size
		}
	}
	return cfg
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

// jwksKey — ключ JWKS (RFC 7517).
type jwksKey struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

type jwksResponse struct {
	Keys []jwksKey `json:"keys"`
}

func buildJWKS(pub *rsa.PublicKey) jwksResponse {
	return jwksResponse{Keys: []jwksKey{{
		Kty: "RSA",
		Kid: keyID,
		Use: "sig",
		Alg: "RS256",
		N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
	}}}
}

// tokenRequest — тело POST /token.
// roles — роли realm, например ["fm-inspector"].
type tokenRequest struct {
	Sub               string   `json:"sub"`
	PreferredUsername string   `json:"preferred_username"`
	Roles             []string `json:"roles"`
	TTLSeconds        int      `json:"ttl_seconds"`
}

type tokenResponse struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"`
}

type realmAccess struct {
	Roles []string `json:"roles"`
}

// mockClaims — формат claims Keycloak, который разбирает JWT middleware Files Module.
type mockClaims struct {
	jwt.RegisteredClaims
	PreferredUsername string      `json:"preferred_username,omitempty"`
	RealmAccess       realmAccess `json:"realm_access"`
}

type server struct {
	privateKey *rsa.PrivateKey
	jwks       []byte
	issuer     string
	logger     *slog.Logger
}

func newServer(key *rsa.PrivateKey, issuer string, logger *slog.Logger) (*server, error) {
	jwks, err := json.Marshal(buildJWKS(&key.PublicKey))
	if err != nil {
		return nil, err
	}
	return &server{privateKey: key, jwks: jwks, issuer: issuer, logger: logger}, nil
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/jwks", s.handleJWKS)
	r.Post("/token", s.handleToken)
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	return r
}

func (s *server) handleJWKS(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	_, _ = w.Write(s.jwks)
}

func (s *server) handleToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Невалидный JSON: "+err.Error())
		return
	}
	if req.Sub == "" {
		writeError(w, http.StatusBadRequest, "Поле 'sub' обязательно")
		return
	}
	if len(req.Roles) == 0 {
		writeError(w, http.StatusBadRequest, "Поле 'roles' обязательно (например [\"fm-inspector\"])")
		return
	}

	ttl := req.TTLSeconds
	if ttl <= 0 {
		ttl = 3600
	}
	now := time.Now()
	exp := now.Add(time.Duration(ttl) * time.Second)

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, mockClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   req.Sub,
			Issuer:    s.issuer,
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		PreferredUsername: req.PreferredUsername,
		RealmAccess:       realmAccess{Roles: req.Roles},
	})
	token.Header["kid"] = keyID

	signed, err := token.SignedString(s.privateKey)
	if err != nil {
		s.logger.Error("Ошибка подписи JWT", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "Ошибка генерации токена")
		return
	}

	s.logger.Info("Токен выдан",
		slog.String("sub", req.Sub),
		slog.Any("roles", req.Roles),
		slog.Int("ttl_seconds", ttl),
	)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(tokenResponse{Token: signed, ExpiresAt: exp.Unix()})
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{"code": "VALIDATION_ERROR", "message": message},
	})
}

func main() {
	cfg := loadConfig()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	logger.Info("Генерация RSA ключевой пары", slog.Int("key_size", cfg.KeySize))
	key, err := rsa.GenerateKey(rand.Reader, cfg.KeySize)
	if err != nil {
		logger.Error("Ошибка генерации RSA ключа", slog.String("error", err.Error()))
		os.Exit(1)
	}

	srv, err := newServer(key, cfg.Issuer, logger)
	if err != nil {
		logger.Error("Ошибка сериализации JWKS", slog.String("error", err.Error()))
		os.Exit(1)
	}

	httpSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("JWKS Mock Server запущен",
		slog.String("addr", httpSrv.Addr),
		slog.String("issuer", cfg.Issuer),
		slog.Bool("tls", cfg.TLSCert != ""),
	)
	if cfg.TLSCert != "" && cfg.TLSKey != "" {
		err = httpSrv.ListenAndServeTLS(cfg.TLSCert, cfg.TLSKey)
	} else {
		err = httpSrv.ListenAndServe()
	}
	if err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
