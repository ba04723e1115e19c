// Пакет config — загрузка и валидация конфигурации Files Module
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Допустимые бэкенды блокировки по checksum.
const (
	LockBackendLocal    = "local"
	LockBackendPostgres = "postgres"
	LockBackendRedis    = "redis"
)

// defaultAllowedMimeTypes — типы, разрешённые к загрузке по умолчанию.
var defaultAllowedMimeTypes = []string{
	"image/jpeg", "image/png", "image/gif", "image/webp", "image/bmp", "image/tiff",
	"application/pdf",
	"text/plain", "text/csv",
	"application/zip",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
}

// Config содержит все параметры конфигурации Files Module.
type Config struct {
	// Порт HTTP-сервера
	Port int
	// Корневая директория загрузок (images/, documents/, thumbnails/, compressed/, other/)
	UploadDir string
	// Директория журнала загрузок
	WALDir string

	// Максимальный размер файла в байтах
	MaxFileSize int64
	// Порог свободного места на диске загрузок; ниже этого порога readiness degraded
	MinFreeDisk int64
	// Разрешённые MIME-типы (по результату сниффинга содержимого)
	AllowedMimeTypes []string
	// Размеры миниатюр по умолчанию (длинная сторона, px)
	ThumbnailSizes []int
	// Качество JPEG миниатюр
	ThumbnailQuality int
	// Качество JPEG сжатого варианта по умолчанию
	CompressQuality int
	// Максимальная длинная сторона сжатого варианта
	CompressMaxDimension int
	// Размер пачки при массовой загрузке
	BulkConcurrency int
	// Число воркеров ресайза изображений
	ImageWorkers int
	// Предел числа пикселей декодируемого изображения; большие не обрабатываются
	MaxImagePixels int64

	// Квоты по ролям в байтах
	QuotaAdmin     int64
	QuotaInspector int64
	QuotaViewer    int64

	// PostgreSQL
	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	DBSSLMode  string
	// Размер пула репозиториев
	DBMaxConns int
	// Размер отдельного пула advisory-блокировок (бэкенд postgres)
	DBLockConns int
	// Сколько ждать PostgreSQL при старте
	DBConnectTimeout time.Duration

	// Бэкенд блокировки по checksum: local, postgres, redis
	LockBackend string
	// TTL блокировки в Redis
	LockTTL       time.Duration
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Адрес clamd (tcp://host:3310 или unix:///path). Пустой адрес отключает сканирование.
	ClamdAddr string

	// S3-совместимое хранилище для резервных копий (опционально)
	S3Endpoint        string
	S3Region          string
	S3Bucket          string
	S3AccessKeyID     string
	S3SecretAccessKey string

	// URL JWKS endpoint Identity Provider
	JWKSUrl string
	// Путь к CA-сертификату для проверки TLS JWKS endpoint (опционально)
	JWKSCACert string
	// Ожидаемый issuer JWT; если пуст, не проверяется
	JWTIssuer string
	// Допустимое расхождение часов при проверке exp/nbf
	JWTLeeway time.Duration
	// Интервал обновления ключей JWKS
	JWKSRefreshInterval time.Duration
	// Таймаут HTTP-клиента JWKS
	JWKSClientTimeout time.Duration
	// TLS сертификат и ключ сервера (оба пусты: plain HTTP)
	TLSCert string
	TLSKey  string

	// Кэш метаданных файлов
	CacheTTL  time.Duration
	CacheSize int

	// Интервал фоновой сверки хранилища
	ReconcileInterval time.Duration
	// Минимальный возраст файла-сироты, после которого он удаляется
	OrphanGracePeriod time.Duration

	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// Интервал проверки зависимостей topologymetrics
	DephealthCheckInterval time.Duration
	// Имя группы в метриках topologymetrics
	DephealthGroup string

	// Таймаут graceful shutdown HTTP-сервера
	ShutdownTimeout time.Duration
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// FM_PORT — порт HTTP-сервера (по умолчанию 8030)
	cfg.Port, err = getEnvInt("FM_PORT", 8030)
	if err != nil {
		return nil, fmt.Errorf("FM_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("FM_PORT: значение %d вне допустимого диапазона 1-65535", cfg.Port)
	}

	// FM_UPLOAD_DIR — обязательный
	cfg.UploadDir, err = getEnvRequired("FM_UPLOAD_DIR")
	if err != nil {
		return nil, err
	}

	// FM_WAL_DIR — журнал загрузок (по умолчанию {upload_dir}/.wal)
	cfg.WALDir = getEnvDefault("FM_WAL_DIR", strings.TrimRight(cfg.UploadDir, "/")+"/.wal")

	// FM_MAX_FILE_SIZE — максимальный размер файла (по умолчанию 50 MB)
	cfg.MaxFileSize, err = getEnvInt64("FM_MAX_FILE_SIZE", 50*1024*1024)
	if err != nil {
		return nil, fmt.Errorf("FM_MAX_FILE_SIZE: %w", err)
	}
	if cfg.MaxFileSize <= 0 {
		return nil, fmt.Errorf("FM_MAX_FILE_SIZE: значение должно быть положительным")
	}
	cfg.MinFreeDisk, err = getEnvInt64("FM_MIN_FREE_DISK", 1024*1024*1024)
	if err != nil {
		return nil, fmt.Errorf("FM_MIN_FREE_DISK: %w", err)
	}

	cfg.AllowedMimeTypes = getEnvList("FM_ALLOWED_MIME_TYPES", defaultAllowedMimeTypes)

	// FM_THUMBNAIL_SIZES — список размеров через запятую (по умолчанию 150,300,600)
	cfg.ThumbnailSizes, err = getEnvIntList("FM_THUMBNAIL_SIZES", []int{150, 300, 600})
	if err != nil {
		return nil, fmt.Errorf("FM_THUMBNAIL_SIZES: %w", err)
	}
	for _, s := range cfg.ThumbnailSizes {
		if s <= 0 {
			return nil, fmt.Errorf("FM_THUMBNAIL_SIZES: размер должен быть положительным, получено %d", s)
		}
	}

	if cfg.ThumbnailQuality, err = getEnvQuality("FM_THUMBNAIL_QUALITY", 80); err != nil {
		return nil, err
	}
	if cfg.CompressQuality, err = getEnvQuality("FM_COMPRESS_QUALITY", 85); err != nil {
		return nil, err
	}

	cfg.CompressMaxDimension, err = getEnvInt("FM_COMPRESS_MAX_DIMENSION", 1920)
	if err != nil {
		return nil, fmt.Errorf("FM_COMPRESS_MAX_DIMENSION: %w", err)
	}

	// FM_BULK_CONCURRENCY — размер пачки массовой загрузки (по умолчанию 3)
	cfg.BulkConcurrency, err = getEnvInt("FM_BULK_CONCURRENCY", 3)
	if err != nil {
		return nil, fmt.Errorf("FM_BULK_CONCURRENCY: %w", err)
	}
	if cfg.BulkConcurrency < 1 {
		return nil, fmt.Errorf("FM_BULK_CONCURRENCY: значение должно быть >= 1")
	}

	cfg.ImageWorkers, err = getEnvInt("FM_IMAGE_WORKERS", runtime.NumCPU())
	if err != nil {
		return nil, fmt.Errorf("FM_IMAGE_WORKERS: %w", err)
	}
	if cfg.ImageWorkers < 1 {
		return nil, fmt.Errorf("FM_IMAGE_WORKERS: значение должно быть >= 1")
	}

	// FM_MAX_IMAGE_PIXELS — предел ширина×высота (по умолчанию 50 Мп)
	cfg.MaxImagePixels, err = getEnvInt64("FM_MAX_IMAGE_PIXELS", 50_000_000)
	if err != nil {
		return nil, fmt.Errorf("FM_MAX_IMAGE_PIXELS: %w", err)
	}
	if cfg.MaxImagePixels < 1 {
		return nil, fmt.Errorf("FM_MAX_IMAGE_PIXELS: значение должно быть >= 1")
	}

	// Квоты по ролям (по умолчанию admin 100 GB, inspector 10 GB, viewer 1 GB)
	if cfg.QuotaAdmin, err = getEnvInt64("FM_QUOTA_ADMIN", 100<<30); err != nil {
		return nil, fmt.Errorf("FM_QUOTA_ADMIN: %w", err)
	}
	if cfg.QuotaInspector, err = getEnvInt64("FM_QUOTA_INSPECTOR", 10<<30); err != nil {
		return nil, fmt.Errorf("FM_QUOTA_INSPECTOR: %w", err)
	}
	if cfg.QuotaViewer, err = getEnvInt64("FM_QUOTA_VIEWER", 1<<30); err != nil {
		return nil, fmt.Errorf("FM_QUOTA_VIEWER: %w", err)
	}

	// PostgreSQL
	cfg.DBHost, err = getEnvRequired("FM_DB_HOST")
	if err != nil {
		return nil, err
	}
	cfg.DBPort, err = getEnvInt("FM_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("FM_DB_PORT: %w", err)
	}
	cfg.DBName, err = getEnvRequired("FM_DB_NAME")
	if err != nil {
		return nil, err
	}
	cfg.DBUser, err = getEnvRequired("FM_DB_USER")
	if err != nil {
		return nil, err
	}
	cfg.DBPassword, err = getEnvRequired("FM_DB_PASSWORD")
	if err != nil {
		return nil, err
	}
	cfg.DBSSLMode = getEnvDefault("FM_DB_SSL_MODE", "disable")
	cfg.DBMaxConns, err = getEnvInt("FM_DB_MAX_CONNS", 20)
	if err != nil {
		return nil, fmt.Errorf("FM_DB_MAX_CONNS: %w", err)
	}
	if cfg.DBMaxConns < 2 {
		return nil, fmt.Errorf("FM_DB_MAX_CONNS: значение %d меньше 2", cfg.DBMaxConns)
	}
	cfg.DBLockConns, err = getEnvInt("FM_DB_LOCK_CONNS", 5)
	if err != nil {
		return nil, fmt.Errorf("FM_DB_LOCK_CONNS: %w", err)
	}
	if cfg.DBLockConns < 1 {
		return nil, fmt.Errorf("FM_DB_LOCK_CONNS: значение должно быть >= 1")
	}
	cfg.DBConnectTimeout, err = getEnvDuration("FM_DB_CONNECT_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("FM_DB_CONNECT_TIMEOUT: %w", err)
	}

	// FM_LOCK_BACKEND — блокировка дедупликации (по умолчанию postgres)
	cfg.LockBackend = getEnvDefault("FM_LOCK_BACKEND", LockBackendPostgres)
	switch cfg.LockBackend {
	case LockBackendLocal, LockBackendPostgres:
	case LockBackendRedis:
		cfg.RedisAddr, err = getEnvRequired("FM_REDIS_ADDR")
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("FM_LOCK_BACKEND: недопустимое значение %q, допустимые: local, postgres, redis", cfg.LockBackend)
	}
	cfg.RedisPassword = getEnvDefault("FM_REDIS_PASSWORD", "")
	cfg.RedisDB, err = getEnvInt("FM_REDIS_DB", 0)
	if err != nil {
		return nil, fmt.Errorf("FM_REDIS_DB: %w", err)
	}
	cfg.LockTTL, err = getEnvDuration("FM_LOCK_TTL", 2*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("FM_LOCK_TTL: %w", err)
	}

	cfg.ClamdAddr = getEnvDefault("FM_CLAMD_ADDR", "")

	// S3 резервное копирование: если бакет задан, endpoint и ключи обязательны
	cfg.S3Bucket = getEnvDefault("FM_S3_BUCKET", "")
	cfg.S3Region = getEnvDefault("FM_S3_REGION", "us-east-1")
	cfg.S3Endpoint = getEnvDefault("FM_S3_ENDPOINT", "")
	if cfg.S3Bucket != "" {
		if cfg.S3AccessKeyID, err = getEnvRequired("FM_S3_ACCESS_KEY_ID"); err != nil {
			return nil, err
		}
		if cfg.S3SecretAccessKey, err = getEnvRequired("FM_S3_SECRET_ACCESS_KEY"); err != nil {
			return nil, err
		}
	}

	// FM_JWKS_URL — обязательный
	cfg.JWKSUrl, err = getEnvRequired("FM_JWKS_URL")
	if err != nil {
		return nil, err
	}
	cfg.JWKSCACert = getEnvDefault("FM_JWKS_CA_CERT", "")
	cfg.JWTIssuer = getEnvDefault("FM_JWT_ISSUER", "")
	cfg.JWTLeeway, err = getEnvDuration("FM_JWT_LEEWAY", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("FM_JWT_LEEWAY: %w", err)
	}
	cfg.JWKSRefreshInterval, err = getEnvDuration("FM_JWKS_REFRESH_INTERVAL", 15*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("FM_JWKS_REFRESH_INTERVAL: %w", err)
	}
	cfg.JWKSClientTimeout, err = getEnvDuration("FM_JWKS_CLIENT_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("FM_JWKS_CLIENT_TIMEOUT: %w", err)
	}

	cfg.TLSCert = getEnvDefault("FM_TLS_CERT", "")
	cfg.TLSKey = getEnvDefault("FM_TLS_KEY", "")
	if (cfg.TLSCert == "") != (cfg.TLSKey == "") {
		return nil, fmt.Errorf("FM_TLS_CERT и FM_TLS_KEY задаются только вместе")
	}

	cfg.CacheTTL, err = getEnvDuration("FM_CACHE_TTL", 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("FM_CACHE_TTL: %w", err)
	}
	cfg.CacheSize, err = getEnvInt("FM_CACHE_SIZE", 10000)
	if err != nil {
		return nil, fmt.Errorf("FM_CACHE_SIZE: %w", err)
	}

	// FM_RECONCILE_INTERVAL — интервал сверки (по умолчанию 6h)
	cfg.ReconcileInterval, err = getEnvDuration("FM_RECONCILE_INTERVAL", 6*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("FM_RECONCILE_INTERVAL: %w", err)
	}
	cfg.OrphanGracePeriod, err = getEnvDuration("FM_ORPHAN_GRACE_PERIOD", time.Hour)
	if err != nil {
		return nil, fmt.Errorf("FM_ORPHAN_GRACE_PERIOD: %w", err)
	}

	// FM_LOG_LEVEL — уровень логирования (по умолчанию info)
	cfg.LogLevel, err = parseLogLevel(getEnvDefault("FM_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("FM_LOG_LEVEL: %w", err)
	}

	// FM_LOG_FORMAT — формат логов (по умолчанию json)
	cfg.LogFormat = getEnvDefault("FM_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("FM_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	cfg.DephealthCheckInterval, err = getEnvDuration("FM_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("FM_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}
	cfg.DephealthGroup = getEnvDefault("FM_DEPHEALTH_GROUP", "files-module")

	cfg.ShutdownTimeout, err = getEnvDuration("FM_SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("FM_SHUTDOWN_TIMEOUT: %w", err)
	}

	return cfg, nil
}

// DatabaseDSN формирует DSN для pgxpool.
func (c *Config) DatabaseDSN() string {
	return c.dbURL("postgres")
}

// MigrateURL формирует URL для golang-migrate (драйвер pgx5).
func (c *Config) MigrateURL() string {
	return c.dbURL("pgx5")
}

func (c *Config) dbURL(scheme string) string {
	u := url.URL{
		Scheme:   scheme,
		User:     url.UserPassword(c.DBUser, c.DBPassword),
		Host:     fmt.Sprintf("%s:%d", c.DBHost, c.DBPort),
		Path:     "/" + c.DBName,
		RawQuery: "sslmode=" + c.DBSSLMode,
	}
	return u.String()
}

// TLSEnabled — сервер слушает HTTPS.
func (c *Config) TLSEnabled() bool {
	return c.TLSCert != "" && c.TLSKey != ""
}

// BackupEnabled — настроено резервное копирование в S3.
func (c *Config) BackupEnabled() bool {
	return c.S3Bucket != ""
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvInt64 возвращает int64 значение переменной окружения или значение по умолчанию.
func getEnvInt64(key string, defaultVal int64) (int64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvQuality читает качество JPEG в диапазоне 1-100.
func getEnvQuality(key string, defaultVal int) (int, error) {
	q, err := getEnvInt(key, defaultVal)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if q < 1 || q > 100 {
		return 0, fmt.Errorf("%s: значение %d вне допустимого диапазона 1-100", key, q)
	}
	return q, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 6h)", val)
	}
	return d, nil
}

// getEnvList возвращает список значений, разделённых запятой.
func getEnvList(key string, defaultVal []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return append([]string(nil), defaultVal...)
	}
	var result []string
	for _, part := range strings.Split(val, ",") {
		if p := strings.TrimSpace(part); p != "" {
			result = append(result, p)
		}
	}
	return result
}

// getEnvIntList возвращает отсортированный список целых чисел без повторов.
func getEnvIntList(key string, defaultVal []int) ([]int, error) {
	val := os.Getenv(key)
	if val == "" {
		return append([]int(nil), defaultVal...), nil
	}
	seen := make(map[int]bool)
	var result []int
	for _, part := range strings.Split(val, ",") {
		p := strings.TrimSpace(part)
		if p == "" {
			continue
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("некорректное целое число: %q", p)
		}
		if !seen[n] {
			seen[n] = true
			result = append(result, n)
		}
	}
	sort.Ints(result)
	return result, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}
