// Точка входа Files Module — модуля приёма и хранения файлов инспекций.
// Загружает конфигурацию, применяет миграции, подключается к PostgreSQL,
// восстанавливает незавершённые записи по журналу, собирает конвейер
// загрузки и сервисы, запускает фоновую сверку и topologymetrics,
// HTTP-сервер с JWT middleware и graceful shutdown.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"

	"github.com/jjgordon89/JSG-Inspection-sub000/internal/api/handlers"
	"github.com/jjgordon89/JSG-Inspection-sub000/internal/api/middleware"
	"github.com/jjgordon89/JSG-Inspection-sub000/internal/api/openapi"
	"github.com/jjgordon89/JSG-Inspection-sub000/internal/config"
	"github.com/jjgordon89/JSG-Inspection-sub000/internal/database"
	"github.com/jjgordon89/JSG-Inspection-sub000/internal/domain/rbac"
	"github.com/jjgordon89/JSG-Inspection-sub000/internal/lock"
	"github.com/jjgordon89/JSG-Inspection-sub000/internal/repository"
	"github.com/jjgordon89/JSG-Inspection-sub000/internal/scan"
	"github.com/jjgordon89/JSG-Inspection-sub000/internal/server"
	"github.com/jjgordon89/JSG-Inspection-sub000/internal/service"
	"github.com/jjgordon89/JSG-Inspection-sub000/internal/storage/filestore"
	"github.com/jjgordon89/JSG-Inspection-sub000/internal/storage/objectstore"
	"github.com/jjgordon89/JSG-Inspection-sub000/internal/storage/wal"
)

func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg)
	logger.Info("Files Module запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("upload_dir", cfg.UploadDir),
		slog.String("lock_backend", cfg.LockBackend),
	)

	// 3. Применение миграций БД
	logger.Info("Применение миграций БД...")
	if err := database.Migrate(cfg, logger); err != nil {
		logger.Error("Ошибка миграций БД", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 4. Подключение к PostgreSQL (pgxpool)
	ctx := context.Background()
	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	// 4.1 Адаптер pgxpool → *sql.DB для topologymetrics
	pgDB := stdlib.OpenDBFromPool(pool)
	defer pgDB.Close()

	// 5. Файловое хранилище и журнал загрузок
	store, err := filestore.New(cfg.UploadDir)
	if err != nil {
		logger.Error("Ошибка инициализации FileStore", slog.String("error", err.Error()))
		os.Exit(1)
	}
	journal, err := wal.New(cfg.WALDir, logger)
	if err != nil {
		logger.Error("Ошибка инициализации журнала загрузок", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if total, _, available, err := getDiskUsage(cfg.UploadDir); err == nil {
		logger.Info("Диск директории загрузок",
			slog.String("total", humanize.IBytes(uint64(total))),
			slog.String("available", humanize.IBytes(uint64(available))),
		)
	}

	// 6. Блокировка по checksum
	var (
		locker    lock.Locker
		redisLock *lock.Redis
	)
	switch cfg.LockBackend {
	case config.LockBackendLocal:
		locker = lock.NewLocal()
	case config.LockBackendRedis:
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer redisClient.Close()
		redisLock = lock.NewRedis(redisClient, cfg.LockTTL, logger)
		locker = redisLock
	default:
		// Отдельный пул: держатели блокировок не отнимают соединения у репозиториев
		lockPool, err := database.ConnectLocks(ctx, cfg, logger)
		if err != nil {
			logger.Error("Ошибка подключения пула блокировок", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer lockPool.Close()
		locker = lock.NewPostgres(lockPool, logger)
	}
	logger.Info("Блокировка по checksum настроена", slog.String("backend", cfg.LockBackend))

	// 7. Антивирусная проверка
	var (
		scanner scan.Scanner = scan.Noop{}
		clamd   *scan.Clamd
	)
	if cfg.ClamdAddr != "" {
		clamd = scan.NewClamd(cfg.ClamdAddr, logger)
		scanner = clamd
		logger.Info("Антивирусная проверка включена", slog.String("clamd", cfg.ClamdAddr))
	} else {
		logger.Warn("FM_CLAMD_ADDR не задан, загрузки не сканируются")
	}

	// 8. Резервное копирование в S3 (опционально)
	var (
		backup  service.Backuper
		s3Store *objectstore.S3Store
	)
	if cfg.BackupEnabled() {
		s3Store, err = objectstore.New(objectstore.Config{
			Endpoint:        cfg.S3Endpoint,
			Region:          cfg.S3Region,
			Bucket:          cfg.S3Bucket,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
		}, logger)
		if err != nil {
			logger.Error("Ошибка инициализации S3", slog.String("error", err.Error()))
			os.Exit(1)
		}
		backup = s3Store
		logger.Info("Резервное копирование в S3 включено", slog.String("bucket", cfg.S3Bucket))
	}

	// 9. Repositories
	fileRepo := repository.NewFileRepository(pool)
	quotaRepo := repository.NewQuotaRepository(pool)

	// 10. Services
	pipelineCfg := service.NewPipelineConfig(cfg)
	quotaSvc := service.NewQuotaService(quotaRepo, fileRepo, rbac.QuotaLimits{
		Admin:     cfg.QuotaAdmin,
		Inspector: cfg.QuotaInspector,
		Viewer:    cfg.QuotaViewer,
	}, logger)
	validator := service.NewValidator(scanner, quotaSvc, logger)
	dedup := service.NewDeduplicator(fileRepo)
	generator := service.NewVariantGenerator(cfg.ImageWorkers, pipelineCfg, logger)
	writer := service.NewPersistenceWriter(store, journal, fileRepo, logger)

	// 10.1 Восстановление по журналу: незавершённые записи
	// фиксируются или откатываются до приёма запросов
	committed, rolledBack, err := writer.Recover(ctx)
	if err != nil {
		logger.Error("Ошибка восстановления журнала загрузок", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if committed+rolledBack > 0 {
		logger.Warn("Восстановлены незавершённые записи",
			slog.Int("committed", committed),
			slog.Int("rolled_back", rolledBack),
		)
	}

	cache := service.NewMetadataCache(cfg.CacheSize, cfg.CacheTTL)
	fileSvc := service.NewFileService(fileRepo, store, writer, generator, quotaSvc, backup, cache, logger)
	pipeline := service.NewPipeline(pipelineCfg, validator, dedup, generator, writer, fileRepo, locker, logger)

	// 11. Фоновые процессы
	// 11.1 Сверка хранилища с БД
	reconcileSvc := service.NewReconcileService(store, fileRepo, cfg.ReconcileInterval, cfg.OrphanGracePeriod, logger)
	reconcileSvc.Start(ctx)

	// 11.2 topologymetrics — мониторинг зависимостей
	dephealthSvc, dephealthErr := service.NewDephealthService(
		"files-module",
		cfg.DephealthGroup,
		pgDB,
		cfg.DatabaseDSN(),
		cfg.JWKSUrl,
		cfg.DephealthCheckInterval,
		logger,
	)
	if dephealthErr != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", dephealthErr.Error()),
		)
	} else if startErr := dephealthSvc.Start(ctx); startErr != nil {
		logger.Warn("Ошибка запуска topologymetrics", slog.String("error", startErr.Error()))
	} else {
		logger.Info("topologymetrics запущен",
			slog.String("check_interval", cfg.DephealthCheckInterval.String()),
		)
	}

	// 12. JWT middleware
	jwtAuth, err := middleware.NewJWTAuth(
		cfg.JWKSUrl,
		cfg.JWKSCACert,
		cfg.JWTIssuer,
		cfg.JWKSClientTimeout,
		cfg.JWKSRefreshInterval,
		cfg.JWTLeeway,
		logger,
	)
	if err != nil {
		logger.Error("Ошибка инициализации JWT", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("JWT аутентификация настроена", slog.String("jwks_url", cfg.JWKSUrl))

	// 13. Handlers
	if _, err := openapi.Load(ctx); err != nil {
		logger.Error("Ошибка спецификации API", slog.String("error", err.Error()))
		os.Exit(1)
	}
	jwksChecker, err := middleware.NewJWKSReadinessChecker(cfg.JWKSUrl, cfg.JWKSCACert, cfg.JWKSClientTimeout)
	if err != nil {
		logger.Error("Ошибка создания проверки JWKS", slog.String("error", err.Error()))
		os.Exit(1)
	}
	healthHandler := handlers.NewHealthHandler().
		AddCheck("postgresql", database.NewReadinessChecker(pool), true).
		AddCheck("upload_dir", handlers.DirWritableChecker{Dir: cfg.UploadDir}, true).
		AddCheck("wal_dir", handlers.DirWritableChecker{Dir: cfg.WALDir}, true).
		AddCheck("disk", handlers.DiskSpaceChecker{Usage: diskUsageFn(cfg.UploadDir), MinFree: cfg.MinFreeDisk}, false).
		AddCheck("jwks", jwksChecker, false)
	if redisLock != nil {
		healthHandler.AddCheck("redis", handlers.PingChecker(redisLock.Ping), true)
	}
	if clamd != nil {
		healthHandler.AddCheck("clamd", handlers.PingChecker(func(context.Context) error {
			return clamd.Ping()
		}), false)
	}
	if s3Store != nil {
		healthHandler.AddCheck("s3", handlers.PingChecker(s3Store.Ping), false)
	}

	apiHandler := handlers.NewAPIHandler(pipeline, fileSvc, quotaSvc, reconcileSvc, cfg.MaxFileSize, logger)

	// 14. Создание и запуск HTTP-сервера
	srv := server.New(cfg, logger, apiHandler, healthHandler, jwtAuth)

	if err := srv.Run(); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// --- Graceful shutdown фоновых процессов ---
	logger.Info("Остановка фоновых процессов...")

	reconcileSvc.Stop()
	if dephealthSvc != nil {
		dephealthSvc.Stop()
	}

	logger.Info("Files Module остановлен")
}
