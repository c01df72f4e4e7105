// Точка входа Media Module — сервис приёма и выдачи пользовательских файлов.
// Загружает конфигурацию, применяет миграции, подключается к PostgreSQL, S3
// и кэшу, создаёт оркестратор файлов, запускает очередь генерации производных,
// cron-sweeper, topologymetrics и HTTP-сервер с JWT middleware и graceful shutdown.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/stdlib"

	"github.com/bigkaa/goartstore/media-module/internal/api/handlers"
	"github.com/bigkaa/goartstore/media-module/internal/api/middleware"
	"github.com/bigkaa/goartstore/media-module/internal/api/openapi"
	"github.com/bigkaa/goartstore/media-module/internal/blobstore"
	"github.com/bigkaa/goartstore/media-module/internal/cache"
	"github.com/bigkaa/goartstore/media-module/internal/config"
	"github.com/bigkaa/goartstore/media-module/internal/database"
	"github.com/bigkaa/goartstore/media-module/internal/derivative"
	"github.com/bigkaa/goartstore/media-module/internal/repository"
	"github.com/bigkaa/goartstore/media-module/internal/server"
	"github.com/bigkaa/goartstore/media-module/internal/service"
	"github.com/bigkaa/goartstore/media-module/internal/worker"
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
	logger.Info("Media Module запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("cache", cfg.CacheBackend),
		slog.Bool("encryption", cfg.EncryptionEnabled),
	)

	if os.Getenv("MM_DEPHEALTH_GROUP") == "" {
		logger.Warn("MM_DEPHEALTH_GROUP не задана, используется значение по умолчанию",
			slog.String("default", cfg.DephealthGroup),
		)
	}

	// 3. Применение миграций БД
	logger.Info("Применение миграций БД...")
	if err := database.Migrate(cfg, logger); err != nil {
		logger.Error("Ошибка миграций БД", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 4. Подключение к PostgreSQL (pgxpool)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	// 4.1 Адаптер pgxpool → *sql.DB для topologymetrics
	pgDB := stdlib.OpenDBFromPool(pool)
	defer pgDB.Close()

	// 5. Repositories
	fileRepo := repository.NewFileRepository(pool)
	permRepo := repository.NewPermissionRepository(pool)

	// 6. Объектное хранилище S3
	blobOpts := blobstore.Options{
		Endpoint:  cfg.S3Endpoint,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
		Bucket:    cfg.S3Bucket,
		Region:    cfg.S3Region,
		UseSSL:    cfg.S3UseSSL,
		Timeout:   cfg.BlobTimeout,
	}
	if cfg.EncryptionEnabled {
		blobOpts.EncryptionKey = cfg.EncryptionKey
	}
	blobs, err := blobstore.New(ctx, blobOpts, logger)
	if err != nil {
		logger.Error("Ошибка подключения к S3", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 7. Кэш метаданных. Недоступный Redis не блокирует запуск:
	// сервис работает с in-memory кэшем, readiness показывает degraded.
	var (
		metaCache    cache.Cache
		cacheChecker handlers.ReadinessChecker
	)
	switch cfg.CacheBackend {
	case config.CacheBackendRedis:
		redisCache, redisErr := cache.NewRedis(ctx, cache.RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			TTL:      cfg.CacheTTL,
		}, logger)
		if redisErr != nil {
			logger.Warn("Redis недоступен, используется in-memory кэш",
				slog.String("error", redisErr.Error()),
			)
			metaCache = cache.NewMemory(cfg.CacheSize, cfg.CacheTTL)
			cacheChecker = unavailableChecker("redis недоступен при запуске, используется in-memory кэш")
			break
		}
		defer func() { _ = redisCache.Close() }()
		metaCache = redisCache
		cacheChecker = redisCache
	default:
		metaCache = cache.NewMemory(cfg.CacheSize, cfg.CacheTTL)
		cacheChecker = handlers.StaticChecker("in-memory")
	}

	// 8. Генератор производных
	sizeClasses := make(map[string]derivative.SizeClass, len(cfg.SizeClasses))
	for name, d := range cfg.SizeClasses {
		sizeClasses[name] = derivative.SizeClass{Width: d.Width, Height: d.Height}
	}
	generator, err := derivative.NewGenerator(derivative.Options{
		SizeClasses:      sizeClasses,
		Quality:          cfg.ThumbnailQuality,
		DocumentDPI:      cfg.DocumentDPI,
		VideoFrameOffset: cfg.VideoFrameOffset,
		FFmpegPath:       cfg.FFmpegPath,
		PdftoppmPath:     cfg.PdftoppmPath,
		Timeout:          cfg.ProcessingTimeout,
	}, logger)
	if err != nil {
		logger.Error("Ошибка создания генератора производных", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 9. Очередь задач и оркестратор файлов
	queue := worker.NewQueue(worker.Options{
		Workers:     cfg.Workers,
		Size:        cfg.QueueSize,
		MaxAttempts: cfg.TaskMaxAttempts,
	}, logger)

	fileSvc := service.NewFileService(
		fileRepo, permRepo, blobs, generator, metaCache, queue,
		service.FileServiceOptions{
			MaxFileSize:       cfg.MaxFileSize,
			MaxFilesPerUpload: cfg.MaxFilesPerUpload,
			AllowedTypes:      cfg.AllowedTypes,
			SignedURLTTL:      cfg.SignedURLTTL,
			SignedURLMaxTTL:   cfg.SignedURLMaxTTL,
			RequestTimeout:    cfg.RequestTimeout,
			TaskMaxAttempts:   cfg.TaskMaxAttempts,
			PublicBaseURL:     cfg.PublicBaseURL,

			ProcessingStaleAfter: cfg.RecoveryStaleAfter,
		},
		logger,
	)

	// 10. Запуск фоновых задач
	queue.Start(ctx, fileSvc.HandleTask)

	sweeper := service.NewSweeper(fileRepo, queue, fileSvc, cfg.SweepSchedule, cfg.RecoveryStaleAfter, logger)
	if err := sweeper.Start(ctx); err != nil {
		logger.Error("Ошибка запуска sweeper", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 10.1 topologymetrics — мониторинг зависимостей (PostgreSQL + S3)
	dephealthSvc, dephealthErr := service.NewDephealthService(
		"media-module",
		cfg.DephealthGroup,
		pgDB,
		cfg.DatabaseURL("postgres"),
		cfg.S3URL(),
		cfg.DephealthCheckInterval,
		logger,
	)
	if dephealthErr != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", dephealthErr.Error()),
		)
		dephealthSvc = nil
	} else if startErr := dephealthSvc.Start(ctx); startErr != nil {
		logger.Warn("Ошибка запуска topologymetrics", slog.String("error", startErr.Error()))
		dephealthSvc = nil
	} else {
		logger.Info("topologymetrics запущен",
			slog.String("group", cfg.DephealthGroup),
			slog.String("check_interval", cfg.DephealthCheckInterval.String()),
		)
	}

	// 11. JWT middleware
	jwtAuth, err := middleware.NewJWTAuth(
		cfg.JWKSURL,
		cfg.JWKSCACert,
		cfg.JWTIssuer,
		cfg.JWKSClientTimeout,
		cfg.JWKSRefreshInterval,
		cfg.JWTLeeway,
		logger,
	)
	if err != nil {
		logger.Error("Ошибка создания JWT middleware", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("JWT middleware инициализирован",
		slog.String("jwks_url", cfg.JWKSURL),
		slog.String("issuer", cfg.JWTIssuer),
	)

	// 12. Readiness checkers
	jwksChecker, err := middleware.NewJWKSReadinessChecker(cfg.JWKSURL, cfg.JWKSCACert, cfg.JWKSClientTimeout)
	if err != nil {
		logger.Error("Ошибка создания JWKS readiness checker", slog.String("error", err.Error()))
		os.Exit(1)
	}
	healthHandler := handlers.NewHealthHandler(
		handlers.Dependency{Name: "postgresql", Checker: database.NewReadinessChecker(pool), Critical: true},
		handlers.Dependency{Name: "s3", Checker: blobs, Critical: true},
		handlers.Dependency{Name: "cache", Checker: cacheChecker},
		handlers.Dependency{Name: "jwks", Checker: jwksChecker},
	)

	// 13. OpenAPI контракт и валидация запросов
	doc, err := openapi.Load(ctx)
	if err != nil {
		logger.Error("Ошибка загрузки OpenAPI контракта", slog.String("error", err.Error()))
		os.Exit(1)
	}
	validator, err := middleware.NewOpenAPIValidator(doc, logger)
	if err != nil {
		logger.Error("Ошибка создания OpenAPI валидатора", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 14. Роутер и HTTP-сервер
	router := handlers.NewRouter(handlers.RouterDeps{
		API:           handlers.NewAPIHandler(fileSvc, cfg.MaxFileSize, logger),
		Health:        healthHandler,
		Auth:          jwtAuth.Middleware(),
		Validator:     validator.Middleware(),
		UploadLimiter: middleware.NewUploadRateLimiter(cfg.UploadRateLimit).Middleware(),
		OpenAPISpec:   openapi.Spec,
		Logger:        logger,
	})

	srv := server.New(cfg, logger, router)
	runErr := srv.Run()
	if runErr != nil {
		logger.Error("Ошибка сервера", slog.String("error", runErr.Error()))
	}

	// 15. Graceful shutdown фоновых задач
	logger.Info("Останавливаем фоновые задачи...")
	sweeper.Stop()
	queue.Stop()
	if dephealthSvc != nil {
		dephealthSvc.Stop()
	}
	cancel()

	logger.Info("Media Module остановлен")
	if runErr != nil {
		os.Exit(1)
	}
}

// unavailableChecker — readiness-ответ для зависимости, недоступной с момента запуска.
type unavailableChecker string

// CheckReady всегда возвращает fail с сообщением.
func (c unavailableChecker) CheckReady() (status, message string) {
	return "fail", string(c)
}
