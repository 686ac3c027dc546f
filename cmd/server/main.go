package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"

	"github.com/refnet/backend/internal/application/directory"
	"github.com/refnet/backend/internal/application/distribution"
	"github.com/refnet/backend/internal/application/rank"
	"github.com/refnet/backend/internal/application/report"
	"github.com/refnet/backend/internal/domain/referral"
	"github.com/refnet/backend/internal/domain/shared"
	"github.com/refnet/backend/internal/infrastructure/cache"
	"github.com/refnet/backend/internal/infrastructure/config"
	"github.com/refnet/backend/internal/infrastructure/event"
	"github.com/refnet/backend/internal/infrastructure/logger"
	"github.com/refnet/backend/internal/infrastructure/persistence"
	"github.com/refnet/backend/internal/infrastructure/telemetry"
	"github.com/refnet/backend/internal/interfaces/http/handler"
	"github.com/refnet/backend/internal/interfaces/http/middleware"
	"github.com/refnet/backend/internal/interfaces/http/router"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	// Initialize logger
	log, err := logger.New(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
	})
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		_ = log.Sync()
	}()

	log.Info("Starting Referral Network Backend",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
	)

	// Initialize tracing
	tracerProvider, err := telemetry.NewTracerProvider(context.Background(), telemetry.Config{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		SamplingRatio:     cfg.Telemetry.SamplingRatio,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize telemetry", zap.Error(err))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
			log.Error("Error shutting down tracer provider", zap.Error(err))
		}
	}()

	// Initialize database connection
	gormLogLevel := gormlogger.Warn
	if cfg.Log.Level == "debug" {
		gormLogLevel = gormlogger.Info
	}
	db, err := persistence.NewDatabaseWithLogger(&cfg.Database, gormLogLevel)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()
	log.Info("Database connected successfully")

	// Idempotency fast path: Redis when configured, otherwise in-process.
	// The unique constraint on the awards table stays authoritative either
	// way.
	var idemStore shared.IdempotencyStore
	if cfg.Redis.Enabled {
		redisStore, err := cache.NewRedisIdempotencyStore(cache.RedisConfig{
			Host:     cfg.Redis.Host,
			Port:     cfg.Redis.Port,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			log.Fatal("Failed to connect to redis", zap.Error(err))
		}
		idemStore = redisStore
		log.Info("Using redis idempotency store", zap.String("addr", cfg.Redis.RedisAddr()))
	} else {
		idemStore = cache.NewInMemoryIdempotencyStore()
		log.Info("Using in-memory idempotency store")
	}
	defer func() {
		if err := idemStore.Close(); err != nil {
			log.Error("Error closing idempotency store", zap.Error(err))
		}
	}()

	// Initialize event bus
	eventBus := event.NewInMemoryEventBus(log)
	if err := eventBus.Start(context.Background()); err != nil {
		log.Fatal("Failed to start event bus", zap.Error(err))
	}
	defer func() {
		if err := eventBus.Stop(context.Background()); err != nil {
			log.Error("Error stopping event bus", zap.Error(err))
		}
	}()

	// Initialize repositories
	userRepo := persistence.NewGormUserRepository(db.DB)
	recordRepo := persistence.NewGormDistributionRecordRepository(db.DB)
	txScope := persistence.NewGormTransactionScope(db.DB)

	// Promotion policy and percentage schedule come from configuration
	policy := referral.RankPolicy{
		PointsThreshold:   cfg.Rank.PointsThreshold,
		DownlineThreshold: cfg.Rank.DownlineThreshold,
	}
	schedule := distribution.PercentageSchedule(cfg.Distribution.LevelPercentages)

	// Both engines retry write conflicts under the same bounded policy
	retryCfg := shared.RetryConfig{
		MaxAttempts:     cfg.Distribution.RetryMaxAttempts,
		InitialInterval: cfg.Distribution.RetryInitialWait,
		MaxInterval:     cfg.Distribution.RetryMaxWait,
	}

	// Initialize application services
	rankService, err := rank.NewService(userRepo, policy, eventBus, retryCfg, log)
	if err != nil {
		log.Fatal("Invalid rank policy", zap.Error(err))
	}
	distributionService, err := distribution.NewService(
		txScope,
		idemStore,
		shared.IdempotencyConfig{TTL: cfg.Idempotency.TTL, Enabled: cfg.Idempotency.Enabled},
		eventBus,
		rankService,
		schedule,
		retryCfg,
		log,
	)
	if err != nil {
		log.Fatal("Invalid distribution configuration", zap.Error(err))
	}
	directoryService := directory.NewService(userRepo, policy, eventBus, log)
	reportService := report.NewService(userRepo, recordRepo, policy, log)

	// Initialize HTTP handlers
	userHandler := handler.NewUserHandler(directoryService)
	distributionHandler := handler.NewDistributionHandler(distributionService)
	rankHandler := handler.NewRankHandler(rankService)
	reportHandler := handler.NewReportHandler(reportService)
	systemHandler := handler.NewSystemHandler()

	// Set Gin mode based on environment
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Setup validation
	middleware.SetupValidator()

	engine := gin.New()

	if len(cfg.HTTP.TrustedProxies) > 0 {
		if err := engine.SetTrustedProxies(cfg.HTTP.TrustedProxies); err != nil {
			log.Warn("Failed to set trusted proxies", zap.Error(err))
		}
	}

	// Middleware stack: request ID, panic recovery, request logging,
	// tracing, security headers, CORS, body limit, rate limit.
	engine.Use(middleware.RequestID())
	engine.Use(logger.Recovery(log))
	engine.Use(logger.GinMiddleware(log))
	if cfg.Telemetry.Enabled {
		engine.Use(otelgin.Middleware(cfg.Telemetry.ServiceName))
	}
	engine.Use(middleware.Secure())

	corsConfig := middleware.CORSConfig{
		AllowOrigins:     cfg.HTTP.CORSAllowOrigins,
		AllowMethods:     cfg.HTTP.CORSAllowMethods,
		AllowHeaders:     cfg.HTTP.CORSAllowHeaders,
		ExposeHeaders:    []string{"X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	engine.Use(middleware.CORSWithConfig(corsConfig))

	engine.Use(middleware.BodyLimit(cfg.HTTP.MaxBodySize))

	if cfg.HTTP.RateLimitEnabled {
		rateLimiter := middleware.NewRateLimiter(cfg.HTTP.RateLimitRequests, cfg.HTTP.RateLimitWindow)
		engine.Use(middleware.RateLimit(rateLimiter))
		log.Info("Rate limiting enabled",
			zap.Int("requests", cfg.HTTP.RateLimitRequests),
			zap.Duration("window", cfg.HTTP.RateLimitWindow),
		)
	}

	// Health check endpoint (outside API versioning)
	engine.GET("/health", healthHandler(db, log))

	// Setup API routes
	r := router.NewRouter(engine, router.WithAPIVersion("v1"))

	// Admin-only operations require a verified X-Admin-ID header
	adminOnly := middleware.RequireAdmin(directoryService)

	// User directory and member-facing reads
	userRoutes := router.NewDomainGroup("users", "/users")
	userRoutes.POST("", userHandler.Register)
	userRoutes.GET("", adminOnly, userHandler.List)
	userRoutes.GET("/:id", userHandler.GetByID)
	userRoutes.GET("/:id/downline", userHandler.Downline)
	userRoutes.GET("/:id/rank", userHandler.GetRank)
	userRoutes.POST("/:id/admin", adminOnly, userHandler.GrantAdmin)
	userRoutes.POST("/:id/rank/reevaluate", adminOnly, rankHandler.Reevaluate)

	// Referral code lookup, used by signup forms
	referralRoutes := router.NewDomainGroup("referral-codes", "/referral-codes")
	referralRoutes.GET("/:code", userHandler.GetByReferralCode)

	// Point distribution, admin only
	distributionRoutes := router.NewDomainGroup("distribution", "/distribution")
	distributionRoutes.Use(adminOnly)
	distributionRoutes.POST("/awards", distributionHandler.Distribute)
	distributionRoutes.GET("/awards/:award_id", distributionHandler.GetAward)

	// Ledger reads: the full log is admin only, per-user views are not
	ledgerRoutes := router.NewDomainGroup("ledger", "/ledger")
	ledgerRoutes.GET("/records", adminOnly, reportHandler.Ledger)
	ledgerRoutes.GET("/awards/:award_id", adminOnly, reportHandler.LedgerForAward)
	ledgerRoutes.GET("/users/:id/received", reportHandler.LedgerForUser)
	ledgerRoutes.GET("/users/:id/originated", reportHandler.LedgerOriginated)

	// Reports: system summary is admin only, member earnings are not
	reportRoutes := router.NewDomainGroup("reports", "/reports")
	reportRoutes.GET("/distribution/summary", adminOnly, reportHandler.Summary)
	reportRoutes.GET("/users/:id/earnings", reportHandler.Dashboard)

	// System routes
	systemRoutes := router.NewDomainGroup("system", "/system")
	systemRoutes.GET("/info", systemHandler.GetSystemInfo)
	systemRoutes.GET("/ping", systemHandler.Ping)

	r.Register(userRoutes).
		Register(referralRoutes).
		Register(distributionRoutes).
		Register(ledgerRoutes).
		Register(reportRoutes).
		Register(systemRoutes)

	r.Setup()

	// Simple ping at root API level for basic health checks
	engine.GET("/api/v1/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})

	// Create HTTP server with config
	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	// Start server in goroutine
	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown", zap.Error(err))
	}

	log.Info("Server exited gracefully")
}

// healthHandler returns a handler for health check endpoints
func healthHandler(db *persistence.Database, _ *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		reqLog := logger.GetGinLogger(c)
		if err := db.Ping(); err != nil {
			reqLog.Warn("Health check failed", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":   "unhealthy",
				"time":     time.Now().Format(time.RFC3339),
				"database": "error",
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status":   "healthy",
			"time":     time.Now().Format(time.RFC3339),
			"database": "ok",
		})
	}
}
