package main

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"legalbot/internal/cache"
	"legalbot/internal/config"
	"legalbot/internal/database"
	"legalbot/internal/middleware"
	"legalbot/internal/modules/consultation"
	"legalbot/internal/modules/notification"
	"legalbot/internal/modules/payment"
	"legalbot/internal/pkg/logger"
	"legalbot/internal/pkg/metrics"
	"legalbot/internal/repository"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("config load failed")
	}

	logger.Init(logger.Config{Level: cfg.App.LogLevel, Pretty: cfg.App.LogPretty})

	db, err := database.Connect(cfg.Database.URL)
	if err != nil {
		logger.Fatal().Err(err).Msg("database connection failed")
	}
	if err := database.Migrate(db); err != nil {
		logger.Fatal().Err(err).Msg("migration failed")
	}

	redisCache := cache.New(cfg.Redis.Addr(), cfg.Redis.Password, cfg.Redis.DB)
	defer redisCache.Close()
	if err := redisCache.Ping(context.Background()); err != nil {
		logger.Fatal().Err(err).Str("addr", cfg.Redis.Addr()).Msg("redis connection failed")
	}

	paymentRepo := repository.NewPaymentRepository(db)
	consultationRepo := repository.NewConsultationRepository(db)

	tg := notification.NewTelegramSender(cfg.Telegram)

	providers := payment.NewRegistry(
		payment.NewClickProvider(cfg.Providers.Click, cfg.Providers.Timeout),
		payment.NewPaymeProvider(cfg.Providers.Payme, cfg.Providers.Timeout),
		payment.NewUzumProvider(cfg.Providers.Uzum, cfg.Providers.Timeout),
	)

	paymentService := payment.NewService(paymentRepo, consultationRepo, providers, redisCache, tg)
	paymentHandler := payment.NewHandler(paymentService)

	consultationService := consultation.NewService(consultationRepo, paymentService, redisCache, tg)
	consultationHandler := consultation.NewHandler(consultationService)

	go reconcileLoop(paymentService, cfg.Reconcile)

	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(middleware.RequestLogger(), metrics.Middleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", metrics.Handler())

	v1 := r.Group("/api/v1")
	{
		paymentHandler.RegisterRoutes(v1)
		consultationHandler.RegisterRoutes(v1)
	}

	internal := r.Group("/internal")
	internal.Use(middleware.InternalTokenAuth(cfg.Staff.InternalToken))
	{
		paymentHandler.RegisterStaffRoutes(internal)
		consultationHandler.RegisterStaffRoutes(internal)
	}

	srv := &http.Server{
		Addr:         cfg.HTTP.Addr(),
		Handler:      r,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	logger.Info().Str("addr", cfg.HTTP.Addr()).Str("env", cfg.App.Env).Msg("server starting")
	if err := srv.ListenAndServe(); err != nil {
		logger.Fatal().Err(err).Msg("server stopped")
	}
}

// reconcileLoop periodically re-derives consultation state from completed
// payments whose webhook side effects were lost.
func reconcileLoop(svc *payment.Service, cfg config.ReconcileConfig) {
	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	for range ticker.C {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Interval/2)
		res, err := svc.Reconcile(ctx, cfg.BatchSize)
		cancel()
		if err != nil {
			logger.Error().Err(err).Msg("reconcile sweep failed")
			continue
		}
		if res.Repaired > 0 {
			logger.Info().Int("scanned", res.Scanned).Int("repaired", res.Repaired).Msg("reconcile sweep done")
		}
	}
}
