package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/lab-booking-api/api/swagger"
	"github.com/noah-isme/lab-booking-api/internal/handler"
	internalmiddleware "github.com/noah-isme/lab-booking-api/internal/middleware"
	"github.com/noah-isme/lab-booking-api/internal/models"
	"github.com/noah-isme/lab-booking-api/internal/repository"
	"github.com/noah-isme/lab-booking-api/internal/service"
	"github.com/noah-isme/lab-booking-api/migrations"
	"github.com/noah-isme/lab-booking-api/pkg/cache"
	"github.com/noah-isme/lab-booking-api/pkg/config"
	"github.com/noah-isme/lab-booking-api/pkg/database"
	"github.com/noah-isme/lab-booking-api/pkg/export"
	"github.com/noah-isme/lab-booking-api/pkg/lock"
	"github.com/noah-isme/lab-booking-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/lab-booking-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/lab-booking-api/pkg/middleware/requestid"
	"github.com/noah-isme/lab-booking-api/pkg/realtime"
)

// @title Lab Booking API
// @version 1.0.0
// @description Lab room booking, waitlists and recurring schedules
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect database", zap.Error(err))
	}
	defer db.Close() //nolint:errcheck

	if cfg.Migrations.AutoRun {
		migrator, err := database.NewMigrator(db.DB, migrations.FS, ".", logr)
		if err != nil {
			logr.Fatal("failed to init migrator", zap.Error(err))
		}
		if err := migrator.Up(context.Background()); err != nil {
			logr.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Warn("redis unavailable, continuing without cache and batch locks", zap.Error(err))
		redisClient = nil
	}
	if redisClient != nil {
		defer redisClient.Close() //nolint:errcheck
	}

	validate := validator.New()
	metricsSvc := service.NewMetricsService()

	bookingRepo := repository.NewBookingRepository(db)
	labRepo := repository.NewLabRepository(db)
	subjectRepo := repository.NewSubjectRepository(db)
	userRepo := repository.NewUserRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	cacheSvc := service.NewCacheService(cacheRepo, metricsSvc, cfg.Cache.CatalogTTL, logr, cfg.Cache.Enabled && cacheRepo.Enabled())

	var locker lock.Locker = lock.Noop{}
	if redisClient != nil {
		locker = lock.NewRedisLock(redisClient)
	}

	hub := realtime.NewHub(logr)
	notifier := service.NewNotificationService(hub, metricsSvc, service.NotificationConfig{
		Enabled:    cfg.Notifications.Enabled,
		Workers:    cfg.Notifications.Workers,
		BufferSize: cfg.Notifications.BufferSize,
	}, logr)
	notifyCtx, stopNotify := context.WithCancel(context.Background())
	notifier.Start(notifyCtx)

	identitySvc := service.NewIdentityService(service.IdentityConfig{
		Secret:   cfg.JWT.Secret,
		Issuer:   cfg.JWT.Issuer,
		Audience: firstOrEmpty(cfg.JWT.Audience),
	})
	reservationSvc := service.NewReservationService(bookingRepo, labRepo, subjectRepo, auditRepo, notifier, metricsSvc, service.ReservationConfig{
		Location: cfg.Booking.Location(),
	}, validate, logr)
	waitlistSvc := service.NewWaitlistService(bookingRepo, labRepo, userRepo, auditRepo, notifier, metricsSvc, validate, logr)
	batchSvc := service.NewBatchSchedulerService(reservationSvc, locker, auditRepo, notifier, metricsSvc, service.BatchConfig{
		RecurrenceWeeks: cfg.Booking.RecurrenceWeeks,
		MaxSlots:        cfg.Booking.MaxBatchSlots,
		LockTTL:         cfg.Booking.BatchLockTTL,
	}, validate, logr)
	labSvc := service.NewLabService(labRepo, subjectRepo, cacheSvc, auditRepo, cfg.Cache.CatalogTTL, validate, logr)
	exportSvc := service.NewExportService(bookingRepo, cfg.Exports.MaxRows, logr, export.NewCSVExporter(), export.NewPDFExporter())

	bookingHandler := handler.NewBookingHandler(reservationSvc)
	waitlistHandler := handler.NewWaitlistHandler(waitlistSvc)
	batchHandler := handler.NewBatchHandler(batchSvc)
	labHandler := handler.NewLabHandler(labSvc)
	exportHandler := handler.NewExportHandler(exportSvc)
	realtimeHandler := handler.NewRealtimeHandler(hub, corsmiddleware.OriginChecker(cfg.CORS.AllowedOrigins), logr)
	metricsHandler := handler.NewMetricsHandler(metricsSvc, readinessChecks(db.PingContext, redisClient))

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr, "/health", "/ready", "/metrics"))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(internalmiddleware.Metrics(metricsSvc, "/metrics", "/ws/bookings"))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)
	r.GET("/ws/bookings", internalmiddleware.QueryJWT(identitySvc), realtimeHandler.Bookings)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.Use(internalmiddleware.JWT(identitySvc))

	adminOnly := internalmiddleware.RequireRoles(models.RoleAdmin)
	staffOrAdmin := internalmiddleware.RequireRoles(models.RoleAdmin, models.RoleStaff)

	labs := api.Group("/labs")
	labs.GET("", labHandler.List)
	labs.GET("/:code", labHandler.Get)
	labs.GET("/:code/availability", bookingHandler.Availability)
	labs.POST("/:code/maintenance", adminOnly, labHandler.AddMaintenance)
	labs.DELETE("/:code/maintenance/:id", adminOnly, labHandler.RemoveMaintenance)
	api.GET("/subjects", labHandler.Subjects)

	bookings := api.Group("/bookings")
	bookings.GET("", bookingHandler.List)
	bookings.GET("/mine", bookingHandler.Mine)
	bookings.GET("/slot", bookingHandler.Slot)
	bookings.POST("", internalmiddleware.RequireApproved(), bookingHandler.Reserve)
	bookings.POST("/batch", staffOrAdmin, internalmiddleware.RequireApproved(), batchHandler.Schedule)
	bookings.GET("/:id", bookingHandler.Get)
	bookings.DELETE("/:id", bookingHandler.Cancel)
	bookings.POST("/:id/approve", adminOnly, bookingHandler.Approve)
	bookings.POST("/:id/reject", adminOnly, bookingHandler.Reject)
	bookings.GET("/:id/waitlist", waitlistHandler.List)
	bookings.POST("/:id/waitlist", internalmiddleware.RequireApproved(), waitlistHandler.Join)
	bookings.DELETE("/:id/waitlist", waitlistHandler.Leave)
	bookings.POST("/:id/waitlist/promote", adminOnly, waitlistHandler.Promote)

	if cfg.Exports.Enabled {
		api.GET("/exports/bookings", adminOnly, exportHandler.Bookings)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logr.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logr.Error("server shutdown failed", zap.Error(err))
	}
	stopNotify()
	notifier.Stop()
}

func readinessChecks(pingDB func(context.Context) error, client *redis.Client) map[string]handler.ReadinessCheck {
	checks := map[string]handler.ReadinessCheck{"postgres": pingDB}
	if client != nil {
		checks["redis"] = func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		}
	}
	return checks
}

func firstOrEmpty(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}
