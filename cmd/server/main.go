package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/spacebook/booking-flow/internal/config"
	"github.com/spacebook/booking-flow/internal/database"
	"github.com/spacebook/booking-flow/internal/handlers"
	"github.com/spacebook/booking-flow/internal/middleware"
	"github.com/spacebook/booking-flow/internal/services"
	"github.com/spacebook/booking-flow/internal/storage"
	"github.com/spacebook/booking-flow/pkg/backend"
	"github.com/spacebook/booking-flow/pkg/jwt"
	"github.com/spacebook/booking-flow/pkg/payment"
	"github.com/spacebook/booking-flow/pkg/retry"
)

var (
	version   = "1.0.0"
	buildTime = "unknown"
)

func main() {
	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	logger.Info("Starting booking flow service")
	logger.Infof("Version: %s, Build Time: %s", version, buildTime)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	logLevel, err := logrus.ParseLevel(cfg.Server.LogLevel)
	if err != nil {
		logger.Warn("Invalid log level, using INFO")
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	healthChecks := map[string]handlers.HealthCheck{}

	// Postgres is optional: it holds drafts (DRAFT_STORE=postgres) and the payment audit trail
	var db *database.PostgresDB
	if cfg.Database.URL != "" {
		logger.Info("Connecting to database...")
		db, err = database.NewConnection(cfg.Database)
		if err != nil {
			logger.Fatalf("Failed to connect to database: %v", err)
		}
		defer db.Close()
		healthChecks["database"] = db.PingContext
		logger.Info("Database connection established")
	}

	// Draft store
	var (
		drafts      storage.DraftStore
		draftPurger services.DraftPurger
	)
	switch cfg.Drafts.Backend {
	case "redis":
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		redisClient, err := storage.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		cancel()
		if err != nil {
			logger.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer redisClient.Close()
		healthChecks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
		drafts = storage.NewRedisDraftStore(redisClient, cfg.Drafts.TTL)
	case "postgres":
		repo := database.NewDraftRepository(db, cfg.Drafts.TTL, logger)
		drafts = repo
		draftPurger = repo
	default:
		drafts = storage.NewMemoryDraftStore(cfg.Drafts.TTL)
	}
	logger.WithField("backend", cfg.Drafts.Backend).Info("Draft store initialized")

	// Outbound clients
	backendClient := backend.NewClient(backend.Config{
		BaseURL:        cfg.Backend.BaseURL,
		Timeout:        cfg.Backend.Timeout,
		RequestsPerSec: cfg.Backend.RequestsPerSec,
		Burst:          cfg.Backend.Burst,
	}, logger)

	gateway := payment.NewStripeGateway(payment.StripeConfig{
		SecretKey:         cfg.Stripe.SecretKey,
		APIURL:            cfg.Stripe.APIURL,
		Timeout:           cfg.Backend.Timeout,
		MaxNetworkRetries: cfg.Stripe.MaxNetworkRetries,
	}, logger)

	// Services
	logger.Info("Initializing services...")
	var auditRepo services.PaymentAuditLogger
	if db != nil {
		auditRepo = database.NewPaymentAuditRepository(db, logger)
	}
	auditService := services.NewAuditService(auditRepo, cfg.Security.EnableAuditLog, logger)

	flowConfig := services.BookingFlowConfig{
		Retry: retry.Policy{
			MaxRetries: cfg.Booking.MaxRetries,
			BaseDelay:  cfg.Booking.BaseDelay,
			MaxDelay:   cfg.Booking.MaxDelay,
		},
		ConfirmTimeout: cfg.Booking.ConfirmTimeout,
	}
	flows := services.NewFlowManager(backendClient, gateway, drafts, auditService, flowConfig, cfg.Booking.FlowIdleTTL, logger)
	calendarService := services.NewCalendarService(backendClient, logger)
	paymentConfigService := services.NewPaymentConfigService(backendClient, cfg.Stripe.PublishableKey, 10*time.Minute, logger)
	jwtService := jwt.NewService(cfg.JWT.Secret, cfg.JWT.AccessTokenExpiry)
	rateLimiter := middleware.NewRateLimiter(cfg.RateLimit.RequestsPerSec, cfg.RateLimit.Burst, logger)

	cronService := services.NewCronService(flows, draftPurger, services.CronConfig{
		PruneSchedule: cfg.Booking.PruneSchedule,
		PurgeSchedule: cfg.Drafts.PurgeSchedule,
		DraftTTL:      cfg.Drafts.TTL,
	}, logger)
	if err := cronService.AddJob("forget idle rate limit clients", "0 */10 * * * *", func() {
		rateLimiter.Cleanup(30 * time.Minute)
	}); err != nil {
		logger.Fatalf("Failed to schedule rate limiter cleanup: %v", err)
	}
	if err := cronService.Start(); err != nil {
		logger.Fatalf("Failed to start cron service: %v", err)
	}
	logger.Info("Services initialized")

	// Handlers
	h := handlers.Handlers{
		Booking:  handlers.NewBookingHandler(flows, calendarService, cfg.Stripe.ReturnURL, logger),
		Calendar: handlers.NewCalendarHandler(calendarService, logger),
		Payment:  handlers.NewPaymentHandler(paymentConfigService, backendClient, logger),
	}
	healthHandler := handlers.NewHealthHandler(version, healthChecks)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	if cfg.Security.EnableRequestLog {
		router.Use(middleware.RequestLogger(logger))
	}

	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORS.AllowedOrigins,
		AllowMethods:     cfg.CORS.AllowedMethods,
		AllowHeaders:     cfg.CORS.AllowedHeaders,
		ExposeHeaders:    []string{"Content-Length", middleware.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/health", healthHandler.Health)

	v1 := router.Group("/api/v1")
	v1.Use(rateLimiter.Middleware())
	handlers.RegisterRoutes(v1, middleware.AuthMiddleware(jwtService, logger), h)

	// Confirm sequences may back off for several seconds; the write timeout must outlast them
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.Booking.ConfirmTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Infof("Server starting on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	logger.Info("Stopping cron service...")
	cronService.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
	}

	logger.Info("Server exited successfully")
}
