package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/relaycore/sms-conversation-service/environments"
	"github.com/relaycore/sms-conversation-service/handlers"
	"github.com/relaycore/sms-conversation-service/internal/repository"
	"github.com/relaycore/sms-conversation-service/internal/scheduler"
	"github.com/relaycore/sms-conversation-service/internal/service"
	"github.com/relaycore/sms-conversation-service/pkg/database"
	"github.com/relaycore/sms-conversation-service/pkg/directory"
	"github.com/relaycore/sms-conversation-service/pkg/logger"
	"github.com/relaycore/sms-conversation-service/pkg/redis"
	"github.com/relaycore/sms-conversation-service/pkg/twilio"
	"github.com/relaycore/sms-conversation-service/pkg/validator"
	"github.com/relaycore/sms-conversation-service/routes"

	_ "github.com/relaycore/sms-conversation-service/docs" // swagger docs
)

// @title SMS Conversation Service API
// @version 1.0
// @description SMS ingestion and conversation threading service

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8080
// @BasePath /

// @schemes http https
func main() {
	// .env is optional; real deployments set the environment directly
	_ = godotenv.Load()

	logger.Init()

	// Load config
	cfg := environments.Load()

	// Hard-fail if required secrets are missing
	if cfg.Gateway.AuthToken == "" {
		logger.Fatalf("TWILIO_AUTH_TOKEN is required but not set")
	}
	if cfg.Auth.APIKey == "" {
		logger.Fatalf("API_KEY is required but not set")
	}

	logger.Infof("Starting SMS Conversation Service...")

	// Init DB
	db, err := database.NewMySQLDB(cfg.Database)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}

	// Run migrations
	if err := database.RunMigrations(db); err != nil {
		logger.Fatalf("Failed to run migrations: %v", err)
	}

	// Seed data
	if os.Getenv("SEED_DATA") == "true" {
		if err := database.SeedTestData(db); err != nil {
			logger.Warnf("Failed to seed test data: %v", err)
		}
	}

	// Init redis
	var redisClient *redis.Client
	redisClient, err = redis.NewRedisClient(cfg.Redis)
	if err != nil {
		logger.Warnf("Redis not available, caching disabled: %v", err)
		redisClient = nil
	}

	// Initialize upstream clients
	gatewayClient := twilio.NewClient(cfg.Gateway)
	directoryClient := directory.NewClient(cfg.Directory)

	// Initialize repositories
	conversationRepo := repository.NewConversationRepository(db)
	messageRepo := repository.NewMessageRepository(db)
	statusEventRepo := repository.NewStatusEventRepository(db)

	// A *redis.Client that is nil must stay a nil interface for the services.
	var cache service.InboundCache
	var convCache service.ConversationCache
	if redisClient != nil {
		cache = redisClient
		convCache = redisClient
	}

	// Initialize services
	resolver := service.NewIdentityResolver(directoryClient, conversationRepo, cfg.Phone.DefaultRegion)
	inboundService := service.NewInboundService(conversationRepo, messageRepo, cache, resolver, cfg.Phone.DefaultRegion)
	outboundService := service.NewOutboundService(conversationRepo, messageRepo, gatewayClient, cache, cfg.Phone.DefaultRegion)
	statusService := service.NewStatusService(messageRepo, statusEventRepo, conversationRepo)
	conversationService := service.NewConversationService(conversationRepo, messageRepo, statusEventRepo, convCache, cfg.Phone.DefaultRegion)

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize scheduler
	sched := scheduler.NewScheduler(conversationRepo, messageRepo, resolver, cfg.Reconcile)

	// Initialize handlers
	healthHandler := handlers.NewHealthHandler(db, redisClient, sched)
	webhookHandler := handlers.NewWebhookHandler(inboundService, statusService)
	smsHandler := handlers.NewSMSHandler(outboundService)
	conversationHandler := handlers.NewConversationHandler(conversationService)
	schedulerHandler := handlers.NewSchedulerHandler(sched, ctx)

	// Auto-start scheduler
	if os.Getenv("AUTO_START_SCHEDULER") != "false" {
		logger.Infof("Auto-starting scheduler...")
		if err := sched.Start(ctx); err != nil {
			logger.Warnf("Failed to auto-start scheduler: %v", err)
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.Validator = validator.New(cfg.Phone.DefaultRegion)

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.RequestID())
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{
			echo.HeaderOrigin,
			echo.HeaderContentType,
			echo.HeaderAccept,
			echo.HeaderAuthorization,
			"x-api-key",
		},
	}))

	// Setup routes
	routes.RegisterRoutes(e, healthHandler, webhookHandler, smsHandler, conversationHandler, schedulerHandler, cfg)

	// Start server in goroutine
	go func() {
		addr := ":" + cfg.Server.Port
		logger.Infof("Server starting on http://localhost%s", addr)
		logger.Infof("Swagger docs available at http://localhost%s/swagger/index.html", addr)
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Infof("Shutting down gracefully...")

	// Cancel context to signal all goroutines to stop
	cancel()

	// Stop scheduler first (with timeout)
	if sched.IsRunning() {
		logger.Infof("Stopping scheduler...")
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()

		done := make(chan error, 1)
		go func() {
			done <- sched.Stop()
		}()

		select {
		case err := <-done:
			if err != nil {
				logger.Errorf("Error stopping scheduler: %v", err)
			} else {
				logger.Infof("Scheduler stopped successfully")
			}
		case <-stopCtx.Done():
			logger.Warnf("Scheduler stop timeout, forcing shutdown")
		}
	}

	// Shutdown HTTP server (with timeout)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	logger.Infof("Shutting down HTTP server...")
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
	} else {
		logger.Infof("HTTP server stopped successfully")
	}

	// Let in-flight inbound follow-ups finish before the DB goes away
	logger.Infof("Waiting for inbound follow-ups...")
	inboundService.Wait()

	// Close database connection
	logger.Infof("Closing database connection...")
	if err := db.Close(); err != nil {
		logger.Errorf("Error closing database: %v", err)
	}

	// Close Redis connection
	if redisClient != nil {
		logger.Infof("Closing Redis connection...")
		if err := redisClient.Close(); err != nil {
			logger.Errorf("Error closing Redis: %v", err)
		}
	}

	logger.Infof("Graceful shutdown completed")
}
