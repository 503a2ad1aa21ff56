package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	appwebhook "github.com/cms/backend/internal/application/webhook"
	"github.com/cms/backend/internal/infrastructure/auth"
	"github.com/cms/backend/internal/infrastructure/config"
	infraevent "github.com/cms/backend/internal/infrastructure/event"
	"github.com/cms/backend/internal/infrastructure/logger"
	"github.com/cms/backend/internal/infrastructure/persistence"
	"github.com/cms/backend/internal/infrastructure/persistence/tenant"
	"github.com/cms/backend/internal/infrastructure/scheduler"
	"github.com/cms/backend/internal/interfaces/http/handler"
	"github.com/cms/backend/internal/interfaces/http/middleware"
	"github.com/cms/backend/internal/interfaces/http/router"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const version = "1.0.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	log, err := logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		_ = logger.Sync(log)
	}()

	log.Info("starting webhook delivery service",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
	)

	// Database
	gormLog := logger.NewGormLogger(log, logger.MapGormLogLevel(cfg.Log.Level))
	db, err := persistence.NewDatabaseWithLogger(&cfg.Database, gormLog)
	if err != nil {
		log.Fatal("failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("error closing database", zap.Error(err))
		}
	}()

	// Every scoped query and insert goes through the tenant callbacks
	tenant.EnableAutoTenantFilter(db.DB, true)

	// Redis, for the cross-instance pipeline lock and token revocation
	var redisClient redis.UniversalClient
	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := client.Ping(pingCtx).Err(); err != nil {
			log.Warn("redis unreachable, falling back to in-process guards", zap.Error(err))
		} else {
			redisClient = client
		}
		cancel()
		defer func() {
			_ = client.Close()
		}()
	}

	// Persistence
	webhookRepo := persistence.NewGormWebhookRepository(db.DB)
	eventStore := infraevent.NewGormEventStore(db.DB)
	jobRepo := infraevent.NewGormOutboxJobRepository(db.DB)

	// Delivery pipeline
	signer := infraevent.NewHMACSigner()
	transport := infraevent.NewHTTPTransport(nil)
	fanOut := infraevent.NewFanOut(eventStore, webhookRepo, jobRepo, cfg.Webhook.MaxAttempts)
	dispatcher := infraevent.NewDispatcher(jobRepo, webhookRepo, eventStore, signer, transport, infraevent.DispatcherConfig{
		DeliveryTimeout: cfg.Webhook.DeliveryTimeout,
		RetryBackoff:    cfg.Webhook.RetryBackoff,
	})
	retryPass := infraevent.NewRetryPass(jobRepo)
	pipeline := infraevent.NewPipeline(fanOut, retryPass, dispatcher)
	trigger := infraevent.NewTrigger(pipeline, redisClient, cfg.Scheduler.LockTTL, infraevent.TriggerOptions{
		DomainEventLimit: cfg.Webhook.DomainEventLimit,
		WebhookLimit:     cfg.Webhook.DispatchLimit,
		MaxRetryAttempts: cfg.Webhook.MaxAttempts,
		RetryBackoff:     cfg.Webhook.RetryBackoff,
	}, log)
	testSender := infraevent.NewTestSender(webhookRepo, signer, transport, cfg.Webhook.DeliveryTimeout)

	// Application services
	recorder := appwebhook.NewEventRecorder(eventStore, trigger, log)
	webhookService := appwebhook.NewService(webhookRepo, jobRepo, recorder, testSender, log)

	// Background sweep for overdue retries
	pipelineScheduler := scheduler.NewPipelineScheduler(cfg.Scheduler, webhookRepo, trigger, log)
	if cfg.Scheduler.Enabled {
		pipelineScheduler.Start(context.Background())
	}

	// Auth
	jwtService := auth.NewJWTService(cfg.JWT)
	var blacklist auth.TokenBlacklist = auth.NewInMemoryTokenBlacklist()
	if redisClient != nil {
		blacklist = auth.NewRedisTokenBlacklist(redisClient)
	}

	// HTTP server
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	if len(cfg.HTTP.TrustedProxies) > 0 {
		if err := engine.SetTrustedProxies(cfg.HTTP.TrustedProxies); err != nil {
			log.Fatal("invalid trusted proxies", zap.Error(err))
		}
	}

	skipAuth := []string{"/health", "/ready"}
	engine.Use(
		middleware.RequestID(log),
		logger.GinMiddleware(log),
		logger.Recovery(log),
		middleware.CORSWithConfig(middleware.DefaultCORSConfig()),
		middleware.JWTAuth(middleware.JWTConfig{
			Service:   jwtService,
			Blacklist: blacklist,
			SkipPaths: skipAuth,
		}),
		middleware.Tenant(middleware.TenantConfig{
			HeaderEnabled: cfg.App.Env != "production",
			SkipPaths:     skipAuth,
			Logger:        log,
		}),
	)

	engine.GET("/health", handler.NewSystemHandler(db.DB, redisClient, version).Health)
	engine.GET("/ready", handler.NewSystemHandler(db.DB, redisClient, version).Ready)

	testLimiter := middleware.NewRateLimiter(10, time.Minute)
	router.New(engine).
		Register(handler.NewWebhookHandler(webhookService, middleware.RateLimitByTenant(testLimiter))).
		Register(handler.NewEventHandler(recorder)).
		Setup()

	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	go func() {
		log.Info("HTTP server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown failed", zap.Error(err))
	}
	if cfg.Scheduler.Enabled {
		if err := pipelineScheduler.Stop(shutdownCtx); err != nil {
			log.Error("scheduler shutdown failed", zap.Error(err))
		}
	}
	// Let in-flight pipeline runs finish; anything stranded in processing
	// by a hard kill is reclaimed by the next retry pass once it goes stale
	trigger.Wait()

	log.Info("shutdown complete")
}
