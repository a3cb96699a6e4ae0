/**
 * @description
 * This is the main entry point for the assignment-service. It is responsible
 * for initializing all components of the service, including configuration,
 * database connection, message broker, Redis, repositories, the presence
 * layer, the core application service, and the HTTP server. It wires
 * everything together and starts the service.
 *
 * @dependencies
 * - log/slog, net/http: Standard Go libraries for logging and HTTP serving.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - github.com/joho/godotenv: Optional .env loading for local development.
 * - github.com/redis/go-redis/v9: Rate-limiter backend.
 * - internal/api, internal/app, internal/config, internal/presence,
 *   internal/store, pkg/rabbitmq: Internal packages for the service.
 */

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/scribelink/assignment-service/internal/api"
	"github.com/scribelink/assignment-service/internal/app"
	"github.com/scribelink/assignment-service/internal/config"
	"github.com/scribelink/assignment-service/internal/domain"
	"github.com/scribelink/assignment-service/internal/presence"
	"github.com/scribelink/assignment-service/internal/store"
	"github.com/scribelink/assignment-service/pkg/rabbitmq"
)

func main() {
	// Load a local .env file when present; real environments set variables
	// directly.
	_ = godotenv.Load()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Error("config load failed", "error", err)
		os.Exit(1)
	}

	logger.Info("starting assignment-service", "port", cfg.ServerPort, "environment", cfg.Environment)

	// Establish a connection pool to the PostgreSQL database.
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Error("database url parse failed", "error", err)
		os.Exit(1)
	}
	poolConfig.MaxConns = 50
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute
	// Disable prepared statement caching to stay compatible with pooled
	// upstream connections.
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		logger.Error("database connection failed", "error", err)
		os.Exit(1)
	}
	defer dbpool.Close()
	logger.Info("database connected")

	// Initialize the RabbitMQ producer for presence and payment events. A
	// broker outage at boot degrades to local-only delivery instead of
	// failing the service.
	var producer rabbitmq.Publisher
	eventProducer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL, logger)
	if err != nil {
		logger.Warn("rabbitmq producer unavailable; events will not leave this instance", "error", err)
		producer = &rabbitmq.NoopPublisher{Logger: logger}
	} else {
		producer = eventProducer
	}
	defer producer.Close()

	// Optional Redis client backing the presence rate limiter.
	var redisClient *redis.Client
	if cfg.PresenceRateLimitPerMinute > 0 {
		if strings.TrimSpace(cfg.RedisURL) == "" {
			logger.Warn("redis url missing; presence rate limiting disabled")
		} else {
			redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
			if parseErr != nil {
				logger.Warn("redis url parse failed; presence rate limiting disabled", "error", parseErr)
			} else {
				redisClient = redis.NewClient(redisOptions)
				pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
				if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
					logger.Warn("redis ping failed; presence rate limiting disabled", "error", pingErr)
					redisClient.Close()
					redisClient = nil
				} else {
					defer redisClient.Close()
					logger.Info("redis connected")
				}
				cancelPing()
			}
		}
	}
	var limiter app.RateLimiter
	if redisClient != nil {
		limiter = app.NewRedisRateLimiter(redisClient, cfg.RedisRateLimitPrefix)
	}

	// Data access, presence, and business logic layers.
	repository := store.NewPostgresRepository(dbpool)
	hub := presence.NewHub(repository, logger)
	tracker := presence.NewTracker(
		repository,
		hub,
		producer,
		cfg.EventsExchange,
		time.Duration(cfg.PresenceHeartbeatSeconds)*time.Second,
		logger,
	)
	service := app.NewService(repository, producer, cfg.EventsExchange, logger)

	// Consume presence updates published by other instances so local
	// watchers see users tracked elsewhere.
	consumer, err := rabbitmq.NewConsumer(cfg.RabbitMQURL, logger)
	if err != nil {
		logger.Warn("rabbitmq consumer unavailable; cross-instance presence disabled", "error", err)
	} else {
		defer consumer.Close()
		bindings := []string{domain.RoutingKeyPresencePrefix + "*"}
		if err := consumer.Consume(cfg.EventsExchange, cfg.PresenceEventQueue, bindings, hub.HandleBrokerMessage); err != nil {
			logger.Warn("presence consumer start failed; cross-instance presence disabled", "error", err)
		}
	}

	// Webhook-event retention job.
	jobs := app.NewJobs(repository, logger, cfg)
	scheduler := app.NewScheduler(jobs, logger, cfg)
	scheduler.Start()
	defer scheduler.Stop()

	// HTTP layer.
	handlers := api.NewAssignmentHandlers(service, tracker, hub, limiter, cfg.PresenceRateLimitPerMinute, logger)
	webhookHandler := api.NewWebhookHandler(service, cfg.LemonSqueezyWebhookSecret, cfg.AllowUnsignedWebhooks, logger)
	router := api.Routes(handlers, webhookHandler, api.AuthMiddlewareConfig{
		JWTSecret:           cfg.AuthJWTSecret,
		AllowHeaderFallback: cfg.AuthAllowHeaderFallback,
	})

	server := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.ServerPort),
		Handler: router,
	}

	go func() {
		logger.Info("server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server stopped unexpectedly", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("shutdown started")

	// Close presence sessions first so watchers see this instance's users
	// go offline before the listener stops.
	handlers.CloseSessions()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("shutdown failed", "error", err)
	}

	logger.Info("shutdown complete")
}
