// Package main is the entry point for the game session engine server.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"game-session-engine/internal/allocation"
	"game-session-engine/internal/cache"
	"game-session-engine/internal/config"
	"game-session-engine/internal/engine"
	"game-session-engine/internal/handler"
	"game-session-engine/internal/pkg/db"
	"game-session-engine/internal/quiz"
	"game-session-engine/internal/repository"
	"game-session-engine/internal/rng"
	"game-session-engine/internal/webhook"
)

func main() {
	// Configure zerolog
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	// Load configuration
	cfg, err := config.Load("config")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log.Info().Msg("Configuration loaded successfully")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database connection pool
	dbPool, err := db.NewPool(ctx, &cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer dbPool.Close()

	// Apply database schema
	if err := repository.Migrate(ctx, dbPool.Pool); err != nil {
		log.Fatal().Err(err).Msg("Failed to run database migrations")
	}
	log.Info().Msg("Database migrations applied")

	// Initialize Redis cache
	redisClient := redis.NewClient(&redis.Options{
		Addr: cfg.Redis.Addr(),
		DB:   cfg.Redis.DB,
	})
	sessionCache, err := cache.New(&cache.Config{
		Client: redisClient,
		TTL:    cfg.Redis.TTL,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}

	// Initialize repositories
	sessionRepo := repository.NewSessionRepository(dbPool.Pool)
	participantRepo := repository.NewParticipantRepository(dbPool.Pool)
	enrollmentRepo := repository.NewEnrollmentRepository(dbPool.Pool)
	claimRepo := repository.NewClaimRepository(dbPool.Pool)
	quizRepo := repository.NewQuizRepository(dbPool.Pool)
	eventRepo := repository.NewEventRepository(dbPool.Pool)
	deliveryRepo := repository.NewDeliveryRepository(dbPool.Pool)

	// Initialize the number registry
	registry := allocation.NewRegistry(claimRepo, sessionCache, log.Logger)

	// Initialize the webhook dispatcher and its sweep job
	dispatcher := webhook.NewDispatcher(deliveryRepo, webhook.Config{
		Targets:     cfg.Webhook.Targets,
		Secret:      cfg.Webhook.Secret,
		MaxAttempts: cfg.Webhook.MaxAttempts,
		BackoffStep: cfg.Webhook.BackoffStep,
		Timeout:     cfg.Webhook.Timeout,
	}, nil, log.Logger)

	sweeper, err := webhook.NewSweeper(dispatcher, cfg.Webhook.SweepSchedule, cfg.Webhook.Retention, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create webhook sweeper")
	}
	sweeper.Start()
	defer sweeper.Stop()

	// Initialize the engine
	svc := engine.NewService(cfg, engine.Deps{
		Sessions:     sessionRepo,
		Participants: participantRepo,
		Enrollments:  enrollmentRepo,
		Allocator:    registry,
		Claims:       claimRepo,
		Quizzes:      quizRepo,
		Events:       eventRepo,
		Notifier:     dispatcher,
		Cache:        sessionCache,
		QuizProvider: quiz.NewBankProvider(rng.NewSystemProvider()),
		Seeds:        rng.NewSystemProvider(),
	}, log.Logger)
	defer svc.Shutdown()

	// Recover sessions whose deadlines passed while the process was down
	if swept, err := svc.SweepExpired(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to sweep expired sessions")
	} else if swept > 0 {
		log.Info().Int("count", swept).Msg("Recovered expired sessions")
	}

	// Set up the HTTP server
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	httpHandler := handler.NewHTTPHandler(svc, log.Logger)
	httpHandler.RegisterRoutes(router)

	server := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: router,
	}

	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Msg("Server is starting...")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	// Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown failed")
	}

	// Let in-flight webhook deliveries drain
	dispatcher.Wait()
	log.Info().Msg("Server stopped gracefully")
}
