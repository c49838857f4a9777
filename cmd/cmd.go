package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"carblock-backend/internal/config"
	"carblock-backend/internal/handlers"
	"carblock-backend/internal/middleware"
	"carblock-backend/internal/repository"
	"carblock-backend/internal/services"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func Run() {
	// Load configuration
	cfg, err := config.Load("config.yaml")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Setup logger
	setupLogger(cfg.Log.Level)

	// Connect to database
	db, err := pgxpool.New(context.Background(), cfg.Database.DSN())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	// Test database connection
	if err := db.Ping(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("Failed to ping database")
	}
	log.Info().Msg("Database connection established")

	// Redis backs the per-IP rate limiter; the limiter falls back to an
	// in-process bucket when redis is unreachable
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	// Initialize repositories
	userRepo := repository.NewUserRepository(db)
	alertRepo := repository.NewAlertRepository(db)

	// Initialize services
	dispatcher := services.NewDispatcher(cfg.Email, cfg.WebPush)
	userService := services.NewUserService(userRepo, cfg.JWT.Secret)
	alertService := services.NewAlertService(
		alertRepo,
		userRepo,
		dispatcher,
		cfg.Alerts.MaxPerMinute,
		cfg.Alerts.EnableLeavingNow,
	)
	ocrService := services.NewOCRService(cfg.OCR.APIKey, cfg.OCR.Endpoint)

	// Initialize handlers
	alertHandler := handlers.NewAlertHandler(alertService, userService)
	userHandler := handlers.NewUserHandler(userService, dispatcher)
	ocrHandler := handlers.NewOCRHandler(ocrService)

	// Per-IP budget for the expensive endpoints (OCR calls a paid API)
	ipLimiter := middleware.NewRateLimiter(rdb, 30, 10)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(corsMiddleware)

	// Routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Authenticate(userService))

		r.Post("/login", userHandler.Login)
		r.Post("/profile", userHandler.SaveProfile)
		r.Post("/push-subscription", userHandler.SavePushSubscription)
		r.Get("/vapid-key", userHandler.VapidKey)
		r.Get("/history", alertHandler.History)
		r.Post("/alert-status", alertHandler.UpdateStatus)
		r.Post("/admin/cleanup", alertHandler.Cleanup)

		r.Group(func(r chi.Router) {
			r.Use(ipLimiter.Handler)
			r.Post("/alert", alertHandler.SubmitAlert)
			r.Post("/ocr", ocrHandler.Recognize)
		})
	})

	// Create HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().
			Str("host", cfg.Server.Host).
			Int("port", cfg.Server.Port).
			Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	// Shutdown HTTP server
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}

// setupLogger configures zerolog logger
func setupLogger(level string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// corsMiddleware handles CORS
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
