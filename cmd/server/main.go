package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"

	"github.com/blitztime/api/internal/config"
	"github.com/blitztime/api/internal/events"
	"github.com/blitztime/api/internal/handler"
	"github.com/blitztime/api/internal/logger"
	"github.com/blitztime/api/internal/middleware"
	"github.com/blitztime/api/internal/repository/postgres"
	redisrepo "github.com/blitztime/api/internal/repository/redis"
	"github.com/blitztime/api/internal/service"
)

func main() {
	logger.Init()
	if err := godotenv.Load(); err == nil {
		log.Debug().Msg("Loaded .env file")
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Config load failed")
	}
	log.Info().Str("databaseURL", cfg.DatabaseURL).Bool("autoTimeout", cfg.AutoTimeout).Msg("Config loaded")

	// Database
	db, err := postgres.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Database connection failed")
	}
	defer db.Close()

	// Redis
	redisClient, err := redisrepo.NewClient(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Redis connection failed")
	}
	defer redisClient.Close()

	// Enable Redis keyspace notifications for deadline expiry events.
	if err := redisClient.Underlying().ConfigSet(context.Background(), "notify-keyspace-events", "Ex").Err(); err != nil {
		log.Warn().Err(err).Msg("Failed to set Redis keyspace notifications (deadline expiry may not work)")
	}

	// Repos
	timerRepo := postgres.NewTimerRepo(db)
	sessionRepo := postgres.NewSessionRepo(db)

	// Sessions track live connections; rows from a previous process are stale.
	if err := sessionRepo.DeleteAll(context.Background()); err != nil {
		log.Error().Err(err).Msg("Failed to clear stale sessions (non-fatal)")
	}

	// WebSocket hub
	wsHub := handler.NewHub()

	// Services
	timerSvc := service.NewTimerService(timerRepo, sessionRepo, redisClient, wsHub)

	// External event stream
	var publisher events.Publisher = events.NoopPublisher{}
	if cfg.NATSURL != "" {
		p, err := events.NewNATSPublisher(context.Background(), cfg.NATSURL)
		if err != nil {
			log.Fatal().Err(err).Msg("NATS connection failed")
		}
		publisher = p
	}
	defer publisher.Close()
	timerSvc.SetPublisher(publisher)

	// Handlers
	timerHandler := handler.NewTimerHandler(timerSvc)
	wsHandler := handler.NewWSHandler(wsHub, timerSvc)

	// Router
	mux := http.NewServeMux()

	// Health
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	mux.HandleFunc("POST /timer", timerHandler.CreateTimer)
	mux.HandleFunc("GET /timer/{id}", timerHandler.GetTimer)
	mux.HandleFunc("POST /timer/{id}/{slot}", timerHandler.JoinTimer)
	mux.HandleFunc("GET /stats", timerHandler.GetStats)

	// WebSocket (auth via query param, not middleware)
	mux.HandleFunc("GET /ws", wsHandler.ServeWS)

	// Apply global middleware
	corsMw := cors.New(cors.Options{
		AllowedOrigins: strings.Split(cfg.AllowedOrigins, ","),
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization", "Blitztime-Timer"},
	})
	root := middleware.Chain(mux, middleware.Logger, corsMw.Handler, middleware.JSON)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      root,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Timeout watcher (flag games autonomously when enabled)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if cfg.AutoTimeout {
		watcher := service.NewTimerWatcher(redisClient.Underlying(), timerSvc, timerRepo)
		go watcher.Start(ctx)
	}

	go func() {
		log.Info().Str("port", cfg.Port).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down server")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("Server shutdown error")
	}
	log.Info().Msg("Server stopped")
}
