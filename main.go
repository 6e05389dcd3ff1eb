package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/shanehokw/ranker/internal/auth"
	"github.com/shanehokw/ranker/internal/config"
	"github.com/shanehokw/ranker/internal/handlers"
	"github.com/shanehokw/ranker/internal/repository"
	"github.com/shanehokw/ranker/internal/security"
	"github.com/shanehokw/ranker/internal/services"
	"github.com/shanehokw/ranker/internal/store"
)

const envLocal = "local"

func main() {
	// .env is optional; real deployments set the environment directly
	_ = godotenv.Load()

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		slog.Error("cannot read config", "error", err)
		os.Exit(1)
	}

	log := newLogger(cfg.Env)
	log.Info("starting ranker", "env", cfg.Env, "port", cfg.HTTP.Port, "store", cfg.Poll.Driver)

	pollStore, err := newStore(cfg, log)
	if err != nil {
		log.Error("cannot initialize store", "error", err)
		os.Exit(1)
	}

	repo := repository.NewPollsRepository(pollStore, cfg.Poll.Duration, log)
	issuer := auth.NewIssuer(cfg.Auth.JWTSecret, cfg.Poll.Duration)

	metrics := services.NewMetrics()
	hub := services.NewHub(metrics, log)
	go hub.Run()

	coordinator := services.NewCoordinator(repo, hub, log)

	router := newRouter(cfg, hub, coordinator, issuer, metrics, log)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler: router,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", "error", err)
	}
}

func newLogger(env string) *slog.Logger {
	if env == envLocal {
		return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

func newStore(cfg *config.Config, log *slog.Logger) (store.Store, error) {
	switch cfg.Poll.Driver {
	case "memory":
		return store.NewMemoryStore(), nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), config.StoreTimeout)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("cannot reach redis at %s: %w", cfg.Redis.Address, err)
		}
		return store.NewRedisStore(client, log), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Poll.Driver)
	}
}

func newRouter(cfg *config.Config, hub *services.Hub, coordinator *services.Coordinator, issuer *auth.Issuer, metrics *services.Metrics, log *slog.Logger) *gin.Engine {
	if cfg.Env != envLocal {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())

	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.HTTP.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	pollHandlers := handlers.NewPollHandlers(coordinator, issuer, log)
	origins := security.NewOriginValidator(cfg.HTTP.AllowedOrigins)
	wsHandler := handlers.NewWSHandler(hub, coordinator, issuer, origins, metrics, log)

	polls := router.Group("/polls")
	{
		polls.POST("", pollHandlers.CreatePoll)
		polls.POST("/join", pollHandlers.JoinPoll)
		polls.POST("/rejoin", pollHandlers.RejoinPoll)
		polls.GET("/ws", wsHandler.HandleWebSocket)
	}

	router.GET("/metrics", handlers.HandleMetrics(hub))
	router.GET("/health", handlers.HandleHealth(hub))

	return router
}
