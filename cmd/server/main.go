package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/partyline/server/internal/admin"
	"github.com/partyline/server/internal/config"
	"github.com/partyline/server/internal/cycles"
	"github.com/partyline/server/internal/games"
	"github.com/partyline/server/internal/hub"
	"github.com/partyline/server/internal/lifecycle"
	"github.com/partyline/server/internal/logging"
	"github.com/partyline/server/internal/metrics"
	"github.com/partyline/server/internal/platform"
	"github.com/partyline/server/internal/plugin"
	"github.com/partyline/server/internal/room"
	"github.com/partyline/server/internal/session"
)

// snapshots adapts the registries to the metrics reporter.
type snapshots struct {
	hub      *hub.Hub
	rooms    *room.Registry
	sessions *session.Store
}

func (s snapshots) ConnectionCount() int { return s.hub.ConnectionCount() }
func (s snapshots) RoomCount() int       { return s.rooms.Count() }
func (s snapshots) SessionCount() int    { return s.sessions.Count() }

func main() {
	// Load .env for local development; in deployment the environment is set
	// by the platform.
	if err := godotenv.Load(); err == nil {
		slog.Info("Loaded environment from .env")
	} else {
		slog.Info("No .env file found, relying on environment variables")
	}

	cfg, err := config.FromEnv()
	if err != nil {
		slog.Error("Environment validation failed", "error", err)
		os.Exit(1)
	}

	if err := logging.Initialize(cfg.DevelopmentMode); err != nil {
		slog.Error("Failed to initialize logger", "error", err)
		os.Exit(1)
	}
	if cfg.DevelopmentMode {
		slog.Info("Running in DEVELOPMENT MODE")
	}

	// --- Registries & transport ---
	rooms := room.NewRegistry()
	sessions := session.NewStore()
	plugins := plugin.NewRegistry()

	wsHub, err := hub.New(cfg.CorsOrigins, cfg.RateLimitWsIP)
	if err != nil {
		slog.Error("Failed to create connection hub", "error", err)
		os.Exit(1)
	}

	platformClient := platform.New(cfg.PlatformBaseURL)
	if platformClient.Enabled() {
		slog.Info("Platform integration enabled", "base_url", cfg.PlatformBaseURL)
	} else {
		slog.Info("Platform integration disabled (PLATFORM_BASE_URL not set)")
	}

	coordinator := lifecycle.New(wsHub, rooms, sessions, plugins, platformClient)
	wsHub.SetDispatcher(coordinator)

	// --- Game plugins ---
	for _, p := range []plugin.Plugin{cycles.NewGame(), games.NewPulse()} {
		if err := plugins.Register(p, wsHub); err != nil {
			slog.Error("Failed to register plugin", "game_id", p.ID(), "error", err)
			os.Exit(1)
		}
	}

	reporter := metrics.NewReporter(snapshots{wsHub, rooms, sessions})
	reporter.Start()

	// --- HTTP server ---
	if !cfg.DevelopmentMode {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.CorsOrigins
	router.Use(cors.New(corsConfig))
	router.Use(gin.Recovery())

	router.GET("/ws", wsHub.ServeWs)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	admin.NewHandler(wsHub, rooms, sessions, plugins).Register(router)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// --- Graceful shutdown ---
	var bindFailed atomic.Bool
	go func() {
		slog.Info("Server starting", "port", cfg.Port, "games", plugins.IDs())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Failed to run server", "error", err)
			bindFailed.Store(true)
			syscall.Kill(os.Getpid(), syscall.SIGTERM)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := wsHub.Shutdown(ctx); err != nil {
		slog.Error("Error during hub shutdown", "error", err)
	}
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	// Plugin cleanup stops every running tick loop.
	plugins.Destroy()
	coordinator.Close()
	reporter.Stop()
	rooms.Close()
	sessions.Close()

	slog.Info("Server exiting")
	if bindFailed.Load() {
		os.Exit(1)
	}
}
