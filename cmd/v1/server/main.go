package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/sync/errgroup"

	"github.com/tmbingo/bingo-server/internal/v1/auth"
	"github.com/tmbingo/bingo-server/internal/v1/channels"
	"github.com/tmbingo/bingo-server/internal/v1/config"
	"github.com/tmbingo/bingo-server/internal/v1/game"
	"github.com/tmbingo/bingo-server/internal/v1/health"
	"github.com/tmbingo/bingo-server/internal/v1/logging"
	"github.com/tmbingo/bingo-server/internal/v1/maps"
	"github.com/tmbingo/bingo-server/internal/v1/middleware"
	"github.com/tmbingo/bingo-server/internal/v1/ratelimit"
	"github.com/tmbingo/bingo-server/internal/v1/reconnect"
	"github.com/tmbingo/bingo-server/internal/v1/tracing"
	"github.com/tmbingo/bingo-server/internal/v1/transport"
	"github.com/tmbingo/bingo-server/internal/v1/types"
)

func main() {
	// Load .env file for local development.
	// Try multiple paths to handle different ways of running the app
	envPaths := []string{".env", "../../../.env", "../../.env"}
	var envLoaded bool
	for _, path := range envPaths {
		if err := godotenv.Load(path); err == nil {
			slog.Info("Loaded environment from", "path", path)
			envLoaded = true
			break
		}
	}
	if !envLoaded {
		slog.Warn("No .env file found in any expected location, relying on environment variables")
	}

	// Validate environment variables before starting the server
	cfg, err := config.ValidateEnv()
	if err != nil {
		slog.Error("Environment validation failed", "error", err)
		os.Exit(1)
	}

	if err := logging.Initialize(cfg.DevelopmentMode, cfg.LogLevel); err != nil {
		slog.Error("Failed to initialize logger", "error", err)
		os.Exit(1)
	}
	if cfg.DevelopmentMode {
		slog.Info("Running in DEVELOPMENT MODE")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Tracing (optional) ---
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "bingo-server", cfg.OtelCollector)
		if err != nil {
			slog.Error("Failed to initialize tracing, continuing without it", "error", err)
		} else {
			defer func() {
				sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := tp.Shutdown(sctx); err != nil {
					slog.Error("Tracer shutdown failed", "error", err)
				}
			}()
			slog.Info("✅ Tracing initialized", "collector", cfg.OtelCollector)
		}
	}

	// --- Identity validation ---
	var validator types.IdentityValidator
	if cfg.AuthSecret == "" {
		slog.Warn("⚠️ AUTH_SECRET is unset: identity validation DISABLED, tokens are trusted as-is - DO NOT USE IN PRODUCTION")
		validator = auth.DevValidator{}
	} else {
		validator = auth.NewValidator(cfg.AuthBaseURL, cfg.AuthSecret)
		slog.Info("✅ Identity validator initialized", "base_url", cfg.AuthBaseURL)
	}

	minVersion, err := auth.ParseVersion(cfg.MinClientVersion)
	if err != nil {
		slog.Error("Invalid minimum client version", "error", err)
		os.Exit(1)
	}

	// --- Game plane wiring ---
	catalogue := maps.NewClient(cfg.TMXBaseURL, cfg.TMXUserAgent, 15*time.Second)
	stock := maps.NewStock(catalogue, cfg.MapQueueTarget, cfg.MapQueueCap, cfg.MapFetchTimeout)
	fabric := channels.NewFabric()
	reconnects := reconnect.NewRegistry(cfg.ReconnectLinger)
	registry := game.NewRegistry(fabric, stock, reconnects,
		cfg.TeamPalette, cfg.JoinCodeAlphabet, cfg.JoinCodeLength)

	limiter, err := ratelimit.New(cfg.RateLimitRequests)
	if err != nil {
		slog.Error("Invalid rate limit configuration", "error", err)
		os.Exit(1)
	}

	server := transport.NewServer(":"+cfg.Port, minVersion, validator, registry, reconnects, limiter)

	// --- Admin plane (health + metrics) ---
	if !cfg.DevelopmentMode {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(middleware.CorrelationID())
	router.Use(gin.Recovery())
	if cfg.TracingEnabled {
		router.Use(otelgin.Middleware("bingo-server-admin"))
	}
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	identityCheckURL := cfg.AuthBaseURL
	if cfg.AuthSecret == "" {
		identityCheckURL = "" // dev bypass, nothing to probe
	}
	healthHandler := health.NewHandler(identityCheckURL, cfg.TMXBaseURL)
	router.GET("/health/live", healthHandler.Liveness)
	router.GET("/health/ready", healthHandler.Readiness)

	admin := &http.Server{
		Addr:    ":" + cfg.AdminPort,
		Handler: router,
	}

	// --- Run everything until a signal or a fatal component error ---
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Run(gctx)
	})
	g.Go(func() error {
		stock.Run(gctx)
		return nil
	})
	g.Go(func() error {
		reconnects.Run(gctx)
		return nil
	})
	g.Go(func() error {
		slog.Info("Admin server starting", "port", cfg.AdminPort)
		if err := admin.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down server...")
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return admin.Shutdown(sctx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("Server exited with error", "error", err)
		os.Exit(1)
	}
	slog.Info("Server exiting")
}
