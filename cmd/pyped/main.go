package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pype/internal/core/services"
	httphandlers "pype/internal/handlers/http"
	"pype/internal/infrastructure/middleware"
	"pype/internal/infrastructure/monitoring"
	"pype/internal/infrastructure/reliability"
	"pype/internal/infrastructure/repositories"
	"pype/internal/infrastructure/repositories/memory"
	signalws "pype/internal/infrastructure/signal"
	"pype/pkg/config"
	"pype/pkg/logger"
	"pype/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	startTime := time.Now()

	// Try multiple config paths
	configPaths := []string{
		"configs/config.yaml",
		"./configs/config.yaml",
		"/etc/pype/config.yaml",
		"config.yaml",
	}

	var cfg *config.Config
	var err error

	for _, path := range configPaths {
		cfg, err = config.Load(path)
		if err == nil {
			break
		}
	}
	if err != nil {
		cfg = config.DefaultConfig()
	}

	zapLogger, err := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer zapLogger.Sync()
	logg := zapLogger.Sugar()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Tracing
	if cfg.Tracing.Enabled {
		tp, err := tracing.Init(tracing.Config{
			Enabled:     true,
			ServiceName: cfg.Tracing.ServiceName,
			JaegerURL:   cfg.Tracing.JaegerURL,
			Environment: cfg.Tracing.Environment,
			SampleRate:  cfg.Tracing.SampleRate,
		})
		if err != nil {
			logg.Fatalw("failed to initialize tracing", "error", err)
		}
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			if err := tp.Shutdown(shutdownCtx); err != nil {
				logg.Errorw("error shutting down tracer", "error", err)
			}
		}()
	}

	// Chat archive: Redis when configured, in-memory otherwise. The Redis
	// path goes through the reliability wrapper so a broker outage degrades
	// to local history instead of failing appends.
	repoFactory, err := repositories.NewRepositoryFactory(cfg, logg)
	if err != nil {
		logg.Fatalw("failed to create repository factory", "error", err)
	}
	defer repoFactory.Close()

	archive := repoFactory.CreateChatArchive()
	if repoFactory.UsingRedis() {
		archive = reliability.NewChatArchiveWrapper(archive, memory.NewMemoryChatArchive(), logg)
	}

	// Core services
	bus := services.NewEventBus(logg)
	directory := services.NewDirectoryService(bus, logg)
	sessions := services.NewSessionService(directory, bus, logg)
	chat := services.NewChatService(sessions, archive, bus, logg)
	stats := services.NewStatsService(sessions, bus, cfg.Stats.RetentionWindow, logg)
	negotiator := services.NewCallService(directory, sessions, bus, cfg.Call.RingingTimeout, logg)
	authService := services.NewAuthService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)

	// Signaling gateway
	gateway := signalws.NewGateway(directory, negotiator, sessions, chat, stats, bus, signalws.GatewayOptions{
		PingInterval:      cfg.Signal.PingInterval,
		PongTimeout:       cfg.Signal.PongTimeout,
		WriteTimeout:      cfg.Signal.WriteTimeout,
		MessagesPerSecond: cfg.RateLimiting.Signal.MessagesPerSecond,
		MessageBurst:      cfg.RateLimiting.Signal.Burst,
	}, zapLogger)
	go gateway.Run(ctx)

	// Monitoring
	collector := monitoring.NewPrometheusCollector()
	go collector.Run(ctx, bus)

	healthChecker := monitoring.NewHealthChecker()
	healthChecker.AddCheck("chat_archive", repoFactory.HealthCheck, 2*time.Second)
	healthChecker.Start(ctx, 15*time.Second)

	// WebSocket server
	signalMux := http.NewServeMux()
	signalMux.HandleFunc("/ws", gateway.HandleWebSocket)
	signalMux.HandleFunc("/health", gateway.HealthCheck)

	signalSrv := &http.Server{
		Addr:         cfg.Signal.Address,
		Handler:      signalMux,
		WriteTimeout: cfg.Signal.WriteTimeout,
	}

	// HTTP API server
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(middleware.RecoveryMiddleware(logg))
	router.Use(middleware.ErrorHandlerMiddleware(logg))
	if cfg.Tracing.Enabled {
		router.Use(middleware.TracingMiddleware())
	}
	router.Use(middleware.NewHTTPRateLimitMiddleware(cfg))

	authed := router.Group("/api/v1")
	authed.Use(middleware.AuthMiddleware(authService))

	peerHandler := httphandlers.NewPeerHandler(directory, authService, cfg.Auth.TokenTTL)
	peerHandler.SetupRoutes(router, authed)

	callHandler := httphandlers.NewCallHandler(negotiator)
	callHandler.SetupRoutes(authed)

	sessionHandler := httphandlers.NewSessionHandler(sessions, chat, stats, cfg.Stats.SampleInterval, cfg.Stats.RetentionWindow)
	sessionHandler.SetupRoutes(authed)

	router.GET("/health", func(c *gin.Context) {
		status := healthChecker.Status()
		code := http.StatusOK
		if status.Status != "healthy" {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{
			"status": status.Status,
			"uptime": time.Since(startTime).String(),
			"checks": status.Checks,
		})
	})
	router.GET("/ready", func(c *gin.Context) {
		readyCtx, readyCancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer readyCancel()

		if err := repoFactory.HealthCheck(readyCtx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
		logg.Info("Prometheus metrics enabled")
	}

	apiSrv := &http.Server{
		Addr:         cfg.API.Address,
		Handler:      router,
		ReadTimeout:  cfg.API.ReadTimeout,
		WriteTimeout: cfg.API.WriteTimeout,
	}

	serverErr := make(chan error, 2)
	go func() {
		logg.Infof("Starting Pype signaling server on %s", cfg.Signal.Address)
		if err := signalSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()
	go func() {
		logg.Infof("Starting Pype API server on %s", cfg.API.Address)
		if err := apiSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		logg.Fatalw("Server failed", "error", err)
	case sig := <-sigChan:
		logg.Infow("Received shutdown signal", "signal", sig)
	}

	logg.Info("Shutting down Pype...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Signal.ShutdownTimeout)
	defer shutdownCancel()

	if err := apiSrv.Shutdown(shutdownCtx); err != nil {
		logg.Errorw("Error during API server shutdown", "error", err)
		apiSrv.Close()
	}
	if err := signalSrv.Shutdown(shutdownCtx); err != nil {
		logg.Errorw("Error during signaling server shutdown", "error", err)
		signalSrv.Close()
	}

	if err := repoFactory.Close(); err != nil {
		logg.Errorw("Error closing repository factory", "error", err)
	}

	logg.Info("Pype stopped")
}
