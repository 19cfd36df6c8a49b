package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/frauddetection/fraudwatch-go/internal/config"
	"github.com/frauddetection/fraudwatch-go/internal/handler"
	"github.com/frauddetection/fraudwatch-go/internal/infra/client"
	"github.com/frauddetection/fraudwatch-go/internal/infra/observability"
	"github.com/frauddetection/fraudwatch-go/internal/infra/resilience"
	"github.com/frauddetection/fraudwatch-go/internal/service"

	"go.uber.org/zap"
)

func main() {
	// --- Load .env file (for local development) ---
	_ = config.LoadDotEnv(".env")

	// --- Config ---
	cfg := config.Load()

	// --- Logger ---
	logger := observability.NewLogger(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("configuration loaded",
		zap.Int("ops_port", cfg.OpsPort),
		zap.String("log_level", cfg.LogLevel),
		zap.String("api_base_url", cfg.APIBaseURL),
		zap.Duration("http_timeout", cfg.HTTPTimeout),
		zap.Int("page_size", cfg.PageSize),
		zap.Duration("metrics_interval", cfg.MetricsInterval),
		zap.Duration("metrics_debounce", cfg.MetricsDebounce),
		zap.Bool("stream_reconnect", cfg.StreamReconnect),
	)

	// --- Tracing ---
	shutdown, err := observability.InitTracer(cfg.OTLPEndpoint, "fraudwatch-console")
	if err != nil {
		logger.Fatal("failed to init tracer", zap.Error(err))
	}
	defer shutdown(context.Background())

	// --- Metrics ---
	metrics := observability.NewMetrics()

	// --- Clients ---
	// The stream client gets its own http.Client without a timeout: the
	// SSE response body stays open for the lifetime of the connection.
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
	streamHTTPClient := &http.Client{}

	broker := client.NewCredentialBroker(
		httpClient,
		cfg.APIBaseURL,
		cfg.AuthUsername,
		cfg.AuthPassword,
		cfg.TokenSkew,
		cfg.TokenFallbackTTL,
		metrics,
		logger,
	)

	cb := resilience.NewCircuitBreaker("dashboard-api")
	gateway := client.NewDashboardClient(httpClient, cfg.APIBaseURL, broker, cb, metrics)
	stream := client.NewStreamClient(streamHTTPClient, cfg.APIBaseURL, broker, logger)

	// --- Services ---
	engine := service.NewEngine(gateway, metrics, logger, service.EngineConfig{
		PageSize:       cfg.PageSize,
		PollInterval:   cfg.MetricsInterval,
		DebounceWindow: cfg.MetricsDebounce,
	})
	console := service.NewConsole(engine, stream, metrics, logger, service.ConsoleConfig{
		Retry: resilience.Config{
			MaxRetries:     cfg.MaxRetries,
			InitialBackoff: cfg.InitialBackoff,
		},
		Reconnect: cfg.StreamReconnect,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go engine.Run(ctx)

	if err := console.Start(ctx); err != nil {
		logger.Fatal("initial load failed", zap.Error(err))
	}

	// --- Ops server ---
	router := handler.NewRouter(console, engine, metrics, logger)
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.OpsPort),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("ops server starting", zap.Int("port", cfg.OpsPort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("ops server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("console shutting down...")
	console.Close()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("ops server forced shutdown", zap.Error(err))
	}

	logger.Info("console stopped")
}
