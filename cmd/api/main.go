// Package main is the entry point for the API server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/tripmate/tripmate-sync/internal/config"
	"github.com/tripmate/tripmate-sync/internal/events"
	"github.com/tripmate/tripmate-sync/internal/handler"
	"github.com/tripmate/tripmate-sync/internal/kv"
	"github.com/tripmate/tripmate-sync/internal/llm"
	"github.com/tripmate/tripmate-sync/internal/middleware"
	"github.com/tripmate/tripmate-sync/internal/model"
	natsclient "github.com/tripmate/tripmate-sync/internal/nats"
	"github.com/tripmate/tripmate-sync/internal/remote"
	"github.com/tripmate/tripmate-sync/internal/service"
	"github.com/tripmate/tripmate-sync/pkg/logger"
	"github.com/tripmate/tripmate-sync/pkg/tracing"
)

func main() {
	// Load configuration
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.NewForEnv(cfg.Env, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	log.Info("starting API server", zap.String("kv_backend", cfg.KVBackend), zap.String("events_source", cfg.EventsSource))

	// Initialize tracing if enabled
	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "tripmate-sync", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	// Connect to NATS when configured; it backs the event stream and
	// optionally the key-value store.
	var natsClient *natsclient.Client
	var publisher service.EventPublisher
	if cfg.NATSURL != "" {
		natsClient, err = natsclient.Connect(ctx, natsclient.Config{
			URL:      cfg.NATSURL,
			CAFile:   cfg.NATSCAFile,
			CertFile: cfg.NATSCertFile,
			KeyFile:  cfg.NATSKeyFile,
			Token:    cfg.NATSToken,
		}, log)
		if err != nil {
			log.Error("failed to connect to NATS", zap.Error(err))
			os.Exit(1)
		}
		defer natsClient.Close()

		streamManager := natsclient.NewStreamManager(natsClient)
		if err := streamManager.EnsureStream(ctx); err != nil {
			log.Error("failed to ensure stream", zap.Error(err))
			os.Exit(1)
		}
		publisher = streamManager
	}

	store, err := openStore(ctx, cfg, natsClient)
	if err != nil {
		log.Error("failed to open key-value store", zap.String("backend", cfg.KVBackend), zap.Error(err))
		os.Exit(1)
	}

	location := model.Coords{Latitude: cfg.GuideLatitude, Longitude: cfg.GuideLongitude}
	remoteClient := remote.New(remote.Config{
		BaseURL:    cfg.RemoteBaseURL,
		WebhookURL: cfg.ChatWebhookURL,
		UserID:     cfg.GuideUserID,
		Location:   location,
		Timeout:    cfg.RemoteTimeout,
	}, log.With(zap.String("component", "remote")))

	var source service.EventSource = events.NewStatic()
	if cfg.EventsSource == "remote" {
		source = remoteClient
	}

	// Initialize stores
	pinStore := service.NewPinStore(store, source, publisher, log)
	chatStore := service.NewChatHistoryStore(store, remoteClient, publisher, log, service.WithSyncTimeout(cfg.SyncTimeout))
	tripStore := service.NewTripStore(store, publisher, log)
	pinStore.Start(ctx)
	chatStore.Start(ctx)
	tripStore.Start(ctx)

	guideSvc := service.NewGuideService(chatStore, pinStore, newResponder(cfg, remoteClient, log), cfg.GuideUserID, location, log)

	// Initialize handlers
	router := handler.NewRouter(handler.RouterConfig{
		Health:            handler.NewHealthHandler(store, pinStore.Ready(), chatStore.Ready(), tripStore.Ready()),
		Pins:              handler.NewPinHandler(pinStore, log),
		Sessions:          handler.NewSessionHandler(chatStore, log),
		Guide:             handler.NewGuideHandler(guideSvc, log),
		Trips:             handler.NewTripHandler(tripStore, log),
		JWTSecret:         cfg.JWTSecret,
		RateLimitRequests: cfg.RateLimitRequests,
		RateLimitWindow:   cfg.RateLimitWindow,
		Middleware:        []func(http.Handler) http.Handler{middleware.Logging(log)},
	})

	if cfg.Env == "development" {
		token, err := middleware.IssueToken(cfg.JWTSecret, cfg.GuideUserID, "dev", 24*time.Hour)
		if err != nil {
			log.Warn("failed to issue development token", zap.Error(err))
		} else {
			log.Info("development token issued", zap.String("user_id", cfg.GuideUserID), zap.String("token", token))
		}
	}

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", zap.Error(err))
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	if err := chatStore.Flush(shutdownCtx); err != nil {
		log.Warn("chat history not fully flushed", zap.Error(err))
	}
	if err := pinStore.Flush(shutdownCtx); err != nil {
		log.Warn("pins not fully flushed", zap.Error(err))
	}
	if err := tripStore.Flush(shutdownCtx); err != nil {
		log.Warn("trips not fully flushed", zap.Error(err))
	}
	chatStore.Close()
	pinStore.Close()
	tripStore.Close()
	if err := store.Close(); err != nil {
		log.Warn("failed to close key-value store", zap.Error(err))
	}

	log.Info("server stopped")
}

// openStore opens the key-value backend named by KV_BACKEND.
func openStore(ctx context.Context, cfg *config.Config, natsClient *natsclient.Client) (kv.Store, error) {
	switch cfg.KVBackend {
	case "sqlite":
		return kv.NewSQLiteStore(cfg.SQLitePath)
	case "redis":
		return kv.NewRedisStore(ctx, kv.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   cfg.RedisPrefix,
		})
	case "postgres":
		return kv.NewPostgresStore(ctx, cfg.DatabaseURL)
	case "nats":
		return natsclient.NewKVStore(ctx, natsClient, cfg.NATSBucket)
	default:
		return kv.NewMemoryStore(), nil
	}
}

// newResponder prefers the guide webhook and falls back to an LLM provider.
func newResponder(cfg *config.Config, remoteClient *remote.Client, log *logger.Logger) service.Responder {
	if cfg.ChatWebhookURL != "" {
		return remoteClient
	}

	var (
		client llm.Client
		err    error
	)
	switch {
	case cfg.AnthropicAPIKey != "":
		client, err = llm.NewClient(llm.ProviderAnthropic, cfg.AnthropicAPIKey)
	case cfg.OpenAIAPIKey != "":
		client, err = llm.NewClient(llm.ProviderOpenAI, cfg.OpenAIAPIKey)
	default:
		log.Warn("no guide webhook or LLM key configured, guide replies disabled")
		return nil
	}
	if err != nil {
		log.Warn("failed to create LLM client, guide replies disabled", zap.Error(err))
		return nil
	}
	return llm.NewGuideResponder(client, cfg.LLMModel, log)
}
