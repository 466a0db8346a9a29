package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/rustygpt/rustygpt/internal/assistant"
	"github.com/rustygpt/rustygpt/internal/auth"
	"github.com/rustygpt/rustygpt/internal/config"
	"github.com/rustygpt/rustygpt/internal/conversation"
	"github.com/rustygpt/rustygpt/internal/events"
	"github.com/rustygpt/rustygpt/internal/httpapi"
	"github.com/rustygpt/rustygpt/internal/logger"
	"github.com/rustygpt/rustygpt/internal/provider"
	"github.com/rustygpt/rustygpt/internal/sse"
	"github.com/rustygpt/rustygpt/internal/store"
	"github.com/rustygpt/rustygpt/internal/supervisor"
)

func main() {
	config.LoadConfig()
	cfg := config.AppConfig

	log := logger.New(logger.FromConfig(cfg.LogLevel, cfg.LogFormat)).Logger

	log.Info("Starting server",
		slog.String("port", cfg.Port),
		slog.String("gin_mode", cfg.GinMode),
		slog.Bool("auth_v1", cfg.FeatureAuthV1),
		slog.Bool("sse_v1", cfg.FeatureSSEV1))

	db, err := store.InitDatabase(cfg.DatabaseURL)
	if err != nil {
		log.Error("Failed to initialize database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.DB.Close()

	hub := events.NewHub(db, log, events.HubOptions{
		RingCapacity:       cfg.SSEHistoryCapacity,
		SubscriberCapacity: cfg.SSEChannelCapacity,
		Persist:            cfg.SSEPersistEnabled,
		MaxPerConversation: cfg.SSEMaxEventsPerConversation,
		PruneBatch:         cfg.SSEPruneBatchSize,
		RetentionHours:     cfg.SSERetentionHours,
	})

	sup := supervisor.New(cfg.GenerationTimeout(), log)

	// NATS is optional: without it cancellation only reaches generations
	// owned by this instance.
	var nc *nats.Conn
	if cfg.NatsURL != "" {
		nc, err = nats.Connect(cfg.NatsURL,
			nats.MaxReconnects(-1),
			nats.ReconnectWait(2*time.Second))
		if err != nil {
			log.Error("Failed to connect to NATS", slog.Any("error", err))
			os.Exit(1)
		}
		defer nc.Close()
	}
	distributed := supervisor.NewDistributedCancel(nc, sup, log, logger.GetInstanceID())
	if distributed != nil {
		if err := distributed.Start(); err != nil {
			log.Error("Failed to start distributed cancel", slog.Any("error", err))
			os.Exit(1)
		}
		defer distributed.Stop()
	}

	registry, err := provider.NewRegistry(cfg.LLM, log)
	if err != nil {
		log.Error("Failed to build model registry", slog.Any("error", err))
		os.Exit(1)
	}
	log.Info("Models configured",
		slog.String("default", registry.DefaultName()),
		slog.Any("models", registry.Names()))

	authService := auth.NewService(db, log,
		cfg.IdleWindow(), cfg.AbsoluteWindow(),
		cfg.MaxSessionsPerUser, auth.ArgonProfile(cfg.ArgonProfile))
	cookies := auth.NewCookieWriter(cfg)

	convoService := conversation.NewService(conversation.NewStore(db), hub, log)
	pipeline := assistant.NewPipeline(convoService, hub, sup, registry, log)
	sseHandler := sse.NewHandler(hub, convoService, log)

	router := httpapi.NewRouter(httpapi.Dependencies{
		Config:       cfg,
		Log:          log,
		AuthService:  authService,
		Cookies:      cookies,
		Conversation: convoService,
		Pipeline:     pipeline,
		Distributed:  distributed,
		SSE:          sseHandler,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Server failed", slog.Any("error", err))
			os.Exit(1)
		}
	}()
	log.Info("Listening", slog.String("addr", srv.Addr))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.ServerShutdownTimeoutSeconds)*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("Forced shutdown", slog.Any("error", err))
		os.Exit(1)
	}

	log.Info("Server exited")
}
