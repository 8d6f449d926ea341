package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"classchat/internal/app"
	"classchat/internal/config"
	"classchat/internal/events"
	"classchat/internal/ratelimit"
	"classchat/internal/server"
	"classchat/internal/util"
	"classchat/pkg/ai"
	"classchat/pkg/storage"
	"classchat/pkg/store"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)

	db, err := store.NewGormStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to init store: %v", err)
	}

	var blobs storage.BlobStore
	if cfg.BlobStoreEnabled() {
		minioStore, err := storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL, 30*time.Second)
		if err != nil {
			log.Fatalf("failed to init blob store: %v", err)
		}
		blobs = minioStore
	} else {
		logger.Info("external blob store not configured, attachments stay inline")
	}

	var sessions store.SessionStore
	switch cfg.SessionBackend {
	case config.SessionBackendJWT:
		sessions, err = store.NewJWTSessionStore(cfg.SessionSecret, cfg.SessionTTL())
		if err != nil {
			log.Fatalf("failed to init jwt sessions: %v", err)
		}
	default:
		sessions = store.NewRedisSessionStore(cfg.RedisAddr, cfg.RedisPassword, cfg.SessionTTL())
	}

	var limiter *ratelimit.FixedWindowLimiter
	if cfg.RedisAddr != "" {
		limiter, err = ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, "classchat:ratelimit", cfg.LoginRateLimit, cfg.LoginRateWindow())
		if err != nil {
			log.Fatalf("failed to init rate limiter: %v", err)
		}
	}

	var publisher events.Publisher
	if cfg.EventsEnabled() {
		turnPublisher, err := events.NewTurnPublisher(cfg.AMQPURL, cfg.AMQPExchange, logger)
		if err != nil {
			log.Fatalf("failed to init event publisher: %v", err)
		}
		defer turnPublisher.Close()
		publisher = turnPublisher
	}

	chatClient := ai.NewClient(cfg.OllamaHost, cfg.OllamaAPIKey, cfg.OllamaTimeout())

	appCore, err := app.New(app.Options{
		Store:         db,
		Sessions:      sessions,
		Blobs:         blobs,
		Chat:          chatClient,
		Events:        publisher,
		Limiter:       limiter,
		Logger:        logger,
		DefaultModel:  cfg.DefaultModel,
		AllowedModels: cfg.AllowedModels,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	if err := appCore.Bootstrap(context.Background(), cfg.AdminUser, cfg.AdminPassword); err != nil {
		log.Fatalf("failed to bootstrap: %v", err)
	}

	httpServer := server.New(server.Config{
		App:            appCore,
		MaxUploadBytes: cfg.MaxUploadBytes,
	})

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 3 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	logger.Info("classchat server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}
}
