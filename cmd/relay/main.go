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

	"voice-relay/internal/auth"
	"voice-relay/internal/calls"
	"voice-relay/internal/config"
	"voice-relay/internal/httpapi"
	"voice-relay/internal/relay"
	"voice-relay/internal/telephony"
	"voice-relay/internal/tenants"
	"voice-relay/pkg/logger"
	"voice-relay/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	tokenManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("token manager init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	// Process-wide services, dependency-injected; no ambient singletons.
	resolver := tenants.NewResolver(tenants.NewPGStore(db))
	provider := telephony.NewTwilioProvider()
	registry := calls.NewRedisRegistry(rdb)
	limiter := calls.NewRedisSlotLimiter(rdb, 0)
	hub := relay.NewObserverHub()

	callSvc := calls.NewService(resolver, provider, limiter, registry, cfg.Server.BaseURL, log)

	streams := relay.NewStreamHandlers(
		auth.UpgradeGate{Manager: tokenManager, AllowedOrigins: cfg.Server.AllowedOrigins},
		relay.SessionDeps{
			Resolver: resolver,
			Dialer:   relay.ElevenLabsDialer{},
			Provider: provider,
			Registry: registry,
			Limiter:  limiter,
			Hub:      hub,
			Log:      log,
		},
	)

	api := httpapi.Handlers{
		Calls:      callSvc,
		Auth:       tokenManager,
		StreamHost: cfg.StreamHost(),
	}

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, tokenManager, api, streams)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		// No ReadTimeout/WriteTimeout: relay sockets stay open for the
		// duration of a phone call.
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		log.Info("relay listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}

	_ = logger.ShutdownFlush(shutdownCtx, 2*time.Second)
}
