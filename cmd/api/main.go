package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-channel-sync/internal/analytics"
	"github.com/ariefcatur/go-channel-sync/internal/auth"
	"github.com/ariefcatur/go-channel-sync/internal/bootstrap"
	"github.com/ariefcatur/go-channel-sync/internal/config"
	"github.com/ariefcatur/go-channel-sync/internal/httpx"
	"github.com/ariefcatur/go-channel-sync/internal/listing"
	"github.com/ariefcatur/go-channel-sync/internal/logger"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log := logger.New(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: cfg.Log.Output}).
		With(zap.String("service", cfg.ServiceName))
	defer func() { _ = log.Sync() }()

	if err := bootstrap.CheckAuth(cfg); err != nil {
		log.Fatal("config", zap.Error(err))
	}
	secret := cfg.Auth.JWTSecret
	if secret == "" {
		log.Warn("JWT_SECRET not set, using an insecure development secret")
		secret = "dev-only-secret"
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	deps, err := bootstrap.Build(ctx, cfg, log)
	if err != nil {
		log.Fatal("bootstrap", zap.Error(err))
	}

	api := &httpx.API{
		Store: deps.Store,
		Sync:  deps.Sync,
		Listing: &listing.Service{
			Store:   deps.Store,
			Clients: deps.Clients,
			Log:     log.Named("listing"),
		},
		Analytics: &analytics.Service{Store: deps.Store, Log: log.Named("analytics")},
	}
	router := httpx.NewRouter(httpx.RouterConfig{
		Log:           log,
		Verifier:      auth.NewVerifier(secret, cfg.Auth.JWTIssuer),
		SessionCookie: cfg.Auth.CookieName,
		SyncTimeout:   cfg.Sync.Timeout,
		SyncPerMinute: cfg.Sync.RateLimitPerMin,
	}, api)

	// HTTP server
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 10 * time.Second}

	// graceful shutdown
	go func() {
		log.Info("HTTP listening", zap.String("addr", cfg.HTTPAddr), zap.String("store", cfg.StoreDriver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("listen", zap.Error(err))
		}
	}()

	// wait signal
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down...")

	// sync runs can take a while; give them the sync timeout to finish
	ctx2, cancel2 := context.WithTimeout(context.Background(), cfg.Sync.Timeout+5*time.Second)
	defer cancel2()
	if err := srv.Shutdown(ctx2); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	cancel()
	deps.Close() // flush producer, close redis & db
}
