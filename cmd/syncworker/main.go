package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-channel-sync/internal/bootstrap"
	"github.com/ariefcatur/go-channel-sync/internal/config"
	kafkax "github.com/ariefcatur/go-channel-sync/internal/kafka"
	"github.com/ariefcatur/go-channel-sync/internal/logger"
	"github.com/ariefcatur/go-channel-sync/internal/reconcile"
	"github.com/ariefcatur/go-channel-sync/internal/syncworker"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	name := cfg.ServiceName + "-worker"
	log := logger.New(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: cfg.Log.Output}).
		With(zap.String("service", name))
	defer func() { _ = log.Sync() }()

	if len(cfg.KafkaBrokers) == 0 {
		log.Fatal("KAFKA_BROKERS is required for the sync worker")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	deps, err := bootstrap.Build(ctx, cfg, log)
	if err != nil {
		log.Fatal("bootstrap", zap.Error(err))
	}

	h := &syncworker.Handler{
		Sync:        deps.Sync,
		Dedup:       deps.Deduper(),
		ServiceName: name,
		Timeout:     cfg.Sync.Timeout,
		Log:         log.Named("worker"),
	}

	// Consumer
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.Sync.WorkerGroup, reconcile.TopicSyncRequested, cfg.Sync.Workers, log.Named("consumer"))
	done := make(chan struct{})
	go func() {
		defer close(done)
		log.Info("sync consumer started",
			zap.String("group", cfg.Sync.WorkerGroup),
			zap.String("topic", reconcile.TopicSyncRequested),
			zap.Int("workers", cfg.Sync.Workers))
		if err := cons.Start(ctx, h.HandleSyncRequested); err != nil {
			log.Error("consumer exit", zap.Error(err))
			cancel()
		}
	}()

	// graceful shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	log.Info("shutting down consumer...")
	cancel()
	<-done
	deps.Close()
}
