// Package bootstrap builds the dependencies shared by the api and syncworker
// binaries from a loaded config.
package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-channel-sync/internal/catalog"
	"github.com/ariefcatur/go-channel-sync/internal/config"
	"github.com/ariefcatur/go-channel-sync/internal/kafka"
	"github.com/ariefcatur/go-channel-sync/internal/marketplace"
	"github.com/ariefcatur/go-channel-sync/internal/postgres"
	"github.com/ariefcatur/go-channel-sync/internal/reconcile"
	"github.com/ariefcatur/go-channel-sync/internal/redisx"
)

type Deps struct {
	Store    catalog.Store
	Redis    *redis.Client // nil when REDIS_ADDR is unset
	Locker   redisx.Locker
	States   redisx.StateStore
	Producer *kafka.Producer // nil when KAFKA_BROKERS is unset
	Clients  *marketplace.Factory
	Sync     *reconcile.Service

	closers []func()
}

// Close releases everything in reverse order of acquisition.
func (d *Deps) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
}

func Build(ctx context.Context, cfg config.Config, log *zap.Logger) (*Deps, error) {
	d := &Deps{}

	// store
	switch cfg.StoreDriver {
	case "memory":
		log.Warn("using in-memory store, data is lost on restart")
		d.Store = catalog.NewMemStore()
	case "postgres":
		pool, err := postgres.Connect(ctx, cfg.PostgresDSN, postgres.Options{MaxConns: int32(cfg.PGMaxConns)})
		if err != nil {
			return nil, fmt.Errorf("db connect: %w", err)
		}
		d.closers = append(d.closers, pool.Close)
		if err := postgres.Migrate(ctx, pool); err != nil {
			d.Close()
			return nil, fmt.Errorf("db migrate: %w", err)
		}
		d.Store = &catalog.Repo{DB: pool}
	default:
		return nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}

	// Redis; tanpa REDIS_ADDR, lock dan state hanya berlaku di dalam satu proses
	if cfg.RedisAddr != "" {
		rdb := redisx.New(cfg.RedisAddr)
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			d.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		d.closers = append(d.closers, func() { _ = rdb.Close() })
		d.Redis = rdb
		d.Locker = redisx.NewRedisLocker(rdb)
		d.States = redisx.NewRedisStateStore(rdb)
	} else {
		log.Warn("REDIS_ADDR not set, sync locks and oauth states are process-local")
		d.Locker = redisx.NewMemoryLocker()
		d.States = redisx.NewMemoryStateStore()
	}

	// Kafka producer
	var events kafka.Publisher = kafka.Nop{}
	if len(cfg.KafkaBrokers) > 0 {
		d.Producer = kafka.NewProducer(cfg.KafkaBrokers, 1024, log.Named("kafka"))
		d.Producer.Start()
		d.closers = append(d.closers, func() {
			d.Producer.Close() // tutup inbox, lalu writer di-flush dan ditutup
			d.Producer.WaitClosed()
		})
		events = d.Producer
	}

	mc := cfg.Marketplace
	d.Clients = &marketplace.Factory{
		Transport: marketplace.NewTransport(marketplace.TransportConfig{
			Timeout:        mc.HTTPTimeout,
			RequestsPerSec: mc.RequestsPerSec,
			Burst:          mc.Burst,
		}, log.Named("marketplace")),
		Ebay:           app(mc.Ebay),
		Etsy:           app(mc.Etsy),
		AmazonTokenURL: mc.AmazonTokenURL,
		OrderLookback:  cfg.Sync.OrderLookback,
		Log:            log.Named("marketplace"),
	}

	d.Sync = &reconcile.Service{
		Store: d.Store,
		Engine: &reconcile.Engine{
			Store:    d.Store,
			Policy:   reconcile.ParsePolicy(cfg.Sync.UnknownSKUPolicy),
			PageSize: cfg.Sync.PageSize,
			MaxPages: cfg.Sync.MaxPages,
			Log:      log.Named("reconcile"),
		},
		Clients:  d.Clients,
		Locker:   d.Locker,
		States:   d.States,
		Events:   events,
		Producer: cfg.ServiceName,
		LockTTL:  cfg.Sync.LockTTL,
		StateTTL: cfg.Auth.OAuthStates,
		Log:      log.Named("sync"),
	}
	return d, nil
}

// Deduper picks the Redis-backed deduper when Redis is configured.
func (d *Deps) Deduper() redisx.Deduper {
	if d.Redis != nil {
		return redisx.NewRedisDeduper(d.Redis)
	}
	return redisx.NewMemoryDeduper()
}

var ErrNoSecret = errors.New("JWT_SECRET is required outside development")

// CheckAuth refuses to start without a session secret unless APP_ENV=development.
func CheckAuth(cfg config.Config) error {
	if cfg.Auth.JWTSecret == "" && cfg.AppEnv != "development" {
		return ErrNoSecret
	}
	return nil
}

func app(a config.OAuthApp) marketplace.App {
	return marketplace.App{
		ClientID:     a.ClientID,
		ClientSecret: a.ClientSecret,
		RedirectURI:  a.RedirectURI,
		Environment:  a.Environment,
		Scopes:       a.Scopes,
	}
}
