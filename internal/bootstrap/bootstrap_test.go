package bootstrap

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-channel-sync/internal/catalog"
	"github.com/ariefcatur/go-channel-sync/internal/config"
	"github.com/ariefcatur/go-channel-sync/internal/reconcile"
	"github.com/ariefcatur/go-channel-sync/internal/redisx"
)

func memoryConfig() config.Config {
	cfg := config.Load()
	cfg.StoreDriver = "memory"
	cfg.RedisAddr = ""
	cfg.KafkaBrokers = nil
	return cfg
}

func TestBuild_InProcess(t *testing.T) {
	cfg := memoryConfig()
	cfg.Sync.UnknownSKUPolicy = "skip"
	cfg.Marketplace.Ebay = config.OAuthApp{ClientID: "id", ClientSecret: "s", RedirectURI: "https://app.test/cb"}

	d, err := Build(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer d.Close()

	assert.IsType(t, &catalog.MemStore{}, d.Store)
	assert.IsType(t, &redisx.MemoryLocker{}, d.Locker)
	assert.IsType(t, &redisx.MemoryStateStore{}, d.States)
	assert.IsType(t, &redisx.MemoryDeduper{}, d.Deduper())
	assert.Nil(t, d.Producer)
	assert.Equal(t, reconcile.PolicySkip, d.Sync.Engine.Policy)
	assert.True(t, d.Clients.Ebay.Configured())
	assert.False(t, d.Clients.Etsy.Configured())

	_, err = d.Clients.Authorizer(catalog.ChannelEbay)
	assert.NoError(t, err)
}

func TestBuild_Redis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := memoryConfig()
	cfg.RedisAddr = mr.Addr()

	d, err := Build(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer d.Close()

	require.NotNil(t, d.Redis)
	assert.IsType(t, &redisx.RedisLocker{}, d.Locker)
	assert.IsType(t, &redisx.RedisDeduper{}, d.Deduper())
}

func TestBuild_Errors(t *testing.T) {
	cfg := memoryConfig()
	cfg.StoreDriver = "sqlite"
	_, err := Build(context.Background(), cfg, zap.NewNop())
	assert.ErrorContains(t, err, "STORE_DRIVER")

	cfg = memoryConfig()
	mr := miniredis.RunT(t)
	cfg.RedisAddr = mr.Addr()
	mr.Close()
	_, err = Build(context.Background(), cfg, zap.NewNop())
	assert.ErrorContains(t, err, "redis ping")
}

func TestCheckAuth(t *testing.T) {
	cfg := memoryConfig()
	cfg.Auth.JWTSecret = ""
	cfg.AppEnv = "production"
	assert.ErrorIs(t, CheckAuth(cfg), ErrNoSecret)

	cfg.AppEnv = "development"
	assert.NoError(t, CheckAuth(cfg))

	cfg.AppEnv = "production"
	cfg.Auth.JWTSecret = "s3cret"
	assert.NoError(t, CheckAuth(cfg))
}
