package httpx

import (
	"time"

	"github.com/ariefcatur/go-channel-sync/internal/analytics"
	"github.com/ariefcatur/go-channel-sync/internal/catalog"
	"github.com/ariefcatur/go-channel-sync/internal/listing"
	"github.com/ariefcatur/go-channel-sync/internal/reconcile"
)

// API holds the handlers behind the authenticated routes.
type API struct {
	Store       catalog.Store
	Sync        *reconcile.Service
	Listing     *listing.Service
	Analytics   *analytics.Service // nil reads straight from Store
	SyncTimeout time.Duration
}

func (a *API) syncTimeout() time.Duration {
	if a.SyncTimeout <= 0 {
		return 2 * time.Minute
	}
	return a.SyncTimeout
}
