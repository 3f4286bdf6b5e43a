// Package syncworker runs sync requests queued on Kafka by the API.
package syncworker

import (
	"context"
	"errors"
	"fmt"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-channel-sync/internal/catalog"
	"github.com/ariefcatur/go-channel-sync/internal/kafka"
	"github.com/ariefcatur/go-channel-sync/internal/reconcile"
	"github.com/ariefcatur/go-channel-sync/internal/redisx"
)

// Syncer is the part of reconcile.Service the worker drives.
type Syncer interface {
	Sync(ctx context.Context, req reconcile.Request) (reconcile.Result, error)
}

// Handler dipasang sebagai handler consumer untuk topic channel.sync.requested.
type Handler struct {
	Sync        Syncer
	Dedup       redisx.Deduper
	ServiceName string
	Timeout     time.Duration
	Log         *zap.Logger
}

// HandleSyncRequested runs one queued sync. A nil return commits the offset;
// sync failures are logged and committed since runs are never retried
// automatically.
func (h *Handler) HandleSyncRequested(ctx context.Context, m kafkago.Message) error {
	// 1) decode envelope
	var env reconcile.Envelope
	if err := kafka.UnmarshalEnvelope(m.Value, &env); err != nil {
		h.log().Warn("undecodable message dropped", zap.Int64("offset", m.Offset), zap.Error(err))
		return nil
	}
	if env.EventType != reconcile.EventChannelSyncRequested {
		return nil
	}

	// 2) dedup via event_id
	first, err := h.Dedup.MarkOnce(ctx, fmt.Sprintf(redisx.KeyDedup, h.ServiceName, env.EventID), redisx.TTLDedup)
	if err != nil {
		return fmt.Errorf("dedup %s: %w", env.EventID, err)
	}
	if !first {
		h.log().Debug("duplicate sync request skipped", zap.String("event_id", env.EventID))
		return nil
	}

	// 3) decode payload
	p, err := kafka.UnwrapPayload[reconcile.SyncRequestedPayload](env.Payload)
	if err != nil {
		h.log().Warn("bad sync request payload", zap.String("event_id", env.EventID), zap.Error(err))
		return nil
	}

	log := h.log().With(
		zap.String("event_id", env.EventID),
		zap.String("channel_id", p.ChannelID),
		zap.String("kind", string(p.Kind)),
	)
	timeout := h.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// 4) run; the service publishes the completed/failed event itself
	res, err := h.Sync.Sync(runCtx, reconcile.Request{
		UserID:      p.UserID,
		ChannelID:   p.ChannelID,
		Marketplace: catalog.ChannelType(p.Marketplace),
		Kind:        p.Kind,
	})
	switch {
	case errors.Is(err, reconcile.ErrSyncInProgress):
		log.Info("channel busy, queued sync dropped")
	case err != nil:
		log.Warn("queued sync failed", zap.Error(err))
	default:
		log.Info("queued sync finished", zap.Int("reconciled", res.Reconciled), zap.Int("pages", res.Pages))
	}
	return nil
}

func (h *Handler) log() *zap.Logger {
	if h.Log == nil {
		return zap.NewNop()
	}
	return h.Log
}
