package syncworker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-channel-sync/internal/kafka"
	"github.com/ariefcatur/go-channel-sync/internal/reconcile"
	"github.com/ariefcatur/go-channel-sync/internal/redisx"
)

type fakeSyncer struct {
	reqs []reconcile.Request
	err  error
}

func (f *fakeSyncer) Sync(_ context.Context, req reconcile.Request) (reconcile.Result, error) {
	f.reqs = append(f.reqs, req)
	return reconcile.Result{Reconciled: 1}, f.err
}

func message(t *testing.T, eventID, eventType string, payload any) kafkago.Message {
	t.Helper()
	env := reconcile.Envelope{
		EventID:      eventID,
		EventType:    eventType,
		EventVersion: 1,
		OccurredAt:   time.Now().UTC(),
		Payload:      kafka.MustMarshal(payload),
	}
	return kafkago.Message{Topic: reconcile.TopicSyncRequested, Key: []byte("ch-1"), Value: kafka.MustMarshal(env)}
}

func newHandler(t *testing.T, s Syncer) *Handler {
	mr := miniredis.RunT(t)
	rdb := redisx.New(mr.Addr())
	t.Cleanup(func() { _ = rdb.Close() })
	return &Handler{Sync: s, Dedup: redisx.NewRedisDeduper(rdb), ServiceName: "syncworker", Log: zap.NewNop()}
}

func TestHandleSyncRequested(t *testing.T) {
	ctx := context.Background()
	s := &fakeSyncer{}
	h := newHandler(t, s)
	payload := reconcile.SyncRequestedPayload{UserID: "u1", ChannelID: "ch-1", Marketplace: "walmart", Kind: reconcile.KindInventory}

	require.NoError(t, h.HandleSyncRequested(ctx, message(t, "e1", reconcile.EventChannelSyncRequested, payload)))
	require.Len(t, s.reqs, 1)
	assert.Equal(t, reconcile.Request{UserID: "u1", ChannelID: "ch-1", Marketplace: "walmart", Kind: reconcile.KindInventory}, s.reqs[0])

	// redelivery of the same event is ignored
	require.NoError(t, h.HandleSyncRequested(ctx, message(t, "e1", reconcile.EventChannelSyncRequested, payload)))
	assert.Len(t, s.reqs, 1)

	require.NoError(t, h.HandleSyncRequested(ctx, message(t, "e2", reconcile.EventChannelSyncRequested, payload)))
	assert.Len(t, s.reqs, 2)
}

func TestHandleSyncRequested_IgnoresOtherMessages(t *testing.T) {
	ctx := context.Background()
	s := &fakeSyncer{}
	h := newHandler(t, s)

	require.NoError(t, h.HandleSyncRequested(ctx, kafkago.Message{Value: []byte("not json")}))
	require.NoError(t, h.HandleSyncRequested(ctx, message(t, "e3", reconcile.EventChannelSyncCompleted, reconcile.SyncFinishedPayload{})))
	assert.Empty(t, s.reqs)
}

func TestHandleSyncRequested_FailuresAreCommitted(t *testing.T) {
	ctx := context.Background()
	payload := reconcile.SyncRequestedPayload{UserID: "u1", ChannelID: "ch-1", Marketplace: "etsy", Kind: reconcile.KindOrders}

	for _, err := range []error{
		reconcile.NewError(reconcile.ErrSyncInProgress, "busy", nil),
		reconcile.NewError(reconcile.ErrUpstreamRequestFailed, "", errors.New("503")),
	} {
		s := &fakeSyncer{err: err}
		h := newHandler(t, s)
		assert.NoError(t, h.HandleSyncRequested(ctx, message(t, "e4", reconcile.EventChannelSyncRequested, payload)))
		assert.Len(t, s.reqs, 1)
	}
}

func TestHandleSyncRequested_DedupUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redisx.New(mr.Addr())
	t.Cleanup(func() { _ = rdb.Close() })
	s := &fakeSyncer{}
	h := &Handler{Sync: s, Dedup: redisx.NewRedisDeduper(rdb), ServiceName: "syncworker", Log: zap.NewNop()}
	mr.Close()

	err := h.HandleSyncRequested(context.Background(), message(t, "e5", reconcile.EventChannelSyncRequested, reconcile.SyncRequestedPayload{}))
	assert.Error(t, err, "offset stays uncommitted")
	assert.Empty(t, s.reqs)
}
