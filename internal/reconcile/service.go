package reconcile

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	gojson "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-channel-sync/internal/catalog"
	"github.com/ariefcatur/go-channel-sync/internal/kafka"
	"github.com/ariefcatur/go-channel-sync/internal/marketplace"
	"github.com/ariefcatur/go-channel-sync/internal/redisx"
)

// Clients builds marketplace clients; *marketplace.Factory implements it.
type Clients interface {
	New(ch *catalog.Channel, sink marketplace.CredentialSink) (marketplace.Client, error)
	Authorizer(mp catalog.ChannelType) (marketplace.Authorizer, error)
}

type Service struct {
	Store    catalog.Store
	Engine   *Engine
	Clients  Clients
	Locker   redisx.Locker
	States   redisx.StateStore
	Events   kafka.Publisher
	Producer string // envelope producer name
	LockTTL  time.Duration
	StateTTL time.Duration
	Log      *zap.Logger
	Now      func() time.Time
}

type Request struct {
	UserID      string
	ChannelID   string
	Marketplace catalog.ChannelType
	Kind        Kind
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Service) log() *zap.Logger {
	if s.Log == nil {
		return zap.NewNop()
	}
	return s.Log
}

func (s *Service) events() kafka.Publisher {
	if s.Events == nil {
		return kafka.Nop{}
	}
	return s.Events
}

// channelFor applies the checks every channel operation shares: a caller, a
// known marketplace, a channel id owned by the caller and of that marketplace.
func (s *Service) channelFor(ctx context.Context, userID, channelID string, mp catalog.ChannelType) (*catalog.Channel, error) {
	if userID == "" {
		return nil, fail(ErrUnauthorized, "authentication required", nil)
	}
	if !mp.Valid() {
		return nil, fail(ErrInvalidChannelType, fmt.Sprintf("unknown marketplace %q", mp), nil)
	}
	if strings.TrimSpace(channelID) == "" {
		return nil, fail(ErrValidation, "channelId is required", nil)
	}
	ch, err := s.Store.GetChannel(ctx, userID, channelID)
	if errors.Is(err, catalog.ErrNotFound) {
		return nil, fail(ErrChannelNotFound, "channel not found", nil)
	}
	if err != nil {
		return nil, fail(ErrPersistenceFailed, "load channel", err)
	}
	if ch.Type != mp {
		return nil, fail(ErrInvalidChannelType, fmt.Sprintf("channel is not a %s channel", mp.DisplayName()), nil)
	}
	return ch, nil
}

// Sync runs one order or inventory sync for a channel while holding the
// channel's lock. A second concurrent run fails with ErrSyncInProgress.
func (s *Service) Sync(ctx context.Context, req Request) (Result, error) {
	if !req.Kind.Valid() {
		return Result{}, fail(ErrValidation, fmt.Sprintf("unknown sync kind %q", req.Kind), nil)
	}
	ch, err := s.channelFor(ctx, req.UserID, req.ChannelID, req.Marketplace)
	if err != nil {
		return Result{}, err
	}

	ttl := s.LockTTL
	if ttl <= 0 {
		ttl = redisx.TTLSyncLock
	}
	unlock, err := s.Locker.TryLock(ctx, fmt.Sprintf(redisx.KeySyncLock, ch.ID), ttl)
	if errors.Is(err, redisx.ErrLocked) {
		return Result{}, fail(ErrSyncInProgress, "a sync is already running for this channel", nil)
	}
	if err != nil {
		return Result{}, fail(ErrPersistenceFailed, "acquire channel lock", err)
	}
	defer func() {
		if err := unlock(context.WithoutCancel(ctx)); err != nil {
			s.log().Warn("release channel lock failed", zap.String("channel_id", ch.ID), zap.Error(err))
		}
	}()

	client, err := s.Clients.New(ch, func(ctx context.Context, creds json.RawMessage) error {
		return s.Store.UpdateChannelCredentials(ctx, ch.ID, creds)
	})
	if err != nil {
		return Result{}, s.clientError(err)
	}

	var res Result
	switch req.Kind {
	case KindOrders:
		src, ok := client.(marketplace.OrderSource)
		if !ok {
			return Result{}, fail(ErrInvalidChannelType, "marketplace does not expose orders", nil)
		}
		res, err = s.Engine.SyncOrders(ctx, ch, src)
	case KindInventory:
		src, ok := client.(marketplace.InventorySource)
		if !ok {
			return Result{}, fail(ErrInvalidChannelType, "marketplace does not expose inventory", nil)
		}
		res, err = s.Engine.SyncInventory(ctx, ch, src)
	}
	s.publishResult(ch, res, err)
	return res, err
}

func (s *Service) clientError(err error) error {
	switch {
	case errors.Is(err, marketplace.ErrCredentials):
		return fail(ErrValidation, "channel credentials are incomplete", err)
	case errors.Is(err, marketplace.ErrNotConfigured):
		return fail(ErrNotConfigured, "marketplace app is not configured", err)
	case errors.Is(err, marketplace.ErrUnsupported):
		return fail(ErrInvalidChannelType, "marketplace not supported", err)
	}
	return fail(ErrUpstreamRequestFailed, "", err)
}

func (s *Service) publishResult(ch *catalog.Channel, res Result, runErr error) {
	now := s.now()
	payload := SyncFinishedPayload{
		UserID:      ch.UserID,
		ChannelID:   ch.ID,
		Marketplace: string(ch.Type),
		Kind:        res.Kind,
		State:       res.State,
		Fetched:     res.Fetched,
		Reconciled:  res.Reconciled,
		Skipped:     res.Skipped,
		Failed:      res.Failed,
		Pages:       res.Pages,
		StartedAt:   res.StartedAt,
		FinishedAt:  res.FinishedAt,
	}
	eventType, topic := EventChannelSyncCompleted, TopicSyncCompleted
	if runErr != nil {
		eventType, topic = EventChannelSyncFailed, TopicSyncFailed
		payload.Reason = reason(runErr)
	}
	s.publish(topic, newEnvelope(eventType, s.Producer, ch.ID, now, payload))

	for _, o := range res.Imported {
		s.publish(TopicOrderImported, newEnvelope(EventOrderImported, s.Producer, ch.ID, now, OrderImportedPayload{
			OrderID:         o.ID,
			ChannelID:       ch.ID,
			UserID:          ch.UserID,
			ExternalOrderID: o.ExternalOrderID,
			Total:           o.TotalAmount.StringFixed(2),
		}))
	}
}

func (s *Service) publish(topic string, env Envelope) {
	s.events().Publish(topic, PartitionKey(env.CorrelationID), kafka.MustMarshal(env))
}

func reason(err error) string {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Kind.Error()
	}
	return "internal"
}

// Enqueue validates the request and hands it to the sync workers instead of
// running it inline. It returns the event id.
func (s *Service) Enqueue(ctx context.Context, req Request) (string, error) {
	if !req.Kind.Valid() {
		return "", fail(ErrValidation, fmt.Sprintf("unknown sync kind %q", req.Kind), nil)
	}
	ch, err := s.channelFor(ctx, req.UserID, req.ChannelID, req.Marketplace)
	if err != nil {
		return "", err
	}
	env := newEnvelope(EventChannelSyncRequested, s.Producer, ch.ID, s.now(), SyncRequestedPayload{
		UserID:      ch.UserID,
		ChannelID:   ch.ID,
		Marketplace: string(ch.Type),
		Kind:        req.Kind,
	})
	s.publish(TopicSyncRequested, env)
	return env.EventID, nil
}

// ConnectChannel stores an API-key channel (Amazon, Shopify, Walmart). The
// credential blob is validated and stored in canonical form.
func (s *Service) ConnectChannel(ctx context.Context, userID string, mp catalog.ChannelType, name string, creds json.RawMessage) (*catalog.Channel, bool, error) {
	if userID == "" {
		return nil, false, fail(ErrUnauthorized, "authentication required", nil)
	}
	if !mp.Valid() {
		return nil, false, fail(ErrInvalidChannelType, fmt.Sprintf("unknown marketplace %q", mp), nil)
	}
	if mp.UsesAuthorizationCode() {
		return nil, false, fail(ErrInvalidChannelType, mp.DisplayName()+" channels are connected through OAuth", nil)
	}
	typed, err := marketplace.DecodeCredentials(mp, creds)
	if err != nil {
		return nil, false, fail(ErrValidation, err.Error(), nil)
	}
	canonical, err := gojson.Marshal(typed)
	if err != nil {
		return nil, false, fail(ErrPersistenceFailed, "encode credentials", err)
	}
	if strings.TrimSpace(name) == "" {
		name = mp.DisplayName()
	}
	ch := &catalog.Channel{UserID: userID, Type: mp, Name: name, Connected: true, Credentials: canonical}
	created, err := s.Store.UpsertChannelByType(ctx, ch)
	if err != nil {
		return nil, false, fail(ErrPersistenceFailed, "store channel", err)
	}
	return ch, created, nil
}

// pendingAuth is what a state nonce stands for until the callback arrives.
type pendingAuth struct {
	UserID      string `json:"user_id"`
	Marketplace string `json:"marketplace"`
	CallerState string `json:"caller_state,omitempty"`
	Verifier    string `json:"verifier,omitempty"`
}

// BeginAuthorization issues a one-time state nonce and returns the
// marketplace consent URL.
func (s *Service) BeginAuthorization(ctx context.Context, userID string, mp catalog.ChannelType, callerState string) (string, error) {
	if userID == "" {
		return "", fail(ErrUnauthorized, "authentication required", nil)
	}
	if !mp.UsesAuthorizationCode() {
		return "", fail(ErrInvalidChannelType, fmt.Sprintf("%s does not use OAuth", mp), nil)
	}
	az, err := s.Clients.Authorizer(mp)
	if err != nil {
		return "", s.clientError(err)
	}
	nonce, err := newNonce()
	if err != nil {
		return "", fail(ErrPersistenceFailed, "generate state", err)
	}
	authURL, verifier := az.AuthorizeURL(nonce)
	raw, err := gojson.Marshal(pendingAuth{UserID: userID, Marketplace: string(mp), CallerState: callerState, Verifier: verifier})
	if err != nil {
		return "", fail(ErrPersistenceFailed, "encode state", err)
	}
	ttl := s.StateTTL
	if ttl <= 0 {
		ttl = redisx.TTLOAuthState
	}
	if err := s.States.Put(ctx, nonce, raw, ttl); err != nil {
		return "", fail(ErrPersistenceFailed, "store state", err)
	}
	return authURL, nil
}

type AuthResult struct {
	Channel     *catalog.Channel
	Created     bool
	CallerState string
}

// CompleteAuthorization consumes the state nonce, exchanges the code and
// upserts the user's single channel for mp. Reconnecting resets the channel's
// sync watermark.
func (s *Service) CompleteAuthorization(ctx context.Context, userID string, mp catalog.ChannelType, code, state string) (AuthResult, error) {
	if userID == "" {
		return AuthResult{}, fail(ErrUnauthorized, "authentication required", nil)
	}
	if !mp.UsesAuthorizationCode() {
		return AuthResult{}, fail(ErrInvalidChannelType, fmt.Sprintf("%s does not use OAuth", mp), nil)
	}
	if code == "" {
		return AuthResult{}, fail(ErrValidation, "code is required", nil)
	}
	if state == "" {
		return AuthResult{}, fail(ErrInvalidState, "state is required", nil)
	}
	// ownership is checked before the nonce is consumed, so a replay by
	// someone else leaves the owner's pending authorization intact
	raw, err := s.States.Peek(ctx, state)
	if err != nil {
		return AuthResult{}, stateError(err)
	}
	var pending pendingAuth
	if err := gojson.Unmarshal(raw, &pending); err != nil {
		return AuthResult{}, fail(ErrInvalidState, "", err)
	}
	if pending.UserID != userID || pending.Marketplace != string(mp) {
		return AuthResult{}, fail(ErrInvalidState, "", nil)
	}
	if _, err := s.States.Take(ctx, state); err != nil {
		// lost a race with a concurrent callback for the same nonce
		return AuthResult{}, stateError(err)
	}

	az, err := s.Clients.Authorizer(mp)
	if err != nil {
		return AuthResult{}, s.clientError(err)
	}
	tok, err := az.Exchange(ctx, code, pending.Verifier)
	if err != nil {
		return AuthResult{}, fail(ErrUpstreamRequestFailed, "exchange authorization code", err)
	}
	creds, err := gojson.Marshal(marketplace.NewOAuthCredentials(mp, az.Environment(), tok))
	if err != nil {
		return AuthResult{}, fail(ErrPersistenceFailed, "encode credentials", err)
	}
	ch := &catalog.Channel{
		UserID:      userID,
		Type:        mp,
		Name:        mp.DisplayName() + " Store",
		Connected:   true,
		Credentials: creds,
	}
	created, err := s.Store.UpsertChannelByType(ctx, ch)
	if err != nil {
		return AuthResult{}, fail(ErrPersistenceFailed, "store channel", err)
	}
	s.log().Info("channel authorized",
		zap.String("user_id", userID), zap.String("marketplace", string(mp)),
		zap.String("channel_id", ch.ID), zap.Bool("created", created))
	return AuthResult{Channel: ch, Created: created, CallerState: pending.CallerState}, nil
}

func stateError(err error) error {
	if errors.Is(err, redisx.ErrStateNotFound) {
		return fail(ErrInvalidState, "", nil)
	}
	return fail(ErrPersistenceFailed, "load state", err)
}

func newNonce() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
