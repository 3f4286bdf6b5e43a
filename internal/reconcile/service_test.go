package reconcile

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	gojson "github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/ariefcatur/go-channel-sync/internal/catalog"
	"github.com/ariefcatur/go-channel-sync/internal/marketplace"
	"github.com/ariefcatur/go-channel-sync/internal/redisx"
)

type fakeClient struct {
	mp        catalog.ChannelType
	orders    *orderPages
	inventory *inventoryPages
	// block, when set, holds FetchInventory until closed
	block   chan struct{}
	started chan struct{}
	sink    marketplace.CredentialSink
}

func (c *fakeClient) Marketplace() catalog.ChannelType { return c.mp }

func (c *fakeClient) Authenticate(context.Context) (*oauth2.Token, error) {
	return &oauth2.Token{AccessToken: "tok"}, nil
}

func (c *fakeClient) Request(context.Context, string, string, url.Values, any, any) error {
	return nil
}

func (c *fakeClient) FetchOrders(ctx context.Context, cursor string, n int) (marketplace.Page[marketplace.RemoteOrder], error) {
	return c.orders.FetchOrders(ctx, cursor, n)
}

func (c *fakeClient) FetchInventory(ctx context.Context, cursor string, n int) (marketplace.Page[marketplace.RemoteInventory], error) {
	if c.block != nil {
		close(c.started)
		<-c.block
	}
	if c.sink != nil {
		if err := c.sink(ctx, json.RawMessage(`{"provider":"etsy","access_token":"rotated"}`)); err != nil {
			return marketplace.Page[marketplace.RemoteInventory]{}, err
		}
	}
	return c.inventory.FetchInventory(ctx, cursor, n)
}

type fakeAuthorizer struct {
	mp       catalog.ChannelType
	pkce     bool
	gotCode  string
	gotVerif string
	err      error
}

func (a *fakeAuthorizer) Marketplace() catalog.ChannelType { return a.mp }

func (a *fakeAuthorizer) AuthorizeURL(state string) (string, string) {
	verifier := ""
	if a.pkce {
		verifier = "verifier-" + state[:4]
	}
	return "https://auth.example.test/authorize?state=" + url.QueryEscape(state), verifier
}

func (a *fakeAuthorizer) Exchange(_ context.Context, code, verifier string) (*oauth2.Token, error) {
	a.gotCode, a.gotVerif = code, verifier
	if a.err != nil {
		return nil, a.err
	}
	return &oauth2.Token{AccessToken: "at-" + code, RefreshToken: "rt-" + code, TokenType: "Bearer", Expiry: time.Now().Add(time.Hour)}, nil
}

func (a *fakeAuthorizer) Environment() string { return marketplace.EnvSandbox }

type fakeClients struct {
	client     *fakeClient
	newErr     error
	authorizer *fakeAuthorizer
	authErr    error
}

func (f *fakeClients) New(ch *catalog.Channel, sink marketplace.CredentialSink) (marketplace.Client, error) {
	if f.newErr != nil {
		return nil, f.newErr
	}
	f.client.mp = ch.Type
	if f.client.sink == nil && ch.Type.UsesAuthorizationCode() {
		f.client.sink = sink
	}
	return f.client, nil
}

func (f *fakeClients) Authorizer(mp catalog.ChannelType) (marketplace.Authorizer, error) {
	if f.authErr != nil {
		return nil, f.authErr
	}
	f.authorizer.mp = mp
	return f.authorizer, nil
}

type sent struct {
	topic string
	key   string
	env   Envelope
}

type recorder struct {
	mu   sync.Mutex
	msgs []sent
}

func (r *recorder) Publish(topic string, key, value []byte, _ ...kafka.Header) {
	var env Envelope
	_ = gojson.Unmarshal(value, &env)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, sent{topic: topic, key: string(key), env: env})
}

func (r *recorder) topics() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.msgs))
	for _, m := range r.msgs {
		out = append(out, m.topic)
	}
	return out
}

type fixture struct {
	store   *catalog.MemStore
	clients *fakeClients
	events  *recorder
	svc     *Service
}

func newFixture() *fixture {
	store := catalog.NewMemStore()
	f := &fixture{
		store: store,
		clients: &fakeClients{
			client: &fakeClient{
				orders:    singleOrders(remoteOrder("5001", item("A1", 1))),
				inventory: singleInventory(marketplace.RemoteInventory{SKU: "A1", Quantity: 5}),
			},
			authorizer: &fakeAuthorizer{},
		},
		events: &recorder{},
	}
	f.svc = &Service{
		Store:    store,
		Engine:   newEngine(store, PolicyCreate),
		Clients:  f.clients,
		Locker:   redisx.NewMemoryLocker(),
		States:   redisx.NewMemoryStateStore(),
		Events:   f.events,
		Producer: "channel-sync",
		Now:      func() time.Time { return fixedNow },
	}
	return f
}

func TestService_SyncInventoryScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	ch := newChannel(t, f.store, catalog.ChannelShopify)

	res, err := f.svc.Sync(ctx, Request{UserID: testUser, ChannelID: ch.ID, Marketplace: catalog.ChannelShopify, Kind: KindInventory})
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, res.State)
	assert.Equal(t, 1, res.Reconciled)

	recs, _ := f.store.ListInventory(ctx, testUser)
	require.Len(t, recs, 1)
	assert.Equal(t, 5, recs[0].Quantity)

	require.Equal(t, []string{TopicSyncCompleted}, f.events.topics())
	msg := f.events.msgs[0]
	assert.Equal(t, ch.ID, msg.key)
	assert.Equal(t, EventChannelSyncCompleted, msg.env.EventType)
	var payload SyncFinishedPayload
	require.NoError(t, gojson.Unmarshal(msg.env.Payload, &payload))
	assert.Equal(t, 1, payload.Reconciled)
	assert.Equal(t, StateCompleted, payload.State)
}

func TestService_SyncOrdersPublishesImports(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	ch := newChannel(t, f.store, catalog.ChannelWalmart)

	_, err := f.svc.Sync(ctx, Request{UserID: testUser, ChannelID: ch.ID, Marketplace: catalog.ChannelWalmart, Kind: KindOrders})
	require.NoError(t, err)
	assert.Equal(t, []string{TopicSyncCompleted, TopicOrderImported}, f.events.topics())

	var payload OrderImportedPayload
	require.NoError(t, gojson.Unmarshal(f.events.msgs[1].env.Payload, &payload))
	assert.Equal(t, "5001", payload.ExternalOrderID)
	assert.Equal(t, "20.00", payload.Total)
	assert.NotEmpty(t, payload.OrderID)
}

func TestService_SyncFailurePublishesFailed(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.clients.client.inventory = &inventoryPages{failOn: map[string]error{"": &marketplace.UpstreamError{Marketplace: "Walmart", Status: 500}}}
	ch := newChannel(t, f.store, catalog.ChannelWalmart)

	_, err := f.svc.Sync(ctx, Request{UserID: testUser, ChannelID: ch.ID, Marketplace: catalog.ChannelWalmart, Kind: KindInventory})
	require.ErrorIs(t, err, ErrUpstreamRequestFailed)

	require.Equal(t, []string{TopicSyncFailed}, f.events.topics())
	var payload SyncFinishedPayload
	require.NoError(t, gojson.Unmarshal(f.events.msgs[0].env.Payload, &payload))
	assert.Equal(t, StateFailed, payload.State)
	assert.Equal(t, ErrUpstreamRequestFailed.Error(), payload.Reason)
}

func TestService_ChannelChecks(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	ch := newChannel(t, f.store, catalog.ChannelShopify)

	cases := []struct {
		name string
		req  Request
		want error
	}{
		{"no user", Request{ChannelID: ch.ID, Marketplace: catalog.ChannelShopify, Kind: KindOrders}, ErrUnauthorized},
		{"bad marketplace", Request{UserID: testUser, ChannelID: ch.ID, Marketplace: "tiktok", Kind: KindOrders}, ErrInvalidChannelType},
		{"no channel id", Request{UserID: testUser, Marketplace: catalog.ChannelShopify, Kind: KindOrders}, ErrValidation},
		{"unknown channel", Request{UserID: testUser, ChannelID: "nope", Marketplace: catalog.ChannelShopify, Kind: KindOrders}, ErrChannelNotFound},
		{"other user", Request{UserID: "someone-else", ChannelID: ch.ID, Marketplace: catalog.ChannelShopify, Kind: KindOrders}, ErrChannelNotFound},
		{"type mismatch", Request{UserID: testUser, ChannelID: ch.ID, Marketplace: catalog.ChannelAmazon, Kind: KindOrders}, ErrInvalidChannelType},
		{"bad kind", Request{UserID: testUser, ChannelID: ch.ID, Marketplace: catalog.ChannelShopify, Kind: "products"}, ErrValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Sync(ctx, tc.req)
			require.ErrorIs(t, err, tc.want)
			var se *SyncError
			require.ErrorAs(t, err, &se)
		})
	}
	assert.Empty(t, f.events.topics())
}

func TestService_ClientErrors(t *testing.T) {
	ctx := context.Background()
	for _, tc := range []struct {
		err  error
		want error
	}{
		{marketplace.ErrCredentials, ErrValidation},
		{marketplace.ErrNotConfigured, ErrNotConfigured},
		{marketplace.ErrUnsupported, ErrInvalidChannelType},
		{&marketplace.AuthError{Marketplace: "Amazon", Err: &marketplace.UpstreamError{Status: 401}}, ErrUpstreamRequestFailed},
	} {
		f := newFixture()
		f.clients.newErr = tc.err
		ch := newChannel(t, f.store, catalog.ChannelAmazon)
		_, err := f.svc.Sync(ctx, Request{UserID: testUser, ChannelID: ch.ID, Marketplace: catalog.ChannelAmazon, Kind: KindOrders})
		assert.ErrorIs(t, err, tc.want, tc.err.Error())
	}
}

func TestService_ConcurrentSyncIsRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.clients.client.block = make(chan struct{})
	f.clients.client.started = make(chan struct{})
	ch := newChannel(t, f.store, catalog.ChannelShopify)
	req := Request{UserID: testUser, ChannelID: ch.ID, Marketplace: catalog.ChannelShopify, Kind: KindInventory}

	done := make(chan error, 1)
	go func() {
		_, err := f.svc.Sync(ctx, req)
		done <- err
	}()
	<-f.clients.client.started

	_, err := f.svc.Sync(ctx, req)
	require.ErrorIs(t, err, ErrSyncInProgress)

	close(f.clients.client.block)
	require.NoError(t, <-done)

	// lock is released once the first run returns
	f.clients.client.block = nil
	_, err = f.svc.Sync(ctx, req)
	require.NoError(t, err)
}

func TestService_RefreshedCredentialsArePersisted(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	ch := newChannel(t, f.store, catalog.ChannelEtsy)

	_, err := f.svc.Sync(ctx, Request{UserID: testUser, ChannelID: ch.ID, Marketplace: catalog.ChannelEtsy, Kind: KindInventory})
	require.NoError(t, err)

	got, err := f.store.GetChannel(ctx, testUser, ch.ID)
	require.NoError(t, err)
	assert.Contains(t, string(got.Credentials), "rotated")
}

func TestService_Enqueue(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	ch := newChannel(t, f.store, catalog.ChannelAmazon)

	id, err := f.svc.Enqueue(ctx, Request{UserID: testUser, ChannelID: ch.ID, Marketplace: catalog.ChannelAmazon, Kind: KindOrders})
	require.NoError(t, err)
	require.Len(t, f.events.msgs, 1)
	msg := f.events.msgs[0]
	assert.Equal(t, TopicSyncRequested, msg.topic)
	assert.Equal(t, id, msg.env.EventID)
	assert.Equal(t, ch.ID, msg.key)

	var payload SyncRequestedPayload
	require.NoError(t, gojson.Unmarshal(msg.env.Payload, &payload))
	assert.Equal(t, KindOrders, payload.Kind)
	assert.Equal(t, "amazon", payload.Marketplace)

	_, err = f.svc.Enqueue(ctx, Request{UserID: testUser, ChannelID: "missing", Marketplace: catalog.ChannelAmazon, Kind: KindOrders})
	assert.ErrorIs(t, err, ErrChannelNotFound)
}

func TestService_ConnectChannel(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	ch, created, err := f.svc.ConnectChannel(ctx, testUser, catalog.ChannelShopify, "", json.RawMessage(`{"shopDomain":"https://demo.myshopify.com/","accessToken":"shpat_1"}`))
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "Shopify", ch.Name)
	assert.Contains(t, string(ch.Credentials), "shpat_1")

	again, created, err := f.svc.ConnectChannel(ctx, testUser, catalog.ChannelShopify, "Main shop", json.RawMessage(`{"shop_domain":"demo.myshopify.com","access_token":"shpat_2"}`))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, ch.ID, again.ID)

	_, _, err = f.svc.ConnectChannel(ctx, testUser, catalog.ChannelShopify, "", json.RawMessage(`{"shop_domain":"demo.myshopify.com"}`))
	assert.ErrorIs(t, err, ErrValidation)

	_, _, err = f.svc.ConnectChannel(ctx, testUser, catalog.ChannelEbay, "", json.RawMessage(`{}`))
	assert.ErrorIs(t, err, ErrInvalidChannelType)

	_, _, err = f.svc.ConnectChannel(ctx, "", catalog.ChannelShopify, "", nil)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func stateFrom(t *testing.T, authURL string) string {
	t.Helper()
	u, err := url.Parse(authURL)
	require.NoError(t, err)
	st := u.Query().Get("state")
	require.NotEmpty(t, st)
	return st
}

func TestService_AuthorizationFlow(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.clients.authorizer.pkce = true

	authURL, err := f.svc.BeginAuthorization(ctx, testUser, catalog.ChannelEtsy, "return-to-dashboard")
	require.NoError(t, err)
	state := stateFrom(t, authURL)
	assert.GreaterOrEqual(t, len(state), 43, "32 random bytes, base64url")

	res, err := f.svc.CompleteAuthorization(ctx, testUser, catalog.ChannelEtsy, "c1", state)
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Equal(t, "return-to-dashboard", res.CallerState)
	assert.Equal(t, "Etsy Store", res.Channel.Name)
	assert.Equal(t, "verifier-"+state[:4], f.clients.authorizer.gotVerif)

	var creds marketplace.OAuthCredentials
	require.NoError(t, gojson.Unmarshal(res.Channel.Credentials, &creds))
	assert.Equal(t, "at-c1", creds.AccessToken)
	assert.Equal(t, "rt-c1", creds.RefreshToken)
	assert.Equal(t, marketplace.EnvSandbox, creds.Environment)

	// state is single use
	_, err = f.svc.CompleteAuthorization(ctx, testUser, catalog.ChannelEtsy, "c1", state)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestService_ReauthorizeResetsWatermark(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	authURL, err := f.svc.BeginAuthorization(ctx, testUser, catalog.ChannelEbay, "")
	require.NoError(t, err)
	first, err := f.svc.CompleteAuthorization(ctx, testUser, catalog.ChannelEbay, "c1", stateFrom(t, authURL))
	require.NoError(t, err)
	require.NoError(t, f.store.TouchLastSync(ctx, first.Channel.ID, fixedNow))

	authURL, err = f.svc.BeginAuthorization(ctx, testUser, catalog.ChannelEbay, "")
	require.NoError(t, err)
	second, err := f.svc.CompleteAuthorization(ctx, testUser, catalog.ChannelEbay, "c2", stateFrom(t, authURL))
	require.NoError(t, err)
	assert.False(t, second.Created)
	assert.Equal(t, first.Channel.ID, second.Channel.ID)

	got, err := f.store.GetChannel(ctx, testUser, first.Channel.ID)
	require.NoError(t, err)
	assert.Nil(t, got.LastSyncAt)
	assert.Contains(t, string(got.Credentials), "at-c2")

	all, _ := f.store.ListChannels(ctx, testUser)
	assert.Len(t, all, 1)
}

func TestService_AuthorizationStateMismatch(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown state", func(t *testing.T) {
		f := newFixture()
		_, err := f.svc.CompleteAuthorization(ctx, testUser, catalog.ChannelEbay, "c1", "forged")
		assert.ErrorIs(t, err, ErrInvalidState)
	})
	t.Run("other user", func(t *testing.T) {
		f := newFixture()
		authURL, err := f.svc.BeginAuthorization(ctx, testUser, catalog.ChannelEbay, "")
		require.NoError(t, err)
		state := stateFrom(t, authURL)
		_, err = f.svc.CompleteAuthorization(ctx, "intruder", catalog.ChannelEbay, "c1", state)
		assert.ErrorIs(t, err, ErrInvalidState)

		// the owner's pending authorization survives the replay
		res, err := f.svc.CompleteAuthorization(ctx, testUser, catalog.ChannelEbay, "c1", state)
		require.NoError(t, err)
		assert.True(t, res.Created)
	})
	t.Run("other marketplace", func(t *testing.T) {
		f := newFixture()
		authURL, err := f.svc.BeginAuthorization(ctx, testUser, catalog.ChannelEbay, "")
		require.NoError(t, err)
		state := stateFrom(t, authURL)
		_, err = f.svc.CompleteAuthorization(ctx, testUser, catalog.ChannelEtsy, "c1", state)
		assert.ErrorIs(t, err, ErrInvalidState)

		_, err = f.svc.CompleteAuthorization(ctx, testUser, catalog.ChannelEbay, "c1", state)
		assert.NoError(t, err)
	})
	t.Run("missing code", func(t *testing.T) {
		f := newFixture()
		_, err := f.svc.CompleteAuthorization(ctx, testUser, catalog.ChannelEbay, "", "s")
		assert.ErrorIs(t, err, ErrValidation)
	})
}

func TestService_AuthorizationErrors(t *testing.T) {
	ctx := context.Background()

	f := newFixture()
	_, err := f.svc.BeginAuthorization(ctx, testUser, catalog.ChannelShopify, "")
	assert.ErrorIs(t, err, ErrInvalidChannelType)

	f.clients.authErr = marketplace.ErrNotConfigured
	_, err = f.svc.BeginAuthorization(ctx, testUser, catalog.ChannelEbay, "")
	assert.ErrorIs(t, err, ErrNotConfigured)

	f = newFixture()
	f.clients.authorizer.err = &marketplace.AuthError{Marketplace: "eBay", Err: &marketplace.UpstreamError{Marketplace: "eBay", Status: 400, Body: "invalid_grant"}}
	authURL, err := f.svc.BeginAuthorization(ctx, testUser, catalog.ChannelEbay, "")
	require.NoError(t, err)
	_, err = f.svc.CompleteAuthorization(ctx, testUser, catalog.ChannelEbay, "bad", stateFrom(t, authURL))
	require.ErrorIs(t, err, ErrUpstreamRequestFailed)
	var se *SyncError
	require.ErrorAs(t, err, &se)
	assert.False(t, strings.Contains(se.Public(), "invalid_grant"))
	all, _ := f.store.ListChannels(ctx, testUser)
	assert.Empty(t, all)
}
