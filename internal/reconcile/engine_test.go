package reconcile

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-channel-sync/internal/catalog"
	"github.com/ariefcatur/go-channel-sync/internal/marketplace"
)

const testUser = "7b0e4c2a-5f1d-4f7e-9a59-0c8f7c6f1a01"

var fixedNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

// orderPages serves pages keyed by cursor; "" is the first page.
type orderPages struct {
	pages  map[string]marketplace.Page[marketplace.RemoteOrder]
	failOn map[string]error
	calls  []string
}

func (s *orderPages) FetchOrders(_ context.Context, cursor string, _ int) (marketplace.Page[marketplace.RemoteOrder], error) {
	s.calls = append(s.calls, cursor)
	if err := s.failOn[cursor]; err != nil {
		return marketplace.Page[marketplace.RemoteOrder]{}, err
	}
	return s.pages[cursor], nil
}

// lazyOrders also loads items per order, like Amazon.
type lazyOrders struct {
	orderPages
	items  map[string][]marketplace.RemoteOrderItem
	loaded []string
}

func (s *lazyOrders) LoadOrderItems(_ context.Context, id string) ([]marketplace.RemoteOrderItem, error) {
	s.loaded = append(s.loaded, id)
	return s.items[id], nil
}

type inventoryPages struct {
	pages  map[string]marketplace.Page[marketplace.RemoteInventory]
	failOn map[string]error
}

func (s *inventoryPages) FetchInventory(_ context.Context, cursor string, _ int) (marketplace.Page[marketplace.RemoteInventory], error) {
	if err := s.failOn[cursor]; err != nil {
		return marketplace.Page[marketplace.RemoteInventory]{}, err
	}
	return s.pages[cursor], nil
}

func singleInventory(items ...marketplace.RemoteInventory) *inventoryPages {
	return &inventoryPages{pages: map[string]marketplace.Page[marketplace.RemoteInventory]{"": {Items: items}}}
}

func singleOrders(items ...marketplace.RemoteOrder) *orderPages {
	return &orderPages{pages: map[string]marketplace.Page[marketplace.RemoteOrder]{"": {Items: items}}}
}

func newEngine(store catalog.Store, policy Policy) *Engine {
	return &Engine{Store: store, Policy: policy, PageSize: 50, MaxPages: 5, Now: func() time.Time { return fixedNow }, Log: zap.NewNop()}
}

func newChannel(t *testing.T, store *catalog.MemStore, typ catalog.ChannelType) *catalog.Channel {
	t.Helper()
	ch := &catalog.Channel{UserID: testUser, Type: typ, Name: typ.DisplayName(), Connected: true, Credentials: []byte(`{}`)}
	require.NoError(t, store.CreateChannel(context.Background(), ch))
	return ch
}

func remoteOrder(id string, items ...marketplace.RemoteOrderItem) marketplace.RemoteOrder {
	return marketplace.RemoteOrder{
		ExternalID:    id,
		OrderNumber:   id,
		CustomerName:  "Jane Buyer",
		Status:        catalog.OrderProcessing,
		PaymentStatus: catalog.PaymentPaid,
		Total:         decimal.RequireFromString("20.00"),
		OrderDate:     fixedNow.Add(-time.Hour),
		Items:         items,
	}
}

func item(sku string, qty int) marketplace.RemoteOrderItem {
	return marketplace.RemoteOrderItem{SKU: sku, Title: "Item " + sku, Quantity: qty, UnitPrice: decimal.NewFromInt(5), TotalPrice: decimal.NewFromInt(int64(5 * qty))}
}

func TestSyncOrders_Idempotent(t *testing.T) {
	ctx := context.Background()
	store := catalog.NewMemStore()
	ch := newChannel(t, store, catalog.ChannelShopify)
	e := newEngine(store, PolicyCreate)
	src := singleOrders(remoteOrder("1001", item("A1", 1)), remoteOrder("1002", item("B2", 2)))

	res, err := e.SyncOrders(ctx, ch, src)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, res.State)
	assert.Equal(t, 2, res.Reconciled)
	assert.Len(t, res.Imported, 2)

	res, err = e.SyncOrders(ctx, ch, src)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Reconciled)
	assert.Equal(t, 2, res.Skipped)
	assert.Empty(t, res.Imported)

	orders, err := store.ListOrders(ctx, testUser, ch.ID)
	require.NoError(t, err)
	assert.Len(t, orders, 2)
}

func TestSyncOrders_ExistingOrderIsNotReprocessed(t *testing.T) {
	ctx := context.Background()
	store := catalog.NewMemStore()
	ch := newChannel(t, store, catalog.ChannelShopify)
	e := newEngine(store, PolicyCreate)

	_, err := e.SyncOrders(ctx, ch, singleOrders(remoteOrder("1003-7729", item("A1", 1), item("B2", 1))))
	require.NoError(t, err)

	changed := remoteOrder("1003-7729", item("A1", 1), item("B2", 1), item("C3", 4))
	changed.Status = catalog.OrderShipped
	res, err := e.SyncOrders(ctx, ch, singleOrders(changed))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Skipped)

	orders, err := store.ListOrders(ctx, testUser, ch.ID)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, "1003-7729", orders[0].ExternalOrderID)
	assert.Equal(t, catalog.OrderProcessing, orders[0].Status, "imported orders are not merged")
	n, err := store.CountOrderItems(ctx, orders[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestSyncOrders_SameExternalIDOnOtherChannel(t *testing.T) {
	ctx := context.Background()
	store := catalog.NewMemStore()
	e := newEngine(store, PolicyCreate)
	a := newChannel(t, store, catalog.ChannelShopify)
	b := newChannel(t, store, catalog.ChannelEtsy)

	for _, ch := range []*catalog.Channel{a, b} {
		res, err := e.SyncOrders(ctx, ch, singleOrders(remoteOrder("42")))
		require.NoError(t, err)
		assert.Equal(t, 1, res.Reconciled)
	}
	orders, err := store.ListOrders(ctx, testUser, "")
	require.NoError(t, err)
	assert.Len(t, orders, 2)
}

func TestSyncInventory_LastWriteWins(t *testing.T) {
	ctx := context.Background()
	store := catalog.NewMemStore()
	ch := newChannel(t, store, catalog.ChannelEbay)
	e := newEngine(store, PolicyCreate)

	_, err := e.SyncInventory(ctx, ch, singleInventory(marketplace.RemoteInventory{SKU: "A1", Quantity: 5}))
	require.NoError(t, err)
	_, err = e.SyncInventory(ctx, ch, singleInventory(marketplace.RemoteInventory{SKU: "A1", Quantity: 2}))
	require.NoError(t, err)

	recs, err := store.ListInventory(ctx, testUser)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, 2, recs[0].Quantity)
	assert.Equal(t, "ebay", recs[0].WarehouseLocation)
}

func TestSyncInventory_UnknownSKUCreatesProduct(t *testing.T) {
	ctx := context.Background()
	store := catalog.NewMemStore()
	ch := newChannel(t, store, catalog.ChannelShopify)
	require.Nil(t, ch.LastSyncAt)
	e := newEngine(store, PolicyCreate)

	res, err := e.SyncInventory(ctx, ch, singleInventory(marketplace.RemoteInventory{SKU: "A1", Quantity: 5}))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Reconciled)

	products, err := store.ListProducts(ctx, testUser)
	require.NoError(t, err)
	require.Len(t, products, 1)
	assert.Equal(t, "A1", products[0].SKU)

	recs, err := store.ListInventory(ctx, testUser)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, products[0].ID, recs[0].ProductID)
	assert.Equal(t, "shopify", recs[0].WarehouseLocation)
	assert.Equal(t, 5, recs[0].Quantity)
	assert.Equal(t, 5, recs[0].AvailableQuantity)

	got, err := store.GetChannel(ctx, testUser, ch.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastSyncAt)
	assert.True(t, got.LastSyncAt.Equal(fixedNow))
}

func TestSyncInventory_UnknownSKUSkipped(t *testing.T) {
	ctx := context.Background()
	store := catalog.NewMemStore()
	ch := newChannel(t, store, catalog.ChannelWalmart)
	e := newEngine(store, PolicySkip)

	res, err := e.SyncInventory(ctx, ch, singleInventory(marketplace.RemoteInventory{SKU: "A1", Quantity: 5}))
	require.NoError(t, err)
	assert.Equal(t, 0, res.Reconciled)
	assert.Equal(t, 1, res.Skipped)

	products, _ := store.ListProducts(ctx, testUser)
	assert.Empty(t, products)
	recs, _ := store.ListInventory(ctx, testUser)
	assert.Empty(t, recs)
}

func TestSyncInventory_PolicyIsUniformAcrossMarketplaces(t *testing.T) {
	for _, typ := range catalog.ChannelTypes {
		t.Run(string(typ), func(t *testing.T) {
			ctx := context.Background()
			store := catalog.NewMemStore()
			ch := newChannel(t, store, typ)
			_, err := newEngine(store, PolicyCreate).SyncInventory(ctx, ch, singleInventory(marketplace.RemoteInventory{SKU: "X9", Quantity: 1}))
			require.NoError(t, err)
			products, _ := store.ListProducts(ctx, testUser)
			assert.Len(t, products, 1)
			recs, _ := store.ListInventory(ctx, testUser)
			require.Len(t, recs, 1)
			assert.Equal(t, string(typ), recs[0].WarehouseLocation)
		})
	}
}

func TestSync_FetchFailureKeepsWatermark(t *testing.T) {
	ctx := context.Background()
	store := catalog.NewMemStore()
	ch := newChannel(t, store, catalog.ChannelAmazon)
	prev := fixedNow.Add(-24 * time.Hour)
	require.NoError(t, store.TouchLastSync(ctx, ch.ID, prev))
	e := newEngine(store, PolicyCreate)

	upstream := &marketplace.UpstreamError{Marketplace: "Amazon", Status: 503, Body: "unavailable"}
	res, err := e.SyncInventory(ctx, ch, &inventoryPages{failOn: map[string]error{"": upstream}})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUpstreamRequestFailed)
	assert.ErrorIs(t, err, marketplace.ErrUpstream)
	assert.Equal(t, StateFailed, res.State)

	got, err := store.GetChannel(ctx, testUser, ch.ID)
	require.NoError(t, err)
	assert.True(t, got.LastSyncAt.Equal(prev))
}

func TestSync_LaterPageFailureIsFatal(t *testing.T) {
	ctx := context.Background()
	store := catalog.NewMemStore()
	ch := newChannel(t, store, catalog.ChannelShopify)
	e := newEngine(store, PolicyCreate)

	src := &orderPages{
		pages: map[string]marketplace.Page[marketplace.RemoteOrder]{
			"": {Items: []marketplace.RemoteOrder{remoteOrder("1")}, Next: "p2"},
		},
		failOn: map[string]error{"p2": errors.New("connection reset")},
	}
	res, err := e.SyncOrders(ctx, ch, src)
	require.Error(t, err)
	assert.Equal(t, StateFailed, res.State)
	assert.Equal(t, 1, res.Reconciled, "earlier pages stay reconciled")

	got, _ := store.GetChannel(ctx, testUser, ch.ID)
	assert.Nil(t, got.LastSyncAt)
}

func TestSync_FollowsCursorUpToMaxPages(t *testing.T) {
	ctx := context.Background()
	store := catalog.NewMemStore()
	ch := newChannel(t, store, catalog.ChannelWalmart)
	e := newEngine(store, PolicyCreate)
	e.MaxPages = 3

	pages := map[string]marketplace.Page[marketplace.RemoteOrder]{}
	cursor := ""
	for i := 0; i < 10; i++ {
		next := "c" + strconv.Itoa(i+1)
		pages[cursor] = marketplace.Page[marketplace.RemoteOrder]{Items: []marketplace.RemoteOrder{remoteOrder("o" + strconv.Itoa(i))}, Next: next}
		cursor = next
	}
	src := &orderPages{pages: pages}

	res, err := e.SyncOrders(ctx, ch, src)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Pages)
	assert.Equal(t, 3, res.Reconciled)
	assert.Equal(t, []string{"", "c1", "c2"}, src.calls)
}

func TestSyncOrders_LoadsItemsOnlyForNewOrders(t *testing.T) {
	ctx := context.Background()
	store := catalog.NewMemStore()
	ch := newChannel(t, store, catalog.ChannelAmazon)
	e := newEngine(store, PolicyCreate)

	known := remoteOrder("111-1")
	_, err := e.SyncOrders(ctx, ch, singleOrders(known))
	require.NoError(t, err)

	fresh := remoteOrder("111-2")
	fresh.ItemsDeferred = true
	known.ItemsDeferred = true
	src := &lazyOrders{
		orderPages: *singleOrders(known, fresh),
		items:      map[string][]marketplace.RemoteOrderItem{"111-2": {item("AMZ-1", 3)}},
	}
	res, err := e.SyncOrders(ctx, ch, src)
	require.NoError(t, err)
	assert.Equal(t, []string{"111-2"}, src.loaded)
	require.Len(t, res.Imported, 1)
	n, err := store.CountOrderItems(ctx, res.Imported[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

// failingStore rejects CreateOrder for one external id.
type failingStore struct {
	*catalog.MemStore
	badID string
}

func (s failingStore) CreateOrder(ctx context.Context, o *catalog.Order, items []catalog.OrderItem) (bool, error) {
	if o.ExternalOrderID == s.badID {
		return false, errors.New("disk full")
	}
	return s.MemStore.CreateOrder(ctx, o, items)
}

func TestSyncOrders_ItemFailureDoesNotAbortRun(t *testing.T) {
	ctx := context.Background()
	mem := catalog.NewMemStore()
	ch := newChannel(t, mem, catalog.ChannelEtsy)
	e := newEngine(failingStore{MemStore: mem, badID: "2"}, PolicyCreate)

	res, err := e.SyncOrders(ctx, ch, singleOrders(remoteOrder("1"), remoteOrder("2"), remoteOrder(""), remoteOrder("3")))
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, res.State)
	assert.Equal(t, 2, res.Reconciled)
	assert.Equal(t, 2, res.Failed)

	got, _ := mem.GetChannel(ctx, testUser, ch.ID)
	assert.NotNil(t, got.LastSyncAt, "per-item failures still advance the watermark")
}

func TestSyncOrders_UnknownSKUUnderSkipKeepsItem(t *testing.T) {
	ctx := context.Background()
	store := catalog.NewMemStore()
	ch := newChannel(t, store, catalog.ChannelEbay)
	e := newEngine(store, PolicySkip)

	res, err := e.SyncOrders(ctx, ch, singleOrders(remoteOrder("9", item("NOPE", 1))))
	require.NoError(t, err)
	require.Len(t, res.Imported, 1)

	items := store.OrderItems(res.Imported[0].ID)
	require.Len(t, items, 1)
	assert.Nil(t, items[0].ProductID)
	assert.Equal(t, "NOPE", items[0].SKU)
	products, _ := store.ListProducts(ctx, testUser)
	assert.Empty(t, products)
}

func TestPlaceholderTitleIsReplaced(t *testing.T) {
	ctx := context.Background()
	store := catalog.NewMemStore()
	ch := newChannel(t, store, catalog.ChannelShopify)
	e := newEngine(store, PolicyCreate)

	_, err := e.SyncInventory(ctx, ch, singleInventory(marketplace.RemoteInventory{SKU: "A1", Quantity: 1}))
	require.NoError(t, err)
	p, err := store.FindProductBySKU(ctx, testUser, "A1")
	require.NoError(t, err)
	assert.Equal(t, "A1", p.Title)

	it := item("A1", 1)
	it.Title = "Ceramic Mug"
	_, err = e.SyncOrders(ctx, ch, singleOrders(remoteOrder("77", it)))
	require.NoError(t, err)

	p, err = store.FindProductBySKU(ctx, testUser, "A1")
	require.NoError(t, err)
	assert.Equal(t, "Ceramic Mug", p.Title)
}

func TestParsePolicy(t *testing.T) {
	assert.Equal(t, PolicySkip, ParsePolicy(" SKIP "))
	assert.Equal(t, PolicyCreate, ParsePolicy("create"))
	assert.Equal(t, PolicyCreate, ParsePolicy(""))
}
