//go:build integration

package catalog_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/ariefcatur/go-channel-sync/internal/catalog"
	"github.com/ariefcatur/go-channel-sync/internal/postgres"
)

func newRepo(t *testing.T) *catalog.Repo {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("channelsync_test"),
		tcpostgres.WithUsername("postgres"),
		tcpostgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := postgres.Connect(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, postgres.Migrate(ctx, pool))
	// twice: the schema must be re-runnable
	require.NoError(t, postgres.Migrate(ctx, pool))

	return &catalog.Repo{DB: pool}
}

func TestRepo_OrdersAndInventory(t *testing.T) {
	ctx := context.Background()
	r := newRepo(t)

	ch := &catalog.Channel{UserID: "u1", Type: catalog.ChannelShopify, Name: "Shopify", Connected: true}
	require.NoError(t, r.CreateChannel(ctx, ch))

	p, created, err := r.EnsureProduct(ctx, &catalog.Product{UserID: "u1", SKU: "A1", Title: "A1"})
	require.NoError(t, err)
	assert.True(t, created)
	_, created, err = r.EnsureProduct(ctx, &catalog.Product{UserID: "u1", SKU: "A1", Title: "A1"})
	require.NoError(t, err)
	assert.False(t, created)

	pid := p.ID
	o := &catalog.Order{
		UserID: "u1", ChannelID: ch.ID, ExternalOrderID: "1003-7729", OrderNumber: "1003-7729",
		CustomerName: "Jane Roe", ShippingAddress: catalog.Address{City: "Austin", Country: "US"},
		Status: catalog.OrderShipped, PaymentStatus: catalog.PaymentPaid,
		TotalAmount: decimal.RequireFromString("42.50"), TaxAmount: decimal.RequireFromString("2.50"),
		ShippingAmount: decimal.NewFromInt(5), OrderDate: time.Now().UTC(),
	}
	items := []catalog.OrderItem{{ProductID: &pid, SKU: "A1", ProductName: "Widget", Quantity: 2,
		UnitPrice: decimal.NewFromInt(10), TotalPrice: decimal.NewFromInt(20)}}
	created, err = r.CreateOrder(ctx, o, items)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = r.CreateOrder(ctx, &catalog.Order{UserID: "u1", ChannelID: ch.ID, ExternalOrderID: "1003-7729",
		OrderNumber: "x", Status: catalog.OrderPending, PaymentStatus: catalog.PaymentPending, OrderDate: time.Now()}, items)
	require.NoError(t, err)
	assert.False(t, created)

	orders, err := r.ListOrders(ctx, "u1", ch.ID)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.True(t, decimal.RequireFromString("42.50").Equal(orders[0].TotalAmount))
	assert.Equal(t, "Austin", orders[0].ShippingAddress.City)
	n, err := r.CountOrderItems(ctx, orders[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rec := &catalog.InventoryRecord{ProductID: pid, WarehouseLocation: "shopify", Quantity: 7}
	require.NoError(t, r.UpsertInventory(ctx, rec))
	rec = &catalog.InventoryRecord{ProductID: pid, WarehouseLocation: "shopify", Quantity: 4}
	require.NoError(t, r.UpsertInventory(ctx, rec))
	inv, err := r.ListInventory(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, inv, 1)
	assert.Equal(t, 4, inv[0].Quantity)
	assert.Equal(t, 4, inv[0].AvailableQuantity)

	at := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, r.TouchLastSync(ctx, ch.ID, at))
	got, err := r.GetChannel(ctx, "u1", ch.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastSyncAt)
	assert.True(t, at.Equal(*got.LastSyncAt))

	require.NoError(t, r.DeleteChannel(ctx, "u1", ch.ID))
	orders, err = r.ListOrders(ctx, "u1", "")
	require.NoError(t, err)
	assert.Len(t, orders, 1, "orders survive channel deletion")
}

func TestRepo_UpsertChannelByTypeClearsWatermark(t *testing.T) {
	ctx := context.Background()
	r := newRepo(t)

	ch := &catalog.Channel{UserID: "u1", Type: catalog.ChannelEtsy, Name: "Etsy", Connected: true,
		Credentials: []byte(`{"access_token":"one"}`)}
	created, err := r.UpsertChannelByType(ctx, ch)
	require.NoError(t, err)
	assert.True(t, created)
	require.NoError(t, r.TouchLastSync(ctx, ch.ID, time.Now()))

	again := &catalog.Channel{UserID: "u1", Type: catalog.ChannelEtsy, Name: "Etsy", Connected: true,
		Credentials: []byte(`{"access_token":"two"}`)}
	created, err = r.UpsertChannelByType(ctx, again)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, ch.ID, again.ID)

	got, err := r.GetChannel(ctx, "u1", ch.ID)
	require.NoError(t, err)
	assert.Nil(t, got.LastSyncAt)
	assert.JSONEq(t, `{"access_token":"two"}`, string(got.Credentials))
}

func TestRepo_Analytics(t *testing.T) {
	ctx := context.Background()
	r := newRepo(t)

	ch := &catalog.Channel{UserID: "u1", Type: catalog.ChannelAmazon, Name: "Amazon", Connected: true}
	require.NoError(t, r.CreateChannel(ctx, ch))
	from := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	for i, total := range []string{"10.00", "5.50", "99.00"} {
		at := from.Add(time.Duration(i) * time.Hour)
		if i == 2 {
			at = from.AddDate(0, 0, 7) // outside [from, from+7d)
		}
		_, err := r.CreateOrder(ctx, &catalog.Order{UserID: "u1", ChannelID: ch.ID, ExternalOrderID: total, OrderNumber: total,
			Status: catalog.OrderPending, PaymentStatus: catalog.PaymentPending,
			TotalAmount: decimal.RequireFromString(total), OrderDate: at}, nil)
		require.NoError(t, err)
	}

	got, err := r.SalesBetween(ctx, "u1", from, from.AddDate(0, 0, 7))
	require.NoError(t, err)
	assert.Equal(t, 2, got.Orders)
	assert.Equal(t, "15.50", got.Revenue.StringFixed(2))
	require.Len(t, got.ByChannel, 1)
	assert.Equal(t, catalog.ChannelAmazon, got.ByChannel[0].ChannelType)

	p, _, err := r.EnsureProduct(ctx, &catalog.Product{UserID: "u1", SKU: "LOW", Title: "Low"})
	require.NoError(t, err)
	require.NoError(t, r.UpsertInventory(ctx, &catalog.InventoryRecord{ProductID: p.ID, WarehouseLocation: "main", Quantity: 2, ReorderPoint: 5}))
	require.NoError(t, r.UpsertInventory(ctx, &catalog.InventoryRecord{ProductID: p.ID, WarehouseLocation: "amazon", Quantity: 20, ReorderPoint: 5}))
	n, err := r.CountLowStock(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
