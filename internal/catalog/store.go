package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("catalog: not found")
	ErrConflict = errors.New("catalog: already exists")
)

// Store is the local catalog/order store. Every method is scoped by an
// ownership key (user or channel) and relies on row-level atomicity only;
// CreateOrder is the single multi-row transaction.
type Store interface {
	GetChannel(ctx context.Context, userID, channelID string) (*Channel, error)
	ListChannels(ctx context.Context, userID string) ([]Channel, error)
	CreateChannel(ctx context.Context, ch *Channel) error
	// UpsertChannelByType keeps one channel per (user, type). An existing row
	// gets the new name, credentials and connected flag, and its watermark is cleared.
	UpsertChannelByType(ctx context.Context, ch *Channel) (created bool, err error)
	UpdateChannelCredentials(ctx context.Context, channelID string, creds json.RawMessage) error
	TouchLastSync(ctx context.Context, channelID string, at time.Time) error
	// DeleteChannel does not cascade: orders and inventory keep their channel reference.
	DeleteChannel(ctx context.Context, userID, channelID string) error

	GetProduct(ctx context.Context, userID, productID string) (*Product, error)
	ListProducts(ctx context.Context, userID string) ([]Product, error)
	FindProductBySKU(ctx context.Context, userID, sku string) (*Product, error)
	CreateProduct(ctx context.Context, p *Product) error
	// EnsureProduct inserts p unless (user, sku) exists and returns the stored row.
	EnsureProduct(ctx context.Context, p *Product) (stored *Product, created bool, err error)
	UpdateProductTitle(ctx context.Context, productID, title string) error

	OrderExists(ctx context.Context, channelID, externalOrderID string) (bool, error)
	// CreateOrder inserts the order keyed on (channel, external id) and replaces
	// its items. created is false, and nothing is written, if the key exists.
	CreateOrder(ctx context.Context, o *Order, items []OrderItem) (created bool, err error)
	ListOrders(ctx context.Context, userID, channelID string) ([]Order, error)
	CountOrderItems(ctx context.Context, orderID string) (int, error)

	UpsertInventory(ctx context.Context, rec *InventoryRecord) error
	ListInventory(ctx context.Context, userID string) ([]InventoryRecord, error)

	CreateListing(ctx context.Context, l *Listing) error

	// SalesBetween sums order totals per channel type over [from, to).
	SalesBetween(ctx context.Context, userID string, from, to time.Time) (SalesTotals, error)
	CountLowStock(ctx context.Context, userID string) (int, error)
}
