// Package marketplace talks to the seller APIs of Amazon, eBay, Etsy, Shopify
// and Walmart. Every client exposes the same Client contract; what a
// marketplace can additionally do is expressed by the capability interfaces
// below, which the reconcile engine type-asserts for.
package marketplace

import (
	"context"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/oauth2"

	"github.com/ariefcatur/go-channel-sync/internal/catalog"
)

type Client interface {
	Marketplace() catalog.ChannelType
	// Authenticate returns a usable access token, exchanging credentials only
	// when the cached token is missing or within the expiry margin.
	Authenticate(ctx context.Context) (*oauth2.Token, error)
	// Request issues an authenticated call and decodes the JSON response into
	// out (nil to discard). Non-2xx responses return *UpstreamError.
	Request(ctx context.Context, method, path string, query url.Values, body, out any) error
}

// Page is one page of remote records. Next is empty on the last page.
type Page[T any] struct {
	Items []T
	Next  string
}

type OrderSource interface {
	FetchOrders(ctx context.Context, cursor string, pageSize int) (Page[RemoteOrder], error)
}

type InventorySource interface {
	FetchInventory(ctx context.Context, cursor string, pageSize int) (Page[RemoteInventory], error)
}

// OrderItemLoader is implemented by marketplaces whose order listing omits
// line items. Items are loaded only for orders not yet imported.
type OrderItemLoader interface {
	LoadOrderItems(ctx context.Context, externalOrderID string) ([]RemoteOrderItem, error)
}

// Authorizer drives the authorization-code flow of eBay and Etsy.
type Authorizer interface {
	Marketplace() catalog.ChannelType
	// AuthorizeURL builds the consent redirect. verifier is the PKCE secret to
	// keep server-side, empty when the marketplace does not use PKCE.
	AuthorizeURL(state string) (authURL, verifier string)
	Exchange(ctx context.Context, code, verifier string) (*oauth2.Token, error)
	Environment() string
}

type ListingPublisher interface {
	PublishListing(ctx context.Context, in ListingInput) error
}

type RemoteOrder struct {
	ExternalID      string
	OrderNumber     string
	CustomerName    string
	CustomerEmail   string
	ShippingAddress catalog.Address
	Status          catalog.OrderStatus
	PaymentStatus   catalog.PaymentStatus
	Total           decimal.Decimal
	Tax             decimal.Decimal
	Shipping        decimal.Decimal
	OrderDate       time.Time
	Items           []RemoteOrderItem
	// ItemsDeferred is set when Items must be fetched through OrderItemLoader.
	ItemsDeferred bool
}

type RemoteOrderItem struct {
	SKU        string
	Title      string
	Quantity   int
	UnitPrice  decimal.Decimal
	TotalPrice decimal.Decimal
}

type RemoteInventory struct {
	SKU      string
	Title    string
	Quantity int
	Price    decimal.Decimal
}

type ListingInput struct {
	SKU         string
	Title       string
	Description string
	Price       decimal.Decimal
	Quantity    int
}
