package marketplace

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/oauth2"

	"github.com/ariefcatur/go-channel-sync/internal/catalog"
)

const AmazonTokenURL = "https://api.amazon.com/auth/o2/token"

var amazonEndpoints = map[string]string{
	"us-east-1": "https://sellingpartnerapi-na.amazon.com",
	"eu-west-1": "https://sellingpartnerapi-eu.amazon.com",
	"us-west-2": "https://sellingpartnerapi-fe.amazon.com",
}

// AmazonEndpoint maps an AWS region to its SP-API host, defaulting to North America.
func AmazonEndpoint(region string) string {
	if ep, ok := amazonEndpoints[region]; ok {
		return ep
	}
	return amazonEndpoints["us-east-1"]
}

type AmazonOptions struct {
	Endpoint string // overrides the region host
	TokenURL string
	Lookback time.Duration // order window, default 30 days
	Now      func() time.Time
}

type Amazon struct {
	base
	creds    AmazonCredentials
	lookback time.Duration
	now      func() time.Time
}

var (
	_ OrderSource      = (*Amazon)(nil)
	_ OrderItemLoader  = (*Amazon)(nil)
	_ InventorySource  = (*Amazon)(nil)
	_ ListingPublisher = (*Amazon)(nil)
)

func NewAmazon(tr *Transport, creds AmazonCredentials, opts AmazonOptions) *Amazon {
	if opts.Endpoint == "" {
		opts.Endpoint = AmazonEndpoint(creds.Region)
	}
	if opts.TokenURL == "" {
		opts.TokenURL = AmazonTokenURL
	}
	if opts.Lookback <= 0 {
		opts.Lookback = 30 * 24 * time.Hour
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	conf := &oauth2.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: opts.TokenURL, AuthStyle: oauth2.AuthStyleInParams},
	}
	a := &Amazon{creds: creds, lookback: opts.Lookback, now: opts.Now}
	a.base = base{
		mp:      catalog.ChannelAmazon,
		baseURL: opts.Endpoint,
		tr:      tr,
		tokens: newTokenCache(catalog.ChannelAmazon, opts.Now, func(ctx context.Context) (*oauth2.Token, error) {
			// LWA refresh_token grant; the refresh token itself never rotates.
			return conf.TokenSource(tr.oauthContext(ctx), &oauth2.Token{RefreshToken: creds.RefreshToken}).Token()
		}),
		headers: func(h http.Header, accessToken string) {
			h.Set("x-amz-access-token", accessToken)
		},
	}
	return a
}

type amazonAddress struct {
	AddressLine1  string `json:"AddressLine1"`
	City          string `json:"City"`
	StateOrRegion string `json:"StateOrRegion"`
	PostalCode    string `json:"PostalCode"`
	CountryCode   string `json:"CountryCode"`
}

type amazonOrder struct {
	AmazonOrderID string  `json:"AmazonOrderId"`
	PurchaseDate  string  `json:"PurchaseDate"`
	OrderStatus   string  `json:"OrderStatus"`
	OrderTotal    *amount `json:"OrderTotal"`
	BuyerInfo     struct {
		BuyerName  string `json:"BuyerName"`
		BuyerEmail string `json:"BuyerEmail"`
	} `json:"BuyerInfo"`
	ShippingAddress amazonAddress `json:"ShippingAddress"`
}

type amazonOrdersResponse struct {
	Payload struct {
		Orders    []amazonOrder `json:"Orders"`
		NextToken string        `json:"NextToken"`
	} `json:"payload"`
}

func (a *Amazon) FetchOrders(ctx context.Context, cursor string, pageSize int) (Page[RemoteOrder], error) {
	q := url.Values{}
	q.Set("MarketplaceIds", a.creds.MarketplaceID)
	if cursor != "" {
		q.Set("NextToken", cursor)
	} else {
		q.Set("CreatedAfter", a.now().Add(-a.lookback).UTC().Format(time.RFC3339))
		if pageSize > 0 {
			q.Set("MaxResultsPerPage", strconv.Itoa(min(pageSize, 100)))
		}
	}
	var resp amazonOrdersResponse
	if err := a.Request(ctx, http.MethodGet, "/orders/v0/orders", q, nil, &resp); err != nil {
		return Page[RemoteOrder]{}, err
	}
	page := Page[RemoteOrder]{Next: resp.Payload.NextToken}
	for _, o := range resp.Payload.Orders {
		page.Items = append(page.Items, a.mapOrder(o))
	}
	return page, nil
}

func (a *Amazon) mapOrder(o amazonOrder) RemoteOrder {
	name := o.BuyerInfo.BuyerName
	if name == "" {
		name = "Amazon Customer"
	}
	pay := catalog.PaymentPending
	if o.OrderStatus == "Shipped" {
		pay = catalog.PaymentPaid
	}
	ro := RemoteOrder{
		ExternalID:    o.AmazonOrderID,
		OrderNumber:   o.AmazonOrderID,
		CustomerName:  name,
		CustomerEmail: o.BuyerInfo.BuyerEmail,
		ShippingAddress: catalog.Address{
			Street:  o.ShippingAddress.AddressLine1,
			City:    o.ShippingAddress.City,
			State:   o.ShippingAddress.StateOrRegion,
			Zip:     o.ShippingAddress.PostalCode,
			Country: o.ShippingAddress.CountryCode,
		},
		Status:        amazonOrderStatus(o.OrderStatus),
		PaymentStatus: pay,
		OrderDate:     parseTime(o.PurchaseDate, a.now()),
		ItemsDeferred: true,
	}
	if o.OrderTotal != nil {
		ro.Total = o.OrderTotal.Decimal
	}
	return ro
}

func amazonOrderStatus(s string) catalog.OrderStatus {
	switch s {
	case "Unshipped", "PartiallyShipped":
		return catalog.OrderProcessing
	case "Shipped":
		return catalog.OrderShipped
	case "Canceled", "Unfulfillable":
		return catalog.OrderCancelled
	}
	return catalog.OrderPending
}

type amazonOrderItemsResponse struct {
	Payload struct {
		OrderItems []struct {
			SellerSKU       string   `json:"SellerSKU"`
			Title           string   `json:"Title"`
			QuantityOrdered quantity `json:"QuantityOrdered"`
			ItemPrice       *amount  `json:"ItemPrice"`
		} `json:"OrderItems"`
		NextToken string `json:"NextToken"`
	} `json:"payload"`
}

// maxItemPages bounds the order-item cursor walk for a single order.
const maxItemPages = 10

func (a *Amazon) LoadOrderItems(ctx context.Context, orderID string) ([]RemoteOrderItem, error) {
	var (
		items []RemoteOrderItem
		next  string
	)
	for i := 0; i < maxItemPages; i++ {
		var q url.Values
		if next != "" {
			q = url.Values{"NextToken": {next}}
		}
		var resp amazonOrderItemsResponse
		path := "/orders/v0/orders/" + url.PathEscape(orderID) + "/orderItems"
		if err := a.Request(ctx, http.MethodGet, path, q, nil, &resp); err != nil {
			return nil, err
		}
		for _, it := range resp.Payload.OrderItems {
			total := it.ItemPrice
			if total == nil {
				total = &amount{}
			}
			// ItemPrice is the line total
			items = append(items, RemoteOrderItem{
				SKU:        it.SellerSKU,
				Title:      it.Title,
				Quantity:   int(it.QuantityOrdered),
				UnitPrice:  unitPrice(total.Decimal, int(it.QuantityOrdered)),
				TotalPrice: total.Decimal,
			})
		}
		next = resp.Payload.NextToken
		if next == "" {
			break
		}
	}
	return items, nil
}

type amazonInventoryResponse struct {
	Payload struct {
		InventorySummaries []struct {
			SellerSKU     string   `json:"sellerSku"`
			ProductName   string   `json:"productName"`
			TotalQuantity quantity `json:"totalQuantity"`
		} `json:"inventorySummaries"`
	} `json:"payload"`
	Pagination struct {
		NextToken string `json:"nextToken"`
	} `json:"pagination"`
}

func (a *Amazon) FetchInventory(ctx context.Context, cursor string, _ int) (Page[RemoteInventory], error) {
	q := url.Values{}
	q.Set("details", "false")
	q.Set("granularityType", "Marketplace")
	q.Set("granularityId", a.creds.MarketplaceID)
	q.Set("marketplaceIds", a.creds.MarketplaceID)
	if cursor != "" {
		q.Set("nextToken", cursor)
	}
	var resp amazonInventoryResponse
	if err := a.Request(ctx, http.MethodGet, "/fba/inventory/v1/summaries", q, nil, &resp); err != nil {
		return Page[RemoteInventory]{}, err
	}
	page := Page[RemoteInventory]{Next: resp.Pagination.NextToken}
	for _, s := range resp.Payload.InventorySummaries {
		page.Items = append(page.Items, RemoteInventory{
			SKU:      s.SellerSKU,
			Title:    s.ProductName,
			Quantity: int(s.TotalQuantity),
		})
	}
	return page, nil
}

// PublishListing creates or replaces the listing for in.SKU through the
// Listings Items API.
func (a *Amazon) PublishListing(ctx context.Context, in ListingInput) error {
	if a.creds.SellerID == "" {
		return fmt.Errorf("%w: seller_id is required to publish listings", ErrCredentials)
	}
	if in.SKU == "" {
		return errors.New("listing sku is required")
	}
	mid := a.creds.MarketplaceID
	desc := in.Description
	if desc == "" {
		desc = in.Title
	}
	qty := max(in.Quantity, 0)
	attr := func(v any) []map[string]any {
		return []map[string]any{{"value": v, "marketplace_id": mid}}
	}
	payload := map[string]any{
		"productType":  "PRODUCT",
		"requirements": "LISTING",
		"attributes": map[string]any{
			"condition_type": attr("new_new"),
			"item_name":      attr(in.Title),
			"description":    attr(desc),
			"list_price":     attr(map[string]any{"Amount": in.Price.InexactFloat64(), "CurrencyCode": "USD"}),
			"fulfillment_availability": attr(map[string]any{
				"fulfillment_channel_code": "DEFAULT",
				"quantity":                 qty,
			}),
		},
	}
	path := fmt.Sprintf("/listings/2021-08-01/items/%s/%s", url.PathEscape(a.creds.SellerID), url.PathEscape(in.SKU))
	return a.Request(ctx, http.MethodPut, path, url.Values{"marketplaceIds": {mid}}, payload, nil)
}

// parseTime accepts RFC 3339 timestamps and falls back to def.
func parseTime(s string, def time.Time) time.Time {
	if s == "" {
		return def
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	if t, err := time.Parse("2006-01-02T15:04:05-0700", s); err == nil {
		return t
	}
	return def
}
