package marketplace

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-channel-sync/internal/catalog"
)

const DefaultShopifyAPIVersion = "2024-01"

// Shopify authenticates with a long-lived admin token; there is no exchange.
type Shopify struct {
	base
}

var (
	_ OrderSource     = (*Shopify)(nil)
	_ InventorySource = (*Shopify)(nil)
)

// NewShopify builds the admin API client. baseURL overrides the
// https://{shop}.myshopify.com/admin/api/{version} default when non-empty.
func NewShopify(tr *Transport, creds ShopifyCredentials, baseURL string) *Shopify {
	if baseURL == "" {
		version := creds.APIVersion
		if version == "" {
			version = DefaultShopifyAPIVersion
		}
		baseURL = "https://" + CleanShopDomain(creds.ShopURL) + ".myshopify.com/admin/api/" + version
	}
	return &Shopify{base: base{
		mp:      catalog.ChannelShopify,
		baseURL: strings.TrimRight(baseURL, "/"),
		tr:      tr,
		tokens:  staticTokens(catalog.ChannelShopify, creds.AccessToken),
		headers: func(h http.Header, accessToken string) {
			h.Set("X-Shopify-Access-Token", accessToken)
		},
	}}
}

// CleanShopDomain reduces "https://my-shop.myshopify.com/" to "my-shop".
func CleanShopDomain(s string) string {
	s = strings.TrimSpace(strings.ToLower(s))
	s = strings.TrimPrefix(s, "https://")
	s = strings.TrimPrefix(s, "http://")
	s = strings.TrimRight(s, "/")
	return strings.TrimSuffix(s, ".myshopify.com")
}

type shopifyAddress struct {
	Address1    string `json:"address1"`
	City        string `json:"city"`
	Province    string `json:"province"`
	Zip         string `json:"zip"`
	CountryCode string `json:"country_code"`
}

type shopifyOrder struct {
	ID              flexID  `json:"id"`
	OrderNumber     flexID  `json:"order_number"`
	Name            string  `json:"name"`
	Email           string  `json:"email"`
	CreatedAt       string  `json:"created_at"`
	CancelledAt     *string `json:"cancelled_at"`
	FinancialStatus string  `json:"financial_status"`
	FulfillmentStat *string `json:"fulfillment_status"`
	Customer        *struct {
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
		Email     string `json:"email"`
	} `json:"customer"`
	ShippingAddress *shopifyAddress `json:"shipping_address"`
	BillingAddress  *shopifyAddress `json:"billing_address"`
	TotalPrice      *amount         `json:"total_price"`
	TotalTax        *amount         `json:"total_tax"`
	ShippingLines   []struct {
		Price *amount `json:"price"`
	} `json:"shipping_lines"`
	LineItems []struct {
		SKU       string   `json:"sku"`
		VariantID flexID   `json:"variant_id"`
		Title     string   `json:"title"`
		Name      string   `json:"name"`
		Quantity  quantity `json:"quantity"`
		Price     *amount  `json:"price"`
	} `json:"line_items"`
}

func (s *Shopify) FetchOrders(ctx context.Context, cursor string, pageSize int) (Page[RemoteOrder], error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(pageSize))
	// page_info requests reject every other filter
	if cursor != "" {
		q.Set("page_info", cursor)
	} else {
		q.Set("status", "any")
	}
	var resp struct {
		Orders []shopifyOrder `json:"orders"`
	}
	h, err := s.do(ctx, http.MethodGet, "/orders.json", q, nil, &resp)
	if err != nil {
		return Page[RemoteOrder]{}, err
	}
	page := Page[RemoteOrder]{Next: nextPageInfo(h.Get("Link"))}
	for _, o := range resp.Orders {
		page.Items = append(page.Items, mapShopifyOrder(o))
	}
	return page, nil
}

func mapShopifyOrder(o shopifyOrder) RemoteOrder {
	ro := RemoteOrder{
		ExternalID:    string(o.ID),
		OrderNumber:   firstNonEmpty(string(o.OrderNumber), o.Name, string(o.ID)),
		CustomerEmail: o.Email,
		Status:        catalog.OrderProcessing,
		PaymentStatus: catalog.PaymentPending,
		Total:         o.TotalPrice.value(),
		Tax:           o.TotalTax.value(),
		Shipping:      decimal.Zero,
		OrderDate:     parseTime(o.CreatedAt, time.Now()),
	}
	if c := o.Customer; c != nil {
		ro.CustomerName = strings.TrimSpace(c.FirstName + " " + c.LastName)
		ro.CustomerEmail = firstNonEmpty(c.Email, o.Email)
	}
	if ro.CustomerName == "" {
		ro.CustomerName = "Shopify Customer"
	}
	addr := o.ShippingAddress
	if addr == nil {
		addr = o.BillingAddress
	}
	if addr != nil {
		ro.ShippingAddress = catalog.Address{Street: addr.Address1, City: addr.City, State: addr.Province, Zip: addr.Zip, Country: addr.CountryCode}
	}
	for _, sl := range o.ShippingLines {
		ro.Shipping = ro.Shipping.Add(sl.Price.value())
	}
	switch {
	case o.CancelledAt != nil && *o.CancelledAt != "":
		ro.Status = catalog.OrderCancelled
	case o.FulfillmentStat != nil && *o.FulfillmentStat == "fulfilled":
		ro.Status = catalog.OrderShipped
	}
	if o.FinancialStatus == "paid" {
		ro.PaymentStatus = catalog.PaymentPaid
	}
	for _, li := range o.LineItems {
		qty := int(li.Quantity)
		unit := li.Price.value()
		ro.Items = append(ro.Items, RemoteOrderItem{
			SKU:        firstNonEmpty(li.SKU, string(li.VariantID)),
			Title:      firstNonEmpty(li.Title, li.Name),
			Quantity:   qty,
			UnitPrice:  unit,
			TotalPrice: unit.Mul(decimal.NewFromInt(int64(qty))),
		})
	}
	return ro
}

type shopifyProduct struct {
	ID       flexID `json:"id"`
	Title    string `json:"title"`
	Variants []struct {
		ID                flexID   `json:"id"`
		SKU               string   `json:"sku"`
		Title             string   `json:"title"`
		Price             *amount  `json:"price"`
		InventoryQuantity quantity `json:"inventory_quantity"`
	} `json:"variants"`
}

// FetchInventory flattens products into one record per variant.
func (s *Shopify) FetchInventory(ctx context.Context, cursor string, pageSize int) (Page[RemoteInventory], error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(pageSize))
	if cursor != "" {
		q.Set("page_info", cursor)
	}
	var resp struct {
		Products []shopifyProduct `json:"products"`
	}
	h, err := s.do(ctx, http.MethodGet, "/products.json", q, nil, &resp)
	if err != nil {
		return Page[RemoteInventory]{}, err
	}
	page := Page[RemoteInventory]{Next: nextPageInfo(h.Get("Link"))}
	for _, p := range resp.Products {
		for _, v := range p.Variants {
			title := p.Title
			if v.Title != "" && v.Title != "Default Title" {
				title += " - " + v.Title
			}
			page.Items = append(page.Items, RemoteInventory{
				SKU:      firstNonEmpty(v.SKU, string(v.ID)),
				Title:    title,
				Quantity: int(v.InventoryQuantity),
				Price:    v.Price.value(),
			})
		}
	}
	return page, nil
}

// nextPageInfo extracts page_info from the rel="next" entry of a Link header.
func nextPageInfo(link string) string {
	for _, part := range strings.Split(link, ",") {
		segs := strings.Split(part, ";")
		if len(segs) < 2 {
			continue
		}
		isNext := false
		for _, p := range segs[1:] {
			if strings.ReplaceAll(strings.TrimSpace(p), " ", "") == `rel="next"` {
				isNext = true
			}
		}
		if !isNext {
			continue
		}
		raw := strings.Trim(strings.TrimSpace(segs[0]), "<>")
		u, err := url.Parse(raw)
		if err != nil {
			return ""
		}
		return u.Query().Get("page_info")
	}
	return ""
}
