package marketplace

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/oauth2"

	"github.com/ariefcatur/go-channel-sync/internal/catalog"
)

var (
	etsySandbox = endpoints{
		auth:  "https://openapi.etsy.com/v3/public/oauth/connect",
		token: "https://openapi.etsy.com/v3/public/oauth/token",
		api:   "https://openapi.etsy.com/v3",
	}
	etsyProduction = endpoints{
		auth:  "https://www.etsy.com/oauth/connect",
		token: "https://api.etsy.com/v3/public/oauth/token",
		api:   "https://openapi.etsy.com/v3",
	}
	etsyScopes = []string{
		"listings_r", "listings_w",
		"shops_r", "shops_w",
		"transactions_r", "transactions_w",
		"profile_r", "profile_w",
	}
)

// NewEtsyAuthorizer builds the consent flow. Etsy requires PKCE (S256) and
// takes the client id in the request body.
func NewEtsyAuthorizer(tr *Transport, app App) Authorizer {
	return etsyFlow(tr, app)
}

func etsyFlow(tr *Transport, app App) *codeFlow {
	ep := app.resolve(etsySandbox, etsyProduction)
	return newCodeFlow(catalog.ChannelEtsy, app, ep, oauth2.AuthStyleInParams, etsyScopes, tr, true)
}

type Etsy struct {
	base
	shop string
}

var (
	_ OrderSource     = (*Etsy)(nil)
	_ InventorySource = (*Etsy)(nil)
)

func NewEtsy(tr *Transport, app App, creds OAuthCredentials, now func() time.Time) *Etsy {
	if creds.Environment != "" {
		app.Environment = creds.Environment
	}
	shop := creds.ShopID
	if shop == "" {
		shop = "active"
	}
	flow := etsyFlow(tr, app)
	return &Etsy{
		shop: shop,
		base: base{
			mp:      catalog.ChannelEtsy,
			baseURL: app.resolve(etsySandbox, etsyProduction).api,
			tr:      tr,
			tokens:  flow.tokens(creds, now),
			headers: func(h http.Header, accessToken string) {
				bearer(h, accessToken)
				h.Set("x-api-key", app.ClientID)
			},
		},
	}
}

type etsyReceipt struct {
	ReceiptID  flexID `json:"receipt_id"`
	Name       string `json:"name"`
	BuyerEmail string `json:"buyer_email"`
	BuyerUser  *struct {
		LoginName string `json:"login_name"`
		FirstName string `json:"first_name"`
		Email     string `json:"email"`
	} `json:"buyer_user"`
	CreationTsz       int64        `json:"creation_tsz"`
	CreateTimestamp   int64        `json:"create_timestamp"`
	IsShipped         bool         `json:"is_shipped"`
	IsPaid            *bool        `json:"is_paid"`
	Status            string       `json:"status"`
	ShippingAddress   *etsyAddress `json:"shipping_address"`
	FirstLine         string       `json:"first_line"`
	City              string       `json:"city"`
	State             string       `json:"state"`
	Zip               string       `json:"zip"`
	CountryISO        string       `json:"country_iso"`
	TotalPrice        *amount      `json:"total_price"`
	Grandtotal        *amount      `json:"grandtotal"`
	TotalTaxCost      *amount      `json:"total_tax_cost"`
	TotalShippingCost *amount      `json:"total_shipping_cost"`
	Transactions      []struct {
		ListingID flexID   `json:"listing_id"`
		SKU       string   `json:"sku"`
		Title     string   `json:"title"`
		Quantity  quantity `json:"quantity"`
		Price     *amount  `json:"price"`
	} `json:"transactions"`
}

type etsyAddress struct {
	FirstLine   string `json:"first_line"`
	City        string `json:"city"`
	State       string `json:"state"`
	Zip         string `json:"zip"`
	CountryCode string `json:"country_code"`
}

type etsyPage[T any] struct {
	Count   int `json:"count"`
	Results []T `json:"results"`
}

func (e *Etsy) FetchOrders(ctx context.Context, cursor string, pageSize int) (Page[RemoteOrder], error) {
	offset := offsetCursor(cursor)
	q := url.Values{}
	q.Set("limit", strconv.Itoa(pageSize))
	q.Set("offset", strconv.Itoa(offset))
	q.Set("was_paid", "true")
	var resp etsyPage[etsyReceipt]
	path := "/application/shops/" + url.PathEscape(e.shop) + "/receipts"
	if err := e.Request(ctx, http.MethodGet, path, q, nil, &resp); err != nil {
		return Page[RemoteOrder]{}, err
	}
	page := Page[RemoteOrder]{Next: nextOffset(offset, len(resp.Results), resp.Count)}
	for _, r := range resp.Results {
		page.Items = append(page.Items, mapEtsyReceipt(r))
	}
	return page, nil
}

func mapEtsyReceipt(r etsyReceipt) RemoteOrder {
	id := string(r.ReceiptID)
	ro := RemoteOrder{
		ExternalID:    id,
		OrderNumber:   id,
		Status:        catalog.OrderProcessing,
		PaymentStatus: catalog.PaymentPaid,
		Total:         r.TotalPrice.value(),
		Tax:           r.TotalTaxCost.value(),
		Shipping:      r.TotalShippingCost.value(),
		OrderDate:     time.Now(),
	}
	if r.TotalPrice == nil {
		ro.Total = r.Grandtotal.value()
	}
	switch {
	case r.CreationTsz > 0:
		ro.OrderDate = time.Unix(r.CreationTsz, 0)
	case r.CreateTimestamp > 0:
		ro.OrderDate = time.Unix(r.CreateTimestamp, 0)
	}
	if r.IsShipped {
		ro.Status = catalog.OrderShipped
	} else if strings.EqualFold(r.Status, "canceled") {
		ro.Status = catalog.OrderCancelled
	}
	if r.IsPaid != nil && !*r.IsPaid {
		ro.PaymentStatus = catalog.PaymentPending
	}

	var login, first, email string
	if r.BuyerUser != nil {
		login, first, email = r.BuyerUser.LoginName, r.BuyerUser.FirstName, r.BuyerUser.Email
	}
	ro.CustomerName = firstNonEmpty(r.Name, first, login, "Etsy Customer")
	ro.CustomerEmail = firstNonEmpty(email, r.BuyerEmail)

	if a := r.ShippingAddress; a != nil {
		ro.ShippingAddress = catalog.Address{Street: a.FirstLine, City: a.City, State: a.State, Zip: a.Zip, Country: a.CountryCode}
	} else {
		ro.ShippingAddress = catalog.Address{Street: r.FirstLine, City: r.City, State: r.State, Zip: r.Zip, Country: r.CountryISO}
	}

	for _, t := range r.Transactions {
		qty := int(t.Quantity)
		unit := t.Price.value()
		ro.Items = append(ro.Items, RemoteOrderItem{
			// keyed by listing id, matching FetchInventory
			SKU:        firstNonEmpty(string(t.ListingID), t.SKU),
			Title:      t.Title,
			Quantity:   qty,
			UnitPrice:  unit,
			TotalPrice: unit.Mul(decimal.NewFromInt(int64(qty))),
		})
	}
	return ro
}

type etsyListing struct {
	ListingID flexID   `json:"listing_id"`
	Title     string   `json:"title"`
	Quantity  quantity `json:"quantity"`
	Price     *amount  `json:"price"`
}

func (e *Etsy) FetchInventory(ctx context.Context, cursor string, pageSize int) (Page[RemoteInventory], error) {
	offset := offsetCursor(cursor)
	q := url.Values{}
	q.Set("limit", strconv.Itoa(pageSize))
	q.Set("offset", strconv.Itoa(offset))
	var resp etsyPage[etsyListing]
	path := "/application/shops/" + url.PathEscape(e.shop) + "/listings/active"
	if err := e.Request(ctx, http.MethodGet, path, q, nil, &resp); err != nil {
		return Page[RemoteInventory]{}, err
	}
	page := Page[RemoteInventory]{Next: nextOffset(offset, len(resp.Results), resp.Count)}
	for _, l := range resp.Results {
		page.Items = append(page.Items, RemoteInventory{
			SKU:      string(l.ListingID),
			Title:    l.Title,
			Quantity: int(l.Quantity),
			Price:    l.Price.value(),
		})
	}
	return page, nil
}
