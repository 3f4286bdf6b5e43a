package marketplace

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/ariefcatur/go-channel-sync/internal/catalog"
)

var (
	ebaySandbox = endpoints{
		auth:  "https://auth.sandbox.ebay.com/oauth2/authorize",
		token: "https://api.sandbox.ebay.com/identity/v1/oauth2/token",
		api:   "https://api.sandbox.ebay.com",
	}
	ebayProduction = endpoints{
		auth:  "https://auth.ebay.com/oauth2/authorize",
		token: "https://api.ebay.com/identity/v1/oauth2/token",
		api:   "https://api.ebay.com",
	}
	ebayScopes = []string{
		"https://api.ebay.com/oauth/api_scope",
		"https://api.ebay.com/oauth/api_scope/sell.inventory",
		"https://api.ebay.com/oauth/api_scope/sell.fulfillment.readonly",
		"https://api.ebay.com/oauth/api_scope/sell.marketing.readonly",
		"https://api.ebay.com/oauth/api_scope/sell.account.readonly",
		"https://api.ebay.com/oauth/api_scope/sell.marketplace.insights.readonly",
		"https://api.ebay.com/oauth/api_scope/sell.finances.readonly",
		"https://api.ebay.com/oauth/api_scope/sell.item.readonly",
	}
)

// NewEbayAuthorizer builds the consent flow. eBay authenticates the client
// with HTTP Basic and does not use PKCE.
func NewEbayAuthorizer(tr *Transport, app App) Authorizer {
	return ebayFlow(tr, app)
}

func ebayFlow(tr *Transport, app App) *codeFlow {
	ep := app.resolve(ebaySandbox, ebayProduction)
	return newCodeFlow(catalog.ChannelEbay, app, ep, oauth2.AuthStyleInHeader, ebayScopes, tr, false)
}

type Ebay struct {
	base
}

var (
	_ OrderSource      = (*Ebay)(nil)
	_ InventorySource  = (*Ebay)(nil)
	_ ListingPublisher = (*Ebay)(nil)
)

func NewEbay(tr *Transport, app App, creds OAuthCredentials, now func() time.Time) *Ebay {
	if creds.Environment != "" {
		app.Environment = creds.Environment
	}
	flow := ebayFlow(tr, app)
	return &Ebay{base: base{
		mp:      catalog.ChannelEbay,
		baseURL: app.resolve(ebaySandbox, ebayProduction).api,
		tr:      tr,
		tokens:  flow.tokens(creds, now),
		headers: func(h http.Header, accessToken string) {
			bearer(h, accessToken)
			h.Set("Content-Language", "en-US")
		},
	}}
}

type ebayAddress struct {
	AddressLine1    string `json:"addressLine1"`
	City            string `json:"city"`
	StateOrProvince string `json:"stateOrProvince"`
	PostalCode      string `json:"postalCode"`
	CountryCode     string `json:"countryCode"`
}

type ebayOrder struct {
	OrderID                string `json:"orderId"`
	LegacyOrderID          string `json:"legacyOrderId"`
	CreationDate           string `json:"creationDate"`
	OrderFulfillmentStatus string `json:"orderFulfillmentStatus"`
	OrderPaymentStatus     string `json:"orderPaymentStatus"`
	CancelStatus           struct {
		CancelState string `json:"cancelState"`
	} `json:"cancelStatus"`
	Buyer struct {
		Username                 string `json:"username"`
		FullName                 string `json:"fullName"`
		Email                    string `json:"email"`
		BuyerRegistrationAddress struct {
			FullName string `json:"fullName"`
			Email    string `json:"email"`
		} `json:"buyerRegistrationAddress"`
	} `json:"buyer"`
	FulfillmentStartInstructions []struct {
		ShippingStep struct {
			ShipTo struct {
				FullName       string      `json:"fullName"`
				ContactAddress ebayAddress `json:"contactAddress"`
			} `json:"shipTo"`
		} `json:"shippingStep"`
	} `json:"fulfillmentStartInstructions"`
	PricingSummary struct {
		Total        *amount `json:"total"`
		TotalTax     *amount `json:"totalTax"`
		DeliveryCost *amount `json:"deliveryCost"`
	} `json:"pricingSummary"`
	LineItems []struct {
		SKU          string   `json:"sku"`
		LegacyItemID string   `json:"legacyItemId"`
		Title        string   `json:"title"`
		Quantity     quantity `json:"quantity"`
		LineItemCost *amount  `json:"lineItemCost"`
		NetPrice     *amount  `json:"netPrice"`
	} `json:"lineItems"`
}

type ebayOrdersResponse struct {
	Orders []ebayOrder `json:"orders"`
	Total  int         `json:"total"`
}

func (e *Ebay) FetchOrders(ctx context.Context, cursor string, pageSize int) (Page[RemoteOrder], error) {
	offset := offsetCursor(cursor)
	q := url.Values{}
	q.Set("limit", strconv.Itoa(pageSize))
	q.Set("offset", strconv.Itoa(offset))
	q.Set("filter", "orderfulfillmentstatus:{FULFILLED|NOT_STARTED|IN_PROGRESS}")
	var resp ebayOrdersResponse
	if err := e.Request(ctx, http.MethodGet, "/sell/fulfillment/v1/order", q, nil, &resp); err != nil {
		return Page[RemoteOrder]{}, err
	}
	page := Page[RemoteOrder]{Next: nextOffset(offset, len(resp.Orders), resp.Total)}
	for _, o := range resp.Orders {
		page.Items = append(page.Items, mapEbayOrder(o))
	}
	return page, nil
}

func mapEbayOrder(o ebayOrder) RemoteOrder {
	id := firstNonEmpty(o.OrderID, o.LegacyOrderID)
	ro := RemoteOrder{
		ExternalID:    id,
		OrderNumber:   firstNonEmpty(o.LegacyOrderID, o.OrderID),
		CustomerEmail: firstNonEmpty(o.Buyer.Email, o.Buyer.BuyerRegistrationAddress.Email),
		Status:        catalog.OrderProcessing,
		PaymentStatus: catalog.PaymentPending,
		OrderDate:     parseTime(o.CreationDate, time.Now()),
		Total:         o.PricingSummary.Total.value(),
		Tax:           o.PricingSummary.TotalTax.value(),
		Shipping:      o.PricingSummary.DeliveryCost.value(),
	}
	shipName := ""
	if len(o.FulfillmentStartInstructions) > 0 {
		to := o.FulfillmentStartInstructions[0].ShippingStep.ShipTo
		shipName = to.FullName
		ro.ShippingAddress = catalog.Address{
			Street:  to.ContactAddress.AddressLine1,
			City:    to.ContactAddress.City,
			State:   to.ContactAddress.StateOrProvince,
			Zip:     to.ContactAddress.PostalCode,
			Country: to.ContactAddress.CountryCode,
		}
	}
	ro.CustomerName = firstNonEmpty(o.Buyer.FullName, o.Buyer.BuyerRegistrationAddress.FullName, shipName, o.Buyer.Username, "eBay Customer")

	switch {
	case o.CancelStatus.CancelState == "CANCELED":
		ro.Status = catalog.OrderCancelled
	case o.OrderFulfillmentStatus == "FULFILLED":
		ro.Status = catalog.OrderShipped
	}
	if o.OrderPaymentStatus == "PAID" {
		ro.PaymentStatus = catalog.PaymentPaid
	}

	for _, li := range o.LineItems {
		total := li.LineItemCost
		if total == nil {
			total = li.NetPrice
		}
		qty := int(li.Quantity)
		ro.Items = append(ro.Items, RemoteOrderItem{
			SKU:        firstNonEmpty(li.SKU, li.LegacyItemID),
			Title:      li.Title,
			Quantity:   qty,
			UnitPrice:  unitPrice(total.value(), qty),
			TotalPrice: total.value(),
		})
	}
	return ro
}

type ebayInventoryResponse struct {
	InventoryItems []struct {
		SKU     string `json:"sku"`
		Product struct {
			Title string `json:"title"`
		} `json:"product"`
		Availability struct {
			ShipToLocationAvailability struct {
				Quantity quantity `json:"quantity"`
			} `json:"shipToLocationAvailability"`
		} `json:"availability"`
	} `json:"inventoryItems"`
	Total int `json:"total"`
}

func (e *Ebay) FetchInventory(ctx context.Context, cursor string, pageSize int) (Page[RemoteInventory], error) {
	offset := offsetCursor(cursor)
	q := url.Values{}
	q.Set("limit", strconv.Itoa(pageSize))
	q.Set("offset", strconv.Itoa(offset))
	var resp ebayInventoryResponse
	if err := e.Request(ctx, http.MethodGet, "/sell/inventory/v1/inventory_item", q, nil, &resp); err != nil {
		return Page[RemoteInventory]{}, err
	}
	page := Page[RemoteInventory]{Next: nextOffset(offset, len(resp.InventoryItems), resp.Total)}
	for _, it := range resp.InventoryItems {
		page.Items = append(page.Items, RemoteInventory{
			SKU:      it.SKU,
			Title:    it.Product.Title,
			Quantity: int(it.Availability.ShipToLocationAvailability.Quantity),
		})
	}
	return page, nil
}

// PublishListing creates or replaces the inventory item for in.SKU.
func (e *Ebay) PublishListing(ctx context.Context, in ListingInput) error {
	desc := in.Description
	if desc == "" {
		desc = in.Title
	}
	payload := map[string]any{
		"sku":     in.SKU,
		"product": map[string]any{"title": in.Title, "description": desc},
		"availability": map[string]any{
			"shipToLocationAvailability": map[string]any{"quantity": in.Quantity},
		},
		"condition": "NEW",
	}
	return e.Request(ctx, http.MethodPut, "/sell/inventory/v1/inventory_item/"+url.PathEscape(in.SKU), nil, payload, nil)
}

// offsetCursor parses an offset-style cursor; anything unparsable restarts at 0.
func offsetCursor(cursor string) int {
	n, err := strconv.Atoi(strings.TrimSpace(cursor))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// nextOffset is empty once the page came back short or the total is reached.
func nextOffset(offset, got, total int) string {
	if got == 0 || offset+got >= total {
		return ""
	}
	return strconv.Itoa(offset + got)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
