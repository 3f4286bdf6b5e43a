package marketplace

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/ariefcatur/go-channel-sync/internal/catalog"
)

const (
	walmartProduction = "https://marketplace.walmartapis.com/v3"
	walmartSandbox    = "https://sandbox.walmartapis.com/v3"
	walmartSvcName    = "Walmart Marketplace"
)

type WalmartOptions struct {
	BaseURL string // overrides the environment default
	Now     func() time.Time
}

type Walmart struct {
	base
}

var (
	_ OrderSource     = (*Walmart)(nil)
	_ InventorySource = (*Walmart)(nil)
)

// NewWalmart uses a stored access token as-is; otherwise it runs the
// client-credentials grant against {base}/token.
func NewWalmart(tr *Transport, creds WalmartCredentials, opts WalmartOptions) *Walmart {
	baseURL := opts.BaseURL
	if baseURL == "" {
		// sandbox unless the credential explicitly says production
		baseURL = walmartSandbox
		if strings.EqualFold(creds.Environment, EnvProduction) {
			baseURL = walmartProduction
		}
	}
	baseURL = strings.TrimRight(baseURL, "/")

	var tokens *tokenCache
	if creds.AccessToken != "" {
		tokens = staticTokens(catalog.ChannelWalmart, creds.AccessToken)
	} else {
		cc := &clientcredentials.Config{
			ClientID:     creds.ClientID,
			ClientSecret: creds.ClientSecret,
			TokenURL:     baseURL + "/token",
			AuthStyle:    oauth2.AuthStyleInParams,
		}
		tokens = newTokenCache(catalog.ChannelWalmart, opts.Now, func(ctx context.Context) (*oauth2.Token, error) {
			return cc.Token(tr.oauthContext(ctx))
		})
	}
	return &Walmart{base: base{
		mp:      catalog.ChannelWalmart,
		baseURL: baseURL,
		tr:      tr,
		tokens:  tokens,
		headers: func(h http.Header, accessToken string) {
			bearer(h, accessToken)
			h.Set("WM_QOS.CORRELATION_ID", uuid.NewString())
			h.Set("WM_SVC.NAME", walmartSvcName)
		},
	}}
}

type walmartMeta struct {
	TotalCount int    `json:"totalCount"`
	NextCursor string `json:"nextCursor"`
}

type walmartOrder struct {
	PurchaseOrderID string `json:"purchaseOrderId"`
	OrderID         flexID `json:"orderId"`
	CustomerOrderID string `json:"customerOrderId"`
	OrderDate       flexID `json:"orderDate"`
	OrderStatus     string `json:"orderStatus"`
	CustomerInfo    struct {
		FirstName string `json:"firstName"`
		LastName  string `json:"lastName"`
		Email     string `json:"email"`
	} `json:"customerInfo"`
	CustomerEmailID string `json:"customerEmailId"`
	ShippingInfo    struct {
		PostalAddress struct {
			Name         string `json:"name"`
			AddressLine1 string `json:"addressLine1"`
			City         string `json:"city"`
			State        string `json:"state"`
			PostalCode   string `json:"postalCode"`
			CountryCode  string `json:"countryCode"`
			Country      string `json:"country"`
		} `json:"postalAddress"`
	} `json:"shippingInfo"`
	OrderTotal struct {
		Amount   *amount `json:"amount"`
		Tax      *amount `json:"tax"`
		Shipping *amount `json:"shipping"`
	} `json:"orderTotal"`
	OrderLines []struct {
		Item struct {
			SKU         string  `json:"sku"`
			ProductName string  `json:"productName"`
			UnitPrice   *amount `json:"unitPrice"`
		} `json:"item"`
		OrderLineQuantity struct {
			Amount quantity `json:"amount"`
		} `json:"orderLineQuantity"`
	} `json:"orderLines"`
}

func (w *Walmart) FetchOrders(ctx context.Context, cursor string, pageSize int) (Page[RemoteOrder], error) {
	q := walmartCursor(cursor, pageSize)
	var resp struct {
		Meta     walmartMeta    `json:"meta"`
		Elements []walmartOrder `json:"elements"`
	}
	if err := w.Request(ctx, http.MethodGet, "/orders", q, nil, &resp); err != nil {
		return Page[RemoteOrder]{}, err
	}
	page := Page[RemoteOrder]{Next: resp.Meta.NextCursor}
	for _, o := range resp.Elements {
		page.Items = append(page.Items, mapWalmartOrder(o))
	}
	return page, nil
}

func mapWalmartOrder(o walmartOrder) RemoteOrder {
	id := firstNonEmpty(o.PurchaseOrderID, string(o.OrderID))
	addr := o.ShippingInfo.PostalAddress
	ro := RemoteOrder{
		ExternalID:    id,
		OrderNumber:   firstNonEmpty(o.CustomerOrderID, id),
		CustomerName:  strings.TrimSpace(o.CustomerInfo.FirstName + " " + o.CustomerInfo.LastName),
		CustomerEmail: firstNonEmpty(o.CustomerInfo.Email, o.CustomerEmailID),
		ShippingAddress: catalog.Address{
			Street:  addr.AddressLine1,
			City:    addr.City,
			State:   addr.State,
			Zip:     addr.PostalCode,
			Country: firstNonEmpty(addr.CountryCode, addr.Country),
		},
		Status:        catalog.OrderProcessing,
		PaymentStatus: catalog.PaymentPaid,
		Total:         o.OrderTotal.Amount.value(),
		Tax:           o.OrderTotal.Tax.value(),
		Shipping:      o.OrderTotal.Shipping.value(),
		OrderDate:     walmartTime(string(o.OrderDate)),
	}
	ro.CustomerName = firstNonEmpty(ro.CustomerName, addr.Name, "Walmart Customer")
	switch o.OrderStatus {
	case "Shipped", "Delivered":
		ro.Status = catalog.OrderShipped
	case "Cancelled":
		ro.Status = catalog.OrderCancelled
	}
	for _, l := range o.OrderLines {
		qty := int(l.OrderLineQuantity.Amount)
		unit := l.Item.UnitPrice.value()
		ro.Items = append(ro.Items, RemoteOrderItem{
			SKU:        l.Item.SKU,
			Title:      l.Item.ProductName,
			Quantity:   qty,
			UnitPrice:  unit,
			TotalPrice: unit.Mul(decimal.NewFromInt(int64(qty))),
		})
	}
	return ro
}

type walmartInventory struct {
	SKU         string  `json:"sku"`
	ProductName string  `json:"productName"`
	Price       *amount `json:"price"`
	Quantity    struct {
		Amount quantity `json:"amount"`
	} `json:"quantity"`
}

func (w *Walmart) FetchInventory(ctx context.Context, cursor string, pageSize int) (Page[RemoteInventory], error) {
	q := walmartCursor(cursor, pageSize)
	var resp struct {
		Meta     walmartMeta        `json:"meta"`
		Elements []walmartInventory `json:"elements"`
	}
	if err := w.Request(ctx, http.MethodGet, "/inventories", q, nil, &resp); err != nil {
		return Page[RemoteInventory]{}, err
	}
	page := Page[RemoteInventory]{Next: resp.Meta.NextCursor}
	for _, it := range resp.Elements {
		page.Items = append(page.Items, RemoteInventory{
			SKU:      it.SKU,
			Title:    it.ProductName,
			Quantity: int(it.Quantity.Amount),
			Price:    it.Price.value(),
		})
	}
	return page, nil
}

// walmartCursor turns meta.nextCursor, which is either an opaque token or a
// ready-made query string, into request parameters.
func walmartCursor(cursor string, pageSize int) url.Values {
	if strings.HasPrefix(cursor, "?") {
		if q, err := url.ParseQuery(cursor[1:]); err == nil {
			return q
		}
	}
	q := url.Values{}
	q.Set("limit", strconv.Itoa(pageSize))
	if cursor != "" {
		q.Set("nextCursor", cursor)
	}
	return q
}

// walmartTime accepts epoch milliseconds or RFC 3339.
func walmartTime(s string) time.Time {
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil && ms > 0 {
		return time.UnixMilli(ms)
	}
	return parseTime(s, time.Now())
}
