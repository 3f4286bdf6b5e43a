package httpx

import (
	"time"

	"github.com/ariefcatur/go-channel-sync/internal/analytics"
	"github.com/ariefcatur/go-channel-sync/internal/catalog"
)

// Credentials never leave the server; channelView drops them.
type channelView struct {
	ID         string     `json:"id"`
	Type       string     `json:"channel_type"`
	Name       string     `json:"channel_name"`
	Connected  bool       `json:"is_connected"`
	LastSyncAt *time.Time `json:"last_sync_at"`
	CreatedAt  time.Time  `json:"created_at"`
}

func toChannelView(c catalog.Channel) channelView {
	return channelView{ID: c.ID, Type: string(c.Type), Name: c.Name, Connected: c.Connected, LastSyncAt: c.LastSyncAt, CreatedAt: c.CreatedAt}
}

type productView struct {
	ID          string    `json:"id"`
	SKU         string    `json:"sku"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Price       string    `json:"price"`
	Cost        string    `json:"cost"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
}

func toProductView(p catalog.Product) productView {
	return productView{
		ID: p.ID, SKU: p.SKU, Title: p.Title, Description: p.Description,
		Price: p.Price.StringFixed(2), Cost: p.Cost.StringFixed(2),
		Status: string(p.Status), CreatedAt: p.CreatedAt,
	}
}

type orderView struct {
	ID              string          `json:"id"`
	ChannelID       string          `json:"channel_id"`
	ExternalOrderID string          `json:"external_order_id"`
	OrderNumber     string          `json:"order_number"`
	CustomerName    string          `json:"customer_name"`
	CustomerEmail   string          `json:"customer_email,omitempty"`
	ShippingAddress catalog.Address `json:"shipping_address"`
	Status          string          `json:"status"`
	PaymentStatus   string          `json:"payment_status"`
	TotalAmount     string          `json:"total_amount"`
	TaxAmount       string          `json:"tax_amount"`
	ShippingAmount  string          `json:"shipping_amount"`
	OrderDate       time.Time       `json:"order_date"`
}

func toOrderView(o catalog.Order) orderView {
	return orderView{
		ID: o.ID, ChannelID: o.ChannelID, ExternalOrderID: o.ExternalOrderID, OrderNumber: o.OrderNumber,
		CustomerName: o.CustomerName, CustomerEmail: o.CustomerEmail, ShippingAddress: o.ShippingAddress,
		Status: string(o.Status), PaymentStatus: string(o.PaymentStatus),
		TotalAmount: o.TotalAmount.StringFixed(2), TaxAmount: o.TaxAmount.StringFixed(2),
		ShippingAmount: o.ShippingAmount.StringFixed(2), OrderDate: o.OrderDate,
	}
}

type inventoryView struct {
	ID                string    `json:"id"`
	ProductID         string    `json:"product_id"`
	WarehouseLocation string    `json:"warehouse_location"`
	Quantity          int       `json:"quantity"`
	ReservedQuantity  int       `json:"reserved_quantity"`
	AvailableQuantity int       `json:"available_quantity"`
	LastUpdatedAt     time.Time `json:"last_updated"`
}

func toInventoryView(r catalog.InventoryRecord) inventoryView {
	return inventoryView{
		ID: r.ID, ProductID: r.ProductID, WarehouseLocation: r.WarehouseLocation,
		Quantity: r.Quantity, ReservedQuantity: r.ReservedQuantity, AvailableQuantity: r.AvailableQuantity,
		LastUpdatedAt: r.LastUpdatedAt,
	}
}

type listingView struct {
	ID           string `json:"id"`
	ProductID    string `json:"product_id"`
	ChannelID    string `json:"channel_id"`
	ChannelSKU   string `json:"channel_sku"`
	ChannelPrice string `json:"channel_price"`
	Active       bool   `json:"is_active"`
}

// listingResp omits listing when the SKU had no local product to record.
type listingResp struct {
	OK      bool         `json:"ok"`
	Listing *listingView `json:"listing,omitempty"`
}

func newListingResp(l *catalog.Listing) listingResp {
	if l == nil {
		return listingResp{OK: true}
	}
	return listingResp{OK: true, Listing: &listingView{
		ID: l.ID, ProductID: l.ProductID, ChannelID: l.ChannelID, ChannelSKU: l.ChannelSKU,
		ChannelPrice: l.ChannelPrice.StringFixed(2), Active: l.Active,
	}}
}

type channelSalesView struct {
	Channel string `json:"channel"`
	Revenue string `json:"revenue"`
	Orders  int    `json:"orders"`
}

type periodView struct {
	From              time.Time          `json:"from"`
	To                time.Time          `json:"to"`
	Revenue           string             `json:"revenue"`
	Orders            int                `json:"orders"`
	AverageOrderValue string             `json:"average_order_value"`
	ByChannel         []channelSalesView `json:"by_channel"`
}

type metricsView struct {
	Range            string     `json:"range"`
	Current          periodView `json:"current"`
	Previous         periodView `json:"previous"`
	RevenueChangePct float64    `json:"revenue_change_pct"`
	OrdersChangePct  float64    `json:"orders_change_pct"`
	LowStockItems    int        `json:"low_stock_items"`
}

func toPeriodView(t catalog.SalesTotals) periodView {
	return periodView{
		From: t.From, To: t.To, Revenue: t.Revenue.StringFixed(2), Orders: t.Orders,
		AverageOrderValue: t.AverageOrderValue().StringFixed(2),
		ByChannel: mapSlice(t.ByChannel, func(cs catalog.ChannelSales) channelSalesView {
			name := string(cs.ChannelType)
			if name == "" {
				name = "unknown"
			}
			return channelSalesView{Channel: name, Revenue: cs.Revenue.StringFixed(2), Orders: cs.Orders}
		}),
	}
}

func toMetricsView(m analytics.Metrics) metricsView {
	return metricsView{
		Range: m.Range, Current: toPeriodView(m.Current), Previous: toPeriodView(m.Previous),
		RevenueChangePct: m.RevenueChange.InexactFloat64(), OrdersChangePct: m.OrdersChange.InexactFloat64(),
		LowStockItems: m.LowStock,
	}
}

func mapSlice[T, V any](in []T, f func(T) V) []V {
	out := make([]V, 0, len(in))
	for _, v := range in {
		out = append(out, f(v))
	}
	return out
}
