package catalog

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Channel is a connected marketplace account belonging to one user.
type Channel struct {
	ID          string
	UserID      string
	Type        ChannelType
	Name        string
	Connected   bool
	Credentials json.RawMessage // shape depends on Type
	LastSyncAt  *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Product struct {
	ID          string
	UserID      string
	SKU         string
	Title       string
	Description string
	Price       decimal.Decimal
	Cost        decimal.Decimal
	Status      ProductStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// PlaceholderTitle reports whether the title was filled in from the SKU when
// the product was created implicitly.
func (p *Product) PlaceholderTitle() bool {
	return p.Title == "" || p.Title == p.SKU
}

type Address struct {
	Street  string `json:"street,omitempty"`
	City    string `json:"city,omitempty"`
	State   string `json:"state,omitempty"`
	Zip     string `json:"zip,omitempty"`
	Country string `json:"country,omitempty"`
}

type Order struct {
	ID              string
	UserID          string
	ChannelID       string
	ExternalOrderID string
	OrderNumber     string
	CustomerName    string
	CustomerEmail   string
	ShippingAddress Address
	Status          OrderStatus
	PaymentStatus   PaymentStatus
	TotalAmount     decimal.Decimal
	TaxAmount       decimal.Decimal
	ShippingAmount  decimal.Decimal
	OrderDate       time.Time
	CreatedAt       time.Time
}

type OrderItem struct {
	ID          string
	OrderID     string
	ProductID   *string // nil when the SKU is not in the local catalog
	SKU         string
	ProductName string
	Quantity    int
	UnitPrice   decimal.Decimal
	TotalPrice  decimal.Decimal
}

type InventoryRecord struct {
	ID                string
	ProductID         string
	WarehouseLocation string
	Quantity          int
	ReservedQuantity  int
	AvailableQuantity int
	ReorderPoint      int
	ReorderQuantity   int
	LastUpdatedAt     time.Time
}

// Normalize keeps Available = Quantity - Reserved with neither side negative.
func (r *InventoryRecord) Normalize() {
	if r.Quantity < 0 {
		r.Quantity = 0
	}
	if r.ReservedQuantity < 0 {
		r.ReservedQuantity = 0
	}
	if r.ReservedQuantity > r.Quantity {
		r.ReservedQuantity = r.Quantity
	}
	r.AvailableQuantity = r.Quantity - r.ReservedQuantity
}

// Listing records a local product published on a marketplace channel.
type Listing struct {
	ID           string
	ProductID    string
	ChannelID    string
	ChannelSKU   string
	ChannelPrice decimal.Decimal
	Active       bool
	LastSyncedAt time.Time
}
