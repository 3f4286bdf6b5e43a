package catalog

type ChannelType string

const (
	ChannelAmazon  ChannelType = "amazon"
	ChannelEbay    ChannelType = "ebay"
	ChannelEtsy    ChannelType = "etsy"
	ChannelShopify ChannelType = "shopify"
	ChannelWalmart ChannelType = "walmart"
)

var ChannelTypes = []ChannelType{ChannelAmazon, ChannelEbay, ChannelEtsy, ChannelShopify, ChannelWalmart}

func (t ChannelType) Valid() bool {
	switch t {
	case ChannelAmazon, ChannelEbay, ChannelEtsy, ChannelShopify, ChannelWalmart:
		return true
	}
	return false
}

// WarehouseLocation is the inventory location label used for stock pulled from this marketplace.
func (t ChannelType) WarehouseLocation() string { return string(t) }

func (t ChannelType) DisplayName() string {
	switch t {
	case ChannelAmazon:
		return "Amazon"
	case ChannelEbay:
		return "eBay"
	case ChannelEtsy:
		return "Etsy"
	case ChannelShopify:
		return "Shopify"
	case ChannelWalmart:
		return "Walmart"
	}
	return string(t)
}

// UsesAuthorizationCode reports whether the channel is connected through an OAuth redirect.
func (t ChannelType) UsesAuthorizationCode() bool {
	return t == ChannelEbay || t == ChannelEtsy
}

type OrderStatus string

const (
	OrderPending    OrderStatus = "pending"
	OrderProcessing OrderStatus = "processing"
	OrderShipped    OrderStatus = "shipped"
	OrderDelivered  OrderStatus = "delivered"
	OrderCancelled  OrderStatus = "cancelled"
)

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
)

type ProductStatus string

const (
	ProductActive   ProductStatus = "active"
	ProductDraft    ProductStatus = "draft"
	ProductArchived ProductStatus = "archived"
)
