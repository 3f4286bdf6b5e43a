package catalog

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MemStore is an in-process Store used by tests and STORE_DRIVER=memory.
type MemStore struct {
	mu        sync.Mutex
	now       func() time.Time
	channels  map[string]Channel
	products  map[string]Product
	orders    map[string]Order
	orderKeys map[string]string // channel|external -> order id
	items     map[string][]OrderItem
	inventory map[string]InventoryRecord // product|location -> record
	listings  []Listing
}

var _ Store = (*MemStore)(nil)

func NewMemStore() *MemStore {
	return &MemStore{
		now:       time.Now,
		channels:  map[string]Channel{},
		products:  map[string]Product{},
		orders:    map[string]Order{},
		orderKeys: map[string]string{},
		items:     map[string][]OrderItem{},
		inventory: map[string]InventoryRecord{},
	}
}

func cloneRaw(b json.RawMessage) json.RawMessage {
	if b == nil {
		return nil
	}
	return append(json.RawMessage(nil), b...)
}

func (m *MemStore) GetChannel(_ context.Context, userID, channelID string) (*Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.channels[channelID]
	if !ok || ch.UserID != userID {
		return nil, ErrNotFound
	}
	ch.Credentials = cloneRaw(ch.Credentials)
	return &ch, nil
}

func (m *MemStore) ListChannels(_ context.Context, userID string) ([]Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Channel
	for _, ch := range m.channels {
		if ch.UserID == userID {
			ch.Credentials = cloneRaw(ch.Credentials)
			out = append(out, ch)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemStore) CreateChannel(_ context.Context, ch *Channel) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.insertChannel(ch)
	return nil
}

func (m *MemStore) insertChannel(ch *Channel) {
	if ch.ID == "" {
		ch.ID = uuid.NewString()
	}
	now := m.now()
	ch.CreatedAt, ch.UpdatedAt = now, now
	stored := *ch
	stored.Credentials = cloneRaw(ch.Credentials)
	m.channels[ch.ID] = stored
}

func (m *MemStore) UpsertChannelByType(_ context.Context, ch *Channel) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var existing *Channel
	for id := range m.channels {
		c := m.channels[id]
		if c.UserID == ch.UserID && c.Type == ch.Type {
			if existing == nil || c.CreatedAt.Before(existing.CreatedAt) {
				existing = &c
			}
		}
	}
	if existing == nil {
		m.insertChannel(ch)
		ch.LastSyncAt = nil
		return true, nil
	}
	existing.Name = ch.Name
	existing.Connected = ch.Connected
	existing.Credentials = cloneRaw(ch.Credentials)
	existing.LastSyncAt = nil
	existing.UpdatedAt = m.now()
	m.channels[existing.ID] = *existing

	ch.ID = existing.ID
	ch.CreatedAt = existing.CreatedAt
	ch.UpdatedAt = existing.UpdatedAt
	ch.LastSyncAt = nil
	return false, nil
}

func (m *MemStore) UpdateChannelCredentials(_ context.Context, channelID string, creds json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.channels[channelID]
	if !ok {
		return ErrNotFound
	}
	ch.Credentials = cloneRaw(creds)
	ch.UpdatedAt = m.now()
	m.channels[channelID] = ch
	return nil
}

func (m *MemStore) TouchLastSync(_ context.Context, channelID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.channels[channelID]
	if !ok {
		return ErrNotFound
	}
	ch.LastSyncAt = &at
	ch.UpdatedAt = m.now()
	m.channels[channelID] = ch
	return nil
}

func (m *MemStore) DeleteChannel(_ context.Context, userID, channelID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.channels[channelID]
	if !ok || ch.UserID != userID {
		return ErrNotFound
	}
	delete(m.channels, channelID)
	return nil
}

func (m *MemStore) GetProduct(_ context.Context, userID, productID string) (*Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[productID]
	if !ok || p.UserID != userID {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (m *MemStore) ListProducts(_ context.Context, userID string) ([]Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Product
	for _, p := range m.products {
		if p.UserID == userID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SKU < out[j].SKU })
	return out, nil
}

func (m *MemStore) findBySKU(userID, sku string) (Product, bool) {
	for _, p := range m.products {
		if p.UserID == userID && p.SKU == sku {
			return p, true
		}
	}
	return Product{}, false
}

func (m *MemStore) FindProductBySKU(_ context.Context, userID, sku string) (*Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.findBySKU(userID, sku)
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (m *MemStore) insertProduct(p *Product) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Status == "" {
		p.Status = ProductActive
	}
	now := m.now()
	p.CreatedAt, p.UpdatedAt = now, now
	m.products[p.ID] = *p
}

func (m *MemStore) CreateProduct(_ context.Context, p *Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.findBySKU(p.UserID, p.SKU); ok {
		return ErrConflict
	}
	m.insertProduct(p)
	return nil
}

func (m *MemStore) EnsureProduct(_ context.Context, p *Product) (*Product, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.findBySKU(p.UserID, p.SKU); ok {
		return &existing, false, nil
	}
	m.insertProduct(p)
	stored := *p
	return &stored, true, nil
}

func (m *MemStore) UpdateProductTitle(_ context.Context, productID, title string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[productID]
	if !ok {
		return ErrNotFound
	}
	p.Title = title
	p.UpdatedAt = m.now()
	m.products[productID] = p
	return nil
}

func orderKey(channelID, externalID string) string { return channelID + "|" + externalID }

func (m *MemStore) OrderExists(_ context.Context, channelID, externalOrderID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.orderKeys[orderKey(channelID, externalOrderID)]
	return ok, nil
}

func (m *MemStore) CreateOrder(_ context.Context, o *Order, items []OrderItem) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := orderKey(o.ChannelID, o.ExternalOrderID)
	if _, ok := m.orderKeys[key]; ok {
		return false, nil
	}
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	o.CreatedAt = m.now()
	m.orders[o.ID] = *o
	m.orderKeys[key] = o.ID

	stored := make([]OrderItem, len(items))
	for i := range items {
		items[i].ID = uuid.NewString()
		items[i].OrderID = o.ID
		stored[i] = items[i]
	}
	m.items[o.ID] = stored
	return true, nil
}

func (m *MemStore) ListOrders(_ context.Context, userID, channelID string) ([]Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Order
	for _, o := range m.orders {
		if o.UserID != userID || (channelID != "" && o.ChannelID != channelID) {
			continue
		}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderDate.After(out[j].OrderDate) })
	return out, nil
}

func (m *MemStore) CountOrderItems(_ context.Context, orderID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items[orderID]), nil
}

// OrderItems returns a copy of the stored items for an order.
func (m *MemStore) OrderItems(orderID string) []OrderItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]OrderItem(nil), m.items[orderID]...)
}

func (m *MemStore) UpsertInventory(_ context.Context, rec *InventoryRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := rec.ProductID + "|" + rec.WarehouseLocation
	if cur, ok := m.inventory[key]; ok {
		cur.Quantity = rec.Quantity
		cur.Normalize()
		cur.LastUpdatedAt = m.now()
		m.inventory[key] = cur
		*rec = cur
		return nil
	}
	rec.Normalize()
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	rec.LastUpdatedAt = m.now()
	m.inventory[key] = *rec
	return nil
}

// SetReserved adjusts reserved stock on an existing record. Used by tests to
// simulate local reservations.
func (m *MemStore) SetReserved(productID, location string, reserved int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := productID + "|" + location
	cur, ok := m.inventory[key]
	if !ok {
		return
	}
	cur.ReservedQuantity = reserved
	cur.Normalize()
	m.inventory[key] = cur
}

func (m *MemStore) ListInventory(_ context.Context, userID string) ([]InventoryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []InventoryRecord
	for _, rec := range m.inventory {
		if p, ok := m.products[rec.ProductID]; ok && p.UserID == userID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ProductID != out[j].ProductID {
			return m.products[out[i].ProductID].SKU < m.products[out[j].ProductID].SKU
		}
		return out[i].WarehouseLocation < out[j].WarehouseLocation
	})
	return out, nil
}

func (m *MemStore) CreateListing(_ context.Context, l *Listing) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	l.LastSyncedAt = m.now()
	m.listings = append(m.listings, *l)
	return nil
}

// Listings returns every listing recorded so far.
func (m *MemStore) Listings() []Listing {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Listing(nil), m.listings...)
}

func (m *MemStore) SalesBetween(_ context.Context, userID string, from, to time.Time) (SalesTotals, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byType := map[ChannelType]*ChannelSales{}
	for _, o := range m.orders {
		if o.UserID != userID || o.OrderDate.Before(from) || !o.OrderDate.Before(to) {
			continue
		}
		typ := m.channels[o.ChannelID].Type
		cs, ok := byType[typ]
		if !ok {
			cs = &ChannelSales{ChannelType: typ, Revenue: decimal.Zero}
			byType[typ] = cs
		}
		cs.Revenue = cs.Revenue.Add(o.TotalAmount)
		cs.Orders++
	}
	rows := make([]ChannelSales, 0, len(byType))
	for _, cs := range byType {
		rows = append(rows, *cs)
	}
	sort.Slice(rows, func(i, j int) bool {
		if c := rows[i].Revenue.Cmp(rows[j].Revenue); c != 0 {
			return c > 0
		}
		return rows[i].ChannelType < rows[j].ChannelType
	})
	return totals(from, to, rows), nil
}

func (m *MemStore) CountLowStock(_ context.Context, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, rec := range m.inventory {
		if p, ok := m.products[rec.ProductID]; ok && p.UserID == userID && rec.AvailableQuantity <= rec.ReorderPoint {
			n++
		}
	}
	return n, nil
}
