// Package reconcile pulls orders and inventory from a marketplace and merges
// them into the local catalog.
package reconcile

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-channel-sync/internal/catalog"
	"github.com/ariefcatur/go-channel-sync/internal/marketplace"
	"github.com/ariefcatur/go-channel-sync/internal/metrics"
)

type Kind string

const (
	KindOrders    Kind = "orders"
	KindInventory Kind = "inventory"
)

func (k Kind) Valid() bool { return k == KindOrders || k == KindInventory }

// State follows Idle -> Fetching -> Reconciling -> Completed | Failed.
type State string

const (
	StateIdle        State = "idle"
	StateFetching    State = "fetching"
	StateReconciling State = "reconciling"
	StateCompleted   State = "completed"
	StateFailed      State = "failed"
)

// Policy decides what happens to a remote SKU with no local product.
type Policy string

const (
	PolicyCreate Policy = "create"
	PolicySkip   Policy = "skip"
)

func ParsePolicy(s string) Policy {
	if strings.EqualFold(strings.TrimSpace(s), string(PolicySkip)) {
		return PolicySkip
	}
	return PolicyCreate
}

type Result struct {
	Kind       Kind
	State      State
	Fetched    int
	Reconciled int
	Skipped    int
	Failed     int
	Pages      int
	StartedAt  time.Time
	FinishedAt time.Time
	// Imported lists orders created by this run.
	Imported []catalog.Order
}

type Engine struct {
	Store    catalog.Store
	Policy   Policy
	PageSize int
	MaxPages int
	Now      func() time.Time
	Log      *zap.Logger
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Engine) log() *zap.Logger {
	if e.Log == nil {
		return zap.NewNop()
	}
	return e.Log
}

func (e *Engine) limits() (pageSize, maxPages int) {
	pageSize, maxPages = e.PageSize, e.MaxPages
	if pageSize <= 0 {
		pageSize = 50
	}
	if maxPages <= 0 {
		maxPages = 20
	}
	return pageSize, maxPages
}

// page fetches and reconciles one page into res and returns the next cursor.
type page func(cursor string, pageSize int, res *Result) (next string, err error)

// run drives the page loop shared by both kinds.
func (e *Engine) run(ctx context.Context, ch *catalog.Channel, kind Kind, fetch page) (Result, error) {
	res := Result{Kind: kind, State: StateIdle, StartedAt: e.now()}
	log := e.log().With(
		zap.String("channel_id", ch.ID),
		zap.String("marketplace", string(ch.Type)),
		zap.String("kind", string(kind)),
	)
	log.Info("sync started")

	pageSize, maxPages := e.limits()
	cursor := ""
	var runErr error
	for res.Pages < maxPages {
		res.State = StateFetching
		next, err := fetch(cursor, pageSize, &res)
		if err != nil {
			runErr = err
			break
		}
		res.Pages++
		if next == "" || next == cursor {
			break
		}
		cursor = next
	}
	if runErr == nil && res.Pages == maxPages && cursor != "" {
		log.Warn("sync stopped at page limit", zap.Int("max_pages", maxPages))
	}

	if runErr == nil {
		// watermark only moves after a clean fetch of every page
		if err := e.Store.TouchLastSync(ctx, ch.ID, e.now()); err != nil {
			runErr = fail(ErrPersistenceFailed, "update last sync time", err)
		}
	}

	res.FinishedAt = e.now()
	if runErr != nil {
		res.State = StateFailed
	} else {
		res.State = StateCompleted
	}
	metrics.ObserveSyncRun(string(ch.Type), string(kind), string(res.State),
		res.FinishedAt.Sub(res.StartedAt), res.Reconciled, res.Skipped, res.Failed)

	fields := []zap.Field{
		zap.String("state", string(res.State)),
		zap.Int("pages", res.Pages),
		zap.Int("fetched", res.Fetched),
		zap.Int("reconciled", res.Reconciled),
		zap.Int("skipped", res.Skipped),
		zap.Int("failed", res.Failed),
	}
	if runErr != nil {
		log.Error("sync failed", append(fields, zap.Error(runErr))...)
		return res, runErr
	}
	log.Info("sync finished", fields...)
	return res, nil
}

// SyncOrders imports every order not yet known for the channel. Orders
// already stored are never touched again.
func (e *Engine) SyncOrders(ctx context.Context, ch *catalog.Channel, src marketplace.OrderSource) (Result, error) {
	loader, _ := src.(marketplace.OrderItemLoader)
	return e.run(ctx, ch, KindOrders, func(cursor string, pageSize int, res *Result) (string, error) {
		p, err := src.FetchOrders(ctx, cursor, pageSize)
		if err != nil {
			return "", fail(ErrUpstreamRequestFailed, "fetch orders", err)
		}
		res.State = StateReconciling
		res.Fetched += len(p.Items)
		for _, ro := range p.Items {
			e.reconcileOrder(ctx, ch, ro, loader, res)
		}
		return p.Next, nil
	})
}

// SyncInventory upserts the remote stock level of every known SKU at the
// channel's warehouse location.
func (e *Engine) SyncInventory(ctx context.Context, ch *catalog.Channel, src marketplace.InventorySource) (Result, error) {
	return e.run(ctx, ch, KindInventory, func(cursor string, pageSize int, res *Result) (string, error) {
		p, err := src.FetchInventory(ctx, cursor, pageSize)
		if err != nil {
			return "", fail(ErrUpstreamRequestFailed, "fetch inventory", err)
		}
		res.State = StateReconciling
		res.Fetched += len(p.Items)
		for _, ri := range p.Items {
			e.reconcileInventory(ctx, ch, ri, res)
		}
		return p.Next, nil
	})
}

func (e *Engine) reconcileOrder(ctx context.Context, ch *catalog.Channel, ro marketplace.RemoteOrder, loader marketplace.OrderItemLoader, res *Result) {
	log := e.log().With(zap.String("channel_id", ch.ID), zap.String("external_order_id", ro.ExternalID))
	if strings.TrimSpace(ro.ExternalID) == "" {
		log.Warn("order without external id skipped")
		res.Failed++
		return
	}
	exists, err := e.Store.OrderExists(ctx, ch.ID, ro.ExternalID)
	if err != nil {
		log.Warn("order lookup failed", zap.Error(err))
		res.Failed++
		return
	}
	if exists {
		res.Skipped++
		return
	}

	remoteItems := ro.Items
	if ro.ItemsDeferred && loader != nil {
		remoteItems, err = loader.LoadOrderItems(ctx, ro.ExternalID)
		if err != nil {
			log.Warn("load order items failed", zap.Error(err))
			res.Failed++
			return
		}
	}

	items := make([]catalog.OrderItem, 0, len(remoteItems))
	for _, ri := range remoteItems {
		p, err := e.resolveProduct(ctx, ch.UserID, ri.SKU, ri.Title, ri.UnitPrice)
		if err != nil {
			log.Warn("resolve product failed", zap.String("sku", ri.SKU), zap.Error(err))
			res.Failed++
			return
		}
		it := catalog.OrderItem{
			SKU:         ri.SKU,
			ProductName: ri.Title,
			Quantity:    ri.Quantity,
			UnitPrice:   ri.UnitPrice,
			TotalPrice:  ri.TotalPrice,
		}
		if p != nil {
			id := p.ID
			it.ProductID = &id
			if it.ProductName == "" {
				it.ProductName = p.Title
			}
		}
		items = append(items, it)
	}

	o := &catalog.Order{
		UserID:          ch.UserID,
		ChannelID:       ch.ID,
		ExternalOrderID: ro.ExternalID,
		OrderNumber:     ro.OrderNumber,
		CustomerName:    ro.CustomerName,
		CustomerEmail:   ro.CustomerEmail,
		ShippingAddress: ro.ShippingAddress,
		Status:          ro.Status,
		PaymentStatus:   ro.PaymentStatus,
		TotalAmount:     ro.Total,
		TaxAmount:       ro.Tax,
		ShippingAmount:  ro.Shipping,
		OrderDate:       ro.OrderDate,
	}
	if o.OrderNumber == "" {
		o.OrderNumber = ro.ExternalID
	}
	if o.Status == "" {
		o.Status = catalog.OrderPending
	}
	if o.PaymentStatus == "" {
		o.PaymentStatus = catalog.PaymentPending
	}
	if o.OrderDate.IsZero() {
		o.OrderDate = e.now()
	}

	created, err := e.Store.CreateOrder(ctx, o, items)
	switch {
	case err != nil:
		log.Warn("store order failed", zap.Error(err))
		res.Failed++
	case !created:
		// lost a race with a concurrent importer
		res.Skipped++
	default:
		res.Reconciled++
		res.Imported = append(res.Imported, *o)
	}
}

func (e *Engine) reconcileInventory(ctx context.Context, ch *catalog.Channel, ri marketplace.RemoteInventory, res *Result) {
	log := e.log().With(zap.String("channel_id", ch.ID), zap.String("sku", ri.SKU))
	if strings.TrimSpace(ri.SKU) == "" {
		res.Skipped++
		return
	}
	p, err := e.resolveProduct(ctx, ch.UserID, ri.SKU, ri.Title, ri.Price)
	if err != nil {
		log.Warn("resolve product failed", zap.Error(err))
		res.Failed++
		return
	}
	if p == nil {
		res.Skipped++
		return
	}
	rec := &catalog.InventoryRecord{
		ProductID:         p.ID,
		WarehouseLocation: ch.Type.WarehouseLocation(),
		Quantity:          ri.Quantity,
	}
	rec.Normalize()
	if err := e.Store.UpsertInventory(ctx, rec); err != nil {
		log.Warn("upsert inventory failed", zap.Error(err))
		res.Failed++
		return
	}
	res.Reconciled++
}

// resolveProduct maps a remote SKU to the local product. Under PolicyCreate an
// unknown SKU is created on first sight; under PolicySkip it resolves to nil.
// A product whose title is still the SKU placeholder takes the remote title.
func (e *Engine) resolveProduct(ctx context.Context, userID, sku, title string, price decimal.Decimal) (*catalog.Product, error) {
	sku = strings.TrimSpace(sku)
	if sku == "" {
		return nil, nil
	}
	title = strings.TrimSpace(title)

	p, err := e.Store.FindProductBySKU(ctx, userID, sku)
	switch {
	case err == nil:
	case errors.Is(err, catalog.ErrNotFound):
		if e.Policy == PolicySkip {
			return nil, nil
		}
		np := &catalog.Product{
			UserID: userID,
			SKU:    sku,
			Title:  title,
			Price:  price,
			Status: catalog.ProductActive,
		}
		if np.Title == "" {
			np.Title = sku
		}
		var created bool
		p, created, err = e.Store.EnsureProduct(ctx, np)
		if err != nil {
			return nil, err
		}
		if created {
			e.log().Info("product created from marketplace sku", zap.String("sku", sku), zap.String("product_id", p.ID))
			return p, nil
		}
	default:
		return nil, err
	}

	if p.PlaceholderTitle() && title != "" && title != sku {
		if err := e.Store.UpdateProductTitle(ctx, p.ID, title); err != nil {
			return nil, err
		}
		p.Title = title
	}
	return p, nil
}
