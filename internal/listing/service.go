// Package listing publishes local products on marketplaces that accept
// listings from the seller (Amazon, eBay).
package listing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ariefcatur/go-channel-sync/internal/catalog"
	"github.com/ariefcatur/go-channel-sync/internal/marketplace"
	"github.com/ariefcatur/go-channel-sync/internal/reconcile"
)

type Service struct {
	Store   catalog.Store
	Clients reconcile.Clients
	Log     *zap.Logger
}

type Request struct {
	UserID      string
	Marketplace catalog.ChannelType
	ChannelID   string
	ProductID   string
}

func (s *Service) log() *zap.Logger {
	if s.Log == nil {
		return zap.NewNop()
	}
	return s.Log
}

// ListProduct pushes the product to the channel and records a product_listings
// row. Quantity is the product's available stock summed over every location.
func (s *Service) ListProduct(ctx context.Context, req Request) (*catalog.Listing, error) {
	if req.UserID == "" {
		return nil, reconcile.NewError(reconcile.ErrUnauthorized, "authentication required", nil)
	}
	if strings.TrimSpace(req.ChannelID) == "" || strings.TrimSpace(req.ProductID) == "" {
		return nil, reconcile.NewError(reconcile.ErrValidation, "channelId and productId are required", nil)
	}
	ch, err := s.channel(ctx, req.UserID, req.Marketplace, req.ChannelID)
	if err != nil {
		return nil, err
	}
	p, err := s.Store.GetProduct(ctx, req.UserID, req.ProductID)
	if errors.Is(err, catalog.ErrNotFound) {
		return nil, reconcile.NewError(reconcile.ErrProductNotFound, "product not found", nil)
	}
	if err != nil {
		return nil, reconcile.NewError(reconcile.ErrPersistenceFailed, "load product", err)
	}
	pub, err := s.publisher(ch)
	if err != nil {
		return nil, err
	}

	qty, err := s.available(ctx, req.UserID, p.ID)
	if err != nil {
		return nil, reconcile.NewError(reconcile.ErrPersistenceFailed, "load inventory", err)
	}
	in := marketplace.ListingInput{
		SKU:         p.SKU,
		Title:       p.Title,
		Description: p.Description,
		Price:       p.Price,
		Quantity:    qty,
	}
	if err := s.publish(ctx, ch, pub, in); err != nil {
		return nil, err
	}
	return s.record(ctx, ch, p, in)
}

// UpsertRequest publishes caller-supplied listing fields. Fields left empty
// are filled from the local product with the same SKU, when there is one.
type UpsertRequest struct {
	UserID      string
	Marketplace catalog.ChannelType
	ChannelID   string
	Input       marketplace.ListingInput
}

// Upsert creates or replaces a listing by SKU. A product_listings row is
// recorded only when the SKU is in the local catalog.
func (s *Service) Upsert(ctx context.Context, req UpsertRequest) (*catalog.Listing, error) {
	if req.UserID == "" {
		return nil, reconcile.NewError(reconcile.ErrUnauthorized, "authentication required", nil)
	}
	if strings.TrimSpace(req.ChannelID) == "" {
		return nil, reconcile.NewError(reconcile.ErrValidation, "channelId is required", nil)
	}
	in := req.Input
	in.SKU = strings.TrimSpace(in.SKU)
	if in.SKU == "" {
		return nil, reconcile.NewError(reconcile.ErrValidation, "sku is required", nil)
	}
	ch, err := s.channel(ctx, req.UserID, req.Marketplace, req.ChannelID)
	if err != nil {
		return nil, err
	}
	pub, err := s.publisher(ch)
	if err != nil {
		return nil, err
	}

	p, err := s.Store.FindProductBySKU(ctx, req.UserID, in.SKU)
	switch {
	case errors.Is(err, catalog.ErrNotFound):
		p = nil
	case err != nil:
		return nil, reconcile.NewError(reconcile.ErrPersistenceFailed, "load product", err)
	default:
		if in.Title == "" {
			in.Title = p.Title
		}
		if in.Description == "" {
			in.Description = p.Description
		}
		if in.Price.IsZero() {
			in.Price = p.Price
		}
	}
	if in.Title == "" {
		return nil, reconcile.NewError(reconcile.ErrValidation, "title is required for a SKU not in the catalog", nil)
	}

	if err := s.publish(ctx, ch, pub, in); err != nil {
		return nil, err
	}
	if p == nil {
		return nil, nil
	}
	return s.record(ctx, ch, p, in)
}

func (s *Service) channel(ctx context.Context, userID string, mp catalog.ChannelType, channelID string) (*catalog.Channel, error) {
	ch, err := s.Store.GetChannel(ctx, userID, channelID)
	if errors.Is(err, catalog.ErrNotFound) {
		return nil, reconcile.NewError(reconcile.ErrChannelNotFound, "channel not found", nil)
	}
	if err != nil {
		return nil, reconcile.NewError(reconcile.ErrPersistenceFailed, "load channel", err)
	}
	if mp != "" && ch.Type != mp {
		return nil, reconcile.NewError(reconcile.ErrInvalidChannelType,
			fmt.Sprintf("channel is not a %s channel", mp.DisplayName()), nil)
	}
	return ch, nil
}

func (s *Service) publisher(ch *catalog.Channel) (marketplace.ListingPublisher, error) {
	client, err := s.Clients.New(ch, func(ctx context.Context, creds json.RawMessage) error {
		return s.Store.UpdateChannelCredentials(ctx, ch.ID, creds)
	})
	if err != nil {
		return nil, mapClientError(err)
	}
	pub, ok := client.(marketplace.ListingPublisher)
	if !ok {
		return nil, reconcile.NewError(reconcile.ErrInvalidChannelType,
			ch.Type.DisplayName()+" does not accept listings", nil)
	}
	return pub, nil
}

func (s *Service) publish(ctx context.Context, ch *catalog.Channel, pub marketplace.ListingPublisher, in marketplace.ListingInput) error {
	if err := pub.PublishListing(ctx, in); err != nil {
		s.log().Warn("publish listing failed",
			zap.String("channel_id", ch.ID), zap.String("sku", in.SKU), zap.Error(err))
		return mapClientError(err)
	}
	return nil
}

func (s *Service) record(ctx context.Context, ch *catalog.Channel, p *catalog.Product, in marketplace.ListingInput) (*catalog.Listing, error) {
	l := &catalog.Listing{
		ProductID:    p.ID,
		ChannelID:    ch.ID,
		ChannelSKU:   in.SKU,
		ChannelPrice: in.Price,
		Active:       true,
	}
	if err := s.Store.CreateListing(ctx, l); err != nil {
		return nil, reconcile.NewError(reconcile.ErrPersistenceFailed, "record listing", err)
	}
	s.log().Info("product listed",
		zap.String("channel_id", ch.ID), zap.String("marketplace", string(ch.Type)),
		zap.String("product_id", p.ID), zap.Int("quantity", in.Quantity))
	return l, nil
}

func (s *Service) available(ctx context.Context, userID, productID string) (int, error) {
	recs, err := s.Store.ListInventory(ctx, userID)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, r := range recs {
		if r.ProductID == productID {
			total += r.AvailableQuantity
		}
	}
	return total, nil
}

func mapClientError(err error) error {
	switch {
	case errors.Is(err, marketplace.ErrCredentials):
		return reconcile.NewError(reconcile.ErrValidation, "channel credentials are incomplete", err)
	case errors.Is(err, marketplace.ErrNotConfigured):
		return reconcile.NewError(reconcile.ErrNotConfigured, "marketplace app is not configured", err)
	case errors.Is(err, marketplace.ErrUnsupported):
		return reconcile.NewError(reconcile.ErrInvalidChannelType, "marketplace not supported", err)
	}
	return reconcile.NewError(reconcile.ErrUpstreamRequestFailed, "publish listing", err)
}
