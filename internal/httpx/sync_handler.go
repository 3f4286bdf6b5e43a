package httpx

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-channel-sync/internal/auth"
	"github.com/ariefcatur/go-channel-sync/internal/catalog"
	"github.com/ariefcatur/go-channel-sync/internal/listing"
	"github.com/ariefcatur/go-channel-sync/internal/marketplace"
	"github.com/ariefcatur/go-channel-sync/internal/reconcile"
)

func (a *API) RegisterSync(r chi.Router) {
	r.Post("/{marketplace}/sync-orders", a.sync(reconcile.KindOrders))
	r.Post("/{marketplace}/sync-inventory", a.sync(reconcile.KindInventory))
}

func (a *API) RegisterListings(r chi.Router) {
	r.Post("/{marketplace}/list-product", a.listProduct)
	r.Post("/{marketplace}/listings", a.upsertListing)
}

type syncResp struct {
	OK      bool   `json:"ok"`
	Count   int    `json:"count"`
	Skipped int    `json:"skipped"`
	Failed  int    `json:"failed"`
	Pages   int    `json:"pages"`
	Queued  bool   `json:"queued,omitempty"`
	EventID string `json:"event_id,omitempty"`
}

type channelBody struct {
	ChannelID string `json:"channelId"`
	ProductID string `json:"productId"`
}

// channelID reads ?channelId= first and falls back to the JSON body.
func channelID(r *http.Request) (channelBody, error) {
	var body channelBody
	if err := decodeJSON(r, &body); err != nil {
		return body, err
	}
	if q := r.URL.Query().Get("channelId"); q != "" {
		body.ChannelID = q
	}
	return body, nil
}

func (a *API) sync(kind reconcile.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := channelID(r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		req := reconcile.Request{
			UserID:      auth.UserID(r.Context()),
			ChannelID:   body.ChannelID,
			Marketplace: catalog.ChannelType(chi.URLParam(r, "marketplace")),
			Kind:        kind,
		}

		if async, _ := strconv.ParseBool(r.URL.Query().Get("async")); async {
			id, err := a.Sync.Enqueue(r.Context(), req)
			if err != nil {
				writeError(w, r, err)
				return
			}
			writeJSON(w, http.StatusAccepted, syncResp{OK: true, Queued: true, EventID: id})
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), a.syncTimeout())
		defer cancel()
		res, err := a.Sync.Sync(ctx, req)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, syncResp{OK: true, Count: res.Reconciled, Skipped: res.Skipped, Failed: res.Failed, Pages: res.Pages})
	}
}

func (a *API) listProduct(w http.ResponseWriter, r *http.Request) {
	body, err := channelID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	l, err := a.Listing.ListProduct(r.Context(), listing.Request{
		UserID:      auth.UserID(r.Context()),
		Marketplace: catalog.ChannelType(chi.URLParam(r, "marketplace")),
		ChannelID:   body.ChannelID,
		ProductID:   body.ProductID,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newListingResp(l))
}

type upsertListingReq struct {
	SKU         string          `json:"sku"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Quantity    int             `json:"quantity"`
}

func (a *API) upsertListing(w http.ResponseWriter, r *http.Request) {
	var req upsertListingReq
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	l, err := a.Listing.Upsert(r.Context(), listing.UpsertRequest{
		UserID:      auth.UserID(r.Context()),
		Marketplace: catalog.ChannelType(chi.URLParam(r, "marketplace")),
		ChannelID:   strings.TrimSpace(r.URL.Query().Get("channelId")),
		Input: marketplace.ListingInput{
			SKU:         req.SKU,
			Title:       req.Title,
			Description: req.Description,
			Price:       req.Price,
			Quantity:    req.Quantity,
		},
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newListingResp(l))
}
