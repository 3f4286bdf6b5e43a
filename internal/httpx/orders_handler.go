package httpx

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-channel-sync/internal/analytics"
	"github.com/ariefcatur/go-channel-sync/internal/auth"
	"github.com/ariefcatur/go-channel-sync/internal/catalog"
	"github.com/ariefcatur/go-channel-sync/internal/validate"
)

func (a *API) RegisterCatalog(r chi.Router) {
	r.Get("/products", a.listProducts)
	r.Post("/products", a.createProduct)
	r.Get("/orders", a.listOrders)
	r.Get("/inventory", a.listInventory)
	r.Get("/analytics/metrics", a.metrics)
}

type createProductReq struct {
	SKU         string          `json:"sku" validate:"required,max=100"`
	Title       string          `json:"title" validate:"required,max=500"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Cost        decimal.Decimal `json:"cost"`
	Status      string          `json:"status" validate:"omitempty,oneof=active draft archived"`
}

func (a *API) listProducts(w http.ResponseWriter, r *http.Request) {
	ps, err := a.Store.ListProducts(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(ps, toProductView))
}

func (a *API) createProduct(w http.ResponseWriter, r *http.Request) {
	var req createProductReq
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	req.SKU, req.Title = strings.TrimSpace(req.SKU), strings.TrimSpace(req.Title)
	if err := validate.Struct(req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Price.IsNegative() || req.Cost.IsNegative() {
		writeError(w, r, &validate.Error{Fields: []validate.FieldError{{Field: "price", Message: "must not be negative"}}})
		return
	}
	p := &catalog.Product{
		UserID:      auth.UserID(r.Context()),
		SKU:         req.SKU,
		Title:       req.Title,
		Description: req.Description,
		Price:       req.Price,
		Cost:        req.Cost,
		Status:      catalog.ProductStatus(req.Status),
	}
	if err := a.Store.CreateProduct(r.Context(), p); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toProductView(*p))
}

func (a *API) listOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := a.Store.ListOrders(r.Context(), auth.UserID(r.Context()), r.URL.Query().Get("channelId"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(orders, toOrderView))
}

func (a *API) listInventory(w http.ResponseWriter, r *http.Request) {
	recs, err := a.Store.ListInventory(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(recs, toInventoryView))
}

func (a *API) metrics(w http.ResponseWriter, r *http.Request) {
	svc := a.Analytics
	if svc == nil {
		svc = &analytics.Service{Store: a.Store}
	}
	m, err := svc.Metrics(r.Context(), auth.UserID(r.Context()), r.URL.Query().Get("range"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toMetricsView(m))
}
