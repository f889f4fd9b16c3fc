// Package httpapi отдаёт корзину одного контекста по HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/cartsync/internal/domain"
)

// CartStore описывает операции cart.Store, которые нужны обработчикам.
type CartStore interface {
	AddItem(ctx context.Context, product domain.Product)
	RemoveItem(ctx context.Context, id string)
	UpdateQuantity(ctx context.Context, id string, quantity int) error
	ClearCart(ctx context.Context)
	Cart() domain.Cart
	Loading() bool
	Err() string
}

// CartHandler обслуживает /api/products и /api/cart.
type CartHandler struct {
	store   CartStore
	catalog domain.Catalog
	logger  *log.Entry
}

// NewCartHandler создаёт обработчик.
func NewCartHandler(store CartStore, catalog domain.Catalog, logger *log.Entry) *CartHandler {
	if logger == nil {
		logger = log.WithField("component", "http")
	}
	return &CartHandler{store: store, catalog: catalog, logger: logger}
}

type AddItemRequestDTO struct {
	ProductID string `json:"product_id"`
}

type UpdateQuantityRequestDTO struct {
	Quantity *int `json:"quantity"`
}

// CartResponseDTO — корзина вместе со служебным состоянием Store.
type CartResponseDTO struct {
	Items     []domain.CartLine `json:"items"`
	Total     decimal.Decimal   `json:"total"`
	ItemCount int               `json:"item_count"`
	Loading   bool              `json:"loading"`
	Error     string            `json:"error,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func (h *CartHandler) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.catalog.List(r.Context())
	if err != nil {
		h.logger.WithError(err).Warn("failed to list products")
		h.respondError(w, http.StatusServiceUnavailable, "catalog_unavailable", "catalog is unavailable")
		return
	}
	h.respondJSON(w, http.StatusOK, products)
}

func (h *CartHandler) GetCart(w http.ResponseWriter, _ *http.Request) {
	h.respondCart(w, http.StatusOK)
}

func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	var req AddItemRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.ProductID == "" {
		h.respondError(w, http.StatusBadRequest, "invalid_product_id", "product_id is required")
		return
	}

	products, err := h.catalog.BatchLookup(r.Context(), []string{req.ProductID})
	if err != nil {
		h.logger.WithError(err).WithField("product_id", req.ProductID).Warn("catalog lookup failed")
		h.respondError(w, http.StatusServiceUnavailable, "catalog_unavailable", "catalog is unavailable")
		return
	}
	if len(products) == 0 {
		h.respondError(w, http.StatusNotFound, "product_not_found", domain.ErrProductNotFound.Error())
		return
	}

	h.store.AddItem(r.Context(), products[0])
	h.respondCart(w, http.StatusOK)
}

func (h *CartHandler) UpdateQuantity(w http.ResponseWriter, r *http.Request) {
	var req UpdateQuantityRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Quantity == nil {
		h.respondError(w, http.StatusBadRequest, "invalid_request", "quantity is required")
		return
	}

	err := h.store.UpdateQuantity(r.Context(), chi.URLParam(r, "id"), *req.Quantity)
	if errors.Is(err, domain.ErrLineUnavailable) {
		h.respondError(w, http.StatusConflict, "line_unavailable", err.Error())
		return
	}
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	h.respondCart(w, http.StatusOK)
}

func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	h.store.RemoveItem(r.Context(), chi.URLParam(r, "id"))
	h.respondCart(w, http.StatusOK)
}

func (h *CartHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	h.store.ClearCart(r.Context())
	h.respondCart(w, http.StatusOK)
}

func (h *CartHandler) respondCart(w http.ResponseWriter, status int) {
	cart := h.store.Cart()
	h.respondJSON(w, status, CartResponseDTO{
		Items:     cart.Items,
		Total:     cart.Total,
		ItemCount: cart.ItemCount(),
		Loading:   h.store.Loading(),
		Error:     h.store.Err(),
	})
}

func (h *CartHandler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.WithError(err).Warn("failed to encode response")
	}
}

func (h *CartHandler) respondError(w http.ResponseWriter, status int, code, message string) {
	h.respondJSON(w, status, ErrorResponse{Error: message, Code: code})
}
