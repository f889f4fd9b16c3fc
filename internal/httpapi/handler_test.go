package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/cartsync/internal/cart"
	"github.com/vladislavdragonenkov/cartsync/internal/domain"
	"github.com/vladislavdragonenkov/cartsync/internal/persistence"
	"github.com/vladislavdragonenkov/cartsync/internal/storage/memory"
)

type testServer struct {
	handler http.Handler
	store   *cart.Store
	catalog *memory.Catalog
	kv      *memory.KVStore
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	kv := memory.NewKVStore(0)
	catalog := memory.NewCatalog(memory.SampleProducts())
	store := cart.NewStore(persistence.NewAdapter(kv, catalog))
	require.NoError(t, store.Load(context.Background()))

	return &testServer{
		handler: NewRouter(NewCartHandler(store, catalog, nil), 0),
		store:   store,
		catalog: catalog,
		kv:      kv,
	}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)
	return w
}

func decodeCart(t *testing.T, w *httptest.ResponseRecorder) CartResponseDTO {
	t.Helper()
	var resp CartResponseDTO
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	return resp
}

func TestListProducts(t *testing.T) {
	srv := newTestServer(t)

	w := srv.do(t, http.MethodGet, "/api/products", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var products []domain.Product
	require.NoError(t, json.NewDecoder(w.Body).Decode(&products))
	require.Len(t, products, 5)
	assert.Equal(t, "Wireless Headphones", products[0].Name)
}

func TestAddItemTwiceAndGetCart(t *testing.T) {
	srv := newTestServer(t)

	require.Equal(t, http.StatusOK, srv.do(t, http.MethodPost, "/api/cart/items", AddItemRequestDTO{ProductID: "1"}).Code)
	w := srv.do(t, http.MethodPost, "/api/cart/items", AddItemRequestDTO{ProductID: "1"})
	require.Equal(t, http.StatusOK, w.Code)

	resp := decodeCart(t, w)
	require.Len(t, resp.Items, 1)
	assert.Equal(t, 2, resp.Items[0].Quantity)
	assert.Equal(t, 2, resp.ItemCount)
	assert.True(t, resp.Total.Equal(decimal.RequireFromString("159.98")))
	assert.False(t, resp.Loading)

	got := decodeCart(t, srv.do(t, http.MethodGet, "/api/cart", nil))
	assert.Equal(t, 2, got.ItemCount)

	_, err := srv.kv.Get(context.Background(), domain.CartStorageKey)
	assert.NoError(t, err, "mutation must be persisted")
}

func TestAddItemErrors(t *testing.T) {
	srv := newTestServer(t)

	tests := []struct {
		name string
		body any
		code int
	}{
		{"unknown product", AddItemRequestDTO{ProductID: "404"}, http.StatusNotFound},
		{"missing id", AddItemRequestDTO{}, http.StatusBadRequest},
		{"bad json", "nope", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := srv.do(t, http.MethodPost, "/api/cart/items", tt.body)
			assert.Equal(t, tt.code, w.Code)

			var resp ErrorResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
			assert.NotEmpty(t, resp.Error)
		})
	}
}

func TestAddItemCatalogUnavailable(t *testing.T) {
	srv := newTestServer(t)
	srv.catalog.FailWith(domain.ErrCatalogUnavailable)

	w := srv.do(t, http.MethodPost, "/api/cart/items", AddItemRequestDTO{ProductID: "1"})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestUpdateQuantity(t *testing.T) {
	srv := newTestServer(t)
	srv.do(t, http.MethodPost, "/api/cart/items", AddItemRequestDTO{ProductID: "5"})

	qty := 3
	w := srv.do(t, http.MethodPatch, "/api/cart/items/5", UpdateQuantityRequestDTO{Quantity: &qty})
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decodeCart(t, w).Total.Equal(decimal.RequireFromString("119.97")))

	zero := 0
	w = srv.do(t, http.MethodPatch, "/api/cart/items/5", UpdateQuantityRequestDTO{Quantity: &zero})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decodeCart(t, w).Items)

	w = srv.do(t, http.MethodPatch, "/api/cart/items/5", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUpdateQuantityUnavailableLine(t *testing.T) {
	ctx := context.Background()
	kv := memory.NewKVStore(0)
	require.NoError(t, kv.Set(ctx, domain.CartStorageKey, []byte(`{"items":[{"id":"9","quantity":1}],"timestamp":1}`)))
	catalog := memory.NewCatalog(memory.SampleProducts())
	store := cart.NewStore(persistence.NewAdapter(kv, catalog))
	require.NoError(t, store.Load(ctx))
	srv := &testServer{handler: NewRouter(NewCartHandler(store, catalog, nil), 0), store: store}

	qty := 2
	w := srv.do(t, http.MethodPatch, "/api/cart/items/9", UpdateQuantityRequestDTO{Quantity: &qty})
	assert.Equal(t, http.StatusConflict, w.Code)

	resp := decodeCart(t, srv.do(t, http.MethodGet, "/api/cart", nil))
	require.Len(t, resp.Items, 1)
	assert.True(t, resp.Items[0].Unavailable)
	assert.Equal(t, "Product 9 (Unavailable)", resp.Items[0].Name)
}

func TestRemoveAndClear(t *testing.T) {
	srv := newTestServer(t)
	srv.do(t, http.MethodPost, "/api/cart/items", AddItemRequestDTO{ProductID: "1"})
	srv.do(t, http.MethodPost, "/api/cart/items", AddItemRequestDTO{ProductID: "2"})

	w := srv.do(t, http.MethodDelete, "/api/cart/items/1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, decodeCart(t, w).ItemCount)

	w = srv.do(t, http.MethodDelete, "/api/cart", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeCart(t, w)
	assert.Zero(t, resp.ItemCount)
	assert.True(t, resp.Total.IsZero())
}

func TestGetCartReportsAdvisory(t *testing.T) {
	ctx := context.Background()
	catalog := memory.NewCatalog(memory.SampleProducts())
	store := cart.NewStore(persistence.NewAdapter(memory.NewKVStore(40), catalog))
	require.NoError(t, store.Load(ctx))
	srv := &testServer{handler: NewRouter(NewCartHandler(store, catalog, nil), 0), store: store}

	w := srv.do(t, http.MethodPost, "/api/cart/items", AddItemRequestDTO{ProductID: "1"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Storage full. Cart will be lost on page refresh.", decodeCart(t, w).Error)
}
