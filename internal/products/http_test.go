package products_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"MiniProducts/internal/products"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

func newProductsTS(t *testing.T, store products.Store, deps products.HTTPDeps) *httptest.Server {
	t.Helper()

	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	if deps.Service == "" {
		deps.Service = "products"
	}

	s := &products.Server{Store: store, Log: deps.Log}
	ts := httptest.NewServer(products.NewHandler(s, deps))
	t.Cleanup(ts.Close)
	return ts
}

func doRaw(t *testing.T, method, url, body string, headers map[string]string) (*http.Response, []byte) {
	t.Helper()

	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}

	req, err := http.NewRequest(method, url, r)
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, raw
}

func doJSON(t *testing.T, method, url string, body any) (*http.Response, envelope) {
	t.Helper()

	var payload string
	if body != nil {
		var buf bytes.Buffer
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
		payload = buf.String()
	}

	resp, raw := doRaw(t, method, url, payload, nil)

	var env envelope
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &env), "body=%s", string(raw))
	}
	return resp, env
}

func decodeData[T any](t *testing.T, env envelope) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(env.Data, &v), "data=%s", string(env.Data))
	return v
}

func TestProductsAPI_List(t *testing.T) {
	ts := newProductsTS(t, seeded(), products.HTTPDeps{})

	resp, env := doJSON(t, http.MethodGet, ts.URL+"/api/v1/products", nil)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, env.Success)
	assert.Equal(t, products.SeedProducts(), decodeData[[]products.Product](t, env))
}

func TestProductsAPI_ListEmpty(t *testing.T) {
	ts := newProductsTS(t, products.NewMemStore(), products.HTTPDeps{})

	resp, raw := doRaw(t, http.MethodGet, ts.URL+"/api/v1/products", "", nil)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"success":true,"data":[]}`, string(raw))
}

func TestProductsAPI_Get(t *testing.T) {
	ts := newProductsTS(t, seeded(), products.HTTPDeps{})

	t.Run("found", func(t *testing.T) {
		resp, env := doJSON(t, http.MethodGet, ts.URL+"/api/v1/products/2", nil)

		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.True(t, env.Success)
		assert.Equal(t, products.SeedProducts()[1], decodeData[products.Product](t, env))
	})

	t.Run("missing", func(t *testing.T) {
		resp, env := doJSON(t, http.MethodGet, ts.URL+"/api/v1/products/99", nil)

		require.Equal(t, http.StatusNotFound, resp.StatusCode)
		assert.False(t, env.Success)
		assert.Equal(t, "That product id does not exist", env.Message)
	})
}

func TestProductsAPI_CreateThenGet(t *testing.T) {
	ts := newProductsTS(t, seeded(), products.HTTPDeps{})

	resp, env := doJSON(t, http.MethodPost, ts.URL+"/api/v1/products", map[string]any{
		"name":        "P4",
		"description": "P4 description",
		"price":       49.99,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decodeData[products.Product](t, env)
	require.NotEmpty(t, created.ID)
	assert.Equal(t, "P4", created.Name)
	assert.Equal(t, 49.99, created.Price)

	resp, env = doJSON(t, http.MethodGet, ts.URL+"/api/v1/products/"+created.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, created, decodeData[products.Product](t, env))
}

func TestProductsAPI_CreateBadRequests(t *testing.T) {
	ts := newProductsTS(t, seeded(), products.HTTPDeps{})

	tests := []struct {
		name    string
		body    string
		message string
	}{
		{name: "no body", body: "", message: "Please provide the required information."},
		{name: "null body", body: "null", message: "Please provide the required information."},
		{name: "malformed", body: `{"name":`, message: "bad json"},
		{name: "client id", body: `{"id":"mine","name":"x"}`, message: "bad json"},
		{name: "trailing data", body: `{"name":"x"} {}`, message: "bad json"},
		{name: "missing name", body: `{"price":3}`, message: "name failed on rule: required"},
		{name: "negative price", body: `{"name":"x","price":-3}`, message: "price failed on rule: gte"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp, raw := doRaw(t, http.MethodPost, ts.URL+"/api/v1/products", tc.body, nil)

			require.Equal(t, http.StatusBadRequest, resp.StatusCode, "body=%s", string(raw))

			var env envelope
			require.NoError(t, json.Unmarshal(raw, &env))
			assert.False(t, env.Success)
			assert.Contains(t, env.Message, tc.message)
		})
	}

	_, env := doJSON(t, http.MethodGet, ts.URL+"/api/v1/products", nil)
	assert.Len(t, decodeData[[]products.Product](t, env), 3)
}

func TestProductsAPI_Update(t *testing.T) {
	ts := newProductsTS(t, seeded(), products.HTTPDeps{})

	resp, env := doJSON(t, http.MethodPut, ts.URL+"/api/v1/products/1", map[string]any{"price": 25})

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t,
		products.Product{ID: "1", Name: "P1", Description: "P description 1", Price: 25},
		decodeData[products.Product](t, env),
	)
}

func TestProductsAPI_UpdateNullBody(t *testing.T) {
	ts := newProductsTS(t, seeded(), products.HTTPDeps{})

	resp, raw := doRaw(t, http.MethodPut, ts.URL+"/api/v1/products/1", " null ", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode, "body=%s", string(raw))

	var env envelope
	require.NoError(t, json.Unmarshal(raw, &env))
	assert.Equal(t, "Please provide the required information.", env.Message)
}

func TestProductsAPI_UpdateUnknown(t *testing.T) {
	ts := newProductsTS(t, seeded(), products.HTTPDeps{})

	resp, env := doJSON(t, http.MethodPut, ts.URL+"/api/v1/products/nope", map[string]any{"name": "x"})

	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "That product id does not exist", env.Message)

	_, env = doJSON(t, http.MethodGet, ts.URL+"/api/v1/products", nil)
	assert.Len(t, decodeData[[]products.Product](t, env), 3)
}

func TestProductsAPI_UpdateCannotChangeID(t *testing.T) {
	ts := newProductsTS(t, seeded(), products.HTTPDeps{})

	resp, _ := doRaw(t, http.MethodPut, ts.URL+"/api/v1/products/1", `{"id":"9","name":"x"}`, nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	_, env := doJSON(t, http.MethodGet, ts.URL+"/api/v1/products/1", nil)
	assert.Equal(t, products.SeedProducts()[0], decodeData[products.Product](t, env))
}

func TestProductsAPI_Delete(t *testing.T) {
	ts := newProductsTS(t, seeded(), products.HTTPDeps{})

	resp, env := doJSON(t, http.MethodDelete, ts.URL+"/api/v1/products/1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, env.Success)
	assert.Equal(t, "Product 1 removed", env.Message)

	resp, env = doJSON(t, http.MethodDelete, ts.URL+"/api/v1/products/1", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.False(t, env.Success)

	_, env = doJSON(t, http.MethodGet, ts.URL+"/api/v1/products", nil)
	assert.Len(t, decodeData[[]products.Product](t, env), 2)
}

type failingStore struct {
	products.MemStore
	err error
}

func (f *failingStore) Ping(context.Context) error { return f.err }

func (f *failingStore) List(context.Context) ([]products.Product, error) { return nil, f.err }

func (f *failingStore) Create(context.Context, products.NewProduct) (products.Product, error) {
	return products.Product{}, f.err
}

func TestProductsAPI_PersistenceFailure(t *testing.T) {
	cause := errors.New("connection refused")
	store := &failingStore{err: fmt.Errorf("%w: %w", products.ErrPersistence, cause)}
	ts := newProductsTS(t, store, products.HTTPDeps{})

	resp, env := doJSON(t, http.MethodPost, ts.URL+"/api/v1/products", map[string]any{"name": "x"})
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.False(t, env.Success)
	assert.Equal(t, "persistence failure: connection refused", env.Message)

	resp, _ = doJSON(t, http.MethodGet, ts.URL+"/api/v1/products", nil)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	resp, _ = doRaw(t, http.MethodGet, ts.URL+"/readyz", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestProductsAPI_HealthAndReady(t *testing.T) {
	ts := newProductsTS(t, seeded(), products.HTTPDeps{})

	resp, _ := doRaw(t, http.MethodGet, ts.URL+"/healthz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = doRaw(t, http.MethodGet, ts.URL+"/readyz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestProductsAPI_WriteRateLimit(t *testing.T) {
	ts := newProductsTS(t, seeded(), products.HTTPDeps{WritesPerMinute: 1})

	resp, _ := doJSON(t, http.MethodPut, ts.URL+"/api/v1/products/1", map[string]any{"price": 1})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, env := doJSON(t, http.MethodPut, ts.URL+"/api/v1/products/1", map[string]any{"price": 2})
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "too many requests", env.Message)

	// reads are never limited
	for range 3 {
		resp, _ = doJSON(t, http.MethodGet, ts.URL+"/api/v1/products/1", nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	}
}

func TestProductsAPI_WriteRateLimitIgnoresForwardedFor(t *testing.T) {
	ts := newProductsTS(t, seeded(), products.HTTPDeps{WritesPerMinute: 1})

	var ok, limited int
	for i := range 20 {
		resp, _ := doRaw(t, http.MethodPut, ts.URL+"/api/v1/products/1", `{"price":1}`, map[string]string{
			"X-Forwarded-For": fmt.Sprintf("203.0.113.%d", i),
		})
		switch resp.StatusCode {
		case http.StatusOK:
			ok++
		case http.StatusTooManyRequests:
			limited++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 19, limited)
}

func TestProductsAPI_WriteRateLimitTrustedProxy(t *testing.T) {
	ts := newProductsTS(t, seeded(), products.HTTPDeps{WritesPerMinute: 1, TrustForwardedFor: true})

	put := func(client string) int {
		resp, _ := doRaw(t, http.MethodPut, ts.URL+"/api/v1/products/1", `{"price":1}`, map[string]string{
			"X-Forwarded-For": client,
		})
		return resp.StatusCode
	}

	assert.Equal(t, http.StatusOK, put("198.51.100.1"))
	assert.Equal(t, http.StatusTooManyRequests, put("198.51.100.1"))
	assert.Equal(t, http.StatusOK, put("198.51.100.2"))
}

func TestProductsAPI_MetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	store := products.NewInstrumentedStore(seeded(), reg)
	ts := newProductsTS(t, store, products.HTTPDeps{
		Registry:       reg,
		MetricsEnabled: true,
		MetricsToken:   "t0ken",
	})

	resp, _ := doJSON(t, http.MethodGet, ts.URL+"/api/v1/products/1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = doRaw(t, http.MethodGet, ts.URL+"/metrics", "", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, raw := doRaw(t, http.MethodGet, ts.URL+"/metrics", "", map[string]string{
		"Authorization": "Bearer t0ken",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := string(raw)
	assert.Contains(t, body, `http_requests_total{method="GET",path="/api/v1/products/{id}",service="products",status="200"} 1`)
	assert.Contains(t, body, `product_store_operations_total{op="get",outcome="ok"} 1`)
}
