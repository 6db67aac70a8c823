package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"Pantry/internal/catalog"
	"Pantry/internal/foodapi"
	"Pantry/internal/server"
	"Pantry/internal/session"
	"Pantry/internal/shop"
	"Pantry/pkg/kit"
)

const (
	testSecret   = "0123456789abcdef0123456789abcdef"
	metricsToken = "scrape-me"
)

type fakeUpstream struct {
	mu         sync.Mutex
	products   map[string]foodapi.Product
	productErr error
	categories []foodapi.Category
	calls      []string
}

func (f *fakeUpstream) listing(kind, arg string, page int) []foodapi.Product {
	f.mu.Lock()
	f.calls = append(f.calls, fmt.Sprintf("%s:%s:%d", kind, arg, page))
	f.mu.Unlock()

	n := 0
	switch page {
	case 1:
		n = foodapi.PageSize
	case 2:
		n = 10
	}
	out := make([]foodapi.Product, n)
	for i := range out {
		out[i] = foodapi.Product{Code: fmt.Sprintf("%s-%d-%02d", arg, page, i), Name: fmt.Sprintf("%s %d %02d", arg, page, i)}
	}
	return out
}

func (f *fakeUpstream) Search(_ context.Context, q string, page int) ([]foodapi.Product, error) {
	return f.listing("search", q, page), nil
}

func (f *fakeUpstream) ByCategory(_ context.Context, id string, page int) ([]foodapi.Product, error) {
	return f.listing("category", id, page), nil
}

func (f *fakeUpstream) Product(_ context.Context, code string) (foodapi.Product, bool, error) {
	if f.productErr != nil {
		return foodapi.Product{}, false, f.productErr
	}
	p, ok := f.products[code]
	return p, ok, nil
}

func (f *fakeUpstream) Categories(context.Context) ([]foodapi.Category, error) {
	return f.categories, nil
}

type testEnv struct {
	ts       *httptest.Server
	sessions *server.Registry
}

func newTestEnv(t *testing.T, up server.Upstream, kv shop.KV) testEnv {
	t.Helper()

	reg := prometheus.NewRegistry()
	sessions := server.NewRegistry(kv, up, catalog.Options{Debounce: 5 * time.Millisecond}, zap.NewNop(), reg)
	t.Cleanup(sessions.Close)

	s := &server.Server{
		Log:      zap.NewNop(),
		KV:       kv,
		Upstream: up,
		Sessions: sessions,
		Tokens:   session.NewTokenMaker(testSecret),
		TokenTTL: time.Hour,
		Limiter:  kit.NewIPRateLimiter(5, time.Minute),
	}

	h := server.NewHandler(s, server.HTTPDeps{
		Log:          zap.NewNop(),
		Service:      "pantry",
		Registry:     reg,
		MetricsToken: metricsToken,
	})

	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)
	return testEnv{ts: ts, sessions: sessions}
}

func doJSON(t *testing.T, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()

	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}

	req, err := http.NewRequest(method, url, r)
	require.NoError(t, err)
	if body != nil {
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

func newSession(t *testing.T, baseURL string) map[string]string {
	t.Helper()

	resp, raw := doJSON(t, http.MethodPost, baseURL+"/api/sessions", nil, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(raw))

	var out struct {
		SessionID string `json:"session_id"`
		Token     string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(raw, &out))
	require.NotEmpty(t, out.Token)

	return map[string]string{"Authorization": "Bearer " + out.Token}
}

type cartBody struct {
	Items      []shop.CartEntry `json:"items"`
	Count      int              `json:"count"`
	TotalCents int64            `json:"total_cents"`
	Open       bool             `json:"open"`
}

func decode[T any](t *testing.T, raw []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v), string(raw))
	return v
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, &fakeUpstream{}, shop.NewMemKV())

	resp, _ := doJSON(t, http.MethodGet, env.ts.URL+"/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodGet, env.ts.URL+"/readyz", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, raw := doJSON(t, http.MethodGet, env.ts.URL+"/nope", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, string(raw), "route not found")
}

func TestSessionRequired(t *testing.T) {
	env := newTestEnv(t, &fakeUpstream{}, shop.NewMemKV())

	resp, _ := doJSON(t, http.MethodGet, env.ts.URL+"/api/cart", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodGet, env.ts.URL+"/api/cart", nil, map[string]string{"Authorization": "Bearer forged"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSessionCreation_SetsCookieAndIsRateLimited(t *testing.T) {
	env := newTestEnv(t, &fakeUpstream{}, shop.NewMemKV())

	resp, _ := doJSON(t, http.MethodPost, env.ts.URL+"/api/sessions", nil, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var cookie *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == session.CookieName {
			cookie = c
		}
	}
	require.NotNil(t, cookie)
	assert.True(t, cookie.HttpOnly)

	req, err := http.NewRequest(http.MethodGet, env.ts.URL+"/api/cart", nil)
	require.NoError(t, err)
	req.AddCookie(cookie)
	cartResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = cartResp.Body.Close()
	assert.Equal(t, http.StatusOK, cartResp.StatusCode)

	status := 0
	for i := 0; i < 5; i++ {
		resp, _ := doJSON(t, http.MethodPost, env.ts.URL+"/api/sessions", nil, nil)
		status = resp.StatusCode
	}
	assert.Equal(t, http.StatusTooManyRequests, status)
}

func TestCartFlow(t *testing.T) {
	env := newTestEnv(t, &fakeUpstream{}, shop.NewMemKV())
	auth := newSession(t, env.ts.URL)
	apple := map[string]any{"product": map[string]any{"code": "a1", "product_name": "Apple"}}

	var cart cartBody
	for i := 0; i < 2; i++ {
		resp, raw := doJSON(t, http.MethodPost, env.ts.URL+"/api/cart/items", apple, auth)
		require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))
		cart = decode[cartBody](t, raw)
	}
	require.Len(t, cart.Items, 1)
	assert.Equal(t, 2, cart.Items[0].Quantity)
	assert.Equal(t, "Apple", cart.Items[0].Name)
	assert.Equal(t, 2, cart.Count)
	assert.Equal(t, int64(2*shop.UnitPriceCents), cart.TotalCents)
	assert.True(t, cart.Open, "adding opens the cart")

	_, raw := doJSON(t, http.MethodPost, env.ts.URL+"/api/cart/items/a1/decrease", nil, auth)
	cart = decode[cartBody](t, raw)
	assert.Equal(t, 1, cart.Items[0].Quantity)

	_, raw = doJSON(t, http.MethodPost, env.ts.URL+"/api/cart/toggle", nil, auth)
	assert.False(t, decode[cartBody](t, raw).Open)

	_, raw = doJSON(t, http.MethodPost, env.ts.URL+"/api/cart/items/a1/decrease", nil, auth)
	cart = decode[cartBody](t, raw)
	assert.Empty(t, cart.Items)
	assert.Zero(t, cart.Count)

	doJSON(t, http.MethodPost, env.ts.URL+"/api/cart/items", apple, auth)
	_, raw = doJSON(t, http.MethodDelete, env.ts.URL+"/api/cart/items/a1", nil, auth)
	assert.Empty(t, decode[cartBody](t, raw).Items)
}

func TestAddToCart_RejectsBadBodies(t *testing.T) {
	env := newTestEnv(t, &fakeUpstream{}, shop.NewMemKV())
	auth := newSession(t, env.ts.URL)

	for name, body := range map[string]any{
		"missing code":  map[string]any{"product": map[string]any{"product_name": "Nameless"}},
		"unknown field": map[string]any{"product": map[string]any{"code": "x"}, "qty": 3},
	} {
		resp, _ := doJSON(t, http.MethodPost, env.ts.URL+"/api/cart/items", body, auth)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, name)
	}
}

func TestCart_SurvivesRestart(t *testing.T) {
	kv := shop.NewMemKV()

	first := newTestEnv(t, &fakeUpstream{}, kv)
	auth := newSession(t, first.ts.URL)
	doJSON(t, http.MethodPost, first.ts.URL+"/api/cart/items", map[string]any{"product": map[string]any{"code": "a1"}}, auth)
	doJSON(t, http.MethodPost, first.ts.URL+"/api/compare/items", map[string]any{"product": map[string]any{"code": "c1"}}, auth)

	second := newTestEnv(t, &fakeUpstream{}, kv)

	_, raw := doJSON(t, http.MethodGet, second.ts.URL+"/api/cart", nil, auth)
	cart := decode[cartBody](t, raw)
	require.Len(t, cart.Items, 1)
	assert.Equal(t, "a1", cart.Items[0].Code)
	assert.False(t, cart.Open, "visibility is not restored")

	_, raw = doJSON(t, http.MethodGet, second.ts.URL+"/api/compare", nil, auth)
	assert.Contains(t, string(raw), `"c1"`)
}

func TestCompare_Capacity(t *testing.T) {
	env := newTestEnv(t, &fakeUpstream{}, shop.NewMemKV())
	auth := newSession(t, env.ts.URL)

	add := func(code string) (*http.Response, []byte) {
		return doJSON(t, http.MethodPost, env.ts.URL+"/api/compare/items", map[string]any{"product": map[string]any{"code": code}}, auth)
	}

	for _, code := range []string{"1", "2", "3"} {
		resp, raw := add(code)
		require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))
	}

	resp, raw := add("4")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "compare list is full", decode[kit.ErrorResponse](t, raw).Error)

	_, raw = doJSON(t, http.MethodGet, env.ts.URL+"/api/compare", nil, auth)
	body := decode[struct {
		Items []foodapi.Product    `json:"items"`
		Table catalog.CompareTable `json:"table"`
	}](t, raw)
	assert.Len(t, body.Items, 3)
	assert.Zero(t, body.Table.EmptySlots)

	_, raw = doJSON(t, http.MethodDelete, env.ts.URL+"/api/compare/items/2", nil, auth)
	assert.NotContains(t, string(raw), `"code":"2"`)
}

func TestCatalog_ReloadAndLoadMore(t *testing.T) {
	up := &fakeUpstream{}
	env := newTestEnv(t, up, shop.NewMemKV())
	auth := newSession(t, env.ts.URL)

	resp, raw := doJSON(t, http.MethodPost, env.ts.URL+"/api/catalog/reload", nil, auth)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	st := decode[catalog.State](t, raw)
	assert.Len(t, st.Items, 24)
	assert.True(t, st.HasMore)
	assert.Equal(t, 2, st.NextPage)

	type more struct {
		Issued bool          `json:"issued"`
		State  catalog.State `json:"state"`
	}

	_, raw = doJSON(t, http.MethodPost, env.ts.URL+"/api/catalog/more", nil, auth)
	m := decode[more](t, raw)
	assert.True(t, m.Issued)
	assert.Len(t, m.State.Items, 34)
	assert.False(t, m.State.HasMore)

	_, raw = doJSON(t, http.MethodPost, env.ts.URL+"/api/catalog/more", nil, auth)
	assert.False(t, decode[more](t, raw).Issued)

	_, raw = doJSON(t, http.MethodGet, env.ts.URL+"/api/catalog?sort=name_desc", nil, auth)
	sorted := decode[catalog.State](t, raw)
	require.Len(t, sorted.Items, 34)
	assert.Equal(t, "snack-2-09", sorted.Items[0].Code)

	resp, _ = doJSON(t, http.MethodGet, env.ts.URL+"/api/catalog?sort=price", nil, auth)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCatalog_SetFilter(t *testing.T) {
	env := newTestEnv(t, &fakeUpstream{}, shop.NewMemKV())
	auth := newSession(t, env.ts.URL)

	resp, _ := doJSON(t, http.MethodPut, env.ts.URL+"/api/catalog/filter", map[string]string{"query": "jam", "category": "en:spreads"}, auth)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, raw := doJSON(t, http.MethodPut, env.ts.URL+"/api/catalog/filter", map[string]string{"category": "en:spreads"}, auth)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	st := decode[catalog.State](t, raw)
	assert.Equal(t, catalog.Filter{Category: "en:spreads"}, st.Filter)
	assert.Empty(t, st.Items)

	require.Eventually(t, func() bool {
		_, raw := doJSON(t, http.MethodGet, env.ts.URL+"/api/catalog", nil, auth)
		st := decode[catalog.State](t, raw)
		return len(st.Items) == 24 && strings.HasPrefix(st.Items[0].Code, "en:spreads-1-")
	}, 2*time.Second, 10*time.Millisecond)
}

func TestProductDetail(t *testing.T) {
	up := &fakeUpstream{products: map[string]foodapi.Product{
		"3017620422003": {
			Code:           "3017620422003",
			Name:           "Nutella",
			Brands:         "Ferrero, Nutella",
			NutritionGrade: "E",
			Nutriments:     foodapi.Nutriments{"fat_100g": 30.9},
		},
	}}
	env := newTestEnv(t, up, shop.NewMemKV())
	auth := newSession(t, env.ts.URL)

	type detail struct {
		Product    foodapi.Product      `json:"product"`
		Grade      string               `json:"grade"`
		Brand      string               `json:"brand"`
		Radar      []catalog.RadarPoint `json:"radar"`
		Highlights []catalog.Highlight  `json:"highlights"`
		InCart     bool                 `json:"in_cart"`
	}

	resp, raw := doJSON(t, http.MethodGet, env.ts.URL+"/api/products/3017620422003", nil, auth)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	d := decode[detail](t, raw)
	assert.Equal(t, "e", d.Grade)
	assert.Equal(t, "Ferrero", d.Brand)
	assert.Len(t, d.Radar, 6)
	assert.Len(t, d.Highlights, 4)
	assert.False(t, d.InCart)

	doJSON(t, http.MethodPost, env.ts.URL+"/api/cart/items", map[string]any{"product": map[string]any{"code": "3017620422003"}}, auth)
	_, raw = doJSON(t, http.MethodGet, env.ts.URL+"/api/products/3017620422003", nil, auth)
	assert.True(t, decode[detail](t, raw).InCart)

	resp, _ = doJSON(t, http.MethodGet, env.ts.URL+"/api/products/000", nil, auth)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestProductDetail_UpstreamFailures(t *testing.T) {
	for err, want := range map[error]int{
		foodapi.ErrUnavailable:   http.StatusServiceUnavailable,
		foodapi.ErrBadStatus:     http.StatusBadGateway,
		foodapi.ErrDecode:        http.StatusBadGateway,
		context.DeadlineExceeded: http.StatusGatewayTimeout,
	} {
		env := newTestEnv(t, &fakeUpstream{productErr: err}, shop.NewMemKV())
		auth := newSession(t, env.ts.URL)

		resp, _ := doJSON(t, http.MethodGet, env.ts.URL+"/api/products/1", nil, auth)
		assert.Equal(t, want, resp.StatusCode, err.Error())
	}
}

func TestCategories_Top20(t *testing.T) {
	cats := make([]foodapi.Category, 30)
	for i := range cats {
		cats[i] = foodapi.Category{ID: fmt.Sprintf("en:c%d", i), Name: fmt.Sprintf("C%d", i)}
	}
	env := newTestEnv(t, &fakeUpstream{categories: cats}, shop.NewMemKV())

	resp, raw := doJSON(t, http.MethodGet, env.ts.URL+"/api/categories", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decode[struct {
		Categories []foodapi.Category `json:"categories"`
	}](t, raw)
	require.Len(t, body.Categories, 20)
	assert.Equal(t, "en:c0", body.Categories[0].ID)
}

func TestMetrics_TokenProtected(t *testing.T) {
	env := newTestEnv(t, &fakeUpstream{}, shop.NewMemKV())
	newSession(t, env.ts.URL)

	resp, _ := doJSON(t, http.MethodGet, env.ts.URL+"/metrics", nil, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, raw := doJSON(t, http.MethodGet, env.ts.URL+"/metrics", nil, map[string]string{"Authorization": "Bearer " + metricsToken})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(raw), "pantry_sessions_active 1")
	assert.Contains(t, string(raw), "pantry_http_requests_total")
}

func TestRegistry_SweepRehydrates(t *testing.T) {
	kv := shop.NewMemKV()
	env := newTestEnv(t, &fakeUpstream{}, kv)
	auth := newSession(t, env.ts.URL)

	doJSON(t, http.MethodPost, env.ts.URL+"/api/cart/items", map[string]any{"product": map[string]any{"code": "a1"}}, auth)
	require.Equal(t, 1, env.sessions.Len())

	assert.Equal(t, 1, env.sessions.Sweep(0))
	assert.Zero(t, env.sessions.Len())

	_, raw := doJSON(t, http.MethodGet, env.ts.URL+"/api/cart", nil, auth)
	assert.Equal(t, 1, decode[cartBody](t, raw).Count)
}
