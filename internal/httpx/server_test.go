package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/safar/rewear-store/internal/apperr"
	"github.com/safar/rewear-store/internal/auth"
	"github.com/safar/rewear-store/internal/auth/authtest"
	"github.com/safar/rewear-store/internal/idempotency"
	"github.com/safar/rewear-store/internal/models"
	"github.com/safar/rewear-store/internal/orders"
)

const secret = "http-test-secret"

type fakeOrders struct {
	mu      sync.Mutex
	created []orders.CreateOrderRequest
	orders  map[string]*models.Order
	err     error

	lastStatus string
	lastCursor string
	lastLimit  int
	lastPage   [2]int
}

func newFakeOrders() *fakeOrders {
	return &fakeOrders{orders: map[string]*models.Order{}}
}

func (f *fakeOrders) CreateOrder(ctx context.Context, caller orders.Caller, req orders.CreateOrderRequest) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.created = append(f.created, req)
	o := &models.Order{
		ID:          "order-" + string(rune('0'+len(f.created))),
		UserID:      caller.UserID,
		Status:      models.OrderStatusPending,
		TotalAmount: decimal.NewFromInt(10),
	}
	f.orders[o.ID] = o
	return o, nil
}

func (f *fakeOrders) UpdateStatus(ctx context.Context, caller orders.Caller, orderID, status string) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if !caller.IsAdmin {
		return nil, apperr.Forbidden("update order status")
	}
	o, ok := f.orders[orderID]
	if !ok {
		return nil, apperr.NotFound("order", orderID)
	}
	f.lastStatus = status
	o.Status = models.OrderStatus(status)
	return o, nil
}

func (f *fakeOrders) GetOrder(ctx context.Context, caller orders.Caller, id string) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok || (o.UserID != caller.UserID && !caller.IsAdmin) {
		return nil, apperr.NotFound("order", id)
	}
	return o, nil
}

func (f *fakeOrders) ListMyOrders(ctx context.Context, caller orders.Caller, cursor string, limit int) (*models.CursorPage[models.Order], error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastCursor, f.lastLimit = cursor, limit
	if cursor == "bad" {
		return nil, apperr.Validation("cursor", "is malformed")
	}
	return &models.CursorPage[models.Order]{Items: []models.Order{}, NextCursor: "next", HasMore: true}, nil
}

func (f *fakeOrders) ListAllOrders(ctx context.Context, caller orders.Caller, status string, page, pageSize int) (*models.OffsetPage[models.Order], error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !caller.IsAdmin {
		return nil, apperr.Forbidden("list all orders")
	}
	f.lastStatus, f.lastPage = status, [2]int{page, pageSize}
	return models.NewOffsetPage[models.Order](nil, 0, page, pageSize), nil
}

type fakeCatalog struct {
	products map[string]*models.Product
	err      error
	featured bool
}

func (c *fakeCatalog) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	p, ok := c.products[id]
	if !ok {
		return nil, apperr.NotFound("product", id)
	}
	return p, nil
}

func (c *fakeCatalog) ListProducts(ctx context.Context, featuredOnly bool, page, pageSize int) (*models.OffsetPage[models.Product], error) {
	if c.err != nil {
		return nil, c.err
	}
	c.featured = featuredOnly
	items := make([]models.Product, 0, len(c.products))
	for _, p := range c.products {
		items = append(items, *p)
	}
	return models.NewOffsetPage(items, int64(len(items)), page, pageSize), nil
}

type fakeProfiles struct{}

func (fakeProfiles) UserImpact(ctx context.Context, userID string) (models.ImpactTotals, error) {
	return models.ImpactTotals{Orders: 2, CarbonSaved: decimal.RequireFromString("4.5")}, nil
}

func (fakeProfiles) ListUserBadges(ctx context.Context, userID string) ([]models.Badge, error) {
	return nil, nil
}

type memIdem struct {
	mu      sync.Mutex
	entries map[string]string
	err     error
}

func (m *memIdem) Reserve(ctx context.Context, userID, key string) (idempotency.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return idempotency.Result{}, m.err
	}
	k := idempotency.Key(userID, key)
	v, ok := m.entries[k]
	switch {
	case !ok:
		m.entries[k] = ""
		return idempotency.Result{State: idempotency.Reserved}, nil
	case v == "":
		return idempotency.Result{State: idempotency.Pending}, nil
	default:
		return idempotency.Result{State: idempotency.Completed, OrderID: v}, nil
	}
}

func (m *memIdem) Complete(ctx context.Context, userID, key, orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[idempotency.Key(userID, key)] = orderID
	return nil
}

func (m *memIdem) Release(ctx context.Context, userID, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, idempotency.Key(userID, key))
	return nil
}

type stubUsers map[string]*models.User

func (s stubUsers) GetUser(ctx context.Context, id string) (*models.User, error) {
	if u, ok := s[id]; ok {
		return u, nil
	}
	return nil, apperr.NotFound("user", id)
}

type fixture struct {
	router  http.Handler
	orders  *fakeOrders
	catalog *fakeCatalog
	idem    *memIdem
}

func newFixture(t *testing.T, production bool) *fixture {
	t.Helper()
	users := stubUsers{
		"u1":    {ID: "u1"},
		"u2":    {ID: "u2"},
		"admin": {ID: "admin", IsAdmin: true},
	}
	f := &fixture{
		orders: newFakeOrders(),
		catalog: &fakeCatalog{products: map[string]*models.Product{
			"p1": {ID: "p1", Name: "Denim jacket", Price: decimal.NewFromInt(40), StockQuantity: 3},
		}},
		idem: &memIdem{entries: map[string]string{}},
	}
	f.router = NewRouter(Deps{
		Orders:       f.orders,
		Catalog:      f.catalog,
		Profiles:     fakeProfiles{},
		Idempotency:  f.idem,
		Authenticate: auth.NewAuthenticator(secret, users, zap.NewNop()).Require,
		Logger:       zap.NewNop(),
		Production:   production,
	})
	return f
}

func (f *fixture) do(t *testing.T, method, path, user, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if user != "" {
		token, err := authtest.Token(secret, user, time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorDetail {
	t.Helper()
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error
}

const orderBody = `{"items":[{"product_id":"p1","quantity":1}],
	"shipping_address":{"address_line1":"1 Main","city":"Pune","state_province":"MH","postal_code":"411001","country":"IN"},
	"billing_address":{"address_line1":"1 Main","city":"Pune","state_province":"MH","postal_code":"411001","country":"IN"}}`

func TestHealthz(t *testing.T) {
	f := newFixture(t, false)
	rec := f.do(t, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestReadyz(t *testing.T) {
	r := NewRouter(Deps{
		Authenticate: func(next http.Handler) http.Handler { return next },
		Ready:        func(ctx context.Context) error { return errors.New("db down") },
	})
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestReadyzChecksEveryDependency(t *testing.T) {
	up := func(context.Context) error { return nil }
	cacheDown := func(context.Context) error { return errors.New("redis down") }

	for name, tc := range map[string]struct {
		checks []func(context.Context) error
		want   int
	}{
		"all up":      {checks: []func(context.Context) error{up, up}, want: http.StatusOK},
		"second down": {checks: []func(context.Context) error{up, cacheDown}, want: http.StatusServiceUnavailable},
		"no checks":   {want: http.StatusOK},
	} {
		t.Run(name, func(t *testing.T) {
			r := NewRouter(Deps{
				Authenticate: func(next http.Handler) http.Handler { return next },
				Ready:        ReadyAll(tc.checks...),
			})
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
			assert.Equal(t, tc.want, rec.Code)
		})
	}
}

func TestOrdersRequireAuth(t *testing.T) {
	f := newFixture(t, false)
	rec := f.do(t, http.MethodPost, "/orders", "", orderBody)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, auth.CodeUnauthorized, decodeError(t, rec).Code)
	assert.Empty(t, f.orders.created)
}

func TestCreateOrder(t *testing.T) {
	f := newFixture(t, false)
	rec := f.do(t, http.MethodPost, "/orders", "u1", orderBody)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var order models.Order
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &order))
	assert.Equal(t, "u1", order.UserID)
	require.Len(t, f.orders.created, 1)
	assert.Equal(t, "Pune", f.orders.created[0].ShippingAddress.City)
}

func TestCreateOrderInvalidJSON(t *testing.T) {
	f := newFixture(t, false)
	rec := f.do(t, http.MethodPost, "/orders", "u1", "{")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, string(apperr.KindValidation), decodeError(t, rec).Code)
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   apperr.Kind
	}{
		{"validation", apperr.Validation("items", "must not be empty"), http.StatusBadRequest, apperr.KindValidation},
		{"not found", apperr.NotFound("product", "p9"), http.StatusNotFound, apperr.KindNotFound},
		{"stock", &apperr.InsufficientStockError{ProductID: "p1", Requested: 5, Available: 3}, http.StatusConflict, apperr.KindInsufficientStock},
		{"transaction", apperr.Transaction("create order", errors.New("conn reset")), http.StatusServiceUnavailable, apperr.KindTransaction},
		{"status", &apperr.InvalidStatusError{From: "Delivered", To: "Pending"}, http.StatusUnprocessableEntity, apperr.KindInvalidStatus},
		{"forbidden", apperr.Forbidden("list all orders"), http.StatusForbidden, apperr.KindForbidden},
		{"internal", errors.New("boom"), http.StatusInternalServerError, apperr.KindInternal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, false)
			f.orders.err = tc.err
			rec := f.do(t, http.MethodPost, "/orders", "u1", orderBody)
			assert.Equal(t, tc.status, rec.Code)
			assert.Equal(t, string(tc.code), decodeError(t, rec).Code)
		})
	}
}

func TestInsufficientStockDetails(t *testing.T) {
	f := newFixture(t, false)
	f.orders.err = &apperr.InsufficientStockError{ProductID: "p1", Requested: 5, Available: 3}

	detail := decodeError(t, f.do(t, http.MethodPost, "/orders", "u1", orderBody))
	assert.Equal(t, "p1", detail.Details["product_id"])
	assert.EqualValues(t, 5, detail.Details["requested"])
	assert.EqualValues(t, 3, detail.Details["available"])
}

func TestProductionMasksInfrastructureErrors(t *testing.T) {
	f := newFixture(t, true)
	f.orders.err = apperr.Transaction("create order", errors.New("pq: connection reset by peer"))
	detail := decodeError(t, f.do(t, http.MethodPost, "/orders", "u1", orderBody))
	assert.Equal(t, maskedTransactionMessage, detail.Message)

	f.orders.err = errors.New("pq: secret table missing")
	detail = decodeError(t, f.do(t, http.MethodPost, "/orders", "u1", orderBody))
	assert.Equal(t, maskedInternalMessage, detail.Message)

	f.orders.err = apperr.Validation("items", "must not be empty")
	detail = decodeError(t, f.do(t, http.MethodPost, "/orders", "u1", orderBody))
	assert.Contains(t, detail.Message, "items")
}

func TestIdempotentCreate(t *testing.T) {
	f := newFixture(t, false)

	first := f.do(t, http.MethodPost, "/orders", "u1", orderBody, headerIdempotencyKey, "k-1")
	require.Equal(t, http.StatusCreated, first.Code)

	replay := f.do(t, http.MethodPost, "/orders", "u1", orderBody, headerIdempotencyKey, "k-1")
	require.Equal(t, http.StatusOK, replay.Code)
	assert.Equal(t, "true", replay.Header().Get(headerIdempotentReply))
	assert.JSONEq(t, first.Body.String(), replay.Body.String())
	assert.Len(t, f.orders.created, 1)

	other := f.do(t, http.MethodPost, "/orders", "u2", orderBody, headerIdempotencyKey, "k-1")
	assert.Equal(t, http.StatusCreated, other.Code)
	assert.Len(t, f.orders.created, 2)
}

func TestIdempotencyPendingAndRelease(t *testing.T) {
	f := newFixture(t, false)
	f.idem.entries[idempotency.Key("u1", "busy")] = ""

	rec := f.do(t, http.MethodPost, "/orders", "u1", orderBody, headerIdempotencyKey, "busy")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, codeRequestInProgress, decodeError(t, rec).Code)

	f.orders.err = apperr.Validation("items", "must not be empty")
	rec = f.do(t, http.MethodPost, "/orders", "u1", orderBody, headerIdempotencyKey, "k-2")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.NotContains(t, f.idem.entries, idempotency.Key("u1", "k-2"))

	f.orders.err = nil
	rec = f.do(t, http.MethodPost, "/orders", "u1", orderBody, headerIdempotencyKey, "k-2")
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestIdempotencyStoreDownFailsOpen(t *testing.T) {
	f := newFixture(t, false)
	f.idem.err = errors.New("redis: connection refused")

	rec := f.do(t, http.MethodPost, "/orders", "u1", orderBody, headerIdempotencyKey, "k-3")
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestIdempotencyKeyTooLong(t *testing.T) {
	f := newFixture(t, false)
	rec := f.do(t, http.MethodPost, "/orders", "u1", orderBody,
		headerIdempotencyKey, strings.Repeat("k", idempotency.MaxKeyLength+1))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, f.orders.created)
}

func TestGetOrderVisibility(t *testing.T) {
	f := newFixture(t, false)
	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/orders", "u1", orderBody).Code)

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/orders/order-1", "u1", "").Code)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/orders/order-1", "admin", "").Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/orders/order-1", "u2", "").Code)
}

func TestListMyOrders(t *testing.T) {
	f := newFixture(t, false)

	rec := f.do(t, http.MethodGet, "/orders/mine?cursor=abc&limit=5", "u1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "abc", f.orders.lastCursor)
	assert.Equal(t, 5, f.orders.lastLimit)
	assert.Contains(t, rec.Body.String(), `"next_cursor":"next"`)

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/orders/mine?cursor=bad", "u1", "").Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/orders/mine?limit=many", "u1", "").Code)
}

func TestListAllOrders(t *testing.T) {
	f := newFixture(t, false)

	assert.Equal(t, http.StatusForbidden, f.do(t, http.MethodGet, "/orders", "u1", "").Code)

	rec := f.do(t, http.MethodGet, "/orders?status=Pending&page=0&page_size=500", "admin", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Pending", f.orders.lastStatus)
	assert.Equal(t, [2]int{1, orders.MaxPageSize}, f.orders.lastPage)
}

func TestUpdateStatus(t *testing.T) {
	f := newFixture(t, false)
	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/orders", "u1", orderBody).Code)

	rec := f.do(t, http.MethodPut, "/orders/order-1/status", "u1", `{"status":"Cancelled"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodPut, "/orders/order-1/status", "admin", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPut, "/orders/order-1/status", "admin", `{"status":"Cancelled"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Cancelled", f.orders.lastStatus)
}

func TestProducts(t *testing.T) {
	f := newFixture(t, false)

	rec := f.do(t, http.MethodGet, "/products?featured=true", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, f.catalog.featured)
	assert.Contains(t, rec.Body.String(), "Denim jacket")

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/products/p1", "", "").Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/products/nope", "", "").Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/products?featured=maybe", "", "").Code)
}

func TestMyImpactAndBadges(t *testing.T) {
	f := newFixture(t, false)

	rec := f.do(t, http.MethodGet, "/users/me/impact", "u1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"orders":2`)

	rec = f.do(t, http.MethodGet, "/users/me/badges", "u1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"items":[]}`, rec.Body.String())
}
