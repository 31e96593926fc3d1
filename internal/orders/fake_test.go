package orders

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/safar/rewear-store/internal/apperr"
	"github.com/safar/rewear-store/internal/models"
)

// memStore keeps everything in memory and serializes transactions behind one
// mutex. Each transaction works on a copy that is swapped in on success.
type memStore struct {
	mu       sync.Mutex
	catalog  map[string]models.CatalogEntry
	orders   map[string]*models.Order
	sequence []string

	// failure injection
	insertErr    error
	setStatusErr error
	findErr      error
	// staleStock overrides the stock FindByIDs reports, to simulate a
	// snapshot read before a concurrent writer.
	staleStock map[string]int

	txCount int
}

func newMemStore() *memStore {
	return &memStore{
		catalog: make(map[string]models.CatalogEntry),
		orders:  make(map[string]*models.Order),
	}
}

func (m *memStore) addProduct(id string, price string, stock int, carbon, water, waste string) {
	m.catalog[id] = models.CatalogEntry{
		ProductID:     id,
		Price:         decimal.RequireFromString(price),
		StockQuantity: stock,
		CarbonPerUnit: decimal.RequireFromString(carbon),
		WaterPerUnit:  decimal.RequireFromString(water),
		WastePerUnit:  decimal.RequireFromString(waste),
	}
}

func (m *memStore) stock(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.catalog[id].StockQuantity
}

func (m *memStore) orderCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orders)
}

func (m *memStore) FindByIDs(ctx context.Context, ids []string) (map[string]models.CatalogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.findErr != nil {
		return nil, m.findErr
	}
	out := make(map[string]models.CatalogEntry, len(ids))
	for _, id := range ids {
		entry, ok := m.catalog[id]
		if !ok {
			return nil, apperr.NotFound("product", id)
		}
		if stale, ok := m.staleStock[id]; ok {
			entry.StockQuantity = stale
		}
		out[id] = entry
	}
	return out, nil
}

func (m *memStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txCount++

	tx := &memTx{
		store:   m,
		catalog: make(map[string]models.CatalogEntry, len(m.catalog)),
		orders:  make(map[string]*models.Order, len(m.orders)),
	}
	for k, v := range m.catalog {
		tx.catalog[k] = v
	}
	for k, v := range m.orders {
		tx.orders[k] = cloneOrder(v)
	}

	if err := fn(ctx, tx); err != nil {
		return err
	}

	m.catalog = tx.catalog
	m.orders = tx.orders
	m.sequence = append(m.sequence, tx.inserted...)
	return nil
}

func (m *memStore) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	order, ok := m.orders[id]
	if !ok {
		return nil, apperr.NotFound("order", id)
	}
	return cloneOrder(order), nil
}

func (m *memStore) ListOrdersByUser(ctx context.Context, userID, cursor string, limit int) (*models.CursorPage[models.Order], error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var mine []models.Order
	for i := len(m.sequence) - 1; i >= 0; i-- {
		if o := m.orders[m.sequence[i]]; o.UserID == userID {
			mine = append(mine, *cloneOrder(o))
		}
	}

	start := 0
	if cursor != "" {
		for i, o := range mine {
			if o.ID == cursor {
				start = i + 1
			}
		}
	}
	mine = mine[start:]

	page := &models.CursorPage[models.Order]{Items: mine}
	if len(mine) > limit {
		page.Items = mine[:limit]
		page.HasMore = true
		page.NextCursor = page.Items[limit-1].ID
	}
	return page, nil
}

func (m *memStore) ListOrders(ctx context.Context, status models.OrderStatus, page, pageSize int) (*models.OffsetPage[models.Order], error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var all []models.Order
	for _, id := range m.sequence {
		if o := m.orders[id]; status == "" || o.Status == status {
			all = append(all, *cloneOrder(o))
		}
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })

	offset := (page - 1) * pageSize
	if offset > len(all) {
		offset = len(all)
	}
	end := offset + pageSize
	if end > len(all) {
		end = len(all)
	}
	return models.NewOffsetPage(all[offset:end], int64(len(all)), page, pageSize), nil
}

type memTx struct {
	store    *memStore
	catalog  map[string]models.CatalogEntry
	orders   map[string]*models.Order
	inserted []string
}

func (t *memTx) DecrementIfSufficient(ctx context.Context, productID string, qty int) (bool, error) {
	entry, ok := t.catalog[productID]
	if !ok || entry.StockQuantity < qty {
		return false, nil
	}
	entry.StockQuantity -= qty
	t.catalog[productID] = entry
	return true, nil
}

func (t *memTx) IncrementStock(ctx context.Context, productID string, qty int) error {
	entry, ok := t.catalog[productID]
	if !ok {
		return apperr.NotFound("product", productID)
	}
	entry.StockQuantity += qty
	t.catalog[productID] = entry
	return nil
}

func (t *memTx) StockOf(ctx context.Context, productID string) (int, error) {
	entry, ok := t.catalog[productID]
	if !ok {
		return 0, apperr.NotFound("product", productID)
	}
	return entry.StockQuantity, nil
}

func (t *memTx) InsertOrder(ctx context.Context, order *models.Order) error {
	if t.store.insertErr != nil {
		return t.store.insertErr
	}
	if _, exists := t.orders[order.ID]; exists {
		return errors.New("duplicate order id")
	}
	t.orders[order.ID] = cloneOrder(order)
	t.inserted = append(t.inserted, order.ID)
	return nil
}

func (t *memTx) LockOrder(ctx context.Context, id string) (*models.Order, error) {
	order, ok := t.orders[id]
	if !ok {
		return nil, apperr.NotFound("order", id)
	}
	return cloneOrder(order), nil
}

func (t *memTx) SetOrderStatus(ctx context.Context, id string, status models.OrderStatus, at time.Time) error {
	if t.store.setStatusErr != nil {
		return t.store.setStatusErr
	}
	order, ok := t.orders[id]
	if !ok {
		return apperr.NotFound("order", id)
	}
	order.Status = status
	order.UpdatedAt = at
	order.Version++
	return nil
}

func cloneOrder(o *models.Order) *models.Order {
	c := *o
	c.Items = append([]models.OrderLineItem(nil), o.Items...)
	return &c
}

type createdFunc func(ctx context.Context, userID string, order *models.Order) error

func (f createdFunc) OnOrderCreated(ctx context.Context, userID string, order *models.Order) error {
	return f(ctx, userID, order)
}

type recordingHooks struct {
	mu      sync.Mutex
	created []string
	changes []string
	err     error
	panics  bool
	ctxErr  error
}

func (h *recordingHooks) OnOrderCreated(ctx context.Context, userID string, order *models.Order) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.panics {
		panic("boom")
	}
	h.ctxErr = ctx.Err()
	h.created = append(h.created, order.ID)
	return h.err
}

func (h *recordingHooks) OnOrderStatusChanged(ctx context.Context, order *models.Order, from models.OrderStatus) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.panics {
		panic("boom")
	}
	h.changes = append(h.changes, string(from)+"->"+string(order.Status))
	return h.err
}
