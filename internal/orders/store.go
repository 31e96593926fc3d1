package orders

import (
	"context"
	"time"

	"github.com/safar/rewear-store/internal/models"
)

// CatalogReader resolves a set of product ids to their current catalog
// snapshot. A missing id fails the whole lookup with apperr.NotFoundError.
type CatalogReader interface {
	FindByIDs(ctx context.Context, ids []string) (map[string]models.CatalogEntry, error)
}

// Store is the persistence the order core needs.
type Store interface {
	CatalogReader

	// InTx runs fn in one atomic unit. fn may be invoked more than once when
	// the backend retries a conflicting attempt; nothing from a failed attempt
	// persists.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	GetOrder(ctx context.Context, id string) (*models.Order, error)
	ListOrdersByUser(ctx context.Context, userID, cursor string, limit int) (*models.CursorPage[models.Order], error)
	ListOrders(ctx context.Context, status models.OrderStatus, page, pageSize int) (*models.OffsetPage[models.Order], error)
}

// Tx is the write surface available inside Store.InTx.
type Tx interface {
	// DecrementIfSufficient subtracts qty from the product's stock only if the
	// stock is at least qty, reporting whether the update happened.
	DecrementIfSufficient(ctx context.Context, productID string, qty int) (bool, error)
	IncrementStock(ctx context.Context, productID string, qty int) error
	StockOf(ctx context.Context, productID string) (int, error)

	InsertOrder(ctx context.Context, order *models.Order) error
	// LockOrder loads the order and holds it against concurrent status
	// changes until the transaction ends.
	LockOrder(ctx context.Context, id string) (*models.Order, error)
	SetOrderStatus(ctx context.Context, id string, status models.OrderStatus, at time.Time) error
}

// CreatedHook observes committed orders. Failures are logged, never returned
// to the caller.
type CreatedHook interface {
	OnOrderCreated(ctx context.Context, userID string, order *models.Order) error
}

// StatusHook observes committed status changes.
type StatusHook interface {
	OnOrderStatusChanged(ctx context.Context, order *models.Order, from models.OrderStatus) error
}

// Caller is the already-authenticated identity an operation runs as.
type Caller struct {
	UserID  string
	IsAdmin bool
}
