// Package store is the Postgres implementation of the order core's
// persistence. Queries are plain SQL over database/sql with the lib/pq driver.
package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/safar/rewear-store/internal/database"
	"github.com/safar/rewear-store/internal/models"
	"github.com/safar/rewear-store/internal/orders"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

var _ orders.Store = (*Repository)(nil)

type Repository struct {
	db     *sql.DB
	txOpts database.TxOptions
}

func NewRepository(db *sql.DB, txOpts database.TxOptions) *Repository {
	return &Repository{db: db, txOpts: txOpts}
}

// InTx runs fn under READ COMMITTED (or the configured level), retrying
// serialization failures, deadlocks and lock timeouts. Errors from fn are
// returned as is.
func (r *Repository) InTx(ctx context.Context, fn func(ctx context.Context, tx orders.Tx) error) error {
	return database.WithRetry(ctx, r.db, r.txOpts, func(ctx context.Context, tx *sql.Tx) error {
		return fn(ctx, &txStore{tx: tx})
	})
}

func (r *Repository) FindByIDs(ctx context.Context, ids []string) (map[string]models.CatalogEntry, error) {
	return FindCatalogEntries(ctx, r.db, ids)
}

func (r *Repository) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	return GetOrder(ctx, r.db, id)
}

func (r *Repository) ListOrdersByUser(ctx context.Context, userID, cursor string, limit int) (*models.CursorPage[models.Order], error) {
	return ListOrdersCursor(ctx, r.db, userID, cursor, limit)
}

func (r *Repository) ListOrders(ctx context.Context, status models.OrderStatus, page, pageSize int) (*models.OffsetPage[models.Order], error) {
	return ListOrders(ctx, r.db, status, page, pageSize)
}

func (r *Repository) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	return GetProduct(ctx, r.db, id)
}

func (r *Repository) ListProducts(ctx context.Context, featuredOnly bool, page, pageSize int) (*models.OffsetPage[models.Product], error) {
	return ListProducts(ctx, r.db, featuredOnly, page, pageSize)
}

func (r *Repository) GetUser(ctx context.Context, id string) (*models.User, error) {
	return GetUser(ctx, r.db, id)
}

func (r *Repository) UserImpact(ctx context.Context, userID string) (models.ImpactTotals, error) {
	return UserImpact(ctx, r.db, userID)
}

func (r *Repository) AwardBadge(ctx context.Context, userID, badgeName string, at time.Time) (bool, error) {
	return AwardBadge(ctx, r.db, userID, badgeName, at)
}

func (r *Repository) ListUserBadges(ctx context.Context, userID string) ([]models.Badge, error) {
	return ListUserBadges(ctx, r.db, userID)
}

func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// txStore adapts a *sql.Tx to orders.Tx.
type txStore struct {
	tx *sql.Tx
}

func (t *txStore) DecrementIfSufficient(ctx context.Context, productID string, qty int) (bool, error) {
	return DecrementStock(ctx, t.tx, productID, qty)
}

func (t *txStore) IncrementStock(ctx context.Context, productID string, qty int) error {
	return IncrementStock(ctx, t.tx, productID, qty)
}

func (t *txStore) StockOf(ctx context.Context, productID string) (int, error) {
	return StockOf(ctx, t.tx, productID)
}

func (t *txStore) InsertOrder(ctx context.Context, order *models.Order) error {
	return InsertOrder(ctx, t.tx, order)
}

func (t *txStore) LockOrder(ctx context.Context, id string) (*models.Order, error) {
	return LockOrder(ctx, t.tx, id)
}

func (t *txStore) SetOrderStatus(ctx context.Context, id string, status models.OrderStatus, at time.Time) error {
	return SetOrderStatus(ctx, t.tx, id, status, at)
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
