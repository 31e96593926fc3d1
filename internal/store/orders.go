package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/safar/rewear-store/internal/apperr"
	"github.com/safar/rewear-store/internal/database"
	"github.com/safar/rewear-store/internal/models"
)

const orderColumns = `id, order_number, user_id, status, shipping_address, billing_address,
	total_amount, total_carbon_saved, total_water_saved, total_waste_diverted,
	created_at, updated_at, version`

func scanOrder(row interface{ Scan(...any) error }, order *models.Order) error {
	return row.Scan(
		&order.ID,
		&order.OrderNumber,
		&order.UserID,
		&order.Status,
		&order.ShippingAddress,
		&order.BillingAddress,
		&order.TotalAmount,
		&order.TotalCarbonSaved,
		&order.TotalWaterSaved,
		&order.TotalWasteDiverted,
		&order.CreatedAt,
		&order.UpdatedAt,
		&order.Version,
	)
}

// InsertOrder writes the order row and its line items in cart order.
func InsertOrder(ctx context.Context, tx *sql.Tx, order *models.Order) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO orders (id, order_number, user_id, status, shipping_address, billing_address,
			total_amount, total_carbon_saved, total_water_saved, total_waste_diverted,
			created_at, updated_at, version)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		order.ID, order.OrderNumber, order.UserID, order.Status,
		order.ShippingAddress, order.BillingAddress,
		order.TotalAmount, order.TotalCarbonSaved, order.TotalWaterSaved, order.TotalWasteDiverted,
		order.CreatedAt, order.UpdatedAt, order.Version)
	if database.IsCheckViolation(err) {
		return apperr.Validation("total_amount", "is out of range")
	}
	if err != nil {
		return fmt.Errorf("create order: %w", err)
	}

	for i, item := range order.Items {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO order_items (order_id, position, product_id, quantity, price_at_purchase,
				carbon_saved_at_purchase, water_saved_at_purchase, waste_diverted_at_purchase, subtotal)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			order.ID, i, item.ProductID, item.Quantity, item.PriceAtPurchase,
			item.CarbonSavedAtPurchase, item.WaterSavedAtPurchase, item.WasteDivertedAtPurchase,
			item.Subtotal)
		if database.IsCheckViolation(err) {
			return apperr.Validation(fmt.Sprintf("items[%d]", i), "is out of range")
		}
		if err != nil {
			return fmt.Errorf("create order item %d: %w", i, err)
		}
	}

	return nil
}

// LockOrder reads the order with a row lock held until the transaction ends,
// so concurrent status changes observe each other's result.
func LockOrder(ctx context.Context, tx *sql.Tx, id string) (*models.Order, error) {
	order := &models.Order{}

	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1 FOR UPDATE`

	if err := scanOrder(tx.QueryRowContext(ctx, query, id), order); err != nil {
		if isNoRows(err) {
			return nil, apperr.NotFound("order", id)
		}
		return nil, fmt.Errorf("lock order: %w", err)
	}

	items, err := loadItems(ctx, tx, []string{id})
	if err != nil {
		return nil, err
	}
	order.Items = items[id]

	return order, nil
}

func SetOrderStatus(ctx context.Context, tx *sql.Tx, id string, status models.OrderStatus, at time.Time) error {
	result, err := tx.ExecContext(ctx,
		`UPDATE orders
		 SET status = $1, updated_at = $2, version = version + 1
		 WHERE id = $3`,
		status, at, id)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return apperr.NotFound("order", id)
	}

	return nil
}

func GetOrder(ctx context.Context, db querier, id string) (*models.Order, error) {
	order := &models.Order{}

	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	if err := scanOrder(db.QueryRowContext(ctx, query, id), order); err != nil {
		if isNoRows(err) {
			return nil, apperr.NotFound("order", id)
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	items, err := loadItems(ctx, db, []string{id})
	if err != nil {
		return nil, err
	}
	order.Items = items[id]

	return order, nil
}

// ListOrdersCursor pages a user's orders newest first using keyset pagination
// on (created_at, id).
func ListOrdersCursor(ctx context.Context, db querier, userID, cursor string, limit int) (*models.CursorPage[models.Order], error) {
	cursorData, err := DecodeCursor(cursor)
	if err != nil {
		return nil, apperr.Validation("cursor", "is malformed")
	}

	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE user_id = $1
		  AND ($2::timestamptz IS NULL OR (created_at, id) < ($2::timestamptz, $3::text))
		ORDER BY created_at DESC, id DESC
		LIMIT $4`

	after := sql.NullTime{Time: cursorData.CreatedAt, Valid: !cursorData.IsStart()}
	rows, err := db.QueryContext(ctx, query, userID, after, cursorData.ID, limit+1)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}

	orders, err := collectOrders(rows)
	if err != nil {
		return nil, err
	}

	hasMore := len(orders) > limit
	if hasMore {
		orders = orders[:limit]
	}

	if err := attachItems(ctx, db, orders); err != nil {
		return nil, err
	}

	var nextCursor string
	if hasMore && len(orders) > 0 {
		lastOrder := orders[len(orders)-1]
		nextCursor = EncodeCursor(OrderCursor{
			CreatedAt: lastOrder.CreatedAt,
			ID:        lastOrder.ID,
		})
	}

	if orders == nil {
		orders = []models.Order{}
	}

	return &models.CursorPage[models.Order]{
		Items:      orders,
		NextCursor: nextCursor,
		HasMore:    hasMore,
	}, nil
}

// ListOrders is the admin listing. An empty status matches every order.
func ListOrders(ctx context.Context, db querier, status models.OrderStatus, page, pageSize int) (*models.OffsetPage[models.Order], error) {
	var total int64
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM orders WHERE ($1 = '' OR status = $1)`, string(status)).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("count orders: %w", err)
	}

	offset := (page - 1) * pageSize
	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`

	rows, err := db.QueryContext(ctx, query, string(status), pageSize, offset)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}

	orders, err := collectOrders(rows)
	if err != nil {
		return nil, err
	}

	if err := attachItems(ctx, db, orders); err != nil {
		return nil, err
	}

	return models.NewOffsetPage(orders, total, page, pageSize), nil
}

func collectOrders(rows *sql.Rows) ([]models.Order, error) {
	defer rows.Close()

	var orders []models.Order
	for rows.Next() {
		var order models.Order
		if err := scanOrder(rows, &order); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, order)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return orders, nil
}

func attachItems(ctx context.Context, db querier, orders []models.Order) error {
	if len(orders) == 0 {
		return nil
	}

	ids := make([]string, len(orders))
	for i := range orders {
		ids[i] = orders[i].ID
	}

	items, err := loadItems(ctx, db, ids)
	if err != nil {
		return err
	}
	for i := range orders {
		orders[i].Items = items[orders[i].ID]
	}
	return nil
}

func loadItems(ctx context.Context, db querier, orderIDs []string) (map[string][]models.OrderLineItem, error) {
	query := `
		SELECT order_id, product_id, quantity, price_at_purchase, carbon_saved_at_purchase,
			water_saved_at_purchase, waste_diverted_at_purchase, subtotal
		FROM order_items
		WHERE order_id = ANY($1)
		ORDER BY order_id, position`

	rows, err := db.QueryContext(ctx, query, pq.Array(orderIDs))
	if err != nil {
		return nil, fmt.Errorf("get order items: %w", err)
	}
	defer rows.Close()

	items := make(map[string][]models.OrderLineItem, len(orderIDs))
	for rows.Next() {
		var (
			orderID string
			item    models.OrderLineItem
		)
		err := rows.Scan(
			&orderID,
			&item.ProductID,
			&item.Quantity,
			&item.PriceAtPurchase,
			&item.CarbonSavedAtPurchase,
			&item.WaterSavedAtPurchase,
			&item.WasteDivertedAtPurchase,
			&item.Subtotal,
		)
		if err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		items[orderID] = append(items[orderID], item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return items, nil
}
