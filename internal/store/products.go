package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/safar/rewear-store/internal/apperr"
	"github.com/safar/rewear-store/internal/models"
)

const productColumns = `id, sku, name, description, price, stock_quantity,
	carbon_saved, water_saved, waste_diverted, is_featured, created_at, updated_at, version`

func scanProduct(row interface{ Scan(...any) error }, product *models.Product) error {
	var sku sql.NullString
	err := row.Scan(
		&product.ID,
		&sku,
		&product.Name,
		&product.Description,
		&product.Price,
		&product.StockQuantity,
		&product.CarbonSaved,
		&product.WaterSaved,
		&product.WasteDiverted,
		&product.IsFeatured,
		&product.CreatedAt,
		&product.UpdatedAt,
		&product.Version,
	)
	product.SKU = sku.String
	return err
}

// CreateProduct inserts p with a fresh id. Catalog management is an operator
// concern; this exists for seeding and tests.
func CreateProduct(ctx context.Context, db querier, p models.Product) (*models.Product, error) {
	product := &models.Product{}

	query := `
		INSERT INTO products (id, sku, name, description, price, stock_quantity,
			carbon_saved, water_saved, waste_diverted, is_featured, created_at, updated_at, version)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7, $8, $9, $10, NOW(), NOW(), 1)
		RETURNING ` + productColumns

	err := scanProduct(db.QueryRowContext(ctx, query,
		uuid.NewString(), p.SKU, p.Name, p.Description, p.Price, p.StockQuantity,
		p.CarbonSaved, p.WaterSaved, p.WasteDiverted, p.IsFeatured,
	), product)
	if err != nil {
		return nil, fmt.Errorf("create product: %w", err)
	}

	return product, nil
}

func GetProduct(ctx context.Context, db querier, id string) (*models.Product, error) {
	product := &models.Product{}

	query := `SELECT ` + productColumns + ` FROM products WHERE id = $1`

	if err := scanProduct(db.QueryRowContext(ctx, query, id), product); err != nil {
		if isNoRows(err) {
			return nil, apperr.NotFound("product", id)
		}
		return nil, fmt.Errorf("get product: %w", err)
	}

	return product, nil
}

// FindCatalogEntries loads every id in one round trip. The first id (in
// request order) with no row fails the lookup.
func FindCatalogEntries(ctx context.Context, db querier, ids []string) (map[string]models.CatalogEntry, error) {
	query := `
		SELECT id, price, stock_quantity, carbon_saved, water_saved, waste_diverted
		FROM products
		WHERE id = ANY($1)`

	rows, err := db.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("find products: %w", err)
	}
	defer rows.Close()

	entries := make(map[string]models.CatalogEntry, len(ids))
	for rows.Next() {
		var e models.CatalogEntry
		err := rows.Scan(
			&e.ProductID,
			&e.Price,
			&e.StockQuantity,
			&e.CarbonPerUnit,
			&e.WaterPerUnit,
			&e.WastePerUnit,
		)
		if err != nil {
			return nil, fmt.Errorf("scan catalog entry: %w", err)
		}
		entries[e.ProductID] = e
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	for _, id := range ids {
		if _, ok := entries[id]; !ok {
			return nil, apperr.NotFound("product", id)
		}
	}

	return entries, nil
}

// DecrementStock subtracts quantity only when enough stock remains. false
// means the guard refused the update; the row is left untouched.
func DecrementStock(ctx context.Context, tx *sql.Tx, productID string, quantity int) (bool, error) {
	result, err := tx.ExecContext(ctx,
		`UPDATE products
		 SET stock_quantity = stock_quantity - $1,
		     updated_at = NOW(),
		     version = version + 1
		 WHERE id = $2
		   AND stock_quantity >= $1`,
		quantity, productID)
	if err != nil {
		return false, fmt.Errorf("decrement stock: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("get rows affected: %w", err)
	}

	return rowsAffected == 1, nil
}

func IncrementStock(ctx context.Context, tx *sql.Tx, productID string, quantity int) error {
	result, err := tx.ExecContext(ctx,
		`UPDATE products
		 SET stock_quantity = stock_quantity + $1,
		     updated_at = NOW(),
		     version = version + 1
		 WHERE id = $2`,
		quantity, productID)
	if err != nil {
		return fmt.Errorf("increment stock: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return apperr.NotFound("product", productID)
	}

	return nil
}

func StockOf(ctx context.Context, db querier, productID string) (int, error) {
	var stock int
	err := db.QueryRowContext(ctx,
		`SELECT stock_quantity FROM products WHERE id = $1`, productID).Scan(&stock)
	if err != nil {
		if isNoRows(err) {
			return 0, apperr.NotFound("product", productID)
		}
		return 0, fmt.Errorf("read stock: %w", err)
	}
	return stock, nil
}

func ListProducts(ctx context.Context, db querier, featuredOnly bool, page, pageSize int) (*models.OffsetPage[models.Product], error) {
	var total int64
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM products WHERE ($1 = FALSE OR is_featured)`, featuredOnly).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("count products: %w", err)
	}

	offset := (page - 1) * pageSize
	query := `
		SELECT ` + productColumns + `
		FROM products
		WHERE ($1 = FALSE OR is_featured)
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`

	rows, err := db.QueryContext(ctx, query, featuredOnly, pageSize, offset)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	var products []models.Product
	for rows.Next() {
		var product models.Product
		if err := scanProduct(rows, &product); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, product)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return models.NewOffsetPage(products, total, page, pageSize), nil
}
