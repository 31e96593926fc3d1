//go:build integration

package store_test

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/safar/rewear-store/internal/apperr"
	"github.com/safar/rewear-store/internal/database"
	"github.com/safar/rewear-store/internal/store"
)

func TestConcurrentStockDecrement(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	product := createProduct(t, db, "TEST-001", "100", "1", 10)

	concurrency := 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	successCount := 0

	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			err := database.WithTransaction(ctx, db, database.DefaultTxOptions(), func(ctx context.Context, tx *sql.Tx) error {
				ok, err := store.DecrementStock(ctx, tx, product.ID, 2)
				if err != nil {
					return err
				}
				if !ok {
					return errors.New("insufficient stock")
				}
				return nil
			})

			if err == nil {
				mu.Lock()
				successCount++
				mu.Unlock()
			}
		}()
	}

	wg.Wait()

	if successCount != 5 {
		t.Errorf("Expected 5 successful decrements, got %d", successCount)
	}

	if got := stockOf(t, db, product.ID); got != 0 {
		t.Errorf("Expected stock 0, got %d", got)
	}
}

func TestFindCatalogEntries(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	product1 := createProduct(t, db, "TEST-002", "19.99", "2.25", 4)
	product2 := createProduct(t, db, "TEST-003", "5", "0", 0)

	entries, err := store.FindCatalogEntries(ctx, db, []string{product1.ID, product2.ID})
	if err != nil {
		t.Fatalf("Find catalog entries: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(entries))
	}
	if e := entries[product1.ID]; e.StockQuantity != 4 || e.Price.String() != "19.99" || e.CarbonPerUnit.String() != "2.25" {
		t.Errorf("Unexpected entry: %+v", e)
	}

	_, err = store.FindCatalogEntries(ctx, db, []string{product1.ID, "missing-1", "missing-2"})
	var nf *apperr.NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("Expected not found error, got: %v", err)
	}
	if nf.ID != "missing-1" {
		t.Errorf("Expected first missing id, got %s", nf.ID)
	}
}

func TestStockCannotGoNegative(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	product := createProduct(t, db, "TEST-004", "1", "1", 2)

	_, err := db.ExecContext(ctx, `UPDATE products SET stock_quantity = -1 WHERE id = $1`, product.ID)
	if !database.IsCheckViolation(err) {
		t.Errorf("Expected check violation, got: %v", err)
	}
}

func TestLockOrderNoWait(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	svc, _ := newService(db)

	user, err := store.CreateUser(ctx, db, "lock@example.com", "Lock User", false)
	if err != nil {
		t.Fatalf("Create user: %v", err)
	}
	product := createProduct(t, db, "TEST-005", "1", "1", 5)
	order, err := svc.CreateOrder(ctx, callerFor(user.ID), orderRequest(cartLine(product.ID, 1)))
	if err != nil {
		t.Fatalf("Create order: %v", err)
	}

	tx1, err := db.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("Begin tx1: %v", err)
	}
	defer func() { _ = tx1.Rollback() }()

	if _, err := store.LockOrder(ctx, tx1, order.ID); err != nil {
		t.Fatalf("Lock order in tx1: %v", err)
	}

	tx2, err := db.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("Begin tx2: %v", err)
	}
	defer func() { _ = tx2.Rollback() }()

	if _, err := tx2.ExecContext(ctx, `SET LOCAL lock_timeout = '100ms'`); err != nil {
		t.Fatalf("Set lock timeout: %v", err)
	}

	start := time.Now()
	_, err = store.LockOrder(ctx, tx2, order.ID)
	if !database.IsLockNotAvailable(err) {
		t.Errorf("Expected lock not available, got: %v", err)
	}
	if !database.IsRetryable(err) {
		t.Errorf("Lock timeout should be retryable")
	}
	if time.Since(start) > 5*time.Second {
		t.Errorf("Lock wait was not bounded")
	}
}
