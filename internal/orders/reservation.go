package orders

import (
	"context"
	"fmt"

	"github.com/safar/rewear-store/internal/apperr"
	"github.com/safar/rewear-store/internal/models"
)

// MaxLineQuantity bounds a single cart line. It keeps per-product sums far
// from integer overflow and inside the INTEGER stock column.
const MaxLineQuantity = 10000

type StockDelta struct {
	ProductID string
	Quantity  int
}

// Reservation is the staged stock decrement for one order attempt.
type Reservation struct {
	Deltas []StockDelta
}

// Reserve checks the catalog snapshot can cover every line and stages one
// decrement per line. Lines naming the same product are checked against their
// combined quantity. Nothing is staged on failure.
func Reserve(items []models.CartItem, catalog map[string]models.CatalogEntry) (Reservation, error) {
	requested := make(map[string]int, len(items))
	for i, item := range items {
		if item.Quantity < 1 || item.Quantity > MaxLineQuantity {
			return Reservation{}, apperr.Validation(fmt.Sprintf("items[%d].quantity", i),
				fmt.Sprintf("must be between 1 and %d", MaxLineQuantity))
		}
		requested[item.ProductID] += item.Quantity
	}

	for _, item := range items {
		entry, ok := catalog[item.ProductID]
		if !ok {
			return Reservation{}, apperr.NotFound("product", item.ProductID)
		}
		if want := requested[item.ProductID]; entry.StockQuantity < want {
			return Reservation{}, &apperr.InsufficientStockError{
				ProductID: item.ProductID,
				Requested: want,
				Available: entry.StockQuantity,
			}
		}
	}

	deltas := make([]StockDelta, 0, len(items))
	for _, item := range items {
		deltas = append(deltas, StockDelta{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	return Reservation{Deltas: deltas}, nil
}

// Apply performs the staged decrements as conditional updates. The snapshot
// check in Reserve may be stale; a refused decrement aborts the transaction
// with the stock seen inside it.
func (r Reservation) Apply(ctx context.Context, tx Tx) error {
	for _, d := range r.Deltas {
		ok, err := tx.DecrementIfSufficient(ctx, d.ProductID, d.Quantity)
		if err != nil {
			return fmt.Errorf("decrement stock of %s: %w", d.ProductID, err)
		}
		if ok {
			continue
		}

		available, err := tx.StockOf(ctx, d.ProductID)
		if err != nil {
			return fmt.Errorf("read stock of %s: %w", d.ProductID, err)
		}
		return &apperr.InsufficientStockError{
			ProductID: d.ProductID,
			Requested: d.Quantity,
			Available: available,
		}
	}
	return nil
}

// Restock is the compensating batch for an order: one increment per line.
type Restock struct {
	Deltas []StockDelta
}

// RestockFor builds the compensation from the persisted lines, so it undoes
// exactly what was decremented when the order was placed.
func RestockFor(order *models.Order) Restock {
	deltas := make([]StockDelta, 0, len(order.Items))
	for _, li := range order.Items {
		deltas = append(deltas, StockDelta{ProductID: li.ProductID, Quantity: li.Quantity})
	}
	return Restock{Deltas: deltas}
}

func (r Restock) Apply(ctx context.Context, tx Tx) error {
	for _, d := range r.Deltas {
		if err := tx.IncrementStock(ctx, d.ProductID, d.Quantity); err != nil {
			return fmt.Errorf("restock %s: %w", d.ProductID, err)
		}
	}
	return nil
}
