package orders

import (
	"github.com/shopspring/decimal"

	"github.com/safar/rewear-store/internal/apperr"
	"github.com/safar/rewear-store/internal/models"
)

type Quote struct {
	Items              []models.OrderLineItem
	TotalAmount        decimal.Decimal
	TotalCarbonSaved   decimal.Decimal
	TotalWaterSaved    decimal.Decimal
	TotalWasteDiverted decimal.Decimal
}

// Price snapshots catalog price and impact per line, in cart order, and sums
// the aggregates. Only catalog prices are used.
func Price(items []models.CartItem, catalog map[string]models.CatalogEntry) (Quote, error) {
	quote := Quote{
		Items:              make([]models.OrderLineItem, 0, len(items)),
		TotalAmount:        decimal.Zero,
		TotalCarbonSaved:   decimal.Zero,
		TotalWaterSaved:    decimal.Zero,
		TotalWasteDiverted: decimal.Zero,
	}

	for _, item := range items {
		entry, ok := catalog[item.ProductID]
		if !ok {
			return Quote{}, apperr.NotFound("product", item.ProductID)
		}

		line := models.OrderLineItem{
			ProductID:               item.ProductID,
			Quantity:                item.Quantity,
			PriceAtPurchase:         entry.Price,
			CarbonSavedAtPurchase:   entry.CarbonPerUnit,
			WaterSavedAtPurchase:    entry.WaterPerUnit,
			WasteDivertedAtPurchase: entry.WastePerUnit,
			Subtotal:                entry.Price.Mul(decimal.NewFromInt(int64(item.Quantity))),
		}

		quote.Items = append(quote.Items, line)
		quote.TotalAmount = quote.TotalAmount.Add(line.Subtotal)
		quote.TotalCarbonSaved = quote.TotalCarbonSaved.Add(line.LineCarbonSaved())
		quote.TotalWaterSaved = quote.TotalWaterSaved.Add(line.LineWaterSaved())
		quote.TotalWasteDiverted = quote.TotalWasteDiverted.Add(line.LineWasteDiverted())
	}

	return quote, nil
}
