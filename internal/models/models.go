package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type User struct {
	ID                string          `json:"id"`
	Email             string          `json:"email"`
	Name              string          `json:"name"`
	IsAdmin           bool            `json:"is_admin"`
	MonthlyCarbonGoal decimal.Decimal `json:"monthly_carbon_goal"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
	Version           int             `json:"version"`
}

type Product struct {
	ID            string          `json:"id"`
	SKU           string          `json:"sku"`
	Name          string          `json:"name"`
	Description   string          `json:"description,omitempty"`
	Price         decimal.Decimal `json:"price"`
	StockQuantity int             `json:"stock_quantity"`
	CarbonSaved   decimal.Decimal `json:"carbon_saved"`
	WaterSaved    decimal.Decimal `json:"water_saved"`
	WasteDiverted decimal.Decimal `json:"waste_diverted"`
	IsFeatured    bool            `json:"is_featured"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	Version       int             `json:"version"`
}

// CatalogEntry is the point-in-time slice of a product that order placement
// reads: price, stock and the per-unit impact metrics.
type CatalogEntry struct {
	ProductID     string
	Price         decimal.Decimal
	StockQuantity int
	CarbonPerUnit decimal.Decimal
	WaterPerUnit  decimal.Decimal
	WastePerUnit  decimal.Decimal
}

type Badge struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	EarnedAt    time.Time `json:"earned_at,omitempty"`
}

// ImpactTotals aggregates what a user's live orders have saved.
type ImpactTotals struct {
	Orders        int             `json:"orders"`
	CarbonSaved   decimal.Decimal `json:"carbon_saved"`
	WaterSaved    decimal.Decimal `json:"water_saved"`
	WasteDiverted decimal.Decimal `json:"waste_diverted"`
}
