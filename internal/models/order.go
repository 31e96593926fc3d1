package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "Pending"
	OrderStatusProcessing OrderStatus = "Processing"
	OrderStatusShipped    OrderStatus = "Shipped"
	OrderStatusDelivered  OrderStatus = "Delivered"
	OrderStatusCancelled  OrderStatus = "Cancelled"
	OrderStatusReturned   OrderStatus = "Returned"
)

var orderStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusProcessing,
	OrderStatusShipped,
	OrderStatusDelivered,
	OrderStatusCancelled,
	OrderStatusReturned,
}

// ParseOrderStatus accepts the canonical names case-insensitively.
func ParseOrderStatus(s string) (OrderStatus, bool) {
	s = strings.TrimSpace(s)
	for _, status := range orderStatuses {
		if strings.EqualFold(s, string(status)) {
			return status, true
		}
	}
	return "", false
}

// Restocked reports whether an order in this status has had its stock
// returned to the catalog.
func (s OrderStatus) Restocked() bool {
	return s == OrderStatusCancelled || s == OrderStatusReturned
}

type CartItem struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type Address struct {
	AddressLine1  string `json:"address_line1"`
	AddressLine2  string `json:"address_line2,omitempty"`
	City          string `json:"city"`
	StateProvince string `json:"state_province"`
	PostalCode    string `json:"postal_code"`
	Country       string `json:"country"`
}

// MissingField returns the name of the first required field that is blank.
func (a Address) MissingField() string {
	switch {
	case strings.TrimSpace(a.AddressLine1) == "":
		return "address_line1"
	case strings.TrimSpace(a.City) == "":
		return "city"
	case strings.TrimSpace(a.StateProvince) == "":
		return "state_province"
	case strings.TrimSpace(a.PostalCode) == "":
		return "postal_code"
	case strings.TrimSpace(a.Country) == "":
		return "country"
	}
	return ""
}

func (a Address) Value() (driver.Value, error) {
	data, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func (a *Address) Scan(src any) error {
	var data []byte
	switch v := src.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	case nil:
		*a = Address{}
		return nil
	default:
		return fmt.Errorf("scan address: unsupported type %T", src)
	}
	return json.Unmarshal(data, a)
}

type OrderLineItem struct {
	ProductID               string          `json:"product_id"`
	Quantity                int             `json:"quantity"`
	PriceAtPurchase         decimal.Decimal `json:"price_at_purchase"`
	CarbonSavedAtPurchase   decimal.Decimal `json:"carbon_saved_at_purchase"`
	WaterSavedAtPurchase    decimal.Decimal `json:"water_saved_at_purchase"`
	WasteDivertedAtPurchase decimal.Decimal `json:"waste_diverted_at_purchase"`
	Subtotal                decimal.Decimal `json:"subtotal"`
}

func (li OrderLineItem) qty() decimal.Decimal {
	return decimal.NewFromInt(int64(li.Quantity))
}

func (li OrderLineItem) LineCarbonSaved() decimal.Decimal {
	return li.CarbonSavedAtPurchase.Mul(li.qty())
}

func (li OrderLineItem) LineWaterSaved() decimal.Decimal {
	return li.WaterSavedAtPurchase.Mul(li.qty())
}

func (li OrderLineItem) LineWasteDiverted() decimal.Decimal {
	return li.WasteDivertedAtPurchase.Mul(li.qty())
}

type Order struct {
	ID                 string          `json:"id"`
	OrderNumber        string          `json:"order_number"`
	UserID             string          `json:"user_id"`
	Status             OrderStatus     `json:"status"`
	ShippingAddress    Address         `json:"shipping_address"`
	BillingAddress     Address         `json:"billing_address"`
	Items              []OrderLineItem `json:"items"`
	TotalAmount        decimal.Decimal `json:"total_amount"`
	TotalCarbonSaved   decimal.Decimal `json:"total_carbon_saved"`
	TotalWaterSaved    decimal.Decimal `json:"total_water_saved"`
	TotalWasteDiverted decimal.Decimal `json:"total_waste_diverted"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
	Version            int             `json:"version"`
}

var ErrTotalsMismatch = errors.New("order totals do not match line items")

// CheckTotals verifies that every aggregate equals the sum over line items.
func (o *Order) CheckTotals() error {
	var amount, carbon, water, waste decimal.Decimal
	for _, li := range o.Items {
		if !li.Subtotal.Equal(li.PriceAtPurchase.Mul(li.qty())) {
			return fmt.Errorf("%w: subtotal of %s", ErrTotalsMismatch, li.ProductID)
		}
		amount = amount.Add(li.Subtotal)
		carbon = carbon.Add(li.LineCarbonSaved())
		water = water.Add(li.LineWaterSaved())
		waste = waste.Add(li.LineWasteDiverted())
	}

	switch {
	case !amount.Equal(o.TotalAmount):
		return fmt.Errorf("%w: total_amount %s != %s", ErrTotalsMismatch, o.TotalAmount, amount)
	case !carbon.Equal(o.TotalCarbonSaved):
		return fmt.Errorf("%w: total_carbon_saved %s != %s", ErrTotalsMismatch, o.TotalCarbonSaved, carbon)
	case !water.Equal(o.TotalWaterSaved):
		return fmt.Errorf("%w: total_water_saved %s != %s", ErrTotalsMismatch, o.TotalWaterSaved, water)
	case !waste.Equal(o.TotalWasteDiverted):
		return fmt.Errorf("%w: total_waste_diverted %s != %s", ErrTotalsMismatch, o.TotalWasteDiverted, waste)
	}
	return nil
}
