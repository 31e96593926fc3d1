package events

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

const (
	TopicOrderCreated       = "order.created"
	TopicOrderStatusChanged = "order.status_changed"

	EventOrderCreated       = "OrderCreated"
	EventOrderStatusChanged = "OrderStatusChanged"

	envelopeVersion = 1
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

type LineItem struct {
	ProductID       string          `json:"product_id"`
	Quantity        int             `json:"quantity"`
	PriceAtPurchase decimal.Decimal `json:"price_at_purchase"`
}

type OrderCreatedPayload struct {
	OrderID            string          `json:"order_id"`
	OrderNumber        string          `json:"order_number"`
	UserID             string          `json:"user_id"`
	Items              []LineItem      `json:"items"`
	TotalAmount        decimal.Decimal `json:"total_amount"`
	TotalCarbonSaved   decimal.Decimal `json:"total_carbon_saved"`
	TotalWaterSaved    decimal.Decimal `json:"total_water_saved"`
	TotalWasteDiverted decimal.Decimal `json:"total_waste_diverted"`
}

type OrderStatusChangedPayload struct {
	OrderID   string `json:"order_id"`
	UserID    string `json:"user_id"`
	From      string `json:"from"`
	To        string `json:"to"`
	Restocked bool   `json:"restocked"`
}

// PartitionKey keeps every event of one order on one partition, in order.
func PartitionKey(orderID string) []byte { return []byte(orderID) }
