package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/safar/rewear-store/internal/models"
	"github.com/safar/rewear-store/internal/orders"
)

type publisher interface {
	Publish(ctx context.Context, topic string, key, value []byte, headers ...kafka.Header) error
}

var (
	_ orders.CreatedHook = (*Publisher)(nil)
	_ orders.StatusHook  = (*Publisher)(nil)
)

// Publisher turns committed order changes into envelopes.
type Publisher struct {
	out     publisher
	service string
	now     func() time.Time
}

func NewPublisher(out publisher, service string) *Publisher {
	return &Publisher{
		out:     out,
		service: service,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (p *Publisher) OnOrderCreated(ctx context.Context, userID string, order *models.Order) error {
	payload := OrderCreatedPayload{
		OrderID:            order.ID,
		OrderNumber:        order.OrderNumber,
		UserID:             userID,
		Items:              make([]LineItem, 0, len(order.Items)),
		TotalAmount:        order.TotalAmount,
		TotalCarbonSaved:   order.TotalCarbonSaved,
		TotalWaterSaved:    order.TotalWaterSaved,
		TotalWasteDiverted: order.TotalWasteDiverted,
	}
	for _, li := range order.Items {
		payload.Items = append(payload.Items, LineItem{
			ProductID:       li.ProductID,
			Quantity:        li.Quantity,
			PriceAtPurchase: li.PriceAtPurchase,
		})
	}
	return p.publish(ctx, TopicOrderCreated, EventOrderCreated, order.ID, payload)
}

func (p *Publisher) OnOrderStatusChanged(ctx context.Context, order *models.Order, from models.OrderStatus) error {
	payload := OrderStatusChangedPayload{
		OrderID:   order.ID,
		UserID:    order.UserID,
		From:      string(from),
		To:        string(order.Status),
		Restocked: order.Status.Restocked() && !from.Restocked(),
	}
	return p.publish(ctx, TopicOrderStatusChanged, EventOrderStatusChanged, order.ID, payload)
}

func (p *Publisher) publish(ctx context.Context, topic, eventType, orderID string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", eventType, err)
	}

	env := Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  envelopeVersion,
		OccurredAt:    p.now(),
		Producer:      p.service,
		TraceID:       middleware.GetReqID(ctx),
		CorrelationID: orderID,
		Payload:       body,
	}
	value, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal %s envelope: %w", eventType, err)
	}

	err = p.out.Publish(ctx, topic, PartitionKey(orderID), value,
		kafka.Header{Key: "x-event-type", Value: []byte(eventType)},
		kafka.Header{Key: "x-event-version", Value: []byte(strconv.Itoa(envelopeVersion))},
	)
	if err != nil {
		return fmt.Errorf("publish %s: %w", eventType, err)
	}
	return nil
}
