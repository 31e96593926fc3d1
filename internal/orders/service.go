// Package orders places orders against the catalog and drives them through
// their lifecycle. Stock is reserved in the same atomic unit that persists the
// order, and returned to the catalog exactly once when an order is cancelled
// or returned.
package orders

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/safar/rewear-store/internal/apperr"
	"github.com/safar/rewear-store/internal/models"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100

	defaultHookTimeout = 5 * time.Second
)

type CreateOrderRequest struct {
	Items           []models.CartItem `json:"items"`
	ShippingAddress models.Address    `json:"shipping_address"`
	BillingAddress  models.Address    `json:"billing_address"`
}

type Service struct {
	store  Store
	logger *zap.Logger

	now         func() time.Time
	newID       func() string
	newNumber   func() string
	hookTimeout time.Duration

	createdHooks []CreatedHook
	statusHooks  []StatusHook
	hooks        *hookQueue
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIDs replaces the order id and order number generators.
func WithIDs(id, number func() string) Option {
	return func(s *Service) {
		s.newID = id
		s.newNumber = number
	}
}

func WithHookTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.hookTimeout = d
		}
	}
}

func WithCreatedHooks(hooks ...CreatedHook) Option {
	return func(s *Service) { s.createdHooks = append(s.createdHooks, hooks...) }
}

func WithStatusHooks(hooks ...StatusHook) Option {
	return func(s *Service) { s.statusHooks = append(s.statusHooks, hooks...) }
}

func NewService(store Store, logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		store:       store,
		logger:      logger.Named("orders"),
		now:         func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
		newID:       uuid.NewString,
		newNumber:   func() string { return "ORD-" + ulid.Make().String() },
		hookTimeout: defaultHookTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	if len(s.createdHooks) > 0 || len(s.statusHooks) > 0 {
		s.hooks = newHookQueue(hookQueueSize)
	}
	return s
}

// CreateOrder prices the cart from the catalog, reserves stock and persists a
// Pending order in one atomic unit. Either all of it is visible afterwards or
// none of it is.
func (s *Service) CreateOrder(ctx context.Context, caller Caller, req CreateOrderRequest) (*models.Order, error) {
	if err := validateCreate(caller, req); err != nil {
		return nil, err
	}

	catalog, err := s.store.FindByIDs(ctx, distinctProductIDs(req.Items))
	if err != nil {
		return nil, failure("load catalog", err)
	}

	reservation, err := Reserve(req.Items, catalog)
	if err != nil {
		return nil, err
	}
	quote, err := Price(req.Items, catalog)
	if err != nil {
		return nil, err
	}

	now := s.now()
	order := &models.Order{
		ID:                 s.newID(),
		OrderNumber:        s.newNumber(),
		UserID:             caller.UserID,
		Status:             models.OrderStatusPending,
		ShippingAddress:    req.ShippingAddress,
		BillingAddress:     req.BillingAddress,
		Items:              quote.Items,
		TotalAmount:        quote.TotalAmount,
		TotalCarbonSaved:   quote.TotalCarbonSaved,
		TotalWaterSaved:    quote.TotalWaterSaved,
		TotalWasteDiverted: quote.TotalWasteDiverted,
		CreatedAt:          now,
		UpdatedAt:          now,
		Version:            1,
	}
	if err := order.CheckTotals(); err != nil {
		return nil, fmt.Errorf("build order: %w", err)
	}

	err = s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		if err := reservation.Apply(ctx, tx); err != nil {
			return err
		}
		return tx.InsertOrder(ctx, order)
	})
	if err != nil {
		return nil, failure("create order", err)
	}

	s.logger.Info("order created",
		zap.String("order_id", order.ID),
		zap.String("order_number", order.OrderNumber),
		zap.String("user_id", order.UserID),
		zap.Int("items", len(order.Items)),
		zap.String("total_amount", order.TotalAmount.String()),
	)

	s.afterCreate(ctx, order)
	return order, nil
}

// UpdateStatus moves an order to the requested status. Moving into Cancelled
// or Returned restocks every line in the same atomic unit as the status write.
// Requesting the current status succeeds without side effects.
func (s *Service) UpdateStatus(ctx context.Context, caller Caller, orderID, status string) (*models.Order, error) {
	if !caller.IsAdmin {
		return nil, apperr.Forbidden("update order status")
	}
	if orderID == "" {
		return nil, apperr.Validation("order_id", "is required")
	}
	to, ok := models.ParseOrderStatus(status)
	if !ok {
		return nil, &apperr.InvalidStatusError{To: status}
	}

	var (
		updated *models.Order
		from    models.OrderStatus
		changed bool
	)
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		changed = false

		order, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		from = order.Status

		compensate, err := Transition(order.Status, to)
		if err != nil {
			return err
		}
		if order.Status == to {
			updated = order
			return nil
		}

		if compensate {
			if err := RestockFor(order).Apply(ctx, tx); err != nil {
				return err
			}
		}

		now := s.now()
		if err := tx.SetOrderStatus(ctx, order.ID, to, now); err != nil {
			return err
		}
		order.Status = to
		order.UpdatedAt = now
		order.Version++

		updated = order
		changed = true
		return nil
	})
	if err != nil {
		return nil, failure("update order status", err)
	}

	if changed {
		s.logger.Info("order status changed",
			zap.String("order_id", updated.ID),
			zap.String("from", string(from)),
			zap.String("to", string(to)),
			zap.Bool("restocked", to.Restocked()),
		)
		s.afterStatusChange(ctx, updated, from)
	}
	return updated, nil
}

// GetOrder returns the order if the caller owns it or is an admin. Orders the
// caller may not see are reported as not found.
func (s *Service) GetOrder(ctx context.Context, caller Caller, id string) (*models.Order, error) {
	if id == "" {
		return nil, apperr.Validation("order_id", "is required")
	}

	order, err := s.store.GetOrder(ctx, id)
	if err != nil {
		return nil, failure("get order", err)
	}
	if order.UserID != caller.UserID && !caller.IsAdmin {
		return nil, apperr.NotFound("order", id)
	}
	return order, nil
}

// ListMyOrders pages through the caller's orders, newest first.
func (s *Service) ListMyOrders(ctx context.Context, caller Caller, cursor string, limit int) (*models.CursorPage[models.Order], error) {
	if caller.UserID == "" {
		return nil, apperr.Validation("user_id", "is required")
	}

	page, err := s.store.ListOrdersByUser(ctx, caller.UserID, cursor, clampPageSize(limit))
	if err != nil {
		return nil, failure("list orders", err)
	}
	return page, nil
}

// ListAllOrders is the admin view over every order, optionally filtered by
// status.
func (s *Service) ListAllOrders(ctx context.Context, caller Caller, status string, page, pageSize int) (*models.OffsetPage[models.Order], error) {
	if !caller.IsAdmin {
		return nil, apperr.Forbidden("list all orders")
	}

	var filter models.OrderStatus
	if status != "" {
		parsed, ok := models.ParseOrderStatus(status)
		if !ok {
			return nil, &apperr.InvalidStatusError{To: status}
		}
		filter = parsed
	}
	if page < 1 {
		page = 1
	}

	result, err := s.store.ListOrders(ctx, filter, page, clampPageSize(pageSize))
	if err != nil {
		return nil, failure("list orders", err)
	}
	return result, nil
}

func validateCreate(caller Caller, req CreateOrderRequest) error {
	if caller.UserID == "" {
		return apperr.Validation("user_id", "is required")
	}
	if len(req.Items) == 0 {
		return apperr.Validation("items", "must not be empty")
	}
	for i, item := range req.Items {
		if item.ProductID == "" {
			return apperr.Validation(fmt.Sprintf("items[%d].product_id", i), "is required")
		}
		if item.Quantity < 1 {
			return apperr.Validation(fmt.Sprintf("items[%d].quantity", i), "must be at least 1")
		}
		if item.Quantity > MaxLineQuantity {
			return apperr.Validation(fmt.Sprintf("items[%d].quantity", i),
				fmt.Sprintf("must be at most %d", MaxLineQuantity))
		}
	}
	if field := req.ShippingAddress.MissingField(); field != "" {
		return apperr.Validation("shipping_address."+field, "is required")
	}
	if field := req.BillingAddress.MissingField(); field != "" {
		return apperr.Validation("billing_address."+field, "is required")
	}
	return nil
}

func distinctProductIDs(items []models.CartItem) []string {
	seen := make(map[string]bool, len(items))
	ids := make([]string, 0, len(items))
	for _, item := range items {
		if seen[item.ProductID] {
			continue
		}
		seen[item.ProductID] = true
		ids = append(ids, item.ProductID)
	}
	return ids
}

func clampPageSize(n int) int {
	if n <= 0 {
		return DefaultPageSize
	}
	if n > MaxPageSize {
		return MaxPageSize
	}
	return n
}

// failure passes business outcomes through untouched and marks anything else
// as a failed atomic unit.
func failure(op string, err error) error {
	if apperr.IsDomain(err) || apperr.KindOf(err) == apperr.KindTransaction {
		return err
	}
	return apperr.Transaction(op, err)
}
