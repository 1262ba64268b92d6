package service

import (
	"context"
	"fmt"
	"time"

	"storefront/internal/models"
	"storefront/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// OrderStore is the persistence surface of the order state machine.
// The transition methods validate the requested transition against the
// status table and apply any stock adjustment in the same transaction
// as the status flip.
type OrderStore interface {
	CreateOrder(ctx context.Context, order *models.Order, reserve bool) error
	ConfirmOrder(ctx context.Context, orderID int64, target models.Status) (*models.Order, error)
	CancelOrder(ctx context.Context, orderID, userID int64, byAdmin bool) (*models.Order, bool, error)
	DeliverOrder(ctx context.Context, orderID int64) (*models.Order, error)
	GetOrderByID(ctx context.Context, id int64) (*models.Order, error)
	GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error)
	GetOrdersByUserID(ctx context.Context, userID int64) ([]models.Order, error)
	GetOrders(ctx context.Context, status models.Status) ([]models.Order, error)
}

// Publisher hands order lifecycle events to the messaging channel.
type Publisher interface {
	PublishOrderPlaced(ctx context.Context, event *models.OrderPlacedEvent) error
	PublishOrderConfirmed(ctx context.Context, event *models.OrderConfirmedEvent) error
	PublishOrderCancelled(ctx context.Context, event *models.OrderCancelledEvent) error
	PublishOrderDelivered(ctx context.Context, event *models.OrderDeliveredEvent) error
}

// OrderService drives orders through the lifecycle:
// pending -> active -> delivered, with cancellation from either
// non-terminal state.
type OrderService struct {
	store     OrderStore
	ledger    *InventoryLedger
	publisher Publisher
	logger    *zap.Logger
}

// NewOrderService creates a new order service
func NewOrderService(store OrderStore, ledger *InventoryLedger, publisher Publisher) *OrderService {
	return &OrderService{
		store:     store,
		ledger:    ledger,
		publisher: publisher,
		logger:    util.GetLogger(),
	}
}

// PlaceOrderRequest represents a request to place an order. Item field
// names follow the storefront wire format.
type PlaceOrderRequest struct {
	UserID         int64
	Items          []PlacedItem
	Status         string
	IdempotencyKey string
}

// PlacedItem is one requested order line. Price is the cart's unit
// price at hand-off time; the order total is fixed from it.
type PlacedItem struct {
	Product  int64 `json:"product" binding:"required"`
	Quantity int   `json:"quantity" binding:"required,min=1"`
	Price    int64 `json:"price"`
}

// Place validates every line, fixes the total, and persists the order.
// Unless the caller asked for pending, stock for all lines is reserved
// in the same transaction that creates the order, so a failing line
// leaves nothing behind.
func (s *OrderService) Place(ctx context.Context, req *PlaceOrderRequest) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.Place")
	defer span.End()

	status, err := s.initialStatus(req.Status)
	if err != nil {
		util.OrdersFailedTotal.WithLabelValues("invalid_request").Inc()
		return nil, err
	}
	if err := validateItems(req.Items); err != nil {
		util.OrdersFailedTotal.WithLabelValues("invalid_request").Inc()
		return nil, err
	}

	if req.IdempotencyKey != "" {
		existing, err := s.store.GetOrderByIdempotencyKey(ctx, req.IdempotencyKey)
		if err != nil {
			return nil, fmt.Errorf("failed to check idempotency: %w", err)
		}
		if existing != nil {
			s.logger.Info("duplicate order request",
				zap.String("idempotency_key", req.IdempotencyKey),
				zap.Int64("order_id", existing.ID))
			return existing, nil
		}
	}

	lines := requestLines(req.Items)
	if err := s.ledger.CheckAvailability(ctx, lines); err != nil {
		util.OrdersFailedTotal.WithLabelValues("insufficient_stock").Inc()
		return nil, err
	}

	order := &models.Order{
		UserID:         req.UserID,
		Status:         status,
		IdempotencyKey: req.IdempotencyKey,
		Items:          make([]models.OrderItem, len(req.Items)),
	}
	for i, item := range req.Items {
		order.Items[i] = models.OrderItem{
			ProductID: item.Product,
			Quantity:  item.Quantity,
			UnitPrice: item.Price,
		}
		order.TotalAmount += item.Price * int64(item.Quantity)
	}

	reserve := status != models.StatusPending
	if err := s.store.CreateOrder(ctx, order, reserve); err != nil {
		util.OrdersFailedTotal.WithLabelValues("place_rejected").Inc()
		return nil, err
	}

	util.OrdersPlacedTotal.WithLabelValues(string(status)).Inc()
	s.logger.Info("order placed",
		zap.Int64("order_id", order.ID),
		zap.Int64("user_id", order.UserID),
		zap.String("status", string(order.Status)))

	if reserve {
		s.ledger.RefreshSnapshots(ctx, lineProductIDs(lines))
	}

	event := &models.OrderPlacedEvent{
		BaseEvent:   newBaseEvent(models.EventTypeOrderPlaced),
		OrderID:     order.ID,
		UserID:      order.UserID,
		Status:      order.Status,
		TotalAmount: order.TotalAmount,
		Items:       lines,
	}
	if err := s.publisher.PublishOrderPlaced(ctx, event); err != nil {
		s.logger.Error("failed to publish OrderPlaced event", zap.Error(err))
	}

	return order, nil
}

// Confirm moves a pending order to active, re-validating and reserving
// stock for every line. Stock may have been consumed by other orders
// since placement, so the placement-time check is not trusted.
func (s *OrderService) Confirm(ctx context.Context, orderID int64, targetRaw string) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.Confirm")
	defer span.End()

	target, err := models.ParseStatus(targetRaw)
	if err != nil {
		return nil, &models.ValidationError{Reason: err.Error()}
	}
	if target != models.StatusActive {
		return nil, &models.ValidationError{Reason: fmt.Sprintf("cannot confirm to status %q", target)}
	}

	start := time.Now()
	order, err := s.store.ConfirmOrder(ctx, orderID, target)
	util.StockReserveLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		util.OrdersFailedTotal.WithLabelValues("confirm_rejected").Inc()
		return nil, err
	}

	util.OrdersConfirmedTotal.Inc()
	s.logger.Info("order confirmed", zap.Int64("order_id", order.ID))
	s.ledger.RefreshSnapshots(ctx, orderProductIDs(order))

	event := &models.OrderConfirmedEvent{
		BaseEvent: newBaseEvent(models.EventTypeOrderConfirmed),
		OrderID:   order.ID,
		UserID:    order.UserID,
	}
	if err := s.publisher.PublishOrderConfirmed(ctx, event); err != nil {
		s.logger.Error("failed to publish OrderConfirmed event", zap.Error(err))
	}

	return order, nil
}

// Cancel is a user-initiated cancellation. An order belonging to a
// different user is reported as not found.
func (s *OrderService) Cancel(ctx context.Context, orderID, userID int64) (*models.Order, error) {
	return s.cancel(ctx, orderID, userID, false)
}

// AdminCancel cancels any user's order on behalf of an administrator
// and marks the order accordingly. The buyer is notified out of band.
func (s *OrderService) AdminCancel(ctx context.Context, orderID int64) (*models.Order, error) {
	return s.cancel(ctx, orderID, 0, true)
}

func (s *OrderService) cancel(ctx context.Context, orderID, userID int64, byAdmin bool) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.Cancel")
	defer span.End()

	order, released, err := s.store.CancelOrder(ctx, orderID, userID, byAdmin)
	if err != nil {
		util.OrdersFailedTotal.WithLabelValues("cancel_rejected").Inc()
		return nil, err
	}

	actor := "user"
	if byAdmin {
		actor = "admin"
	}
	util.OrdersCancelledTotal.WithLabelValues(actor).Inc()

	s.logger.Info("order cancelled",
		zap.Int64("order_id", order.ID),
		zap.String("actor", actor),
		zap.Bool("stock_released", released))

	if released {
		s.ledger.RefreshSnapshots(ctx, orderProductIDs(order))
	}

	event := &models.OrderCancelledEvent{
		BaseEvent:     newBaseEvent(models.EventTypeOrderCancelled),
		OrderID:       order.ID,
		UserID:        order.UserID,
		ByAdmin:       byAdmin,
		StockReleased: released,
	}
	if err := s.publisher.PublishOrderCancelled(ctx, event); err != nil {
		s.logger.Error("failed to publish OrderCancelled event", zap.Error(err))
	}

	return order, nil
}

// Deliver moves an active order to delivered. Stock is untouched; the
// reservation made at confirmation already consumed it.
func (s *OrderService) Deliver(ctx context.Context, orderID int64) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.Deliver")
	defer span.End()

	order, err := s.store.DeliverOrder(ctx, orderID)
	if err != nil {
		util.OrdersFailedTotal.WithLabelValues("deliver_rejected").Inc()
		return nil, err
	}

	util.OrdersDeliveredTotal.Inc()
	s.logger.Info("order delivered", zap.Int64("order_id", order.ID))

	event := &models.OrderDeliveredEvent{
		BaseEvent: newBaseEvent(models.EventTypeOrderDelivered),
		OrderID:   order.ID,
		UserID:    order.UserID,
	}
	if err := s.publisher.PublishOrderDelivered(ctx, event); err != nil {
		s.logger.Error("failed to publish OrderDelivered event", zap.Error(err))
	}

	return order, nil
}

// GetOrder retrieves an order with its items.
func (s *OrderService) GetOrder(ctx context.Context, orderID int64) (*models.Order, error) {
	return s.store.GetOrderByID(ctx, orderID)
}

// ListByUser retrieves the caller's orders, items populated.
func (s *OrderService) ListByUser(ctx context.Context, userID int64) ([]models.Order, error) {
	return s.store.GetOrdersByUserID(ctx, userID)
}

// ListAll retrieves all orders for the admin console, optionally
// filtered by status.
func (s *OrderService) ListAll(ctx context.Context, statusRaw string) ([]models.Order, error) {
	var status models.Status
	if statusRaw != "" {
		parsed, err := models.ParseStatus(statusRaw)
		if err != nil {
			return nil, &models.ValidationError{Reason: err.Error()}
		}
		status = parsed
	}
	return s.store.GetOrders(ctx, status)
}

// initialStatus decides the state an order is created in. Only pending
// and active are placeable.
func (s *OrderService) initialStatus(raw string) (models.Status, error) {
	status, err := models.ParseStatus(raw)
	if err != nil {
		return "", &models.ValidationError{Reason: err.Error()}
	}
	if status != models.StatusPending && status != models.StatusActive {
		return "", &models.ValidationError{Reason: fmt.Sprintf("cannot place an order as %q", status)}
	}
	return status, nil
}

func validateItems(items []PlacedItem) error {
	if len(items) == 0 {
		return &models.ValidationError{Reason: "order has no items"}
	}
	for _, item := range items {
		if item.Product <= 0 {
			return &models.ValidationError{Reason: "item has no product"}
		}
		if item.Quantity < 1 {
			return &models.ValidationError{Reason: fmt.Sprintf("invalid quantity %d for product %d", item.Quantity, item.Product)}
		}
		if item.Price < 0 {
			return &models.ValidationError{Reason: fmt.Sprintf("negative price for product %d", item.Product)}
		}
	}
	return nil
}

func requestLines(items []PlacedItem) []models.StockLine {
	lines := make([]models.StockLine, len(items))
	for i, item := range items {
		lines[i] = models.StockLine{ProductID: item.Product, Quantity: item.Quantity}
	}
	return lines
}

func orderProductIDs(order *models.Order) []int64 {
	ids := make([]int64, len(order.Items))
	for i, item := range order.Items {
		ids[i] = item.ProductID
	}
	return ids
}

func newBaseEvent(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now(),
	}
}
