package worker

import (
	"context"
	"time"

	"storefront/internal/broker"
	"storefront/internal/models"
	"storefront/internal/service"
	"storefront/internal/util"

	"go.uber.org/zap"
)

// EventLedger records which events a consumer has already handled.
type EventLedger interface {
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error
}

// NotificationWorker consumes order lifecycle events and dispatches
// buyer notifications. Dispatch is a mock: the real channel (chat,
// email) sits outside this service.
type NotificationWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	events       EventLedger
	logger       *zap.Logger
}

// NewNotificationWorker creates a new notification worker
func NewNotificationWorker(consumer *broker.Consumer, events EventLedger) *NotificationWorker {
	w := &NotificationWorker{
		consumer: consumer,
		events:   events,
		logger:   util.GetLogger(),
	}

	eventHandler := broker.NewEventHandler()
	eventHandler.OnOrderPlaced(w.handleOrderPlaced)
	eventHandler.OnOrderConfirmed(w.handleOrderConfirmed)
	eventHandler.OnOrderCancelled(w.handleOrderCancelled)
	eventHandler.OnOrderDelivered(w.handleOrderDelivered)
	w.eventHandler = eventHandler

	return w
}

// Start starts the worker
func (w *NotificationWorker) Start(ctx context.Context) error {
	w.logger.Info("starting notification worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *NotificationWorker) Stop() error {
	w.logger.Info("stopping notification worker")
	return w.consumer.Close()
}

func (w *NotificationWorker) handleOrderPlaced(ctx context.Context, event *models.OrderPlacedEvent) error {
	return w.dispatch(ctx, event.BaseEvent, event.UserID,
		zap.Int64("order_id", event.OrderID),
		zap.String("status", string(event.Status)))
}

func (w *NotificationWorker) handleOrderConfirmed(ctx context.Context, event *models.OrderConfirmedEvent) error {
	return w.dispatch(ctx, event.BaseEvent, event.UserID,
		zap.Int64("order_id", event.OrderID))
}

func (w *NotificationWorker) handleOrderCancelled(ctx context.Context, event *models.OrderCancelledEvent) error {
	return w.dispatch(ctx, event.BaseEvent, event.UserID,
		zap.Int64("order_id", event.OrderID),
		zap.Bool("by_admin", event.ByAdmin))
}

func (w *NotificationWorker) handleOrderDelivered(ctx context.Context, event *models.OrderDeliveredEvent) error {
	return w.dispatch(ctx, event.BaseEvent, event.UserID,
		zap.Int64("order_id", event.OrderID))
}

func (w *NotificationWorker) dispatch(ctx context.Context, base models.BaseEvent, userID int64, fields ...zap.Field) error {
	processed, err := w.events.IsEventProcessed(ctx, base.EventID)
	if err != nil {
		return err
	}
	if processed {
		w.logger.Debug("event already processed", zap.String("event_id", base.EventID))
		return nil
	}

	fields = append(fields,
		zap.String("event_type", base.EventType),
		zap.Int64("user_id", userID))
	w.logger.Info("buyer notification dispatched", fields...)
	util.NotificationsDispatchedTotal.WithLabelValues(base.EventType).Inc()

	return w.events.MarkEventProcessed(ctx, base.EventID, base.EventType)
}

// ReconcileStore lists products whose reviews changed recently.
type ReconcileStore interface {
	GetRecentlyReviewedProducts(ctx context.Context, lookback time.Duration) ([]int64, error)
}

// ReconcileWorker periodically rebuilds rating aggregates from the
// full review set and reseeds the availability snapshots. It is the
// consistency backstop for the incremental delta updates.
type ReconcileWorker struct {
	store    ReconcileStore
	ratings  *service.RatingService
	ledger   *service.InventoryLedger
	interval time.Duration
	logger   *zap.Logger
}

// NewReconcileWorker creates a new reconcile worker
func NewReconcileWorker(store ReconcileStore, ratings *service.RatingService, ledger *service.InventoryLedger, interval time.Duration) *ReconcileWorker {
	return &ReconcileWorker{
		store:    store,
		ratings:  ratings,
		ledger:   ledger,
		interval: interval,
		logger:   util.GetLogger(),
	}
}

// Start runs the reconcile loop until the context is cancelled.
func (w *ReconcileWorker) Start(ctx context.Context) error {
	w.logger.Info("starting reconcile worker", zap.Duration("interval", w.interval))

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("reconcile worker stopping")
			return ctx.Err()
		case <-ticker.C:
			w.runOnce(ctx)
		}
	}
}

func (w *ReconcileWorker) runOnce(ctx context.Context) {
	// Twice the tick covers products reviewed while the previous pass
	// was running.
	lookback := 2 * w.interval
	productIDs, err := w.store.GetRecentlyReviewedProducts(ctx, lookback)
	if err != nil {
		w.logger.Error("failed to list recently reviewed products", zap.Error(err))
		return
	}

	for _, id := range productIDs {
		if err := w.ratings.Recompute(ctx, id); err != nil {
			w.logger.Error("failed to reconcile rating",
				zap.Int64("product_id", id),
				zap.Error(err))
			continue
		}
		util.RatingReconcileTotal.Inc()
	}

	if err := w.ledger.SyncToRedis(ctx); err != nil {
		w.logger.Error("failed to resync inventory snapshots", zap.Error(err))
	}
}
