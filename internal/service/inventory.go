package service

import (
	"context"
	"errors"
	"time"

	"storefront/internal/models"
	"storefront/internal/util"

	"go.uber.org/zap"
)

// StockStore is the persistence surface of the inventory ledger. Both
// operations apply their whole batch in one transaction: either every
// line's counter moves, or none does.
type StockStore interface {
	ReserveStock(ctx context.Context, lines []models.StockLine) error
	ReleaseStock(ctx context.Context, lines []models.StockLine) error
	GetProductByID(ctx context.Context, id int64) (*models.Product, error)
	GetProductsByIDs(ctx context.Context, ids []int64) ([]models.Product, error)
	GetProducts(ctx context.Context) ([]models.Product, error)
}

// StockCache holds advisory availability snapshots.
type StockCache interface {
	SetSnapshot(ctx context.Context, productID int64, stockQuantity int, inStock bool, rating float64, numReviews int) error
	GetAvailability(ctx context.Context, productID int64) (stockQuantity int, inStock bool, found bool, err error)
	Invalidate(ctx context.Context, productIDs ...int64) error
}

// InventoryLedger owns the stock_quantity/in_stock pair. It fronts the
// transactional store operations and keeps the Redis snapshots in step
// with them.
type InventoryLedger struct {
	store  StockStore
	cache  StockCache // may be nil
	logger *zap.Logger
}

// NewInventoryLedger creates a new inventory ledger
func NewInventoryLedger(store StockStore, cache StockCache) *InventoryLedger {
	return &InventoryLedger{
		store:  store,
		cache:  cache,
		logger: util.GetLogger(),
	}
}

// Reserve decrements stock for every line, all-or-nothing.
func (l *InventoryLedger) Reserve(ctx context.Context, lines []models.StockLine) error {
	ctx, span := util.StartSpan(ctx, "InventoryLedger.Reserve")
	defer span.End()

	start := time.Now()
	defer func() {
		util.StockReserveLatency.Observe(time.Since(start).Seconds())
	}()

	if err := l.store.ReserveStock(ctx, lines); err != nil {
		var ins *models.InsufficientStockError
		if errors.As(err, &ins) {
			util.InsufficientStockTotal.Inc()
		}
		return err
	}

	l.RefreshSnapshots(ctx, lineProductIDs(lines))
	return nil
}

// Release increments stock for every line, all-or-nothing.
func (l *InventoryLedger) Release(ctx context.Context, lines []models.StockLine) error {
	ctx, span := util.StartSpan(ctx, "InventoryLedger.Release")
	defer span.End()

	if err := l.store.ReleaseStock(ctx, lines); err != nil {
		return err
	}

	l.RefreshSnapshots(ctx, lineProductIDs(lines))
	return nil
}

// CheckAvailability validates every line against current stock without
// reserving anything. The cache answers the happy path; a miss or a
// shortage falls through to the store so the error carries the product
// name. The authoritative check still happens inside the reserve
// transaction.
func (l *InventoryLedger) CheckAvailability(ctx context.Context, lines []models.StockLine) error {
	ctx, span := util.StartSpan(ctx, "InventoryLedger.CheckAvailability")
	defer span.End()

	for _, line := range lines {
		if l.cache != nil {
			stock, inStock, found, err := l.cache.GetAvailability(ctx, line.ProductID)
			if err == nil && found && inStock && stock >= line.Quantity {
				continue
			}
			if err != nil {
				l.logger.Warn("availability cache read failed",
					zap.Int64("product_id", line.ProductID),
					zap.Error(err))
			}
		}

		product, err := l.store.GetProductByID(ctx, line.ProductID)
		if err != nil {
			return err
		}
		if !product.InStock || product.StockQuantity < line.Quantity {
			util.InsufficientStockTotal.Inc()
			return &models.InsufficientStockError{
				ProductID:   product.ID,
				ProductName: product.Name,
				Requested:   line.Quantity,
				Available:   product.StockQuantity,
			}
		}
	}
	return nil
}

// RefreshSnapshots rewrites cache snapshots for the given products.
// Cache trouble is logged, never surfaced: Postgres already holds the
// truth.
func (l *InventoryLedger) RefreshSnapshots(ctx context.Context, productIDs []int64) {
	if l.cache == nil || len(productIDs) == 0 {
		return
	}

	products, err := l.store.GetProductsByIDs(ctx, productIDs)
	if err != nil {
		l.logger.Warn("failed to read products for snapshot refresh", zap.Error(err))
		if err := l.cache.Invalidate(ctx, productIDs...); err != nil {
			l.logger.Warn("failed to invalidate snapshots", zap.Error(err))
		}
		return
	}

	for _, p := range products {
		if err := l.cache.SetSnapshot(ctx, p.ID, p.StockQuantity, p.InStock, p.Rating, p.NumReviews); err != nil {
			l.logger.Warn("failed to write snapshot",
				zap.Int64("product_id", p.ID),
				zap.Error(err))
		}
	}
}

// SyncToRedis seeds snapshots for the whole catalog. Run at startup
// and periodically by the reconcile worker.
func (l *InventoryLedger) SyncToRedis(ctx context.Context) error {
	if l.cache == nil {
		return nil
	}

	products, err := l.store.GetProducts(ctx)
	if err != nil {
		return err
	}

	for _, p := range products {
		if err := l.cache.SetSnapshot(ctx, p.ID, p.StockQuantity, p.InStock, p.Rating, p.NumReviews); err != nil {
			l.logger.Error("failed to sync snapshot",
				zap.Int64("product_id", p.ID),
				zap.Error(err))
		}
	}

	l.logger.Info("inventory snapshots synced", zap.Int("count", len(products)))
	return nil
}

func lineProductIDs(lines []models.StockLine) []int64 {
	ids := make([]int64, len(lines))
	for i, line := range lines {
		ids[i] = line.ProductID
	}
	return ids
}
