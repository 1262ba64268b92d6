package redisclient

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

// Client caches per-product availability and rating snapshots. The
// cache is advisory: Postgres stays authoritative and every ledger or
// aggregator write refreshes or drops the snapshot.
type Client struct {
	rdb *redis.Client
}

const snapshotTTL = 10 * time.Minute

// NewClient creates a new Redis client
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

func productKey(productID int64) string {
	return fmt.Sprintf("product:%d", productID)
}

// SetSnapshot stores a product's stock and rating snapshot.
func (c *Client) SetSnapshot(ctx context.Context, productID int64, stockQuantity int, inStock bool, rating float64, numReviews int) error {
	key := productKey(productID)

	pipe := c.rdb.Pipeline()
	pipe.HSet(ctx, key,
		"stock_quantity", stockQuantity,
		"in_stock", strconv.FormatBool(inStock),
		"rating", rating,
		"num_reviews", numReviews)
	pipe.Expire(ctx, key, snapshotTTL)

	_, err := pipe.Exec(ctx)
	return err
}

// GetAvailability returns the cached stock snapshot. found is false on
// a cache miss.
func (c *Client) GetAvailability(ctx context.Context, productID int64) (stockQuantity int, inStock bool, found bool, err error) {
	result, err := c.rdb.HGetAll(ctx, productKey(productID)).Result()
	if err != nil {
		return 0, false, false, err
	}
	if len(result) == 0 {
		return 0, false, false, nil
	}

	stockQuantity, err = strconv.Atoi(result["stock_quantity"])
	if err != nil {
		return 0, false, false, fmt.Errorf("corrupt stock snapshot for product %d: %w", productID, err)
	}
	inStock = result["in_stock"] == "true"
	return stockQuantity, inStock, true, nil
}

// Invalidate drops snapshots for the given products.
func (c *Client) Invalidate(ctx context.Context, productIDs ...int64) error {
	if len(productIDs) == 0 {
		return nil
	}
	keys := make([]string, len(productIDs))
	for i, id := range productIDs {
		keys[i] = productKey(id)
	}
	return c.rdb.Del(ctx, keys...).Err()
}
