package ledgerclient

import (
	"context"

	"github.com/georgemunganga/printa-checkout/internal/cache"
	"github.com/shopspring/decimal"
)

// CachedClient keeps a balance snapshot per resource. Snapshots are served
// inside the freshness window and dropped after every deduct or rollback.
type CachedClient struct {
	next      Client
	snapshots *cache.Manager[*Balance]
}

// NewCachedClient wraps next with a snapshot cache.
func NewCachedClient(next Client, snapshots *cache.Manager[*Balance]) *CachedClient {
	return &CachedClient{next: next, snapshots: snapshots}
}

func (c *CachedClient) CheckBalance(ctx context.Context, resourceID string) (*Balance, error) {
	return c.snapshots.GetOrLoad(ctx, resourceID, func(ctx context.Context) (*Balance, error) {
		return c.next.CheckBalance(ctx, resourceID)
	})
}

// FreshBalance bypasses the snapshot and refreshes it. Finalization uses it
// so a cached value never crosses the finalization boundary.
func (c *CachedClient) FreshBalance(ctx context.Context, resourceID string) (*Balance, error) {
	b, err := c.next.CheckBalance(ctx, resourceID)
	if err != nil {
		return nil, err
	}
	c.snapshots.Set(resourceID, b)
	return b, nil
}

// Snapshot returns the last known balance regardless of age.
func (c *CachedClient) Snapshot(resourceID string) (cache.Snapshot[*Balance], bool) {
	return c.snapshots.Get(resourceID)
}

func (c *CachedClient) Deduct(ctx context.Context, resourceID string, amount decimal.Decimal, key string) (*Mutation, error) {
	defer c.snapshots.Invalidate(resourceID)
	return c.next.Deduct(ctx, resourceID, amount, key)
}

func (c *CachedClient) Rollback(ctx context.Context, resourceID string, amount decimal.Decimal, key string) (*Mutation, error) {
	defer c.snapshots.Invalidate(resourceID)
	return c.next.Rollback(ctx, resourceID, amount, key)
}

func (c *CachedClient) Hold(ctx context.Context, resourceID, key string) (*Mutation, error) {
	return c.next.Hold(ctx, resourceID, key)
}
