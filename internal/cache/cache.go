package cache

import (
	"context"
	"time"

	"stokpilot/backend/internal/domain"
)

// ItemCache holds item master data. Stock levels are never cached.
type ItemCache interface {
	Get(ctx context.Context, itemID string) (*domain.Item, bool, error)
	Set(ctx context.Context, item *domain.Item, ttl time.Duration) error
	Invalidate(ctx context.Context, itemID string) error
}

type NoopItemCache struct{}

func (NoopItemCache) Get(_ context.Context, _ string) (*domain.Item, bool, error) {
	return nil, false, nil
}

func (NoopItemCache) Set(_ context.Context, _ *domain.Item, _ time.Duration) error {
	return nil
}

func (NoopItemCache) Invalidate(_ context.Context, _ string) error {
	return nil
}
