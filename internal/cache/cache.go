package cache

import (
	"context"
	"time"

	"gudangku/backend/internal/domain"
)

// StockCache holds rendered read-side stock views. It is a convenience
// layer only: entries are short-lived and dropped on every ledger write,
// and the allocation engine never reads from it.
type StockCache interface {
	GetProductStock(ctx context.Context, key string) (*domain.ProductStock, bool, error)
	SetProductStock(ctx context.Context, key string, value *domain.ProductStock, ttl time.Duration) error
	GetReport(ctx context.Context, key string) (*domain.StockReport, bool, error)
	SetReport(ctx context.Context, key string, value *domain.StockReport, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

type NoopStockCache struct{}

func (NoopStockCache) GetProductStock(_ context.Context, _ string) (*domain.ProductStock, bool, error) {
	return nil, false, nil
}

func (NoopStockCache) SetProductStock(_ context.Context, _ string, _ *domain.ProductStock, _ time.Duration) error {
	return nil
}

func (NoopStockCache) GetReport(_ context.Context, _ string) (*domain.StockReport, bool, error) {
	return nil, false, nil
}

func (NoopStockCache) SetReport(_ context.Context, _ string, _ *domain.StockReport, _ time.Duration) error {
	return nil
}

func (NoopStockCache) Delete(_ context.Context, _ ...string) error {
	return nil
}
