// Package report serves the derived inventory views. It sits between the
// HTTP layer and the repository and fronts the queries with a short-lived
// cache; the cache is dropped on every ledger write, so a stale entry can
// only ever be as old as its TTL.
package report

import (
	"context"
	"log"
	"time"

	"gudangku/backend/internal/cache"
	"gudangku/backend/internal/domain"
	"gudangku/backend/internal/store"
)

const reportCacheKey = "stock:report"

func productCacheKey(code string) string {
	return "stock:product:" + code
}

type Engine struct {
	repo  store.Repository
	cache cache.StockCache
	ttl   time.Duration
}

func NewEngine(repo store.Repository, stockCache cache.StockCache, ttl time.Duration) *Engine {
	if stockCache == nil {
		stockCache = cache.NoopStockCache{}
	}
	if ttl <= 0 {
		ttl = 15 * time.Second
	}
	return &Engine{repo: repo, cache: stockCache, ttl: ttl}
}

// ProductStock computes one product's stock view, serving from cache when a
// fresh entry exists. Cache failures degrade to a direct read.
func (e *Engine) ProductStock(ctx context.Context, productCode string) (*domain.ProductStock, error) {
	key := productCacheKey(productCode)
	if cached, ok, err := e.cache.GetProductStock(ctx, key); err != nil {
		log.Printf("stock cache read failed: %v", err)
	} else if ok {
		return cached, nil
	}

	stock, err := e.repo.ProductStock(ctx, productCode)
	if err != nil {
		return nil, err
	}
	if err := e.cache.SetProductStock(ctx, key, stock, e.ttl); err != nil {
		log.Printf("stock cache write failed: %v", err)
	}
	return stock, nil
}

func (e *Engine) StockReport(ctx context.Context) (*domain.StockReport, error) {
	if cached, ok, err := e.cache.GetReport(ctx, reportCacheKey); err != nil {
		log.Printf("stock cache read failed: %v", err)
	} else if ok {
		return cached, nil
	}

	report, err := e.repo.StockReport(ctx)
	if err != nil {
		return nil, err
	}
	if err := e.cache.SetReport(ctx, reportCacheKey, report, e.ttl); err != nil {
		log.Printf("stock cache write failed: %v", err)
	}
	return report, nil
}

// Invalidate drops the cached views for the given product codes plus the
// aggregate report. Called after every write that can change stock.
func (e *Engine) Invalidate(ctx context.Context, productCodes ...string) {
	keys := make([]string, 0, len(productCodes)+1)
	keys = append(keys, reportCacheKey)
	for _, code := range productCodes {
		if code != "" {
			keys = append(keys, productCacheKey(code))
		}
	}
	if err := e.cache.Delete(ctx, keys...); err != nil {
		log.Printf("stock cache invalidation failed: %v", err)
	}
}
