package cache

import (
	"context"
	"encoding/json"
	"time"

	redis "github.com/redis/go-redis/v9"

	"gudangku/backend/internal/domain"
)

type RedisStockCache struct {
	client *redis.Client
}

func NewRedisStockCache(addr string, password string, db int) *RedisStockCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisStockCache{client: client}
}

func (c *RedisStockCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisStockCache) Close() error {
	return c.client.Close()
}

func (c *RedisStockCache) GetProductStock(ctx context.Context, key string) (*domain.ProductStock, bool, error) {
	val, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var stock domain.ProductStock
	if err := json.Unmarshal([]byte(val), &stock); err != nil {
		return nil, false, err
	}
	return &stock, true, nil
}

func (c *RedisStockCache) SetProductStock(ctx context.Context, key string, value *domain.ProductStock, ttl time.Duration) error {
	if value == nil {
		return nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, payload, ttl).Err()
}

func (c *RedisStockCache) GetReport(ctx context.Context, key string) (*domain.StockReport, bool, error) {
	val, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var report domain.StockReport
	if err := json.Unmarshal([]byte(val), &report); err != nil {
		return nil, false, err
	}
	return &report, true, nil
}

func (c *RedisStockCache) SetReport(ctx context.Context, key string, value *domain.StockReport, ttl time.Duration) error {
	if value == nil {
		return nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, payload, ttl).Err()
}

func (c *RedisStockCache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}
