package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"

	"posengine/backend/internal/domain"
)

type RedisReceiptCache struct {
	client redis.UniversalClient
}

func NewRedisReceiptCache(addr string, password string, db int) *RedisReceiptCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisReceiptCache{client: client}
}

// NewRedisReceiptCacheFromClient wraps an existing client, e.g. a cluster
// or a test server.
func NewRedisReceiptCacheFromClient(client redis.UniversalClient) *RedisReceiptCache {
	return &RedisReceiptCache{client: client}
}

func (c *RedisReceiptCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisReceiptCache) Close() error {
	return c.client.Close()
}

func (c *RedisReceiptCache) Get(ctx context.Context, companyID string, saleID string) (*domain.ReceiptView, bool, error) {
	val, err := c.client.Get(ctx, receiptKey(companyID, saleID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var receipt domain.ReceiptView
	if err := json.Unmarshal(val, &receipt); err != nil {
		return nil, false, err
	}
	return &receipt, true, nil
}

func (c *RedisReceiptCache) Set(ctx context.Context, companyID string, saleID string, value *domain.ReceiptView, ttl time.Duration) error {
	if value == nil {
		return nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, receiptKey(companyID, saleID), payload, ttl).Err()
}
