package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/helgykoin/hkn_ledger/internal/domain/entities"
	"github.com/helgykoin/hkn_ledger/internal/infrastructure/config"
	"github.com/helgykoin/hkn_ledger/pkg/metrics"
)

// ErrCacheMiss is returned by RedisClient.Get for absent keys.
var ErrCacheMiss = errors.New("cache miss")

// RedisClient defines the interface for Redis operations
type RedisClient interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Get(ctx context.Context, key string, dest interface{}) error
	Del(ctx context.Context, keys ...string) error
	Ping(ctx context.Context) error
	Close() error
}

// redisClient implements RedisClient using go-redis
type redisClient struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisClient connects to Redis and verifies the connection.
func NewRedisClient(cfg *config.RedisConfig, logger *zap.Logger) (RedisClient, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Connected to Redis successfully", zap.String("host", cfg.Host), zap.Int("port", cfg.Port))

	return WrapRedisClient(rdb, logger), nil
}

// WrapRedisClient adapts an existing go-redis client.
func WrapRedisClient(rdb *redis.Client, logger *zap.Logger) RedisClient {
	return &redisClient{client: rdb, logger: logger}
}

// Set stores value as JSON with an expiration
func (r *redisClient) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}
	return r.client.Set(ctx, key, data, expiration).Err()
}

// Get retrieves a value by key and unmarshals it into dest
func (r *redisClient) Get(ctx context.Context, key string, dest interface{}) error {
	val, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return fmt.Errorf("key '%s': %w", key, ErrCacheMiss)
	} else if err != nil {
		return fmt.Errorf("failed to get key '%s' from Redis: %w", key, err)
	}
	return json.Unmarshal(val, dest)
}

// Del deletes keys
func (r *redisClient) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return r.client.Del(ctx, keys...).Err()
}

// Ping checks the connection to Redis
func (r *redisClient) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the Redis client
func (r *redisClient) Close() error {
	return r.client.Close()
}

// RedisWalletCache shares cached wallets between processes. Redis errors are
// logged and degrade to misses.
type RedisWalletCache struct {
	client RedisClient
	prefix string
	logger *zap.Logger
}

func NewRedisWalletCache(client RedisClient, prefix string, logger *zap.Logger) *RedisWalletCache {
	if prefix == "" {
		prefix = "hkn:wallet:"
	}
	return &RedisWalletCache{client: client, prefix: prefix, logger: logger}
}

func (c *RedisWalletCache) key(accountID int64) string {
	return c.prefix + strconv.FormatInt(accountID, 10)
}

func (c *RedisWalletCache) Get(ctx context.Context, accountID int64) (*entities.Wallet, bool) {
	var w entities.Wallet
	err := c.client.Get(ctx, c.key(accountID), &w)
	if err != nil && !errors.Is(err, ErrCacheMiss) {
		c.logger.Warn("Wallet cache read failed", zap.Int64("account_id", accountID), zap.Error(err))
	}
	metrics.RecordCacheLookup("wallet_redis", err == nil)
	if err != nil {
		return nil, false
	}
	return &w, true
}

func (c *RedisWalletCache) Put(ctx context.Context, accountID int64, w *entities.Wallet, ttl time.Duration) {
	if w == nil || ttl <= 0 {
		return
	}
	if err := c.client.Set(ctx, c.key(accountID), w, ttl); err != nil {
		c.logger.Warn("Wallet cache write failed", zap.Int64("account_id", accountID), zap.Error(err))
	}
}

func (c *RedisWalletCache) Invalidate(ctx context.Context, accountIDs ...int64) {
	keys := make([]string, 0, len(accountIDs))
	for _, id := range accountIDs {
		keys = append(keys, c.key(id))
	}
	if err := c.client.Del(ctx, keys...); err != nil {
		c.logger.Error("Wallet cache invalidation failed", zap.Int64s("account_ids", accountIDs), zap.Error(err))
	}
}
