package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/bsm/redislock"
	redis "github.com/redis/go-redis/v9"

	"caseclosed/backend/internal/domain"
)

const accountKey = "caseclosed:bank:account"

type RedisClient struct {
	client *redis.Client
	locker *redislock.Client
}

func NewRedisClient(addr string, password string, db int) *RedisClient {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisClient{client: client, locker: redislock.New(client)}
}

func (c *RedisClient) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisClient) Close() error {
	return c.client.Close()
}

// Accounts returns the account cache view backed by this client.
func (c *RedisClient) Accounts() *RedisAccountCache {
	return &RedisAccountCache{client: c.client}
}

// Locks returns the distributed lock view backed by this client.
func (c *RedisClient) Locks() *RedisLocker {
	return &RedisLocker{locker: c.locker}
}

type RedisAccountCache struct {
	client *redis.Client
}

func (c *RedisAccountCache) Get(ctx context.Context) (*domain.BankDetails, bool, error) {
	val, err := c.client.Get(ctx, accountKey).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var details domain.BankDetails
	if err := json.Unmarshal([]byte(val), &details); err != nil {
		return nil, false, err
	}
	return &details, true, nil
}

func (c *RedisAccountCache) Set(ctx context.Context, details domain.BankDetails, ttl time.Duration) error {
	if details.AccountNumber == "" {
		return nil
	}
	payload, err := json.Marshal(details)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, accountKey, payload, ttl).Err()
}

type RedisLocker struct {
	locker *redislock.Client
}

func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (Unlocker, error) {
	lock, err := l.locker.Obtain(ctx, key, ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, ErrLockHeld
	}
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context) error {
		err := lock.Release(ctx)
		if errors.Is(err, redislock.ErrLockNotHeld) {
			return nil
		}
		return err
	}, nil
}
