// Package idempotency remembers which client-supplied keys already produced
// an order, so a retried POST replays the first result instead of placing a
// second order.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyOrderCreate = "idem:order:create:%s:%s"

	pendingValue = "pending"
	donePrefix   = "done:"

	MaxKeyLength = 255
)

type State int

const (
	// Reserved means the caller owns the key and must Complete or Release it.
	Reserved State = iota
	// Pending means another request holds the key and has not finished.
	Pending
	// Completed means the key already produced OrderID.
	Completed
)

type Result struct {
	State   State
	OrderID string
}

type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, ttl: ttl}
}

func NewClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
}

// Key scopes a client key to the user that sent it.
func Key(userID, key string) string {
	return fmt.Sprintf(keyOrderCreate, userID, key)
}

func (s *RedisStore) Reserve(ctx context.Context, userID, key string) (Result, error) {
	k := Key(userID, key)

	// a key can expire between SETNX and GET; one more round settles it
	for attempt := 0; attempt < 2; attempt++ {
		ok, err := s.rdb.SetNX(ctx, k, pendingValue, s.ttl).Result()
		if err != nil {
			return Result{}, fmt.Errorf("reserve idempotency key: %w", err)
		}
		if ok {
			return Result{State: Reserved}, nil
		}

		val, err := s.rdb.Get(ctx, k).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return Result{}, fmt.Errorf("read idempotency key: %w", err)
		}
		return parse(val), nil
	}
	return Result{State: Pending}, nil
}

func (s *RedisStore) Complete(ctx context.Context, userID, key, orderID string) error {
	if err := s.rdb.Set(ctx, Key(userID, key), donePrefix+orderID, s.ttl).Err(); err != nil {
		return fmt.Errorf("complete idempotency key: %w", err)
	}
	return nil
}

func (s *RedisStore) Release(ctx context.Context, userID, key string) error {
	if err := s.rdb.Del(ctx, Key(userID, key)).Err(); err != nil {
		return fmt.Errorf("release idempotency key: %w", err)
	}
	return nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func parse(val string) Result {
	if orderID, ok := strings.CutPrefix(val, donePrefix); ok {
		return Result{State: Completed, OrderID: orderID}
	}
	return Result{State: Pending}
}
