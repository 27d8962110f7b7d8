// Package cache wraps redis as the key-value collaborator used for
// performance snapshots (payment status, slot availability). Values here are
// never authoritative; storage wins on any disagreement.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// PaymentSnapshotTTL matches a typical provider checkout session.
	PaymentSnapshotTTL = 15 * time.Minute
	// SlotsTTL bounds how stale an availability snapshot may get.
	SlotsTTL = 5 * time.Minute
)

type Cache struct {
	client *redis.Client
}

func New(addr, password string, db int) *Cache {
	return &Cache{client: redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})}
}

// NewFromClient is used by tests to point at miniredis.
func NewFromClient(client *redis.Client) *Cache {
	return &Cache{client: client}
}

func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Get unmarshals the cached JSON value into dest. Returns false when the key
// is absent.
func (c *Cache) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	raw, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false, fmt.Errorf("cache decode %s: %w", key, err)
	}
	return true, nil
}

func (c *Cache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache encode %s: %w", key, err)
	}
	return c.client.Set(ctx, key, raw, ttl).Err()
}

func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}

// DeletePattern removes every key matching a glob, e.g. "slots:*". SCAN-based
// so it stays safe on shared instances.
func (c *Cache) DeletePattern(ctx context.Context, pattern string) error {
	iter := c.client.Scan(ctx, 0, pattern, 100).Iterator()
	batch := make([]string, 0, 100)
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == 100 {
			if err := c.client.Del(ctx, batch...).Err(); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(batch) > 0 {
		return c.client.Del(ctx, batch...).Err()
	}
	return nil
}

func (c *Cache) Close() error { return c.client.Close() }

// PaymentKey is the snapshot key for one payment.
func PaymentKey(paymentID int64) string {
	return fmt.Sprintf("payment:%d", paymentID)
}

// SlotsKey is the availability snapshot key for one day.
func SlotsKey(day time.Time, consultationType string) string {
	if consultationType == "" {
		consultationType = "all"
	}
	return fmt.Sprintf("slots:%s:%s", day.Format("2006-01-02"), consultationType)
}
