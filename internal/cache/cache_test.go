package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewFromClient(client), mr
}

type snapshot struct {
	ID     int64  `json:"id"`
	Status string `json:"status"`
}

func TestGetSetRoundTrip(t *testing.T) {
	c, mr := testCache(t)
	ctx := context.Background()

	key := PaymentKey(7)
	require.NoError(t, c.Set(ctx, key, snapshot{ID: 7, Status: "pending"}, PaymentSnapshotTTL))

	var got snapshot
	hit, err := c.Get(ctx, key, &got)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, snapshot{ID: 7, Status: "pending"}, got)

	// TTL expiry turns the hit into a miss.
	mr.FastForward(PaymentSnapshotTTL + time.Second)
	hit, err = c.Get(ctx, key, &got)
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestGetMiss(t *testing.T) {
	c, _ := testCache(t)

	var got snapshot
	hit, err := c.Get(context.Background(), PaymentKey(404), &got)
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestDelete(t *testing.T) {
	c, _ := testCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, PaymentKey(1), snapshot{ID: 1}, time.Minute))
	require.NoError(t, c.Delete(ctx, PaymentKey(1)))

	var got snapshot
	hit, err := c.Get(ctx, PaymentKey(1), &got)
	require.NoError(t, err)
	assert.False(t, hit)

	assert.NoError(t, c.Delete(ctx), "empty key list is a no-op")
}

func TestDeletePattern(t *testing.T) {
	c, _ := testCache(t)
	ctx := context.Background()

	day := time.Date(2026, 6, 15, 0, 0, 0, 0, time.UTC)
	require.NoError(t, c.Set(ctx, SlotsKey(day, "online"), []string{"10:00"}, SlotsTTL))
	require.NoError(t, c.Set(ctx, SlotsKey(day, "office"), []string{"11:00"}, SlotsTTL))
	require.NoError(t, c.Set(ctx, SlotsKey(day.AddDate(0, 0, 1), ""), []string{"12:00"}, SlotsTTL))
	require.NoError(t, c.Set(ctx, PaymentKey(1), snapshot{ID: 1}, time.Minute))

	require.NoError(t, c.DeletePattern(ctx, "slots:*"))

	var slots []string
	for _, key := range []string{
		SlotsKey(day, "online"),
		SlotsKey(day, "office"),
		SlotsKey(day.AddDate(0, 0, 1), ""),
	} {
		hit, err := c.Get(ctx, key, &slots)
		require.NoError(t, err)
		assert.False(t, hit, "key %s", key)
	}

	var got snapshot
	hit, err := c.Get(ctx, PaymentKey(1), &got)
	require.NoError(t, err)
	assert.True(t, hit, "payment snapshot survives slot invalidation")
}

func TestKeyFormats(t *testing.T) {
	assert.Equal(t, "payment:42", PaymentKey(42))

	day := time.Date(2026, 6, 15, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "slots:2026-06-15:online", SlotsKey(day, "online"))
	assert.Equal(t, "slots:2026-06-15:all", SlotsKey(day, ""))
}
