package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBucket(t *testing.T, capacity int, window time.Duration) (*RedisTokenBucket, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	bucket, err := NewRedisTokenBucket(client, capacity, window, "")
	require.NoError(t, err)
	return bucket, mr
}

func TestRedisTokenBucketDeniesWhenEmpty(t *testing.T) {
	bucket, _ := newTestBucket(t, 2, time.Minute)
	now := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	bucket.now = func() time.Time { return now }

	ctx := context.Background()
	subject := Subject("10.0.0.1", "/image")

	first, err := bucket.Take(ctx, subject, 1)
	require.NoError(t, err)
	assert.True(t, first.Allowed)
	assert.Equal(t, int64(1), first.Remaining)

	second, err := bucket.Take(ctx, subject, 1)
	require.NoError(t, err)
	assert.True(t, second.Allowed)

	third, err := bucket.Take(ctx, subject, 1)
	require.NoError(t, err)
	assert.False(t, third.Allowed)
	assert.Greater(t, third.RetryAfter, 29*time.Second)
	assert.LessOrEqual(t, third.RetryAfter, 31*time.Second)

	now = now.Add(31 * time.Second)
	refilled, err := bucket.Take(ctx, subject, 1)
	require.NoError(t, err)
	assert.True(t, refilled.Allowed)
}

func TestRedisTokenBucketSeparatesSubjects(t *testing.T) {
	bucket, mr := newTestBucket(t, 1, time.Minute)
	ctx := context.Background()

	a, err := bucket.Take(ctx, Subject("10.0.0.1", "/image"), 1)
	require.NoError(t, err)
	assert.True(t, a.Allowed)

	b, err := bucket.Take(ctx, Subject("10.0.0.2", "/image"), 1)
	require.NoError(t, err)
	assert.True(t, b.Allowed)

	assert.True(t, mr.Exists(DefaultKeyPrefix+":10.0.0.1:/image"))
	assert.True(t, mr.Exists(DefaultKeyPrefix+":10.0.0.2:/image"))
}

func TestRedisTokenBucketSurfacesRedisErrors(t *testing.T) {
	bucket, mr := newTestBucket(t, 1, time.Minute)
	mr.Close()

	_, err := bucket.Take(context.Background(), "x", 1)
	assert.Error(t, err)
}

func TestNewRedisTokenBucketValidation(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer client.Close()

	_, err := NewRedisTokenBucket(nil, 1, time.Second, "")
	assert.Error(t, err)
	_, err = NewRedisTokenBucket(client, 0, time.Second, "")
	assert.Error(t, err)
	_, err = NewRedisTokenBucket(client, 1, 0, "")
	assert.Error(t, err)
}

func TestRedisTokenBucketChargesCost(t *testing.T) {
	bucket, _ := newTestBucket(t, 10, 10*time.Second)
	now := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	bucket.now = func() time.Time { return now }

	ctx := context.Background()
	subject := Subject("10.0.0.1", "/image")

	transform, err := bucket.Take(ctx, subject, DefaultCosts.Cost("300X200", false))
	require.NoError(t, err)
	assert.True(t, transform.Allowed)
	assert.Equal(t, int64(6), transform.Remaining)

	export, err := bucket.Take(ctx, subject, DefaultCosts.Cost("300X200", true))
	require.NoError(t, err)
	assert.False(t, export.Allowed)
	assert.Equal(t, int64(6), export.Remaining)
	// 12 tokens cap at the 10-token bucket: 4 missing at one token per second.
	assert.InDelta(t, float64(4*time.Second), float64(export.RetryAfter), float64(time.Millisecond))

	passThrough, err := bucket.Take(ctx, subject, DefaultCosts.Cost("", false))
	require.NoError(t, err)
	assert.True(t, passThrough.Allowed)
	assert.Equal(t, int64(5), passThrough.Remaining)
}

func TestCosts(t *testing.T) {
	assert.Equal(t, int64(1), DefaultCosts.Cost("", false))
	assert.Equal(t, int64(4), DefaultCosts.Cost("300X200", false))
	assert.Equal(t, int64(12), DefaultCosts.Cost("300X200", true))
	assert.Equal(t, int64(9), DefaultCosts.Cost("", true))
	assert.Equal(t, int64(1), Costs{}.Cost("300X200", false))
}

func TestSubject(t *testing.T) {
	assert.Equal(t, "anonymous:/image", Subject(" ", "/image"), 1)
	assert.Equal(t, "1.2.3.4:/image", Subject("1.2.3.4", "/image"), 1)
}
