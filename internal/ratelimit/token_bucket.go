// Package ratelimit meters image requests per client with a redis-backed
// token bucket shared by every API replica. Requests are charged by how much
// codec work they cause.
package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const DefaultKeyPrefix = "imagehandler:ratelimit"

// Costs prices one request in tokens.
type Costs struct {
	// PassThrough is charged when there are no edits and the original bytes
	// are served as stored, whatever the requested format.
	PassThrough int64
	// Transform is charged when the request decodes and re-encodes.
	Transform int64
	// Export is added when the rendition is also queued for export.
	Export int64
}

var DefaultCosts = Costs{PassThrough: 1, Transform: 4, Export: 8}

// Cost prices a request for the given edits path token.
func (c Costs) Cost(edits string, export bool) int64 {
	cost := c.PassThrough
	if edits != "" {
		cost = c.Transform
	}
	if export {
		cost += c.Export
	}
	return max(cost, 1)
}

type Decision struct {
	Allowed    bool
	Remaining  int64
	RetryAfter time.Duration
}

// takeScript refills the bucket for the time since its last update and then
// debits ARGV[4] tokens when the balance covers them.
//
// KEYS[1] bucket; ARGV capacity, tokens per ms, now in ms, cost, ttl in ms.
// Returns {allowed, remaining, retry_after_ms}.
var takeScript = redis.NewScript(`
local capacity = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local cost = tonumber(ARGV[4])

local state = redis.call("HMGET", KEYS[1], "balance", "updated_at")
local balance = tonumber(state[1]) or capacity
local updated_at = tonumber(state[2]) or now

if now > updated_at then
  balance = math.min(capacity, balance + (now - updated_at) * rate)
end

local allowed = 0
local wait = 0
if balance >= cost then
  balance = balance - cost
  allowed = 1
else
  wait = math.ceil((cost - balance) / rate)
end

redis.call("HSET", KEYS[1], "balance", balance, "updated_at", now)
redis.call("PEXPIRE", KEYS[1], tonumber(ARGV[5]))

return {allowed, math.floor(balance), wait}
`)

type RedisTokenBucket struct {
	client    redis.UniversalClient
	capacity  int64
	rate      float64
	ttl       time.Duration
	keyPrefix string
	now       func() time.Time
}

// NewRedisTokenBucket refills capacity tokens over window. Idle buckets
// expire after two windows.
func NewRedisTokenBucket(client redis.UniversalClient, capacity int, window time.Duration, keyPrefix string) (*RedisTokenBucket, error) {
	switch {
	case client == nil:
		return nil, fmt.Errorf("redis client is required")
	case capacity <= 0:
		return nil, fmt.Errorf("capacity must be positive")
	case window <= 0:
		return nil, fmt.Errorf("window must be positive")
	}
	if strings.TrimSpace(keyPrefix) == "" {
		keyPrefix = DefaultKeyPrefix
	}

	return &RedisTokenBucket{
		client:    client,
		capacity:  int64(capacity),
		rate:      float64(capacity) / float64(max(window.Milliseconds(), 1)),
		ttl:       2 * window,
		keyPrefix: keyPrefix,
		now:       time.Now,
	}, nil
}

// Subject builds the bucket key for a client on a route.
func Subject(clientIP, route string) string {
	clientIP = strings.TrimSpace(clientIP)
	if clientIP == "" {
		clientIP = "anonymous"
	}
	return clientIP + ":" + route
}

// Take debits cost tokens from the subject's bucket. A cost above the bucket
// capacity is charged as a full bucket.
func (l *RedisTokenBucket) Take(ctx context.Context, subject string, cost int64) (Decision, error) {
	if strings.TrimSpace(subject) == "" {
		subject = "anonymous"
	}
	cost = min(max(cost, 1), l.capacity)

	out, err := takeScript.Run(ctx, l.client,
		[]string{l.keyPrefix + ":" + subject},
		l.capacity,
		l.rate,
		l.now().UnixMilli(),
		cost,
		l.ttl.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("take %d tokens for %s: %w", cost, subject, err)
	}
	if len(out) != 3 {
		return Decision{}, fmt.Errorf("token bucket returned %d values", len(out))
	}

	return Decision{
		Allowed:    out[0] == 1,
		Remaining:  out[1],
		RetryAfter: time.Duration(out[2]) * time.Millisecond,
	}, nil
}
