package concurrency

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// incrIfBelowCap atomically reads key, increments it if doing so would not
// exceed ARGV[1] (cap), refreshes its TTL to ARGV[2] milliseconds, and
// returns the new value plus 1 if it admitted the increment, 0 otherwise —
// mirroring the original's per-key Lua script for atomic
// compare-and-increment-with-TTL (src/services/rate_limit/concurrency_manager.py).
const incrIfBelowCapScript = `
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
local cap = tonumber(ARGV[1])
if current >= cap then
  return {current, 0}
end
local newval = redis.call('INCR', KEYS[1])
redis.call('PEXPIRE', KEYS[1], ARGV[2])
return {newval, 1}
`

const decrScript = `
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
if current <= 0 then
  redis.call('DEL', KEYS[1])
  return 0
end
local newval = redis.call('DECR', KEYS[1])
if newval <= 0 then
  redis.call('DEL', KEYS[1])
end
return newval
`

// redisCounter is the distributed backend, atomic via a Lua script, per
// §4.4's "shared store with atomic compare-and-increment and per-key TTL".
type redisCounter struct {
	client *redis.Client

	// lastFailureAt tracks the most recent command failure, as a Unix nano
	// timestamp, so isUnreachable can report "transiently unreachable"
	// without a separate health-check goroutine.
	lastFailureAt atomic.Int64
}

const unreachableWindow = 5 * time.Second

func (r *redisCounter) markFailure() {
	r.lastFailureAt.Store(time.Now().UnixNano())
}

func (r *redisCounter) isUnreachable() bool {
	last := r.lastFailureAt.Load()
	if last == 0 {
		return false
	}
	return time.Since(time.Unix(0, last)) < unreachableWindow
}

func (r *redisCounter) tryIncr(ctx context.Context, key string, cap int, ttl time.Duration) (int, bool, error) {
	res, err := r.client.Eval(ctx, incrIfBelowCapScript, []string{key}, cap, ttl.Milliseconds()).Result()
	if err != nil {
		r.markFailure()
		return 0, false, err
	}
	vals, ok := res.([]interface{})
	if !ok || len(vals) != 2 {
		return 0, false, nil
	}
	newVal, _ := vals[0].(int64)
	admitted, _ := vals[1].(int64)
	return int(newVal), admitted == 1, nil
}

func (r *redisCounter) decr(ctx context.Context, key string) error {
	if err := r.client.Eval(ctx, decrScript, []string{key}).Err(); err != nil {
		r.markFailure()
		return err
	}
	return nil
}

func (r *redisCounter) current(ctx context.Context, key string) (int, error) {
	val, err := r.client.Get(ctx, key).Int()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		r.markFailure()
		return 0, err
	}
	return val, nil
}
