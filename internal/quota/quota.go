// Package quota tracks the per-user daily super like allowance.
package quota

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrExhausted = errors.New("quota exhausted")

// Quota consumes one unit of a user's allowance for the current UTC day.
type Quota interface {
	// Consume returns the units left after consuming one, or ErrExhausted
	// without consuming anything.
	Consume(ctx context.Context, userID string) (int, error)
	Remaining(ctx context.Context, userID string) (int, error)
}

func day(t time.Time) string { return t.UTC().Format("20060102") }

type Memory struct {
	mu    sync.Mutex
	limit int
	now   func() time.Time
	used  map[string]int
}

func NewMemory(limit int) *Memory {
	return &Memory{limit: limit, now: time.Now, used: make(map[string]int)}
}

func (m *Memory) key(userID string) string { return userID + ":" + day(m.now()) }

func (m *Memory) Consume(_ context.Context, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := m.key(userID)
	if m.used[k] >= m.limit {
		return 0, ErrExhausted
	}
	m.used[k]++
	return m.limit - m.used[k], nil
}

func (m *Memory) Remaining(_ context.Context, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.limit - m.used[m.key(userID)], nil
}

// consumeScript initialises the day's counter to the limit on first use and
// decrements it only while positive, in one atomic step.
var consumeScript = redis.NewScript(`
local v = redis.call("GET", KEYS[1])
if not v then
  redis.call("SET", KEYS[1], ARGV[1], "EX", ARGV[2])
  v = ARGV[1]
end
if tonumber(v) <= 0 then
  return -1
end
return redis.call("DECR", KEYS[1])
`)

// scriptClient is the subset of *redis.Client the quota needs.
type scriptClient interface {
	redis.Scripter
	Get(ctx context.Context, key string) *redis.StringCmd
}

type Redis struct {
	client scriptClient
	limit  int
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

func NewRedis(client scriptClient, limit int) *Redis {
	return &Redis{client: client, limit: limit, prefix: "superlike", ttl: 48 * time.Hour, now: time.Now}
}

func (r *Redis) key(userID string) string {
	return fmt.Sprintf("%s:%s:%s", r.prefix, userID, day(r.now()))
}

func (r *Redis) Consume(ctx context.Context, userID string) (int, error) {
	left, err := consumeScript.Run(ctx, r.client, []string{r.key(userID)}, r.limit, int(r.ttl.Seconds())).Int()
	if err != nil {
		return 0, fmt.Errorf("consume quota: %w", err)
	}
	if left < 0 {
		return 0, ErrExhausted
	}
	return left, nil
}

func (r *Redis) Remaining(ctx context.Context, userID string) (int, error) {
	v, err := r.client.Get(ctx, r.key(userID)).Int()
	if errors.Is(err, redis.Nil) {
		return r.limit, nil
	}
	if err != nil {
		return 0, err
	}
	return v, nil
}
