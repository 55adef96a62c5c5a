// Package stockmaster keeps the gateway's record of remaining stock per item
// in step with acknowledged stock movements.
package stockmaster

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/fiscalbridge/internal/fiscal"
)

// Level is the remaining quantity of one item after a stock movement.
type Level struct {
	ItemCode  string          `json:"item_code"`
	Remaining decimal.Decimal `json:"remaining"`
	Actor     fiscal.Actor    `json:"actor"`
	// At is the posting time of the movement that produced the level.
	At     time.Time `json:"at"`
	Source string    `json:"source"`
}

func (l Level) normalized() Level {
	l.At = l.At.UTC().Truncate(time.Millisecond)
	return l
}

// Pending holds levels the gateway has not accepted yet. An item keeps only
// the level with the latest At.
type Pending interface {
	Put(ctx context.Context, levels ...Level) error
	// List returns the stored levels ordered by item code.
	List(ctx context.Context) ([]Level, error)
	// Clear drops the level of an item unless a newer one replaced it.
	Clear(ctx context.Context, level Level) error
}

// MemoryPending is a Pending for single-process runs and tests.
type MemoryPending struct {
	mu     sync.Mutex
	levels map[string]Level
}

func NewMemoryPending() *MemoryPending {
	return &MemoryPending{levels: make(map[string]Level)}
}

func (m *MemoryPending) Put(_ context.Context, levels ...Level) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range levels {
		l = l.normalized()
		if cur, ok := m.levels[l.ItemCode]; ok && cur.At.After(l.At) {
			continue
		}
		m.levels[l.ItemCode] = l
	}
	return nil
}

func (m *MemoryPending) List(context.Context) ([]Level, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Level, 0, len(m.levels))
	for _, l := range m.levels {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ItemCode < out[j].ItemCode })
	return out, nil
}

func (m *MemoryPending) Clear(_ context.Context, level Level) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	level = level.normalized()
	cur, ok := m.levels[level.ItemCode]
	if ok && cur.At.Equal(level.At) && cur.Remaining.Equal(level.Remaining) {
		delete(m.levels, level.ItemCode)
	}
	return nil
}

// KEYS[1] levels hash, KEYS[2] timestamp hash; ARGV item, millis, encoded level.
var putScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[2], ARGV[1])
if cur and tonumber(cur) > tonumber(ARGV[2]) then
	return 0
end
redis.call('HSET', KEYS[1], ARGV[1], ARGV[3])
redis.call('HSET', KEYS[2], ARGV[1], ARGV[2])
return 1
`)

// KEYS as putScript; ARGV item, encoded level.
var clearScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], ARGV[1]) == ARGV[2] then
	redis.call('HDEL', KEYS[1], ARGV[1])
	redis.call('HDEL', KEYS[2], ARGV[1])
	return 1
end
return 0
`)

// RedisPending keeps pending levels in two Redis hashes per tenant branch.
type RedisPending struct {
	client *redis.Client
	levels string
	stamps string
}

// NewRedisPending constructs the store scoped to a tenant branch.
func NewRedisPending(client *redis.Client, tenantKey string) *RedisPending {
	prefix := "fiscal:stockmaster:" + tenantKey
	return &RedisPending{client: client, levels: prefix + ":levels", stamps: prefix + ":at"}
}

func encode(l Level) (string, error) {
	body, err := json.Marshal(l.normalized())
	if err != nil {
		return "", fmt.Errorf("stockmaster: encode %s: %w", l.ItemCode, err)
	}
	return string(body), nil
}

func (r *RedisPending) Put(ctx context.Context, levels ...Level) error {
	for _, l := range levels {
		body, err := encode(l)
		if err != nil {
			return err
		}
		millis := l.normalized().At.UnixMilli()
		if err := putScript.Run(ctx, r.client, []string{r.levels, r.stamps}, l.ItemCode, millis, body).Err(); err != nil {
			return fmt.Errorf("stockmaster: put %s: %w", l.ItemCode, err)
		}
	}
	return nil
}

func (r *RedisPending) List(ctx context.Context) ([]Level, error) {
	raw, err := r.client.HGetAll(ctx, r.levels).Result()
	if err != nil {
		return nil, fmt.Errorf("stockmaster: list: %w", err)
	}
	out := make([]Level, 0, len(raw))
	for item, body := range raw {
		var l Level
		if err := json.Unmarshal([]byte(body), &l); err != nil {
			return nil, fmt.Errorf("stockmaster: decode %s: %w", item, err)
		}
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ItemCode < out[j].ItemCode })
	return out, nil
}

func (r *RedisPending) Clear(ctx context.Context, level Level) error {
	body, err := encode(level)
	if err != nil {
		return err
	}
	if err := clearScript.Run(ctx, r.client, []string{r.levels, r.stamps}, level.ItemCode, body).Err(); err != nil {
		return fmt.Errorf("stockmaster: clear %s: %w", level.ItemCode, err)
	}
	return nil
}
