package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"crypto-arb-scanner/internal/opportunity"
)

// ErrMiss is returned when nothing has been published yet or the entry expired.
var ErrMiss = errors.New("cache: miss")

// Options configure the Redis connection.
type Options struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	TTL      time.Duration
}

// Ranking is the latest published scan result.
type Ranking struct {
	Timestamp     time.Time                 `json:"timestamp"`
	Synthetic     bool                      `json:"synthetic"`
	Condition     string                    `json:"condition,omitempty"`
	Opportunities []opportunity.Opportunity `json:"opportunities"`
}

// Cache publishes the latest ranking and breaker states to Redis.
type Cache struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

// New connects and pings Redis.
func New(ctx context.Context, opts Options) (*Cache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return newCache(rdb, opts), nil
}

func newCache(rdb *redis.Client, opts Options) *Cache {
	prefix := strings.TrimSuffix(opts.Prefix, ":")
	if prefix == "" {
		prefix = "arbscan"
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Cache{rdb: rdb, prefix: prefix, ttl: ttl}
}

// Close closes the connection.
func (c *Cache) Close() error {
	return c.rdb.Close()
}

func (c *Cache) key(parts ...string) string {
	return c.prefix + ":" + strings.Join(parts, ":")
}

// PublishRanking replaces the latest ranking and breaker states atomically.
func (c *Cache) PublishRanking(ctx context.Context, r Ranking, breakers map[string]string) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("redis: encode ranking: %w", err)
	}

	pipe := c.rdb.TxPipeline()
	pipe.Set(ctx, c.key("ranking", "latest"), payload, c.ttl)
	pipe.Del(ctx, c.key("ranking", "profit"))
	for _, o := range r.Opportunities {
		pipe.ZAdd(ctx, c.key("ranking", "profit"), redis.Z{Score: o.Profit, Member: o.Key()})
	}
	pipe.Expire(ctx, c.key("ranking", "profit"), c.ttl)
	if len(breakers) > 0 {
		fields := make(map[string]any, len(breakers))
		for ex, state := range breakers {
			fields[ex] = state
		}
		pipe.Del(ctx, c.key("breakers"))
		pipe.HSet(ctx, c.key("breakers"), fields)
		pipe.Expire(ctx, c.key("breakers"), c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: publish ranking: %w", err)
	}
	return nil
}

// LatestRanking reads the last published ranking.
func (c *Cache) LatestRanking(ctx context.Context) (Ranking, error) {
	raw, err := c.rdb.Get(ctx, c.key("ranking", "latest")).Bytes()
	if errors.Is(err, redis.Nil) {
		return Ranking{}, ErrMiss
	}
	if err != nil {
		return Ranking{}, fmt.Errorf("redis: get ranking: %w", err)
	}
	var r Ranking
	if err := json.Unmarshal(raw, &r); err != nil {
		return Ranking{}, fmt.Errorf("redis: decode ranking: %w", err)
	}
	return r, nil
}

// TopKeys returns up to n opportunity keys by profit, highest first.
func (c *Cache) TopKeys(ctx context.Context, n int64) ([]string, error) {
	keys, err := c.rdb.ZRevRange(ctx, c.key("ranking", "profit"), 0, n-1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: top keys: %w", err)
	}
	return keys, nil
}

// BreakerStates reads the last published circuit breaker states.
func (c *Cache) BreakerStates(ctx context.Context) (map[string]string, error) {
	states, err := c.rdb.HGetAll(ctx, c.key("breakers")).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: get breakers: %w", err)
	}
	return states, nil
}
