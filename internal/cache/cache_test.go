package cache

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"crypto-arb-scanner/internal/opportunity"
)

func TestKeysAndDefaults(t *testing.T) {
	c := newCache(redis.NewClient(&redis.Options{Addr: "localhost:0"}), Options{Prefix: "scan:"})
	defer c.Close()

	assert.Equal(t, "scan:ranking:latest", c.key("ranking", "latest"))
	assert.Equal(t, 5*time.Minute, c.ttl)

	d := newCache(redis.NewClient(&redis.Options{Addr: "localhost:0"}), Options{TTL: time.Second})
	defer d.Close()
	assert.Equal(t, "arbscan:breakers", d.key("breakers"))
	assert.Equal(t, time.Second, d.ttl)
}

// startRedis runs a throwaway redis. Set ARBSCAN_REDIS_IT=1 to enable.
func startRedis(t *testing.T) *Cache {
	t.Helper()
	if os.Getenv("ARBSCAN_REDIS_IT") == "" {
		t.Skip("set ARBSCAN_REDIS_IT=1 to run redis integration tests")
	}
	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForListeningPort("6379/tcp"),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	c, err := New(ctx, Options{Addr: host + ":" + port.Port(), Prefix: "it"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestPublishAndRead(t *testing.T) {
	c := startRedis(t)
	ctx := context.Background()

	_, err := c.LatestRanking(ctx)
	require.True(t, errors.Is(err, ErrMiss))

	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	low := opportunity.Opportunity{Kind: opportunity.MarketMaking, Pair: "ETH/USDT", Exchanges: []string{"kraken"}, Profit: 0.2,
		MarketMaking: &opportunity.MarketMakingDetail{Exchange: "kraken"}}
	high := opportunity.Opportunity{Kind: opportunity.MarketMaking, Pair: "BTC/USDT", Exchanges: []string{"binance"}, Profit: 0.9,
		MarketMaking: &opportunity.MarketMakingDetail{Exchange: "binance"}}
	low.Stamp(ts)
	high.Stamp(ts)

	err = c.PublishRanking(ctx, Ranking{Timestamp: ts, Opportunities: []opportunity.Opportunity{high, low}},
		map[string]string{"binance": "CLOSED", "kraken": "OPEN"})
	require.NoError(t, err)

	got, err := c.LatestRanking(ctx)
	require.NoError(t, err)
	require.Len(t, got.Opportunities, 2)
	assert.Equal(t, high.ID, got.Opportunities[0].ID)

	keys, err := c.TopKeys(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{high.Key()}, keys)

	states, err := c.BreakerStates(ctx)
	require.NoError(t, err)
	assert.Equal(t, "OPEN", states["kraken"])
}
