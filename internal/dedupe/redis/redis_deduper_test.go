package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	loggerCfg "gitlab.com/nevasik7/alerting/config"
	"gitlab.com/nevasik7/alerting/logger"

	"dexos/internal/config"
	rdb "dexos/internal/stores/redis"
)

// ========== Test Helpers ==========

func newTestLogger() logger.Logger {
	return logger.New(loggerCfg.LoggerCfg{
		Level:  "error",
		Format: "json",
	})
}

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *rdb.Client) {
	t.Helper()

	mr := miniredis.RunT(t)

	client := &rdb.Client{
		Client: goredis.NewClient(&goredis.Options{
			Addr: mr.Addr(),
		}),
	}

	return mr, client
}

func testDedupeConfig(prefix string, ttl time.Duration) *config.DedupeConfig {
	return &config.DedupeConfig{
		Prefix: prefix,
		TTL:    ttl,
	}
}

// ========== Constructor Tests ==========

func TestNewRedisDeduper_NilConfig(t *testing.T) {
	t.Parallel()

	_, client := setupTestRedis(t)
	d, err := NewRedisDeduper(newTestLogger(), nil, client)
	assert.Error(t, err)
	assert.Nil(t, d)
}

func TestNewRedisDeduper_NilClient(t *testing.T) {
	t.Parallel()

	d, err := NewRedisDeduper(newTestLogger(), testDedupeConfig("p:", time.Minute), nil)
	assert.Error(t, err)
	assert.Nil(t, d)
}

func TestNewRedisDeduper_DefaultPrefix(t *testing.T) {
	t.Parallel()

	_, client := setupTestRedis(t)
	d, err := NewRedisDeduper(newTestLogger(), testDedupeConfig("", time.Minute), client)
	require.NoError(t, err)
	assert.Equal(t, "dedupe:", d.prefix)
}

// ========== Seen Tests ==========

func TestSeen_FirstThenDuplicate(t *testing.T) {
	t.Parallel()

	_, client := setupTestRedis(t)
	d, err := NewRedisDeduper(newTestLogger(), testDedupeConfig("oracle:dedupe:", time.Minute), client)
	require.NoError(t, err)

	ctx := context.Background()
	const id = "chainlink:BTC/USD:1700000000"

	seen, err := d.Seen(ctx, id)
	require.NoError(t, err)
	assert.False(t, seen)

	seen, err = d.Seen(ctx, id)
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestSeen_TTLExpiry(t *testing.T) {
	t.Parallel()

	mr, client := setupTestRedis(t)
	d, err := NewRedisDeduper(newTestLogger(), testDedupeConfig("oracle:dedupe:", time.Second), client)
	require.NoError(t, err)

	ctx := context.Background()
	const id = "chainlink:ETH/USD:1700000001"

	seen, err := d.Seen(ctx, id)
	require.NoError(t, err)
	assert.False(t, seen)

	// miniredis advances TTLs manually
	mr.FastForward(2 * time.Second)

	seen, err = d.Seen(ctx, id)
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestSeen_PrefixIsolation(t *testing.T) {
	t.Parallel()

	_, client := setupTestRedis(t)

	d1, err := NewRedisDeduper(newTestLogger(), testDedupeConfig("a:", time.Minute), client)
	require.NoError(t, err)
	d2, err := NewRedisDeduper(newTestLogger(), testDedupeConfig("b:", time.Minute), client)
	require.NoError(t, err)

	ctx := context.Background()
	const id = "feed:BTC/USD:7"

	seen, err := d1.Seen(ctx, id)
	require.NoError(t, err)
	assert.False(t, seen)

	// a different prefix is a different namespace
	seen, err = d2.Seen(ctx, id)
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestSeen_BackendDown(t *testing.T) {
	t.Parallel()

	mr, client := setupTestRedis(t)
	d, err := NewRedisDeduper(newTestLogger(), testDedupeConfig("x:", time.Minute), client)
	require.NoError(t, err)

	mr.Close()

	_, err = d.Seen(context.Background(), "any")
	assert.Error(t, err)
}

func TestHealth(t *testing.T) {
	t.Parallel()

	mr, client := setupTestRedis(t)
	d, err := NewRedisDeduper(newTestLogger(), testDedupeConfig("x:", time.Minute), client)
	require.NoError(t, err)

	assert.NoError(t, d.Health(context.Background()))

	mr.Close()
	assert.Error(t, d.Health(context.Background()))
}
