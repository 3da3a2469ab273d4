package settings

import (
	"context"
	"testing"
	"time"

	"wellbot/types"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcRedis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestRedisCache_SharedBetweenProviders(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()

	redisC, err := tcRedis.RunContainer(ctx,
		testcontainers.WithImage("redis:7-alpine"),
		testcontainers.WithWaitStrategy(wait.ForListeningPort("6379/tcp")))
	if err != nil {
		t.Skipf("redis container unavailable: %v", err)
	}
	t.Cleanup(func() { _ = redisC.Terminate(ctx) })

	uri, err := redisC.ConnectionString(ctx)
	require.NoError(t, err)
	opts, err := redis.ParseURL(uri)
	require.NoError(t, err)
	client := redis.NewClient(opts)
	t.Cleanup(func() { _ = client.Close() })

	s := &fakeStore{}
	a := NewProvider(s, NewRedisCache(client, time.Minute), quiet())
	b := NewProvider(s, NewRedisCache(client, time.Minute), quiet())

	assert.Equal(t, types.DefaultRetrievalConfig(), a.Get(ctx))
	assert.Equal(t, types.DefaultRetrievalConfig(), b.Get(ctx))
	assert.Equal(t, 1, s.reads)

	want := types.RetrievalConfig{SimilarityThreshold: 0.65, MaxChunks: 6, UseTopChunks: 2}
	require.NoError(t, a.Set(ctx, want))
	assert.Equal(t, want, b.Get(ctx))
	assert.Equal(t, 1, s.reads)

	// a stale read-through fill must not replace the written value
	stale := NewRedisCache(client, time.Minute)
	require.NoError(t, stale.Fill(ctx, types.DefaultRetrievalConfig()))
	assert.Equal(t, want, b.Get(ctx))
}
