package redis

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/fluscore/pkg/config"
	"github.com/wonny/fluscore/pkg/testhelpers"
)

func disabledClient(t *testing.T) *Client {
	t.Helper()
	client, err := New(&config.Config{Redis: config.RedisConfig{Enabled: false}})
	require.NoError(t, err)
	return client
}

func liveClient(t *testing.T) *Client {
	t.Helper()
	addr := testhelpers.GetTestRedisAddr(t)

	client, err := Dial(context.Background(), &redis.Options{Addr: addr})
	require.NoError(t, err)
	t.Cleanup(func() {
		client.Redis().FlushDB(context.Background())
		client.Close()
	})
	return client
}

func TestNewClient_Disabled(t *testing.T) {
	client := disabledClient(t)

	assert.False(t, client.Enabled())
	assert.Nil(t, client.Redis())
	assert.NoError(t, client.Close())
	assert.NoError(t, client.Publish(context.Background(), "ch", "msg"))
}

func TestCache_Disabled(t *testing.T) {
	ctx := context.Background()
	cache := NewCache(disabledClient(t), "test")

	var result string
	found, err := cache.Get(ctx, "key", &result)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, cache.Set(ctx, "key", "value", TTLShort))
	n, err := cache.DeletePrefix(ctx, "k")
	require.NoError(t, err)
	assert.Zero(t, n)

	calls := 0
	err = cache.GetOrSet(ctx, "key", &result, TTLShort, func() (interface{}, error) {
		calls++
		return "computed", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "computed", result)
	assert.Equal(t, 1, calls)
}

func TestCooldown_Disabled(t *testing.T) {
	ctx := context.Background()
	store := NewCooldownStore(disabledClient(t), "test")

	require.NoError(t, store.SetBlockedUntil(ctx, "trends", time.Now().Add(time.Hour)))
	until, err := store.BlockedUntil(ctx, "trends")
	require.NoError(t, err)
	assert.True(t, until.IsZero())
}

func TestCacheKeys(t *testing.T) {
	tests := []struct {
		name     string
		got      string
		expected string
	}{
		{"ModelsKey", ModelsKey(true), "models:public=true"},
		{"ModelKey", ModelKey(7), "model:7"},
		{"ScoresPrefix", ScoresPrefix(7), "scores:7:"},
		{"ScoresKey", ScoresKey(7, "2018-06-01", "2018-06-30", 3), "scores:7:2018-06-01:2018-06-30:s3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.got)
		})
	}
}

func TestCache_Live(t *testing.T) {
	ctx := context.Background()
	cache := NewCache(liveClient(t), "test")

	type payload struct {
		Day   string  `json:"day"`
		Value float64 `json:"value"`
	}

	require.NoError(t, cache.Set(ctx, ScoresKey(1, "a", "b", 1), []payload{{"2018-06-01", 1.5}}, TTLShort))
	require.NoError(t, cache.Set(ctx, ScoresKey(1, "c", "d", 1), []payload{}, TTLShort))
	require.NoError(t, cache.Set(ctx, ScoresKey(2, "a", "b", 1), []payload{}, TTLShort))

	var got []payload
	found, err := cache.Get(ctx, ScoresKey(1, "a", "b", 1), &got)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []payload{{"2018-06-01", 1.5}}, got)

	n, err := cache.DeletePrefix(ctx, ScoresPrefix(1))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	found, err = cache.Get(ctx, ScoresKey(1, "a", "b", 1), &got)
	require.NoError(t, err)
	assert.False(t, found)

	found, err = cache.Get(ctx, ScoresKey(2, "a", "b", 1), &got)
	require.NoError(t, err)
	assert.True(t, found, "other models keep their entries")
}

func TestCooldown_Live(t *testing.T) {
	ctx := context.Background()
	store := NewCooldownStore(liveClient(t), "test")

	until, err := store.BlockedUntil(ctx, "trends")
	require.NoError(t, err)
	assert.True(t, until.IsZero())

	want := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	require.NoError(t, store.SetBlockedUntil(ctx, "trends", want))

	until, err = store.BlockedUntil(ctx, "trends")
	require.NoError(t, err)
	assert.True(t, want.Equal(until))

	// a past instant clears the entry
	require.NoError(t, store.SetBlockedUntil(ctx, "trends", time.Now().Add(-time.Minute)))
	until, err = store.BlockedUntil(ctx, "trends")
	require.NoError(t, err)
	assert.True(t, until.IsZero())
}

func TestPublish_Live(t *testing.T) {
	ctx := context.Background()
	client := liveClient(t)

	sub := client.Redis().Subscribe(ctx, "fluscore:test")
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, client.Publish(ctx, "fluscore:test", "date=2018-06-01\nvalue=1.5"))

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)
	assert.Equal(t, "date=2018-06-01\nvalue=1.5", msg.Payload)
}
