package redis

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gaborage/alioli/config"
	"github.com/gaborage/alioli/headers"
	"github.com/gaborage/alioli/logger"
	"github.com/gaborage/alioli/queue"
	"github.com/gaborage/alioli/queue/queuetest"
)

func setupTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	store, err := Open(context.Background(), &config.RedisConfig{
		Host:   mr.Host(),
		Port:   mr.Server().Addr().Port,
		Prefix: "test",
	}, logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close(context.Background()) })

	return store, mr
}

func TestStoreSuite(t *testing.T) {
	queuetest.Run(t, func(t *testing.T) queue.Store {
		store, _ := setupTestStore(t)
		return store
	})
}

func TestKeyLayout(t *testing.T) {
	store, mr := setupTestStore(t)
	ctx := context.Background()

	id, err := store.Insert(ctx, queuetest.Sample("https://example.com/a"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)

	seq, err := mr.Get("test:seq")
	require.NoError(t, err)
	assert.Equal(t, "1", seq)

	assert.Equal(t, "POST", mr.HGet("test:req:1", "method"))
	assert.Equal(t, "1", mr.HGet("test:req:1", "has_body"))

	members, err := mr.ZMembers("test:ids")
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, members)

	require.NoError(t, store.Delete(ctx, id))
	assert.False(t, mr.Exists("test:req:1"))
}

func TestListToleratesMalformedRecords(t *testing.T) {
	store, mr := setupTestStore(t)
	ctx := context.Background()

	mr.HSet("test:req:5", "method", "GET", "url", "https://example.com", "headers", "{broken", "valid_until", "soon")
	_, err := mr.ZAdd("test:ids", 5, "5")
	require.NoError(t, err)
	_, err = mr.ZAdd("test:ids", 6, "6")
	require.NoError(t, err)

	list, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1, "ids without a hash are skipped")

	assert.Equal(t, int64(5), list[0].ID)
	assert.Equal(t, []headers.Header{}, list[0].Headers)
	assert.Zero(t, list[0].ValidUntil)
	assert.Nil(t, list[0].Body)
}

func TestStoreErrors(t *testing.T) {
	store, mr := setupTestStore(t)
	ctx := context.Background()
	mr.Close()

	_, err := store.Insert(ctx, queuetest.Sample("https://example.com"))
	assert.ErrorIs(t, err, queue.ErrStore)

	_, err = store.List(ctx)
	assert.ErrorIs(t, err, queue.ErrStore)

	_, err = store.Count(ctx)
	assert.ErrorIs(t, err, queue.ErrStore)

	assert.ErrorIs(t, store.Delete(ctx, 1), queue.ErrStore)
}

func TestInsertRejectsInvalidRequest(t *testing.T) {
	store, mr := setupTestStore(t)

	_, err := store.Insert(context.Background(), &queue.PendingRequest{Method: "GET"})
	assert.ErrorIs(t, err, queue.ErrStore)
	assert.False(t, mr.Exists("test:seq"), "no id is consumed for rejected requests")
}

func TestOpen(t *testing.T) {
	t.Run("url", func(t *testing.T) {
		mr := miniredis.RunT(t)
		store, err := Open(context.Background(), &config.RedisConfig{URL: "redis://" + mr.Addr() + "/0"}, nil)
		require.NoError(t, err)
		assert.Equal(t, defaultPrefix, store.prefix)
		_ = store.Close(context.Background())
	})

	t.Run("bad url", func(t *testing.T) {
		_, err := Open(context.Background(), &config.RedisConfig{URL: "http://nope"}, nil)
		assert.Error(t, err)
	})

	t.Run("unreachable", func(t *testing.T) {
		_, err := Open(context.Background(), &config.RedisConfig{Host: "127.0.0.1", Port: 1}, nil)
		assert.Error(t, err)
	})
}

func TestNewDefaults(t *testing.T) {
	store := New(redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"}), "", nil)
	assert.Equal(t, "alioli:req:3", store.reqKey(3))
	_ = store.Close(context.Background())
}
