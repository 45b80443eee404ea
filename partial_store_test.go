package fmsketch

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func newTestRedisStore(t *testing.T) (*RedisPartialStore, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	store, err := NewRedisPartialStore(client, "partials:", time.Minute)
	require.NoError(t, err)
	return store, mr
}

func newTestSQLStore(t *testing.T) *SQLPartialStore {
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "partials.sqlite"))
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	store := NewSQLPartialStore(db)
	require.NoError(t, store.EnsureTables(context.Background()))
	require.NoError(t, store.EnsureTables(context.Background()))
	return store
}

func testPartialStore(t *testing.T, store PartialStore) {
	ctx := context.Background()

	_, err := store.Load(ctx, "missing")
	assert.ErrorIs(t, err, ErrStateNotFound)

	exact := NewFMSketch()
	fill(exact, 0, 5000)
	sketch := NewFMSketch()
	fill(sketch, 4000, 4000+MinVals+1)
	empty := NewFMSketch()

	keys := []string{NewPartialKey(), NewPartialKey(), NewPartialKey()}
	require.NotEqual(t, keys[0], keys[1])
	for i, f := range []*FMSketch{exact, sketch, empty} {
		require.NoError(t, store.Save(ctx, keys[i], f))
	}

	loaded, err := store.Load(ctx, keys[0])
	require.NoError(t, err)
	assert.True(t, exact.Equals(loaded))
	assert.Equal(t, uint64(5000), loaded.Count())

	// saving again replaces the state
	fill(exact, 5000, 5010)
	require.NoError(t, store.Save(ctx, keys[0], exact))
	loaded, err = store.Load(ctx, keys[0])
	require.NoError(t, err)
	assert.Equal(t, uint64(5010), loaded.Count())

	merged, err := store.MergeKeys(ctx, keys...)
	require.NoError(t, err)
	expected := NewFMSketch()
	fill(expected, 0, 4000+MinVals+1)
	assert.Equal(t, ModeSketch, merged.Mode())
	assert.True(t, expected.Equals(merged))

	_, err = store.MergeKeys(ctx, keys[0], "missing")
	assert.ErrorIs(t, err, ErrStateNotFound)

	for _, key := range keys {
		require.NoError(t, store.Delete(ctx, key))
	}
	require.NoError(t, store.Delete(ctx, "missing"))
	_, err = store.Load(ctx, keys[1])
	assert.ErrorIs(t, err, ErrStateNotFound)
}

func TestRedisPartialStore(t *testing.T) {
	store, mr := newTestRedisStore(t)
	testPartialStore(t, store)

	require.NoError(t, store.Save(context.Background(), "short-lived", NewFMSketch()))
	assert.True(t, mr.Exists("partials:short-lived"))
	mr.FastForward(2 * time.Minute)
	assert.False(t, mr.Exists("partials:short-lived"))
}

func TestRedisPartialStoreCorrupt(t *testing.T) {
	store, mr := newTestRedisStore(t)
	require.NoError(t, mr.Set("partials:bad", "garbage"))
	_, err := store.Load(context.Background(), "bad")
	assert.ErrorIs(t, err, ErrCorruptState)
}

func TestRedisPartialStoreSharedClient(t *testing.T) {
	initMockRedis()
	store, err := NewRedisPartialStore(nil, "", 0)
	require.NoError(t, err)
	testPartialStore(t, store)
}

func TestSQLPartialStore(t *testing.T) {
	store := newTestSQLStore(t)
	testPartialStore(t, store)

	ctx := context.Background()
	require.NoError(t, store.Save(ctx, "a", NewFMSketch()))
	f := NewFMSketch()
	f.InsertString("x")
	require.NoError(t, store.Save(ctx, "b", f))
	modes, err := store.Modes(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "empty", "b": "exact"}, modes)
}
