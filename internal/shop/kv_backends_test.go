package shop

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*RedisKV, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewRedisKV(client), mr
}

func setupTestSQLite(t *testing.T) *SQLKV {
	t.Helper()

	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "pantry.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	kv := NewSQLiteKV(db)
	require.NoError(t, kv.EnsureSchema(t.Context()))
	return kv
}

func exerciseKV(t *testing.T, kv KV) {
	t.Helper()
	ctx := t.Context()

	require.NoError(t, kv.Ping(ctx))

	_, ok, err := kv.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, kv.Set(ctx, "k", "v1"))
	require.NoError(t, kv.Set(ctx, "k", "v2"))

	v, ok, err := kv.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v2", v)
}

func TestMemKV(t *testing.T) {
	exerciseKV(t, NewMemKV())
}

func TestRedisKV(t *testing.T) {
	kv, mr := setupTestRedis(t)
	exerciseKV(t, kv)

	assert.True(t, mr.Exists("k"))
	assert.Zero(t, mr.TTL("k"), "snapshots must not expire")
}

func TestRedisKV_Unavailable(t *testing.T) {
	kv, mr := setupTestRedis(t)
	mr.Close()

	_, _, err := kv.Get(t.Context(), "k")
	assert.ErrorContains(t, err, "redis get failed")
}

func TestSQLiteKV(t *testing.T) {
	kv := setupTestSQLite(t)
	exerciseKV(t, kv)

	// idempotent bootstrap
	require.NoError(t, kv.EnsureSchema(t.Context()))
}

func TestStateSurvivesReopen_SQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pantry.db")
	ctx := t.Context()

	open := func() (KV, func() error) {
		kv, closeFn, err := OpenKV(ctx, "sqlite", path)
		require.NoError(t, err)
		return kv, closeFn
	}

	kv, closeFn := open()
	s := Load(ctx, Namespace(kv, "sess"), nil)
	require.NoError(t, s.AddToCart(ctx, product("a", "Apple")))
	require.NoError(t, s.AddToCart(ctx, product("a", "Apple")))
	require.NoError(t, closeFn())

	kv, closeFn = open()
	defer func() { _ = closeFn() }()

	reloaded := Load(ctx, Namespace(kv, "sess"), nil)
	assert.Equal(t, 2, reloaded.CartCount())
}

func TestOpenKV_UnknownDriver(t *testing.T) {
	_, _, err := OpenKV(context.Background(), "etcd", "")
	assert.Error(t, err)
}
