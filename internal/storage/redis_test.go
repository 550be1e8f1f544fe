package storage

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cove-indexer/internal/config"
	"cove-indexer/internal/entity"
)

func newTestRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	backend := NewRedis(client, "test:")
	t.Cleanup(backend.Close)
	return backend, srv
}

func TestRedisGetCommit(t *testing.T) {
	ctx := context.Background()
	backend, srv := newTestRedis(t)

	_, found, err := backend.Get(ctx, entity.KindToken, "0xt")
	require.NoError(t, err)
	assert.False(t, found)

	rec, err := Encode(&entity.Token{ID: "0xt", Symbol: "WETH", Decimals: 18})
	require.NoError(t, err)
	require.NoError(t, backend.Commit(ctx, []Record{rec}))

	data, found, err := backend.Get(ctx, entity.KindToken, "0xt")
	require.NoError(t, err)
	require.True(t, found)
	assert.JSONEq(t, string(rec.Data), string(data))
	assert.True(t, srv.Exists("test:Token:0xt"))
}

func TestRedisListUsesSortedIndex(t *testing.T) {
	ctx := context.Background()
	backend, _ := newTestRedis(t)
	seedStatuses(t, backend)

	got, err := ListPoolStatuses(ctx, backend, entity.KindHourlyPoolStatus, AllKeys())
	require.NoError(t, err)
	assert.Equal(t, []int64{0, 3600, 7200}, fromValues(got))

	got, err = ListPoolStatuses(ctx, backend, entity.KindHourlyPoolStatus, ListOptions{From: 0, To: 3600, Desc: true})
	require.NoError(t, err)
	assert.Equal(t, []int64{3600, 0}, fromValues(got))

	got, err = ListPoolStatuses(ctx, backend, entity.KindDailyPoolStatus, AllKeys())
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestOpenRedisDriver(t *testing.T) {
	srv := miniredis.RunT(t)
	backend, err := Open(context.Background(), config.StorageConfig{
		Driver: config.DriverRedis,
		Redis:  config.RedisConfig{Addr: srv.Addr(), Prefix: "cove:"},
	})
	require.NoError(t, err)
	defer backend.Close()
	assert.IsType(t, &Redis{}, backend)
}

func TestOpenDefaultsToMemory(t *testing.T) {
	backend, err := Open(context.Background(), config.StorageConfig{})
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, backend)

	_, err = Open(context.Background(), config.StorageConfig{Driver: "sqlite"})
	require.Error(t, err)
}
