package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cove-indexer/internal/entity"
)

type failingBackend struct {
	*Memory
	err error
}

func (f failingBackend) Commit(context.Context, []Record) error { return f.err }

func TestSessionLoadOrCreateReturnsSameInstance(t *testing.T) {
	ctx := context.Background()
	s := NewSession(NewMemory())

	first, created, err := LoadOrCreate[entity.Token](ctx, s, "0xa", func(tok *entity.Token) {
		tok.ID = "0xa"
		tok.Type = entity.LongTail
	})
	require.NoError(t, err)
	assert.True(t, created)

	first.TxCount = 7

	second, created, err := LoadOrCreate[entity.Token](ctx, s, "0xa", func(*entity.Token) {
		t.Fatal("init 不应被再次调用")
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Same(t, first, second)
	assert.EqualValues(t, 7, second.TxCount)
}

func TestSessionLoadOrCreateRejectsMismatchedID(t *testing.T) {
	s := NewSession(NewMemory())
	_, _, err := LoadOrCreate[entity.Pool](context.Background(), s, "pool", func(p *entity.Pool) {
		p.ID = "other"
	})
	require.Error(t, err)
	assert.Empty(t, s.Changes())
}

func TestSessionCommitPersistsAndRoundTrips(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()
	s := NewSession(mem)

	pool, _, err := LoadOrCreate[entity.Pool](ctx, s, "0xpool", func(p *entity.Pool) { p.ID = "0xpool" })
	require.NoError(t, err)
	pool.TxCount = 2
	pool.VolumeUSD = decimal.RequireFromString("150.5")

	changes, err := s.Commit(ctx)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, 1, mem.Len(entity.KindPool))

	// a second commit without modifications writes nothing
	changes, err = s.Commit(ctx)
	require.NoError(t, err)
	assert.Empty(t, changes)

	loaded, found, err := Load[entity.Pool](ctx, NewSession(mem), "0xpool")
	require.NoError(t, err)
	require.True(t, found)
	assert.EqualValues(t, 2, loaded.TxCount)
	assert.True(t, loaded.VolumeUSD.Equal(decimal.RequireFromString("150.5")))
}

func TestSessionLoadedEntityIsNotWrittenUnlessUpserted(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()
	rec, err := Encode(&entity.User{ID: "0xu", TxCount: 1})
	require.NoError(t, err)
	require.NoError(t, mem.Commit(ctx, []Record{rec}))

	s := NewSession(mem)
	user, found, err := Load[entity.User](ctx, s, "0xu")
	require.NoError(t, err)
	require.True(t, found)
	assert.Empty(t, s.Changes())

	user.TxCount++
	s.Upsert(user)
	require.Len(t, s.Changes(), 1)
}

func TestSessionCommitFailureLeavesBackendUntouched(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()
	boom := errors.New("boom")
	s := NewSession(failingBackend{Memory: mem, err: boom})

	_, _, err := LoadOrCreate[entity.Swap](ctx, s, "0xtx-1", func(sw *entity.Swap) { sw.ID = "0xtx-1" })
	require.NoError(t, err)

	_, err = s.Commit(ctx)
	require.ErrorIs(t, err, boom)
	assert.Zero(t, mem.Len(entity.KindSwap))
}

func TestSessionChangesKeepFirstTouchOrder(t *testing.T) {
	ctx := context.Background()
	s := NewSession(NewMemory())

	for _, id := range []string{"c", "a", "b"} {
		id := id
		_, _, err := LoadOrCreate[entity.User](ctx, s, id, func(u *entity.User) { u.ID = id })
		require.NoError(t, err)
	}

	var ids []string
	for _, e := range s.Changes() {
		ids = append(ids, e.EntityID())
	}
	assert.Equal(t, []string{"c", "a", "b"}, ids)
}

func TestSessionWithoutBackend(t *testing.T) {
	s := NewSession(nil)
	_, _, err := Load[entity.Token](context.Background(), s, "x")
	require.ErrorIs(t, err, ErrNotConfigured)
}
