package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cove-indexer/internal/entity"
)

func seedStatuses(t *testing.T, backend Backend) {
	t.Helper()
	var records []Record
	for i, from := range []int64{7200, 0, 3600} {
		status := &entity.HourlyPoolStatus{PoolStatus: entity.PoolStatus{
			ID:      "p-" + string(rune('a'+i)),
			Pool:    "p",
			From:    from,
			To:      from + 3599,
			TxCount: int64(i + 1),
		}}
		rec, err := Encode(status)
		require.NoError(t, err)
		records = append(records, rec)
	}
	require.NoError(t, backend.Commit(context.Background(), records))
}

func fromValues(statuses []entity.PoolStatus) []int64 {
	out := make([]int64, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, s.From)
	}
	return out
}

func TestMemoryListOrdersBySortKey(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()
	seedStatuses(t, mem)

	got, err := ListPoolStatuses(ctx, mem, entity.KindHourlyPoolStatus, AllKeys())
	require.NoError(t, err)
	assert.Equal(t, []int64{0, 3600, 7200}, fromValues(got))

	got, err = ListPoolStatuses(ctx, mem, entity.KindHourlyPoolStatus, ListOptions{From: 3600, To: 7200, Desc: true, Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, []int64{7200}, fromValues(got))
}

func TestListPoolStatusesRejectsOtherKinds(t *testing.T) {
	_, err := ListPoolStatuses(context.Background(), NewMemory(), entity.KindToken, AllKeys())
	require.Error(t, err)
}

func TestFetchDecodesByKind(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()
	rec, err := Encode(&entity.Token{ID: "0xt", Symbol: "USDC", Decimals: 6, Type: entity.ShortTail})
	require.NoError(t, err)
	require.NoError(t, mem.Commit(ctx, []Record{rec}))

	e, found, err := Fetch(ctx, mem, entity.KindToken, "0xt")
	require.NoError(t, err)
	require.True(t, found)
	tok, ok := e.(*entity.Token)
	require.True(t, ok)
	assert.Equal(t, "USDC", tok.Symbol)

	_, found, err = Fetch(ctx, mem, entity.KindToken, "missing")
	require.NoError(t, err)
	assert.False(t, found)
}
