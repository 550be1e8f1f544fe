package app

import (
	"bytes"
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cove-indexer/internal/event"
)

type stubFetcher struct {
	ranges [][2]uint64
}

func (s *stubFetcher) Fetch(_ context.Context, from, to uint64) ([]event.Envelope, error) {
	s.ranges = append(s.ranges, [2]uint64{from, to})
	env, err := event.Wrap(event.Withdraw{
		Meta:        event.Meta{BlockNumber: from, TxHash: common.BigToHash(new(big.Int).SetUint64(from))},
		Token:       common.HexToAddress("0xa1"),
		PoolTokens:  big.NewInt(1),
		TokenAmount: big.NewInt(2),
	})
	if err != nil {
		return nil, err
	}
	return []event.Envelope{env}, nil
}

func TestWriteEventsBatchesRange(t *testing.T) {
	src := &stubFetcher{}
	var out bytes.Buffer

	require.NoError(t, writeEvents(context.Background(), src, 10, 14, 2, &out, zerolog.Nop()))
	assert.Equal(t, [][2]uint64{{10, 11}, {12, 13}, {14, 14}}, src.ranges)

	r := event.NewReader(&out)
	var blocks []uint64
	require.NoError(t, r.Each(context.Background(), func(env event.Envelope) error {
		meta, err := env.Meta()
		if err != nil {
			return err
		}
		blocks = append(blocks, meta.BlockNumber)
		return nil
	}))
	assert.Equal(t, []uint64{10, 12, 14}, blocks)
}
