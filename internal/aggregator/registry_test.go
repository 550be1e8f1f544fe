package aggregator

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cove-indexer/internal/config"
	"cove-indexer/internal/entity"
)

func TestRegistryClassify(t *testing.T) {
	reg := testRegistry(t)

	info, err := reg.Classify(usdc, "")
	require.NoError(t, err)
	assert.Equal(t, entity.ShortTail, info.Type)
	assert.True(t, info.Pinned())

	info, err = reg.Classify(tokenA, "")
	require.NoError(t, err)
	assert.Equal(t, entity.LongTail, info.Type)
	assert.False(t, info.Pinned())

	stranger := common.HexToAddress("0x1234")
	_, err = reg.Classify(stranger, "")
	require.ErrorIs(t, err, ErrUnclassifiedToken)

	info, err = reg.Classify(stranger, entity.LongTail)
	require.NoError(t, err)
	assert.Equal(t, entity.LongTail, info.Type)
}

func TestRegistryUnknownAsLongTail(t *testing.T) {
	reg, err := NewRegistry(config.TokensConfig{UnknownAsLongTail: true})
	require.NoError(t, err)

	info, err := reg.Classify(common.HexToAddress("0x1234"), "")
	require.NoError(t, err)
	assert.Equal(t, entity.LongTail, info.Type)
}

func TestRegistryRejectsConflicts(t *testing.T) {
	addr := usdc.Hex()
	_, err := NewRegistry(config.TokensConfig{
		ShortTail: []config.TokenConfig{{Address: addr}},
		LongTail:  []config.TokenConfig{{Address: addr}},
	})
	require.Error(t, err)

	_, err = NewRegistry(config.TokensConfig{ShortTail: []config.TokenConfig{{Address: "nope"}}})
	require.Error(t, err)
}
