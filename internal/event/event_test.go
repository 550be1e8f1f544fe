package event

import (
	"bytes"
	"context"
	"encoding/json"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	usdc  = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	weth  = common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
	alice = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
)

func TestDecodeSwapLog(t *testing.T) {
	d, err := NewDecoder()
	require.NoError(t, err)

	var aux [32]byte
	copy(aux[:], "partner")
	data, err := d.swap.Inputs.NonIndexed().Pack(big.NewInt(100_000_000), big.NewInt(5e16), aux)
	require.NoError(t, err)

	txHash := common.HexToHash("0xbeef")
	lg := types.Log{
		Topics: []common.Hash{
			d.swap.ID,
			common.BytesToHash(usdc.Bytes()),
			common.BytesToHash(weth.Bytes()),
			common.BytesToHash(alice.Bytes()),
		},
		Data:        data,
		BlockNumber: 42,
		TxHash:      txHash,
		Index:       3,
	}

	env, err := d.Decode(lg, 3600, alice)
	require.NoError(t, err)
	require.Equal(t, TypeSwap, env.Type)

	sw := env.Swap
	assert.Equal(t, usdc, sw.InAsset)
	assert.Equal(t, weth, sw.OutAsset)
	assert.Equal(t, alice, sw.Recipient)
	assert.Equal(t, int64(100_000_000), sw.InAmount.Int64())
	assert.Equal(t, int64(5e16), sw.OutAmount.Int64())
	assert.Equal(t, common.Hash(aux), sw.AuxiliaryData)
	assert.Equal(t, uint64(42), sw.BlockNumber)
	assert.Equal(t, int64(3600), sw.Timestamp)
	assert.Equal(t, txHash.Hex()+"-3", sw.ID())
}

func TestDecodeDepositLog(t *testing.T) {
	d, err := NewDecoder()
	require.NoError(t, err)

	data, err := d.deposit.Inputs.NonIndexed().Pack(big.NewInt(50), big.NewInt(20))
	require.NoError(t, err)

	env, err := d.Decode(types.Log{
		Topics: []common.Hash{d.deposit.ID, common.BytesToHash(weth.Bytes()), common.BytesToHash(alice.Bytes())},
		Data:   data,
	}, 1000, alice)
	require.NoError(t, err)
	require.Equal(t, TypeDeposit, env.Type)
	assert.Equal(t, weth, env.Deposit.Token)
	assert.Equal(t, alice, env.Deposit.Depositor)
	assert.Equal(t, int64(20), env.Deposit.TokenAmount.Int64())
}

func TestDecodeRejectsForeignLogs(t *testing.T) {
	d, err := NewDecoder()
	require.NoError(t, err)

	_, err = d.Decode(types.Log{Topics: []common.Hash{common.HexToHash("0x01")}}, 0, alice)
	require.ErrorIs(t, err, ErrUnknownEvent)

	_, err = d.Decode(types.Log{}, 0, alice)
	require.ErrorIs(t, err, ErrUnknownEvent)

	_, err = d.Decode(types.Log{Topics: []common.Hash{d.withdraw.ID}}, 0, alice)
	require.Error(t, err)
}

func TestEnvelopeJSONLines(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	dep, err := Wrap(Deposit{Meta: Meta{BlockNumber: 1, Timestamp: 1000}, Token: weth, Depositor: alice})
	require.NoError(t, err)
	require.NoError(t, w.Write(dep))

	sw, err := Wrap(&Swap{Meta: Meta{BlockNumber: 2, LogIndex: 1}, InAsset: usdc, OutAsset: weth, InAmount: big.NewInt(1), OutAmount: big.NewInt(2)})
	require.NoError(t, err)
	require.NoError(t, w.Write(sw))

	var kinds []Type
	r := NewReader(strings.NewReader(buf.String() + "\n"))
	require.NoError(t, r.Each(context.Background(), func(env Envelope) error {
		kinds = append(kinds, env.Type)
		return nil
	}))
	assert.Equal(t, []Type{TypeDeposit, TypeSwap}, kinds)
}

func TestEnvelopeValidate(t *testing.T) {
	var env Envelope
	err := json.Unmarshal([]byte(`{"type":"swap","deposit":{"token":"0x0000000000000000000000000000000000000001"}}`), &env)
	require.Error(t, err)

	err = json.Unmarshal([]byte(`{"type":"mint"}`), &env)
	require.Error(t, err)

	err = json.Unmarshal([]byte(`{"type":"swap","swap":{"inAsset":"0x0000000000000000000000000000000000000001"}}`), &env)
	require.Error(t, err)

	_, err = Wrap(42)
	require.Error(t, err)
}

func TestEnvelopeValidateRejectsNegativeAmounts(t *testing.T) {
	swap := &Swap{Meta: Meta{BlockNumber: 2}, InAsset: usdc, OutAsset: weth, InAmount: big.NewInt(-3_000_000), OutAmount: big.NewInt(1)}
	env, err := Wrap(swap)
	require.NoError(t, err)
	require.Error(t, env.Validate())
	require.NoError(t, Envelope{Type: TypeSwap, Swap: &Swap{InAmount: big.NewInt(0), OutAmount: big.NewInt(0)}}.Validate())

	env = Envelope{Type: TypeDeposit, Deposit: &Deposit{Token: weth, PoolTokens: big.NewInt(-1)}}
	require.Error(t, env.Validate())

	env = Envelope{Type: TypeWithdraw, Withdraw: &Withdraw{Token: weth, TokenAmount: big.NewInt(-1)}}
	require.Error(t, env.Validate())

	// optional amounts may be absent
	env = Envelope{Type: TypeWithdraw, Withdraw: &Withdraw{Token: weth}}
	require.NoError(t, env.Validate())

	var decoded Envelope
	err = json.Unmarshal([]byte(`{"type":"swap","swap":{"inAsset":"0x0000000000000000000000000000000000000001","outAsset":"0x0000000000000000000000000000000000000002","inAmount":-5,"outAmount":1}}`), &decoded)
	require.Error(t, err)
}

func TestAddressID(t *testing.T) {
	assert.Equal(t, "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48", AddressID(usdc))
}
