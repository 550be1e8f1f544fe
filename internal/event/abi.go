package event

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// CoveABI holds the event fragment of the Cove contract.
const CoveABI = `[
  {"anonymous":false,"name":"CoveDeposited","type":"event","inputs":[
    {"indexed":true,"name":"tokenAddress","type":"address"},
    {"indexed":true,"name":"depositor","type":"address"},
    {"indexed":false,"name":"poolTokens","type":"uint256"},
    {"indexed":false,"name":"tokenAmount","type":"uint256"}]},
  {"anonymous":false,"name":"CoveSwapped","type":"event","inputs":[
    {"indexed":true,"name":"inAsset","type":"address"},
    {"indexed":true,"name":"outAsset","type":"address"},
    {"indexed":true,"name":"recipient","type":"address"},
    {"indexed":false,"name":"inAmount","type":"uint256"},
    {"indexed":false,"name":"outAmount","type":"uint256"},
    {"indexed":false,"name":"auxiliaryData","type":"bytes32"}]},
  {"anonymous":false,"name":"CoveWithdrawn","type":"event","inputs":[
    {"indexed":true,"name":"tokenAddress","type":"address"},
    {"indexed":true,"name":"withdrawer","type":"address"},
    {"indexed":false,"name":"poolTokens","type":"uint256"},
    {"indexed":false,"name":"tokenAmount","type":"uint256"}]}
]`

// ErrUnknownEvent marks a log whose topic is not a Cove event.
var ErrUnknownEvent = errors.New("event: unknown log topic")

// Decoder turns raw Cove logs into typed envelopes.
type Decoder struct {
	abi      abi.ABI
	deposit  abi.Event
	swap     abi.Event
	withdraw abi.Event
}

// NewDecoder parses the Cove ABI.
func NewDecoder() (*Decoder, error) {
	parsed, err := abi.JSON(strings.NewReader(CoveABI))
	if err != nil {
		return nil, fmt.Errorf("parse cove abi: %w", err)
	}
	return &Decoder{
		abi:      parsed,
		deposit:  parsed.Events["CoveDeposited"],
		swap:     parsed.Events["CoveSwapped"],
		withdraw: parsed.Events["CoveWithdrawn"],
	}, nil
}

// Topics lists the event signatures to filter on.
func (d *Decoder) Topics() []common.Hash {
	return []common.Hash{d.deposit.ID, d.swap.ID, d.withdraw.ID}
}

// Decode maps a log to an envelope. timestamp and from come from the block
// header and the transaction sender.
func (d *Decoder) Decode(lg types.Log, timestamp int64, from common.Address) (Envelope, error) {
	if len(lg.Topics) == 0 {
		return Envelope{}, ErrUnknownEvent
	}
	meta := Meta{
		BlockNumber: lg.BlockNumber,
		TxHash:      lg.TxHash,
		LogIndex:    lg.Index,
		Timestamp:   timestamp,
		From:        from,
	}

	switch lg.Topics[0] {
	case d.deposit.ID:
		fields, err := d.unpack(d.deposit, lg)
		if err != nil {
			return Envelope{}, err
		}
		return Wrap(Deposit{
			Meta:        meta,
			Token:       fields.address("tokenAddress"),
			Depositor:   fields.address("depositor"),
			PoolTokens:  fields.bigInt("poolTokens"),
			TokenAmount: fields.bigInt("tokenAmount"),
		})
	case d.swap.ID:
		fields, err := d.unpack(d.swap, lg)
		if err != nil {
			return Envelope{}, err
		}
		return Wrap(Swap{
			Meta:          meta,
			InAsset:       fields.address("inAsset"),
			OutAsset:      fields.address("outAsset"),
			Recipient:     fields.address("recipient"),
			InAmount:      fields.bigInt("inAmount"),
			OutAmount:     fields.bigInt("outAmount"),
			AuxiliaryData: fields.bytes32("auxiliaryData"),
		})
	case d.withdraw.ID:
		fields, err := d.unpack(d.withdraw, lg)
		if err != nil {
			return Envelope{}, err
		}
		return Wrap(Withdraw{
			Meta:        meta,
			Token:       fields.address("tokenAddress"),
			Withdrawer:  fields.address("withdrawer"),
			PoolTokens:  fields.bigInt("poolTokens"),
			TokenAmount: fields.bigInt("tokenAmount"),
		})
	default:
		return Envelope{}, fmt.Errorf("%w: %s", ErrUnknownEvent, lg.Topics[0].Hex())
	}
}

type logFields map[string]any

func (f logFields) address(name string) common.Address {
	v, _ := f[name].(common.Address)
	return v
}

func (f logFields) bigInt(name string) *big.Int {
	v, _ := f[name].(*big.Int)
	return v
}

func (f logFields) bytes32(name string) common.Hash {
	v, _ := f[name].([32]byte)
	return common.Hash(v)
}

func (d *Decoder) unpack(ev abi.Event, lg types.Log) (logFields, error) {
	fields := make(logFields)
	if err := d.abi.UnpackIntoMap(fields, ev.Name, lg.Data); err != nil {
		return nil, fmt.Errorf("unpack %s data: %w", ev.Name, err)
	}

	var indexed abi.Arguments
	for _, arg := range ev.Inputs {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	if len(lg.Topics)-1 != len(indexed) {
		return nil, fmt.Errorf("unpack %s topics: got %d, want %d", ev.Name, len(lg.Topics)-1, len(indexed))
	}
	if err := abi.ParseTopicsIntoMap(fields, indexed, lg.Topics[1:]); err != nil {
		return nil, fmt.Errorf("unpack %s topics: %w", ev.Name, err)
	}
	return fields, nil
}
