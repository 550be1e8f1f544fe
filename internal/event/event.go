package event

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Type names the kind of Cove event carried by an Envelope.
type Type string

const (
	TypeDeposit  Type = "deposit"
	TypeSwap     Type = "swap"
	TypeWithdraw Type = "withdraw"
)

// Meta is the chain position and transaction context shared by every event.
type Meta struct {
	BlockNumber uint64         `json:"blockNumber"`
	TxHash      common.Hash    `json:"txHash"`
	LogIndex    uint           `json:"logIndex"`
	Timestamp   int64          `json:"timestamp"`
	From        common.Address `json:"from"`
}

// ID is the globally unique txHash-logIndex identifier.
func (m Meta) ID() string {
	return fmt.Sprintf("%s-%d", m.TxHash.Hex(), m.LogIndex)
}

// Deposit is a decoded CoveDeposited log.
type Deposit struct {
	Meta
	Token       common.Address `json:"token"`
	Depositor   common.Address `json:"depositor"`
	PoolTokens  *big.Int       `json:"poolTokens,omitempty"`
	TokenAmount *big.Int       `json:"tokenAmount,omitempty"`
}

// Swap is a decoded CoveSwapped log.
type Swap struct {
	Meta
	InAsset       common.Address `json:"inAsset"`
	OutAsset      common.Address `json:"outAsset"`
	Recipient     common.Address `json:"recipient"`
	InAmount      *big.Int       `json:"inAmount"`
	OutAmount     *big.Int       `json:"outAmount"`
	AuxiliaryData common.Hash    `json:"auxiliaryData"`
}

// Withdraw is a decoded CoveWithdrawn log.
type Withdraw struct {
	Meta
	Token       common.Address `json:"token"`
	Withdrawer  common.Address `json:"withdrawer"`
	PoolTokens  *big.Int       `json:"poolTokens,omitempty"`
	TokenAmount *big.Int       `json:"tokenAmount,omitempty"`
}

// Envelope carries exactly one typed event.
type Envelope struct {
	Type     Type      `json:"type"`
	Deposit  *Deposit  `json:"deposit,omitempty"`
	Swap     *Swap     `json:"swap,omitempty"`
	Withdraw *Withdraw `json:"withdraw,omitempty"`
}

// Wrap builds an envelope around a typed event.
func Wrap(ev any) (Envelope, error) {
	switch v := ev.(type) {
	case Deposit:
		return Envelope{Type: TypeDeposit, Deposit: &v}, nil
	case *Deposit:
		return Envelope{Type: TypeDeposit, Deposit: v}, nil
	case Swap:
		return Envelope{Type: TypeSwap, Swap: &v}, nil
	case *Swap:
		return Envelope{Type: TypeSwap, Swap: v}, nil
	case Withdraw:
		return Envelope{Type: TypeWithdraw, Withdraw: &v}, nil
	case *Withdraw:
		return Envelope{Type: TypeWithdraw, Withdraw: v}, nil
	default:
		return Envelope{}, fmt.Errorf("unsupported event %T", ev)
	}
}

// Meta returns the chain position of the wrapped event.
func (e Envelope) Meta() (Meta, error) {
	if err := e.Validate(); err != nil {
		return Meta{}, err
	}
	switch e.Type {
	case TypeDeposit:
		return e.Deposit.Meta, nil
	case TypeSwap:
		return e.Swap.Meta, nil
	default:
		return e.Withdraw.Meta, nil
	}
}

// Validate checks that the payload matches Type.
func (e Envelope) Validate() error {
	var ok bool
	switch e.Type {
	case TypeDeposit:
		ok = e.Deposit != nil && e.Swap == nil && e.Withdraw == nil
		if ok && (negative(e.Deposit.PoolTokens) || negative(e.Deposit.TokenAmount)) {
			return fmt.Errorf("deposit %s: amounts must not be negative", e.Deposit.ID())
		}
	case TypeSwap:
		ok = e.Swap != nil && e.Deposit == nil && e.Withdraw == nil
		if ok && (e.Swap.InAmount == nil || e.Swap.OutAmount == nil) {
			return fmt.Errorf("swap %s: amounts are required", e.Swap.ID())
		}
		if ok && (negative(e.Swap.InAmount) || negative(e.Swap.OutAmount)) {
			return fmt.Errorf("swap %s: amounts must not be negative", e.Swap.ID())
		}
	case TypeWithdraw:
		ok = e.Withdraw != nil && e.Deposit == nil && e.Swap == nil
		if ok && (negative(e.Withdraw.PoolTokens) || negative(e.Withdraw.TokenAmount)) {
			return fmt.Errorf("withdraw %s: amounts must not be negative", e.Withdraw.ID())
		}
	default:
		return fmt.Errorf("unknown event type %q", e.Type)
	}
	if !ok {
		return fmt.Errorf("envelope payload does not match type %q", e.Type)
	}
	return nil
}

func negative(v *big.Int) bool {
	return v != nil && v.Sign() < 0
}

// UnmarshalJSON decodes and validates an envelope.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	type raw Envelope
	var r raw
	if err := json.Unmarshal(data, &r); err != nil {
		return err
	}
	*e = Envelope(r)
	return e.Validate()
}

// AddressID renders an address the way entity ids store it.
func AddressID(a common.Address) string {
	return strings.ToLower(a.Hex())
}
