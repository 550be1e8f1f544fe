package entity

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Kind names an entity collection.
type Kind string

const (
	KindToken             Kind = "Token"
	KindCove              Kind = "Cove"
	KindUserCoveStake     Kind = "UserCoveStake"
	KindUser              Kind = "User"
	KindPool              Kind = "Pool"
	KindHourlyPoolStatus  Kind = "HourlyPoolStatus"
	KindDailyPoolStatus   Kind = "DailyPoolStatus"
	KindSwap              Kind = "Swap"
	KindTransactionSource Kind = "TransactionSource"
	KindCheckpoint        Kind = "Checkpoint"
)

// Kinds lists every persisted kind.
var Kinds = []Kind{
	KindToken,
	KindCove,
	KindUserCoveStake,
	KindUser,
	KindPool,
	KindHourlyPoolStatus,
	KindDailyPoolStatus,
	KindSwap,
	KindTransactionSource,
	KindCheckpoint,
}

// ParseKind matches a kind name case-insensitively.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if strings.EqualFold(string(k), s) {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown entity kind %q", s)
}

// StatusKind maps a rollup interval name ("hour" or "day") to its bucket kind.
func StatusKind(interval string) (Kind, error) {
	switch strings.ToLower(interval) {
	case "hour", "hourly", "1h":
		return KindHourlyPoolStatus, nil
	case "day", "daily", "1d":
		return KindDailyPoolStatus, nil
	default:
		return "", fmt.Errorf("unknown interval %q (want hour or day)", interval)
	}
}

// Entity is a document addressable by kind and id.
type Entity interface {
	EntityKind() Kind
	EntityID() string
	// SortKey orders entities of one kind for range listings. Kinds without a
	// natural order return 0.
	SortKey() int64
}

// TailType classifies a traded asset.
type TailType string

const (
	ShortTail TailType = "ShortTail"
	LongTail  TailType = "LongTail"
)

// Valid reports whether t is one of the two tail classes.
func (t TailType) Valid() bool {
	return t == ShortTail || t == LongTail
}

// Token aggregates per-asset statistics.
type Token struct {
	ID        string          `json:"id"`
	Symbol    string          `json:"symbol"`
	Decimals  int32           `json:"decimals"`
	Type      TailType        `json:"type"`
	TxCount   int64           `json:"txCount"`
	Volume    decimal.Decimal `json:"volume"`
	VolumeUSD decimal.Decimal `json:"volumeUSD"`
	TVL       decimal.Decimal `json:"tvl"`
	TVLUSD    decimal.Decimal `json:"tvlUSD"`
}

func (t *Token) EntityKind() Kind { return KindToken }
func (t *Token) EntityID() string { return t.ID }
func (t *Token) SortKey() int64   { return 0 }

// Cove is a per-(asset, actor) liquidity position.
type Cove struct {
	ID                  string          `json:"id"`
	LongtailAsset       string          `json:"longtailAsset"`
	Owner               string          `json:"owner"`
	Pool                string          `json:"pool"`
	CreatedAt           int64           `json:"createdAt"`
	CreatedTx           string          `json:"createdTx"`
	DepositCount        int64           `json:"depositCount"`
	SwapCount           int64           `json:"swapCount"`
	PoolTokenAmount     decimal.Decimal `json:"poolTokenAmount"`
	LongtailTokenAmount decimal.Decimal `json:"longtailTokenAmount"`
	VolumeUSD           decimal.Decimal `json:"volumeUSD"`
}

func (c *Cove) EntityKind() Kind { return KindCove }
func (c *Cove) EntityID() string { return c.ID }
func (c *Cove) SortKey() int64   { return c.CreatedAt }

// CoveID joins a long-tail asset and an actor address.
func CoveID(asset, actor string) string {
	return asset + "-" + actor
}

// UserCoveStake marks an actor's participation in a cove.
type UserCoveStake struct {
	ID     string `json:"id"`
	Cove   string `json:"cove"`
	User   string `json:"user"`
	Active bool   `json:"active"`
}

func (s *UserCoveStake) EntityKind() Kind { return KindUserCoveStake }
func (s *UserCoveStake) EntityID() string { return s.ID }
func (s *UserCoveStake) SortKey() int64   { return 0 }

// UserCoveStakeID joins a cove id and an actor address.
func UserCoveStakeID(coveID, user string) string {
	return coveID + "-" + user
}

// User tracks an address that traded against a short-tail asset.
type User struct {
	ID        string          `json:"id"`
	FirstSeen int64           `json:"firstSeen"`
	LastSeen  int64           `json:"lastSeen"`
	TxCount   int64           `json:"txCount"`
	VolumeUSD decimal.Decimal `json:"volumeUSD"`
}

func (u *User) EntityKind() Kind { return KindUser }
func (u *User) EntityID() string { return u.ID }
func (u *User) SortKey() int64   { return u.FirstSeen }

// Pool is the direct-exchange aggregation root.
type Pool struct {
	ID        string          `json:"id"`
	TxCount   int64           `json:"txCount"`
	VolumeUSD decimal.Decimal `json:"volumeUSD"`
	AvgTrade  decimal.Decimal `json:"avgTrade"`
}

func (p *Pool) EntityKind() Kind { return KindPool }
func (p *Pool) EntityID() string { return p.ID }
func (p *Pool) SortKey() int64   { return 0 }

// PoolStatus holds the counters of one rollup bucket.
type PoolStatus struct {
	ID        string          `json:"id"`
	Pool      string          `json:"pool"`
	From      int64           `json:"from"`
	To        int64           `json:"to"`
	TxCount   int64           `json:"txCount"`
	VolumeUSD decimal.Decimal `json:"volumeUSD"`
	AvgTrade  decimal.Decimal `json:"avgTrade"`
}

// HourlyPoolStatus is a one-hour rollup bucket.
type HourlyPoolStatus struct {
	PoolStatus
}

func (h *HourlyPoolStatus) EntityKind() Kind { return KindHourlyPoolStatus }
func (h *HourlyPoolStatus) EntityID() string { return h.ID }
func (h *HourlyPoolStatus) SortKey() int64   { return h.From }

// DailyPoolStatus is a one-day rollup bucket.
type DailyPoolStatus struct {
	PoolStatus
}

func (d *DailyPoolStatus) EntityKind() Kind { return KindDailyPoolStatus }
func (d *DailyPoolStatus) EntityID() string { return d.ID }
func (d *DailyPoolStatus) SortKey() int64   { return d.From }

// Swap is the immutable record of one CoveSwapped event.
type Swap struct {
	ID                  string          `json:"id"`
	Transaction         string          `json:"transaction"`
	LogIndex            uint            `json:"logIndex"`
	Timestamp           int64           `json:"timestamp"`
	InToken             string          `json:"inToken"`
	OutToken            string          `json:"outToken"`
	Origin              string          `json:"origin"`
	Sender              string          `json:"sender"`
	Recipient           string          `json:"recipient"`
	AmountIn            decimal.Decimal `json:"amountIn"`
	AmountOut           decimal.Decimal `json:"amountOut"`
	PricePerInputToken  decimal.Decimal `json:"pricePerInputToken"`
	PricePerOutputToken decimal.Decimal `json:"pricePerOutputToken"`
	AmountInUSD         decimal.Decimal `json:"amountInUSD"`
	AmountOutUSD        decimal.Decimal `json:"amountOutUSD"`
	TransactionSource   string          `json:"transactionSource"`
}

func (s *Swap) EntityKind() Kind { return KindSwap }
func (s *Swap) EntityID() string { return s.ID }
func (s *Swap) SortKey() int64   { return s.Timestamp }

// SwapID joins a transaction hash and log index.
func SwapID(txHash string, logIndex uint) string {
	return fmt.Sprintf("%s-%d", txHash, logIndex)
}

// TransactionSource counts swaps tagged with the same integrator data.
type TransactionSource struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	TxCount int64  `json:"txCount"`
}

func (s *TransactionSource) EntityKind() Kind { return KindTransactionSource }
func (s *TransactionSource) EntityID() string { return s.ID }
func (s *TransactionSource) SortKey() int64   { return 0 }

// Checkpoint records the last event committed by an indexer.
type Checkpoint struct {
	ID          string `json:"id"`
	BlockNumber uint64 `json:"blockNumber"`
	LogIndex    uint   `json:"logIndex"`
	EventID     string `json:"eventId"`
}

func (c *Checkpoint) EntityKind() Kind { return KindCheckpoint }
func (c *Checkpoint) EntityID() string { return c.ID }
func (c *Checkpoint) SortKey() int64   { return int64(c.BlockNumber) }

// Covers reports whether the position (block, logIndex) is at or before the checkpoint.
func (c *Checkpoint) Covers(block uint64, logIndex uint) bool {
	if c == nil || c.EventID == "" {
		return false
	}
	if block != c.BlockNumber {
		return block < c.BlockNumber
	}
	return logIndex <= c.LogIndex
}

// New returns a zero entity of the given kind.
func New(kind Kind) (Entity, error) {
	switch kind {
	case KindToken:
		return &Token{}, nil
	case KindCove:
		return &Cove{}, nil
	case KindUserCoveStake:
		return &UserCoveStake{}, nil
	case KindUser:
		return &User{}, nil
	case KindPool:
		return &Pool{}, nil
	case KindHourlyPoolStatus:
		return &HourlyPoolStatus{}, nil
	case KindDailyPoolStatus:
		return &DailyPoolStatus{}, nil
	case KindSwap:
		return &Swap{}, nil
	case KindTransactionSource:
		return &TransactionSource{}, nil
	case KindCheckpoint:
		return &Checkpoint{}, nil
	default:
		return nil, fmt.Errorf("unknown entity kind %q", kind)
	}
}
