package chain

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"cove-indexer/internal/aggregator"
	"cove-indexer/internal/amount"
)

const (
	erc20ABIJSON = `[
  {"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
  {"constant":true,"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"stateMutability":"view","type":"function"},
  {"constant":true,"inputs":[],"name":"symbol","outputs":[{"name":"","type":"string"}],"stateMutability":"view","type":"function"}
]`
	erc20Bytes32SymbolABIJSON = `[{"constant":true,"inputs":[],"name":"symbol","outputs":[{"name":"","type":"bytes32"}],"stateMutability":"view","type":"function"}]`

	coveViewABIJSON = `[
  {"inputs":[{"name":"asset","type":"address"}],"name":"lastBalances","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
  {"inputs":[{"name":"asset","type":"address"}],"name":"poolTokenBalance","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"}
]`

	// poolTokenDecimals is the precision of the direct-exchange LP token.
	poolTokenDecimals int32 = 18
)

var (
	erc20ABI        abi.ABI
	erc20Bytes32ABI abi.ABI
	coveViewABI     abi.ABI
)

func init() {
	erc20ABI = mustParseABI("ERC-20", erc20ABIJSON)
	erc20Bytes32ABI = mustParseABI("ERC-20 bytes32", erc20Bytes32SymbolABIJSON)
	coveViewABI = mustParseABI("Cove", coveViewABIJSON)
}

func mustParseABI(name, raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic("failed to parse " + name + " ABI: " + err.Error())
	}
	return parsed
}

// USDPricer resolves USD reference prices by symbol.
type USDPricer interface {
	USDPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// OracleOptions parameterise the on-chain oracle.
type OracleOptions struct {
	CoveAddress     common.Address
	PoolTokenSymbol string
	Timeout         time.Duration
}

// ClientSource yields an RPC client, dialing on demand.
type ClientSource interface {
	Get(ctx context.Context) (Client, error)
}

// Oracle reads balances and prices from the Cove and ERC-20 contracts. Calls
// are made at the block pinned on the context when one is present.
type Oracle struct {
	opts    OracleOptions
	clients ClientSource
	prices  USDPricer
	logger  zerolog.Logger
}

// NewOracle builds an oracle.
func NewOracle(opts OracleOptions, clients ClientSource, prices USDPricer, logger zerolog.Logger) *Oracle {
	return &Oracle{
		opts:    opts,
		clients: clients,
		prices:  prices,
		logger:  logger.With().Str("component", "oracle").Logger(),
	}
}

// CoveBalances returns the pool tokens and asset balance held by the cove of asset.
func (o *Oracle) CoveBalances(ctx context.Context, asset common.Address, decimals int32) (aggregator.CoveBalances, error) {
	if o.opts.CoveAddress == (common.Address{}) {
		return aggregator.CoveBalances{}, errors.New("cove contract address not configured")
	}

	assetRaw, err := o.callUint(ctx, coveViewABI, o.opts.CoveAddress, "lastBalances", asset)
	if err != nil {
		return aggregator.CoveBalances{}, err
	}
	poolRaw, err := o.callUint(ctx, coveViewABI, o.opts.CoveAddress, "poolTokenBalance", asset)
	if err != nil {
		return aggregator.CoveBalances{}, err
	}
	return aggregator.CoveBalances{
		PoolTokenAmount: amount.FromRaw(poolRaw, poolTokenDecimals),
		AssetBalance:    amount.FromRaw(assetRaw, decimals),
	}, nil
}

// CoveAssetPrice values the asset by the pool tokens backing it.
func (o *Oracle) CoveAssetPrice(ctx context.Context, asset common.Address, decimals int32) (aggregator.CoveAssetQuote, error) {
	balances, err := o.CoveBalances(ctx, asset, decimals)
	if err != nil {
		return aggregator.CoveAssetQuote{}, err
	}

	quote := aggregator.CoveAssetQuote{
		AssetPrice:       decimal.Zero,
		AssetBalance:     balances.AssetBalance,
		PoolTokenBalance: balances.PoolTokenAmount,
	}
	if balances.AssetBalance.IsZero() {
		return quote, nil
	}

	poolTokenPrice, err := o.USDPrice(ctx, o.opts.PoolTokenSymbol)
	if err != nil {
		return aggregator.CoveAssetQuote{}, err
	}
	price, err := amount.Div(balances.PoolTokenAmount.Mul(poolTokenPrice), balances.AssetBalance)
	if err != nil {
		return aggregator.CoveAssetQuote{}, err
	}
	quote.AssetPrice = price
	return quote, nil
}

// USDPrice delegates to the configured price feed.
func (o *Oracle) USDPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if o.prices == nil {
		return decimal.Decimal{}, errors.New("price feed not configured")
	}
	return o.prices.USDPrice(ctx, symbol)
}

// TokenBalance returns holder's balance of token scaled by decimals.
func (o *Oracle) TokenBalance(ctx context.Context, token common.Address, decimals int32, holder common.Address) (decimal.Decimal, error) {
	raw, err := o.callUint(ctx, erc20ABI, token, "balanceOf", holder)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return amount.FromRaw(raw, decimals), nil
}

// TokenMetadata reads symbol and decimals, accepting bytes32 symbols.
func (o *Oracle) TokenMetadata(ctx context.Context, token common.Address) (aggregator.TokenMetadata, error) {
	out, err := o.call(ctx, erc20ABI, token, "decimals")
	if err != nil {
		return aggregator.TokenMetadata{}, err
	}
	decimals, ok := out[0].(uint8)
	if !ok {
		return aggregator.TokenMetadata{}, errors.New("failed to decode decimals output")
	}

	symbol, err := o.symbol(ctx, token)
	if err != nil {
		return aggregator.TokenMetadata{}, err
	}
	return aggregator.TokenMetadata{Symbol: symbol, Decimals: int32(decimals)}, nil
}

func (o *Oracle) symbol(ctx context.Context, token common.Address) (string, error) {
	out, err := o.call(ctx, erc20ABI, token, "symbol")
	if err == nil {
		if s, ok := out[0].(string); ok {
			return s, nil
		}
	}

	out, err = o.call(ctx, erc20Bytes32ABI, token, "symbol")
	if err != nil {
		return "", fmt.Errorf("read symbol: %w", err)
	}
	raw, ok := out[0].([32]byte)
	if !ok {
		return "", errors.New("failed to decode symbol output")
	}
	return string(bytes.TrimRight(raw[:], "\x00")), nil
}

func (o *Oracle) callUint(ctx context.Context, contract abi.ABI, to common.Address, method string, args ...any) (*big.Int, error) {
	out, err := o.call(ctx, contract, to, method, args...)
	if err != nil {
		return nil, err
	}
	v, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("failed to decode %s output", method)
	}
	return v, nil
}

func (o *Oracle) call(ctx context.Context, contract abi.ABI, to common.Address, method string, args ...any) ([]any, error) {
	timeout := o.opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := o.clients.Get(ctx)
	if err != nil {
		return nil, err
	}

	payload, err := contract.Pack(method, args...)
	if err != nil {
		return nil, err
	}
	res, err := client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: payload}, blockNumber(ctx))
	if err != nil {
		return nil, fmt.Errorf("call %s on %s: %w", method, to.Hex(), err)
	}
	outputs, err := contract.Unpack(method, res)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(outputs) != 1 {
		return nil, fmt.Errorf("unexpected %s response", method)
	}
	return outputs, nil
}

var _ aggregator.Oracle = (*Oracle)(nil)
