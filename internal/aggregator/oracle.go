package aggregator

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// CoveBalances is the position held by a cove for its long-tail asset.
type CoveBalances struct {
	PoolTokenAmount decimal.Decimal
	AssetBalance    decimal.Decimal
}

// CoveAssetQuote prices a long-tail asset against its cove.
type CoveAssetQuote struct {
	AssetPrice       decimal.Decimal
	AssetBalance     decimal.Decimal
	PoolTokenBalance decimal.Decimal
}

// TokenMetadata is the ERC-20 symbol and precision of a token.
type TokenMetadata struct {
	Symbol   string
	Decimals int32
}

// Oracle supplies balances and prices. Every method may block and every
// failure aborts the event being processed.
type Oracle interface {
	CoveBalances(ctx context.Context, asset common.Address, decimals int32) (CoveBalances, error)
	CoveAssetPrice(ctx context.Context, asset common.Address, decimals int32) (CoveAssetQuote, error)
	USDPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
	TokenBalance(ctx context.Context, token common.Address, decimals int32, holder common.Address) (decimal.Decimal, error)
	TokenMetadata(ctx context.Context, token common.Address) (TokenMetadata, error)
}

func nonNegative(values ...decimal.Decimal) bool {
	for _, v := range values {
		if v.IsNegative() {
			return false
		}
	}
	return true
}
