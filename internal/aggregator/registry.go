package aggregator

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"cove-indexer/internal/config"
	"cove-indexer/internal/entity"
)

// TokenInfo is the registry entry of one asset.
type TokenInfo struct {
	Type     entity.TailType
	Symbol   string
	Decimals int32
}

// Pinned reports whether metadata comes from configuration.
func (t TokenInfo) Pinned() bool {
	return t.Symbol != ""
}

// Registry classifies assets into ShortTail and LongTail.
type Registry struct {
	tokens            map[common.Address]TokenInfo
	unknownAsLongTail bool
}

// NewRegistry builds a registry from the tokens config section.
func NewRegistry(cfg config.TokensConfig) (*Registry, error) {
	r := &Registry{
		tokens:            make(map[common.Address]TokenInfo, len(cfg.ShortTail)+len(cfg.LongTail)),
		unknownAsLongTail: cfg.UnknownAsLongTail,
	}
	if err := r.add(entity.ShortTail, cfg.ShortTail); err != nil {
		return nil, err
	}
	if err := r.add(entity.LongTail, cfg.LongTail); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) add(tail entity.TailType, tokens []config.TokenConfig) error {
	for _, tok := range tokens {
		if !common.IsHexAddress(tok.Address) {
			return fmt.Errorf("registry: %q is not an address", tok.Address)
		}
		addr := common.HexToAddress(tok.Address)
		if prev, ok := r.tokens[addr]; ok && prev.Type != tail {
			return fmt.Errorf("registry: %s listed as %s and %s", addr.Hex(), prev.Type, tail)
		}
		r.tokens[addr] = TokenInfo{Type: tail, Symbol: tok.Symbol, Decimals: tok.Decimals}
	}
	return nil
}

// Classify returns the registry entry for addr. Unknown tokens resolve to
// fallback when it is a valid tail type, then to LongTail when configured,
// and are otherwise rejected.
func (r *Registry) Classify(addr common.Address, fallback entity.TailType) (TokenInfo, error) {
	if info, ok := r.tokens[addr]; ok {
		return info, nil
	}
	switch {
	case fallback.Valid():
		return TokenInfo{Type: fallback}, nil
	case r.unknownAsLongTail:
		return TokenInfo{Type: entity.LongTail}, nil
	default:
		return TokenInfo{}, fmt.Errorf("%w: %s", ErrUnclassifiedToken, addr.Hex())
	}
}
