package chain

import (
	"context"
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Client is the subset of ethclient.Client used by the oracle and log source.
type Client interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	BlockNumber(ctx context.Context) (uint64, error)
	TransactionInBlock(ctx context.Context, blockHash common.Hash, index uint) (*types.Transaction, error)
	TransactionSender(ctx context.Context, tx *types.Transaction, block common.Hash, index uint) (common.Address, error)
}

var _ Client = (*ethclient.Client)(nil)

// Dialer lazily opens one shared RPC connection.
type Dialer struct {
	url string

	mu     sync.Mutex
	client *ethclient.Client
}

// NewDialer returns a Dialer for url.
func NewDialer(url string) *Dialer {
	return &Dialer{url: url}
}

// Get returns the shared client, dialing on first use.
func (d *Dialer) Get(ctx context.Context) (Client, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.client != nil {
		return d.client, nil
	}
	if d.url == "" {
		return nil, errors.New("ethereum rpc url not configured")
	}

	client, err := ethclient.DialContext(ctx, d.url)
	if err != nil {
		return nil, err
	}
	d.client = client
	return client, nil
}

// Close drops the connection if one was opened.
func (d *Dialer) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.client != nil {
		d.client.Close()
		d.client = nil
	}
}

type blockKey struct{}

// Block pins oracle reads to the state of a specific block.
type Block struct {
	Number    uint64
	Timestamp int64
}

// WithBlock returns a context whose oracle reads are made at b.
func WithBlock(ctx context.Context, b Block) context.Context {
	return context.WithValue(ctx, blockKey{}, b)
}

// BlockFrom returns the block pinned on ctx, if any.
func BlockFrom(ctx context.Context) (Block, bool) {
	b, ok := ctx.Value(blockKey{}).(Block)
	return b, ok
}

func blockNumber(ctx context.Context) *big.Int {
	b, ok := BlockFrom(ctx)
	if !ok || b.Number == 0 {
		return nil
	}
	return new(big.Int).SetUint64(b.Number)
}
