package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"

	"cove-indexer/internal/event"
)

// LogSourceOptions parameterise the Cove log reader.
type LogSourceOptions struct {
	CoveAddress   common.Address
	Confirmations uint64
}

// LogSource reads and decodes Cove logs in chain order.
type LogSource struct {
	opts    LogSourceOptions
	clients ClientSource
	decoder *event.Decoder
	logger  zerolog.Logger
}

// NewLogSource builds a log source.
func NewLogSource(opts LogSourceOptions, clients ClientSource, logger zerolog.Logger) (*LogSource, error) {
	decoder, err := event.NewDecoder()
	if err != nil {
		return nil, err
	}
	return &LogSource{
		opts:    opts,
		clients: clients,
		decoder: decoder,
		logger:  logger.With().Str("component", "log_source").Logger(),
	}, nil
}

// Head returns the newest block considered final.
func (l *LogSource) Head(ctx context.Context) (uint64, error) {
	client, err := l.clients.Get(ctx)
	if err != nil {
		return 0, err
	}
	head, err := client.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("block number: %w", err)
	}
	if head < l.opts.Confirmations {
		return 0, nil
	}
	return head - l.opts.Confirmations, nil
}

// Fetch returns the decoded Cove events in blocks [from, to], ordered by
// block and log index.
func (l *LogSource) Fetch(ctx context.Context, from, to uint64) ([]event.Envelope, error) {
	if l.opts.CoveAddress == (common.Address{}) {
		return nil, errors.New("cove contract address not configured")
	}
	if to < from {
		return nil, nil
	}

	client, err := l.clients.Get(ctx)
	if err != nil {
		return nil, err
	}

	logs, err := client.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{l.opts.CoveAddress},
		Topics:    [][]common.Hash{l.decoder.Topics()},
	})
	if err != nil {
		return nil, fmt.Errorf("filter logs %d-%d: %w", from, to, err)
	}

	sort.Slice(logs, func(i, j int) bool {
		if logs[i].BlockNumber != logs[j].BlockNumber {
			return logs[i].BlockNumber < logs[j].BlockNumber
		}
		return logs[i].Index < logs[j].Index
	})

	timestamps := make(map[uint64]int64)
	senders := make(map[common.Hash]common.Address)
	envelopes := make([]event.Envelope, 0, len(logs))

	for _, lg := range logs {
		if lg.Removed {
			continue
		}

		ts, ok := timestamps[lg.BlockNumber]
		if !ok {
			header, err := client.HeaderByNumber(ctx, new(big.Int).SetUint64(lg.BlockNumber))
			if err != nil {
				return nil, fmt.Errorf("header %d: %w", lg.BlockNumber, err)
			}
			ts = int64(header.Time)
			timestamps[lg.BlockNumber] = ts
		}

		sender, ok := senders[lg.TxHash]
		if !ok {
			sender, err = l.sender(ctx, client, lg)
			if err != nil {
				return nil, err
			}
			senders[lg.TxHash] = sender
		}

		env, err := l.decoder.Decode(lg, ts, sender)
		if errors.Is(err, event.ErrUnknownEvent) {
			l.logger.Warn().Str("tx", lg.TxHash.Hex()).Uint("log_index", lg.Index).Msg("skipping unknown log")
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("decode log %s-%d: %w", lg.TxHash.Hex(), lg.Index, err)
		}
		envelopes = append(envelopes, env)
	}

	l.logger.Debug().Uint64("from", from).Uint64("to", to).Int("events", len(envelopes)).Msg("logs fetched")
	return envelopes, nil
}

func (l *LogSource) sender(ctx context.Context, client Client, lg types.Log) (common.Address, error) {
	tx, err := client.TransactionInBlock(ctx, lg.BlockHash, lg.TxIndex)
	if err != nil {
		return common.Address{}, fmt.Errorf("transaction %s: %w", lg.TxHash.Hex(), err)
	}
	from, err := client.TransactionSender(ctx, tx, lg.BlockHash, lg.TxIndex)
	if err != nil {
		return common.Address{}, fmt.Errorf("sender of %s: %w", lg.TxHash.Hex(), err)
	}
	return from, nil
}
