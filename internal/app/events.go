package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"cove-indexer/internal/chain"
	"cove-indexer/internal/event"
)

// FetchEventsOptions select the block range written by FetchEvents.
type FetchEventsOptions struct {
	From    uint64
	To      uint64
	OutPath string
}

// FetchEvents decodes Cove logs in [From, To] and writes them as a JSONL log
// suitable for replay. To == 0 means the latest confirmed block.
func (a *App) FetchEvents(ctx context.Context, opts FetchEventsOptions) error {
	if a.Config.Ethereum.RPCURL == "" || a.Config.Ethereum.CoveAddress == "" {
		return errors.New("ethereum.rpc_url and ethereum.cove_address must be configured")
	}

	dialer := chain.NewDialer(a.Config.Ethereum.RPCURL)
	defer dialer.Close()

	source, err := chain.NewLogSource(chain.LogSourceOptions{
		CoveAddress:   common.HexToAddress(a.Config.Ethereum.CoveAddress),
		Confirmations: a.Config.Ethereum.Confirmations,
	}, dialer, a.Logger)
	if err != nil {
		return err
	}

	to := opts.To
	if to == 0 {
		if to, err = source.Head(ctx); err != nil {
			return err
		}
	}
	if opts.From > to {
		return fmt.Errorf("--from %d is after --to %d", opts.From, to)
	}

	var out io.Writer = os.Stdout
	if opts.OutPath != "" && opts.OutPath != "-" {
		if err := ensureDir(opts.OutPath); err != nil {
			return err
		}
		file, err := os.Create(opts.OutPath)
		if err != nil {
			return err
		}
		defer file.Close()
		out = file
	}

	return writeEvents(ctx, source, opts.From, to, a.Config.Ethereum.BatchSize, out, a.Logger)
}

type rangeFetcher interface {
	Fetch(ctx context.Context, from, to uint64) ([]event.Envelope, error)
}

func writeEvents(ctx context.Context, source rangeFetcher, from, to, batch uint64, out io.Writer, logger zerolog.Logger) error {
	if batch == 0 {
		batch = 1
	}
	writer := event.NewWriter(out)
	total := 0
	for start := from; start <= to; start += batch {
		end := start + batch - 1
		if end > to {
			end = to
		}
		envs, err := source.Fetch(ctx, start, end)
		if err != nil {
			return err
		}
		for _, env := range envs {
			if err := writer.Write(env); err != nil {
				return err
			}
		}
		total += len(envs)
		if end == to {
			break
		}
	}
	logger.Info().Uint64("from", from).Uint64("to", to).Int("events", total).Msg("events written")
	return nil
}
