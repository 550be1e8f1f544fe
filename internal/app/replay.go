package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"cove-indexer/internal/storage"
)

// Replay feeds a decoded JSONL event log through the indexer. With DryRun the
// events are applied to an in-memory store and nothing is persisted or published.
func (a *App) Replay(ctx context.Context, opts ReplayOptions) error {
	if opts.EventsPath == "" {
		return errors.New("--events must be provided")
	}

	var input io.Reader
	if opts.EventsPath == "-" {
		input = os.Stdin
	} else {
		file, err := os.Open(opts.EventsPath)
		if err != nil {
			return fmt.Errorf("open event log: %w", err)
		}
		defer file.Close()
		input = file
	}

	var backend storage.Backend
	if opts.DryRun {
		a.Logger.Warn().Msg("replay dry-run: writes go to an in-memory store")
		backend = storage.NewMemory()
	} else {
		var err error
		backend, err = a.openBackend(ctx)
		if err != nil {
			return err
		}
	}

	rt, err := a.build(backend, false, !opts.DryRun)
	if err != nil {
		backend.Close()
		return err
	}
	defer rt.Close()

	stats, err := rt.indexer.Replay(ctx, input, opts.ContinueOnError)
	if err != nil {
		return err
	}
	if stats.Failed > 0 {
		return fmt.Errorf("%d events rejected, check the logs", stats.Failed)
	}
	return nil
}
