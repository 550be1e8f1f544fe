package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"cove-indexer/internal/entity"
	"cove-indexer/internal/storage"
)

// Show prints one entity as JSON, or a table of pool rollup buckets.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	backend, err := a.openBackend(ctx)
	if err != nil {
		return err
	}
	defer backend.Close()

	return show(ctx, backend, opts, os.Stdout)
}

func show(ctx context.Context, backend storage.Backend, opts ShowOptions, out io.Writer) error {
	if opts.Interval != "" {
		return showStatuses(ctx, backend, opts, out)
	}
	if opts.Kind == "" || opts.ID == "" {
		return errors.New("either --kind with --id, or --interval, must be provided")
	}

	kind, err := entity.ParseKind(opts.Kind)
	if err != nil {
		return err
	}
	value, found, err := storage.Fetch(ctx, backend, kind, opts.ID)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%s %s not found", kind, opts.ID)
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(value)
}

func showStatuses(ctx context.Context, backend storage.Backend, opts ShowOptions, out io.Writer) error {
	kind, err := entity.StatusKind(opts.Interval)
	if err != nil {
		return err
	}
	from, to, err := unixRange(opts.From, opts.To)
	if err != nil {
		return err
	}

	statuses, err := storage.ListPoolStatuses(ctx, backend, kind, storage.ListOptions{
		From:  from,
		To:    to,
		Limit: opts.Limit,
		Desc:  true,
	})
	if err != nil {
		return err
	}
	if len(statuses) == 0 {
		fmt.Fprintln(out, "no buckets found")
		return nil
	}

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "From (UTC)\tTo (UTC)\tTxCount\tVolumeUSD\tAvgTrade")
	for _, st := range statuses {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%d\t%s\t%s\n",
			time.Unix(st.From, 0).UTC().Format(time.RFC3339),
			time.Unix(st.To, 0).UTC().Format(time.RFC3339),
			st.TxCount,
			formatDecimal(st.VolumeUSD, 2),
			formatDecimal(st.AvgTrade, 2),
		)
	}
	return writer.Flush()
}

func formatDecimal(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}
