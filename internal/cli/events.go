package cli

import (
	"github.com/spf13/cobra"

	"cove-indexer/internal/app"
)

var (
	fetchFrom uint64
	fetchTo   uint64
	fetchOut  string
)

var fetchEventsCmd = &cobra.Command{
	Use:   "fetch-events",
	Short: "Decode Cove logs from the chain into a JSONL event log",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().FetchEvents(cmd.Context(), app.FetchEventsOptions{
			From:    fetchFrom,
			To:      fetchTo,
			OutPath: fetchOut,
		})
	},
}

func init() {
	fetchEventsCmd.Flags().Uint64Var(&fetchFrom, "from", 0, "First block (inclusive)")
	fetchEventsCmd.Flags().Uint64Var(&fetchTo, "to", 0, "Last block (inclusive, 0 = latest confirmed)")
	fetchEventsCmd.Flags().StringVar(&fetchOut, "out", "-", "Output path, - for stdout")
}
