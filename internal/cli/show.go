package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"cove-indexer/internal/app"
)

var (
	showKind     string
	showID       string
	showInterval string
	showFrom     string
	showTo       string
	showLimit    int
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Print one entity, or the latest pool rollup buckets",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			Kind:     showKind,
			ID:       showID,
			Interval: showInterval,
			Limit:    showLimit,
		}
		var err error
		if opts.From, err = parseTimeFlag("from", showFrom); err != nil {
			return err
		}
		if opts.To, err = parseTimeFlag("to", showTo); err != nil {
			return err
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().StringVar(&showKind, "kind", "", "Entity kind (Token, Cove, Pool, Swap, ...)")
	showCmd.Flags().StringVar(&showID, "id", "", "Entity id")
	showCmd.Flags().StringVar(&showInterval, "interval", "", "List pool buckets instead: hour or day")
	showCmd.Flags().StringVar(&showFrom, "from", "", "Bucket range start (RFC3339 or unix)")
	showCmd.Flags().StringVar(&showTo, "to", "", "Bucket range end (RFC3339 or unix)")
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of buckets to display")
}
