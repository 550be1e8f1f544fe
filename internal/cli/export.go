package cli

import (
	"github.com/spf13/cobra"

	"cove-indexer/internal/app"
)

var (
	exportInterval  string
	exportFrom      string
	exportTo        string
	exportPNGPath   string
	exportCSVPath   string
	exportMaxPoints int
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export pool rollup buckets as CSV and/or PNG chart",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.ExportOptions{
			Interval:  exportInterval,
			PNGPath:   exportPNGPath,
			CSVPath:   exportCSVPath,
			MaxPoints: exportMaxPoints,
		}

		var err error
		if opts.From, err = parseTimeFlag("from", exportFrom); err != nil {
			return err
		}
		if opts.To, err = parseTimeFlag("to", exportTo); err != nil {
			return err
		}

		return getApp().Export(cmd.Context(), opts)
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportInterval, "interval", "hour", "Bucket interval: hour or day")
	exportCmd.Flags().StringVar(&exportFrom, "from", "", "Start timestamp (RFC3339 or unix, inclusive)")
	exportCmd.Flags().StringVar(&exportTo, "to", "", "End timestamp (RFC3339 or unix, inclusive)")
	exportCmd.Flags().StringVar(&exportPNGPath, "png", "", "Path to write PNG chart")
	exportCmd.Flags().StringVar(&exportCSVPath, "csv", "", "Path to write CSV data")
	exportCmd.Flags().IntVar(&exportMaxPoints, "max-points", 0, "Maximum data points to export (defaults to config)")
}
