package cli

import (
	"github.com/spf13/cobra"

	"cove-indexer/internal/app"
)

var (
	replayEvents          string
	replayDryRun          bool
	replayContinueOnError bool
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay a decoded event log (JSONL) through the indexer",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Replay(cmd.Context(), app.ReplayOptions{
			EventsPath:      replayEvents,
			DryRun:          replayDryRun,
			ContinueOnError: replayContinueOnError,
		})
	},
}

func init() {
	replayCmd.Flags().StringVar(&replayEvents, "events", "", "Path to the JSONL event log, or - for stdin")
	replayCmd.Flags().BoolVar(&replayDryRun, "dry-run", false, "Apply events to an in-memory store only")
	replayCmd.Flags().BoolVar(&replayContinueOnError, "continue-on-error", false, "Keep going after a rejected event")
	_ = replayCmd.MarkFlagRequired("events")
}
