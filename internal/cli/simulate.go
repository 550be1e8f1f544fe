package cli

import (
	"github.com/spf13/cobra"
)

var simulateReason string

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "发送一条模拟的事件拒绝告警",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().SimulateAlert(cmd.Context(), simulateReason)
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateReason, "reason", "lookup_failed", "告警原因标签")
}
