package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cove-indexer/internal/alerting"
)

// SimulateAlert 发送一条模拟的事件拒绝告警，用于验证告警通道。
func (a *App) SimulateAlert(ctx context.Context, reason string) error {
	if !a.Config.Alerting.Enabled {
		return errors.New("alerting 未启用")
	}

	notifier := a.newNotifier()
	if notifier == nil {
		return errors.New("未配置任何告警通道")
	}

	if reason == "" {
		reason = "lookup_failed"
	}
	now := time.Now().UTC()
	note := alerting.Notification{
		EventID:     fmt.Sprintf("simulated-%d", now.Unix()),
		EventType:   "swap",
		Timestamp:   now.Unix(),
		Reason:      reason,
		Error:       "simulated rejection",
		Environment: a.Config.App.Environment,
	}
	if err := notifier.Notify(ctx, note); err != nil {
		return fmt.Errorf("发送模拟告警失败: %w", err)
	}
	a.Logger.Info().Str("reason", reason).Msg("simulated alert sent")
	return nil
}
