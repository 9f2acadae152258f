package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/eliteGoblin/clickguard/internal/domain"
)

// LogEvents writes every notification on sub to logger until ctx is done
// or the subscription is closed. Blocked clicks log at debug level.
func LogEvents(ctx context.Context, sub *Subscription, logger *zap.Logger) {
	defer sub.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-sub.C():
			if !ok {
				return
			}
			switch p := n.Payload.(type) {
			case domain.BlockedEvent:
				logger.Debug("click blocked",
					zap.String("button", p.Button.String()),
					zap.Uint64("delta_ms", p.DeltaMs))
			case domain.FilterStatus:
				logger.Info("filter status changed",
					zap.Bool("running", p.Running),
					zap.Uint64("threshold_ms", p.ThresholdMs),
					zap.Uint64("blocked_clicks", p.BlockedClicks))
			default:
				logger.Debug("notification", zap.String("event", n.Event))
			}
		}
	}
}
