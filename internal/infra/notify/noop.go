package notify

import (
	"context"

	"github.com/rs/zerolog"

	"hotspot-billing/internal/domain/model"
	"hotspot-billing/internal/domain/ports/adapter"
)

var _ adapter.Notifier = (*NoopNotifier)(nil)

// NoopNotifier logs instead of sending; used in dev mode and when no
// Telegram credentials are configured.
type NoopNotifier struct {
	log *zerolog.Logger
}

func NewNoopNotifier(logger *zerolog.Logger) *NoopNotifier {
	nLog := logger.With().Str("component", "NoopNotifier").Logger()
	return &NoopNotifier{log: &nLog}
}

func (n *NoopNotifier) NotifySaleCompleted(ctx context.Context, o *model.Order) error {
	n.log.Info().Str("order_id", o.ID).Msg("sale completed (notification suppressed)")
	return nil
}

func (n *NoopNotifier) NotifyProvisioningFailed(ctx context.Context, o *model.Order, cause error) error {
	n.log.Warn().Err(cause).Str("order_id", o.ID).Msg("paid but not delivered (notification suppressed)")
	return nil
}
