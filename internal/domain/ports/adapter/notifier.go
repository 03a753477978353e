package adapter

import (
	"context"

	"hotspot-billing/internal/domain/model"
)

// Notifier delivers outcome messages after the order lifecycle has already
// been decided. Failures are logged by the caller and never affect order
// state.
type Notifier interface {
	// NotifySaleCompleted announces a provisioned order to the buyer channel.
	NotifySaleCompleted(ctx context.Context, o *model.Order) error
	// NotifyProvisioningFailed alerts operators about a paid but
	// undelivered order.
	NotifyProvisioningFailed(ctx context.Context, o *model.Order, cause error) error
}
