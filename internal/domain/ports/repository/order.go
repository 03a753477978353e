package repository

import (
	"context"
	"time"

	"hotspot-billing/internal/domain/model"
)

// OrderRepository is the only mutable shared state in the system. Every
// status mutation goes through the two guarded operations below; their
// compare-and-swap semantics are what makes concurrent confirmation
// attempts safe.
type OrderRepository interface {
	Save(ctx context.Context, tx Tx, o *model.Order) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.Order, error)
	FindByGatewayPaymentID(ctx context.Context, tx Tx, paymentID string) (*model.Order, error)

	// TransitionStatus moves the order into newStatus if and only if its
	// current status is an allowed source per model.AllowedTransition, and,
	// for transitions into approved, gatewayPaymentID is non-empty. It
	// reports whether THIS call performed the transition: an order already
	// in newStatus reports false with a nil error, which callers treat as
	// the idempotent already-handled case.
	TransitionStatus(ctx context.Context, tx Tx, id string, newStatus model.OrderStatus, gatewayPaymentID string) (bool, error)

	// RecordProvisioning stores the provisioning result at most once.
	// It reports false with a nil error if a result was already recorded.
	RecordProvisioning(ctx context.Context, tx Tx, id string, result *model.ProvisioningResult) (bool, error)

	// ListUnresolvedBetween returns orders in {pending, rejected} with
	// updatedAfter < updated_at < updatedBefore, oldest first. The sweep
	// uses this window to skip both fresh orders (still racing the return
	// redirect) and abandoned carts.
	ListUnresolvedBetween(ctx context.Context, tx Tx, updatedBefore, updatedAfter time.Time, limit int) ([]*model.Order, error)
}
