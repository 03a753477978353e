package adapter

import (
	"context"

	"github.com/shopspring/decimal"

	"hotspot-billing/internal/domain/model"
)

// PricingResolver computes the amount due for a subject before the order is
// created. Coupons, sponsor discounts and per-reseller overrides are all
// resolved behind this port; the engine only ever provisions for the amount
// already recorded on the order.
type PricingResolver interface {
	Resolve(ctx context.Context, subject model.Subject, couponCode string) (decimal.Decimal, error)
}
