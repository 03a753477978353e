// Package pricing resolves order amounts from a config-backed price table.
package pricing

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"hotspot-billing/internal/config"
	"hotspot-billing/internal/domain"
	"hotspot-billing/internal/domain/model"
	"hotspot-billing/internal/domain/ports/adapter"
)

var _ adapter.PricingResolver = (*StaticResolver)(nil)

// StaticResolver prices purchases from a per-plan table and renewals from a
// daily rate, with optional percentage coupons. Prices are loaded once at
// startup; changing them requires a restart.
type StaticResolver struct {
	plans     map[string]decimal.Decimal
	dailyRate decimal.Decimal
	coupons   map[string]int
	log       *zerolog.Logger
}

func NewStaticResolver(cfg config.PricingConfig, logger *zerolog.Logger) (*StaticResolver, error) {
	l := logger.With().Str("component", "Pricing").Logger()
	plans := make(map[string]decimal.Decimal, len(cfg.Plans))
	for code, raw := range cfg.Plans {
		p, err := decimal.NewFromString(raw)
		if err != nil || !p.IsPositive() {
			return nil, fmt.Errorf("pricing: invalid price %q for plan %q", raw, code)
		}
		plans[code] = p
	}
	rate := decimal.Zero
	if cfg.RenewalDailyRate != "" {
		var err error
		rate, err = decimal.NewFromString(cfg.RenewalDailyRate)
		if err != nil || !rate.IsPositive() {
			return nil, fmt.Errorf("pricing: invalid renewal_daily_rate %q", cfg.RenewalDailyRate)
		}
	}
	return &StaticResolver{plans: plans, dailyRate: rate, coupons: cfg.Coupons, log: &l}, nil
}

func (r *StaticResolver) Resolve(_ context.Context, subject model.Subject, couponCode string) (decimal.Decimal, error) {
	var amount decimal.Decimal
	switch s := subject.(type) {
	case model.NewPurchase:
		p, ok := r.plans[s.PlanCode]
		if !ok {
			return decimal.Zero, fmt.Errorf("%w: unknown plan %q", domain.ErrInvalidArgument, s.PlanCode)
		}
		amount = p
	case model.ResellerPurchase:
		p, ok := r.plans[s.PlanCode]
		if !ok {
			return decimal.Zero, fmt.Errorf("%w: unknown plan %q", domain.ErrInvalidArgument, s.PlanCode)
		}
		amount = p
	case model.Renewal:
		amount = r.renewalPrice(s.Days)
	case model.ResellerRenewal:
		amount = r.renewalPrice(s.Days)
	default:
		return decimal.Zero, fmt.Errorf("%w: unpriceable subject kind %q", domain.ErrInvalidArgument, subject.Kind())
	}
	if !amount.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: no price configured for %q", domain.ErrInvalidArgument, subject.Kind())
	}

	if couponCode != "" {
		pct, ok := r.coupons[couponCode]
		if !ok || pct <= 0 || pct >= 100 {
			r.log.Warn().Str("coupon", couponCode).Msg("ignoring unknown or invalid coupon")
		} else {
			factor := decimal.NewFromInt(int64(100 - pct)).Div(decimal.NewFromInt(100))
			amount = amount.Mul(factor).Round(2)
		}
	}
	return amount, nil
}

func (r *StaticResolver) renewalPrice(days int) decimal.Decimal {
	return r.dailyRate.Mul(decimal.NewFromInt(int64(days)))
}
