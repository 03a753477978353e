package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"hotspot-billing/internal/domain"
	"hotspot-billing/internal/domain/model"
	"hotspot-billing/internal/domain/ports/adapter"
	"hotspot-billing/internal/domain/ports/repository"
)

// Compile-time check
var _ OrderUseCase = (*orderUC)(nil)

type OrderUseCase interface {
	// Create resolves the price for the subject, persists a pending order
	// and returns it together with the gateway checkout URL.
	Create(ctx context.Context, subject model.Subject, payerEmail, payerName, couponCode string) (*model.Order, string, error)
	// Get loads an order by id.
	Get(ctx context.Context, id string) (*model.Order, error)
}

type orderUC struct {
	orders    repository.OrderRepository
	gateway   adapter.PaymentGateway
	pricing   adapter.PricingResolver
	returnURL string // base for the return-redirect endpoint; order id is appended
	log       *zerolog.Logger
}

func NewOrderUseCase(
	orders repository.OrderRepository,
	gateway adapter.PaymentGateway,
	pricing adapter.PricingResolver,
	returnURL string,
	logger *zerolog.Logger,
) *orderUC {
	ucLog := logger.With().Str("component", "OrderUC").Logger()
	return &orderUC{
		orders:    orders,
		gateway:   gateway,
		pricing:   pricing,
		returnURL: returnURL,
		log:       &ucLog,
	}
}

func (u *orderUC) Create(ctx context.Context, subject model.Subject, payerEmail, payerName, couponCode string) (*model.Order, string, error) {
	if subject == nil {
		return nil, "", domain.ErrInvalidArgument
	}
	if err := subject.Validate(); err != nil {
		return nil, "", err
	}

	// Pricing (coupons included) is resolved strictly before the order
	// exists; reconciliation never re-derives it.
	amount, err := u.pricing.Resolve(ctx, subject, couponCode)
	if err != nil {
		return nil, "", err
	}
	if !amount.IsPositive() {
		return nil, "", fmt.Errorf("%w: resolved amount must be positive", domain.ErrInvalidArgument)
	}

	now := time.Now()
	o := &model.Order{
		ID:         uuid.NewString(),
		Subject:    subject,
		Amount:     amount,
		Status:     model.OrderStatusPending,
		PayerEmail: payerEmail,
		PayerName:  payerName,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	back := adapter.ReturnURLs{
		Success: u.returnURL + "/" + o.ID,
		Failure: u.returnURL + "/" + o.ID,
		Pending: u.returnURL + "/" + o.ID,
	}
	link, err := u.gateway.CreatePaymentLink(ctx, o.ID, describeSubject(subject), amount, payerEmail, payerName, back)
	if err != nil {
		return nil, "", err
	}

	if err := u.orders.Save(ctx, nil, o); err != nil {
		return nil, "", err
	}
	u.log.Info().Str("order_id", o.ID).Str("kind", string(subject.Kind())).Str("amount", amount.String()).Msg("order created")
	return o, link.PayURL, nil
}

func (u *orderUC) Get(ctx context.Context, id string) (*model.Order, error) {
	return u.orders.FindByID(ctx, nil, id)
}

func describeSubject(s model.Subject) string {
	switch v := s.(type) {
	case model.NewPurchase:
		return fmt.Sprintf("Hotspot access %s, %d days", v.PlanCode, v.Days)
	case model.ResellerPurchase:
		return fmt.Sprintf("Reseller access %s, %d days, %d devices", v.PlanCode, v.Days, v.DeviceLimit)
	case model.Renewal:
		return fmt.Sprintf("Renewal %s, %d days", v.Username, v.Days)
	case model.ResellerRenewal:
		return fmt.Sprintf("Reseller renewal %s, %d days", v.Username, v.Days)
	default:
		return "Hotspot order"
	}
}
