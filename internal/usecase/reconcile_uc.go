package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"hotspot-billing/internal/domain"
	"hotspot-billing/internal/domain/model"
	"hotspot-billing/internal/domain/ports/adapter"
	"hotspot-billing/internal/domain/ports/repository"
	"hotspot-billing/internal/infra/logging"
	"hotspot-billing/internal/infra/metrics"
)

// Compile-time check
var _ ReconcileUseCase = (*reconcileUC)(nil)

// ReconcileUseCase turns a gateway outcome (or the lack of one) into a
// guaranteed-once provisioning action. All entry points converge on the same
// confirm-and-provision path; at-most-once provisioning rests on the order
// store's compare-and-swap operations, not on mutual exclusion here.
type ReconcileUseCase interface {
	// ConfirmAndProvision is the single authoritative operation: approve the
	// order under CAS and run the provisioning side effect for its subject.
	// Losing a race or finding the order already provisioned returns the
	// order unchanged with a nil error.
	ConfirmAndProvision(ctx context.Context, orderID, gatewayPaymentID string) (*model.Order, error)

	// HandleWebhook parses a raw gateway notification and dispatches it.
	HandleWebhook(ctx context.Context, raw []byte) error

	// VerifyReturn actively resolves a pending order against the gateway,
	// as used by the return-redirect and status endpoints.
	VerifyReturn(ctx context.Context, orderID string) (*model.Order, error)

	// ReconcileOrder resolves one unresolved order during the sweep.
	ReconcileOrder(ctx context.Context, o *model.Order) error

	// ForceReprocess re-runs confirm-and-provision with the order's last
	// known gateway payment id; manual recovery after a provisioning failure.
	ForceReprocess(ctx context.Context, orderID string) (*model.Order, error)
}

type reconcileUC struct {
	orders   repository.OrderRepository
	tm       repository.TransactionManager
	gateway  adapter.PaymentGateway
	accounts adapter.Provisioner
	notifier adapter.Notifier
	log      *zerolog.Logger
}

func NewReconcileUseCase(
	orders repository.OrderRepository,
	tm repository.TransactionManager,
	gateway adapter.PaymentGateway,
	accounts adapter.Provisioner,
	notifier adapter.Notifier,
	logger *zerolog.Logger,
) *reconcileUC {
	ucLog := logger.With().Str("component", "ReconcileUC").Logger()
	return &reconcileUC{
		orders:   orders,
		tm:       tm,
		gateway:  gateway,
		accounts: accounts,
		notifier: notifier,
		log:      &ucLog,
	}
}

func (u *reconcileUC) ConfirmAndProvision(ctx context.Context, orderID, gatewayPaymentID string) (*model.Order, error) {
	return u.confirmAndProvision(ctx, "admin", orderID, gatewayPaymentID)
}

// confirmAndProvision claims the order under CAS, runs the provisioning side
// effect, and records the result at most once. On provisioning failure the
// order reverts to pending so a later retry (webhook redelivery, sweep
// cycle, admin force) can attempt delivery again.
func (u *reconcileUC) confirmAndProvision(ctx context.Context, entry, orderID, gatewayPaymentID string) (*model.Order, error) {
	defer logging.TraceDuration(logging.With(ctx, u.log), "ReconcileUC.ConfirmAndProvision")()
	start := time.Now()
	out, err := u.doConfirmAndProvision(ctx, entry, orderID, gatewayPaymentID)
	metrics.ObserveReconcile(entry, outcomeLabel(out, err), time.Since(start))
	return out, err
}

func (u *reconcileUC) doConfirmAndProvision(ctx context.Context, entry, orderID, gatewayPaymentID string) (*model.Order, error) {
	var (
		order   *model.Order
		claimed bool
	)
	err := u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		o, err := u.orders.FindByID(ctx, tx, orderID)
		if err != nil {
			return err
		}
		order = o
		if o.Provisioning != nil {
			// already delivered; idempotent short-circuit
			return nil
		}
		if gatewayPaymentID == "" {
			return domain.ErrMissingPaymentID
		}
		ok, err := u.orders.TransitionStatus(ctx, tx, orderID, model.OrderStatusApproved, gatewayPaymentID)
		if err != nil {
			return err
		}
		claimed = ok
		if ok {
			o.Status = model.OrderStatusApproved
			o.GatewayPaymentID = gatewayPaymentID
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !claimed {
		// Either already provisioned, or another entry point won the CAS and
		// owns the side effect now.
		u.log.Debug().Str("order_id", orderID).Str("entry", entry).Msg("order already handled")
		return order, nil
	}

	result, err := u.provisionSubject(ctx, order)
	if err != nil {
		if !errors.Is(err, domain.ErrProvisioningFailed) {
			err = fmt.Errorf("%w: %v", domain.ErrProvisioningFailed, err)
		}
		u.revertToPending(ctx, order, err)
		return order, err
	}

	recorded, recErr := u.orders.RecordProvisioning(ctx, nil, orderID, result)
	if recErr != nil {
		// The account exists remotely but we could not record it. Revert so
		// the next attempt replays; provisioning primitives are idempotent
		// on the order id, so the replay upserts instead of duplicating.
		u.revertToPending(ctx, order, recErr)
		return order, fmt.Errorf("%w: record result: %v", domain.ErrProvisioningFailed, recErr)
	}
	if !recorded {
		u.log.Warn().Str("order_id", orderID).Msg("provisioning result already recorded by a concurrent attempt")
		return u.orders.FindByID(ctx, nil, orderID)
	}
	order.Provisioning = result

	// Notification failures never undo a completed sale.
	if u.notifier != nil {
		if err := u.notifier.NotifySaleCompleted(ctx, order); err != nil {
			u.log.Error().Err(err).Str("order_id", orderID).Msg("sale-completed notification failed")
		}
	}
	u.log.Info().Str("order_id", orderID).Str("entry", entry).Str("account_id", result.AccountID).Msg("order provisioned")
	return order, nil
}

func (u *reconcileUC) revertToPending(ctx context.Context, order *model.Order, cause error) {
	metrics.IncProvisioningRevert()
	u.log.Error().Err(cause).Str("order_id", order.ID).Msg("provisioning failed after payment confirmation; reverting order to pending")
	if _, err := u.orders.TransitionStatus(ctx, nil, order.ID, model.OrderStatusPending, ""); err != nil {
		u.log.Error().Err(err).Str("order_id", order.ID).Msg("revert to pending failed; order stuck approved without provisioning")
	} else {
		order.Status = model.OrderStatusPending
	}
	if u.notifier != nil {
		if err := u.notifier.NotifyProvisioningFailed(ctx, order, cause); err != nil {
			u.log.Error().Err(err).Str("order_id", order.ID).Msg("paid-but-not-delivered alert failed")
		}
	}
}

// provisionSubject runs the side effect appropriate to the order's subject
// variant. Only the payload construction differs per variant; the
// surrounding state machine is shared.
func (u *reconcileUC) provisionSubject(ctx context.Context, o *model.Order) (*model.ProvisioningResult, error) {
	switch s := o.Subject.(type) {
	case model.NewPurchase:
		acct, err := u.accounts.CreateAccount(ctx, model.AccountSpec{
			Username:  s.Username,
			Password:  s.Password,
			PlanCode:  s.PlanCode,
			Days:      s.Days,
			ClientRef: o.ID,
		})
		if err != nil {
			return nil, err
		}
		return &model.ProvisioningResult{
			AccountID: acct.ID,
			Username:  acct.Username,
			Password:  s.Password,
			DaysAdded: s.Days,
			ExpiresAt: acct.ExpiresAt,
		}, nil

	case model.ResellerPurchase:
		acct, err := u.accounts.CreateAccount(ctx, model.AccountSpec{
			Username:    s.Username,
			Password:    s.Password,
			PlanCode:    s.PlanCode,
			Days:        s.Days,
			DeviceLimit: s.DeviceLimit,
			Reseller:    true,
			ClientRef:   o.ID,
		})
		if err != nil {
			return nil, err
		}
		return &model.ProvisioningResult{
			AccountID: acct.ID,
			Username:  acct.Username,
			Password:  s.Password,
			DaysAdded: s.Days,
			ExpiresAt: acct.ExpiresAt,
		}, nil

	case model.Renewal:
		acct, err := u.accounts.RenewAccount(ctx, s.AccountID, s.Days)
		if err != nil {
			return nil, err
		}
		return &model.ProvisioningResult{
			AccountID: acct.ID,
			Username:  acct.Username,
			DaysAdded: s.Days,
			ExpiresAt: acct.ExpiresAt,
		}, nil

	case model.ResellerRenewal:
		// An upgrade needs the current remote state to compute the diff.
		current, err := u.accounts.FindAccountByUsername(ctx, s.Username)
		if err != nil {
			return nil, err
		}
		if current == nil {
			return nil, fmt.Errorf("%w: reseller account %q not found", domain.ErrProvisioningFailed, s.Username)
		}
		acct, err := u.accounts.RenewAccount(ctx, s.AccountID, s.Days)
		if err != nil {
			return nil, err
		}
		if s.DeviceLimit > 0 && s.DeviceLimit != current.DeviceLimit {
			limit := s.DeviceLimit
			if acct, err = u.accounts.UpdateAccount(ctx, s.AccountID, model.AccountUpdate{DeviceLimit: &limit}); err != nil {
				return nil, err
			}
		}
		return &model.ProvisioningResult{
			AccountID: acct.ID,
			Username:  acct.Username,
			DaysAdded: s.Days,
			ExpiresAt: acct.ExpiresAt,
		}, nil

	default:
		return nil, fmt.Errorf("%w: unknown subject kind", domain.ErrInvalidArgument)
	}
}

func (u *reconcileUC) HandleWebhook(ctx context.Context, raw []byte) error {
	evt, err := u.gateway.ParseWebhook(raw)
	if err != nil {
		return err
	}
	if !evt.Recognized {
		u.log.Debug().Msg("non-payment webhook ignored")
		return nil
	}
	if evt.GatewayPaymentID == "" {
		// Never provision without a payment id to pin the approval to.
		u.log.Warn().Str("order_id", evt.OrderID).Msg("payment webhook without payment id dropped")
		return nil
	}

	orderID, status := evt.OrderID, evt.Status
	if orderID == "" || !status.Terminal() {
		// The notification only names the payment; ask the gateway for the
		// authoritative outcome.
		p, err := u.gateway.FetchPaymentByID(ctx, evt.GatewayPaymentID)
		if err != nil {
			return err
		}
		orderID, status = p.ExternalReference, p.Status
		if orderID == "" {
			u.log.Warn().Str("payment_id", evt.GatewayPaymentID).Msg("gateway payment carries no external reference")
			return nil
		}
	}

	switch status {
	case adapter.PaymentStatusApproved:
		_, err := u.confirmAndProvision(ctx, "webhook", orderID, evt.GatewayPaymentID)
		return err
	case adapter.PaymentStatusRejected, adapter.PaymentStatusCancelled:
		return u.markRejected(ctx, orderID)
	default:
		u.log.Debug().Str("order_id", orderID).Str("status", string(status)).Msg("webhook reports non-final payment status")
		return nil
	}
}

func (u *reconcileUC) VerifyReturn(ctx context.Context, orderID string) (*model.Order, error) {
	o, err := u.orders.FindByID(ctx, nil, orderID)
	if err != nil {
		return nil, err
	}
	if o.Provisioning != nil || !o.Unresolved() {
		return o, nil
	}

	p, err := u.gateway.FetchPaymentByExternalReference(ctx, orderID)
	if err != nil {
		// Transient; the caller degrades to "still processing".
		return o, err
	}
	if p == nil {
		return o, nil
	}
	switch p.Status {
	case adapter.PaymentStatusApproved:
		return u.confirmAndProvision(ctx, "redirect", orderID, p.ID)
	case adapter.PaymentStatusRejected, adapter.PaymentStatusCancelled:
		if err := u.markRejected(ctx, orderID); err != nil {
			return o, err
		}
		return u.orders.FindByID(ctx, nil, orderID)
	default:
		return o, nil
	}
}

func (u *reconcileUC) ReconcileOrder(ctx context.Context, o *model.Order) error {
	p, err := u.gateway.FetchPaymentByExternalReference(ctx, o.ID)
	if err != nil {
		return err
	}
	if p == nil {
		return nil
	}
	switch p.Status {
	case adapter.PaymentStatusApproved:
		_, err := u.confirmAndProvision(ctx, "sweep", o.ID, p.ID)
		return err
	case adapter.PaymentStatusRejected, adapter.PaymentStatusCancelled:
		if o.Status == model.OrderStatusPending {
			return u.markRejected(ctx, o.ID)
		}
		return nil
	default:
		return nil
	}
}

func (u *reconcileUC) ForceReprocess(ctx context.Context, orderID string) (*model.Order, error) {
	o, err := u.orders.FindByID(ctx, nil, orderID)
	if err != nil {
		return nil, err
	}
	if o.GatewayPaymentID == "" {
		return nil, domain.ErrMissingPaymentID
	}
	return u.confirmAndProvision(ctx, "admin", orderID, o.GatewayPaymentID)
}

func (u *reconcileUC) markRejected(ctx context.Context, orderID string) error {
	ok, err := u.orders.TransitionStatus(ctx, nil, orderID, model.OrderStatusRejected, "")
	if err != nil {
		return err
	}
	if ok {
		u.log.Info().Str("order_id", orderID).Msg("order rejected per gateway outcome")
	}
	return nil
}

func outcomeLabel(o *model.Order, err error) string {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrGatewayUnavailable):
		return "gateway_unavailable"
	case errors.Is(err, domain.ErrProvisioningFailed):
		return "provisioning_failed"
	case err != nil:
		return "error"
	case o != nil && o.Provisioning != nil:
		return "provisioned"
	default:
		return "already_done"
	}
}
