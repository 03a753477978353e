package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"   // created; awaiting a gateway outcome
	OrderStatusApproved  OrderStatus = "approved"  // gateway confirmed; provisioning ran or is running
	OrderStatusRejected  OrderStatus = "rejected"  // gateway reported rejected/cancelled
	OrderStatusCancelled OrderStatus = "cancelled" // admin/user cancel before any gateway outcome
)

// Order records a purchase, resale or renewal of a network-access account.
// The order id doubles as the gateway's external reference.
type Order struct {
	ID               string // UUID
	Subject          Subject
	Amount           decimal.Decimal // resolved by the pricing layer before creation; always > 0
	Status           OrderStatus
	GatewayPaymentID string // set once the gateway confirms; empty until then
	Provisioning     *ProvisioningResult
	PayerEmail       string
	PayerName        string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// ProvisioningResult is the outcome of the account-manager call for an
// approved order. It is recorded at most once per order.
type ProvisioningResult struct {
	AccountID string    `json:"account_id"`
	Username  string    `json:"username"`
	Password  string    `json:"password,omitempty"`
	DaysAdded int       `json:"days_added"`
	ExpiresAt time.Time `json:"expires_at"`
}

// AllowedTransition is the order status transition table. Transitions into
// approved additionally require a non-empty gateway payment id, which the
// store enforces. approved -> pending is the recovery path taken when
// provisioning fails after payment confirmation.
func AllowedTransition(from, to OrderStatus) bool {
	switch {
	case from == OrderStatusPending && to == OrderStatusApproved:
		return true
	case from == OrderStatusPending && to == OrderStatusRejected:
		return true
	case from == OrderStatusPending && to == OrderStatusCancelled:
		return true
	case from == OrderStatusRejected && to == OrderStatusApproved:
		// user retried payment after an earlier rejection
		return true
	case from == OrderStatusApproved && to == OrderStatusPending:
		// administrative override: paid but not delivered
		return true
	}
	return false
}

// Unresolved reports whether the order still awaits a final gateway outcome
// and is therefore a candidate for the reconciliation sweep.
func (o *Order) Unresolved() bool {
	return o.Status == OrderStatusPending || o.Status == OrderStatusRejected
}
