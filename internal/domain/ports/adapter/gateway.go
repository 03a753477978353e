package adapter

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusApproved  PaymentStatus = "approved"
	PaymentStatusRejected  PaymentStatus = "rejected"
	PaymentStatusCancelled PaymentStatus = "cancelled"
)

// Terminal reports whether the gateway will not change this status anymore.
func (s PaymentStatus) Terminal() bool {
	return s == PaymentStatusApproved || s == PaymentStatusRejected || s == PaymentStatusCancelled
}

// PaymentLink is a checkout preference created on the gateway.
type PaymentLink struct {
	PreferenceID string
	PayURL       string
}

// Payment is the gateway's view of a payment attempt.
type Payment struct {
	ID                string
	ExternalReference string // our order id
	Status            PaymentStatus
	Amount            decimal.Decimal
	ApprovedAt        time.Time
}

// WebhookEvent is the parsed form of a gateway notification. Recognized is
// false for every non-payment notification type; such events carry no other
// fields and must be acknowledged without action.
type WebhookEvent struct {
	Recognized       bool
	OrderID          string
	GatewayPaymentID string
	Status           PaymentStatus
}

type ReturnURLs struct {
	Success string
	Failure string
	Pending string
}

// PaymentGateway is the hex port for the external payment provider.
// Transport failures, 5xx responses and timeouts surface as
// domain.ErrGatewayUnavailable; callers must treat those as transient and
// never move an order on their account.
type PaymentGateway interface {
	Name() string

	// CreatePaymentLink registers a checkout preference carrying the order
	// id as external reference and returns the URL to send the payer to.
	CreatePaymentLink(ctx context.Context, orderID, description string, amount decimal.Decimal, payerEmail, payerName string, back ReturnURLs) (*PaymentLink, error)

	// FetchPaymentByID looks a payment up by the gateway's own id.
	FetchPaymentByID(ctx context.Context, paymentID string) (*Payment, error)

	// FetchPaymentByExternalReference returns the most recent payment made
	// against the given order id, or nil when none exists.
	FetchPaymentByExternalReference(ctx context.Context, orderID string) (*Payment, error)

	// ParseWebhook decodes a raw notification body. Malformed payloads
	// return domain.ErrInvalidWebhookPayload; payloads of an unrelated
	// notification type parse successfully with Recognized=false.
	ParseWebhook(raw []byte) (*WebhookEvent, error)
}
