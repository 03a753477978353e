package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound              = errors.New("entity not found")
	ErrInvalidArgument       = errors.New("invalid argument")
	ErrAlreadyExists         = errors.New("entity already exists")
	ErrInvalidTransition     = errors.New("order status transition not allowed")
	ErrAlreadyProvisioned    = errors.New("order already provisioned")
	ErrGatewayUnavailable    = errors.New("payment gateway unavailable")
	ErrGatewayRejected       = errors.New("payment rejected by gateway")
	ErrProvisioningFailed    = errors.New("account provisioning failed")
	ErrInvalidWebhookPayload = errors.New("unrecognized webhook payload")
	ErrMissingPaymentID      = errors.New("gateway payment id is empty")
	ErrLockNotAcquired       = errors.New("lock is held by another instance")

	// Store-level errors
	ErrOperationFailed    = errors.New("storage operation failed")
	ErrReadDatabaseRow    = errors.New("failed to read database row")
	ErrInvalidExecContext = errors.New("invalid executor context")
)
