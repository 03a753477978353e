package adapter

import (
	"context"

	"hotspot-billing/internal/domain/model"
)

// Provisioner is the hex port for the external account-manager API. Errors
// always propagate to the reconciliation engine so it can revert a paid
// order back to pending instead of leaving it silently unprovisioned. The
// operations are idempotent on the provider side (create keyed by
// AccountSpec.ClientRef), which is what makes the revert-and-retry recovery
// path safe.
type Provisioner interface {
	CreateAccount(ctx context.Context, spec model.AccountSpec) (*model.Account, error)
	RenewAccount(ctx context.Context, accountID string, days int) (*model.Account, error)
	UpdateAccount(ctx context.Context, accountID string, update model.AccountUpdate) (*model.Account, error)

	// FindAccountByUsername returns nil, nil when the account does not exist.
	FindAccountByUsername(ctx context.Context, username string) (*model.Account, error)

	// ListAccounts is a read-only page over all accounts; used by the
	// background poller, never by the reconciliation engine.
	ListAccounts(ctx context.Context) ([]*model.Account, error)
}
