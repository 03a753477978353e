package usecase

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"hotspot-billing/internal/domain"
	"hotspot-billing/internal/domain/model"
	"hotspot-billing/internal/domain/ports/adapter"
	"hotspot-billing/internal/domain/ports/repository"
)

func newTestLogger() *zerolog.Logger {
	l := zerolog.New(io.Discard)
	return &l
}

// memOrderRepo is an in-memory order store implementing the same
// compare-and-swap contract as the Postgres repo, used by unit tests.
type memOrderRepo struct {
	mu    sync.Mutex
	store map[string]*model.Order

	saveErr       error
	transitionErr error
	recordErr     error
}

func newMemOrderRepo() *memOrderRepo {
	return &memOrderRepo{store: make(map[string]*model.Order)}
}

func copyOrder(o *model.Order) *model.Order {
	cp := *o
	if o.Provisioning != nil {
		p := *o.Provisioning
		cp.Provisioning = &p
	}
	return &cp
}

func (m *memOrderRepo) Save(_ context.Context, _ repository.Tx, o *model.Order) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.store[o.ID] = copyOrder(o)
	return nil
}

func (m *memOrderRepo) FindByID(_ context.Context, _ repository.Tx, id string) (*model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.store[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return copyOrder(o), nil
}

func (m *memOrderRepo) FindByGatewayPaymentID(_ context.Context, _ repository.Tx, paymentID string) (*model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.store {
		if o.GatewayPaymentID == paymentID {
			return copyOrder(o), nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memOrderRepo) TransitionStatus(_ context.Context, _ repository.Tx, id string, newStatus model.OrderStatus, gatewayPaymentID string) (bool, error) {
	if m.transitionErr != nil {
		return false, m.transitionErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.store[id]
	if !ok {
		return false, domain.ErrNotFound
	}
	if newStatus == model.OrderStatusApproved && gatewayPaymentID == "" {
		return false, domain.ErrMissingPaymentID
	}
	if !model.AllowedTransition(o.Status, newStatus) {
		return false, nil
	}
	o.Status = newStatus
	if gatewayPaymentID != "" {
		o.GatewayPaymentID = gatewayPaymentID
	}
	o.UpdatedAt = time.Now()
	return true, nil
}

func (m *memOrderRepo) RecordProvisioning(_ context.Context, _ repository.Tx, id string, result *model.ProvisioningResult) (bool, error) {
	if m.recordErr != nil {
		return false, m.recordErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.store[id]
	if !ok {
		return false, domain.ErrNotFound
	}
	if o.Provisioning != nil {
		return false, nil
	}
	p := *result
	o.Provisioning = &p
	o.UpdatedAt = time.Now()
	return true, nil
}

func (m *memOrderRepo) ListUnresolvedBetween(_ context.Context, _ repository.Tx, updatedBefore, updatedAfter time.Time, limit int) ([]*model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Order
	for _, o := range m.store {
		if !o.Unresolved() {
			continue
		}
		if o.UpdatedAt.Before(updatedBefore) && o.UpdatedAt.After(updatedAfter) {
			out = append(out, copyOrder(o))
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// noopTxManager runs the function directly; the CAS contract carries the
// concurrency guarantees, not the transaction.
type noopTxManager struct{}

func (noopTxManager) WithTx(ctx context.Context, _ pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	return fn(ctx, nil)
}

type mockGateway struct {
	CreatePaymentLinkFunc               func(ctx context.Context, orderID, description string, amount decimal.Decimal, payerEmail, payerName string, back adapter.ReturnURLs) (*adapter.PaymentLink, error)
	FetchPaymentByIDFunc                func(ctx context.Context, paymentID string) (*adapter.Payment, error)
	FetchPaymentByExternalReferenceFunc func(ctx context.Context, orderID string) (*adapter.Payment, error)
	ParseWebhookFunc                    func(raw []byte) (*adapter.WebhookEvent, error)
}

func (m *mockGateway) Name() string { return "mock" }

func (m *mockGateway) CreatePaymentLink(ctx context.Context, orderID, description string, amount decimal.Decimal, payerEmail, payerName string, back adapter.ReturnURLs) (*adapter.PaymentLink, error) {
	if m.CreatePaymentLinkFunc != nil {
		return m.CreatePaymentLinkFunc(ctx, orderID, description, amount, payerEmail, payerName, back)
	}
	return &adapter.PaymentLink{PreferenceID: "pref-1", PayURL: "https://pay.example/pref-1"}, nil
}

func (m *mockGateway) FetchPaymentByID(ctx context.Context, paymentID string) (*adapter.Payment, error) {
	if m.FetchPaymentByIDFunc != nil {
		return m.FetchPaymentByIDFunc(ctx, paymentID)
	}
	return nil, domain.ErrNotFound
}

func (m *mockGateway) FetchPaymentByExternalReference(ctx context.Context, orderID string) (*adapter.Payment, error) {
	if m.FetchPaymentByExternalReferenceFunc != nil {
		return m.FetchPaymentByExternalReferenceFunc(ctx, orderID)
	}
	return nil, nil
}

func (m *mockGateway) ParseWebhook(raw []byte) (*adapter.WebhookEvent, error) {
	if m.ParseWebhookFunc != nil {
		return m.ParseWebhookFunc(raw)
	}
	return &adapter.WebhookEvent{}, nil
}

type mockProvisioner struct {
	mu          sync.Mutex
	createCalls int
	renewCalls  int

	CreateAccountFunc         func(ctx context.Context, spec model.AccountSpec) (*model.Account, error)
	RenewAccountFunc          func(ctx context.Context, accountID string, days int) (*model.Account, error)
	UpdateAccountFunc         func(ctx context.Context, accountID string, update model.AccountUpdate) (*model.Account, error)
	FindAccountByUsernameFunc func(ctx context.Context, username string) (*model.Account, error)
	ListAccountsFunc          func(ctx context.Context) ([]*model.Account, error)
}

func (m *mockProvisioner) CreateAccount(ctx context.Context, spec model.AccountSpec) (*model.Account, error) {
	m.mu.Lock()
	m.createCalls++
	m.mu.Unlock()
	if m.CreateAccountFunc != nil {
		return m.CreateAccountFunc(ctx, spec)
	}
	return &model.Account{ID: "acct-" + spec.Username, Username: spec.Username, PlanCode: spec.PlanCode, ExpiresAt: time.Now().Add(time.Duration(spec.Days) * 24 * time.Hour)}, nil
}

func (m *mockProvisioner) RenewAccount(ctx context.Context, accountID string, days int) (*model.Account, error) {
	m.mu.Lock()
	m.renewCalls++
	m.mu.Unlock()
	if m.RenewAccountFunc != nil {
		return m.RenewAccountFunc(ctx, accountID, days)
	}
	return &model.Account{ID: accountID, Username: "u-" + accountID, ExpiresAt: time.Now().Add(time.Duration(days) * 24 * time.Hour)}, nil
}

func (m *mockProvisioner) UpdateAccount(ctx context.Context, accountID string, update model.AccountUpdate) (*model.Account, error) {
	if m.UpdateAccountFunc != nil {
		return m.UpdateAccountFunc(ctx, accountID, update)
	}
	return &model.Account{ID: accountID}, nil
}

func (m *mockProvisioner) FindAccountByUsername(ctx context.Context, username string) (*model.Account, error) {
	if m.FindAccountByUsernameFunc != nil {
		return m.FindAccountByUsernameFunc(ctx, username)
	}
	return nil, nil
}

func (m *mockProvisioner) ListAccounts(ctx context.Context) ([]*model.Account, error) {
	if m.ListAccountsFunc != nil {
		return m.ListAccountsFunc(ctx)
	}
	return nil, nil
}

func (m *mockProvisioner) creates() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createCalls
}

type mockNotifier struct {
	mu       sync.Mutex
	sales    []string
	failures []string
	saleErr  error
	failErr  error
}

func (m *mockNotifier) NotifySaleCompleted(_ context.Context, o *model.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sales = append(m.sales, o.ID)
	return m.saleErr
}

func (m *mockNotifier) NotifyProvisioningFailed(_ context.Context, o *model.Order, _ error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, o.ID)
	return m.failErr
}

type mockPricing struct {
	ResolveFunc func(ctx context.Context, subject model.Subject, couponCode string) (decimal.Decimal, error)
}

func (m *mockPricing) Resolve(ctx context.Context, subject model.Subject, couponCode string) (decimal.Decimal, error) {
	if m.ResolveFunc != nil {
		return m.ResolveFunc(ctx, subject, couponCode)
	}
	return decimal.NewFromInt(100), nil
}

func newPendingOrder(id string, subject model.Subject) *model.Order {
	now := time.Now()
	return &model.Order{
		ID:        id,
		Subject:   subject,
		Amount:    decimal.NewFromInt(100),
		Status:    model.OrderStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
