package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"hotspot-billing/internal/config"
	"hotspot-billing/internal/domain"
	"hotspot-billing/internal/domain/model"
)

type mockOrderUC struct {
	CreateFunc func(ctx context.Context, subject model.Subject, payerEmail, payerName, couponCode string) (*model.Order, string, error)
	GetFunc    func(ctx context.Context, id string) (*model.Order, error)
}

func (m *mockOrderUC) Create(ctx context.Context, subject model.Subject, payerEmail, payerName, couponCode string) (*model.Order, string, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, subject, payerEmail, payerName, couponCode)
	}
	return nil, "", errors.New("not configured")
}

func (m *mockOrderUC) Get(ctx context.Context, id string) (*model.Order, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, id)
	}
	return nil, domain.ErrNotFound
}

type mockReconcileUC struct {
	HandleWebhookFunc       func(ctx context.Context, raw []byte) error
	VerifyReturnFunc        func(ctx context.Context, orderID string) (*model.Order, error)
	ForceReprocessFunc      func(ctx context.Context, orderID string) (*model.Order, error)
	ConfirmAndProvisionFunc func(ctx context.Context, orderID, gatewayPaymentID string) (*model.Order, error)
}

func (m *mockReconcileUC) ConfirmAndProvision(ctx context.Context, orderID, gatewayPaymentID string) (*model.Order, error) {
	if m.ConfirmAndProvisionFunc != nil {
		return m.ConfirmAndProvisionFunc(ctx, orderID, gatewayPaymentID)
	}
	return nil, errors.New("not configured")
}

func (m *mockReconcileUC) HandleWebhook(ctx context.Context, raw []byte) error {
	if m.HandleWebhookFunc != nil {
		return m.HandleWebhookFunc(ctx, raw)
	}
	return nil
}

func (m *mockReconcileUC) VerifyReturn(ctx context.Context, orderID string) (*model.Order, error) {
	if m.VerifyReturnFunc != nil {
		return m.VerifyReturnFunc(ctx, orderID)
	}
	return nil, domain.ErrNotFound
}

func (m *mockReconcileUC) ReconcileOrder(context.Context, *model.Order) error { return nil }

func (m *mockReconcileUC) ForceReprocess(ctx context.Context, orderID string) (*model.Order, error) {
	if m.ForceReprocessFunc != nil {
		return m.ForceReprocessFunc(ctx, orderID)
	}
	return nil, errors.New("not configured")
}

func newTestServer(orders *mockOrderUC, reconcile *mockReconcileUC) *Server {
	l := zerolog.New(io.Discard)
	return NewServer(config.WebConfig{
		Port:        0,
		AdminAPIKey: "admin-key",
		RetryDelay:  time.Millisecond,
	}, orders, reconcile, &l)
}

func provisionedOrder(id string) *model.Order {
	return &model.Order{
		ID:               id,
		Subject:          model.NewPurchase{Username: "alice", PlanCode: "basic", Days: 30},
		Amount:           decimal.NewFromInt(100),
		Status:           model.OrderStatusApproved,
		GatewayPaymentID: "pay-1",
		Provisioning: &model.ProvisioningResult{
			AccountID: "acct-1",
			Username:  "alice",
			Password:  "pw",
			DaysAdded: 30,
			ExpiresAt: time.Now().Add(30 * 24 * time.Hour),
		},
	}
}

func pendingOrder(id string) *model.Order {
	return &model.Order{
		ID:      id,
		Subject: model.NewPurchase{Username: "alice", PlanCode: "basic", Days: 30},
		Amount:  decimal.NewFromInt(100),
		Status:  model.OrderStatusPending,
	}
}

func TestWebhookAlwaysAcknowledges(t *testing.T) {
	cases := []struct {
		name string
		err  error
	}{
		{"processed", nil},
		{"malformed payload", domain.ErrInvalidWebhookPayload},
		{"gateway outage", domain.ErrGatewayUnavailable},
		{"provisioning failure", domain.ErrProvisioningFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newTestServer(&mockOrderUC{}, &mockReconcileUC{
				HandleWebhookFunc: func(context.Context, []byte) error { return tc.err },
			})
			req := httptest.NewRequest(http.MethodPost, "/webhook/payments", strings.NewReader(`{"type":"payment"}`))
			rec := httptest.NewRecorder()
			s.router.ServeHTTP(rec, req)

			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200 regardless of processing outcome", rec.Code)
			}
		})
	}
}

func TestReturnPage(t *testing.T) {
	t.Run("provisioned order renders the result", func(t *testing.T) {
		s := newTestServer(&mockOrderUC{}, &mockReconcileUC{
			VerifyReturnFunc: func(_ context.Context, id string) (*model.Order, error) {
				return provisionedOrder(id), nil
			},
		})
		req := httptest.NewRequest(http.MethodGet, "/return/o1", nil)
		rec := httptest.NewRecorder()
		s.router.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		body := rec.Body.String()
		for _, want := range []string{"alice", "30", "approved"} {
			if !strings.Contains(body, want) {
				t.Errorf("result page missing %q", want)
			}
		}
	})

	t.Run("pending order redirects to itself with a bumped attempt", func(t *testing.T) {
		s := newTestServer(&mockOrderUC{}, &mockReconcileUC{
			VerifyReturnFunc: func(_ context.Context, id string) (*model.Order, error) {
				return pendingOrder(id), nil
			},
		})
		req := httptest.NewRequest(http.MethodGet, "/return/o1?attempt=1", nil)
		rec := httptest.NewRecorder()
		s.router.ServeHTTP(rec, req)

		if rec.Code != http.StatusSeeOther {
			t.Fatalf("status = %d, want 303", rec.Code)
		}
		if loc := rec.Header().Get("Location"); loc != "/return/o1?attempt=2" {
			t.Fatalf("Location = %q", loc)
		}
	})

	t.Run("attempts stop after the cap", func(t *testing.T) {
		s := newTestServer(&mockOrderUC{}, &mockReconcileUC{
			VerifyReturnFunc: func(_ context.Context, id string) (*model.Order, error) {
				return pendingOrder(id), nil
			},
		})
		req := httptest.NewRequest(http.MethodGet, "/return/o1?attempt=3", nil)
		rec := httptest.NewRecorder()
		s.router.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200 with the still-processing page", rec.Code)
		}
		if !strings.Contains(rec.Body.String(), "o1") {
			t.Error("still-processing page does not carry the order id")
		}
	})

	t.Run("gateway outage degrades to retrying", func(t *testing.T) {
		s := newTestServer(&mockOrderUC{}, &mockReconcileUC{
			VerifyReturnFunc: func(_ context.Context, id string) (*model.Order, error) {
				return pendingOrder(id), domain.ErrGatewayUnavailable
			},
		})
		req := httptest.NewRequest(http.MethodGet, "/return/o1", nil)
		rec := httptest.NewRecorder()
		s.router.ServeHTTP(rec, req)

		if rec.Code != http.StatusSeeOther {
			t.Fatalf("status = %d, want a retry redirect on a transient failure", rec.Code)
		}
	})

	t.Run("unknown order", func(t *testing.T) {
		s := newTestServer(&mockOrderUC{}, &mockReconcileUC{
			VerifyReturnFunc: func(context.Context, string) (*model.Order, error) {
				return nil, domain.ErrNotFound
			},
		})
		req := httptest.NewRequest(http.MethodGet, "/return/nope", nil)
		rec := httptest.NewRecorder()
		s.router.ServeHTTP(rec, req)

		if rec.Code != http.StatusNotFound {
			t.Fatalf("status = %d, want 404", rec.Code)
		}
	})
}

func TestCreateOrderEndpoint(t *testing.T) {
	t.Run("creates and returns the pay URL", func(t *testing.T) {
		var gotSubject model.Subject
		s := newTestServer(&mockOrderUC{
			CreateFunc: func(_ context.Context, subject model.Subject, _, _, _ string) (*model.Order, string, error) {
				gotSubject = subject
				o := pendingOrder("o1")
				o.Subject = subject
				return o, "https://pay.example/x", nil
			},
		}, &mockReconcileUC{})

		body := `{"kind":"new_purchase","username":"alice","password":"pw","plan_code":"basic","days":30}`
		req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(body))
		rec := httptest.NewRecorder()
		s.router.ServeHTTP(rec, req)

		if rec.Code != http.StatusCreated {
			t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
		}
		if _, ok := gotSubject.(model.NewPurchase); !ok {
			t.Fatalf("subject decoded as %T", gotSubject)
		}
		var resp struct {
			PayURL string `json:"pay_url"`
		}
		_ = json.Unmarshal(rec.Body.Bytes(), &resp)
		if resp.PayURL != "https://pay.example/x" {
			t.Fatalf("pay_url = %q", resp.PayURL)
		}
	})

	t.Run("unknown kind is a 400", func(t *testing.T) {
		s := newTestServer(&mockOrderUC{}, &mockReconcileUC{})
		req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(`{"kind":"gift_card"}`))
		rec := httptest.NewRecorder()
		s.router.ServeHTTP(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("gateway outage is a 502", func(t *testing.T) {
		s := newTestServer(&mockOrderUC{
			CreateFunc: func(context.Context, model.Subject, string, string, string) (*model.Order, string, error) {
				return nil, "", domain.ErrGatewayUnavailable
			},
		}, &mockReconcileUC{})
		body := `{"kind":"renewal","account_id":"acct-1","days":30}`
		req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(body))
		rec := httptest.NewRecorder()
		s.router.ServeHTTP(rec, req)

		if rec.Code != http.StatusBadGateway {
			t.Fatalf("status = %d, want 502", rec.Code)
		}
	})
}

func TestOrderStatusEndpoint(t *testing.T) {
	t.Run("reports stored state", func(t *testing.T) {
		s := newTestServer(&mockOrderUC{
			GetFunc: func(_ context.Context, id string) (*model.Order, error) {
				return pendingOrder(id), nil
			},
		}, &mockReconcileUC{})
		req := httptest.NewRequest(http.MethodGet, "/orders/o1", nil)
		rec := httptest.NewRecorder()
		s.router.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		var v orderViewModel
		_ = json.Unmarshal(rec.Body.Bytes(), &v)
		if v.ID != "o1" || v.Status != "pending" {
			t.Fatalf("view = %+v", v)
		}
	})

	t.Run("forceReprocess runs a verification pass", func(t *testing.T) {
		verified := false
		s := newTestServer(&mockOrderUC{}, &mockReconcileUC{
			VerifyReturnFunc: func(_ context.Context, id string) (*model.Order, error) {
				verified = true
				return provisionedOrder(id), nil
			},
		})
		req := httptest.NewRequest(http.MethodGet, "/orders/o1?forceReprocess=1", nil)
		rec := httptest.NewRecorder()
		s.router.ServeHTTP(rec, req)

		if !verified {
			t.Fatal("verification pass not run")
		}
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
	})

	t.Run("forceReprocess degrades to stored state on gateway trouble", func(t *testing.T) {
		s := newTestServer(&mockOrderUC{
			GetFunc: func(_ context.Context, id string) (*model.Order, error) {
				return pendingOrder(id), nil
			},
		}, &mockReconcileUC{
			VerifyReturnFunc: func(context.Context, string) (*model.Order, error) {
				return nil, domain.ErrGatewayUnavailable
			},
		})
		req := httptest.NewRequest(http.MethodGet, "/orders/o1?forceReprocess=1", nil)
		rec := httptest.NewRecorder()
		s.router.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200 with stored state", rec.Code)
		}
	})

	t.Run("unknown order", func(t *testing.T) {
		s := newTestServer(&mockOrderUC{}, &mockReconcileUC{})
		req := httptest.NewRequest(http.MethodGet, "/orders/nope", nil)
		rec := httptest.NewRecorder()
		s.router.ServeHTTP(rec, req)

		if rec.Code != http.StatusNotFound {
			t.Fatalf("status = %d, want 404", rec.Code)
		}
	})
}

func TestAdminReprocess(t *testing.T) {
	t.Run("requires the API key", func(t *testing.T) {
		s := newTestServer(&mockOrderUC{}, &mockReconcileUC{})
		req := httptest.NewRequest(http.MethodPost, "/admin/orders/o1/reprocess", nil)
		rec := httptest.NewRecorder()
		s.router.ServeHTTP(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d, want 401 without a token", rec.Code)
		}
	})

	t.Run("rejects a wrong key", func(t *testing.T) {
		s := newTestServer(&mockOrderUC{}, &mockReconcileUC{})
		req := httptest.NewRequest(http.MethodPost, "/admin/orders/o1/reprocess", nil)
		req.Header.Set("Authorization", "Bearer wrong")
		rec := httptest.NewRecorder()
		s.router.ServeHTTP(rec, req)

		if rec.Code != http.StatusForbidden {
			t.Fatalf("status = %d, want 403", rec.Code)
		}
	})

	t.Run("replays the order", func(t *testing.T) {
		s := newTestServer(&mockOrderUC{}, &mockReconcileUC{
			ForceReprocessFunc: func(_ context.Context, id string) (*model.Order, error) {
				return provisionedOrder(id), nil
			},
		})
		req := httptest.NewRequest(http.MethodPost, "/admin/orders/o1/reprocess", nil)
		req.Header.Set("Authorization", "Bearer admin-key")
		rec := httptest.NewRecorder()
		s.router.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		var resp struct {
			Reprocessed bool `json:"reprocessed"`
		}
		_ = json.Unmarshal(rec.Body.Bytes(), &resp)
		if !resp.Reprocessed {
			t.Fatalf("response = %s", rec.Body.String())
		}
	})

	t.Run("missing payment id is a 409", func(t *testing.T) {
		s := newTestServer(&mockOrderUC{}, &mockReconcileUC{
			ForceReprocessFunc: func(context.Context, string) (*model.Order, error) {
				return nil, domain.ErrMissingPaymentID
			},
		})
		req := httptest.NewRequest(http.MethodPost, "/admin/orders/o1/reprocess", nil)
		req.Header.Set("Authorization", "Bearer admin-key")
		rec := httptest.NewRecorder()
		s.router.ServeHTTP(rec, req)

		if rec.Code != http.StatusConflict {
			t.Fatalf("status = %d, want 409", rec.Code)
		}
	})

	t.Run("provisioning failure reports without a 5xx", func(t *testing.T) {
		s := newTestServer(&mockOrderUC{}, &mockReconcileUC{
			ForceReprocessFunc: func(_ context.Context, id string) (*model.Order, error) {
				return pendingOrder(id), domain.ErrProvisioningFailed
			},
		})
		req := httptest.NewRequest(http.MethodPost, "/admin/orders/o1/reprocess", nil)
		req.Header.Set("Authorization", "Bearer admin-key")
		rec := httptest.NewRecorder()
		s.router.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200 for a recognized business failure", rec.Code)
		}
		var resp struct {
			Reprocessed bool   `json:"reprocessed"`
			Error       string `json:"error"`
		}
		_ = json.Unmarshal(rec.Body.Bytes(), &resp)
		if resp.Reprocessed || resp.Error == "" {
			t.Fatalf("response = %s", rec.Body.String())
		}
	})
}

func TestHealth(t *testing.T) {
	s := newTestServer(&mockOrderUC{}, &mockReconcileUC{})
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}
