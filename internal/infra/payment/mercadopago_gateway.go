package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"hotspot-billing/internal/config"
	"hotspot-billing/internal/domain"
	"hotspot-billing/internal/domain/ports/adapter"
	"hotspot-billing/internal/infra/metrics"
)

const defaultBaseURL = "https://api.mercadopago.com"

// Compile-time check
var _ adapter.PaymentGateway = (*MercadoPagoGateway)(nil)

// MercadoPagoGateway implements adapter.PaymentGateway against the Mercado
// Pago REST API. Checkout preferences carry our order id as
// external_reference, which is what lets the sweep and the return redirect
// reconcile an order without a webhook.
type MercadoPagoGateway struct {
	accessToken string
	baseURL     string
	client      *http.Client
	log         *zerolog.Logger
}

func NewMercadoPagoGateway(cfg config.GatewayConfig, logger *zerolog.Logger) *MercadoPagoGateway {
	base := cfg.BaseURL
	if base == "" {
		base = defaultBaseURL
	}
	gwLog := logger.With().Str("component", "MercadoPagoGateway").Logger()
	return &MercadoPagoGateway{
		accessToken: cfg.AccessToken,
		baseURL:     base,
		client:      &http.Client{Timeout: cfg.Timeout},
		log:         &gwLog,
	}
}

func (g *MercadoPagoGateway) Name() string { return "mercadopago" }

type preferenceItem struct {
	Title    string `json:"title"`
	Quantity int    `json:"quantity"`
	// json.Number keeps the exact decimal amount on the wire; a float64
	// here would re-round what the price resolver already rounded.
	UnitPrice json.Number `json:"unit_price"`
}

type preferenceRequest struct {
	Items             []preferenceItem `json:"items"`
	ExternalReference string           `json:"external_reference"`
	Payer             struct {
		Email string `json:"email,omitempty"`
		Name  string `json:"name,omitempty"`
	} `json:"payer"`
	BackURLs struct {
		Success string `json:"success,omitempty"`
		Failure string `json:"failure,omitempty"`
		Pending string `json:"pending,omitempty"`
	} `json:"back_urls"`
	AutoReturn string `json:"auto_return,omitempty"`
}

type preferenceResponse struct {
	ID        string `json:"id"`
	InitPoint string `json:"init_point"`
}

type paymentResponse struct {
	ID                json.Number     `json:"id"`
	Status            string          `json:"status"`
	ExternalReference string          `json:"external_reference"`
	TransactionAmount decimal.Decimal `json:"transaction_amount"`
	DateApproved      string          `json:"date_approved"`
}

type paymentSearchResponse struct {
	Results []paymentResponse `json:"results"`
}

// webhookNotification is the body Mercado Pago posts to our webhook
// endpoint. Only type=="payment" notifications matter; everything else
// (plan, invoice, test...) is acknowledged and dropped.
type webhookNotification struct {
	Type string `json:"type"`
	Data struct {
		ID json.Number `json:"id"`
	} `json:"data"`
	// Some notification channels inline the payment outcome.
	Status            string `json:"status,omitempty"`
	ExternalReference string `json:"external_reference,omitempty"`
}

func (g *MercadoPagoGateway) CreatePaymentLink(ctx context.Context, orderID, description string, amount decimal.Decimal, payerEmail, payerName string, back adapter.ReturnURLs) (*adapter.PaymentLink, error) {
	reqBody := preferenceRequest{
		Items: []preferenceItem{{
			Title:     description,
			Quantity:  1,
			UnitPrice: json.Number(amount.String()),
		}},
		ExternalReference: orderID,
		AutoReturn:        "approved",
	}
	reqBody.Payer.Email = payerEmail
	reqBody.Payer.Name = payerName
	reqBody.BackURLs.Success = back.Success
	reqBody.BackURLs.Failure = back.Failure
	reqBody.BackURLs.Pending = back.Pending

	start := time.Now()
	var resp preferenceResponse
	err := g.doJSON(ctx, http.MethodPost, "/checkout/preferences", reqBody, &resp)
	g.observe("create_link", err, start)
	if err != nil {
		return nil, err
	}
	if resp.ID == "" || resp.InitPoint == "" {
		return nil, fmt.Errorf("%w: preference response missing id or init_point", domain.ErrGatewayUnavailable)
	}
	return &adapter.PaymentLink{PreferenceID: resp.ID, PayURL: resp.InitPoint}, nil
}

func (g *MercadoPagoGateway) FetchPaymentByID(ctx context.Context, paymentID string) (*adapter.Payment, error) {
	start := time.Now()
	var resp paymentResponse
	err := g.doJSON(ctx, http.MethodGet, "/v1/payments/"+url.PathEscape(paymentID), nil, &resp)
	g.observe("fetch_by_id", err, start)
	if err != nil {
		return nil, err
	}
	return resp.toPayment(), nil
}

func (g *MercadoPagoGateway) FetchPaymentByExternalReference(ctx context.Context, orderID string) (*adapter.Payment, error) {
	q := url.Values{}
	q.Set("external_reference", orderID)
	q.Set("sort", "date_created")
	q.Set("criteria", "desc")

	start := time.Now()
	var resp paymentSearchResponse
	err := g.doJSON(ctx, http.MethodGet, "/v1/payments/search?"+q.Encode(), nil, &resp)
	g.observe("fetch_by_ref", err, start)
	if err != nil {
		return nil, err
	}
	if len(resp.Results) == 0 {
		return nil, nil
	}
	return resp.Results[0].toPayment(), nil
}

func (g *MercadoPagoGateway) ParseWebhook(raw []byte) (*adapter.WebhookEvent, error) {
	var n webhookNotification
	if err := json.Unmarshal(raw, &n); err != nil {
		metrics.IncWebhookEvent("malformed")
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidWebhookPayload, err)
	}
	if n.Type != "payment" {
		metrics.IncWebhookEvent("other")
		return &adapter.WebhookEvent{Recognized: false}, nil
	}
	metrics.IncWebhookEvent("payment")
	return &adapter.WebhookEvent{
		Recognized:       true,
		OrderID:          n.ExternalReference,
		GatewayPaymentID: n.Data.ID.String(),
		Status:           mapStatus(n.Status),
	}, nil
}

func (p *paymentResponse) toPayment() *adapter.Payment {
	out := &adapter.Payment{
		ID:                p.ID.String(),
		ExternalReference: p.ExternalReference,
		Status:            mapStatus(p.Status),
		Amount:            p.TransactionAmount,
	}
	if t, err := time.Parse(time.RFC3339, p.DateApproved); err == nil {
		out.ApprovedAt = t
	}
	return out
}

// mapStatus folds the gateway's status vocabulary into ours. Anything not
// explicitly terminal stays pending so we keep reconciling.
func mapStatus(s string) adapter.PaymentStatus {
	switch s {
	case "approved":
		return adapter.PaymentStatusApproved
	case "rejected":
		return adapter.PaymentStatusRejected
	case "cancelled", "refunded", "charged_back":
		return adapter.PaymentStatusCancelled
	default:
		return adapter.PaymentStatusPending
	}
}

func (g *MercadoPagoGateway) doJSON(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+g.accessToken)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.client.Do(req)
	if err != nil {
		// Transport errors and timeouts are transient; the caller must not
		// move any order because of them.
		return fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read response: %v", domain.ErrGatewayUnavailable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		g.log.Warn().Int("status", resp.StatusCode).Str("path", path).Msg("gateway returned non-2xx")
		return fmt.Errorf("%w: status %d", domain.ErrGatewayUnavailable, resp.StatusCode)
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("%w: unmarshal response: %v", domain.ErrGatewayUnavailable, err)
	}
	return nil
}

func (g *MercadoPagoGateway) observe(op string, err error, start time.Time) {
	result := "ok"
	switch {
	case errors.Is(err, domain.ErrGatewayUnavailable):
		result = "unavailable"
	case err != nil:
		result = "error"
	}
	metrics.ObserveGatewayCall(op, result, time.Since(start))
}
