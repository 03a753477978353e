package provision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"hotspot-billing/internal/config"
	"hotspot-billing/internal/domain"
	"hotspot-billing/internal/domain/model"
	"hotspot-billing/internal/domain/ports/adapter"
)

// Compile-time check
var _ adapter.Provisioner = (*Client)(nil)

// Client implements adapter.Provisioner against the account-manager REST
// API. Create requests carry the order id as client_ref, which the API uses
// as an idempotency key: replaying a create after a crash returns the
// already-created account instead of duplicating it.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
	log     *zerolog.Logger
}

func NewClient(cfg config.ProvisionerConfig, logger *zerolog.Logger) *Client {
	provLog := logger.With().Str("component", "ProvisionClient").Logger()
	return &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: cfg.Timeout},
		log:     &provLog,
	}
}

type accountPayload struct {
	ID          string    `json:"id"`
	Username    string    `json:"username"`
	PlanCode    string    `json:"plan_code"`
	DeviceLimit int       `json:"device_limit"`
	Reseller    bool      `json:"reseller"`
	ExpiresAt   time.Time `json:"expires_at"`
	Disabled    bool      `json:"disabled"`
}

func (p *accountPayload) toModel() *model.Account {
	return &model.Account{
		ID:          p.ID,
		Username:    p.Username,
		PlanCode:    p.PlanCode,
		DeviceLimit: p.DeviceLimit,
		Reseller:    p.Reseller,
		ExpiresAt:   p.ExpiresAt,
		Disabled:    p.Disabled,
	}
}

func (c *Client) CreateAccount(ctx context.Context, spec model.AccountSpec) (*model.Account, error) {
	body := map[string]interface{}{
		"username":     spec.Username,
		"password":     spec.Password,
		"plan_code":    spec.PlanCode,
		"days":         spec.Days,
		"device_limit": spec.DeviceLimit,
		"reseller":     spec.Reseller,
		"client_ref":   spec.ClientRef,
	}
	var resp accountPayload
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/accounts", body, &resp); err != nil {
		return nil, err
	}
	return resp.toModel(), nil
}

func (c *Client) RenewAccount(ctx context.Context, accountID string, days int) (*model.Account, error) {
	body := map[string]interface{}{"days": days}
	var resp accountPayload
	path := "/api/v1/accounts/" + url.PathEscape(accountID) + "/renew"
	if err := c.doJSON(ctx, http.MethodPost, path, body, &resp); err != nil {
		return nil, err
	}
	return resp.toModel(), nil
}

func (c *Client) UpdateAccount(ctx context.Context, accountID string, update model.AccountUpdate) (*model.Account, error) {
	body := map[string]interface{}{}
	if update.PlanCode != nil {
		body["plan_code"] = *update.PlanCode
	}
	if update.DeviceLimit != nil {
		body["device_limit"] = *update.DeviceLimit
	}
	if update.Disabled != nil {
		body["disabled"] = *update.Disabled
	}
	var resp accountPayload
	path := "/api/v1/accounts/" + url.PathEscape(accountID)
	if err := c.doJSON(ctx, http.MethodPatch, path, body, &resp); err != nil {
		return nil, err
	}
	return resp.toModel(), nil
}

func (c *Client) FindAccountByUsername(ctx context.Context, username string) (*model.Account, error) {
	q := url.Values{}
	q.Set("username", username)
	var resp struct {
		Accounts []accountPayload `json:"accounts"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/accounts?"+q.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	if len(resp.Accounts) == 0 {
		return nil, nil
	}
	return resp.Accounts[0].toModel(), nil
}

func (c *Client) ListAccounts(ctx context.Context) ([]*model.Account, error) {
	var resp struct {
		Accounts []accountPayload `json:"accounts"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/accounts", nil, &resp); err != nil {
		return nil, err
	}
	out := make([]*model.Account, 0, len(resp.Accounts))
	for i := range resp.Accounts {
		out = append(out, resp.Accounts[i].toModel())
	}
	return out, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("X-Api-Key", c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrProvisioningFailed, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read response: %v", domain.ErrProvisioningFailed, err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return &adapter.RateLimitedError{RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		c.log.Warn().Int("status", resp.StatusCode).Str("path", path).Msg("account manager returned non-2xx")
		return fmt.Errorf("%w: status %d: %s", domain.ErrProvisioningFailed, resp.StatusCode, truncate(respBody, 200))
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("%w: unmarshal response: %v", domain.ErrProvisioningFailed, err)
		}
	}
	return nil
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(header); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
