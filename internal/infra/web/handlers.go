package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"hotspot-billing/internal/domain"
	"hotspot-billing/internal/domain/model"
	"hotspot-billing/internal/infra/logging"
)

const maxReturnAttempts = 3

// handleWebhook receives gateway notifications. It always answers 200 so the
// gateway stops retrying; recognized business failures are logged, not
// surfaced. A 5xx here only happens on a panic, via the Recoverer middleware.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	l := logging.With(r.Context(), s.log)
	raw, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		l.Warn().Err(err).Msg("webhook body read failed")
		w.WriteHeader(http.StatusOK)
		return
	}
	if err := s.reconcile.HandleWebhook(r.Context(), raw); err != nil {
		l.Error().Err(err).Msg("webhook processing failed")
	}
	w.WriteHeader(http.StatusOK)
}

// handleReturn serves the page the gateway redirects the buyer to after
// checkout. The first hits usually race the webhook, so when the order is
// still pending the page retries itself a few times before telling the buyer
// to check back later.
func (s *Server) handleReturn(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")
	ctx := logging.WithOrderID(r.Context(), orderID)
	l := logging.With(ctx, s.log)
	attempt, _ := strconv.Atoi(r.URL.Query().Get("attempt"))

	o, err := s.reconcile.VerifyReturn(ctx, orderID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			http.Error(w, "order not found", http.StatusNotFound)
			return
		}
		l.Error().Err(err).Msg("return verification failed")
		// fall through: render whatever state we have, or the retry page
	}

	if o != nil && (o.Provisioning != nil || o.Status == model.OrderStatusRejected || o.Status == model.OrderStatusCancelled) {
		s.renderResult(w, o)
		return
	}

	if attempt < maxReturnAttempts {
		time.Sleep(s.retryDelay)
		next := fmt.Sprintf("/return/%s?attempt=%d", url.PathEscape(orderID), attempt+1)
		http.Redirect(w, r, next, http.StatusSeeOther)
		return
	}
	s.renderPending(w, orderID)
}

type createOrderRequest struct {
	Kind        string `json:"kind"`
	Username    string `json:"username"`
	Password    string `json:"password"`
	PlanCode    string `json:"plan_code"`
	Days        int    `json:"days"`
	DeviceLimit int    `json:"device_limit"`
	AccountID   string `json:"account_id"`
	PayerEmail  string `json:"payer_email"`
	PayerName   string `json:"payer_name"`
	Coupon      string `json:"coupon"`
}

func (req createOrderRequest) subject() (model.Subject, error) {
	switch model.SubjectKind(req.Kind) {
	case model.SubjectNewPurchase:
		return model.NewPurchase{Username: req.Username, Password: req.Password, PlanCode: req.PlanCode, Days: req.Days}, nil
	case model.SubjectResellerPurchase:
		return model.ResellerPurchase{Username: req.Username, Password: req.Password, PlanCode: req.PlanCode, Days: req.Days, DeviceLimit: req.DeviceLimit}, nil
	case model.SubjectRenewal:
		return model.Renewal{AccountID: req.AccountID, Username: req.Username, Days: req.Days}, nil
	case model.SubjectResellerRenewal:
		return model.ResellerRenewal{AccountID: req.AccountID, Username: req.Username, Days: req.Days, DeviceLimit: req.DeviceLimit}, nil
	default:
		return nil, fmt.Errorf("%w: unknown subject kind %q", domain.ErrInvalidArgument, req.Kind)
	}
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	l := logging.With(r.Context(), s.log)
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	subject, err := req.subject()
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	o, payURL, err := s.orders.Create(r.Context(), subject, req.PayerEmail, req.PayerName, req.Coupon)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidArgument):
			writeJSONError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, domain.ErrGatewayUnavailable):
			writeJSONError(w, http.StatusBadGateway, "payment gateway unavailable")
		default:
			l.Error().Err(err).Msg("order creation failed")
			writeJSONError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"order":   orderView(o),
		"pay_url": payURL,
	})
}

// handleOrderStatus reports the current order state. With ?forceReprocess=1
// it first runs a reconciliation pass against the gateway; gateway trouble
// degrades to reporting the stored state.
func (s *Server) handleOrderStatus(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")
	ctx := logging.WithOrderID(r.Context(), orderID)
	l := logging.With(ctx, s.log)

	var o *model.Order
	var err error
	if force, _ := strconv.ParseBool(r.URL.Query().Get("forceReprocess")); force {
		o, err = s.reconcile.VerifyReturn(ctx, orderID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			l.Warn().Err(err).Msg("forced reprocess failed, serving stored state")
			o, err = s.orders.Get(ctx, orderID)
		}
	} else {
		o, err = s.orders.Get(ctx, orderID)
	}
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeJSONError(w, http.StatusNotFound, "order not found")
			return
		}
		l.Error().Err(err).Msg("order status lookup failed")
		writeJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, orderView(o))
}

// handleReprocess is the operator escape hatch: re-run reconciliation for an
// order using its stored gateway payment id. Business-level failures come
// back as 200 with the current order state so the operator sees where the
// order actually landed.
func (s *Server) handleReprocess(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")
	ctx := logging.WithOrderID(r.Context(), orderID)
	l := logging.With(ctx, s.log)

	o, err := s.reconcile.ForceReprocess(ctx, orderID)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			writeJSONError(w, http.StatusNotFound, "order not found")
			return
		case errors.Is(err, domain.ErrMissingPaymentID):
			writeJSONError(w, http.StatusConflict, "order has no gateway payment id yet")
			return
		}
		l.Error().Err(err).Msg("admin reprocess failed")
		resp := map[string]any{"reprocessed": false, "error": err.Error()}
		if o != nil {
			resp["order"] = orderView(o)
		}
		writeJSON(w, http.StatusOK, resp)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"reprocessed": true,
		"order":       orderView(o),
	})
}

type orderViewModel struct {
	ID               string         `json:"id"`
	Kind             string         `json:"kind"`
	Status           string         `json:"status"`
	Amount           string         `json:"amount"`
	GatewayPaymentID string         `json:"gateway_payment_id,omitempty"`
	Provisioning     *provisionView `json:"provisioning,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

type provisionView struct {
	AccountID string    `json:"account_id"`
	Username  string    `json:"username"`
	DaysAdded int       `json:"days_added"`
	ExpiresAt time.Time `json:"expires_at"`
}

func orderView(o *model.Order) orderViewModel {
	v := orderViewModel{
		ID:               o.ID,
		Kind:             string(o.Subject.Kind()),
		Status:           string(o.Status),
		Amount:           o.Amount.String(),
		GatewayPaymentID: o.GatewayPaymentID,
		CreatedAt:        o.CreatedAt,
		UpdatedAt:        o.UpdatedAt,
	}
	if o.Provisioning != nil {
		v.Provisioning = &provisionView{
			AccountID: o.Provisioning.AccountID,
			Username:  o.Provisioning.Username,
			DaysAdded: o.Provisioning.DaysAdded,
			ExpiresAt: o.Provisioning.ExpiresAt,
		}
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

var resultTmpl = template.Must(template.New("result").Parse(`<!DOCTYPE html>
<html><head><title>Order {{.ID}}</title></head><body>
<h1>Order {{.ID}}</h1>
<p>Status: <strong>{{.Status}}</strong></p>
{{if .Provisioning}}
<ul>
<li>Type: {{.Kind}}</li>
<li>Username: {{.Provisioning.Username}}</li>
{{if .Password}}<li>Password: {{.Password}}</li>{{end}}
<li>Days added: {{.Provisioning.DaysAdded}}</li>
<li>Expires: {{.Provisioning.ExpiresAt.Format "2006-01-02 15:04"}}</li>
<li>Amount paid: {{.Amount}}</li>
</ul>
{{else}}
<p>This payment was not completed. If you were charged, contact support with your order id.</p>
{{end}}
</body></html>`))

var pendingTmpl = template.Must(template.New("pending").Parse(`<!DOCTYPE html>
<html><head><title>Order {{.}}</title></head><body>
<h1>Payment received?</h1>
<p>We have not seen a confirmation for order {{.}} yet. If you completed the
payment, it will be delivered automatically within a few minutes. Keep your
order id to check the status later.</p>
</body></html>`))

type resultPage struct {
	orderViewModel
	Password string
}

func (s *Server) renderResult(w http.ResponseWriter, o *model.Order) {
	page := resultPage{orderViewModel: orderView(o)}
	if o.Provisioning != nil {
		page.Password = o.Provisioning.Password
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := resultTmpl.Execute(w, page); err != nil {
		s.log.Error().Err(err).Msg("result page render failed")
	}
}

func (s *Server) renderPending(w http.ResponseWriter, orderID string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := pendingTmpl.Execute(w, orderID); err != nil {
		s.log.Error().Err(err).Msg("pending page render failed")
	}
}
