package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/shopspring/decimal"

	"hotspot-billing/internal/domain"
	"hotspot-billing/internal/domain/model"
	"hotspot-billing/internal/domain/ports/repository"
)

var _ repository.OrderRepository = (*orderRepo)(nil)

type orderRepo struct{ pool *pgxpool.Pool }

func NewOrderRepo(pool *pgxpool.Pool) *orderRepo {
	return &orderRepo{pool: pool}
}

const orderColumns = `id, subject, amount::text, status, gateway_payment_id, provisioning, payer_email, payer_name, created_at, updated_at`

func (r *orderRepo) Save(ctx context.Context, tx repository.Tx, o *model.Order) error {
	subject, err := model.EncodeSubject(o.Subject)
	if err != nil {
		return err
	}
	provisioning, err := encodeProvisioning(o.Provisioning)
	if err != nil {
		return err
	}
	const q = `
INSERT INTO orders (
  id, subject, amount, status, gateway_payment_id, provisioning, payer_email, payer_name, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10);`

	_, err = execSQL(ctx, r.pool, tx, q, o.ID, subject, o.Amount.String(), o.Status, o.GatewayPaymentID, provisioning, o.PayerEmail, o.PayerName, o.CreatedAt, o.UpdatedAt)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return err
		}
		return domain.ErrOperationFailed
	}
	return nil
}

func (r *orderRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Order, error) {
	q := `SELECT ` + orderColumns + ` FROM orders WHERE id=$1;`
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}
	return scanOrder(row)
}

func (r *orderRepo) FindByGatewayPaymentID(ctx context.Context, tx repository.Tx, paymentID string) (*model.Order, error) {
	q := `SELECT ` + orderColumns + ` FROM orders WHERE gateway_payment_id=$1 LIMIT 1;`
	row, err := pickRow(ctx, r.pool, tx, q, paymentID)
	if err != nil {
		return nil, err
	}
	return scanOrder(row)
}

// TransitionStatus performs the guarded status change. The WHERE clause
// encodes the transition table, so a lost race shows up as zero affected
// rows rather than a double mutation.
func (r *orderRepo) TransitionStatus(ctx context.Context, tx repository.Tx, id string, newStatus model.OrderStatus, gatewayPaymentID string) (bool, error) {
	var q string
	var args []interface{}
	switch newStatus {
	case model.OrderStatusApproved:
		if gatewayPaymentID == "" {
			return false, domain.ErrMissingPaymentID
		}
		q = `UPDATE orders SET status='approved', gateway_payment_id=$2, updated_at=NOW()
WHERE id=$1 AND status IN ('pending','rejected');`
		args = []interface{}{id, gatewayPaymentID}
	case model.OrderStatusRejected:
		q = `UPDATE orders SET status='rejected', updated_at=NOW()
WHERE id=$1 AND status='pending';`
		args = []interface{}{id}
	case model.OrderStatusCancelled:
		q = `UPDATE orders SET status='cancelled', updated_at=NOW()
WHERE id=$1 AND status='pending';`
		args = []interface{}{id}
	case model.OrderStatusPending:
		// administrative override: provisioning failed after approval
		q = `UPDATE orders SET status='pending', updated_at=NOW()
WHERE id=$1 AND status='approved';`
		args = []interface{}{id}
	default:
		return false, domain.ErrInvalidTransition
	}

	tag, err := execSQL(ctx, r.pool, tx, q, args...)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return false, err
		}
		return false, domain.ErrOperationFailed
	}
	return tag.RowsAffected() == 1, nil
}

func (r *orderRepo) RecordProvisioning(ctx context.Context, tx repository.Tx, id string, result *model.ProvisioningResult) (bool, error) {
	if result == nil {
		return false, domain.ErrInvalidArgument
	}
	payload, err := encodeProvisioning(result)
	if err != nil {
		return false, err
	}
	const q = `UPDATE orders SET provisioning=$2, updated_at=NOW()
WHERE id=$1 AND provisioning IS NULL;`
	tag, err := execSQL(ctx, r.pool, tx, q, id, payload)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return false, err
		}
		return false, domain.ErrOperationFailed
	}
	return tag.RowsAffected() == 1, nil
}

func (r *orderRepo) ListUnresolvedBetween(ctx context.Context, tx repository.Tx, updatedBefore, updatedAfter time.Time, limit int) ([]*model.Order, error) {
	const q = `SELECT ` + orderColumns + ` FROM orders
WHERE status IN ('pending','rejected') AND updated_at < $1 AND updated_at > $2
ORDER BY updated_at ASC
LIMIT $3;`
	rows, err := pickRows(ctx, r.pool, tx, q, updatedBefore, updatedAfter, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	if rows.Err() != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return out, nil
}

func scanOrder(row pgx.Row) (*model.Order, error) {
	var (
		o               model.Order
		subjectRaw      []byte
		provisioningRaw []byte
		amountText      string
		status          string
	)
	err := row.Scan(&o.ID, &subjectRaw, &amountText, &status, &o.GatewayPaymentID, &provisioningRaw, &o.PayerEmail, &o.PayerName, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	o.Status = model.OrderStatus(status)
	if o.Subject, err = model.DecodeSubject(subjectRaw); err != nil {
		return nil, err
	}
	if o.Amount, err = decimal.NewFromString(amountText); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	if len(provisioningRaw) > 0 {
		var pr model.ProvisioningResult
		if err := json.Unmarshal(provisioningRaw, &pr); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		o.Provisioning = &pr
	}
	return &o, nil
}

// encodeProvisioning returns nil for a nil result so the column stays NULL.
func encodeProvisioning(pr *model.ProvisioningResult) ([]byte, error) {
	if pr == nil {
		return nil, nil
	}
	b, err := json.Marshal(pr)
	if err != nil {
		return nil, domain.ErrInvalidArgument
	}
	return b, nil
}
