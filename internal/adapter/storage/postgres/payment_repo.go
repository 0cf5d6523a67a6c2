package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"pesaflow/internal/core/domain"
	"pesaflow/internal/core/ports"
	"pesaflow/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const pgUniqueViolation = "23505"

// PaymentRepo implements ports.PaymentRepository.
type PaymentRepo struct {
	pool Pool
}

// NewPaymentRepo creates a new PaymentRepo.
func NewPaymentRepo(pool Pool) *PaymentRepo {
	return &PaymentRepo{pool: pool}
}

// Create inserts a new payment record. A reused merchant reference maps
// the unique violation onto PAY_003.
func (r *PaymentRepo) Create(ctx context.Context, p *domain.Payment) error {
	query := `INSERT INTO payments (id, merchant_reference, tracking_id, amount, currency, status,
		payment_method, customer_email, customer_name, customer_phone, description,
		notification_received, last_notification_payload, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	_, err := r.pool.Exec(ctx, query,
		p.ID, p.MerchantReference, p.TrackingID, p.Amount, p.Currency, p.Status,
		p.PaymentMethod, p.CustomerEmail, p.CustomerName, p.CustomerPhone, p.Description,
		p.NotificationReceived, p.LastNotificationPayload, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return apperror.ErrDuplicateReference(p.MerchantReference)
		}
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

// GetByReference fetches a payment by merchant reference. Returns nil, nil
// when no record exists.
func (r *PaymentRepo) GetByReference(ctx context.Context, merchantReference string) (*domain.Payment, error) {
	query := selectPayment + ` WHERE merchant_reference = $1`
	return r.scanPayment(r.pool.QueryRow(ctx, query, merchantReference))
}

// GetByTrackingID fetches a payment by gateway tracking id. Returns nil, nil
// when no record exists.
func (r *PaymentRepo) GetByTrackingID(ctx context.Context, trackingID string) (*domain.Payment, error) {
	query := selectPayment + ` WHERE tracking_id = $1`
	return r.scanPayment(r.pool.QueryRow(ctx, query, trackingID))
}

// SetTrackingID fills the tracking id if not yet assigned. A record whose
// tracking id is already set is left untouched.
func (r *PaymentRepo) SetTrackingID(ctx context.Context, id uuid.UUID, trackingID string) error {
	query := `UPDATE payments SET tracking_id = $1, updated_at = $2 WHERE id = $3 AND tracking_id IS NULL`

	_, err := r.pool.Exec(ctx, query, trackingID, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("set tracking id: %w", err)
	}
	return nil
}

// UpdateStatusIf is the per-record compare-and-set: the write lands only if
// the status column still equals expected. Returns false when the guard
// failed and the caller must re-read.
func (r *PaymentRepo) UpdateStatusIf(ctx context.Context, id uuid.UUID, expected domain.PaymentStatus, change ports.StatusChange) (bool, error) {
	query := `UPDATE payments SET status = $1,
		payment_method = COALESCE($2, payment_method),
		notification_received = notification_received OR $3,
		last_notification_payload = COALESCE($4, last_notification_payload),
		updated_at = $5
		WHERE id = $6 AND status = $7`

	tag, err := r.pool.Exec(ctx, query,
		change.Status, change.PaymentMethod, change.NotificationReceived,
		change.RawPayload, time.Now().UTC(), id, expected,
	)
	if err != nil {
		return false, fmt.Errorf("update payment status: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkNotified records a push notification that produced no status
// transition: audit fields only.
func (r *PaymentRepo) MarkNotified(ctx context.Context, id uuid.UUID, paymentMethod *string, rawPayload []byte) error {
	query := `UPDATE payments SET notification_received = TRUE,
		payment_method = COALESCE($1, payment_method),
		last_notification_payload = $2,
		updated_at = $3
		WHERE id = $4`

	tag, err := r.pool.Exec(ctx, query, paymentMethod, rawPayload, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("mark payment notified: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("payment not found: %s", id)
	}
	return nil
}

// List fetches payments with filtering and pagination, newest first.
func (r *PaymentRepo) List(ctx context.Context, params ports.PaymentListParams) ([]domain.Payment, int64, error) {
	var conditions []string
	var args []any
	argIdx := 1

	if params.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, *params.Status)
		argIdx++
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	// Count total
	countQuery := strings.TrimSpace(fmt.Sprintf("SELECT COUNT(*) FROM payments %s", where))
	var total int64
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count payments: %w", err)
	}

	// Fetch page
	offset := (params.Page - 1) * params.PageSize
	dataQuery := fmt.Sprintf(`%s %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		selectPayment, where, argIdx, argIdx+1)
	args = append(args, params.PageSize, offset)

	rows, err := r.pool.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list payments: %w", err)
	}
	defer rows.Close()

	var payments []domain.Payment
	for rows.Next() {
		p := domain.Payment{}
		err := rows.Scan(
			&p.ID, &p.MerchantReference, &p.TrackingID, &p.Amount, &p.Currency, &p.Status,
			&p.PaymentMethod, &p.CustomerEmail, &p.CustomerName, &p.CustomerPhone, &p.Description,
			&p.NotificationReceived, &p.LastNotificationPayload, &p.CreatedAt, &p.UpdatedAt,
		)
		if err != nil {
			return nil, 0, fmt.Errorf("scan payment row: %w", err)
		}
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate payment rows: %w", err)
	}
	return payments, total, nil
}

const selectPayment = `SELECT id, merchant_reference, tracking_id, amount, currency, status,
	payment_method, customer_email, customer_name, customer_phone, description,
	notification_received, last_notification_payload, created_at, updated_at
	FROM payments`

// scanPayment is a helper to scan a single row into a Payment.
func (r *PaymentRepo) scanPayment(row pgx.Row) (*domain.Payment, error) {
	p := &domain.Payment{}
	err := row.Scan(
		&p.ID, &p.MerchantReference, &p.TrackingID, &p.Amount, &p.Currency, &p.Status,
		&p.PaymentMethod, &p.CustomerEmail, &p.CustomerName, &p.CustomerPhone, &p.Description,
		&p.NotificationReceived, &p.LastNotificationPayload, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan payment: %w", err)
	}
	return p, nil
}
